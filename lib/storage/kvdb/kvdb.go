package kvdb

import "errors"

// ErrNotFound is returned by Get when the key is absent
var ErrNotFound = errors.New("kvdb: not found")

// Database is the byte-oriented storage the kernel persists its state in.
type Database interface {
	Open(path string, options map[string]interface{}) error
	Put(key []byte, value []byte) error
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	Delete(key []byte) error
	Close()
	NewBatch() Batch
	NewIteratorWithPrefix(prefix []byte) Iterator
}

// Batch collects writes that are applied atomically by Write.
type Batch interface {
	ValueSize() int
	Write() error
	Reset()
	Put(key []byte, value []byte) error
	Delete(key []byte) error
}

// Iterator walks keys in ascending order.
type Iterator interface {
	Key() []byte
	Value() []byte
	Next() bool
	Error() error
	Release()
}
