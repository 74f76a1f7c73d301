package leveldb

import (
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/xuperchain/capkernel/lib/storage/kvdb"
)

func init() {
	kvdb.Register(kvdb.KVEngineTypeLDB, NewKVDBInstance)
}

// LDBDatabase define data structure of storage
type LDBDatabase struct {
	fn string
	db *leveldb.DB
}

// NewKVDBInstance opens a leveldb instance described by param
func NewKVDBInstance(param *kvdb.KVParameter) (kvdb.Database, error) {
	baseDB := new(LDBDatabase)
	options := map[string]interface{}{
		"cache":  param.GetMemCacheSize(),
		"fds":    param.GetFileHandlersCacheSize(),
		"memory": param.IsMemory(),
	}
	if err := baseDB.Open(param.GetDBPath(), options); err != nil {
		return nil, err
	}
	return baseDB, nil
}

func setDefaultOptions(options map[string]interface{}) {
	if cache, ok := options["cache"].(int); !ok || cache < 16 {
		options["cache"] = 16
	}
	if fds, ok := options["fds"].(int); !ok || fds < 16 {
		options["fds"] = 16
	}
}

// Open opens an instance of LDB with parameters (ldb path and other options)
func (ldb *LDBDatabase) Open(path string, options map[string]interface{}) error {
	setDefaultOptions(options)
	cache := options["cache"].(int)
	fds := options["fds"].(int)
	ldbOpts := &opt.Options{
		OpenFilesCacheCapacity: fds,
		BlockCacheCapacity:     cache / 2 * opt.MiB,
		WriteBuffer:            cache / 4 * opt.MiB,
		Filter:                 filter.NewBloomFilter(10),
	}

	var (
		db  *leveldb.DB
		err error
	)
	if memory, _ := options["memory"].(bool); memory {
		db, err = leveldb.Open(storage.NewMemStorage(), ldbOpts)
	} else {
		db, err = leveldb.OpenFile(path, ldbOpts)
	}
	if _, corrupted := err.(*errors.ErrCorrupted); corrupted {
		return err
	}
	if err != nil {
		return err
	}
	ldb.fn = path
	ldb.db = db
	return nil
}

// Path returns the path to the database directory.
func (ldb *LDBDatabase) Path() string {
	return ldb.fn
}

// Put puts the given key / value to the queue
func (ldb *LDBDatabase) Put(key []byte, value []byte) error {
	return ldb.db.Put(key, value, nil)
}

// Has if the given key exists
func (ldb *LDBDatabase) Has(key []byte) (bool, error) {
	return ldb.db.Has(key, nil)
}

// Get returns the given key if it's present.
func (ldb *LDBDatabase) Get(key []byte) ([]byte, error) {
	dat, err := ldb.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, kvdb.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return dat, nil
}

// Delete deletes the key from the queue and database
func (ldb *LDBDatabase) Delete(key []byte) error {
	return ldb.db.Delete(key, nil)
}

// Close close database instance
func (ldb *LDBDatabase) Close() {
	ldb.db.Close()
}

// NewIteratorWithPrefix returns an iterator over keys sharing prefix
func (ldb *LDBDatabase) NewIteratorWithPrefix(prefix []byte) kvdb.Iterator {
	return &ldbIterator{it: ldb.db.NewIterator(util.BytesPrefix(prefix), nil)}
}

// NewBatch returns a batch applied atomically on Write
func (ldb *LDBDatabase) NewBatch() kvdb.Batch {
	return &LdbBatch{db: ldb.db, b: new(leveldb.Batch)}
}

// LdbBatch define batch data structure
type LdbBatch struct {
	db   *leveldb.DB
	b    *leveldb.Batch
	size int
}

// Put put a key-value pair into batch
func (b *LdbBatch) Put(key, value []byte) error {
	b.b.Put(key, value)
	b.size += len(value)
	return nil
}

// Delete delete a key from batch
func (b *LdbBatch) Delete(key []byte) error {
	b.b.Delete(key)
	b.size += len(key)
	return nil
}

// Write batch write
func (b *LdbBatch) Write() error {
	return b.db.Write(b.b, nil)
}

// ValueSize return the size of values in batch
func (b *LdbBatch) ValueSize() int {
	return b.size
}

// Reset reset batch
func (b *LdbBatch) Reset() {
	b.b.Reset()
	b.size = 0
}

type ldbIterator struct {
	it iterator.Iterator
}

func (i *ldbIterator) Key() []byte   { return i.it.Key() }
func (i *ldbIterator) Value() []byte { return i.it.Value() }
func (i *ldbIterator) Next() bool    { return i.it.Next() }
func (i *ldbIterator) Error() error  { return i.it.Error() }
func (i *ldbIterator) Release()      { i.it.Release() }
