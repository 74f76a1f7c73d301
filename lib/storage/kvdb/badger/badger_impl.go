package badger

import (
	"github.com/dgraph-io/badger/v3"

	"github.com/xuperchain/capkernel/lib/storage/kvdb"
)

func init() {
	kvdb.Register(kvdb.KVEngineTypeBadger, NewKVDBInstance)
}

// BadgerDatabase implements kvdb.Database on badger
type BadgerDatabase struct {
	path string
	db   *badger.DB
}

// NewKVDBInstance opens a badger instance described by param
func NewKVDBInstance(param *kvdb.KVParameter) (kvdb.Database, error) {
	bdb := new(BadgerDatabase)
	options := map[string]interface{}{
		"memory": param.IsMemory(),
		"cache":  param.GetMemCacheSize(),
	}
	if err := bdb.Open(param.GetDBPath(), options); err != nil {
		return nil, err
	}
	return bdb, nil
}

func (bdb *BadgerDatabase) Open(path string, options map[string]interface{}) error {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if memory, _ := options["memory"].(bool); memory {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}
	if cache, ok := options["cache"].(int); ok && cache > 0 {
		opts = opts.WithBlockCacheSize(int64(cache) << 20)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return err
	}
	bdb.path = path
	bdb.db = db
	return nil
}

func (bdb *BadgerDatabase) Put(key []byte, value []byte) error {
	return bdb.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

func (bdb *BadgerDatabase) Get(key []byte) ([]byte, error) {
	var value []byte
	err := bdb.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, kvdb.ErrNotFound
	}
	return value, err
}

func (bdb *BadgerDatabase) Has(key []byte) (bool, error) {
	_, err := bdb.Get(key)
	if err == kvdb.ErrNotFound {
		return false, nil
	}
	return err == nil, err
}

func (bdb *BadgerDatabase) Delete(key []byte) error {
	return bdb.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

func (bdb *BadgerDatabase) Close() {
	bdb.db.Close()
}

// NewIteratorWithPrefix snapshots the matching pairs in one read transaction.
func (bdb *BadgerDatabase) NewIteratorWithPrefix(prefix []byte) kvdb.Iterator {
	it := &sliceIterator{pos: -1}
	it.err = bdb.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		iter := txn.NewIterator(opts)
		defer iter.Close()
		for iter.Seek(prefix); iter.ValidForPrefix(prefix); iter.Next() {
			item := iter.Item()
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			it.keys = append(it.keys, item.KeyCopy(nil))
			it.values = append(it.values, v)
		}
		return nil
	})
	return it
}

func (bdb *BadgerDatabase) NewBatch() kvdb.Batch {
	return &badgerBatch{db: bdb.db}
}

type batchOp struct {
	key   []byte
	value []byte
	del   bool
}

// badgerBatch applies its ops in a single update transaction
type badgerBatch struct {
	db   *badger.DB
	ops  []batchOp
	size int
}

func (b *badgerBatch) Put(key, value []byte) error {
	b.ops = append(b.ops, batchOp{key: append([]byte(nil), key...), value: append([]byte(nil), value...)})
	b.size += len(value)
	return nil
}

func (b *badgerBatch) Delete(key []byte) error {
	b.ops = append(b.ops, batchOp{key: append([]byte(nil), key...), del: true})
	b.size += len(key)
	return nil
}

func (b *badgerBatch) Write() error {
	return b.db.Update(func(txn *badger.Txn) error {
		for _, op := range b.ops {
			var err error
			if op.del {
				err = txn.Delete(op.key)
			} else {
				err = txn.Set(op.key, op.value)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *badgerBatch) ValueSize() int {
	return b.size
}

func (b *badgerBatch) Reset() {
	b.ops = b.ops[:0]
	b.size = 0
}

type sliceIterator struct {
	keys   [][]byte
	values [][]byte
	pos    int
	err    error
}

func (i *sliceIterator) Next() bool {
	if i.err != nil || i.pos+1 >= len(i.keys) {
		return false
	}
	i.pos++
	return true
}

func (i *sliceIterator) Key() []byte {
	if i.pos < 0 || i.pos >= len(i.keys) {
		return nil
	}
	return i.keys[i.pos]
}

func (i *sliceIterator) Value() []byte {
	if i.pos < 0 || i.pos >= len(i.values) {
		return nil
	}
	return i.values[i.pos]
}

func (i *sliceIterator) Error() error { return i.err }

func (i *sliceIterator) Release() {
	i.keys, i.values = nil, nil
}
