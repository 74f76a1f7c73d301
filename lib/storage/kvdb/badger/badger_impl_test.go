package badger

import (
	"bytes"
	"sort"
	"testing"

	"github.com/xuperchain/capkernel/lib/storage/kvdb"
)

func makeDB(t *testing.T) kvdb.Database {
	db, err := kvdb.CreateKVInstance(&kvdb.KVParameter{
		KVEngineType: kvdb.KVEngineTypeBadger,
		StorageType:  kvdb.StorageTypeMemory,
	})
	if err != nil {
		t.Fatalf("create kv instance error: %v", err)
	}
	return db
}

func TestBadgerGetPutDelete(t *testing.T) {
	db := makeDB(t)
	defer db.Close()

	if _, err := db.Get([]byte("missing")); err != kvdb.ErrNotFound {
		t.Fatalf("expect ErrNotFound, got %v", err)
	}
	if err := db.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatal(err)
	}
	v, err := db.Get([]byte("k"))
	if err != nil || !bytes.Equal(v, []byte("v")) {
		t.Fatalf("unexpected get result %q %v", v, err)
	}
	if err := db.Delete([]byte("k")); err != nil {
		t.Fatal(err)
	}
	if ok, err := db.Has([]byte("k")); ok || err != nil {
		t.Errorf("expect key to be deleted, ok:%v err:%v", ok, err)
	}
}

// sorted reports whether the snapshot is in key order
func (i *sliceIterator) sorted() bool {
	return sort.SliceIsSorted(i.keys, func(a, b int) bool {
		return bytes.Compare(i.keys[a], i.keys[b]) < 0
	})
}

func TestBadgerBatchAndPrefix(t *testing.T) {
	db := makeDB(t)
	defer db.Close()

	db.Put([]byte("P/a/old"), []byte("x"))
	batch := db.NewBatch()
	batch.Put([]byte("P/a/b"), []byte("b"))
	batch.Put([]byte("P/a/a"), []byte("a"))
	batch.Delete([]byte("P/a/old"))
	if err := batch.Write(); err != nil {
		t.Fatal(err)
	}

	iter := db.NewIteratorWithPrefix([]byte("P/a/"))
	defer iter.Release()
	if si, ok := iter.(*sliceIterator); !ok || !si.sorted() {
		t.Fatalf("expect sorted snapshot iterator")
	}
	var values []string
	for iter.Next() {
		values = append(values, string(iter.Value()))
	}
	if len(values) != 2 || values[0] != "a" || values[1] != "b" {
		t.Errorf("unexpected values %v", values)
	}

	batch.Reset()
	if batch.ValueSize() != 0 {
		t.Errorf("expect empty batch after reset")
	}
}
