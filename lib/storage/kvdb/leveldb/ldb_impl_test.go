package leveldb

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/xuperchain/capkernel/lib/storage/kvdb"
)

func makeDB(t *testing.T, memory bool) kvdb.Database {
	kvParam := &kvdb.KVParameter{
		KVEngineType:          kvdb.KVEngineTypeLDB,
		StorageType:           kvdb.StorageTypeSingle,
		MemCacheSize:          128,
		FileHandlersCacheSize: 1024,
	}
	if memory {
		kvParam.StorageType = kvdb.StorageTypeMemory
	} else {
		kvParam.DBPath = filepath.Join(t.TempDir(), "leveldb")
	}
	db, err := kvdb.CreateKVInstance(kvParam)
	if err != nil {
		t.Fatalf("create kv instance error: %v", err)
	}
	return db
}

func TestLdbGetPutDelete(t *testing.T) {
	for _, memory := range []bool{true, false} {
		db := makeDB(t, memory)

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
		if ok, _ := db.Has([]byte("k")); !ok {
			t.Errorf("expect key to exist")
		}
		if err := db.Delete([]byte("k")); err != nil {
			t.Fatal(err)
		}
		if ok, _ := db.Has([]byte("k")); ok {
			t.Errorf("expect key to be deleted")
		}
		db.Close()
	}
}

func TestLdbBatchAndPrefix(t *testing.T) {
	db := makeDB(t, true)
	defer db.Close()

	db.Put([]byte("P/a/old"), []byte("x"))

	batch := db.NewBatch()
	batch.Put([]byte("P/a/2"), []byte("two"))
	batch.Put([]byte("P/a/1"), []byte("one"))
	batch.Put([]byte("Q/other"), []byte("other"))
	batch.Delete([]byte("P/a/old"))
	if batch.ValueSize() == 0 {
		t.Errorf("expect non zero batch size")
	}
	// nothing visible before Write
	if ok, _ := db.Has([]byte("P/a/1")); ok {
		t.Fatalf("batch applied before Write")
	}
	if err := batch.Write(); err != nil {
		t.Fatal(err)
	}

	iter := db.NewIteratorWithPrefix([]byte("P/a/"))
	defer iter.Release()
	var keys []string
	for iter.Next() {
		keys = append(keys, string(iter.Key()))
	}
	if iter.Error() != nil {
		t.Fatal(iter.Error())
	}
	if len(keys) != 2 || keys[0] != "P/a/1" || keys[1] != "P/a/2" {
		t.Errorf("unexpected keys %v", keys)
	}
}
