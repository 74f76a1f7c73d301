package kvdb

import (
	"fmt"
	"sync"
)

// KVParameter structure for kv instance parameters
type KVParameter struct {
	DBPath                string
	KVEngineType          string
	StorageType           string
	MemCacheSize          int
	FileHandlersCacheSize int
}

const (
	KVEngineTypeLDB    = "leveldb"
	KVEngineTypeBadger = "badger"
)

const (
	StorageTypeSingle = "single"
	// nothing touches disk, used by tests and dry runs
	StorageTypeMemory = "memory"
)

var (
	servsMu  sync.RWMutex
	services = make(map[string]NewStorageFunc)
)

type NewStorageFunc func(*KVParameter) (Database, error)

func Register(name string, f NewStorageFunc) {
	servsMu.Lock()
	defer servsMu.Unlock()

	if f == nil {
		panic("storage: Register new func is nil")
	}
	if _, dup := services[name]; dup {
		panic("storage: Register called twice for func " + name)
	}
	services[name] = f
}

func CreateKVInstance(kvParam *KVParameter) (Database, error) {
	if kvParam == nil {
		return nil, fmt.Errorf("kv parameter is nil")
	}

	servsMu.RLock()
	f, ok := services[kvParam.KVEngineType]
	servsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("kv engine %s not registered", kvParam.KVEngineType)
	}

	instance, err := f(kvParam)
	if err != nil {
		return nil, fmt.Errorf("get kvInstance fail.engine:%s,err:%v", kvParam.KVEngineType, err)
	}
	return instance, nil
}

// IsMemory reports whether the instance must not touch disk.
func (param *KVParameter) IsMemory() bool {
	return param.StorageType == StorageTypeMemory || param.DBPath == ""
}

// GetDBPath return the value of DBPath
func (param *KVParameter) GetDBPath() string {
	return param.DBPath
}

// GetMemCacheSize return the value of MemCacheSize
func (param *KVParameter) GetMemCacheSize() int {
	return param.MemCacheSize
}

// GetFileHandlersCacheSize return the value of FileHandlersCacheSize
func (param *KVParameter) GetFileHandlersCacheSize() int {
	return param.FileHandlersCacheSize
}
