package xconfig

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/xuperchain/capkernel/lib/storage/kvdb"
	"github.com/xuperchain/capkernel/lib/utils"
)

// denial policies
const (
	// a denied syscall returns no output and no error
	DenyPolicySilent = "silent"
	// a denied syscall fails the invocation
	DenyPolicyAbort = "abort"
)

type StorageConf struct {
	// leveldb or badger
	Engine string `yaml:"engine,omitempty"`
	// single or memory
	StorageType string `yaml:"storageType,omitempty"`
	Path        string `yaml:"path,omitempty"`
	// MB
	MemCacheSize          int `yaml:"memCacheSize,omitempty"`
	FileHandlersCacheSize int `yaml:"fileHandlersCacheSize,omitempty"`
}

// KernelConf is the config of one kernel instance
type KernelConf struct {
	// gas withheld from the entry procedure and from nested calls
	GasReserve uint64 `yaml:"gasReserve,omitempty"`
	DenyPolicy string `yaml:"denyPolicy,omitempty"`
	// decoded capability lists kept in memory
	CapCacheSize int `yaml:"capCacheSize,omitempty"`
	// how long a code validity verdict is trusted
	ValidityCacheTTL time.Duration `yaml:"validityCacheTTL,omitempty"`
	Storage          StorageConf   `yaml:"storage,omitempty"`
	MetricSwitch     bool          `yaml:"metricSwitch,omitempty"`
	// log config file name
	LogConf string `yaml:"logConf,omitempty"`
}

func LoadKernelConf(cfgFile string) (*KernelConf, error) {
	cfg := GetDefKernelConf()
	err := cfg.loadConf(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load kernel config failed.err:%s", err)
	}
	if err = cfg.Check(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func GetDefKernelConf() *KernelConf {
	return &KernelConf{
		GasReserve:       10000,
		DenyPolicy:       DenyPolicySilent,
		CapCacheSize:     256,
		ValidityCacheTTL: 10 * time.Minute,
		Storage: StorageConf{
			Engine:                kvdb.KVEngineTypeLDB,
			StorageType:           kvdb.StorageTypeMemory,
			MemCacheSize:          64,
			FileHandlersCacheSize: 128,
		},
		MetricSwitch: false,
		LogConf:      "log.yaml",
	}
}

// Check rejects values the kernel cannot run with.
func (t *KernelConf) Check() error {
	if t.DenyPolicy != DenyPolicySilent && t.DenyPolicy != DenyPolicyAbort {
		return fmt.Errorf("unknown deny policy %q", t.DenyPolicy)
	}
	if t.Storage.StorageType != kvdb.StorageTypeMemory && t.Storage.Path == "" {
		return fmt.Errorf("storage path is required for storage type %q", t.Storage.StorageType)
	}
	return nil
}

// KVParameter translates the storage section into kvdb parameters.
func (t *KernelConf) KVParameter() *kvdb.KVParameter {
	return &kvdb.KVParameter{
		DBPath:                t.Storage.Path,
		KVEngineType:          t.Storage.Engine,
		StorageType:           t.Storage.StorageType,
		MemCacheSize:          t.Storage.MemCacheSize,
		FileHandlersCacheSize: t.Storage.FileHandlersCacheSize,
	}
}

func (t *KernelConf) loadConf(cfgFile string) error {
	if cfgFile == "" || !utils.FileIsExist(cfgFile) {
		return fmt.Errorf("config file set error.path:%s", cfgFile)
	}

	viperObj := viper.New()
	viperObj.SetConfigFile(cfgFile)
	err := viperObj.ReadInConfig()
	if err != nil {
		return fmt.Errorf("read config failed.path:%s,err:%v", cfgFile, err)
	}

	if err = viperObj.Unmarshal(t); err != nil {
		return fmt.Errorf("unmatshal config failed.path:%s,err:%v", cfgFile, err)
	}

	return nil
}
