package cmd

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/xuperchain/capkernel/kernel/capability"
	"github.com/xuperchain/capkernel/kernel/common/xident"
	"github.com/xuperchain/capkernel/kernel/syscall"
	"github.com/xuperchain/capkernel/lib/utils"
)

// Manifest describes a kernel run on the in-memory host: the procedures
// deployed, which of them is the entry procedure and the syscalls each one
// issues when it runs. Hex values must be quoted in YAML.
type Manifest struct {
	Gas        uint64          `mapstructure:"gas"`
	Entry      string          `mapstructure:"entry"`
	Input      string          `mapstructure:"input"`
	// external accounts answering every call with its input
	Accounts   []string        `mapstructure:"accounts"`
	Procedures []ProcedureSpec `mapstructure:"procedures"`
}

type ProcedureSpec struct {
	Name    string     `mapstructure:"name"`
	Address string     `mapstructure:"address"`
	Code    string     `mapstructure:"code"`
	Caps    []CapSpec  `mapstructure:"caps"`
	Steps   []StepSpec `mapstructure:"steps"`
}

type CapSpec struct {
	Type     string   `mapstructure:"type"`
	Prefix   uint8    `mapstructure:"prefix"`
	Key      string   `mapstructure:"key"`
	Location string   `mapstructure:"location"`
	Size     string   `mapstructure:"size"`
	Topics   []string `mapstructure:"topics"`
	Address  string   `mapstructure:"address"`
	CallAny  bool     `mapstructure:"callAny"`
	CanSend  bool     `mapstructure:"canSend"`
}

type StepSpec struct {
	// write, log, register, delete, setEntry, call, accountCall, raw
	Kind    string   `mapstructure:"kind"`
	Target  string   `mapstructure:"target"`
	Key     string   `mapstructure:"key"`
	Value   string   `mapstructure:"value"`
	Topics  []string `mapstructure:"topics"`
	Data    string   `mapstructure:"data"`
	Address string   `mapstructure:"address"`
}

func LoadManifest(file string) (*Manifest, error) {
	if file == "" || !utils.FileIsExist(file) {
		return nil, fmt.Errorf("manifest file set error.path:%s", file)
	}

	viperObj := viper.New()
	viperObj.SetConfigFile(file)
	if err := viperObj.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read manifest failed.path:%s,err:%v", file, err)
	}
	return DecodeManifest(viperObj.AllSettings())
}

// DecodeManifest decodes a generic settings map. Unknown keys are errors.
func DecodeManifest(settings map[string]interface{}) (*Manifest, error) {
	m := &Manifest{Gas: 1000000}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           m,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(settings); err != nil {
		return nil, fmt.Errorf("decode manifest failed.err:%v", err)
	}
	if err := m.check(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manifest) check() error {
	seen := make(map[string]bool, len(m.Procedures))
	for _, p := range m.Procedures {
		raw, err := decodeHex(p.Address)
		if p.Name == "" || err != nil || len(raw) == 0 || len(raw) > common.AddressLength {
			return fmt.Errorf("procedure %q needs a name and a hex address", p.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("procedure %q declared twice", p.Name)
		}
		seen[p.Name] = true
	}
	if !seen[m.Entry] {
		return fmt.Errorf("entry procedure %q is not declared", m.Entry)
	}
	return nil
}

func (m *Manifest) procedure(name string) (*ProcedureSpec, error) {
	for i := range m.Procedures {
		if m.Procedures[i].Name == name {
			return &m.Procedures[i], nil
		}
	}
	return nil, fmt.Errorf("procedure %q is not declared", name)
}

func keyPrefix(c CapSpec) capability.KeyPrefix {
	return capability.KeyPrefix{Prefix: c.Prefix, Key: xident.FromName(c.Key)}
}

func uint256Of(s string) (uint256.Int, error) {
	var v uint256.Int
	if s == "" {
		return v, nil
	}
	raw, err := decodeHex(s)
	if err != nil || len(raw) > 32 {
		return v, fmt.Errorf("bad number %q", s)
	}
	v.SetBytes(raw)
	return v, nil
}

// Capability builds the capability c describes.
func (c CapSpec) Capability() (capability.Capability, error) {
	tp, ok := capability.ParseType(c.Type)
	if !ok {
		return nil, fmt.Errorf("unknown capability type %q", c.Type)
	}
	switch tp {
	case capability.TypeProcedureCall:
		return capability.ProcedureCall{KeyPrefix: keyPrefix(c)}, nil
	case capability.TypeProcedureRegister:
		return capability.ProcedureRegister{KeyPrefix: keyPrefix(c)}, nil
	case capability.TypeProcedureDelete:
		return capability.ProcedureDelete{KeyPrefix: keyPrefix(c)}, nil
	case capability.TypeProcedureEntry:
		return capability.ProcedureEntry{}, nil
	case capability.TypeStoreWrite:
		location, err := uint256Of(c.Location)
		if err != nil {
			return nil, err
		}
		size, err := uint256Of(c.Size)
		if err != nil {
			return nil, err
		}
		return capability.StoreWrite{Location: location, Size: size}, nil
	case capability.TypeLog:
		if len(c.Topics) > capability.MaxLogTopics {
			return nil, fmt.Errorf("log capability pins %d topics", len(c.Topics))
		}
		l := capability.Log{Topics: uint8(len(c.Topics))}
		for i, topic := range c.Topics {
			l.Pinned[i] = common.HexToHash(topic)
		}
		return l, nil
	case capability.TypeAccountCall:
		return capability.AccountCall{
			CallAny: c.CallAny,
			CanSend: c.CanSend,
			Address: common.HexToAddress(c.Address),
		}, nil
	}
	return nil, fmt.Errorf("unhandled capability type %s", tp)
}

func (p *ProcedureSpec) CapList() (capability.List, error) {
	list := make(capability.List, 0, len(p.Caps))
	for _, c := range p.Caps {
		cp, err := c.Capability()
		if err != nil {
			return nil, fmt.Errorf("procedure %s: %v", p.Name, err)
		}
		list = append(list, cp)
	}
	return list, list.Validate()
}

// Request builds the syscall of one step. Raw steps carry already encoded
// bytes in Data and yield a nil request.
func (s StepSpec) Request(m *Manifest) (syscall.Request, []byte, error) {
	data, err := decodeHex(s.Data)
	if err != nil {
		return nil, nil, fmt.Errorf("bad data %q", s.Data)
	}
	topics := make([]common.Hash, 0, len(s.Topics))
	for _, topic := range s.Topics {
		topics = append(topics, common.HexToHash(topic))
	}

	switch strings.ToLower(s.Kind) {
	case "raw":
		return nil, data, nil
	case "write":
		return syscall.Write{Key: common.HexToHash(s.Key), Value: common.HexToHash(s.Value)}, nil, nil
	case "log":
		return syscall.Log{Topics: topics, Data: data}, nil, nil
	case "register":
		target, err := m.procedure(s.Target)
		if err != nil {
			return nil, nil, err
		}
		caps, err := target.CapList()
		if err != nil {
			return nil, nil, err
		}
		return syscall.Register{
			ID:      xident.FromName(target.Name),
			Address: common.HexToAddress(target.Address),
			Caps:    caps.Words(),
		}, nil, nil
	case "delete":
		return syscall.Delete{ID: xident.FromName(s.Target)}, nil, nil
	case "setentry":
		return syscall.SetEntry{ID: xident.FromName(s.Target)}, nil, nil
	case "call":
		return syscall.Call{Target: xident.FromName(s.Target), Payload: data}, nil, nil
	case "accountcall":
		value, err := uint256Of(s.Value)
		if err != nil {
			return nil, nil, err
		}
		return syscall.AccountCall{Address: common.HexToAddress(s.Address), Value: value, Data: data}, nil, nil
	}
	return nil, nil, fmt.Errorf("unknown step kind %q", s.Kind)
}
