package syscall

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fxamacker/cbor/v2"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/xuperchain/capkernel/kernel/capability"
	"github.com/xuperchain/capkernel/kernel/common/xident"
)

// Version is the only envelope version understood by Decode.
const Version = 1

var ErrMalformedSyscall = errors.New("malformed syscall")

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("syscall: failed to create CBOR enc mode: %v", err))
	}
	encMode = em

	dm, err := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyEnforcedAPF,
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("syscall: failed to create CBOR dec mode: %v", err))
	}
	decMode = dm
}

type envelope struct {
	Version uint64          `cbor:"1,keyasint"`
	Kind    uint64          `cbor:"2,keyasint"`
	Body    cbor.RawMessage `cbor:"3,keyasint"`
}

type callBody struct {
	Target  []byte `cbor:"1,keyasint"`
	Payload []byte `cbor:"2,keyasint,omitempty"`
}

type registerBody struct {
	ID      []byte   `cbor:"1,keyasint"`
	Address []byte   `cbor:"2,keyasint"`
	Caps    [][]byte `cbor:"3,keyasint,omitempty"`
}

type identBody struct {
	ID []byte `cbor:"1,keyasint"`
}

type writeBody struct {
	Key   []byte `cbor:"1,keyasint"`
	Value []byte `cbor:"2,keyasint"`
}

type logBody struct {
	Topics [][]byte `cbor:"1,keyasint,omitempty"`
	Data   []byte   `cbor:"2,keyasint,omitempty"`
}

type accountCallBody struct {
	Address []byte `cbor:"1,keyasint"`
	Value   []byte `cbor:"2,keyasint,omitempty"`
	Data    []byte `cbor:"3,keyasint,omitempty"`
}

func hashesToBytes(hs []common.Hash) [][]byte {
	if len(hs) == 0 {
		return nil
	}
	out := make([][]byte, len(hs))
	for i := range hs {
		out[i] = hs[i].Bytes()
	}
	return out
}

// Encode serializes req into a canonical CBOR envelope.
func Encode(req Request) ([]byte, error) {
	var body interface{}
	switch r := req.(type) {
	case Call:
		body = callBody{Target: r.Target.Bytes(), Payload: r.Payload}
	case Register:
		body = registerBody{ID: r.ID.Bytes(), Address: r.Address.Bytes(), Caps: hashesToBytes(r.Caps)}
	case Delete:
		body = identBody{ID: r.ID.Bytes()}
	case SetEntry:
		body = identBody{ID: r.ID.Bytes()}
	case Write:
		body = writeBody{Key: r.Key.Bytes(), Value: r.Value.Bytes()}
	case Log:
		if len(r.Topics) > capability.MaxLogTopics {
			return nil, errors.Wrapf(ErrMalformedSyscall, "log with %d topics", len(r.Topics))
		}
		body = logBody{Topics: hashesToBytes(r.Topics), Data: r.Data}
	case AccountCall:
		var value []byte
		if !r.Value.IsZero() {
			value = r.Value.Bytes()
		}
		body = accountCallBody{Address: r.Address.Bytes(), Value: value, Data: r.Data}
	default:
		return nil, errors.Errorf("syscall: cannot encode %T", req)
	}

	raw, err := encMode.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "syscall: marshal body")
	}
	return encMode.Marshal(envelope{Version: Version, Kind: uint64(req.Kind()), Body: raw})
}

// Decode parses a CBOR envelope produced by Encode. Every failure is
// reported as ErrMalformedSyscall.
func Decode(data []byte) (Request, error) {
	var env envelope
	dec := decMode.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&env); err != nil {
		return nil, errors.Wrap(ErrMalformedSyscall, err.Error())
	}
	if dec.NumBytesRead() != len(data) {
		return nil, errors.Wrapf(ErrMalformedSyscall, "%d trailing bytes", len(data)-dec.NumBytesRead())
	}
	if env.Version != Version {
		return nil, errors.Wrapf(ErrMalformedSyscall, "unsupported version %d", env.Version)
	}
	if env.Kind == 0 || env.Kind > uint64(KindAccountCall) {
		return nil, errors.Wrapf(ErrMalformedSyscall, "unknown kind %d", env.Kind)
	}
	if len(env.Body) == 0 {
		return nil, errors.Wrap(ErrMalformedSyscall, "missing body")
	}

	switch Kind(env.Kind) {
	case KindCall:
		var b callBody
		if err := decodeBody(env.Body, &b); err != nil {
			return nil, err
		}
		id, err := identity(b.Target)
		if err != nil {
			return nil, err
		}
		return Call{Target: id, Payload: b.Payload}, nil
	case KindRegister:
		var b registerBody
		if err := decodeBody(env.Body, &b); err != nil {
			return nil, err
		}
		id, err := identity(b.ID)
		if err != nil {
			return nil, err
		}
		addr, err := address(b.Address)
		if err != nil {
			return nil, err
		}
		caps, err := hashes(b.Caps, -1)
		if err != nil {
			return nil, err
		}
		return Register{ID: id, Address: addr, Caps: caps}, nil
	case KindDelete, KindSetEntry:
		var b identBody
		if err := decodeBody(env.Body, &b); err != nil {
			return nil, err
		}
		id, err := identity(b.ID)
		if err != nil {
			return nil, err
		}
		if Kind(env.Kind) == KindDelete {
			return Delete{ID: id}, nil
		}
		return SetEntry{ID: id}, nil
	case KindWrite:
		var b writeBody
		if err := decodeBody(env.Body, &b); err != nil {
			return nil, err
		}
		kv, err := hashes([][]byte{b.Key, b.Value}, 2)
		if err != nil {
			return nil, err
		}
		return Write{Key: kv[0], Value: kv[1]}, nil
	case KindLog:
		var b logBody
		if err := decodeBody(env.Body, &b); err != nil {
			return nil, err
		}
		topics, err := hashes(b.Topics, capability.MaxLogTopics)
		if err != nil {
			return nil, err
		}
		return Log{Topics: topics, Data: b.Data}, nil
	case KindAccountCall:
		var b accountCallBody
		if err := decodeBody(env.Body, &b); err != nil {
			return nil, err
		}
		addr, err := address(b.Address)
		if err != nil {
			return nil, err
		}
		if len(b.Value) > 32 {
			return nil, errors.Wrapf(ErrMalformedSyscall, "value of %d bytes", len(b.Value))
		}
		r := AccountCall{Address: addr, Data: b.Data}
		r.Value.SetBytes(b.Value)
		return r, nil
	}
	return nil, errors.Wrapf(ErrMalformedSyscall, "unknown kind %d", env.Kind)
}

func decodeBody(raw []byte, v interface{}) error {
	if err := decMode.Unmarshal(raw, v); err != nil {
		return errors.Wrap(ErrMalformedSyscall, err.Error())
	}
	return nil
}

func identity(b []byte) (xident.Identity, error) {
	id, ok := xident.FromBytes(b)
	if !ok {
		return id, errors.Wrapf(ErrMalformedSyscall, "identity of %d bytes", len(b))
	}
	return id, nil
}

func address(b []byte) (common.Address, error) {
	if len(b) != common.AddressLength {
		return common.Address{}, errors.Wrapf(ErrMalformedSyscall, "address of %d bytes", len(b))
	}
	return common.BytesToAddress(b), nil
}

// hashes converts fixed width words. max < 0 means unbounded.
func hashes(raw [][]byte, max int) ([]common.Hash, error) {
	if max >= 0 && len(raw) > max {
		return nil, errors.Wrapf(ErrMalformedSyscall, "%d words, max %d", len(raw), max)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([]common.Hash, len(raw))
	for i, b := range raw {
		if len(b) != common.HashLength {
			return nil, errors.Wrapf(ErrMalformedSyscall, "word %d of %d bytes", i, len(b))
		}
		copy(out[i][:], b)
	}
	return out, nil
}

// NewValue is a helper for building AccountCall values from integers.
func NewValue(v uint64) uint256.Int {
	var x uint256.Int
	x.SetUint64(v)
	return x
}
