package capability

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/xuperchain/capkernel/kernel/common/xident"
)

// ErrMalformedCapability is the cause of every decoding failure
var ErrMalformedCapability = errors.New("malformed capability")

// headerWords is the length word plus the type word of every record
const headerWords = 2

// List is the ordered capability list of one procedure.
type List []Capability

func (l List) Len() int {
	return len(l)
}

// CountOf returns the number of capabilities of type t.
func (l List) CountOf(t Type) uint32 {
	var n uint32
	for _, c := range l {
		if c.Type() == t {
			n++
		}
	}
	return n
}

// OfType returns the capabilities of type t in list order.
func (l List) OfType(t Type) []Capability {
	var caps []Capability
	for _, c := range l {
		if c.Type() == t {
			caps = append(caps, c)
		}
	}
	return caps
}

// Validate checks every record against its type's shape.
func (l List) Validate() error {
	for i, c := range l {
		if c == nil {
			return errors.Wrapf(ErrMalformedCapability, "capability %d is nil", i)
		}
		if !c.Type().Valid() {
			return errors.Wrapf(ErrMalformedCapability, "capability %d has unknown type %d", i, c.Type())
		}
		if err := c.validate(); err != nil {
			return errors.Wrapf(ErrMalformedCapability, "capability %d: %v", i, err)
		}
	}
	return nil
}

// Words encodes the list as [length, type, params...] records.
func (l List) Words() []common.Hash {
	words := make([]common.Hash, 0, len(l)*3)
	for _, c := range l {
		params := c.params()
		words = append(words,
			wordOf(uint64(headerWords+len(params))),
			wordOf(uint64(c.Type())))
		words = append(words, params...)
	}
	return words
}

// CoveredBy reports whether every capability of l is covered by a
// capability of the same type in parent.
func (l List) CoveredBy(parent List) bool {
	for _, c := range l {
		covered := false
		for _, p := range parent.OfType(c.Type()) {
			if Covers(p, c) {
				covered = true
				break
			}
		}
		if !covered {
			return false
		}
	}
	return true
}

func wordOf(v uint64) common.Hash {
	return new(uint256.Int).SetUint64(v).Bytes32()
}

// smallWord returns the value of w when it fits in max.
func smallWord(w common.Hash, max uint64) (uint64, bool) {
	v := new(uint256.Int).SetBytes(w[:])
	if !v.IsUint64() || v.Uint64() > max {
		return 0, false
	}
	return v.Uint64(), true
}

func allZero(b []byte) bool {
	for _, x := range b {
		if x != 0 {
			return false
		}
	}
	return true
}

// DecodeList parses an encoded capability list. Every word must belong to a
// well formed record; nothing is skipped or truncated.
func DecodeList(words []common.Hash) (List, error) {
	list := make(List, 0)
	for i := 0; i < len(words); {
		if len(words)-i < headerWords {
			return nil, errors.Wrapf(ErrMalformedCapability, "word %d: truncated record header", i)
		}
		length, ok := smallWord(words[i], uint64(len(words)-i))
		if !ok || length < headerWords {
			return nil, errors.Wrapf(ErrMalformedCapability, "word %d: bad record length", i)
		}
		tag, ok := smallWord(words[i+1], 0xff)
		if !ok || !Type(tag).Valid() {
			return nil, errors.Wrapf(ErrMalformedCapability, "word %d: unknown capability type", i+1)
		}
		t := Type(tag)
		if int(length)-headerWords != t.paramWords() {
			return nil, errors.Wrapf(ErrMalformedCapability, "word %d: %s expects %d params, got %d",
				i, t, t.paramWords(), int(length)-headerWords)
		}

		c, err := decodeParams(t, words[i+headerWords:i+int(length)])
		if err != nil {
			return nil, errors.Wrapf(ErrMalformedCapability, "word %d: %v", i, err)
		}
		list = append(list, c)
		i += int(length)
	}
	return list, nil
}

func decodeParams(t Type, params []common.Hash) (Capability, error) {
	switch t {
	case TypeProcedureCall, TypeProcedureRegister, TypeProcedureDelete:
		kp, err := decodeKeyPrefix(params[0])
		if err != nil {
			return nil, err
		}
		switch t {
		case TypeProcedureCall:
			return ProcedureCall{kp}, nil
		case TypeProcedureRegister:
			return ProcedureRegister{kp}, nil
		default:
			return ProcedureDelete{kp}, nil
		}
	case TypeProcedureEntry:
		return ProcedureEntry{}, nil
	case TypeStoreWrite:
		var sw StoreWrite
		sw.Location.SetBytes(params[0][:])
		sw.Size.SetBytes(params[1][:])
		return sw, nil
	case TypeLog:
		n, ok := smallWord(params[0], MaxLogTopics)
		if !ok {
			return nil, errors.New("log topic count out of range")
		}
		l := Log{Topics: uint8(n)}
		copy(l.Pinned[:], params[1:])
		return l, nil
	case TypeAccountCall:
		w := params[0]
		if w[0]&^(flagCallAny|flagCanSend) != 0 || !allZero(w[1:32-common.AddressLength]) {
			return nil, errors.New("account call flags or padding invalid")
		}
		return AccountCall{
			CallAny: w[0]&flagCallAny != 0,
			CanSend: w[0]&flagCanSend != 0,
			Address: common.BytesToAddress(w[32-common.AddressLength:]),
		}, nil
	}
	return nil, errors.Errorf("unknown capability type %d", t)
}

func decodeKeyPrefix(w common.Hash) (KeyPrefix, error) {
	var kp KeyPrefix
	if int(w[0]) > MaxPrefix {
		return kp, errors.Errorf("prefix %d exceeds %d bits", w[0], MaxPrefix)
	}
	if !allZero(w[1 : 32-xident.Width]) {
		return kp, errors.New("key prefix padding not zero")
	}
	kp.Prefix = w[0]
	copy(kp.Key[:], w[32-xident.Width:])
	return kp, nil
}
