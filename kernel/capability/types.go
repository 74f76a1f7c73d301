// Package capability implements the typed permission records a procedure is
// registered with, their word encoding and the per type match rules.
package capability

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/xuperchain/capkernel/kernel/common/xident"
)

// Type is the tag of a capability record.
type Type uint8

const (
	TypeProcedureCall     Type = 3
	TypeProcedureRegister Type = 4
	TypeProcedureDelete   Type = 5
	TypeProcedureEntry    Type = 6
	TypeStoreWrite        Type = 7
	TypeLog               Type = 8
	TypeAccountCall       Type = 9
)

// Types lists every capability type in tag order.
var Types = []Type{
	TypeProcedureCall,
	TypeProcedureRegister,
	TypeProcedureDelete,
	TypeProcedureEntry,
	TypeStoreWrite,
	TypeLog,
	TypeAccountCall,
}

const (
	// MaxPrefix is the number of bits in a procedure key
	MaxPrefix = xident.Width * 8
	// MaxLogTopics is the number of topics a log capability can pin
	MaxLogTopics = 4
)

func (t Type) Valid() bool {
	return t >= TypeProcedureCall && t <= TypeAccountCall
}

// paramWords is the number of words following the two header words.
func (t Type) paramWords() int {
	switch t {
	case TypeProcedureCall, TypeProcedureRegister, TypeProcedureDelete:
		return 1
	case TypeProcedureEntry:
		return 0
	case TypeStoreWrite:
		return 2
	case TypeLog:
		return 1 + MaxLogTopics
	case TypeAccountCall:
		return 1
	}
	return -1
}

func (t Type) String() string {
	switch t {
	case TypeProcedureCall:
		return "ProcedureCall"
	case TypeProcedureRegister:
		return "ProcedureRegister"
	case TypeProcedureDelete:
		return "ProcedureDelete"
	case TypeProcedureEntry:
		return "ProcedureEntry"
	case TypeStoreWrite:
		return "StoreWrite"
	case TypeLog:
		return "Log"
	case TypeAccountCall:
		return "AccountCall"
	}
	return fmt.Sprintf("Type(%d)", uint8(t))
}

// ParseType resolves a type from its name, as written in manifests.
func ParseType(name string) (Type, bool) {
	for _, t := range Types {
		if t.String() == name {
			return t, true
		}
	}
	return 0, false
}

// Capability is one typed permission record. The set of implementations is
// closed: ProcedureCall, ProcedureRegister, ProcedureDelete, ProcedureEntry,
// StoreWrite, Log and AccountCall.
type Capability interface {
	Type() Type
	params() []common.Hash
	validate() error
}

// KeyPrefix authorizes every procedure key whose first Prefix bits equal Key's.
type KeyPrefix struct {
	Prefix uint8
	Key    xident.Identity
}

// MatchKey reports whether id falls under the prefix.
func (p KeyPrefix) MatchKey(id xident.Identity) bool {
	return prefixEqual(p.Key, id, int(p.Prefix))
}

// covers reports whether every key matched by child is matched by p.
func (p KeyPrefix) covers(child KeyPrefix) bool {
	return child.Prefix >= p.Prefix && prefixEqual(p.Key, child.Key, int(p.Prefix))
}

func (p KeyPrefix) params() []common.Hash {
	var w common.Hash
	w[0] = p.Prefix
	copy(w[32-xident.Width:], p.Key[:])
	return []common.Hash{w}
}

func (p KeyPrefix) validate() error {
	if int(p.Prefix) > MaxPrefix {
		return errors.Errorf("prefix %d exceeds %d bits", p.Prefix, MaxPrefix)
	}
	return nil
}

func prefixEqual(a, b xident.Identity, bits int) bool {
	if bits > MaxPrefix {
		bits = MaxPrefix
	}
	full := bits / 8
	for i := 0; i < full; i++ {
		if a[i] != b[i] {
			return false
		}
	}
	rem := bits % 8
	if rem == 0 {
		return true
	}
	mask := byte(0xff) << uint(8-rem)
	return a[full]&mask == b[full]&mask
}

// ProcedureCall authorizes calling procedures under its key prefix.
type ProcedureCall struct{ KeyPrefix }

func (ProcedureCall) Type() Type { return TypeProcedureCall }

// ProcedureRegister authorizes registering procedures under its key prefix.
type ProcedureRegister struct{ KeyPrefix }

func (ProcedureRegister) Type() Type { return TypeProcedureRegister }

// ProcedureDelete authorizes deleting procedures under its key prefix.
type ProcedureDelete struct{ KeyPrefix }

func (ProcedureDelete) Type() Type { return TypeProcedureDelete }

// ProcedureEntry authorizes changing the entry procedure.
type ProcedureEntry struct{}

func (ProcedureEntry) Type() Type            { return TypeProcedureEntry }
func (ProcedureEntry) params() []common.Hash { return nil }
func (ProcedureEntry) validate() error       { return nil }

// StoreWrite authorizes writes to storage keys in [Location, Location+Size).
type StoreWrite struct {
	Location uint256.Int
	Size     uint256.Int
}

func (StoreWrite) Type() Type { return TypeStoreWrite }

// end returns the exclusive upper bound, unbounded when the range reaches past 2^256.
func (s StoreWrite) end() (end uint256.Int, unbounded bool) {
	end.Add(&s.Location, &s.Size)
	return end, !s.Size.IsZero() && end.Lt(&s.Location)
}

// MatchKey reports whether key falls in the authorized range.
func (s StoreWrite) MatchKey(key common.Hash) bool {
	if s.Size.IsZero() {
		return false
	}
	k := new(uint256.Int).SetBytes(key[:])
	if k.Lt(&s.Location) {
		return false
	}
	end, unbounded := s.end()
	return unbounded || k.Lt(&end)
}

func (s StoreWrite) covers(child StoreWrite) bool {
	if child.Size.IsZero() {
		return true
	}
	if s.Size.IsZero() || child.Location.Lt(&s.Location) {
		return false
	}
	pEnd, pUnbounded := s.end()
	if pUnbounded {
		return true
	}
	cEnd, cUnbounded := child.end()
	if cUnbounded {
		return false
	}
	return !pEnd.Lt(&cEnd)
}

func (s StoreWrite) params() []common.Hash {
	return []common.Hash{s.Location.Bytes32(), s.Size.Bytes32()}
}

func (s StoreWrite) validate() error { return nil }

// Log authorizes logs whose first Topics topics equal the pinned ones.
type Log struct {
	Topics uint8
	Pinned [MaxLogTopics]common.Hash
}

func (Log) Type() Type { return TypeLog }

// MatchTopics reports whether a log with the given topics is authorized.
func (l Log) MatchTopics(topics []common.Hash) bool {
	if len(topics) < int(l.Topics) {
		return false
	}
	for i := 0; i < int(l.Topics); i++ {
		if topics[i] != l.Pinned[i] {
			return false
		}
	}
	return true
}

func (l Log) covers(child Log) bool {
	return child.Topics >= l.Topics && l.MatchTopics(child.Pinned[:child.Topics])
}

func (l Log) params() []common.Hash {
	words := make([]common.Hash, 0, 1+MaxLogTopics)
	words = append(words, new(uint256.Int).SetUint64(uint64(l.Topics)).Bytes32())
	return append(words, l.Pinned[:]...)
}

func (l Log) validate() error {
	if l.Topics > MaxLogTopics {
		return errors.Errorf("log capability pins %d topics, max %d", l.Topics, MaxLogTopics)
	}
	return nil
}

const (
	flagCallAny = 0x80
	flagCanSend = 0x40
)

// AccountCall authorizes external calls to Address, or to any account when
// CallAny is set. Calls carrying value additionally need CanSend.
type AccountCall struct {
	CallAny bool
	CanSend bool
	Address common.Address
}

func (AccountCall) Type() Type { return TypeAccountCall }

// MatchCall reports whether a call to addr transferring value is authorized.
func (a AccountCall) MatchCall(addr common.Address, value *uint256.Int) bool {
	if !a.CallAny && addr != a.Address {
		return false
	}
	return value == nil || value.IsZero() || a.CanSend
}

func (a AccountCall) covers(child AccountCall) bool {
	if !a.CallAny && (child.CallAny || child.Address != a.Address) {
		return false
	}
	return a.CanSend || !child.CanSend
}

func (a AccountCall) params() []common.Hash {
	var w common.Hash
	if a.CallAny {
		w[0] |= flagCallAny
	}
	if a.CanSend {
		w[0] |= flagCanSend
	}
	copy(w[32-common.AddressLength:], a.Address[:])
	return []common.Hash{w}
}

func (a AccountCall) validate() error { return nil }

// Covers reports whether parent grants at least everything child grants.
// Capabilities of different types never cover each other.
func Covers(parent, child Capability) bool {
	switch p := parent.(type) {
	case ProcedureCall:
		c, ok := child.(ProcedureCall)
		return ok && p.covers(c.KeyPrefix)
	case ProcedureRegister:
		c, ok := child.(ProcedureRegister)
		return ok && p.covers(c.KeyPrefix)
	case ProcedureDelete:
		c, ok := child.(ProcedureDelete)
		return ok && p.covers(c.KeyPrefix)
	case ProcedureEntry:
		_, ok := child.(ProcedureEntry)
		return ok
	case StoreWrite:
		c, ok := child.(StoreWrite)
		return ok && p.covers(c)
	case Log:
		c, ok := child.(Log)
		return ok && p.covers(c)
	case AccountCall:
		c, ok := child.(AccountCall)
		return ok && p.covers(c)
	}
	return false
}
