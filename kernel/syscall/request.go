// Package syscall models the requests a running procedure can make to the
// kernel. Each request kind is gated by exactly one capability type.
package syscall

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/xuperchain/capkernel/kernel/capability"
	"github.com/xuperchain/capkernel/kernel/common/xident"
)

type Kind uint8

const (
	KindCall        Kind = 1
	KindRegister    Kind = 2
	KindDelete      Kind = 3
	KindSetEntry    Kind = 4
	KindWrite       Kind = 5
	KindLog         Kind = 6
	KindAccountCall Kind = 7
)

var kindNames = map[Kind]string{
	KindCall:        "call",
	KindRegister:    "register",
	KindDelete:      "delete",
	KindSetEntry:    "set_entry",
	KindWrite:       "write",
	KindLog:         "log",
	KindAccountCall: "account_call",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Request is one syscall. Matches reports whether a single capability of
// type CapType authorizes the request.
type Request interface {
	Kind() Kind
	CapType() capability.Type
	Matches(c capability.Capability) bool
}

// Authorized reports whether any capability in caps authorizes req.
func Authorized(req Request, caps capability.List) bool {
	for _, c := range caps.OfType(req.CapType()) {
		if req.Matches(c) {
			return true
		}
	}
	return false
}

// Call invokes the procedure registered under Target.
type Call struct {
	Target  xident.Identity
	Payload []byte
}

func (Call) Kind() Kind               { return KindCall }
func (Call) CapType() capability.Type { return capability.TypeProcedureCall }

func (r Call) Matches(c capability.Capability) bool {
	cc, ok := c.(capability.ProcedureCall)
	return ok && cc.MatchKey(r.Target)
}

// Register adds or replaces the procedure ID with an encoded capability
// list. The registrar must also hold every capability it grants.
type Register struct {
	ID      xident.Identity
	Address common.Address
	Caps    []common.Hash
}

func (Register) Kind() Kind               { return KindRegister }
func (Register) CapType() capability.Type { return capability.TypeProcedureRegister }

func (r Register) Matches(c capability.Capability) bool {
	cc, ok := c.(capability.ProcedureRegister)
	return ok && cc.MatchKey(r.ID)
}

// Delete removes the procedure ID.
type Delete struct {
	ID xident.Identity
}

func (Delete) Kind() Kind               { return KindDelete }
func (Delete) CapType() capability.Type { return capability.TypeProcedureDelete }

func (r Delete) Matches(c capability.Capability) bool {
	cc, ok := c.(capability.ProcedureDelete)
	return ok && cc.MatchKey(r.ID)
}

// SetEntry makes ID the entry procedure.
type SetEntry struct {
	ID xident.Identity
}

func (SetEntry) Kind() Kind               { return KindSetEntry }
func (SetEntry) CapType() capability.Type { return capability.TypeProcedureEntry }

func (SetEntry) Matches(c capability.Capability) bool {
	_, ok := c.(capability.ProcedureEntry)
	return ok
}

// Write stores Value at storage slot Key.
type Write struct {
	Key   common.Hash
	Value common.Hash
}

func (Write) Kind() Kind               { return KindWrite }
func (Write) CapType() capability.Type { return capability.TypeStoreWrite }

func (r Write) Matches(c capability.Capability) bool {
	cc, ok := c.(capability.StoreWrite)
	return ok && cc.MatchKey(r.Key)
}

// Log emits a log with up to four topics.
type Log struct {
	Topics []common.Hash
	Data   []byte
}

func (Log) Kind() Kind               { return KindLog }
func (Log) CapType() capability.Type { return capability.TypeLog }

func (r Log) Matches(c capability.Capability) bool {
	cc, ok := c.(capability.Log)
	return ok && cc.MatchTopics(r.Topics)
}

// AccountCall calls an external account, optionally transferring Value.
type AccountCall struct {
	Address common.Address
	Value   uint256.Int
	Data    []byte
}

func (AccountCall) Kind() Kind               { return KindAccountCall }
func (AccountCall) CapType() capability.Type { return capability.TypeAccountCall }

func (r AccountCall) Matches(c capability.Capability) bool {
	cc, ok := c.(capability.AccountCall)
	return ok && cc.MatchCall(r.Address, &r.Value)
}
