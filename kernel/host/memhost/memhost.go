// Package memhost is an in-memory Host. Procedures are Go functions placed
// at addresses, storage is an ordered tree of slots and logs are queued in
// emission order. It is not safe for concurrent use.
package memhost

import (
	"bytes"
	"context"

	"github.com/emirpasic/gods/trees/redblacktree"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gammazero/deque"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/xuperchain/capkernel/kernel/common/xident"
	"github.com/xuperchain/capkernel/kernel/host"
	"github.com/xuperchain/capkernel/kernel/syscall"
)

// gas schedule
const (
	CallCost  = 700
	WriteCost = 5000
	LogCost   = 375
)

var (
	ErrNoCode    = errors.New("no procedure at address")
	ErrNoAccount = errors.New("no account at address")
	ErrDetached  = errors.New("no kernel attached")
)

// Procedure is the code run by CallCode.
type Procedure func(f *Frame) ([]byte, error)

// Account is an external account reached through Call.
type Account func(value *uint256.Int, input []byte) ([]byte, error)

// Kernel is the part of the dispatcher a running procedure talks to.
type Kernel interface {
	Call(ctx context.Context, input []byte) ([]byte, error)
	EntryProcedure() (xident.Identity, error)
	CurrentProcedure() (xident.Identity, error)
}

type LogEntry struct {
	Topics []common.Hash
	Data   []byte
}

type Slot struct {
	Key   common.Hash
	Value common.Hash
}

type Host struct {
	kernel   Kernel
	gas      uint64
	procs    map[common.Address]Procedure
	code     map[common.Address][]byte
	accounts map[common.Address]Account
	slots    *redblacktree.Tree
	logs     deque.Deque
}

var _ host.Host = (*Host)(nil)

func New() *Host {
	return &Host{
		procs:    make(map[common.Address]Procedure),
		code:     make(map[common.Address][]byte),
		accounts: make(map[common.Address]Account),
		slots:    redblacktree.NewWith(hashCompare),
	}
}

func hashCompare(a, b interface{}) int {
	ka := a.(common.Hash)
	kb := b.(common.Hash)
	return bytes.Compare(ka[:], kb[:])
}

// Attach connects the kernel that procedures issue syscalls to.
func (h *Host) Attach(k Kernel) {
	h.kernel = k
}

// Deploy places a procedure and its code bytes at addr.
func (h *Host) Deploy(addr common.Address, code []byte, proc Procedure) {
	h.procs[addr] = proc
	h.code[addr] = append([]byte(nil), code...)
}

func (h *Host) SetAccount(addr common.Address, acc Account) {
	h.accounts[addr] = acc
}

// Invoke runs one external invocation of the attached kernel with the given
// gas budget.
func (h *Host) Invoke(ctx context.Context, gas uint64, input []byte) ([]byte, error) {
	if h.kernel == nil {
		return nil, ErrDetached
	}
	h.SetGas(gas)
	return h.kernel.Call(ctx, input)
}

// SetGas sets the budget of the next invocation.
func (h *Host) SetGas(gas uint64) {
	h.gas = gas
}

func (h *Host) GasLeft() uint64 {
	return h.gas
}

func (h *Host) charge(cost uint64) error {
	if h.gas < cost {
		return errors.Wrapf(host.ErrOutOfGas, "need %d, have %d", cost, h.gas)
	}
	h.gas -= cost
	return nil
}

// nested gives the callee gas minus the call cost and returns the unused
// part to the caller when the callee finishes.
func (h *Host) nested(gas uint64, run func() ([]byte, error)) ([]byte, error) {
	if gas > h.gas {
		return nil, errors.Wrapf(host.ErrOutOfGas, "forward %d, have %d", gas, h.gas)
	}
	if gas < CallCost {
		return nil, errors.Wrapf(host.ErrOutOfGas, "forward %d below call cost", gas)
	}
	outer := h.gas - gas
	h.gas = gas - CallCost
	defer func() {
		h.gas += outer
	}()
	return run()
}

func (h *Host) CallCode(ctx context.Context, gas uint64, addr common.Address, input []byte) ([]byte, error) {
	proc, ok := h.procs[addr]
	if !ok {
		return nil, errors.Wrapf(ErrNoCode, "address %s", addr.Hex())
	}
	return h.nested(gas, func() ([]byte, error) {
		return proc(&Frame{ctx: ctx, host: h, Address: addr, Input: input})
	})
}

func (h *Host) Call(ctx context.Context, gas uint64, addr common.Address, value *uint256.Int, input []byte) ([]byte, error) {
	acc, ok := h.accounts[addr]
	if !ok {
		return nil, errors.Wrapf(ErrNoAccount, "address %s", addr.Hex())
	}
	return h.nested(gas, func() ([]byte, error) {
		return acc(value, input)
	})
}

func (h *Host) StorageRead(key common.Hash) (common.Hash, error) {
	v, ok := h.slots.Get(key)
	if !ok {
		return common.Hash{}, nil
	}
	return v.(common.Hash), nil
}

func (h *Host) StorageWrite(key, value common.Hash) error {
	if err := h.charge(WriteCost); err != nil {
		return err
	}
	h.slots.Put(key, value)
	return nil
}

func (h *Host) Log(topics []common.Hash, data []byte) error {
	if err := h.charge(LogCost); err != nil {
		return err
	}
	h.logs.PushBack(LogEntry{
		Topics: append([]common.Hash(nil), topics...),
		Data:   append([]byte(nil), data...),
	})
	return nil
}

func (h *Host) CodeSize(addr common.Address) int {
	return len(h.code[addr])
}

func (h *Host) CodeCopy(addr common.Address) []byte {
	code, ok := h.code[addr]
	if !ok {
		return nil
	}
	return append([]byte(nil), code...)
}

// Slots returns the written storage slots in key order.
func (h *Host) Slots() []Slot {
	out := make([]Slot, 0, h.slots.Size())
	it := h.slots.Iterator()
	for it.Next() {
		out = append(out, Slot{Key: it.Key().(common.Hash), Value: it.Value().(common.Hash)})
	}
	return out
}

// Logs returns the emitted logs oldest first.
func (h *Host) Logs() []LogEntry {
	n := h.logs.Len()
	out := make([]LogEntry, 0, n)
	for i := 0; i < n; i++ {
		e := h.logs.PopFront()
		out = append(out, e.(LogEntry))
		h.logs.PushBack(e)
	}
	return out
}

// Frame is what a running procedure sees of its environment.
type Frame struct {
	ctx     context.Context
	host    *Host
	Address common.Address
	Input   []byte
}

func (f *Frame) Context() context.Context {
	return f.ctx
}

func (f *Frame) GasLeft() uint64 {
	return f.host.gas
}

// Syscall encodes req and hands it to the kernel.
func (f *Frame) Syscall(req syscall.Request) ([]byte, error) {
	raw, err := syscall.Encode(req)
	if err != nil {
		return nil, err
	}
	return f.SyscallRaw(raw)
}

// SyscallRaw hands already encoded bytes to the kernel.
func (f *Frame) SyscallRaw(raw []byte) ([]byte, error) {
	if f.host.kernel == nil {
		return nil, ErrDetached
	}
	return f.host.kernel.Call(f.ctx, raw)
}

func (f *Frame) Read(key common.Hash) (common.Hash, error) {
	return f.host.StorageRead(key)
}

func (f *Frame) EntryProcedure() (xident.Identity, error) {
	if f.host.kernel == nil {
		return xident.Zero, ErrDetached
	}
	return f.host.kernel.EntryProcedure()
}

func (f *Frame) CurrentProcedure() (xident.Identity, error) {
	if f.host.kernel == nil {
		return xident.Zero, ErrDetached
	}
	return f.host.kernel.CurrentProcedure()
}
