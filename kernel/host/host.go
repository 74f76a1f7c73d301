// Package host defines what the kernel needs from the environment it runs
// in: gas accounting, code invocation, storage, logs and code inspection.
package host

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

var ErrOutOfGas = errors.New("out of gas")

// Host executes on behalf of the kernel. CallCode runs the code at addr in
// the kernel's own context, Call runs an external account.
type Host interface {
	GasLeft() uint64
	CallCode(ctx context.Context, gas uint64, addr common.Address, input []byte) ([]byte, error)
	Call(ctx context.Context, gas uint64, addr common.Address, value *uint256.Int, input []byte) ([]byte, error)
	StorageRead(key common.Hash) (common.Hash, error)
	StorageWrite(key, value common.Hash) error
	Log(topics []common.Hash, data []byte) error
	CodeSize(addr common.Address) int
	CodeCopy(addr common.Address) []byte
}

// Validator decides whether code may be registered as a procedure.
type Validator interface {
	IsValid(code []byte) bool
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(code []byte) bool

func (f ValidatorFunc) IsValid(code []byte) bool {
	return f(code)
}
