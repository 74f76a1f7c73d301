// Package endpoint exposes the kernel through the Ethereum contract ABI: a
// constructor, the dispatcher entry point and read-only queries.
package endpoint

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/xuperchain/capkernel/kernel/dispatch"
)

var (
	ErrUnknownMethod = errors.New("unknown method")
	ErrBadArguments  = errors.New("bad arguments")
)

const KernelABI = `[
	{"type":"constructor","inputs":[
		{"name":"procName","type":"string"},
		{"name":"procAddress","type":"address"},
		{"name":"capabilities","type":"uint256[]"}]},
	{"type":"function","name":"entryProcedure","stateMutability":"view","inputs":[],
		"outputs":[{"name":"","type":"bytes24"}]},
	{"type":"function","name":"currentProcedure","stateMutability":"view","inputs":[],
		"outputs":[{"name":"","type":"bytes24"}]},
	{"type":"function","name":"getProcedureByKey","stateMutability":"view",
		"inputs":[{"name":"procName","type":"string"}],
		"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"checkContract","stateMutability":"view",
		"inputs":[{"name":"target","type":"address"}],
		"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"getCodeSize","stateMutability":"view",
		"inputs":[{"name":"target","type":"address"}],
		"outputs":[{"name":"","type":"int32"}]},
	{"type":"function","name":"codeCopy","stateMutability":"view",
		"inputs":[{"name":"target","type":"address"}],
		"outputs":[{"name":"","type":"bytes"}]},
	{"type":"function","name":"getCapTypeLen","stateMutability":"view",
		"inputs":[{"name":"procName","type":"string"},{"name":"capType","type":"uint256"}],
		"outputs":[{"name":"","type":"uint256"}]}
]`

type Endpoint struct {
	kernel *dispatch.Kernel
	abi    abi.ABI
}

func New(k *dispatch.Kernel) (*Endpoint, error) {
	parsed, err := abi.JSON(strings.NewReader(KernelABI))
	if err != nil {
		return nil, errors.Wrap(err, "parse kernel abi")
	}
	return &Endpoint{kernel: k, abi: parsed}, nil
}

func (e *Endpoint) ABI() abi.ABI {
	return e.abi
}

// Deploy unpacks the constructor arguments and constructs the kernel.
func (e *Endpoint) Deploy(input []byte) error {
	args, err := e.abi.Constructor.Inputs.Unpack(input)
	if err != nil {
		return errors.Wrap(ErrBadArguments, err.Error())
	}
	name := args[0].(string)
	addr := args[1].(common.Address)
	caps := args[2].([]*big.Int)

	words := make([]common.Hash, len(caps))
	for i, c := range caps {
		words[i] = common.BigToHash(c)
	}
	return e.kernel.Construct(name, addr, words)
}

// Call hands the raw input to the dispatcher.
func (e *Endpoint) Call(ctx context.Context, input []byte) ([]byte, error) {
	return e.kernel.Call(ctx, input)
}

// Query answers the read-only methods selected by the first four bytes of
// input.
func (e *Endpoint) Query(input []byte) ([]byte, error) {
	if len(input) < 4 {
		return nil, errors.Wrapf(ErrUnknownMethod, "input of %d bytes", len(input))
	}
	method, err := e.abi.MethodById(input[:4])
	if err != nil {
		return nil, errors.Wrapf(ErrUnknownMethod, "selector %x", input[:4])
	}
	args, err := method.Inputs.Unpack(input[4:])
	if err != nil {
		return nil, errors.Wrap(ErrBadArguments, err.Error())
	}

	var result interface{}
	switch method.Name {
	case "entryProcedure":
		id, err := e.kernel.EntryProcedure()
		if err != nil {
			return nil, err
		}
		result = [24]byte(id)
	case "currentProcedure":
		id, err := e.kernel.CurrentProcedure()
		if err != nil {
			return nil, err
		}
		result = [24]byte(id)
	case "getProcedureByKey":
		addr, err := e.kernel.ProcedureAddress(args[0].(string))
		if err != nil {
			return nil, err
		}
		result = addr
	case "checkContract":
		result = e.kernel.CheckContract(args[0].(common.Address))
	case "getCodeSize":
		result = int32(e.kernel.CodeSize(args[0].(common.Address)))
	case "codeCopy":
		result = e.kernel.CodeCopy(args[0].(common.Address))
	case "getCapTypeLen":
		var n uint32
		if tag := args[1].(*big.Int); tag.IsUint64() && tag.Uint64() <= 0xff {
			n, err = e.kernel.CapTypeLen(args[0].(string), uint8(tag.Uint64()))
			if err != nil {
				return nil, err
			}
		}
		result = new(big.Int).SetUint64(uint64(n))
	default:
		return nil, errors.Wrapf(ErrUnknownMethod, "method %s", method.Name)
	}
	return method.Outputs.Pack(result)
}
