package host

import (
	"bytes"

	"github.com/xuperchain/wagon/wasm"
)

// SyscallModule is the import module through which procedures reach the
// kernel. Its imports are never forbidden.
const SyscallModule = "capkernel"

// ForbiddenImports lists the host functions a procedure must not import
// directly, every one of them has a capability-checked syscall instead.
var ForbiddenImports = []string{
	"storage_write",
	"call",
	"ccall",
	"dcall",
	"scall",
	"create",
	"suicide",
	"elog",
}

// WasmValidator accepts wasm modules that decode and import none of the
// forbidden host functions.
type WasmValidator struct {
	forbidden map[string]struct{}
}

func NewWasmValidator() *WasmValidator {
	v := &WasmValidator{forbidden: make(map[string]struct{}, len(ForbiddenImports))}
	for _, name := range ForbiddenImports {
		v.forbidden[name] = struct{}{}
	}
	return v
}

func (v *WasmValidator) IsValid(code []byte) bool {
	if len(code) == 0 {
		return false
	}
	module, err := wasm.DecodeModule(bytes.NewReader(code))
	if err != nil {
		return false
	}
	if module.Import == nil {
		return true
	}
	for _, entry := range module.Import.Entries {
		if entry.ModuleName == SyscallModule {
			continue
		}
		if _, ok := v.forbidden[entry.FieldName]; ok {
			return false
		}
	}
	return true
}
