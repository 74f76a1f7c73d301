package dispatch

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/patrickmn/go-cache"

	"github.com/xuperchain/capkernel/kernel/capability"
	"github.com/xuperchain/capkernel/kernel/common/xident"
)

func (k *Kernel) EntryProcedure() (xident.Identity, error) {
	return k.table.EntryIdentity()
}

func (k *Kernel) CurrentProcedure() (xident.Identity, error) {
	return k.table.CurrentIdentity()
}

// ProcedureAddress returns the address registered under name, the zero
// address when there is none.
func (k *Kernel) ProcedureAddress(name string) (common.Address, error) {
	addr, _, err := k.table.LookupAddress(xident.FromName(name))
	return addr, err
}

// CheckContract reports whether the code at addr is acceptable procedure
// code. Verdicts are cached by code hash.
func (k *Kernel) CheckContract(addr common.Address) bool {
	if addr == (common.Address{}) {
		return false
	}
	code := k.host.CodeCopy(addr)
	key := crypto.Keccak256Hash(code).Hex()
	if v, ok := k.verdicts.Get(key); ok {
		return v.(bool)
	}
	valid := k.validator.IsValid(code)
	k.verdicts.Set(key, valid, cache.DefaultExpiration)
	return valid
}

func (k *Kernel) CodeSize(addr common.Address) int {
	return k.host.CodeSize(addr)
}

func (k *Kernel) CodeCopy(addr common.Address) []byte {
	return k.host.CodeCopy(addr)
}

// CapTypeLen returns how many capabilities of type tag the procedure name
// holds. Unknown procedures and unknown tags yield 0.
func (k *Kernel) CapTypeLen(name string, tag uint8) (uint32, error) {
	t := capability.Type(tag)
	if !t.Valid() {
		return 0, nil
	}
	return k.table.CapabilityCount(xident.FromName(name), t)
}
