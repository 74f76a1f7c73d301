package dispatch

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/xuperchain/capkernel/kernel/capability"
	"github.com/xuperchain/capkernel/kernel/common/xconfig"
	"github.com/xuperchain/capkernel/kernel/common/xident"
	"github.com/xuperchain/capkernel/kernel/host"
	"github.com/xuperchain/capkernel/kernel/host/memhost"
	"github.com/xuperchain/capkernel/kernel/proctable"
	"github.com/xuperchain/capkernel/kernel/syscall"
	"github.com/xuperchain/capkernel/lib/logs"
	"github.com/xuperchain/capkernel/lib/storage/kvdb"
	_ "github.com/xuperchain/capkernel/lib/storage/kvdb/leveldb"
)

const testGas = 1000000

var (
	entryAddr = common.HexToAddress("0xe0")
	childAddr = common.HexToAddress("0xc0")
)

func newTestKernel(t *testing.T, conf *xconfig.KernelConf) (*Kernel, *memhost.Host) {
	db, err := kvdb.CreateKVInstance(&kvdb.KVParameter{
		KVEngineType: kvdb.KVEngineTypeLDB,
		StorageType:  kvdb.StorageTypeMemory,
	})
	if err != nil {
		t.Fatalf("create kv instance failed.err:%v", err)
	}
	t.Cleanup(db.Close)

	h := memhost.New()
	k, err := NewKernel(conf, db, h, WithLogger(logs.NewDiscardLogger()))
	if err != nil {
		t.Fatalf("new kernel failed.err:%v", err)
	}
	h.Attach(k)
	return k, h
}

func hashOf(v uint64) common.Hash {
	return new(uint256.Int).SetUint64(v).Bytes32()
}

func storeWrite(location, size uint64) capability.StoreWrite {
	var sw capability.StoreWrite
	sw.Location.SetUint64(location)
	sw.Size.SetUint64(size)
	return sw
}

func anyKey() capability.KeyPrefix {
	return capability.KeyPrefix{Prefix: 0}
}

func mustConstruct(t *testing.T, k *Kernel, caps capability.List) {
	if err := k.Construct("init", entryAddr, caps.Words()); err != nil {
		t.Fatalf("construct failed.err:%v", err)
	}
}

func TestConstruct(t *testing.T) {
	k, _ := newTestKernel(t, nil)

	bad := []common.Hash{hashOf(5), hashOf(uint64(capability.TypeStoreWrite))}
	if err := k.Construct("init", entryAddr, bad); errors.Cause(err) != proctable.ErrInvalidCapabilityList {
		t.Fatalf("expect ErrInvalidCapabilityList, got %v", err)
	}
	if entry, _ := k.EntryProcedure(); !entry.IsZero() {
		t.Fatalf("failed construct set the entry procedure")
	}

	mustConstruct(t, k, capability.List{storeWrite(0x8000, 1)})
	entry, _ := k.EntryProcedure()
	if entry != xident.FromName("init") {
		t.Errorf("entry = %s", entry.Name())
	}
	current, _ := k.CurrentProcedure()
	if !current.IsZero() {
		t.Errorf("current must be zero after construct")
	}
	ids, _ := k.Table().Procedures()
	if len(ids) != 1 {
		t.Errorf("expect one procedure, got %d", len(ids))
	}
	if n, _ := k.CapTypeLen("init", uint8(capability.TypeStoreWrite)); n != 1 {
		t.Errorf("store write count = %d", n)
	}

	if err := k.Construct("again", childAddr, nil); errors.Cause(err) != ErrAlreadyConstructed {
		t.Errorf("expect ErrAlreadyConstructed, got %v", err)
	}
}

func TestNoEntryProcedure(t *testing.T) {
	k, _ := newTestKernel(t, nil)
	if _, err := k.Call(context.Background(), nil); errors.Cause(err) != ErrNoEntryProcedure {
		t.Errorf("expect ErrNoEntryProcedure, got %v", err)
	}
}

func TestEntryObservesCurrent(t *testing.T) {
	k, h := newTestKernel(t, nil)
	mustConstruct(t, k, nil)

	var observed xident.Identity
	fail := false
	h.Deploy(entryAddr, nil, func(f *memhost.Frame) ([]byte, error) {
		observed, _ = f.CurrentProcedure()
		if fail {
			return nil, errors.New("procedure failed")
		}
		return append([]byte("echo:"), f.Input...), nil
	})

	out, err := h.Invoke(context.Background(), testGas, []byte("x"))
	if err != nil || string(out) != "echo:x" {
		t.Fatalf("unexpected result %s %v", out, err)
	}
	if observed != xident.FromName("init") {
		t.Errorf("entry procedure observed current %s", observed.Name())
	}
	if current, _ := k.CurrentProcedure(); !current.IsZero() {
		t.Errorf("current not reset after invocation")
	}

	fail = true
	if _, err := h.Invoke(context.Background(), testGas, nil); err == nil {
		t.Errorf("nested failure must be returned")
	}
	if current, _ := k.CurrentProcedure(); !current.IsZero() {
		t.Errorf("current not reset after failed invocation")
	}
}

func TestEntryPanicResetsCurrent(t *testing.T) {
	k, h := newTestKernel(t, nil)
	mustConstruct(t, k, nil)
	h.Deploy(entryAddr, nil, func(f *memhost.Frame) ([]byte, error) {
		panic("trap")
	})

	func() {
		defer func() {
			if recover() == nil {
				t.Errorf("expected the trap to propagate")
			}
		}()
		h.Invoke(context.Background(), testGas, nil)
	}()
	if current, _ := k.CurrentProcedure(); !current.IsZero() {
		t.Errorf("current not reset after trap")
	}
}

func TestEntryOutOfGas(t *testing.T) {
	k, h := newTestKernel(t, nil)
	mustConstruct(t, k, nil)
	h.Deploy(entryAddr, nil, func(f *memhost.Frame) ([]byte, error) {
		t.Errorf("entry must not run without gas")
		return nil, nil
	})

	_, err := h.Invoke(context.Background(), xconfig.GetDefKernelConf().GasReserve, nil)
	if errors.Cause(err) != host.ErrOutOfGas {
		t.Errorf("expect ErrOutOfGas, got %v", err)
	}
	if current, _ := k.CurrentProcedure(); !current.IsZero() {
		t.Errorf("current must stay zero")
	}
}

func allRequests() []syscall.Request {
	return []syscall.Request{
		syscall.Write{Key: hashOf(0x8000), Value: hashOf(1)},
		syscall.Log{Topics: []common.Hash{hashOf(1)}, Data: []byte("d")},
		syscall.Register{ID: xident.FromName("child"), Address: childAddr},
		syscall.Delete{ID: xident.FromName("init")},
		syscall.SetEntry{ID: xident.FromName("init")},
		syscall.Call{Target: xident.FromName("init")},
		syscall.AccountCall{Address: common.HexToAddress("0xbeef")},
	}
}

func TestEmptyCapabilitiesDenyEverything(t *testing.T) {
	k, h := newTestKernel(t, nil)
	mustConstruct(t, k, nil)
	h.SetAccount(common.HexToAddress("0xbeef"), func(value *uint256.Int, input []byte) ([]byte, error) {
		t.Errorf("account must not be reached")
		return nil, nil
	})

	h.Deploy(entryAddr, nil, func(f *memhost.Frame) ([]byte, error) {
		for _, req := range allRequests() {
			out, err := f.Syscall(req)
			if out != nil || err != nil {
				t.Errorf("%s: expect silent denial, got %v %v", req.Kind(), out, err)
			}
		}
		return nil, nil
	})

	if _, err := h.Invoke(context.Background(), testGas, nil); err != nil {
		t.Fatal(err)
	}
	if len(h.Slots()) != 0 || len(h.Logs()) != 0 {
		t.Errorf("denied syscalls changed host state")
	}
	ids, _ := k.Table().Procedures()
	if len(ids) != 1 || ids[0] != xident.FromName("init") {
		t.Errorf("denied syscalls changed the table: %v", ids)
	}
	if entry, _ := k.EntryProcedure(); entry != xident.FromName("init") {
		t.Errorf("entry changed to %s", entry.Name())
	}
}

func TestAbortPolicy(t *testing.T) {
	conf := xconfig.GetDefKernelConf()
	conf.DenyPolicy = xconfig.DenyPolicyAbort
	k, h := newTestKernel(t, conf)
	mustConstruct(t, k, capability.List{storeWrite(0x10, 1)})

	h.Deploy(entryAddr, nil, func(f *memhost.Frame) ([]byte, error) {
		if _, err := f.Syscall(syscall.Write{Key: hashOf(0x10), Value: hashOf(1)}); err != nil {
			return nil, err
		}
		return f.Syscall(syscall.Write{Key: hashOf(0x11), Value: hashOf(1)})
	})

	_, err := h.Invoke(context.Background(), testGas, nil)
	if errors.Cause(err) != ErrCapabilityDenied {
		t.Errorf("expect ErrCapabilityDenied, got %v", err)
	}
	if slots := h.Slots(); len(slots) != 1 || slots[0].Key != hashOf(0x10) {
		t.Errorf("unexpected slots %v", slots)
	}
}

func TestMalformedSyscallAborts(t *testing.T) {
	k, h := newTestKernel(t, nil)
	mustConstruct(t, k, capability.List{storeWrite(0, 0x100)})

	valid, _ := syscall.Encode(syscall.Write{Key: hashOf(1), Value: hashOf(1)})
	for _, raw := range [][]byte{nil, {0xff}, valid[:len(valid)-3]} {
		input := raw
		h.Deploy(entryAddr, nil, func(f *memhost.Frame) ([]byte, error) {
			return f.SyscallRaw(input)
		})
		_, err := h.Invoke(context.Background(), testGas, nil)
		if errors.Cause(err) != syscall.ErrMalformedSyscall {
			t.Errorf("expect ErrMalformedSyscall for %x, got %v", input, err)
		}
		if current, _ := k.CurrentProcedure(); !current.IsZero() {
			t.Errorf("current not reset after malformed syscall")
		}
	}
	if len(h.Slots()) != 0 {
		t.Errorf("malformed syscall wrote storage")
	}
}

func TestWriteAndLog(t *testing.T) {
	k, h := newTestKernel(t, nil)
	logCap := capability.Log{Topics: 1}
	logCap.Pinned[0] = hashOf(0xaa)
	mustConstruct(t, k, capability.List{storeWrite(0x8000, 2), logCap})

	h.Deploy(entryAddr, nil, func(f *memhost.Frame) ([]byte, error) {
		f.Syscall(syscall.Write{Key: hashOf(0x8001), Value: hashOf(7)})
		f.Syscall(syscall.Write{Key: hashOf(0x8002), Value: hashOf(8)})
		f.Syscall(syscall.Log{Topics: []common.Hash{hashOf(0xaa), hashOf(1)}, Data: []byte("ok")})
		f.Syscall(syscall.Log{Topics: []common.Hash{hashOf(0xbb)}, Data: []byte("no")})
		return nil, nil
	})
	if _, err := h.Invoke(context.Background(), testGas, nil); err != nil {
		t.Fatal(err)
	}

	slots := h.Slots()
	if len(slots) != 1 || slots[0].Key != hashOf(0x8001) || slots[0].Value != hashOf(7) {
		t.Errorf("unexpected slots %v", slots)
	}
	emitted := h.Logs()
	if len(emitted) != 1 || string(emitted[0].Data) != "ok" {
		t.Errorf("unexpected logs %v", emitted)
	}
}

func TestRegisterAndCall(t *testing.T) {
	k, h := newTestKernel(t, nil)
	mustConstruct(t, k, capability.List{
		capability.ProcedureRegister{KeyPrefix: anyKey()},
		capability.ProcedureCall{KeyPrefix: anyKey()},
		storeWrite(0x100, 0x100),
	})

	var inChild, afterChild xident.Identity
	h.Deploy(childAddr, nil, func(f *memhost.Frame) ([]byte, error) {
		inChild, _ = f.CurrentProcedure()
		if _, err := f.Syscall(syscall.Write{Key: hashOf(0x180), Value: hashOf(1)}); err != nil {
			return nil, err
		}
		return []byte("child:" + string(f.Input)), nil
	})

	var out []byte
	h.Deploy(entryAddr, nil, func(f *memhost.Frame) ([]byte, error) {
		child := capability.List{storeWrite(0x180, 1)}
		if _, err := f.Syscall(syscall.Register{ID: xident.FromName("child"), Address: childAddr, Caps: child.Words()}); err != nil {
			return nil, err
		}
		var err error
		out, err = f.Syscall(syscall.Call{Target: xident.FromName("child"), Payload: []byte("hi")})
		afterChild, _ = f.CurrentProcedure()
		return out, err
	})

	res, err := h.Invoke(context.Background(), testGas, nil)
	if err != nil {
		t.Fatal(err)
	}
	if string(res) != "child:hi" {
		t.Errorf("unexpected output %s", res)
	}
	if inChild != xident.FromName("child") || afterChild != xident.FromName("init") {
		t.Errorf("current during child %s, after child %s", inChild.Name(), afterChild.Name())
	}
	if slots := h.Slots(); len(slots) != 1 || slots[0].Key != hashOf(0x180) {
		t.Errorf("unexpected slots %v", slots)
	}
	if addr, _ := k.ProcedureAddress("child"); addr != childAddr {
		t.Errorf("child address %s", addr.Hex())
	}
	if n, _ := k.CapTypeLen("child", uint8(capability.TypeStoreWrite)); n != 1 {
		t.Errorf("child store write count %d", n)
	}
}

func TestRegisterCannotEscalate(t *testing.T) {
	k, h := newTestKernel(t, nil)
	mustConstruct(t, k, capability.List{
		capability.ProcedureRegister{KeyPrefix: anyKey()},
		storeWrite(0x100, 0x10),
	})

	h.Deploy(entryAddr, nil, func(f *memhost.Frame) ([]byte, error) {
		grants := []capability.List{
			{storeWrite(0x100, 0x11)},
			{capability.ProcedureCall{KeyPrefix: anyKey()}},
			{capability.ProcedureEntry{}},
		}
		for _, g := range grants {
			f.Syscall(syscall.Register{ID: xident.FromName("child"), Address: childAddr, Caps: g.Words()})
		}
		return nil, nil
	})
	if _, err := h.Invoke(context.Background(), testGas, nil); err != nil {
		t.Fatal(err)
	}
	if addr, _ := k.ProcedureAddress("child"); addr != (common.Address{}) {
		t.Errorf("escalating registration succeeded")
	}
}

func TestRegisterMalformedCapabilitiesAborts(t *testing.T) {
	k, h := newTestKernel(t, nil)
	mustConstruct(t, k, capability.List{capability.ProcedureRegister{KeyPrefix: anyKey()}})

	h.Deploy(entryAddr, nil, func(f *memhost.Frame) ([]byte, error) {
		return f.Syscall(syscall.Register{ID: xident.FromName("child"), Address: childAddr, Caps: []common.Hash{hashOf(9)}})
	})
	_, err := h.Invoke(context.Background(), testGas, nil)
	if errors.Cause(err) != proctable.ErrInvalidCapabilityList {
		t.Errorf("expect ErrInvalidCapabilityList, got %v", err)
	}
}

func TestDeleteAndSetEntry(t *testing.T) {
	k, h := newTestKernel(t, nil)
	mustConstruct(t, k, capability.List{
		capability.ProcedureRegister{KeyPrefix: anyKey()},
		capability.ProcedureDelete{KeyPrefix: anyKey()},
		capability.ProcedureEntry{},
	})

	h.Deploy(entryAddr, nil, func(f *memhost.Frame) ([]byte, error) {
		child := xident.FromName("child")
		other := xident.FromName("other")
		f.Syscall(syscall.Register{ID: child, Address: childAddr})
		f.Syscall(syscall.Register{ID: other, Address: childAddr})
		// the entry procedure cannot be removed
		f.Syscall(syscall.Delete{ID: xident.FromName("init")})
		f.Syscall(syscall.Delete{ID: other})
		// unknown procedures cannot become the entry
		f.Syscall(syscall.SetEntry{ID: other})
		f.Syscall(syscall.SetEntry{ID: child})
		return nil, nil
	})
	if _, err := h.Invoke(context.Background(), testGas, nil); err != nil {
		t.Fatal(err)
	}

	ids, _ := k.Table().Procedures()
	if len(ids) != 2 || ids[0] != xident.FromName("child") || ids[1] != xident.FromName("init") {
		t.Errorf("unexpected procedures %v", ids)
	}
	if entry, _ := k.EntryProcedure(); entry != xident.FromName("child") {
		t.Errorf("entry = %s", entry.Name())
	}
}

func TestAccountCall(t *testing.T) {
	k, h := newTestKernel(t, nil)
	beef := common.HexToAddress("0xbeef")
	mustConstruct(t, k, capability.List{capability.AccountCall{Address: beef}})

	var received []byte
	h.SetAccount(beef, func(value *uint256.Int, input []byte) ([]byte, error) {
		received = input
		return []byte("paid"), nil
	})
	h.Deploy(entryAddr, nil, func(f *memhost.Frame) ([]byte, error) {
		// value transfer needs the can-send flag
		if out, _ := f.Syscall(syscall.AccountCall{Address: beef, Value: syscall.NewValue(1), Data: []byte("v")}); out != nil {
			t.Errorf("value transfer must be denied")
		}
		return f.Syscall(syscall.AccountCall{Address: beef, Data: []byte("ping")})
	})

	out, err := h.Invoke(context.Background(), testGas, nil)
	if err != nil || string(out) != "paid" || string(received) != "ping" {
		t.Errorf("unexpected result %s %v received %s", out, err, received)
	}
}

func TestIntrospection(t *testing.T) {
	calls := 0
	validator := host.ValidatorFunc(func(code []byte) bool {
		calls++
		return len(code) > 0 && code[0] == 0x00
	})

	db, _ := kvdb.CreateKVInstance(&kvdb.KVParameter{KVEngineType: kvdb.KVEngineTypeLDB, StorageType: kvdb.StorageTypeMemory})
	defer db.Close()
	h := memhost.New()
	k, err := NewKernel(nil, db, h, WithValidator(validator), WithLogger(logs.NewDiscardLogger()))
	if err != nil {
		t.Fatal(err)
	}
	h.Deploy(entryAddr, []byte{0x00, 0x61}, nil)
	h.Deploy(childAddr, []byte{0x60, 0x80}, nil)

	if k.CheckContract(common.Address{}) {
		t.Errorf("zero address must not be a valid contract")
	}
	if !k.CheckContract(entryAddr) || !k.CheckContract(entryAddr) {
		t.Errorf("valid code rejected")
	}
	if k.CheckContract(childAddr) {
		t.Errorf("invalid code accepted")
	}
	if calls != 2 {
		t.Errorf("validator called %d times, verdicts not cached", calls)
	}

	if k.CodeSize(entryAddr) != 2 || len(k.CodeCopy(childAddr)) != 2 {
		t.Errorf("unexpected code")
	}
	if addr, err := k.ProcedureAddress("nonexistent"); err != nil || addr != (common.Address{}) {
		t.Errorf("unknown procedure address %s %v", addr.Hex(), err)
	}
	if n, err := k.CapTypeLen("nonexistent", 99); n != 0 || err != nil {
		t.Errorf("unknown tag must count 0")
	}
}
