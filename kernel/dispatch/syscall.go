package dispatch

import (
	"time"

	"github.com/pkg/errors"

	"github.com/xuperchain/capkernel/kernel/capability"
	"github.com/xuperchain/capkernel/kernel/common/xconfig"
	"github.com/xuperchain/capkernel/kernel/common/xcontext"
	"github.com/xuperchain/capkernel/kernel/common/xident"
	"github.com/xuperchain/capkernel/kernel/proctable"
	"github.com/xuperchain/capkernel/kernel/syscall"
	"github.com/xuperchain/capkernel/lib/metrics"
)

// denied reports a refused syscall. It is not an error under the silent
// policy.
type denied struct {
	reason string
}

func deny(format string, args ...interface{}) *denied {
	return &denied{reason: errors.Errorf(format, args...).Error()}
}

func (k *Kernel) syscall(xctx xcontext.XContext, caller xident.Identity, input []byte) ([]byte, error) {
	start := time.Now()
	xlog := xctx.GetLog()
	outcome := metrics.OutcomeOK
	kind := "unknown"
	defer func() {
		metrics.SyscallCounter.WithLabelValues(kind, outcome).Inc()
		metrics.DispatchCounter.WithLabelValues(metrics.ModeSyscall, outcome).Inc()
		metrics.DispatchHistogram.WithLabelValues(metrics.ModeSyscall).Observe(time.Since(start).Seconds())
	}()

	req, err := syscall.Decode(input)
	if err != nil {
		outcome = metrics.OutcomeInvalid
		xlog.Warn("malformed syscall", "caller", caller.Name(), "size", len(input), "err", err)
		return nil, err
	}
	kind = req.Kind().String()

	caps, err := k.table.Capabilities(caller)
	if err != nil {
		outcome = metrics.OutcomeFailed
		return nil, err
	}

	var out []byte
	var refusal *denied
	if !syscall.Authorized(req, caps) {
		refusal = deny("no %s capability", req.CapType())
	} else {
		out, refusal, err = k.execute(xctx, caller, caps, req)
	}
	if err != nil {
		outcome = metrics.OutcomeFailed
		xlog.Warn("syscall failed", "caller", caller.Name(), "kind", kind, "err", err)
		return nil, err
	}
	if refusal != nil {
		outcome = metrics.OutcomeDenied
		xlog.Warn("syscall denied", "caller", caller.Name(), "kind", kind, "reason", refusal.reason)
		if k.conf.DenyPolicy == xconfig.DenyPolicyAbort {
			return nil, errors.Wrapf(ErrCapabilityDenied, "%s by %s: %s", kind, caller.Name(), refusal.reason)
		}
		return nil, nil
	}

	xlog.Debug("syscall done", "caller", caller.Name(), "kind", kind, "out_size", len(out))
	return out, nil
}

// execute runs an authorized request. Checks that depend on kernel state
// rather than on the capability itself are made here.
func (k *Kernel) execute(xctx xcontext.XContext, caller xident.Identity, caps capability.List,
	req syscall.Request) ([]byte, *denied, error) {
	switch r := req.(type) {
	case syscall.Write:
		return nil, nil, k.host.StorageWrite(r.Key, r.Value)

	case syscall.Log:
		return nil, nil, k.host.Log(r.Topics, r.Data)

	case syscall.AccountCall:
		gas, err := k.reserveGas()
		if err != nil {
			return nil, nil, err
		}
		out, err := k.host.Call(xctx, gas, r.Address, &r.Value, r.Data)
		return out, nil, err

	case syscall.Register:
		if r.ID.IsZero() {
			return nil, deny("zero identity is reserved"), nil
		}
		granted, err := capability.DecodeList(r.Caps)
		if err != nil {
			return nil, nil, errors.Wrap(proctable.ErrInvalidCapabilityList, err.Error())
		}
		if !granted.CoveredBy(caps) {
			return nil, deny("%s would gain capabilities %s does not hold", r.ID.Name(), caller.Name()), nil
		}
		return nil, nil, k.table.Insert(r.ID, r.Address, granted)

	case syscall.Delete:
		entry, err := k.table.EntryIdentity()
		if err != nil {
			return nil, nil, err
		}
		if r.ID == entry {
			return nil, deny("%s is the entry procedure", r.ID.Name()), nil
		}
		ok, err := k.table.Has(r.ID)
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			return nil, deny("%s is not registered", r.ID.Name()), nil
		}
		return nil, nil, k.table.Delete(r.ID)

	case syscall.SetEntry:
		ok, err := k.table.Has(r.ID)
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			return nil, deny("%s is not registered", r.ID.Name()), nil
		}
		return nil, nil, k.table.SetEntryIdentity(r.ID)

	case syscall.Call:
		return k.callProcedure(xctx, caller, r)
	}
	return nil, nil, errors.Errorf("unhandled syscall %s", req.Kind())
}

// callProcedure runs r.Target as the current procedure and switches back to
// caller afterwards, whatever the outcome.
func (k *Kernel) callProcedure(xctx xcontext.XContext, caller xident.Identity, r syscall.Call) (out []byte, refusal *denied, err error) {
	addr, ok, err := k.table.LookupAddress(r.Target)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, deny("%s is not registered", r.Target.Name()), nil
	}
	gas, err := k.reserveGas()
	if err != nil {
		return nil, nil, err
	}

	if err := k.table.SetCurrentIdentity(r.Target); err != nil {
		return nil, nil, err
	}
	defer func() {
		if rerr := k.table.SetCurrentIdentity(caller); rerr != nil && err == nil {
			err = rerr
		}
	}()

	out, err = k.host.CallCode(xctx, gas, addr, r.Payload)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "call procedure %s", r.Target.Name())
	}
	return out, nil, nil
}
