// Package dispatch is the kernel state machine. An invocation that finds the
// kernel idle runs the entry procedure, an invocation that arrives while a
// procedure executes is a syscall made by that procedure.
package dispatch

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"

	"github.com/xuperchain/capkernel/kernel/common/xconfig"
	"github.com/xuperchain/capkernel/kernel/common/xcontext"
	"github.com/xuperchain/capkernel/kernel/common/xident"
	"github.com/xuperchain/capkernel/kernel/host"
	"github.com/xuperchain/capkernel/kernel/proctable"
	"github.com/xuperchain/capkernel/lib/logs"
	"github.com/xuperchain/capkernel/lib/metrics"
	"github.com/xuperchain/capkernel/lib/storage/kvdb"
)

var (
	ErrNoEntryProcedure   = errors.New("no entry procedure")
	ErrAlreadyConstructed = errors.New("kernel already constructed")
	ErrCapabilityDenied   = errors.New("capability denied")
)

type Option func(k *Kernel)

// WithValidator replaces the wasm code validity oracle.
func WithValidator(v host.Validator) Option {
	return func(k *Kernel) {
		k.validator = v
	}
}

// WithLogger makes every invocation log through l instead of a fresh logger.
func WithLogger(l logs.Logger) Option {
	return func(k *Kernel) {
		k.newLogger = func() logs.Logger { return l }
	}
}

type Kernel struct {
	conf      *xconfig.KernelConf
	table     *proctable.Table
	host      host.Host
	validator host.Validator
	verdicts  *cache.Cache
	newLogger func() logs.Logger
}

// NewKernel creates a kernel whose table lives in db and which runs
// procedures on h.
func NewKernel(conf *xconfig.KernelConf, db kvdb.Database, h host.Host, opts ...Option) (*Kernel, error) {
	if conf == nil {
		conf = xconfig.GetDefKernelConf()
	}
	if err := conf.Check(); err != nil {
		return nil, err
	}
	if h == nil {
		return nil, errors.New("new kernel param error: nil host")
	}
	table, err := proctable.New(db, conf.CapCacheSize)
	if err != nil {
		return nil, err
	}
	if conf.MetricSwitch {
		metrics.RegisterMetrics()
	}

	k := &Kernel{
		conf:      conf,
		table:     table,
		host:      h,
		validator: host.NewWasmValidator(),
		verdicts:  cache.New(conf.ValidityCacheTTL, 2*conf.ValidityCacheTTL),
		newLogger: func() logs.Logger {
			l, err := logs.NewLogger("", "kernel")
			if err != nil {
				return logs.NewDiscardLogger()
			}
			return l
		},
	}
	for _, opt := range opts {
		opt(k)
	}
	return k, nil
}

func (k *Kernel) Table() *proctable.Table {
	return k.table
}

// Construct registers the entry procedure. It succeeds once per table.
func (k *Kernel) Construct(name string, addr common.Address, words []common.Hash) error {
	entry, err := k.table.EntryIdentity()
	if err != nil {
		return err
	}
	if !entry.IsZero() {
		return errors.Wrapf(ErrAlreadyConstructed, "entry procedure %s", entry.Name())
	}

	return k.table.InsertEntry(xident.FromName(name), addr, words)
}

func (k *Kernel) opCtx(ctx context.Context) xcontext.XContext {
	if xctx, ok := xcontext.FromContext(ctx); ok {
		return xctx
	}
	return xcontext.NewOpCtx(ctx, k.newLogger())
}

// Call is the single kernel entry point.
func (k *Kernel) Call(ctx context.Context, input []byte) ([]byte, error) {
	xctx := k.opCtx(ctx)
	current, err := k.table.CurrentIdentity()
	if err != nil {
		return nil, err
	}

	if current.IsZero() {
		return k.enter(xctx, input)
	}
	return k.syscall(xctx, current, input)
}

// reserveGas returns the gas forwarded to a nested invocation.
func (k *Kernel) reserveGas() (uint64, error) {
	left := k.host.GasLeft()
	if left <= k.conf.GasReserve {
		return 0, errors.Wrapf(host.ErrOutOfGas, "gas left %d, reserve %d", left, k.conf.GasReserve)
	}
	return left - k.conf.GasReserve, nil
}

func (k *Kernel) enter(xctx xcontext.XContext, input []byte) (out []byte, err error) {
	start := time.Now()
	xlog := xctx.GetLog()
	defer func() {
		outcome := metrics.OutcomeOK
		if err != nil {
			outcome = metrics.OutcomeFailed
		}
		metrics.DispatchCounter.WithLabelValues(metrics.ModeEntry, outcome).Inc()
		metrics.DispatchHistogram.WithLabelValues(metrics.ModeEntry).Observe(time.Since(start).Seconds())
	}()

	entry, err := k.table.EntryIdentity()
	if err != nil {
		return nil, err
	}
	if entry.IsZero() {
		return nil, ErrNoEntryProcedure
	}
	addr, ok, err := k.table.LookupAddress(entry)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Wrapf(ErrNoEntryProcedure, "entry %s has no address", entry.Name())
	}
	gas, err := k.reserveGas()
	if err != nil {
		return nil, err
	}

	if err := k.table.SetCurrentIdentity(entry); err != nil {
		return nil, err
	}
	defer func() {
		if rerr := k.table.SetCurrentIdentity(xident.Zero); rerr != nil {
			xlog.Error("reset current procedure failed", "err", rerr)
			if err == nil {
				err = rerr
			}
		}
	}()
	xctx.GetTimer().Mark("resolve_entry")

	out, err = k.host.CallCode(xctx, gas, addr, input)
	xctx.GetTimer().Mark("run_entry")
	if err != nil {
		xlog.Warn("entry procedure failed", "entry", entry.Name(), "err", err)
		return nil, errors.Wrapf(err, "run entry procedure %s", entry.Name())
	}
	xlog.Info("kernel invocation done", "entry", entry.Name(), "gas", gas,
		"out_size", len(out), "timer", xctx.GetTimer().Print())
	return out, nil
}
