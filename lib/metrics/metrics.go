package metrics

import (
	"sync"

	prom "github.com/prometheus/client_golang/prometheus"
)

const (
	Namespace = "capkernel"

	SubsystemDispatch = "dispatch"
	SubsystemSyscall  = "syscall"
	SubsystemTable    = "proctable"

	LabelMode    = "mode"
	LabelKind    = "kind"
	LabelOutcome = "outcome"
	LabelOp      = "op"
)

// label values
const (
	ModeEntry   = "entry"
	ModeSyscall = "syscall"

	OutcomeOK      = "ok"
	OutcomeDenied  = "denied"
	OutcomeFailed  = "failed"
	OutcomeInvalid = "invalid"
)

// dispatch
var (
	DispatchCounter = prom.NewCounterVec(
		prom.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemDispatch,
			Name:      "invoke_total",
			Help:      "Total number of kernel invocations.",
		},
		[]string{LabelMode, LabelOutcome})
	DispatchHistogram = prom.NewHistogramVec(
		prom.HistogramOpts{
			Namespace: Namespace,
			Subsystem: SubsystemDispatch,
			Name:      "invoke_seconds",
			Help:      "Histogram of kernel invocation latency.",
			Buckets:   prom.DefBuckets,
		},
		[]string{LabelMode})
)

// syscall
var (
	SyscallCounter = prom.NewCounterVec(
		prom.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemSyscall,
			Name:      "total",
			Help:      "Total number of syscalls by kind and outcome.",
		},
		[]string{LabelKind, LabelOutcome})
)

// procedure table
var (
	TableOpCounter = prom.NewCounterVec(
		prom.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemTable,
			Name:      "op_total",
			Help:      "Total number of procedure table mutations.",
		},
		[]string{LabelOp})
)

var registerOnce sync.Once

// RegisterMetrics registers every collector on the default registry once.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prom.MustRegister(DispatchCounter)
		prom.MustRegister(DispatchHistogram)
		prom.MustRegister(SyscallCounter)
		prom.MustRegister(TableOpCounter)
	})
}
