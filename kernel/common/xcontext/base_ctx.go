// Package xcontext carries the per-invocation logger and stage timer
// alongside a standard context.
package xcontext

import (
	"context"

	"github.com/xuperchain/capkernel/lib/logs"
	"github.com/xuperchain/capkernel/lib/timer"
)

type XContext interface {
	context.Context
	GetLog() logs.Logger
	GetTimer() *timer.XTimer
}

// BaseCtx holds the members every kernel operation needs.
type BaseCtx struct {
	XLog  logs.Logger
	Timer *timer.XTimer
}

func (t *BaseCtx) GetLog() logs.Logger {
	return t.XLog
}

func (t *BaseCtx) GetTimer() *timer.XTimer {
	return t.Timer
}

// OpCtx is the context of one kernel invocation. Nested invocations made by
// the host reuse it so that every record of one call chain shares a log id.
type OpCtx struct {
	context.Context
	BaseCtx
}

// NewOpCtx wraps parent. A nil logger is replaced with a discarding one.
func NewOpCtx(parent context.Context, xlog logs.Logger) *OpCtx {
	if parent == nil {
		parent = context.Background()
	}
	if xlog == nil {
		xlog = logs.NewDiscardLogger()
	}
	return &OpCtx{
		Context: parent,
		BaseCtx: BaseCtx{XLog: xlog, Timer: timer.NewXTimer()},
	}
}

// FromContext returns ctx itself when it already is an XContext.
func FromContext(ctx context.Context) (XContext, bool) {
	xctx, ok := ctx.(XContext)
	return xctx, ok
}
