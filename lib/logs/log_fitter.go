package logs

import (
	"fmt"
	"os"
	"sync"

	"github.com/xuperchain/capkernel/lib/utils"
)

// Reserve common key
const (
	CommFieldLogId = "log_id"
	CommFieldPid   = "pid"
	CommFieldCall  = "call"
)

const (
	DefaultCallDepth = 4
)

// Logger is a thin layer over LogDriver which assembles the common fields
// every kernel record carries.
type Logger interface {
	GetLogId() string
	SetCommField(key string, value interface{})
	SetInfoField(key string, value interface{})
	Error(msg string, ctx ...interface{})
	Warn(msg string, ctx ...interface{})
	Info(msg string, ctx ...interface{})
	Trace(msg string, ctx ...interface{})
	Debug(msg string, ctx ...interface{})
}

type LogFitter struct {
	logger     LogDriver
	logId      string
	pid        int
	callDepth  int
	fieldLck   sync.RWMutex
	commFields []interface{}
	// info fields are attached to the next Info record only
	infoFields []interface{}
}

func NewLogFitter(logger LogDriver, logId string) (*LogFitter, error) {
	if logger == nil {
		return nil, fmt.Errorf("new logger param error")
	}
	if logId == "" {
		logId = GenLogId()
	}

	return &LogFitter{
		logger:     logger,
		logId:      logId,
		pid:        os.Getpid(),
		callDepth:  DefaultCallDepth,
		commFields: make([]interface{}, 0),
		infoFields: make([]interface{}, 0),
	}, nil
}

// GenLogId generates a log id for one kernel invocation.
func GenLogId() string {
	return utils.GenLogId()
}

func (t *LogFitter) GetLogId() string {
	return t.logId
}

func (t *LogFitter) SetCommField(key string, value interface{}) {
	if key == "" || value == nil {
		return
	}

	t.fieldLck.Lock()
	defer t.fieldLck.Unlock()
	t.commFields = append(t.commFields, key, value)
}

func (t *LogFitter) SetInfoField(key string, value interface{}) {
	if key == "" || value == nil {
		return
	}

	t.fieldLck.Lock()
	defer t.fieldLck.Unlock()
	t.infoFields = append(t.infoFields, key, value)
}

func (t *LogFitter) Error(msg string, ctx ...interface{}) {
	t.logger.Error(msg, t.fmtLogger(false, ctx...)...)
}

func (t *LogFitter) Warn(msg string, ctx ...interface{}) {
	t.logger.Warn(msg, t.fmtLogger(false, ctx...)...)
}

func (t *LogFitter) Info(msg string, ctx ...interface{}) {
	t.logger.Info(msg, t.fmtLogger(true, ctx...)...)
}

func (t *LogFitter) Trace(msg string, ctx ...interface{}) {
	t.logger.Trace(msg, t.fmtLogger(false, ctx...)...)
}

func (t *LogFitter) Debug(msg string, ctx ...interface{}) {
	t.logger.Debug(msg, t.fmtLogger(false, ctx...)...)
}

func (t *LogFitter) genBaseField() []interface{} {
	fileLine, _ := utils.GetFuncCall(t.callDepth)

	// log_id stays first so that it can be replaced in place
	return []interface{}{
		CommFieldLogId, t.logId,
		CommFieldCall, fileLine,
		CommFieldPid, t.pid,
	}
}

func (t *LogFitter) fmtLogger(withInfo bool, ctx ...interface{}) []interface{} {
	if len(ctx)%2 != 0 {
		last := ctx[len(ctx)-1]
		ctx = ctx[:len(ctx)-1]
		ctx = append(ctx, "unknow", last)
	}

	comCtx := t.genBaseField()
	if len(ctx) > 1 && fmt.Sprintf("%v", ctx[0]) == CommFieldLogId {
		comCtx[1] = ctx[1]
		ctx = ctx[2:]
	}

	t.fieldLck.Lock()
	comCtx = append(comCtx, t.commFields...)
	if withInfo {
		comCtx = append(comCtx, t.infoFields...)
		t.infoFields = t.infoFields[:0]
	}
	t.fieldLck.Unlock()

	return append(comCtx, ctx...)
}
