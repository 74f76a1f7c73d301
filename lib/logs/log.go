package logs

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	log "github.com/xuperchain/log15"
)

// LogDriver is the contract of the underlying log library
type LogDriver interface {
	Error(msg string, ctx ...interface{})
	Warn(msg string, ctx ...interface{})
	Info(msg string, ctx ...interface{})
	Trace(msg string, ctx ...interface{})
	Debug(msg string, ctx ...interface{})
}

var (
	logOnce   sync.Once
	logDriver LogDriver
	logLck    sync.RWMutex
)

// InitLog opens the process wide log driver. A missing config file falls back
// to the default config so that tools can run without a conf directory.
func InitLog(cfgFile, logDir string) error {
	var err error
	logOnce.Do(func() {
		var lc *LogConf
		lc, err = LoadLogConf(cfgFile)
		if err != nil {
			lc = GetDefLogConf()
		}

		var driver LogDriver
		driver, err = OpenLog(lc, logDir)
		if err != nil {
			return
		}
		setDriver(driver)
	})

	return err
}

// OpenLog create and open log stream using LogConf
func OpenLog(lc *LogConf, logDir string) (LogDriver, error) {
	if lc == nil {
		return nil, fmt.Errorf("log config is nil")
	}

	lfmt := log.LogfmtFormat()
	if lc.Fmt == "json" {
		lfmt = log.JsonFormat()
	}

	xlog := log.New("module", lc.Module)
	lvLevel, err := log.LvlFromString(lc.Level)
	if err != nil {
		return nil, fmt.Errorf("log level error.err:%v", err)
	}
	// set lowest level as level limit, this may improve performance
	xlog.SetLevelLimit(lvLevel)

	handlers := make([]log.Handler, 0, 3)
	if logDir != "" {
		if err := os.MkdirAll(logDir, os.ModePerm); err != nil {
			return nil, fmt.Errorf("create log dir failed.dir:%s,err:%v", logDir, err)
		}
		infoFile := filepath.Join(logDir, lc.Filename+".log")
		wfFile := filepath.Join(logDir, lc.Filename+".log.wf")

		var nmHandler, wfHandler log.Handler
		if lc.RotateInterval > 0 && lc.RotateBackups > 0 {
			nmHandler = log.Must.RotateFileHandler(infoFile, lfmt, lc.RotateInterval, lc.RotateBackups)
			wfHandler = log.Must.RotateFileHandler(wfFile, lfmt, lc.RotateInterval, lc.RotateBackups)
		} else {
			nmHandler = log.Must.FileHandler(infoFile, lfmt)
			wfHandler = log.Must.FileHandler(wfFile, lfmt)
		}
		if lc.Async {
			nmHandler = log.BufferedHandler(lc.BufSize, nmHandler)
			wfHandler = log.BufferedHandler(lc.BufSize, wfHandler)
		}

		// levels up to info go to the common log, warn and above to the wf log
		handlers = append(handlers,
			log.BoundLvlFilterHandler(lvLevel, log.LvlError, nmHandler),
			log.LvlFilterHandler(log.LvlWarn, wfHandler))
	}
	if lc.Console || len(handlers) == 0 {
		handlers = append(handlers, log.StreamHandler(os.Stderr, lfmt))
	}
	xlog.SetHandler(log.SyncHandler(log.MultiHandler(handlers...)))

	return xlog, nil
}

// NewDiscardDriver returns a driver that drops every record.
func NewDiscardDriver() LogDriver {
	xlog := log.New()
	xlog.SetHandler(log.DiscardHandler())
	return xlog
}

func setDriver(driver LogDriver) {
	logLck.Lock()
	defer logLck.Unlock()
	logDriver = driver
}

func getDriver() LogDriver {
	logLck.RLock()
	defer logLck.RUnlock()
	return logDriver
}

// NewLogger creates a logger for one sub module on the process driver.
// Before InitLog is called records go to stderr with the default config.
func NewLogger(logId, subMod string) (Logger, error) {
	driver := getDriver()
	if driver == nil {
		lc := GetDefLogConf()
		lc.Level = "info"
		d, err := OpenLog(lc, "")
		if err != nil {
			return nil, err
		}
		driver = d
	}

	lf, err := NewLogFitter(driver, logId)
	if err != nil {
		return nil, err
	}
	if subMod != "" {
		lf.SetCommField("submod", subMod)
	}
	return lf, nil
}

// NewDiscardLogger is used by tests and by components created without a logger.
func NewDiscardLogger() Logger {
	lf, _ := NewLogFitter(NewDiscardDriver(), "")
	return lf
}
