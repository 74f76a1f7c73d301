package utils

import (
	"fmt"
	"math/rand"
	"os"
	"path"
	"runtime"
	"strconv"
	"sync"
	"time"
)

var (
	seedOnce sync.Once
	rndLck   sync.Mutex
	rnd      *rand.Rand
)

// FileIsExist reports whether the named file or directory exists.
func FileIsExist(name string) bool {
	if _, err := os.Stat(name); err != nil {
		if os.IsNotExist(err) {
			return false
		}
	}

	return true
}

// GenPseudoUniqId generates an id that is unique with high probability.
// It is only meant for tagging log lines of one invocation.
func GenPseudoUniqId() uint64 {
	seedOnce.Do(func() {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	})

	rndLck.Lock()
	randNum1 := rnd.Int63()
	randNum2 := rnd.Int63()
	shift1 := rnd.Intn(16) + 2
	shift2 := rnd.Intn(8) + 1
	rndLck.Unlock()

	nano := time.Now().UnixNano()
	uId := ((randNum1 >> uint(shift1)) + (randNum2 >> uint(shift2)) + (nano >> 1)) &
		0x1FFFFFFFFFFFFF
	return uint64(uId)
}

// GenLogId generates a log id of the form <unix seconds>_<pseudo unique id>.
func GenLogId() string {
	return fmt.Sprintf("%d_%d", time.Now().Unix(), GenPseudoUniqId())
}

// GetFuncCall returns "file:line" and the function name of the caller at callDepth.
func GetFuncCall(callDepth int) (string, string) {
	pc, file, line, ok := runtime.Caller(callDepth)
	if !ok {
		return "???:0", "???"
	}

	f := runtime.FuncForPC(pc)
	_, function := path.Split(f.Name())
	_, filename := path.Split(file)

	fline := filename + ":" + strconv.Itoa(line)
	return fline, function
}
