package timer

import (
	"fmt"
	"strings"
	"time"
)

// stage is one marked step of an operation
type stage struct {
	tag   string
	delta time.Duration
}

// XTimer records how long each stage of a single operation took.
// It is not safe for concurrent use; one timer belongs to one invocation.
type XTimer struct {
	born   time.Time
	latest time.Time
	stages []stage
}

// NewXTimer create new XTimer instance
func NewXTimer() *XTimer {
	now := time.Now()
	return &XTimer{
		born:   now,
		latest: now,
	}
}

// Mark closes the current stage under tag and starts the next one.
func (t *XTimer) Mark(tag string) {
	now := time.Now()
	t.stages = append(t.stages, stage{tag: tag, delta: now.Sub(t.latest)})
	t.latest = now
}

// Total returns the time elapsed since the timer was created.
func (t *XTimer) Total() time.Duration {
	return time.Since(t.born)
}

// Tags returns the marked stage tags in order.
func (t *XTimer) Tags() []string {
	tags := make([]string, 0, len(t.stages))
	for _, s := range t.stages {
		tags = append(tags, s.tag)
	}
	return tags
}

// Print renders every stage as tag:ms followed by the total.
func (t *XTimer) Print() string {
	msg := make([]string, 0, len(t.stages)+1)
	for _, s := range t.stages {
		msg = append(msg, fmt.Sprintf("%s:%.2fms", s.tag, float64(s.delta)/float64(time.Millisecond)))
	}
	msg = append(msg, fmt.Sprintf("total:%.2fms", float64(t.Total())/float64(time.Millisecond)))
	return strings.Join(msg, ",")
}
