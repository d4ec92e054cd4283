package engine

import (
	"sync/atomic"
	"time"
)

// Clock hands out strictly increasing wall-clock milliseconds.
// Two edits in the same millisecond still get distinct, ordered stamps,
// and stamps stay comparable with those of sibling tabs.
type Clock struct {
	now  func() time.Time
	last atomic.Int64
}

// NewClock returns a Clock reading now (time.Now when nil).
func NewClock(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now}
}

// Now returns max(wall ms, previous stamp + 1).
func (c *Clock) Now() int64 {
	for {
		last := c.last.Load()
		ms := max(c.now().UnixMilli(), last+1)
		if c.last.CompareAndSwap(last, ms) {
			return ms
		}
	}
}
