package tracer

import (
	"sync"
	"time"
)

// Clock is the tracer's timestamp source: a high-precision clock scaled
// to nanoseconds that never reports a value lower than one it already
// returned (spec.md §4.5). The default implementation reads the wall
// clock, which can jump backwards under NTP correction; Clock clamps
// that away so the time-index and every record's timestamp stay weakly
// monotone (spec.md §3 invariant).
type Clock struct {
	mu   sync.Mutex
	last uint64
	now  func() uint64
}

// NewClock returns a Clock backed by the system wall clock.
func NewClock() *Clock {
	return &Clock{now: func() uint64 { return uint64(time.Now().UnixNano()) }}
}

// NewClockFunc builds a Clock around an arbitrary nanosecond source, for
// tests that need to control timestamps precisely or simulate a clock
// regression.
func NewClockFunc(now func() uint64) *Clock {
	return &Clock{now: now}
}

// Now returns the current timestamp in nanoseconds, clamped to be no
// earlier than the previous value this Clock returned.
func (c *Clock) Now() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.now()
	if n < c.last {
		n = c.last
	}
	c.last = n
	return n
}
