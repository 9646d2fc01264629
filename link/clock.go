package link

import (
	"sync"
	"time"
)

// Millis is a 32-bit millisecond tick. It wraps after ~49.7 days, so
// intervals must always be measured with Elapsed.
type Millis uint32

// Elapsed returns now - since in modular arithmetic. The result is correct
// across a single counter rollover.
func Elapsed(now, since Millis) Millis {
	return now - since
}

// ToMillis converts a duration to ticks, truncating sub-millisecond parts
func ToMillis(d time.Duration) Millis {
	return Millis(uint32(d / time.Millisecond))
}

// Duration converts ticks back to a time.Duration
func (m Millis) Duration() time.Duration {
	return time.Duration(m) * time.Millisecond
}

// Clock supplies monotonic ticks
type Clock interface {
	Now() Millis
}

// SystemClock counts milliseconds since its creation on the monotonic clock
type SystemClock struct {
	start time.Time
}

func NewSystemClock() *SystemClock {
	return &SystemClock{start: time.Now()}
}

func (c *SystemClock) Now() Millis {
	return Millis(uint32(time.Since(c.start).Milliseconds()))
}

// ManualClock only moves when told to. Used by tests and simulations.
type ManualClock struct {
	mu  sync.Mutex
	now Millis
}

func NewManualClock(start Millis) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() Millis {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set jumps to an absolute tick
func (c *ManualClock) Set(t Millis) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Advance moves the clock forward, wrapping like the hardware counter
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += ToMillis(d)
	c.mu.Unlock()
}
