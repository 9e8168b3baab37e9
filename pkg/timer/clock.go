package timer

import (
	"sync"
	"time"
)

// Clock is the node's monotonic time since boot.
type Clock interface {
	Now() time.Duration
}

// Millis returns the clock as wrapping 32-bit milliseconds, the resolution
// of the radio alarm.
func Millis(c Clock) uint32 {
	return uint32(c.Now().Milliseconds())
}

// SystemClock measures time since it was created.
type SystemClock struct {
	start time.Time
}

// NewClock starts a system clock at zero.
func NewClock() *SystemClock {
	return &SystemClock{start: time.Now()}
}

// Now implements Clock.
func (c *SystemClock) Now() time.Duration {
	return time.Since(c.start)
}

// FakeClock is a manually advanced clock for tests and simulations.
type FakeClock struct {
	mu  sync.Mutex
	now time.Duration
}

// NewFakeClock creates a fake clock reading now.
func NewFakeClock(now time.Duration) *FakeClock {
	return &FakeClock{now: now}
}

// Now implements Clock.
func (c *FakeClock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to now.
func (c *FakeClock) Set(now time.Duration) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	c.mu.Unlock()
}
