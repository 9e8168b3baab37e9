// Package timer provides the node's time base: a monotonic clock and
// repeating or single-shot timers whose callbacks run on the main loop.
package timer

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrInvalidPeriod is returned by Start for a non-positive period.
var ErrInvalidPeriod = errors.New("invalid timer period")

// Mode selects whether a timer re-arms itself after firing.
type Mode int

const (
	Repeated Mode = iota
	SingleShot
)

// Submitter defers a callback onto the main loop. *sched.Queue satisfies it.
type Submitter interface {
	Submit(fn func()) error
}

// Timer fires a callback on the loop after a period. Start and Stop may be
// called from any goroutine; the callback only ever runs on the loop.
type Timer struct {
	mode Mode
	q    Submitter
	cb   func()
	log  logrus.FieldLogger

	mu      sync.Mutex
	t       *time.Timer
	period  time.Duration
	gen     uint64
	running bool
}

// New creates a stopped timer.
func New(mode Mode, q Submitter, cb func()) *Timer {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return &Timer{mode: mode, q: q, cb: cb, log: l}
}

// WithLogger sets the logger used to report dropped ticks.
func (t *Timer) WithLogger(log logrus.FieldLogger) *Timer {
	if log != nil {
		t.log = log
	}
	return t
}

// Start (re)arms the timer. Pending callbacks of an earlier start are discarded.
func (t *Timer) Start(period time.Duration) error {
	if period <= 0 {
		return ErrInvalidPeriod
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopLocked()
	t.gen++
	gen := t.gen
	t.period = period
	t.running = true
	t.t = time.AfterFunc(period, func() { t.fire(gen) })
	return nil
}

// Stop disarms the timer. Callbacks already queued on the loop are dropped.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopLocked()
	t.gen++
}

// Running reports whether the timer is armed.
func (t *Timer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

func (t *Timer) stopLocked() {
	if t.t != nil {
		t.t.Stop()
		t.t = nil
	}
	t.running = false
}

func (t *Timer) fire(gen uint64) {
	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		return
	}
	if t.mode == Repeated {
		t.t.Reset(t.period)
	} else {
		t.running = false
	}
	t.mu.Unlock()

	err := t.q.Submit(func() {
		if t.current(gen) {
			t.cb()
		}
	})
	if err != nil {
		t.log.WithError(err).Warn("Timer tick dropped")
	}
}

func (t *Timer) current(gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return gen == t.gen
}
