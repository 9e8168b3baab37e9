// Package sched defers work out of interrupt and I/O contexts onto the single
// cooperative main loop.
package sched

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
)

// DefaultQueueSize matches the scheduler depth of the stock firmware.
const DefaultQueueSize = 32

// ErrQueueFull is returned by Post when the queue has no free slot.
var ErrQueueFull = errors.New("scheduler queue full")

// Handler receives every event except Work, which the queue runs itself.
type Handler func(Event)

// Queue is a bounded FIFO of events. Post never blocks and may be called
// from any goroutine; Drain and Run must only be called by the loop.
//
// Work handed to Defer is never lost: when the ring is full it waits in an
// unbounded overflow list that the loop drains after the ring.
type Queue struct {
	ring    mpmc.RingBuffer[Event]
	wake    chan struct{}
	pending atomic.Int64
	dropped atomic.Uint64

	overflowMu sync.Mutex
	overflow   []func()
}

// New creates a queue holding up to size events.
func New(size uint32) *Queue {
	if size == 0 {
		size = DefaultQueueSize
	}
	return &Queue{
		ring: mpmc.New[Event](size),
		wake: make(chan struct{}, 1),
	}
}

// Post enqueues ev for the loop.
func (q *Queue) Post(ev Event) error {
	if err := q.enqueue(ev); err != nil {
		q.dropped.Add(1)
		return err
	}
	return nil
}

func (q *Queue) enqueue(ev Event) error {
	q.pending.Add(1)
	if err := q.ring.Enqueue(ev); err != nil {
		q.pending.Add(-1)
		return fmt.Errorf("%w: %v", ErrQueueFull, err)
	}
	q.signal()
	return nil
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Submit enqueues fn to run once, later, on the loop.
func (q *Queue) Submit(fn func()) error {
	return q.Post(Work{Fn: fn})
}

// Defer runs fn once, later, on the loop. Unlike Submit it cannot fail, so
// it suits completions that some caller waits for.
func (q *Queue) Defer(fn func()) {
	if err := q.enqueue(Work{Fn: fn}); err == nil {
		return
	}

	q.overflowMu.Lock()
	q.pending.Add(1)
	q.overflow = append(q.overflow, fn)
	q.overflowMu.Unlock()
	q.signal()
}

func (q *Queue) takeOverflow() []func() {
	q.overflowMu.Lock()
	defer q.overflowMu.Unlock()
	fns := q.overflow
	q.overflow = nil
	return fns
}

// Drain runs every queued event in FIFO order and returns how many ran.
// Events posted while draining are run in the same call.
func (q *Queue) Drain(h Handler) int {
	n := 0
	for {
		ev, err := q.ring.Dequeue()
		if err != nil {
			fns := q.takeOverflow()
			if len(fns) == 0 {
				return n
			}
			for _, fn := range fns {
				q.pending.Add(-1)
				n++
				fn()
			}
			continue
		}
		q.pending.Add(-1)
		n++

		if w, ok := ev.(Work); ok {
			if w.Fn != nil {
				w.Fn()
			}
			continue
		}
		if h != nil {
			h(ev)
		}
	}
}

// Run drains the queue whenever work arrives until ctx is done.
func (q *Queue) Run(ctx context.Context, h Handler) error {
	for {
		q.Drain(h)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.wake:
		}
	}
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	return int(q.pending.Load())
}

// Dropped returns how many events were rejected because the queue was full.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}
