package transport

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Scheduler runs a callback later on the main loop and never loses it.
// *sched.Queue satisfies it.
type Scheduler interface {
	Defer(fn func())
}

// Deferred wraps a Transport so completions run on the main loop instead of
// the transport's own goroutines.
type Deferred struct {
	next Transport
	q    Scheduler
	log  logrus.FieldLogger
}

var _ Transport = (*Deferred)(nil)

// NewDeferred wraps next. log may be nil.
func NewDeferred(next Transport, q Scheduler, log logrus.FieldLogger) *Deferred {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Deferred{next: next, q: q, log: log}
}

// Send implements Transport.
func (d *Deferred) Send(payload []byte, done Completion) bool {
	return d.next.Send(payload, func(resp *Response, res Result) {
		d.log.WithField("result", res.String()).Trace("Completion deferred to loop")
		d.post(func() { done(resp, res) })
	})
}

// Close implements Transport.
func (d *Deferred) Close() error {
	return d.next.Close()
}

// Unwrap returns the wrapped transport.
func (d *Deferred) Unwrap() Transport {
	return d.next
}

// post hands fn to the loop. A lost completion would leave its sender
// waiting forever, so a full queue only delays it.
func (d *Deferred) post(fn func()) {
	d.q.Defer(fn)
}
