package event

import (
	"io"

	"github.com/sirupsen/logrus"

	"github.com/itohio/buttonb/pkg/codec"
	"github.com/itohio/buttonb/pkg/metrics"
	"github.com/itohio/buttonb/pkg/timer"
	"github.com/itohio/buttonb/pkg/transport"
)

// Booster switches the radio into a fast poll cadence while a response is
// expected. *mesh.Poller satisfies it.
type Booster interface {
	Fast() error
	Restore() error
}

// Notifier runs the key event state machine:
//
//	Idle -> Sending -> AwaitingAck -> Acked -> Idle
//	                             \--> TimedOut -> Idle
//
// Every attempt gets exactly one outcome and is never retried. Notifier must
// only be used from the main loop, including its transport completions.
type Notifier struct {
	transport transport.Transport
	clock     timer.Clock
	boost     Booster
	log       logrus.FieldLogger
	metrics   *metrics.Metrics
	feedback  func(key int)
	observer  func(Transition)
	buf       []byte

	state    State
	inFlight int
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithLogger sets the notifier logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(n *Notifier) {
		if log != nil {
			n.log = log
		}
	}
}

// WithMetrics records key event outcomes in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(n *Notifier) { n.metrics = m }
}

// WithFeedback sets the user feedback run once per acknowledged event,
// e.g. an LED blink.
func WithFeedback(fn func(key int)) Option {
	return func(n *Notifier) { n.feedback = fn }
}

// WithObserver receives every state transition.
func WithObserver(fn func(Transition)) Option {
	return func(n *Notifier) { n.observer = fn }
}

// WithBufferSize overrides the encode buffer size.
func WithBufferSize(size int) Option {
	return func(n *Notifier) { n.buf = make([]byte, size) }
}

// New creates an idle notifier. boost may be nil.
func New(t transport.Transport, clock timer.Clock, boost Booster, opts ...Option) *Notifier {
	l := logrus.New()
	l.SetOutput(io.Discard)

	n := &Notifier{
		transport: t,
		clock:     clock,
		boost:     boost,
		log:       l,
		buf:       make([]byte, codec.MaxMessageSize),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Trigger notifies the collector that key was pressed. It returns false if
// the event could not be encoded or the transport refused it.
func (n *Notifier) Trigger(key int) bool {
	t := timer.Millis(n.clock)
	log := n.log.WithFields(logrus.Fields{"key": key, "t": t})

	size, err := codec.EncodeKeyEvent(n.buf, key, t)
	if err != nil {
		n.metrics.EncodeFailure()
		n.metrics.KeyEvent("encode_failed")
		log.WithError(err).Error("Failed to encode key event")
		return false
	}

	n.transition(key, Sending)
	n.inFlight++
	if n.boost != nil {
		if err := n.boost.Fast(); err != nil {
			log.WithError(err).Warn("Failed to engage fast poll")
		}
	}

	resolved := false
	accepted := n.transport.Send(n.buf[:size], func(_ *transport.Response, res transport.Result) {
		if resolved {
			log.WithField("result", res.String()).Warn("Duplicate key event completion")
			return
		}
		resolved = true
		n.complete(key, res)
	})
	if !accepted {
		resolved = true
		n.inFlight--
		n.metrics.TransportFailure()
		n.metrics.KeyEvent(transport.ResultRejected.String())
		log.Warn("Transport rejected key event")
		n.transition(key, TimedOut)
		n.settle(key, log)
		return false
	}

	n.transition(key, AwaitingAck)
	log.Debug("Key event sent")
	return true
}

func (n *Notifier) complete(key int, res transport.Result) {
	log := n.log.WithFields(logrus.Fields{"key": key, "result": res.String()})
	n.inFlight--

	if res == transport.ResultOK {
		n.transition(key, Acked)
		n.metrics.KeyEvent("acked")
		log.Info("Key event acknowledged")
		if n.feedback != nil {
			n.feedback(key)
		}
	} else {
		n.transition(key, TimedOut)
		n.metrics.TransportFailure()
		n.metrics.KeyEvent(res.String())
		log.Warn("Key event not acknowledged")
	}

	n.settle(key, log)
}

// settle ends an attempt. The notifier goes idle and leaves the fast cadence
// only once no other attempt awaits an answer.
func (n *Notifier) settle(key int, log logrus.FieldLogger) {
	if n.inFlight > 0 {
		n.transition(key, AwaitingAck)
		return
	}
	if n.boost != nil {
		if err := n.boost.Restore(); err != nil {
			log.WithError(err).Warn("Failed to restore poll period")
		}
	}
	n.transition(key, Idle)
}

func (n *Notifier) transition(key int, to State) {
	from := n.state
	n.state = to
	n.log.WithFields(logrus.Fields{"key": key, "state": to.String()}).Trace("Key event state")
	if n.observer != nil {
		n.observer(Transition{Key: key, From: from, To: to})
	}
}

// State returns the state of the most recent attempt.
func (n *Notifier) State() State {
	return n.state
}

// InFlight returns the number of attempts awaiting an outcome.
func (n *Notifier) InFlight() int {
	return n.inFlight
}
