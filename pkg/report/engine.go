package report

import (
	"errors"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/itohio/buttonb/pkg/codec"
	"github.com/itohio/buttonb/pkg/metrics"
	"github.com/itohio/buttonb/pkg/subscription"
	"github.com/itohio/buttonb/pkg/timer"
	"github.com/itohio/buttonb/pkg/transport"
)

// Engine evaluates subscriptions and transmits the reports that are due.
// It must only be used from the main loop.
type Engine struct {
	table     *subscription.Table
	transport transport.Transport
	clock     timer.Clock
	log       logrus.FieldLogger
	metrics   *metrics.Metrics
	buf       []byte
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithMetrics records report outcomes in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithBufferSize overrides the encode buffer size.
func WithBufferSize(n int) Option {
	return func(e *Engine) { e.buf = make([]byte, n) }
}

// New creates an engine over table that sends through t.
func New(table *subscription.Table, t transport.Transport, clock timer.Clock, opts ...Option) *Engine {
	l := logrus.New()
	l.SetOutput(io.Discard)

	e := &Engine{
		table:     table,
		transport: t,
		clock:     clock,
		log:       l,
		buf:       make([]byte, codec.MaxMessageSize),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate decides whether name is due and, if so, sends its current value.
//
// Once a report is handed to the transport the record counts as sent, whether
// or not delivery succeeds. An encoding failure sends nothing and leaves the
// record untouched so the next evaluation tries again.
func (e *Engine) Evaluate(name subscription.Name) (Reason, error) {
	s, err := e.table.Find(name)
	if err != nil {
		return ReasonNone, err
	}

	now := e.clock.Now()
	reason := Decide(s, now)
	if !reason.Due() {
		e.metrics.Suppressed(name.String())
		return reason, nil
	}

	log := e.log.WithFields(logrus.Fields{
		"sensor": name.String(),
		"value":  s.CurrentValue,
		"reason": reason.String(),
	})

	n, err := codec.EncodeReport(e.buf, byte(name), s.CurrentValue)
	if err != nil {
		e.metrics.EncodeFailure()
		log.WithError(err).Error("Failed to encode report")
		return ReasonNone, err
	}

	accepted := e.transport.Send(e.buf[:n], func(_ *transport.Response, res transport.Result) {
		if res != transport.ResultOK {
			e.metrics.TransportFailure()
			log.WithField("result", res.String()).Warn("Report not delivered")
		}
	})
	if !accepted {
		e.metrics.TransportFailure()
		log.Warn("Transport rejected report")
	}

	s.MarkSent(now)
	e.metrics.Report(name.String(), reason.String())
	log.Debug("Report sent")
	return reason, nil
}

// HandleSample stores a freshly filtered local value and evaluates it.
func (e *Engine) HandleSample(name subscription.Name, value int32) (Reason, error) {
	if err := e.table.SetValue(name, value, subscription.OriginLocal); err != nil {
		return ReasonNone, err
	}
	e.metrics.SensorValue(name.String(), value)
	return e.Evaluate(name)
}

// Sweep evaluates every record and returns how many reports were sent. It
// drives keep-alive reporting for values that stopped changing.
func (e *Engine) Sweep() int {
	sent := 0
	e.table.Each(func(s *subscription.Subscription) bool {
		reason, err := e.Evaluate(s.Name)
		switch {
		case errors.Is(err, codec.ErrBufferTooSmall), errors.Is(err, codec.ErrEncoding):
			// already logged
		case err != nil:
			e.log.WithError(err).WithField("sensor", s.Name.String()).Error("Failed to evaluate subscription")
		case reason.Due():
			sent++
		}
		return true
	})
	return sent
}
