// Package metrics exposes node counters to prometheus. A nil *Metrics is
// valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the node's collectors.
type Metrics struct {
	reports          *prometheus.CounterVec
	suppressed       *prometheus.CounterVec
	encodeFailures   prometheus.Counter
	transportFailure prometheus.Counter
	keyEvents        *prometheus.CounterVec
	sensorValue      *prometheus.GaugeVec
	queueDropped     prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		reports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "buttonb_reports_total",
			Help: "Sensor reports attempted, by sensor and trigger.",
		}, []string{"sensor", "reason"}),
		suppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "buttonb_reports_suppressed_total",
			Help: "Sensor evaluations that did not produce a report.",
		}, []string{"sensor"}),
		encodeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "buttonb_encode_failures_total",
			Help: "Messages dropped because they could not be encoded.",
		}),
		transportFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "buttonb_transport_failures_total",
			Help: "Messages rejected by the transport or not acknowledged.",
		}),
		keyEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "buttonb_key_events_total",
			Help: "Key event notifications by outcome.",
		}, []string{"result"}),
		sensorValue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "buttonb_sensor_value",
			Help: "Latest filtered sensor value in raw units.",
		}, []string{"sensor"}),
		queueDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "buttonb_queue_dropped_total",
			Help: "Events lost because the scheduler queue was full.",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.reports, m.suppressed, m.encodeFailures, m.transportFailure,
		m.keyEvents, m.sensorValue, m.queueDropped,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// Report counts a report attempt.
func (m *Metrics) Report(sensor, reason string) {
	if m == nil {
		return
	}
	m.reports.WithLabelValues(sensor, reason).Inc()
}

// Suppressed counts an evaluation that sent nothing.
func (m *Metrics) Suppressed(sensor string) {
	if m == nil {
		return
	}
	m.suppressed.WithLabelValues(sensor).Inc()
}

// EncodeFailure counts a message that could not be encoded.
func (m *Metrics) EncodeFailure() {
	if m == nil {
		return
	}
	m.encodeFailures.Inc()
}

// TransportFailure counts a rejected or unacknowledged message.
func (m *Metrics) TransportFailure() {
	if m == nil {
		return
	}
	m.transportFailure.Inc()
}

// KeyEvent counts a key event outcome.
func (m *Metrics) KeyEvent(result string) {
	if m == nil {
		return
	}
	m.keyEvents.WithLabelValues(result).Inc()
}

// SensorValue records the latest filtered value.
func (m *Metrics) SensorValue(sensor string, v int32) {
	if m == nil {
		return
	}
	m.sensorValue.WithLabelValues(sensor).Set(float64(v))
}

// QueueDropped counts lost scheduler events.
func (m *Metrics) QueueDropped(n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.queueDropped.Add(float64(n))
}
