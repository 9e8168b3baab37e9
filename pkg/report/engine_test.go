package report

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/buttonb/pkg/codec"
	"github.com/itohio/buttonb/pkg/metrics"
	"github.com/itohio/buttonb/pkg/subscription"
	"github.com/itohio/buttonb/pkg/timer"
	"github.com/itohio/buttonb/pkg/transport"
)

func newEngine(t *testing.T, mode transport.MockMode, opts ...Option) (*Engine, *subscription.Table, *transport.Mock, *timer.FakeClock) {
	t.Helper()

	table, err := subscription.NewTable(subscription.Subscription{
		Name:             'v',
		ReadOnly:         true,
		ReportableChange: 5,
		ReportInterval:   10 * time.Second,
		EnableOnInit:     true,
	})
	require.NoError(t, err)

	tr := transport.NewMock(mode)
	clock := timer.NewFakeClock(0)
	return New(table, tr, clock, opts...), table, tr, clock
}

func decodeReport(t *testing.T, b []byte) codec.Report {
	t.Helper()
	r, err := codec.DecodeReport(b)
	require.NoError(t, err)
	return r
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	total := 0.0
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func TestEngine_Threshold(t *testing.T) {
	e, table, tr, clock := newEngine(t, transport.MockAutoAck)

	reason, err := e.HandleSample('v', 100)
	require.NoError(t, err)
	assert.Equal(t, ReasonThreshold, reason)
	require.Equal(t, 1, tr.Len())
	assert.Equal(t, codec.Report{Name: "v", Value: 100}, decodeReport(t, tr.Sent()[0]))

	clock.Advance(time.Second)
	reason, err = e.HandleSample('v', 104)
	require.NoError(t, err)
	assert.Equal(t, ReasonNone, reason)
	assert.Equal(t, 1, tr.Len())

	clock.Advance(time.Second)
	reason, err = e.HandleSample('v', 105)
	require.NoError(t, err)
	assert.Equal(t, ReasonThreshold, reason)
	require.Equal(t, 2, tr.Len())
	assert.Equal(t, codec.Report{Name: "v", Value: 105}, decodeReport(t, tr.Sent()[1]))

	s, err := table.Find('v')
	require.NoError(t, err)
	assert.Equal(t, int32(105), s.SentValue)
	assert.Equal(t, 2*time.Second, s.LastSentAt)
}

func TestEngine_KeepAlive(t *testing.T) {
	e, _, tr, clock := newEngine(t, transport.MockAutoAck)

	_, err := e.HandleSample('v', 100)
	require.NoError(t, err)

	clock.Set(9 * time.Second)
	assert.Equal(t, 0, e.Sweep())
	assert.Equal(t, 1, tr.Len())

	clock.Set(10 * time.Second)
	assert.Equal(t, 1, e.Sweep())
	require.Equal(t, 2, tr.Len())
	assert.Equal(t, codec.Report{Name: "v", Value: 100}, decodeReport(t, tr.Sent()[1]))

	// keep-alive restarts the interval
	clock.Set(15 * time.Second)
	assert.Equal(t, 0, e.Sweep())
}

func TestEngine_UninitializedNeverReports(t *testing.T) {
	e, _, tr, clock := newEngine(t, transport.MockAutoAck)

	clock.Set(time.Hour)
	reason, err := e.Evaluate('v')
	require.NoError(t, err)
	assert.Equal(t, ReasonUninitialized, reason)
	assert.Equal(t, 0, e.Sweep())
	assert.Equal(t, 0, tr.Len())
}

func TestEngine_DisableSuppression(t *testing.T) {
	e, table, tr, clock := newEngine(t, transport.MockAutoAck)

	_, err := e.HandleSample('v', 100)
	require.NoError(t, err)
	require.Equal(t, 1, tr.Len())

	s, err := table.Find('v')
	require.NoError(t, err)
	s.DisableReporting = true

	clock.Set(time.Hour)
	reason, err := e.HandleSample('v', 500)
	require.NoError(t, err)
	assert.Equal(t, ReasonDisabled, reason)
	assert.Equal(t, 0, e.Sweep())
	assert.Equal(t, 1, tr.Len())
	assert.Equal(t, int32(100), s.SentValue)
}

func TestEngine_BookkeepingIgnoresDelivery(t *testing.T) {
	for _, mode := range []transport.MockMode{transport.MockReject, transport.MockAutoFail, transport.MockManual} {
		e, table, _, clock := newEngine(t, mode)

		clock.Set(3 * time.Second)
		reason, err := e.HandleSample('v', 100)
		require.NoError(t, err)
		assert.Equal(t, ReasonThreshold, reason)

		s, err := table.Find('v')
		require.NoError(t, err)
		assert.Equal(t, int32(100), s.SentValue)
		assert.Equal(t, 3*time.Second, s.LastSentAt)

		// same value again is not a new report
		reason, err = e.Evaluate('v')
		require.NoError(t, err)
		assert.Equal(t, ReasonNone, reason)
	}
}

func TestEngine_EncodeFailure(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	e, table, tr, clock := newEngine(t, transport.MockAutoAck, WithBufferSize(4), WithMetrics(m))

	clock.Set(time.Second)
	_, err = e.HandleSample('v', 100)
	assert.ErrorIs(t, err, codec.ErrBufferTooSmall)
	assert.Equal(t, 0, tr.Len())

	s, err := table.Find('v')
	require.NoError(t, err)
	assert.Equal(t, int32(100), s.CurrentValue)
	assert.Equal(t, int32(0), s.SentValue)
	assert.Equal(t, time.Duration(0), s.LastSentAt)

	assert.Equal(t, 0, e.Sweep())
	assert.Equal(t, float64(2), counterValue(t, reg, "buttonb_encode_failures_total"))
	assert.Equal(t, float64(0), counterValue(t, reg, "buttonb_reports_total"))
}

func TestEngine_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	e, _, tr, _ := newEngine(t, transport.MockManual, WithMetrics(m))

	_, err = e.HandleSample('v', 100)
	require.NoError(t, err)
	_, err = e.HandleSample('v', 101)
	require.NoError(t, err)
	require.NoError(t, tr.Fail(0, transport.ResultTimeout))

	assert.Equal(t, float64(1), counterValue(t, reg, "buttonb_reports_total"))
	assert.Equal(t, float64(1), counterValue(t, reg, "buttonb_reports_suppressed_total"))
	assert.Equal(t, float64(1), counterValue(t, reg, "buttonb_transport_failures_total"))
}

func TestEngine_UnknownSensor(t *testing.T) {
	e, _, tr, _ := newEngine(t, transport.MockAutoAck)

	_, err := e.HandleSample('x', 1)
	assert.ErrorIs(t, err, subscription.ErrNotFound)
	_, err = e.Evaluate(subscription.NameLast)
	assert.ErrorIs(t, err, subscription.ErrNotFound)
	assert.Equal(t, 0, tr.Len())
}

func TestEngine_DefaultTableIsIdempotent(t *testing.T) {
	table := subscription.Default(10 * time.Second)
	tr := transport.NewMock(transport.MockAutoAck)
	clock := timer.NewFakeClock(time.Second)
	e := New(table, tr, clock)

	reason, err := e.HandleSample('v', 100)
	require.NoError(t, err)
	assert.Equal(t, ReasonThreshold, reason)

	for i := 0; i < 3; i++ {
		reason, err = e.Evaluate('v')
		require.NoError(t, err)
		assert.Equal(t, ReasonNone, reason)
	}
	assert.Equal(t, 0, e.Sweep())

	reason, err = e.HandleSample('v', 100)
	require.NoError(t, err)
	assert.Equal(t, ReasonNone, reason, "same value again")
	assert.Equal(t, 1, tr.Len())

	clock.Advance(10 * time.Second)
	assert.Equal(t, 1, e.Sweep(), "only the initialized sensor keeps alive")
	assert.Equal(t, 2, tr.Len())
}
