package transport

import (
	"fmt"
	"sync"
	"time"
)

// MockMode selects how a Mock resolves messages.
type MockMode int

const (
	// MockManual keeps messages pending until Ack or Fail is called.
	MockManual MockMode = iota
	// MockAutoAck acknowledges every message asynchronously.
	MockAutoAck
	// MockAutoFail fails every message asynchronously with ResultTimeout.
	MockAutoFail
	// MockReject refuses every message.
	MockReject
)

// Sent is one message handed to a Mock.
type Sent struct {
	Payload  []byte
	Resolved bool
	done     Completion
}

// Mock is an in-memory transport for tests and for running the node without
// a radio. It also records poll period changes.
type Mock struct {
	mu      sync.Mutex
	mode    MockMode
	sent    []*Sent
	periods []time.Duration
	closed  bool
}

var _ Transport = (*Mock)(nil)

// NewMock creates a mock transport in the given mode.
func NewMock(mode MockMode) *Mock {
	return &Mock{mode: mode}
}

// SetMode changes how subsequent messages are resolved.
func (m *Mock) SetMode(mode MockMode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mode = mode
}

// Send implements Transport.
func (m *Mock) Send(payload []byte, done Completion) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || m.mode == MockReject {
		return false
	}

	s := &Sent{Payload: append([]byte(nil), payload...), done: done}
	m.sent = append(m.sent, s)

	switch m.mode {
	case MockAutoAck:
		s.Resolved = true
		go done(nil, ResultOK)
	case MockAutoFail:
		s.Resolved = true
		go done(nil, ResultTimeout)
	}
	return true
}

// Ack resolves message i successfully with an optional response payload.
func (m *Mock) Ack(i int, response []byte) error {
	var resp *Response
	if response != nil {
		resp = &Response{Payload: response}
	}
	return m.resolve(i, resp, ResultOK)
}

// Fail resolves message i with res.
func (m *Mock) Fail(i int, res Result) error {
	return m.resolve(i, nil, res)
}

func (m *Mock) resolve(i int, resp *Response, res Result) error {
	m.mu.Lock()
	if i < 0 || i >= len(m.sent) {
		m.mu.Unlock()
		return fmt.Errorf("no message %d", i)
	}
	s := m.sent[i]
	if s.Resolved {
		m.mu.Unlock()
		return fmt.Errorf("message %d already resolved", i)
	}
	s.Resolved = true
	m.mu.Unlock()

	s.done(resp, res)
	return nil
}

// Sent returns copies of all payloads handed to the mock, in order.
func (m *Mock) Sent() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([][]byte, len(m.sent))
	for i, s := range m.sent {
		out[i] = append([]byte(nil), s.Payload...)
	}
	return out
}

// Len returns the number of accepted messages.
func (m *Mock) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// Pending returns the number of unresolved messages.
func (m *Mock) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, s := range m.sent {
		if !s.Resolved {
			n++
		}
	}
	return n
}

// SetPollPeriod implements mesh.PollController.
func (m *Mock) SetPollPeriod(period time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrNotConnected
	}
	m.periods = append(m.periods, period)
	return nil
}

// PollPeriods returns every poll period requested so far.
func (m *Mock) PollPeriods() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]time.Duration(nil), m.periods...)
}

// Close implements Transport.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
