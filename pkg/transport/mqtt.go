package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/paho"
	"github.com/sirupsen/logrus"
)

// DefaultPublishTimeout bounds how long a publish waits for its PUBACK.
const DefaultPublishTimeout = 5 * time.Second

// MQTTConfig configures the MQTT uplink.
type MQTTConfig struct {
	Broker    string // host:port
	ClientID  string
	Topic     string
	KeepAlive uint16 // seconds
	Timeout   time.Duration
}

// MQTT publishes node messages with QoS 1; the broker's PUBACK counts as
// delivery. It is an alternative uplink for nodes bridged to IP.
type MQTT struct {
	cfg    MQTTConfig
	client *paho.Client
	log    logrus.FieldLogger

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	wg     sync.WaitGroup
	closed bool
}

var _ Transport = (*MQTT)(nil)

// DialMQTT connects to the broker and performs the MQTT handshake.
func DialMQTT(ctx context.Context, cfg MQTTConfig, log logrus.FieldLogger) (*MQTT, error) {
	if cfg.Topic == "" {
		return nil, errors.New("mqtt topic is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultPublishTimeout
	}
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = 30
	}
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", cfg.Broker)
	if err != nil {
		return nil, fmt.Errorf("failed to dial broker %s: %w", cfg.Broker, err)
	}

	client := paho.NewClient(paho.ClientConfig{
		ClientID: cfg.ClientID,
		Conn:     conn,
	})

	ack, err := client.Connect(ctx, &paho.Connect{
		ClientID:   cfg.ClientID,
		KeepAlive:  cfg.KeepAlive,
		CleanStart: true,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect to broker %s: %w", cfg.Broker, err)
	}
	if ack != nil && ack.ReasonCode != 0 {
		conn.Close()
		return nil, fmt.Errorf("broker %s refused connection: reason %d", cfg.Broker, ack.ReasonCode)
	}

	mctx, cancel := context.WithCancel(context.Background())

	return &MQTT{
		cfg:    cfg,
		client: client,
		log:    log.WithFields(logrus.Fields{"broker": cfg.Broker, "topic": cfg.Topic}),
		ctx:    mctx,
		cancel: cancel,
	}, nil
}

// Send implements Transport. The publish runs on its own goroutine.
func (m *MQTT) Send(payload []byte, done Completion) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.wg.Add(1)
	m.mu.Unlock()

	p := append([]byte(nil), payload...)
	go func() {
		defer m.wg.Done()
		done(nil, m.publish(p))
	}()
	return true
}

func (m *MQTT) publish(payload []byte) Result {
	ctx, cancel := context.WithTimeout(m.ctx, m.cfg.Timeout)
	defer cancel()

	resp, err := m.client.Publish(ctx, &paho.Publish{
		QoS:     1,
		Topic:   m.cfg.Topic,
		Payload: payload,
	})
	switch {
	case err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded):
		m.log.WithError(err).Warn("Publish timed out")
		return ResultTimeout
	case err != nil:
		m.log.WithError(err).Warn("Publish failed")
		return ResultFailed
	case resp != nil && resp.ReasonCode >= 0x80:
		m.log.WithField("reason", resp.ReasonCode).Warn("Publish rejected")
		return ResultRejected
	default:
		return ResultOK
	}
}

// Close waits for in-flight publishes and disconnects.
func (m *MQTT) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.wg.Wait()
	m.cancel()

	if err := m.client.Disconnect(&paho.Disconnect{ReasonCode: 0}); err != nil {
		return fmt.Errorf("failed to disconnect: %w", err)
	}
	return nil
}
