package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/eclipse/paho.golang/paho"
	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTopic = "buttonb/test/events"

// startBroker runs an in-process MQTT broker on a free local port.
func startBroker(t *testing.T) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	broker := mochi.New(nil)
	require.NoError(t, broker.AddHook(&auth.AllowHook{}, nil))
	require.NoError(t, broker.AddListener(listeners.NewTCP(listeners.Config{
		Type:    "tcp",
		ID:      "test",
		Address: addr,
	})))
	require.NoError(t, broker.Serve())

	t.Cleanup(func() { broker.Close() })
	return addr
}

// subscribe connects a collector client and returns the payloads it receives.
func subscribe(ctx context.Context, t *testing.T, addr string) chan []byte {
	t.Helper()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	require.NoError(t, err)

	received := make(chan []byte, 8)
	c := paho.NewClient(paho.ClientConfig{
		ClientID: "collector",
		Conn:     conn,
		OnPublishReceived: []func(paho.PublishReceived) (bool, error){
			func(pr paho.PublishReceived) (bool, error) {
				received <- pr.Packet.Payload
				return true, nil
			},
		},
	})

	_, err = c.Connect(ctx, &paho.Connect{ClientID: "collector", KeepAlive: 5, CleanStart: true})
	require.NoError(t, err)

	_, err = c.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: testTopic, QoS: 1}},
	})
	require.NoError(t, err)

	t.Cleanup(func() { c.Disconnect(&paho.Disconnect{ReasonCode: 0}) })
	return received
}

func TestMQTT_PublishAcked(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	addr := startBroker(t)
	received := subscribe(ctx, t, addr)

	m, err := DialMQTT(ctx, MQTTConfig{Broker: addr, ClientID: "node", Topic: testTopic}, nil)
	require.NoError(t, err)
	defer m.Close()

	done, ch := recorder()
	payload := []byte{0xa2, 0x63, 'k', 'e', 'y', 0x00, 0x61, 't', 0x19, 0x03, 0xe8}
	require.True(t, m.Send(payload, done))

	assert.Equal(t, ResultOK, waitCompletion(t, ch).res)

	select {
	case got := <-received:
		assert.Equal(t, payload, got)
	case <-time.After(5 * time.Second):
		t.Fatal("collector did not receive the message")
	}
}

func TestMQTT_SendAfterClose(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	addr := startBroker(t)
	m, err := DialMQTT(ctx, MQTTConfig{Broker: addr, ClientID: "node", Topic: testTopic}, nil)
	require.NoError(t, err)

	require.NoError(t, m.Close())
	assert.NoError(t, m.Close())
	assert.False(t, m.Send([]byte{1}, func(*Response, Result) {}))
}

func TestDialMQTT_Errors(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := DialMQTT(ctx, MQTTConfig{Broker: "127.0.0.1:1"}, nil)
	assert.Error(t, err, "topic is required")

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	_, err = DialMQTT(ctx, MQTTConfig{Broker: addr, Topic: testTopic}, nil)
	assert.Error(t, err)
}
