package mqttclient

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linjuya-lu/device_plotter_go/internal/config"
	"github.com/linjuya-lu/device_plotter_go/internal/plotter"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func completed(err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool { <-t.done; return true }
func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}
func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

type published struct {
	topic    string
	qos      byte
	retained bool
	body     []byte
}

type fakePublisher struct {
	mu    sync.Mutex
	sent  []published
	token func() mqtt.Token
}

func (p *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, published{topic, qos, retained, payload.([]byte)})
	if p.token != nil {
		return p.token()
	}
	return completed(nil)
}

func decode(t *testing.T, body []byte, payload interface{}) EdgexMessage {
	t.Helper()
	msg := EdgexMessage{Payload: payload}
	require.NoError(t, json.Unmarshal(body, &msg))
	return msg
}

func TestPublishSnapshot(t *testing.T) {
	pub := &fakePublisher{}
	c := NewClient(pub, ClientOptions{Qos: 1})

	taken := time.Unix(1700000000, 42)
	snap := plotter.Snapshot{
		Timestamps: []float64{0, 0.5},
		Values:     []float64{0, 513},
		Taken:      taken,
	}
	require.NoError(t, c.PublishSnapshot(context.Background(), "edgex/plotter/snapshot", "tty0", snap))

	require.Len(t, pub.sent, 1)
	sent := pub.sent[0]
	assert.Equal(t, "edgex/plotter/snapshot", sent.topic)
	assert.Equal(t, byte(1), sent.qos)
	assert.False(t, sent.retained)

	var payload SnapshotPayload
	msg := decode(t, sent.body, &payload)
	assert.Equal(t, ApiVersion, msg.ApiVersion)
	assert.Equal(t, ContentTypeJSON, msg.ContentType)
	assert.Zero(t, msg.ErrorCode)
	_, err := uuid.Parse(msg.CorrelationID)
	assert.NoError(t, err)
	assert.NotEqual(t, msg.CorrelationID, msg.RequestID)

	assert.Equal(t, SnapshotPayload{
		Port:       "tty0",
		Timestamp:  taken.UnixNano(),
		Timestamps: []float64{0, 0.5},
		Values:     []float64{0, 513},
	}, payload)
}

func TestPublishAlert(t *testing.T) {
	pub := &fakePublisher{}
	c := NewClient(pub, ClientOptions{})

	require.NoError(t, c.PublishAlert(context.Background(), "edgex/plotter/alert", "tty0", errors.New("unplugged")))

	var payload AlertPayload
	msg := decode(t, pub.sent[0].body, &payload)
	assert.Equal(t, 1, msg.ErrorCode)
	assert.Equal(t, "tty0", payload.Port)
	assert.Equal(t, "unplugged", payload.Message)
}

func TestPublish_Errors(t *testing.T) {
	ctx := context.Background()

	c := NewClient(&fakePublisher{}, ClientOptions{})
	assert.Error(t, c.PublishSnapshot(ctx, "", "tty0", plotter.Snapshot{}))

	broker := errors.New("not connected")
	c = NewClient(&fakePublisher{token: func() mqtt.Token { return completed(broker) }}, ClientOptions{})
	assert.ErrorIs(t, c.PublishSnapshot(ctx, "t", "tty0", plotter.Snapshot{}), broker)

	pending := func() mqtt.Token { return &fakeToken{done: make(chan struct{})} }
	c = NewClient(&fakePublisher{token: pending}, ClientOptions{ConnectTimeout: 5 * time.Millisecond})
	assert.ErrorContains(t, c.PublishSnapshot(ctx, "t", "tty0", plotter.Snapshot{}), "timed out")

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	c = NewClient(&fakePublisher{token: pending}, ClientOptions{})
	assert.ErrorIs(t, c.PublishSnapshot(cctx, "t", "tty0", plotter.Snapshot{}), context.Canceled)
}

func TestSnapshotSink(t *testing.T) {
	pub := &fakePublisher{}
	var sink plotter.Sink = SnapshotSink{Client: NewClient(pub, ClientOptions{}), Topic: "snap", Port: "tty0"}

	require.NoError(t, sink.Draw(context.Background(), plotter.Snapshot{Values: []float64{1}, Timestamps: []float64{2}}))
	require.Len(t, pub.sent, 1)
	assert.Equal(t, "snap", pub.sent[0].topic)
}

func TestOptionsFromConfig(t *testing.T) {
	o := OptionsFromConfig(config.MQTTConfig{
		Broker:            "tcp://localhost:1883",
		ClientID:          "plotter",
		KeepAliveSec:      30,
		ConnectTimeoutSec: 5,
		Qos:               2,
	})
	assert.Equal(t, "tcp://localhost:1883", o.Broker)
	assert.Equal(t, 30*time.Second, o.KeepAlive)
	assert.Equal(t, 5*time.Second, o.ConnectTimeout)
	assert.Equal(t, byte(2), o.Qos)
}

func TestDisconnect_IgnoresPlainPublisher(t *testing.T) {
	c := NewClient(&fakePublisher{}, ClientOptions{})
	assert.NotPanics(t, func() { c.Disconnect(0) })
}
