package driver

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	dsModels "github.com/edgexfoundry/device-sdk-go/v4/pkg/models"
	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"
	"github.com/edgexfoundry/go-mod-core-contracts/v4/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linjuya-lu/device_plotter_go/internal/config"
	"github.com/linjuya-lu/device_plotter_go/internal/ingest"
	"github.com/linjuya-lu/device_plotter_go/internal/mqttclient"
	"github.com/linjuya-lu/device_plotter_go/internal/plotter"
	"github.com/linjuya-lu/device_plotter_go/internal/serial"
)

const testConfig = `
SerialProxy:
  Ports:
    - name: mock0
      device: /dev/ttyMOCK0
      type: uart
      baudrate: 115200
  Protocols:
    - ID: afproto
      SnapshotTopic: edgex/plotter/mock0/snapshot
      AlertTopic: edgex/plotter/mock0/alert
  Bindings:
    - portName: mock0
      protocolId: afproto
Plotter:
  Capacity: 4
  PollIntervalMs: 20
  IdleWaitMs: 1
  RefreshIntervalMs: 5
MQTT:
  Enabled: true
  Broker: tcp://127.0.0.1:1883
  ConnectTimeoutSec: 1
`

type doneToken struct{ done chan struct{} }

func newDoneToken() doneToken {
	t := doneToken{done: make(chan struct{})}
	close(t.done)
	return t
}

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{}          { return t.done }
func (t doneToken) Error() error                   { return nil }

type topicRecorder struct {
	mu     sync.Mutex
	topics map[string][][]byte
}

func (r *topicRecorder) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.topics == nil {
		r.topics = make(map[string][][]byte)
	}
	r.topics[topic] = append(r.topics[topic], payload.([]byte))
	return newDoneToken()
}

func (r *topicRecorder) count(topic string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.topics[topic])
}

func (r *topicRecorder) first(topic string) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.topics[topic][0]
}

type harness struct {
	port   *serial.MockPort
	pub    *topicRecorder
	async  chan *dsModels.AsyncValues
	driver *PlotterDriver
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithAsync(t, make(chan *dsModels.AsyncValues, 16), 0)
}

func newHarnessWithAsync(t *testing.T, async chan *dsModels.AsyncValues, timeout time.Duration) *harness {
	t.Helper()
	cfg, err := config.Parse([]byte(testConfig))
	require.NoError(t, err)

	h := &harness{
		port:  serial.NewMockPort("mock0"),
		pub:   &topicRecorder{},
		async: async,
	}
	h.driver = &PlotterDriver{
		lc:           logger.NewMockClient(),
		asyncCh:      h.async,
		asyncTimeout: timeout,
	}
	h.driver.pipeline, err = BuildPipeline(cfg, h.port, PipelineOptions{
		Logger:    h.driver.lc,
		Publisher: h.pub,
		OnFailure: h.driver.reportFailure,
	})
	require.NoError(t, err)
	require.NoError(t, h.driver.Start())
	t.Cleanup(func() { _ = h.driver.Stop(false) })
	return h
}

func (h *harness) read(t *testing.T, resource string) *dsModels.CommandValue {
	t.Helper()
	res, err := h.driver.HandleReadCommands("plotter", nil, []dsModels.CommandRequest{{DeviceResourceName: resource}})
	require.NoError(t, err)
	require.Len(t, res, 1)
	return res[0]
}

func (h *harness) write(t *testing.T, resource string, v bool) error {
	t.Helper()
	cv, err := dsModels.NewCommandValue(resource, common.ValueTypeBool, v)
	require.NoError(t, err)
	return h.driver.HandleWriteCommands("plotter", nil,
		[]dsModels.CommandRequest{{DeviceResourceName: resource, Type: common.ValueTypeBool}},
		[]*dsModels.CommandValue{cv})
}

func (h *harness) feed(t *testing.T, values ...uint16) {
	t.Helper()
	for _, v := range values {
		f, err := serial.EncodeAfproto([]byte{byte(v), byte(v >> 8)})
		require.NoError(t, err)
		h.port.Feed(f)
	}
}

func (h *harness) startAcquisition(t *testing.T) {
	t.Helper()
	before := h.port.Flushes()
	require.NoError(t, h.write(t, ResourceAcquiring, true))
	require.Eventually(t, func() bool { return h.port.Flushes() > before }, time.Second, time.Millisecond)
}

func TestBuildPipeline_Wiring(t *testing.T) {
	h := newHarness(t)
	p := h.driver.pipeline

	assert.Equal(t, "afproto", p.Protocol.ID)
	assert.Equal(t, 4, p.Ring.Capacity())
	assert.NotNil(t, p.MQTT)
	assert.Equal(t, ingest.Stopped, p.Reader.State())
}

func TestBuildPipeline_UnknownProtocol(t *testing.T) {
	cfg, err := config.Parse([]byte(testConfig))
	require.NoError(t, err)
	cfg.SerialProxy.Bindings[0].ProtocolID = "iec101"

	_, err = BuildPipeline(cfg, serial.NewMockPort("mock0"), PipelineOptions{Logger: logger.NewMockClient()})
	assert.ErrorContains(t, err, "iec101")
}

func TestDriver_AcquireReadAndStop(t *testing.T) {
	h := newHarness(t)

	assert.False(t, h.read(t, ResourceAcquiring).Value.(bool))
	h.startAcquisition(t)
	assert.True(t, h.read(t, ResourceAcquiring).Value.(bool))
	assert.Equal(t, "Running", h.read(t, ResourceLinkState).Value)

	h.feed(t, 1, 2, 3)
	require.Eventually(t, func() bool {
		return h.driver.pipeline.Reader.Stats().Samples == 3
	}, time.Second, time.Millisecond)
	assert.Equal(t, uint64(3), h.read(t, ResourceSampleCount).Value)

	values, err := h.read(t, ResourceValues).Float64ArrayValue()
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 2, 3}, values)

	ts, err := h.read(t, ResourceTimestamps).Float64ArrayValue()
	require.NoError(t, err)
	require.Len(t, ts, 4)
	assert.Zero(t, ts[0])
	assert.LessOrEqual(t, ts[1], ts[2])
	assert.LessOrEqual(t, ts[2], ts[3])

	latest, err := h.read(t, ResourceLatestValue).Float64Value()
	require.NoError(t, err)
	assert.Equal(t, 3.0, latest)

	// snapshots reach the broker while acquiring
	topic := h.driver.pipeline.Protocol.SnapshotTopic
	require.Eventually(t, func() bool { return h.pub.count(topic) > 0 }, time.Second, time.Millisecond)

	require.NoError(t, h.write(t, ResourceAcquiring, false))
	assert.Equal(t, "Stopped", h.read(t, ResourceLinkState).Value)
	values, err = h.read(t, ResourceValues).Float64ArrayValue()
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 0, 0}, values)
}

func TestDriver_Clear(t *testing.T) {
	h := newHarness(t)
	h.startAcquisition(t)

	h.feed(t, 7)
	require.Eventually(t, func() bool {
		return h.driver.pipeline.Reader.Stats().Samples == 1
	}, time.Second, time.Millisecond)

	require.NoError(t, h.write(t, ResourceClear, true))
	values, err := h.read(t, ResourceValues).Float64ArrayValue()
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 0, 0}, values)
	assert.True(t, h.read(t, ResourceAcquiring).Value.(bool))
}

func TestDriver_MalformedCount(t *testing.T) {
	h := newHarness(t)
	h.startAcquisition(t)

	f, err := serial.EncodeAfproto([]byte{1, 2, 3})
	require.NoError(t, err)
	h.port.Feed(f)
	require.Eventually(t, func() bool {
		return h.driver.pipeline.Reader.Stats().Malformed == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, uint64(1), h.read(t, ResourceMalformed).Value)
}

func TestDriver_RejectsBadCommands(t *testing.T) {
	h := newHarness(t)

	_, err := h.driver.HandleReadCommands("plotter", nil, []dsModels.CommandRequest{{DeviceResourceName: "Voltage"}})
	assert.Error(t, err)

	assert.Error(t, h.write(t, ResourceValues, true))

	cv, err := dsModels.NewCommandValue(ResourceAcquiring, common.ValueTypeString, "yes")
	require.NoError(t, err)
	err = h.driver.HandleWriteCommands("plotter", nil,
		[]dsModels.CommandRequest{{DeviceResourceName: ResourceAcquiring}},
		[]*dsModels.CommandValue{cv})
	assert.Error(t, err)

	err = h.driver.HandleWriteCommands("plotter", nil, []dsModels.CommandRequest{{DeviceResourceName: ResourceClear}}, nil)
	assert.Error(t, err)
}

func TestDriver_SerialFailure(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.driver.AddDevice("plotter", nil, ""))
	h.startAcquisition(t)

	h.feed(t, 5, 6)
	require.Eventually(t, func() bool {
		return h.driver.pipeline.Reader.Stats().Samples == 2
	}, time.Second, time.Millisecond)

	h.port.SetBufferedErr(errors.New("device unplugged"))

	select {
	case av := <-h.async:
		assert.Equal(t, "plotter", av.DeviceName)
		assert.Equal(t, ResourceLinkState, av.SourceName)
		require.Len(t, av.CommandValues, 1)
		assert.Equal(t, "Terminated", av.CommandValues[0].Value)
	case <-time.After(time.Second):
		t.Fatal("no async link state after failure")
	}

	assert.False(t, h.read(t, ResourceAcquiring).Value.(bool))
	assert.ErrorIs(t, h.write(t, ResourceAcquiring, true), plotter.ErrLinkTerminated)

	// samples from before the outage are still readable
	values, err := h.read(t, ResourceValues).Float64ArrayValue()
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 5, 6}, values)

	alertTopic := h.driver.pipeline.Protocol.AlertTopic
	require.Equal(t, 1, h.pub.count(alertTopic))
	var alert mqttclient.AlertPayload
	msg := mqttclient.EdgexMessage{Payload: &alert}
	require.NoError(t, json.Unmarshal(h.pub.first(alertTopic), &msg))
	assert.Equal(t, 1, msg.ErrorCode)
	assert.Equal(t, "mock0", alert.Port)
	assert.Contains(t, alert.Message, "device unplugged")
}

func TestDriver_FailureReportDoesNotBlockOnStalledChannel(t *testing.T) {
	// nobody reads the unbuffered channel
	h := newHarnessWithAsync(t, make(chan *dsModels.AsyncValues), 20*time.Millisecond)
	require.NoError(t, h.driver.AddDevice("a", nil, ""))
	require.NoError(t, h.driver.AddDevice("b", nil, ""))
	h.startAcquisition(t)

	h.port.SetBufferedErr(errors.New("device unplugged"))
	select {
	case <-h.driver.pipeline.Reader.Done():
	case <-time.After(time.Second):
		t.Fatal("reader blocked reporting the failure")
	}

	start := time.Now()
	require.NoError(t, h.driver.Stop(false))
	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, h.port.Closed())
}

func TestDriver_StopJoinsReaderAndClosesPort(t *testing.T) {
	h := newHarness(t)
	h.startAcquisition(t)

	start := time.Now()
	require.NoError(t, h.driver.Stop(false))
	assert.Less(t, time.Since(start), time.Second)

	assert.Equal(t, ingest.Terminated, h.driver.pipeline.Reader.State())
	assert.True(t, h.port.Closed())
	// second stop is a no-op
	require.NoError(t, h.driver.Stop(false))
}

func TestDriver_DeviceBookkeeping(t *testing.T) {
	d := &PlotterDriver{lc: logger.NewMockClient()}
	require.NoError(t, d.AddDevice("b", nil, ""))
	require.NoError(t, d.AddDevice("a", nil, ""))
	assert.Equal(t, []string{"a", "b"}, d.deviceNames())
	require.NoError(t, d.RemoveDevice("a", nil))
	assert.Equal(t, []string{"b"}, d.deviceNames())
}
