// Package mqttclient publishes buffer snapshots and link alerts to an MQTT
// broker, wrapped in the EdgeX MessageBus envelope.
package mqttclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/linjuya-lu/device_plotter_go/internal/config"
	"github.com/linjuya-lu/device_plotter_go/internal/plotter"
)

const (
	ApiVersion      = "v3"
	ContentTypeJSON = "application/json"
)

// ClientOptions 配置 MQTT 客户端行为
// Broker: tcp://host:port
// KeepAlive: 心跳间隔
// ConnectTimeout: 连接超时，也用作发布等待上限
type ClientOptions struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	Qos            byte
	Retain         bool
}

// OptionsFromConfig maps the MQTT section of configuration.yaml.
func OptionsFromConfig(c config.MQTTConfig) ClientOptions {
	return ClientOptions{
		Broker:         c.Broker,
		ClientID:       c.ClientID,
		Username:       c.Username,
		Password:       c.Password,
		KeepAlive:      time.Duration(c.KeepAliveSec) * time.Second,
		ConnectTimeout: time.Duration(c.ConnectTimeoutSec) * time.Second,
		Qos:            c.Qos,
	}
}

// Connect 根据传入的配置创建并连接 MQTT 客户端
func Connect(opts ClientOptions) (mqtt.Client, error) {
	p := mqtt.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetAutoReconnect(true).
		SetKeepAlive(opts.KeepAlive).
		SetPingTimeout(10 * time.Second).
		SetCleanSession(true)
	if opts.Username != "" {
		p.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		p.SetPassword(opts.Password)
	}

	client := mqtt.NewClient(p)
	tok := client.Connect()
	if !tok.WaitTimeout(opts.ConnectTimeout) {
		return nil, fmt.Errorf("mqtt connect to %s timed out after %s", opts.Broker, opts.ConnectTimeout)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", opts.Broker, err)
	}
	return client, nil
}

// Publisher is the part of mqtt.Client this package uses.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// EdgexMessage 是 EdgeX MessageBus 的通用消息格式
type EdgexMessage struct {
	ApiVersion    string      `json:"apiVersion"`
	ReceivedTopic string      `json:"receivedTopic,omitempty"`
	CorrelationID string      `json:"correlationID"`
	RequestID     string      `json:"requestID"`
	ErrorCode     int         `json:"errorCode"`
	Payload       interface{} `json:"payload,omitempty"`
	ContentType   string      `json:"contentType"`
}

// SnapshotPayload carries one buffer snapshot.
type SnapshotPayload struct {
	Port       string    `json:"port"`
	Timestamp  int64     `json:"timestamp"` // Unix 纳秒
	Timestamps []float64 `json:"timestamps"`
	Values     []float64 `json:"values"`
}

// AlertPayload reports a link failure.
type AlertPayload struct {
	Port      string `json:"port"`
	Timestamp int64  `json:"timestamp"`
	Message   string `json:"message"`
}

// Client publishes through a Publisher, normally a connected mqtt.Client.
type Client struct {
	pub  Publisher
	opts ClientOptions
}

func NewClient(pub Publisher, opts ClientOptions) *Client {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	return &Client{pub: pub, opts: opts}
}

// PublishSnapshot 组装并发布一条 EdgeX 格式的快照消息
func (c *Client) PublishSnapshot(ctx context.Context, topic, port string, snap plotter.Snapshot) error {
	return c.publish(ctx, topic, SnapshotPayload{
		Port:       port,
		Timestamp:  snap.Taken.UnixNano(),
		Timestamps: snap.Timestamps,
		Values:     snap.Values,
	}, 0)
}

// PublishAlert publishes cause as an error-coded message.
func (c *Client) PublishAlert(ctx context.Context, topic, port string, cause error) error {
	return c.publish(ctx, topic, AlertPayload{
		Port:      port,
		Timestamp: time.Now().UnixNano(),
		Message:   cause.Error(),
	}, 1)
}

func (c *Client) publish(ctx context.Context, topic string, payload interface{}, errorCode int) error {
	if topic == "" {
		return fmt.Errorf("no topic configured")
	}
	body, err := json.Marshal(EdgexMessage{
		ApiVersion:    ApiVersion,
		CorrelationID: uuid.NewString(),
		RequestID:     uuid.NewString(),
		ErrorCode:     errorCode,
		Payload:       payload,
		ContentType:   ContentTypeJSON,
	})
	if err != nil {
		return fmt.Errorf("marshal message for %s: %w", topic, err)
	}

	tok := c.pub.Publish(topic, c.opts.Qos, c.opts.Retain, body)
	timer := time.NewTimer(c.opts.ConnectTimeout)
	defer timer.Stop()
	select {
	case <-tok.Done():
		if err := tok.Error(); err != nil {
			return fmt.Errorf("publish to %s: %w", topic, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("publish to %s timed out after %s", topic, c.opts.ConnectTimeout)
	}
}

// Disconnect 断开与 Broker 的连接
func (c *Client) Disconnect(quiesce uint) {
	if mc, ok := c.pub.(mqtt.Client); ok {
		mc.Disconnect(quiesce)
	}
}

// SnapshotSink publishes every refresh to one topic.
type SnapshotSink struct {
	Client *Client
	Topic  string
	Port   string
}

func (s SnapshotSink) Draw(ctx context.Context, snap plotter.Snapshot) error {
	return s.Client.PublishSnapshot(ctx, s.Topic, s.Port, snap)
}
