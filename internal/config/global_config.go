package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	DefaultCapacity          = 500
	DefaultPollIntervalMs    = 1000
	DefaultIdleWaitMs        = 5
	DefaultRetryBackoffUs    = 100
	DefaultRefreshIntervalMs = 23
	DefaultByteOrder         = "little"
	DefaultResyncPolicy      = "skip"
	DefaultProtocolID        = "afproto"
	DefaultTimeoutMs         = 100
)

var (
	// Cfg 全局持有反序列化后的配置
	Cfg  *Config
	once sync.Once

	// 内存“表”
	portMap map[string]Port
)

// LoadConfig 从指定 YAML 文件加载配置，只初始化一次
func LoadConfig(path string) error {
	var err error
	once.Do(func() {
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			err = fmt.Errorf("read config %s: %w", path, readErr)
			return
		}
		cfg, parseErr := Parse(data)
		if parseErr != nil {
			err = fmt.Errorf("parse config %s: %w", path, parseErr)
			return
		}
		install(cfg)
	})
	return err
}

// install publishes cfg and rebuilds the port table.
func install(cfg *Config) {
	Cfg = cfg
	sp := cfg.SerialProxy

	portMap = make(map[string]Port, len(sp.Ports))
	for _, p := range sp.Ports {
		portMap[p.Name] = p
	}
}

// Parse decodes a configuration document, fills defaults and validates it.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.SerialProxy.DefaultProtocol == "" {
		c.SerialProxy.DefaultProtocol = DefaultProtocolID
	}
	for i := range c.SerialProxy.Ports {
		p := &c.SerialProxy.Ports[i]
		if p.Type == "" {
			p.Type = "uart"
		}
		if p.Baudrate == 0 {
			p.Baudrate = 115200
		}
	}

	pc := &c.Plotter
	if pc.PortName == "" && len(c.SerialProxy.Ports) == 1 {
		pc.PortName = c.SerialProxy.Ports[0].Name
	}
	if pc.Capacity == 0 {
		pc.Capacity = DefaultCapacity
	}
	if pc.PollIntervalMs == 0 {
		pc.PollIntervalMs = DefaultPollIntervalMs
	}
	// 读超时默认 100ms，但不超过轮询周期
	for i := range c.SerialProxy.Ports {
		p := &c.SerialProxy.Ports[i]
		if p.TimeoutMs == 0 {
			p.TimeoutMs = DefaultTimeoutMs
			if pc.PollIntervalMs > 0 && pc.PollIntervalMs < p.TimeoutMs {
				p.TimeoutMs = pc.PollIntervalMs
			}
		}
	}
	if pc.IdleWaitMs == 0 {
		pc.IdleWaitMs = DefaultIdleWaitMs
	}
	if pc.RetryBackoffUs == 0 {
		pc.RetryBackoffUs = DefaultRetryBackoffUs
	}
	if pc.RefreshIntervalMs == 0 {
		pc.RefreshIntervalMs = DefaultRefreshIntervalMs
	}
	if pc.ByteOrder == "" {
		pc.ByteOrder = DefaultByteOrder
	}
	if pc.ResyncPolicy == "" {
		pc.ResyncPolicy = DefaultResyncPolicy
	}

	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "serial-plotter"
	}
	if c.MQTT.KeepAliveSec == 0 {
		c.MQTT.KeepAliveSec = 60
	}
	if c.MQTT.ConnectTimeoutSec == 0 {
		c.MQTT.ConnectTimeoutSec = 10
	}
}

// Validate reports the first inconsistency in the configuration.
func (c *Config) Validate() error {
	names := make(map[string]bool, len(c.SerialProxy.Ports))
	for _, p := range c.SerialProxy.Ports {
		if p.Name == "" || p.Device == "" {
			return fmt.Errorf("port %q: name and device are required", p.Name)
		}
		if names[p.Name] {
			return fmt.Errorf("duplicate port name %q", p.Name)
		}
		names[p.Name] = true
		switch p.Type {
		case "uart", "rs485", "rs232":
		default:
			return fmt.Errorf("port %q: unknown port type %s", p.Name, p.Type)
		}
	}

	pc := c.Plotter
	if !names[pc.PortName] {
		return fmt.Errorf("plotter port %q is not a configured port", pc.PortName)
	}
	if pc.Capacity < 1 {
		return fmt.Errorf("invalid capacity %d: must be at least 1", pc.Capacity)
	}
	if pc.PollIntervalMs < 0 || pc.IdleWaitMs < 0 || pc.RetryBackoffUs < 0 || pc.RefreshIntervalMs < 0 {
		return fmt.Errorf("plotter intervals must not be negative")
	}
	// A read that outlives the poll interval delays Deactivate and RequestExit;
	// timeouts below 1ms make tarm/serial block until a byte arrives.
	for _, p := range c.SerialProxy.Ports {
		if p.TimeoutMs < 1 || p.TimeoutMs > pc.PollIntervalMs {
			return fmt.Errorf("port %q: timeoutMs %d out of range 1..%d (PollIntervalMs)", p.Name, p.TimeoutMs, pc.PollIntervalMs)
		}
	}
	switch pc.ByteOrder {
	case "little", "big":
	default:
		return fmt.Errorf("unsupported byte order %q: expected little or big", pc.ByteOrder)
	}
	switch pc.ResyncPolicy {
	case "skip", "wait", "flush":
	default:
		return fmt.Errorf("unsupported resync policy %q: expected skip, wait or flush", pc.ResyncPolicy)
	}

	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt enabled without a broker")
	}
	return nil
}

// PollInterval bounds how long the reader waits before re-checking its state.
func (pc PlotterConfig) PollInterval() time.Duration {
	return time.Duration(pc.PollIntervalMs) * time.Millisecond
}

// IdleWait is the pause after a poll that found no bytes.
func (pc PlotterConfig) IdleWait() time.Duration {
	return time.Duration(pc.IdleWaitMs) * time.Millisecond
}

// RetryBackoff is the sleep between contended ring buffer writes.
func (pc PlotterConfig) RetryBackoff() time.Duration {
	return time.Duration(pc.RetryBackoffUs) * time.Microsecond
}

// RefreshInterval is the consumer's snapshot period.
func (pc PlotterConfig) RefreshInterval() time.Duration {
	return time.Duration(pc.RefreshIntervalMs) * time.Millisecond
}

// GetPort 根据端口名称返回 Port 配置
func GetPort(name string) (Port, bool) {
	p, ok := portMap[name]
	return p, ok
}

// ProtocolForPort 返回端口绑定的 Protocol；未绑定时使用 DefaultProtocol。
// 协议 ID 未在 Protocols 中声明时只填充 ID。
func (c *Config) ProtocolForPort(name string) Protocol {
	sp := c.SerialProxy
	id := sp.DefaultProtocol
	for _, b := range sp.Bindings {
		if b.PortName == name {
			id = b.ProtocolID
			break
		}
	}
	for _, pr := range sp.Protocols {
		if pr.ID == id {
			return pr
		}
	}
	return Protocol{ID: id}
}
