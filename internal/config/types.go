package config

// Port 描述一个串口设备
type Port struct {
	Name      string `yaml:"name"`      // 逻辑名称
	Device    string `yaml:"device"`    // 串口设备节点
	Type      string `yaml:"type"`      // uart/rs485/rs232
	Baudrate  int    `yaml:"baudrate"`  // 波特率
	DataBits  int    `yaml:"dataBits"`  // rs232 only
	StopBits  int    `yaml:"stopBits"`  // rs232 only
	Parity    string `yaml:"parity"`    // rs232 only: N/E/O
	DEPin     int    `yaml:"dePin"`     // RS-485 DE/RE 控制 GPIO 编号
	TimeoutMs int    `yaml:"timeoutMs"` // 读操作超时（毫秒）
}

// Protocol names a frame format and the MQTT topics its samples go to.
type Protocol struct {
	ID            string `yaml:"ID"`            // 协议标识符, key into serial.Framers
	SnapshotTopic string `yaml:"SnapshotTopic"` // 快照上行主题
	AlertTopic    string `yaml:"AlertTopic"`    // 链路故障告警主题
}

// 端口绑定使用哪种协议
type Binding struct {
	PortName   string `yaml:"portName"`   // Port.Name
	ProtocolID string `yaml:"protocolId"` // Protocol.ID
}

// SerialProxyConfig 汇总了 Ports、Protocols、Bindings 等
type SerialProxyConfig struct {
	Ports           []Port     `yaml:"Ports"`
	Protocols       []Protocol `yaml:"Protocols"`
	Bindings        []Binding  `yaml:"Bindings"`
	DefaultProtocol string     `yaml:"DefaultProtocol"`
}

// PlotterConfig tunes the ingestion loop and the snapshot consumer.
type PlotterConfig struct {
	PortName          string `yaml:"PortName"`          // Port.Name to ingest from
	Capacity          int    `yaml:"Capacity"`          // ring buffer slots
	PollIntervalMs    int    `yaml:"PollIntervalMs"`    // bound on lifecycle waits
	IdleWaitMs        int    `yaml:"IdleWaitMs"`        // pause when no bytes are available
	RetryBackoffUs    int    `yaml:"RetryBackoffUs"`    // sleep between contended appends
	RefreshIntervalMs int    `yaml:"RefreshIntervalMs"` // consumer snapshot period
	ByteOrder         string `yaml:"ByteOrder"`         // little/big
	ResyncPolicy      string `yaml:"ResyncPolicy"`      // skip/wait/flush
}

// MQTTConfig configures the optional snapshot publisher.
type MQTTConfig struct {
	Enabled           bool   `yaml:"Enabled"`
	Broker            string `yaml:"Broker"` // tcp://host:port
	ClientID          string `yaml:"ClientID"`
	Username          string `yaml:"Username"`
	Password          string `yaml:"Password"`
	KeepAliveSec      int    `yaml:"KeepAliveSec"`
	ConnectTimeoutSec int    `yaml:"ConnectTimeoutSec"`
	Qos               byte   `yaml:"Qos"`
}

// Config is the root of configuration.yaml.
type Config struct {
	SerialProxy SerialProxyConfig `yaml:"SerialProxy"`
	Plotter     PlotterConfig     `yaml:"Plotter"`
	MQTT        MQTTConfig        `yaml:"MQTT"`
}
