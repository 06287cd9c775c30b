// internal/driver/init.go
package driver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"

	"github.com/linjuya-lu/device_plotter_go/internal/config"
	"github.com/linjuya-lu/device_plotter_go/internal/ingest"
	"github.com/linjuya-lu/device_plotter_go/internal/mqttclient"
	"github.com/linjuya-lu/device_plotter_go/internal/plotter"
	"github.com/linjuya-lu/device_plotter_go/internal/ringbuf"
	"github.com/linjuya-lu/device_plotter_go/internal/serial"
	"github.com/linjuya-lu/device_plotter_go/internal/timeutil"
)

const alertTimeout = 5 * time.Second

// Pipeline 串联一个串口的完整采集链路：串口 → 读协程 → 环形缓冲 → 快照消费者
type Pipeline struct {
	Port     serial.Port
	Protocol config.Protocol
	Ring     *ringbuf.Ring
	Reader   *ingest.Reader
	Session  *plotter.Session
	// MQTT is nil when publishing is disabled.
	MQTT *mqttclient.Client

	lc        logger.LoggingClient
	onFailure func(error)
	closeOnce sync.Once
}

// PipelineOptions are the collaborators BuildPipeline does not create itself.
type PipelineOptions struct {
	Logger    logger.LoggingClient
	Clock     timeutil.Clock
	Publisher mqttclient.Publisher
	// OnFailure runs after the pipeline has reacted to a serial failure.
	OnFailure func(error)
}

// InitializePipeline 负责：
//  1. 加载配置
//  2. 打开采集串口
//  3. 按配置连接 MQTT（可选）
//  4. 组装读协程、环形缓冲和快照会话
func InitializePipeline(configPath string, lc logger.LoggingClient, onFailure func(error)) (*Pipeline, error) {
	if err := config.LoadConfig(configPath); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg := config.Cfg

	pc, ok := config.GetPort(cfg.Plotter.PortName)
	if !ok {
		return nil, fmt.Errorf("plotter port %s is not configured", cfg.Plotter.PortName)
	}
	port, err := serial.NewPort(pc)
	if err != nil {
		return nil, fmt.Errorf("unsupported port %s: %w", pc.Name, err)
	}
	if err := port.Open(); err != nil {
		return nil, fmt.Errorf("open port %s: %w", pc.Name, err)
	}

	opts := PipelineOptions{Logger: lc, OnFailure: onFailure}
	if cfg.MQTT.Enabled {
		client, err := mqttclient.Connect(mqttclient.OptionsFromConfig(cfg.MQTT))
		if err != nil {
			_ = port.Close()
			return nil, fmt.Errorf("初始化 MQTT 客户端失败: %w", err)
		}
		opts.Publisher = client
	}

	p, err := BuildPipeline(cfg, port, opts)
	if err != nil {
		_ = port.Close()
		return nil, err
	}
	return p, nil
}

// BuildPipeline wires an already opened port into a stopped pipeline.
func BuildPipeline(cfg *config.Config, port serial.Port, opts PipelineOptions) (*Pipeline, error) {
	lc := opts.Logger
	if lc == nil {
		lc = logger.NewClient("device-plotter", "INFO")
	}
	pc := cfg.Plotter

	proto := cfg.ProtocolForPort(port.Name())
	framer, ok := serial.LookupFramer(proto.ID)
	if !ok {
		return nil, fmt.Errorf("no framer for protocol %s", proto.ID)
	}
	order, err := ingest.ParseByteOrder(pc.ByteOrder)
	if err != nil {
		return nil, err
	}
	resync, err := ingest.ParseResyncPolicy(pc.ResyncPolicy)
	if err != nil {
		return nil, err
	}

	ring, err := ringbuf.New(pc.Capacity)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		Port:      port,
		Protocol:  proto,
		Ring:      ring,
		lc:        lc,
		onFailure: opts.OnFailure,
	}

	p.Reader, err = ingest.NewReader(port, ring, ingest.Options{
		Framer:       framer,
		Decode:       ingest.DecodeUint16(order),
		Resync:       resync,
		PollInterval: pc.PollInterval(),
		IdleWait:     pc.IdleWait(),
		RetryBackoff: pc.RetryBackoff(),
		Clock:        opts.Clock,
		Logger:       lc,
		OnFailure:    p.handleFailure,
	})
	if err != nil {
		return nil, err
	}

	var sink plotter.Sink
	if opts.Publisher != nil {
		p.MQTT = mqttclient.NewClient(opts.Publisher, mqttclient.OptionsFromConfig(cfg.MQTT))
		if proto.SnapshotTopic != "" {
			sink = mqttclient.SnapshotSink{Client: p.MQTT, Topic: proto.SnapshotTopic, Port: port.Name()}
		}
	}
	p.Session, err = plotter.NewSession(p.Reader, ring, plotter.Options{
		RefreshInterval: pc.RefreshInterval(),
		Sink:            sink,
		Logger:          lc,
	})
	if err != nil {
		return nil, err
	}

	lc.Infof("pipeline for %s: protocol %s, capacity %d, byte order %s, resync %s",
		port.Name(), proto.ID, pc.Capacity, pc.ByteOrder, resync)
	return p, nil
}

// Start launches the reader goroutine. Acquisition stays off until
// Session.Start.
func (p *Pipeline) Start() error {
	return p.Reader.Start()
}

// Shutdown 停止采集，等待读协程退出后再关闭串口
func (p *Pipeline) Shutdown() error {
	var err error
	p.closeOnce.Do(func() {
		p.Session.Stop()
		p.Reader.RequestExit()
		if rerr := p.Reader.Wait(); rerr != nil {
			p.lc.Warnf("reader for %s had failed: %v", p.Port.Name(), rerr)
		}
		if cerr := p.Port.Close(); cerr != nil {
			err = fmt.Errorf("close port %s: %w", p.Port.Name(), cerr)
		}
		if p.MQTT != nil {
			p.MQTT.Disconnect(250)
		}
	})
	return err
}

// handleFailure runs on the reader goroutine after it has terminated.
// The buffer is kept so the last samples before the outage stay readable.
func (p *Pipeline) handleFailure(err error) {
	p.Session.Halt()

	if p.MQTT != nil && p.Protocol.AlertTopic != "" {
		ctx, cancel := context.WithTimeout(context.Background(), alertTimeout)
		defer cancel()
		if perr := p.MQTT.PublishAlert(ctx, p.Protocol.AlertTopic, p.Port.Name(), err); perr != nil {
			p.lc.Errorf("publish alert for %s: %v", p.Port.Name(), perr)
		}
	}
	if p.onFailure != nil {
		p.onFailure(err)
	}
}
