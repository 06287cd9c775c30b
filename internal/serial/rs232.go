package serial

import (
	"fmt"
	"time"

	bugst "go.bug.st/serial"

	"github.com/linjuya-lu/device_plotter_go/internal/config"
)

// RS232Port 通过 go.bug.st/serial 打开标准 RS-232 串口，
// 支持数据位/校验/停止位配置以及仅清空输入缓冲。
type RS232Port struct {
	cfg   config.Port
	port  bugst.Port
	stage staging
}

// NewRS232Port 构造 RS232Port
func NewRS232Port(cfg config.Port) Port {
	return &RS232Port{cfg: cfg, stage: newStaging(4096)}
}

// Open 打开并配置串口
func (r *RS232Port) Open() error {
	mode, err := OptionsFromConfig(r.cfg).SerialMode()
	if err != nil {
		return fmt.Errorf("serial %s: %w", r.cfg.Device, err)
	}
	p, err := bugst.Open(r.cfg.Device, mode)
	if err != nil {
		return fmt.Errorf("open serial %s failed: %w", r.cfg.Device, err)
	}
	if err := p.SetReadTimeout(time.Duration(r.cfg.TimeoutMs) * time.Millisecond); err != nil {
		p.Close()
		return fmt.Errorf("set read timeout on %s: %w", r.cfg.Device, err)
	}
	r.port = p
	return nil
}

// Close 关闭串口
func (r *RS232Port) Close() error {
	if r.port != nil {
		err := r.port.Close()
		r.port = nil
		return err
	}
	return nil
}

// Name 返回逻辑名称
func (r *RS232Port) Name() string {
	return r.cfg.Name
}

func (r *RS232Port) Buffered() (int, error) {
	if r.port == nil {
		return 0, ErrNotOpen
	}
	n, err := r.stage.fill(r.port)
	if err != nil {
		return n, fmt.Errorf("serial %s read failed: %w", r.cfg.Device, err)
	}
	return n, nil
}

func (r *RS232Port) Read(p []byte) (int, error) {
	if r.port == nil {
		return 0, ErrNotOpen
	}
	return r.stage.read(r.port, p)
}

func (r *RS232Port) FlushInput() error {
	if r.port == nil {
		return ErrNotOpen
	}
	r.stage.discard()
	if err := r.port.ResetInputBuffer(); err != nil {
		return fmt.Errorf("serial %s reset input failed: %w", r.cfg.Device, err)
	}
	return nil
}
