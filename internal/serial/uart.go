package serial

import (
	"fmt"
	"time"

	"github.com/linjuya-lu/device_plotter_go/internal/config"
	"github.com/tarm/serial"
)

type UARTPort struct {
	cfg    config.Port
	handle *serial.Port
	stage  staging
}

func NewUARTPort(cfg config.Port) Port {
	return &UARTPort{cfg: cfg, stage: newStaging(4096)}
}

func (u *UARTPort) Open() error {
	sc := &serial.Config{
		Name:        u.cfg.Device,
		Baud:        u.cfg.Baudrate,
		ReadTimeout: time.Duration(u.cfg.TimeoutMs) * time.Millisecond,
	}
	p, err := serial.OpenPort(sc)
	if err != nil {
		return fmt.Errorf("open UART %s failed: %w", u.cfg.Device, err)
	}
	u.handle = p
	return nil
}

func (u *UARTPort) Close() error {
	if u.handle != nil {
		err := u.handle.Close()
		u.handle = nil
		return err
	}
	return nil
}

// Name 返回逻辑名称
func (u *UARTPort) Name() string {
	return u.cfg.Name
}

func (u *UARTPort) Buffered() (int, error) {
	if u.handle == nil {
		return 0, ErrNotOpen
	}
	n, err := u.stage.fill(u.handle)
	if err != nil {
		return n, fmt.Errorf("UART %s read failed: %w", u.cfg.Device, err)
	}
	return n, nil
}

func (u *UARTPort) Read(p []byte) (int, error) {
	if u.handle == nil {
		return 0, ErrNotOpen
	}
	return u.stage.read(u.handle, p)
}

// FlushInput 丢弃串口驱动与本地暂存中尚未读取的数据。
// tarm/serial only offers a combined flush; nothing is ever written on this
// port, so dropping the output queue as well is harmless.
func (u *UARTPort) FlushInput() error {
	if u.handle == nil {
		return ErrNotOpen
	}
	u.stage.discard()
	if err := u.handle.Flush(); err != nil {
		return fmt.Errorf("UART %s flush failed: %w", u.cfg.Device, err)
	}
	return nil
}
