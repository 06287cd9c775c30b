package serial

import (
	"fmt"
	"os"
	"time"

	"github.com/linjuya-lu/device_plotter_go/internal/config"
	"github.com/tarm/serial"
)

// RS485Port 实现了 RS-485 半双工物理层的只读接收：
// - Open/Close 管理串口和 GPIO
// - DE/RE 在打开时拉低并保持，收发器始终处于接收状态
type RS485Port struct {
	cfg    config.Port  // 端口配置
	port   *serial.Port // 串口句柄
	gpioFD *os.File     // DE/RE 控制 GPIO 节点
	stage  staging
}

// 构造 RS485Port 实例
func NewRS485Port(cfg config.Port) Port {
	return &RS485Port{cfg: cfg, stage: newStaging(256)}
}

// Open 导出 GPIO 并打开串口。DEPin 为 0 时跳过 GPIO（收发器自动切换方向）。
func (r *RS485Port) Open() error {
	if r.cfg.DEPin > 0 {
		if err := r.holdReceive(); err != nil {
			return err
		}
	}

	serCfg := &serial.Config{
		Name:        r.cfg.Device,
		Baud:        r.cfg.Baudrate,
		ReadTimeout: time.Duration(r.cfg.TimeoutMs) * time.Millisecond,
	}
	p, err := serial.OpenPort(serCfg)
	if err != nil {
		if r.gpioFD != nil {
			r.gpioFD.Close()
			r.gpioFD = nil
		}
		return fmt.Errorf("open serial %s failed: %w", r.cfg.Device, err)
	}
	r.port = p
	return nil
}

func (r *RS485Port) holdReceive() error {
	if err := exportGPIO(r.cfg.DEPin); err != nil {
		return fmt.Errorf("export GPIO %d failed: %w", r.cfg.DEPin, err)
	}
	// 等待 sysfs 节点生成
	time.Sleep(100 * time.Millisecond)
	if err := setGPIODirection(r.cfg.DEPin, "out"); err != nil {
		return fmt.Errorf("set GPIO %d direction: %w", r.cfg.DEPin, err)
	}
	f, err := openGPIOValue(r.cfg.DEPin)
	if err != nil {
		return fmt.Errorf("open GPIO %d value: %w", r.cfg.DEPin, err)
	}
	// 低电平 (接收)
	if _, err := f.WriteString("0"); err != nil {
		f.Close()
		return fmt.Errorf("init GPIO %d low: %w", r.cfg.DEPin, err)
	}
	r.gpioFD = f
	return nil
}

// Close 关闭串口和 GPIO
func (r *RS485Port) Close() error {
	var firstErr error
	if r.port != nil {
		if err := r.port.Close(); err != nil {
			firstErr = err
		}
		r.port = nil
	}
	if r.gpioFD != nil {
		if err := r.gpioFD.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		r.gpioFD = nil
	}
	return firstErr
}

// Name 返回端口名称
func (r *RS485Port) Name() string {
	return r.cfg.Name
}

func (r *RS485Port) Buffered() (int, error) {
	if r.port == nil {
		return 0, ErrNotOpen
	}
	n, err := r.stage.fill(r.port)
	if err != nil {
		return n, fmt.Errorf("serial %s read failed: %w", r.cfg.Device, err)
	}
	return n, nil
}

func (r *RS485Port) Read(p []byte) (int, error) {
	if r.port == nil {
		return 0, ErrNotOpen
	}
	return r.stage.read(r.port, p)
}

func (r *RS485Port) FlushInput() error {
	if r.port == nil {
		return ErrNotOpen
	}
	r.stage.discard()
	if err := r.port.Flush(); err != nil {
		return fmt.Errorf("serial %s flush failed: %w", r.cfg.Device, err)
	}
	return nil
}

// -------- GPIO 辅助函数 --------
func exportGPIO(pin int) error {
	f, err := os.OpenFile("/sys/class/gpio/export", os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	_, _ = f.WriteString(fmt.Sprint(pin)) // 若已导出则忽略错误
	return nil
}

func setGPIODirection(pin int, dir string) error {
	path := fmt.Sprintf("/sys/class/gpio/gpio%d/direction", pin)
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(dir)
	return err
}

func openGPIOValue(pin int) (*os.File, error) {
	path := fmt.Sprintf("/sys/class/gpio/gpio%d/value", pin)
	return os.OpenFile(path, os.O_RDWR, 0)
}
