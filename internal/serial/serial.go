// internal/serial/serial.go

package serial

import (
	"errors"
	"fmt"

	"github.com/linjuya-lu/device_plotter_go/internal/config"
)

// ErrNotOpen is returned by Port operations before Open or after Close.
var ErrNotOpen = errors.New("serial port not open")

// Port 是整个 serial 包对外暴露的通用串口接口
//
// The ingestion loop only ever reads: it asks how many bytes are waiting,
// reads exactly those, and discards pending input when a new run starts.
type Port interface {
	Open() error
	Close() error
	Name() string
	// Buffered reports how many unread bytes are available without
	// blocking longer than the port's read timeout.
	Buffered() (int, error)
	// Read returns available bytes, preferring those counted by Buffered.
	Read(p []byte) (int, error)
	// FlushInput discards everything received but not yet read, both in the
	// OS driver and in the port's own staging buffer.
	FlushInput() error
}

// NewPort 根据配置创建对应的串口实现（UART / RS-485 / RS-232）
func NewPort(cfg config.Port) (Port, error) {
	switch cfg.Type {
	case "uart":
		return NewUARTPort(cfg), nil
	case "rs485":
		return NewRS485Port(cfg), nil
	case "rs232":
		return NewRS232Port(cfg), nil
	default:
		return nil, fmt.Errorf("unknown port type %s", cfg.Type)
	}
}
