package serial

import (
	"bytes"
	"sync"
	"time"
)

// MockPort implements Port with scriptable input and injectable errors so
// the ingestion loop can run without hardware.
type MockPort struct {
	mu sync.Mutex

	name    string
	pending bytes.Buffer
	opened  bool
	closed  bool

	// BufferedLatency is slept by every Buffered call that finds nothing,
	// standing in for the device read timeout.
	BufferedLatency time.Duration

	// BufferedErr and ReadErr are returned once by the next call.
	BufferedErr error
	ReadErr     error
	// FlushErr is returned by every FlushInput call while set.
	FlushErr error

	FlushCalls int
	ReadCalls  int
}

// NewMockPort returns an open MockPort.
func NewMockPort(name string) *MockPort {
	return &MockPort{name: name, opened: true}
}

func (m *MockPort) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened = true
	m.closed = false
	return nil
}

func (m *MockPort) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MockPort) Name() string { return m.name }

func (m *MockPort) Buffered() (int, error) {
	m.mu.Lock()
	if m.closed || !m.opened {
		m.mu.Unlock()
		return 0, ErrNotOpen
	}
	if err := m.BufferedErr; err != nil {
		m.BufferedErr = nil
		m.mu.Unlock()
		return 0, err
	}
	n := m.pending.Len()
	latency := m.BufferedLatency
	m.mu.Unlock()

	if n == 0 && latency > 0 {
		time.Sleep(latency)
	}
	return n, nil
}

func (m *MockPort) Read(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReadCalls++
	if m.closed || !m.opened {
		return 0, ErrNotOpen
	}
	if err := m.ReadErr; err != nil {
		m.ReadErr = nil
		return 0, err
	}
	if m.pending.Len() == 0 {
		return 0, nil
	}
	return m.pending.Read(p)
}

func (m *MockPort) FlushInput() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FlushCalls++
	if m.FlushErr != nil {
		return m.FlushErr
	}
	m.pending.Reset()
	return nil
}

// Feed queues bytes as if the device had sent them.
func (m *MockPort) Feed(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending.Write(data)
}

// SetBufferedErr arms a one-shot Buffered failure.
func (m *MockPort) SetBufferedErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BufferedErr = err
}

// Pending returns the number of queued bytes not yet read.
func (m *MockPort) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending.Len()
}

// Flushes returns how many times FlushInput was called.
func (m *MockPort) Flushes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.FlushCalls
}

// Closed reports whether Close was called.
func (m *MockPort) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// SetFlushErr makes every following FlushInput fail with err; nil clears it.
func (m *MockPort) SetFlushErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FlushErr = err
}
