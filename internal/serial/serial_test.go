package serial

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bugst "go.bug.st/serial"

	"github.com/linjuya-lu/device_plotter_go/internal/config"
)

// scriptedReader replays one result per Read call.
type scriptedReader struct {
	chunks [][]byte
	errs   []error
	calls  int
}

func (r *scriptedReader) Read(p []byte) (int, error) {
	i := r.calls
	r.calls++
	if i >= len(r.chunks) {
		return 0, io.EOF
	}
	n := copy(p, r.chunks[i])
	return n, r.errs[i]
}

func TestStaging_FillTreatsTimeoutEOFAsEmpty(t *testing.T) {
	s := newStaging(8)
	r := &scriptedReader{chunks: [][]byte{nil}, errs: []error{io.EOF}}

	n, err := s.fill(r)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStaging_FillThenRead(t *testing.T) {
	s := newStaging(8)
	r := &scriptedReader{
		chunks: [][]byte{{1, 2, 3, 4}, {9}},
		errs:   []error{nil, nil},
	}

	n, err := s.fill(r)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	// staged bytes are reported again without touching the device
	n, err = s.fill(r)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, 1, r.calls)

	p := make([]byte, 3)
	n, err = s.read(r, p)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, p[:n])

	n, err = s.read(r, p)
	require.NoError(t, err)
	assert.Equal(t, []byte{4}, p[:n])

	// nothing staged: falls through to the device
	n, err = s.read(r, p)
	require.NoError(t, err)
	assert.Equal(t, []byte{9}, p[:n])
}

func TestStaging_FillSurfacesDeviceError(t *testing.T) {
	s := newStaging(8)
	boom := errors.New("input/output error")
	r := &scriptedReader{chunks: [][]byte{nil}, errs: []error{boom}}

	_, err := s.fill(r)
	assert.ErrorIs(t, err, boom)
}

func TestStaging_Discard(t *testing.T) {
	s := newStaging(8)
	r := &scriptedReader{chunks: [][]byte{{1, 2}}, errs: []error{nil}}
	_, err := s.fill(r)
	require.NoError(t, err)

	s.discard()
	n, err := s.fill(r)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestNewPort(t *testing.T) {
	for typ, want := range map[string]any{
		"uart":  &UARTPort{},
		"rs485": &RS485Port{},
		"rs232": &RS232Port{},
	} {
		p, err := NewPort(config.Port{Name: "p", Device: "/dev/null", Type: typ})
		require.NoError(t, err)
		assert.IsType(t, want, p)
		assert.Equal(t, "p", p.Name())
	}

	_, err := NewPort(config.Port{Type: "can"})
	assert.Error(t, err)
}

func TestPortsRequireOpen(t *testing.T) {
	for _, typ := range []string{"uart", "rs485", "rs232"} {
		p, err := NewPort(config.Port{Name: "p", Device: "/dev/null", Type: typ})
		require.NoError(t, err)

		_, err = p.Buffered()
		assert.ErrorIs(t, err, ErrNotOpen, typ)
		_, err = p.Read(make([]byte, 1))
		assert.ErrorIs(t, err, ErrNotOpen, typ)
		assert.ErrorIs(t, p.FlushInput(), ErrNotOpen, typ)
		assert.NoError(t, p.Close(), typ)
	}
}

func TestPortOptions_SerialMode(t *testing.T) {
	mode, err := PortOptions{Parity: "even", StopBits: 2}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, 115200, mode.BaudRate)
	assert.Equal(t, 8, mode.DataBits)
	assert.Equal(t, bugst.EvenParity, mode.Parity)
	assert.Equal(t, bugst.TwoStopBits, mode.StopBits)

	mode, err = OptionsFromConfig(config.Port{Baudrate: 9600, DataBits: 7, Parity: "o"}).SerialMode()
	require.NoError(t, err)
	assert.Equal(t, 9600, mode.BaudRate)
	assert.Equal(t, 7, mode.DataBits)
	assert.Equal(t, bugst.OddParity, mode.Parity)
	assert.Equal(t, bugst.OneStopBit, mode.StopBits)
}

func TestPortOptions_Invalid(t *testing.T) {
	for _, o := range []PortOptions{
		{DataBits: 9},
		{StopBits: 3},
		{Parity: "mark"},
	} {
		_, err := o.SerialMode()
		assert.Error(t, err, "%+v", o)
	}
}

func TestMockPort(t *testing.T) {
	m := NewMockPort("mock")
	m.Feed([]byte{1, 2, 3})

	n, err := m.Buffered()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	p := make([]byte, 2)
	n, err = m.Read(p)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2}, p[:n])

	require.NoError(t, m.FlushInput())
	assert.Zero(t, m.Pending())
	assert.Equal(t, 1, m.Flushes())

	boom := errors.New("unplugged")
	m.SetBufferedErr(boom)
	_, err = m.Buffered()
	assert.ErrorIs(t, err, boom)
	_, err = m.Buffered()
	assert.NoError(t, err)

	require.NoError(t, m.Close())
	assert.True(t, m.Closed())
	_, err = m.Buffered()
	assert.ErrorIs(t, err, ErrNotOpen)
}
