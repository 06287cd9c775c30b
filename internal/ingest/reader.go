// Package ingest runs the serial link reader: a dedicated goroutine that
// polls the port, feeds the framer, decodes payloads and appends
// timestamped samples to the shared ring buffer.
package ingest

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"

	"github.com/linjuya-lu/device_plotter_go/internal/ringbuf"
	"github.com/linjuya-lu/device_plotter_go/internal/serial"
	"github.com/linjuya-lu/device_plotter_go/internal/timeutil"
)

const (
	// DefaultMaxFrameSize caps the unparsed bytes kept for framers that do
	// not declare their own limit.
	DefaultMaxFrameSize = 4096

	DefaultPollInterval = time.Second
	DefaultIdleWait     = 5 * time.Millisecond
	DefaultRetryBackoff = 100 * time.Microsecond
)

// Sample is one decoded value stamped with seconds since activation.
type Sample struct {
	Timestamp float64
	Value     float64
}

// Options configures a Reader. Zero values pick the defaults.
type Options struct {
	Framer serial.Framer
	Decode Decoder
	Resync ResyncPolicy

	// PollInterval bounds how long the loop waits for a state change.
	PollInterval time.Duration
	// IdleWait is the pause after a poll that found no bytes.
	IdleWait time.Duration
	// RetryBackoff is the sleep between contended ring buffer writes.
	RetryBackoff time.Duration

	Clock  timeutil.Clock
	Logger logger.LoggingClient

	// OnFailure, if set, is called once from the reader goroutine with the
	// serial I/O error that stopped it.
	OnFailure func(error)
}

// Stats counts what the reader has seen since it started.
type Stats struct {
	Samples   uint64 // samples written to the ring
	Malformed uint64 // packets that did not decode
	Corrupt   uint64 // frames the framer rejected
	Abandoned uint64 // decoded samples dropped because the run ended mid-write
}

// Appender is the write side of the sample store. *ringbuf.Ring satisfies
// it; Append must not block and reports ringbuf.ErrContended instead.
type Appender interface {
	Append(timestamps, values []float64) error
}

// Reader owns the serial port and is the sample store's only producer.
type Reader struct {
	port serial.Port
	ring Appender
	opts Options
	lc   logger.LoggingClient

	mu      sync.Mutex
	state   LinkState
	epoch   uint64 // bumped by every Activate
	origin  time.Time
	started bool
	err     error

	wake chan struct{}
	done chan struct{}

	samples   atomic.Uint64
	malformed atomic.Uint64
	corrupt   atomic.Uint64
	abandoned atomic.Uint64
}

// NewReader returns a Stopped reader. Start launches its goroutine.
func NewReader(port serial.Port, ring Appender, opts Options) (*Reader, error) {
	if port == nil || ring == nil {
		return nil, fmt.Errorf("reader needs a port and a ring buffer")
	}
	if opts.Framer.Extract == nil {
		opts.Framer = serial.Framers["afproto"]
	}
	if opts.Framer.MinFrameSize < 1 {
		opts.Framer.MinFrameSize = 1
	}
	if opts.Framer.MaxFrameSize < opts.Framer.MinFrameSize {
		opts.Framer.MaxFrameSize = max(DefaultMaxFrameSize, opts.Framer.MinFrameSize)
	}
	if opts.Decode == nil {
		opts.Decode = DecodeUint16(binary.LittleEndian)
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.IdleWait <= 0 {
		opts.IdleWait = DefaultIdleWait
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = DefaultRetryBackoff
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewClient("device-plotter", "INFO")
	}

	return &Reader{
		port: port,
		ring: ring,
		opts: opts,
		lc:   opts.Logger,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}, nil
}

// Start launches the reader goroutine. It may be called once.
func (r *Reader) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return fmt.Errorf("reader for %s already started", r.port.Name())
	}
	if r.state == Terminated {
		return fmt.Errorf("reader for %s is terminated", r.port.Name())
	}
	r.started = true
	go r.run()
	return nil
}

// Activate starts a new run: the time origin moves to now and, before its
// next poll, the reader discards whatever the port and its own buffer hold.
func (r *Reader) Activate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == Terminated {
		return
	}
	r.origin = r.opts.Clock.Now()
	r.epoch++
	r.state = Running
	r.signal()
}

// Deactivate stops the current run and drops bytes not yet framed.
func (r *Reader) Deactivate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == Terminated {
		return
	}
	r.state = Stopped
	r.signal()
}

// RequestExit moves the reader to Terminated. The goroutine notices within
// one poll interval; Wait blocks until it has returned. Repeated calls are
// no-ops.
func (r *Reader) RequestExit() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == Terminated {
		return
	}
	r.state = Terminated
	r.signal()
}

// Wait blocks until the reader goroutine has exited and returns the serial
// I/O failure that stopped it, or nil after RequestExit. A reader that was
// never started returns at once.
func (r *Reader) Wait() error {
	r.mu.Lock()
	started := r.started
	r.mu.Unlock()
	if started {
		<-r.done
	}
	return r.Err()
}

// Done is closed when the reader goroutine exits.
func (r *Reader) Done() <-chan struct{} {
	return r.done
}

// Err returns the failure that stopped the reader, if any.
func (r *Reader) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// State returns the current lifecycle state.
func (r *Reader) State() LinkState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Stats returns the reader counters.
func (r *Reader) Stats() Stats {
	return Stats{
		Samples:   r.samples.Load(),
		Malformed: r.malformed.Load(),
		Corrupt:   r.corrupt.Load(),
		Abandoned: r.abandoned.Load(),
	}
}

// signal wakes the loop if it is waiting; must be called with mu held.
func (r *Reader) signal() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Reader) current() (LinkState, uint64, time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state, r.epoch, r.origin
}

// wait blocks for d or until a state transition, whichever comes first.
func (r *Reader) wait(d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-r.wake:
	case <-t.C:
	}
}

func (r *Reader) run() {
	defer close(r.done)

	r.lc.Infof("serial reader for %s started", r.port.Name())
	err := r.loop()
	if err == nil {
		r.lc.Infof("serial reader for %s exited", r.port.Name())
		return
	}

	r.mu.Lock()
	r.err = err
	r.state = Terminated
	r.mu.Unlock()

	r.lc.Errorf("serial reader for %s stopped: %v", r.port.Name(), err)
	if r.opts.OnFailure != nil {
		r.opts.OnFailure(err)
	}
}

func (r *Reader) loop() error {
	var (
		acc   []byte
		chunk = make([]byte, 256)
		epoch uint64
		name  = r.port.Name()
	)

	for {
		state, ep, origin := r.current()
		switch state {
		case Terminated:
			return nil
		case Stopped:
			acc = acc[:0]
			r.wait(r.opts.PollInterval)
			continue
		}

		if ep != epoch {
			// new run: nothing received before Activate belongs to it
			epoch = ep
			acc = acc[:0]
			if err := r.port.FlushInput(); err != nil {
				return serialIOFailure(name, "flush", err)
			}
		}

		n, err := r.port.Buffered()
		if err != nil {
			return serialIOFailure(name, "poll", err)
		}
		if n == 0 {
			r.wait(r.opts.IdleWait)
			continue
		}
		if n > len(chunk) {
			chunk = make([]byte, n)
		}
		n, err = r.port.Read(chunk[:n])
		if err != nil {
			return serialIOFailure(name, "read", err)
		}
		acc = append(acc, chunk[:n]...)

		if len(acc) < r.opts.Framer.MinFrameSize {
			continue
		}
		rest := r.drain(acc, epoch, origin)
		acc = append(acc[:0], rest...)
	}
}

// drain extracts and stores every complete frame in buf and returns the
// bytes to keep for the next poll.
func (r *Reader) drain(buf []byte, epoch uint64, origin time.Time) []byte {
	for len(buf) >= r.opts.Framer.MinFrameSize {
		packet, rest, err := r.opts.Framer.Extract(buf)
		if err != nil {
			r.corrupt.Add(1)
			r.lc.Debugf("discarding frame on %s: %v", r.port.Name(), err)
			var again bool
			buf, again = r.resync(rest)
			if !again {
				return buf
			}
			continue
		}
		buf = rest
		if packet == nil {
			if len(buf) <= r.opts.Framer.MaxFrameSize {
				return buf
			}
			// a frame start with no end in sight
			r.corrupt.Add(1)
			r.lc.Debugf("no frame end within %d bytes on %s", r.opts.Framer.MaxFrameSize, r.port.Name())
			var again bool
			buf, again = r.resync(buf)
			if !again {
				return r.clip(buf)
			}
			continue
		}

		v, err := r.opts.Decode(packet)
		if err != nil {
			r.malformed.Add(1)
			r.lc.Warnf("dropping packet % X on %s: %v", packet, r.port.Name(), err)
			if r.opts.Resync == ResyncFlush {
				return nil
			}
			if r.opts.Resync == ResyncWait {
				return buf
			}
			continue
		}

		s := Sample{
			Timestamp: r.opts.Clock.Since(origin).Seconds(),
			Value:     v,
		}
		if !r.store(s, epoch) {
			return buf
		}
	}
	return buf
}

// resync applies the resync policy to the remainder a failed extraction
// returned and reports whether parsing should continue in this poll.
func (r *Reader) resync(rest []byte) ([]byte, bool) {
	switch r.opts.Resync {
	case ResyncFlush:
		return nil, false
	case ResyncWait:
		return dropLeading(rest), false
	default:
		return dropLeading(rest), true
	}
}

// clip keeps the newest bytes that could still hold one whole frame.
func (r *Reader) clip(b []byte) []byte {
	if n := r.opts.Framer.MaxFrameSize; len(b) > n {
		return b[len(b)-n:]
	}
	return b
}

func dropLeading(b []byte) []byte {
	if len(b) == 0 {
		return b
	}
	return b[1:]
}

// store appends s, retrying while the consumer holds the ring. It gives up
// only when the run that produced s is over, and reports whether s was
// written.
func (r *Reader) store(s Sample, epoch uint64) bool {
	ts := []float64{s.Timestamp}
	vs := []float64{s.Value}
	for {
		// The state lock is held across the append so that no sample lands
		// after Deactivate or RequestExit returns. Append never blocks.
		r.mu.Lock()
		if r.state != Running || r.epoch != epoch {
			state := r.state
			r.mu.Unlock()
			r.abandoned.Add(1)
			r.lc.Debugf("run on %s ended (%s), sample at %.6fs not stored", r.port.Name(), state, s.Timestamp)
			return false
		}
		err := r.ring.Append(ts, vs)
		r.mu.Unlock()

		if err == nil {
			r.samples.Add(1)
			return true
		}
		if !errors.Is(err, ringbuf.ErrContended) {
			r.lc.Errorf("ring buffer rejected sample: %v", err)
			return false
		}
		r.opts.Clock.Sleep(r.opts.RetryBackoff)
	}
}
