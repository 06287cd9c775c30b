// Package plotter is the consumer side of the pipeline: it toggles the serial
// link between runs, snapshots the sample buffer on a fixed refresh interval
// and hands each snapshot to a Sink.
package plotter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"

	"github.com/linjuya-lu/device_plotter_go/internal/ingest"
)

// DefaultRefreshInterval matches a ~43 Hz redraw.
const DefaultRefreshInterval = 23 * time.Millisecond

// ErrLinkTerminated is returned by Start once the reader has stopped for good.
var ErrLinkTerminated = errors.New("serial link terminated")

// Link is the control surface of the serial reader.
type Link interface {
	Activate()
	Deactivate()
	State() ingest.LinkState
}

// Store is the read side of the sample buffer.
type Store interface {
	Snapshot() (timestamps, values []float64)
	Reset()
}

// Snapshot is one consistent copy of the buffer, oldest sample first.
type Snapshot struct {
	Timestamps []float64
	Values     []float64
	Taken      time.Time
}

// Newest returns the last sample in the snapshot.
func (s Snapshot) Newest() (ts, v float64, ok bool) {
	n := len(s.Values)
	if n == 0 {
		return 0, 0, false
	}
	return s.Timestamps[n-1], s.Values[n-1], true
}

// Sink receives a snapshot on every refresh while the session is started.
type Sink interface {
	Draw(ctx context.Context, s Snapshot) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, s Snapshot) error

func (f SinkFunc) Draw(ctx context.Context, s Snapshot) error { return f(ctx, s) }

// Options configures a Session.
type Options struct {
	// RefreshInterval is the poller period. Zero uses DefaultRefreshInterval.
	RefreshInterval time.Duration
	// Sink may be nil, in which case Start only activates the link.
	Sink   Sink
	Logger logger.LoggingClient
}

// Session pairs one Link with one Store and runs the refresh poller.
type Session struct {
	link  Link
	store Store
	opts  Options
	lc    logger.LoggingClient

	mu      sync.Mutex
	started bool
	poller  *Poller
}

// NewSession returns a stopped Session.
func NewSession(link Link, store Store, opts Options) (*Session, error) {
	if link == nil || store == nil {
		return nil, fmt.Errorf("session needs a link and a store")
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = DefaultRefreshInterval
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewClient("device-plotter", "INFO")
	}
	return &Session{link: link, store: store, opts: opts, lc: opts.Logger}, nil
}

// Start activates the link and, when a sink is set, starts the poller.
// Starting a started session does nothing.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	if s.link.State() == ingest.Terminated {
		return ErrLinkTerminated
	}

	s.link.Activate()
	if s.opts.Sink != nil {
		s.poller = NewPoller(s.store, s.opts.Sink, s.opts.RefreshInterval, s.lc)
		s.poller.Start()
	}
	s.started = true
	s.lc.Info("acquisition started")
	return nil
}

// Stop halts the poller, deactivates the link and clears the buffer.
// Stopping a stopped session does nothing.
func (s *Session) Stop() {
	s.stop(true)
}

// Halt stops like Stop but keeps the buffer, so the samples recorded before
// a link failure stay readable.
func (s *Session) Halt() {
	s.stop(false)
}

func (s *Session) stop(reset bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	if s.poller != nil {
		s.poller.Stop()
		s.poller = nil
	}
	s.link.Deactivate()
	if reset {
		s.store.Reset()
	}
	s.started = false
	s.lc.Info("acquisition stopped")
}

// Clear resets the buffer without touching the link.
func (s *Session) Clear() {
	s.store.Reset()
}

// Started reports whether acquisition is on.
func (s *Session) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Snapshot returns a copy of the buffer.
func (s *Session) Snapshot() Snapshot {
	ts, vs := s.store.Snapshot()
	return Snapshot{Timestamps: ts, Values: vs, Taken: time.Now()}
}

// LinkState reports the reader's lifecycle state.
func (s *Session) LinkState() ingest.LinkState {
	return s.link.State()
}

// Frames returns how many snapshots the current poller has delivered, or
// zero when stopped.
func (s *Session) Frames() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.poller == nil {
		return 0
	}
	return s.poller.Frames()
}
