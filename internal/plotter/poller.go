package plotter

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"
)

// Poller snapshots a Store every interval and passes the copy to a Sink.
type Poller struct {
	store    Store
	sink     Sink
	interval time.Duration
	lc       logger.LoggingClient

	cancel context.CancelFunc
	wg     sync.WaitGroup

	frames   atomic.Uint64
	failures atomic.Uint64
}

func NewPoller(store Store, sink Sink, interval time.Duration, lc logger.LoggingClient) *Poller {
	return &Poller{store: store, sink: sink, interval: interval, lc: lc}
}

// Start launches the poll goroutine.
func (p *Poller) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.wg.Add(1)
	go p.run(ctx)
}

// Stop cancels the goroutine and waits for an in-flight Draw to return.
func (p *Poller) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	p.wg.Wait()
}

// Frames is the number of snapshots the sink accepted.
func (p *Poller) Frames() uint64 { return p.frames.Load() }

// Failures is the number of snapshots the sink rejected.
func (p *Poller) Failures() uint64 { return p.failures.Load() }

func (p *Poller) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	streak := 0

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			ts, vs := p.store.Snapshot()
			err := p.sink.Draw(ctx, Snapshot{Timestamps: ts, Values: vs, Taken: now})
			if err == nil {
				p.frames.Add(1)
				streak = 0
				continue
			}
			if ctx.Err() != nil {
				return
			}
			p.failures.Add(1)
			streak++
			if streak == 1 {
				p.lc.Warnf("plot sink failed: %v", err)
			} else {
				p.lc.Debugf("plot sink failed: %v", err)
			}
		}
	}
}
