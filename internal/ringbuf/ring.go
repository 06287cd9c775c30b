// Package ringbuf holds the fixed-capacity (timestamp, value) sample store
// shared between the serial reader and the plot consumer.
//
// The lock discipline is asymmetric: Append never waits for the lock and
// reports ErrContended instead, while Snapshot and Reset block until they
// own it. There is exactly one producer and one consumer.
package ringbuf

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// Sentinel is the value every slot holds before it is first written and
// after Reset.
const Sentinel = 0.0

var (
	// ErrContended is returned by Append when the consumer holds the lock.
	// The write did not happen; retrying is the caller's decision.
	ErrContended = errors.New("ring buffer busy")

	// ErrLengthMismatch is returned by Append when the timestamp and value
	// slices differ in length.
	ErrLengthMismatch = errors.New("timestamps and values differ in length")
)

// Stats counts Append outcomes since construction.
type Stats struct {
	Appended  uint64 // samples written
	Contended uint64 // Append calls rejected with ErrContended
}

// Ring is a fixed-capacity FIFO of index-aligned timestamps and values.
// Once full, every append evicts the oldest entry.
type Ring struct {
	mu sync.Mutex

	timestamps []float64
	values     []float64
	head       int // index of the oldest entry, also the next write position

	appended  atomic.Uint64
	contended atomic.Uint64
}

// New returns a Ring holding capacity samples, all set to Sentinel.
func New(capacity int) (*Ring, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("invalid ring capacity %d: must be at least 1", capacity)
	}
	return &Ring{
		timestamps: make([]float64, capacity),
		values:     make([]float64, capacity),
	}, nil
}

// Capacity returns the fixed number of slots.
func (r *Ring) Capacity() int {
	return len(r.values)
}

// Append writes the pairs (timestamps[i], values[i]) in order. It returns
// ErrContended without waiting if the lock is held by Snapshot or Reset.
func (r *Ring) Append(timestamps, values []float64) error {
	if len(timestamps) != len(values) {
		return fmt.Errorf("%w: %d timestamps, %d values", ErrLengthMismatch, len(timestamps), len(values))
	}
	if !r.mu.TryLock() {
		r.contended.Add(1)
		return ErrContended
	}
	for i := range values {
		r.writeOneLocked(timestamps[i], values[i])
	}
	r.mu.Unlock()

	r.appended.Add(uint64(len(values)))
	return nil
}

// writeOneLocked overwrites the oldest slot, must be called with mu held.
func (r *Ring) writeOneLocked(ts, v float64) {
	r.timestamps[r.head] = ts
	r.values[r.head] = v
	r.head = (r.head + 1) % len(r.values)
}

// Snapshot blocks until it owns the lock and returns copies of both
// sequences, oldest first. Both slices always have length Capacity().
func (r *Ring) Snapshot() (timestamps, values []float64) {
	n := len(r.values)
	timestamps = make([]float64, n)
	values = make([]float64, n)

	r.mu.Lock()
	defer r.mu.Unlock()

	// The ring is always full (sentinels count), so oldest-first order is
	// head..end followed by 0..head.
	k := copy(timestamps, r.timestamps[r.head:])
	copy(timestamps[k:], r.timestamps[:r.head])
	k = copy(values, r.values[r.head:])
	copy(values[k:], r.values[:r.head])
	return timestamps, values
}

// Reset blocks until it owns the lock and overwrites every slot with
// Sentinel.
func (r *Ring) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.values {
		r.timestamps[i] = Sentinel
		r.values[i] = Sentinel
	}
	r.head = 0
}

// Stats returns the Append counters. It does not take the lock.
func (r *Ring) Stats() Stats {
	return Stats{
		Appended:  r.appended.Load(),
		Contended: r.contended.Load(),
	}
}
