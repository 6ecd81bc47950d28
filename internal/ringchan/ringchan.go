// Package ringchan provides a bounded channel that never blocks its producer.
package ringchan

import (
	"sync"
	"sync/atomic"
)

// RingChannel is a bounded buffer with overwrite-oldest semantics.
//
// Producers never block: when the buffer is full the oldest element is dropped
// and counted. With capacity 1 it holds only the most recent value, which is what
// live displays want.
//
//	latest := ringchan.New[Frame](1)
//	latest.Send(f) // never blocks
//	for f := range latest.C() { draw(f) }
type RingChannel[T any] struct {
	mu     sync.Mutex // serializes producers so drop-then-send stays atomic
	ch     chan T
	closed bool

	written     atomic.Int64
	overwritten atomic.Int64
	received    atomic.Int64
}

// New creates a RingChannel with the given capacity
func New[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the receive side. Reads through C are not counted in Metrics.Received.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// Send stores v, dropping the oldest value if the buffer is full.
// It reports whether a value was dropped. Send after Close is a no-op.
func (rc *RingChannel[T]) Send(v T) (dropped bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.closed {
		return false
	}

	for {
		select {
		case rc.ch <- v:
			rc.written.Add(1)
			return dropped
		default:
		}
		select {
		case <-rc.ch:
			rc.overwritten.Add(1)
			dropped = true
		default:
			// a consumer emptied the buffer in between, retry the send
		}
	}
}

// TryReceive returns the oldest buffered value without blocking
func (rc *RingChannel[T]) TryReceive() (v T, ok bool) {
	select {
	case v, ok = <-rc.ch:
		if ok {
			rc.received.Add(1)
		}
		return v, ok
	default:
		return v, false
	}
}

// Len returns the number of buffered values
func (rc *RingChannel[T]) Len() int {
	return len(rc.ch)
}

// Cap returns the capacity
func (rc *RingChannel[T]) Cap() int {
	return cap(rc.ch)
}

// Close closes the receive side. Buffered values can still be drained. Idempotent.
func (rc *RingChannel[T]) Close() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if !rc.closed {
		rc.closed = true
		close(rc.ch)
	}
}

// Metrics is a snapshot of the channel counters
type Metrics struct {
	Written     int64 `json:"written"`
	Overwritten int64 `json:"overwritten"`
	Received    int64 `json:"received"`
}

// Metrics returns the current counters
func (rc *RingChannel[T]) Metrics() Metrics {
	return Metrics{
		Written:     rc.written.Load(),
		Overwritten: rc.overwritten.Load(),
		Received:    rc.received.Load(),
	}
}
