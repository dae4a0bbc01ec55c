// Package ringchan provides a bounded channel that never blocks producers.
package ringchan

import "sync/atomic"

// RingChannel is a buffered channel with overwrite-oldest semantics: when
// the buffer is full a send discards the oldest element instead of blocking.
//
//	rc := ringchan.New[device.Descriptor](64)
//	rc.Send(d)            // never blocks
//	for d := range rc.C() // reads like a normal channel
//
// Senders must be serialized or tolerate an occasional extra drop when two
// senders race for the last slot.
type RingChannel[T any] struct {
	ch      chan T
	written atomic.Int64
	dropped atomic.Int64
}

// New creates a RingChannel with the given capacity.
func New[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the receive side.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// Send inserts v, discarding the oldest element if the buffer is full.
// It reports whether an element was discarded.
func (rc *RingChannel[T]) Send(v T) bool {
	dropped := false
	for {
		select {
		case rc.ch <- v:
			rc.written.Add(1)
			return dropped
		default:
		}
		select {
		case <-rc.ch:
			rc.dropped.Add(1)
			dropped = true
		default:
		}
	}
}

// TryReceive returns the next element without blocking.
func (rc *RingChannel[T]) TryReceive() (T, bool) {
	select {
	case v, ok := <-rc.ch:
		return v, ok
	default:
		var zero T
		return zero, false
	}
}

// Drain discards buffered elements and returns how many were removed.
func (rc *RingChannel[T]) Drain() int {
	n := 0
	for {
		select {
		case <-rc.ch:
			n++
		default:
			return n
		}
	}
}

// Len returns the number of buffered elements.
func (rc *RingChannel[T]) Len() int { return len(rc.ch) }

// Cap returns the buffer capacity.
func (rc *RingChannel[T]) Cap() int { return cap(rc.ch) }

// Written is the number of successful sends.
func (rc *RingChannel[T]) Written() int64 { return rc.written.Load() }

// Dropped is the number of elements discarded to make room.
func (rc *RingChannel[T]) Dropped() int64 { return rc.dropped.Load() }
