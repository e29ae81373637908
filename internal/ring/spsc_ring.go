// File: internal/ring/spsc_ring.go
// Package ring implements the lock-free single-producer/single-consumer
// ring used to hand packets from the dispatcher core to a worker core.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Adapted from the Vyukov-style MPMC ring in
// internal/concurrency/ring.go and lock_free_queue.go: with exactly one
// producer and one consumer the tail/head advance is a plain atomic
// store instead of a CAS loop. Never blocks, never allocates after
// construction.

package ring

import (
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

type cell[T any] struct {
	sequence atomic.Uint64
	data     T
}

const cacheLinePad = 64

// prefetchNext gates a one-cell-ahead touch of the next slot's sequence
// counter before the consumer's hot-path load: on hardware without
// SSE2 the extra load costs more than it saves, so it is skipped
// outright rather than issued unconditionally, mirroring the same
// cpu.X86.HasSSE2 gate the teacher's timer-heap comparison used.
var prefetchNext = cpu.X86.HasSSE2

// SPSCRing is a fixed-capacity bounded queue of T between exactly one
// producer goroutine/core and exactly one consumer goroutine/core.
type SPSCRing[T any] struct {
	tail uint64
	_    [cacheLinePad]byte
	head uint64
	_    [cacheLinePad]byte
	mask uint64
	cells []cell[T]
}

// New allocates an SPSCRing rounded up to the next power of two. A
// capacity of 2 gives the tightest backpressure; any power-of-two
// capacity is accepted.
func New[T any](capacity int) *SPSCRing[T] {
	if capacity < 2 {
		capacity = 2
	}
	size := 1
	for size < capacity {
		size <<= 1
	}
	r := &SPSCRing[T]{
		mask:  uint64(size - 1),
		cells: make([]cell[T], size),
	}
	for i := range r.cells {
		r.cells[i].sequence.Store(uint64(i))
	}
	return r
}

// TryEnqueue adds item; returns false if the ring is full. Must only be
// called from the single producer.
func (r *SPSCRing[T]) TryEnqueue(item T) bool {
	tail := r.tail
	c := &r.cells[tail&r.mask]
	if c.sequence.Load() != tail {
		return false // consumer has not yet freed this slot
	}
	c.data = item
	c.sequence.Store(tail + 1)
	atomic.StoreUint64(&r.tail, tail+1)
	return true
}

// TryDequeue removes and returns the oldest item; ok is false if empty.
// Must only be called from the single consumer.
func (r *SPSCRing[T]) TryDequeue() (item T, ok bool) {
	head := r.head
	c := &r.cells[head&r.mask]
	if prefetchNext && len(r.cells) > 1 {
		_ = r.cells[(head+1)&r.mask].sequence.Load()
	}
	if c.sequence.Load() != head+1 {
		var zero T
		return zero, false // producer has not yet published this slot
	}
	item = c.data
	var zero T
	c.data = zero
	c.sequence.Store(head + r.mask + 1)
	atomic.StoreUint64(&r.head, head+1)
	return item, true
}

// IsEmpty reports whether the ring currently holds no items. Safe to
// call from either side; the answer may be stale by the time it is
// used, which is expected of a concurrent queue.
func (r *SPSCRing[T]) IsEmpty() bool {
	return atomic.LoadUint64(&r.tail) == atomic.LoadUint64(&r.head)
}

// Len returns the approximate number of items currently enqueued.
func (r *SPSCRing[T]) Len() int {
	return int(atomic.LoadUint64(&r.tail) - atomic.LoadUint64(&r.head))
}

// Cap returns the fixed ring capacity.
func (r *SPSCRing[T]) Cap() int {
	return len(r.cells)
}
