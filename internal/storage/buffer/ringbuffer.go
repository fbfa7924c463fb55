// Package buffer provides the bounded single-producer/single-consumer ring
// that hands data from the nibble producer to the rest of the device.
package buffer

import (
	"sync/atomic"
)

// Ring is a fixed-capacity FIFO for one producer and one consumer.
//
// The producer only advances tail and the consumer only advances head, so
// neither side takes a lock. Push fails fast when the ring is full; it never
// waits. Callers with several consumers must serialize them externally.
type Ring[T any] struct {
	data     []T
	capacity uint64

	head atomic.Uint64 // next slot to consume, owned by the consumer
	tail atomic.Uint64 // next slot to fill, owned by the producer

	// Statistics
	pushCount atomic.Int64
	popCount  atomic.Int64
	dropCount atomic.Int64
}

// New creates a new Ring with the given capacity.
func New[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 64
	}
	return &Ring[T]{
		data:     make([]T, capacity),
		capacity: uint64(capacity),
	}
}

// SessionByte is one queued byte tagged with the sequence number of the
// session it belongs to.
type SessionByte struct {
	Seq   uint64
	Value byte
}

// NewByteQueue creates the byte ring used between the producer and the
// ingest worker.
func NewByteQueue(capacity int) *Ring[SessionByte] {
	return New[SessionByte](capacity)
}

// Push appends v. Returns false if the ring is full and v was dropped;
// everything already queued is left intact.
func (r *Ring[T]) Push(v T) bool {
	tail := r.tail.Load()
	if tail-r.head.Load() >= r.capacity {
		r.dropCount.Add(1)
		return false
	}

	r.data[tail%r.capacity] = v
	r.tail.Store(tail + 1)
	r.pushCount.Add(1)

	return true
}

// Pop removes and returns the oldest element.
// Returns false if the ring is empty.
func (r *Ring[T]) Pop() (T, bool) {
	var zero T

	head := r.head.Load()
	if head == r.tail.Load() {
		return zero, false
	}

	idx := head % r.capacity
	v := r.data[idx]
	r.data[idx] = zero
	r.head.Store(head + 1)
	r.popCount.Add(1)

	return v, true
}

// Peek returns the oldest element without removing it.
// Returns false if the ring is empty.
func (r *Ring[T]) Peek() (T, bool) {
	head := r.head.Load()
	if head == r.tail.Load() {
		var zero T
		return zero, false
	}
	return r.data[head%r.capacity], true
}

// Drain consumes every element queued at the time of the call, in FIFO
// order, passing each to visit. If visit returns false the element it was
// given and all remaining elements of this pass are discarded, each passed
// to discard when it is non-nil. Elements pushed while Drain runs are left
// for the next pass.
func (r *Ring[T]) Drain(visit func(T) bool, discard func(T)) (visited, discarded int) {
	var zero T

	head := r.head.Load()
	tail := r.tail.Load()
	abandoned := false

	for i := head; i < tail; i++ {
		idx := i % r.capacity
		v := r.data[idx]
		r.data[idx] = zero

		if !abandoned && visit(v) {
			visited++
			continue
		}
		abandoned = true
		discarded++
		if discard != nil {
			discard(v)
		}
	}

	r.head.Store(tail)
	r.popCount.Add(int64(tail - head))

	return visited, discarded
}

// Len returns the current number of queued elements.
func (r *Ring[T]) Len() int {
	return int(r.tail.Load() - r.head.Load())
}

// Cap returns the capacity of the ring.
func (r *Ring[T]) Cap() int {
	return int(r.capacity)
}

// IsEmpty returns true if the ring is empty.
func (r *Ring[T]) IsEmpty() bool {
	return r.Len() == 0
}

// IsFull returns true if the ring is full.
func (r *Ring[T]) IsFull() bool {
	return uint64(r.Len()) >= r.capacity
}

// UsageRatio returns the current usage as a ratio (0.0 - 1.0).
func (r *Ring[T]) UsageRatio() float64 {
	return float64(r.Len()) / float64(r.capacity)
}

// Stats returns ring statistics.
func (r *Ring[T]) Stats() BufferStats {
	count := r.Len()
	return BufferStats{
		Capacity:   int(r.capacity),
		Count:      count,
		UsageRatio: float64(count) / float64(r.capacity),
		PushCount:  r.pushCount.Load(),
		PopCount:   r.popCount.Load(),
		DropCount:  r.dropCount.Load(),
	}
}

// BufferStats holds ring statistics.
type BufferStats struct {
	Capacity   int
	Count      int
	UsageRatio float64
	PushCount  int64
	PopCount   int64
	DropCount  int64
}
