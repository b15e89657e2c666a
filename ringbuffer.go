package tahti

import "sync/atomic"

// ClockHistoryCapacity is the capacity of the external clock ring buffers.
const ClockHistoryCapacity = 8192

// RingBuffer is a fixed-capacity FIFO that is safe for one writer and one
// reader running in different goroutines. It never grows: a Put into a full
// buffer is dropped and counted in Overflows.
type RingBuffer[T any] struct {
	buffer    []T
	write     atomic.Uint64
	read      atomic.Uint64
	snapshot  atomic.Uint64
	overflows atomic.Uint64
}

func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer[T]{buffer: make([]T, capacity)}
}

func (r *RingBuffer[T]) Cap() int { return len(r.buffer) }

// Put appends v. It returns false, and counts an overflow, if the buffer is
// full.
func (r *RingBuffer[T]) Put(v T) bool {
	w := r.write.Load()
	if w-r.read.Load() >= uint64(len(r.buffer)) {
		r.overflows.Add(1)
		return false
	}
	r.buffer[w%uint64(len(r.buffer))] = v
	r.write.Store(w + 1)
	return true
}

// Get removes and returns the oldest element.
func (r *RingBuffer[T]) Get() (v T, ok bool) {
	rd := r.read.Load()
	if rd == r.write.Load() {
		return v, false
	}
	v = r.buffer[rd%uint64(len(r.buffer))]
	r.read.Store(rd + 1)
	return v, true
}

// Peek returns the i:th readable element without removing it.
func (r *RingBuffer[T]) Peek(i int) (v T, ok bool) {
	rd := r.read.Load()
	if i < 0 || uint64(i) >= r.write.Load()-rd {
		return v, false
	}
	return r.buffer[(rd+uint64(i))%uint64(len(r.buffer))], true
}

// Snapshot records the number of readable elements, so that a reader can
// later drain exactly that many with Size(true) even while the writer keeps
// adding.
func (r *RingBuffer[T]) Snapshot() int {
	n := r.write.Load() - r.read.Load()
	r.snapshot.Store(n)
	return int(n)
}

// Size returns the number of readable elements, or the value recorded by the
// last Snapshot if snapshot is true.
func (r *RingBuffer[T]) Size(snapshot bool) int {
	if snapshot {
		return int(r.snapshot.Load())
	}
	return int(r.write.Load() - r.read.Load())
}

// ClearRead discards everything the reader has not yet consumed. Only the
// reader may call it.
func (r *RingBuffer[T]) ClearRead() {
	r.read.Store(r.write.Load())
	r.snapshot.Store(0)
}

// Overflows returns the number of dropped Puts since the last Reset.
func (r *RingBuffer[T]) Overflows() int { return int(r.overflows.Load()) }

// Reset empties the buffer and the overflow counter. Not safe while the
// writer is active.
func (r *RingBuffer[T]) Reset() {
	r.write.Store(0)
	r.read.Store(0)
	r.snapshot.Store(0)
	r.overflows.Store(0)
}
