// Package ring implements a fixed-capacity, wait-free single-producer
// single-consumer ring buffer. It is the handoff point between the audio
// worker's decode goroutine and the output device's real-time pull callback:
// the callback must never block, so this is built on atomic cursors rather
// than a mutex or a channel.
package ring

import "sync/atomic"

// Buffer is a single-producer/single-consumer ring. Push may only be called
// from one goroutine and Pop from one other; neither ever blocks or spins.
// Capacity is rounded up to a power of two.
type Buffer[T any] struct {
	buf  []T
	mask uint64

	// head is the next slot to read, tail the next slot to write.
	// Only the consumer advances head, only the producer advances tail.
	head atomic.Uint64
	tail atomic.Uint64
}

// New returns a ring holding at least capacity items.
func New[T any](capacity int) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	n := 1
	for n < capacity {
		n <<= 1
	}
	return &Buffer[T]{
		buf:  make([]T, n),
		mask: uint64(n - 1),
	}
}

// Cap returns the ring's capacity.
func (b *Buffer[T]) Cap() int {
	return len(b.buf)
}

// Len returns the number of items currently buffered.
func (b *Buffer[T]) Len() int {
	return int(b.tail.Load() - b.head.Load())
}

// Free returns the number of slots available to the producer.
func (b *Buffer[T]) Free() int {
	return b.Cap() - b.Len()
}

// Push copies as many items as fit and returns the count written.
// Producer side only.
func (b *Buffer[T]) Push(items []T) int {
	head := b.head.Load()
	tail := b.tail.Load()
	free := uint64(len(b.buf)) - (tail - head)
	n := uint64(len(items))
	if n > free {
		n = free
	}
	for i := uint64(0); i < n; i++ {
		b.buf[(tail+i)&b.mask] = items[i]
	}
	b.tail.Store(tail + n)
	return int(n)
}

// Pop copies up to len(out) items into out and returns the count read.
// Consumer side only; a short read means the ring ran dry.
func (b *Buffer[T]) Pop(out []T) int {
	head := b.head.Load()
	tail := b.tail.Load()
	n := tail - head
	if m := uint64(len(out)); n > m {
		n = m
	}
	for i := uint64(0); i < n; i++ {
		out[i] = b.buf[(head+i)&b.mask]
	}
	b.head.Store(head + n)
	return int(n)
}
