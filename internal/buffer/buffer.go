// Package buffer provides the bounded blocking queue and the reusable-storage
// pool that sit between decoding and playback.
package buffer

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrClosed is returned by operations on a closed Buffer or Pool
var ErrClosed = errors.New("buffer: closed")

// Buffer is a bounded FIFO queue. Take blocks while it is empty and Put
// blocks while it is full. It is safe for any number of producers and
// consumers.
type Buffer[T any] struct {
	mu       sync.Mutex
	items    []T // ring storage, len == capacity
	head     int
	count    int
	closed   bool
	changed  chan struct{} // closed and replaced on every state change
	capacity int
}

// New creates a buffer holding at most capacity items
func New[T any](capacity int) (*Buffer[T], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("buffer capacity must be positive, got %d", capacity)
	}
	return &Buffer[T]{
		items:    make([]T, capacity),
		changed:  make(chan struct{}),
		capacity: capacity,
	}, nil
}

// notify wakes every waiter. Caller holds b.mu.
func (b *Buffer[T]) notify() {
	close(b.changed)
	b.changed = make(chan struct{})
}

// Take removes and returns the oldest item, waiting for one to arrive
func (b *Buffer[T]) Take(ctx context.Context) (T, error) {
	var zero T
	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return zero, ErrClosed
		}
		if b.count > 0 {
			item := b.items[b.head]
			b.items[b.head] = zero
			b.head = (b.head + 1) % b.capacity
			b.count--
			b.notify()
			b.mu.Unlock()
			return item, nil
		}
		changed := b.changed
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-changed:
		}
	}
}

// Put appends an item, waiting for space
func (b *Buffer[T]) Put(ctx context.Context, item T) error {
	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return ErrClosed
		}
		if b.count < b.capacity {
			b.items[(b.head+b.count)%b.capacity] = item
			b.count++
			b.notify()
			b.mu.Unlock()
			return nil
		}
		changed := b.changed
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

// Clear drops every queued item and returns them in FIFO order so the
// caller can release any storage they own.
func (b *Buffer[T]) Clear() []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	var zero T
	dropped := make([]T, 0, b.count)
	for i := 0; i < b.count; i++ {
		idx := (b.head + i) % b.capacity
		dropped = append(dropped, b.items[idx])
		b.items[idx] = zero
	}
	b.head = 0
	b.count = 0
	if len(dropped) > 0 {
		b.notify()
	}
	return dropped
}

// Close fails all current and future Take/Put calls with ErrClosed.
// Calling Close more than once is a no-op.
func (b *Buffer[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	b.notify()
}

// Len returns the number of queued items
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Capacity returns the fixed capacity
func (b *Buffer[T]) Capacity() int {
	return b.capacity
}
