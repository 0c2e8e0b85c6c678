package buffer

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrNotAcquired is returned when releasing an item that is not currently out
var ErrNotAcquired = errors.New("pool: item was not acquired from this pool")

// Pool hands out at most capacity reusable items. Items are created lazily
// and every Acquire must be matched by exactly one Release.
type Pool[T comparable] struct {
	mu       sync.Mutex
	idle     []T
	out      map[T]struct{}
	created  int
	closed   bool
	changed  chan struct{}
	capacity int
	create   func() T
	destroy  func(T)
}

// NewPool creates a pool. destroy may be nil.
func NewPool[T comparable](capacity int, create func() T, destroy func(T)) (*Pool[T], error) {
	if capacity < 1 {
		return nil, fmt.Errorf("pool capacity must be at least 1, got %d", capacity)
	}
	if create == nil {
		return nil, errors.New("pool requires a create function")
	}
	return &Pool[T]{
		out:      make(map[T]struct{}, capacity),
		changed:  make(chan struct{}),
		capacity: capacity,
		create:   create,
		destroy:  destroy,
	}, nil
}

// Acquire returns an idle item, creates one while under capacity, or waits
// for a Release. It gives up when ctx is done.
func (p *Pool[T]) Acquire(ctx context.Context) (T, error) {
	var zero T
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return zero, ErrClosed
		}
		if n := len(p.idle); n > 0 {
			item := p.idle[n-1]
			p.idle[n-1] = zero
			p.idle = p.idle[:n-1]
			p.out[item] = struct{}{}
			p.mu.Unlock()
			return item, nil
		}
		if p.created < p.capacity {
			item := p.create()
			p.created++
			p.out[item] = struct{}{}
			p.mu.Unlock()
			return item, nil
		}
		changed := p.changed
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-changed:
		}
	}
}

// Release gives an acquired item back. Releasing anything that is not out
// returns ErrNotAcquired. After Close the item is destroyed and ErrClosed
// is returned.
func (p *Pool[T]) Release(item T) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.out[item]; !ok {
		if p.closed {
			return ErrClosed
		}
		return ErrNotAcquired
	}
	delete(p.out, item)

	if p.closed {
		p.destroyItem(item)
		return ErrClosed
	}

	p.idle = append(p.idle, item)
	close(p.changed)
	p.changed = make(chan struct{})
	return nil
}

// Close destroys idle items and rejects further Acquire calls. Items still
// out are destroyed when they come back.
func (p *Pool[T]) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	for _, item := range p.idle {
		p.destroyItem(item)
	}
	p.idle = nil
	close(p.changed)
	p.changed = make(chan struct{})
}

func (p *Pool[T]) destroyItem(item T) {
	if p.destroy != nil {
		p.destroy(item)
	}
}

// Outstanding returns how many items are acquired and not yet released
func (p *Pool[T]) Outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.out)
}

// Created returns how many items the pool has ever created
func (p *Pool[T]) Created() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.created
}

// Capacity returns the maximum number of items out at once
func (p *Pool[T]) Capacity() int {
	return p.capacity
}
