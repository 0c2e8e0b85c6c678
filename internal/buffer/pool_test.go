package buffer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type slot struct{ id int }

func newSlotPool(t *testing.T, capacity int) (*Pool[*slot], *atomic.Int64) {
	t.Helper()
	var destroyed atomic.Int64
	next := 0
	p, err := NewPool(capacity, func() *slot {
		next++
		return &slot{id: next}
	}, func(*slot) { destroyed.Add(1) })
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	return p, &destroyed
}

func TestNewPoolValidation(t *testing.T) {
	t.Parallel()
	if _, err := NewPool(0, func() int { return 0 }, nil); err == nil {
		t.Error("expected error for zero capacity")
	}
	if _, err := NewPool[int](1, nil, nil); err == nil {
		t.Error("expected error for nil create")
	}
}

func TestPoolCreatesLazilyAndReuses(t *testing.T) {
	t.Parallel()
	p, _ := newSlotPool(t, 2)
	ctx := context.Background()

	a, _ := p.Acquire(ctx)
	if p.Created() != 1 {
		t.Errorf("got %d created, want 1", p.Created())
	}
	if err := p.Release(a); err != nil {
		t.Fatalf("Release: %v", err)
	}
	b, _ := p.Acquire(ctx)
	if a != b {
		t.Error("expected idle item to be reused")
	}
	if p.Created() != 1 {
		t.Errorf("got %d created, want 1", p.Created())
	}
}

func TestPoolBlocksAtCapacity(t *testing.T) {
	t.Parallel()
	p, _ := newSlotPool(t, 1)
	ctx := context.Background()
	a, _ := p.Acquire(ctx)

	got := make(chan *slot, 1)
	go func() {
		s, _ := p.Acquire(ctx)
		got <- s
	}()

	select {
	case <-got:
		t.Fatal("Acquire returned beyond capacity")
	case <-time.After(30 * time.Millisecond):
	}

	_ = p.Release(a)
	select {
	case s := <-got:
		if s != a {
			t.Error("expected the released item")
		}
	case <-time.After(time.Second):
		t.Fatal("Acquire did not unblock after Release")
	}
}

func TestPoolAcquireCancellable(t *testing.T) {
	t.Parallel()
	p, _ := newSlotPool(t, 1)
	_, _ = p.Acquire(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := p.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("got %v, want deadline exceeded", err)
	}
	if p.Outstanding() != 1 {
		t.Errorf("got %d outstanding, want 1", p.Outstanding())
	}
}

func TestPoolReleaseErrors(t *testing.T) {
	t.Parallel()
	p, _ := newSlotPool(t, 2)
	a, _ := p.Acquire(context.Background())

	if err := p.Release(&slot{id: 99}); !errors.Is(err, ErrNotAcquired) {
		t.Errorf("foreign item: got %v, want ErrNotAcquired", err)
	}
	if err := p.Release(a); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := p.Release(a); !errors.Is(err, ErrNotAcquired) {
		t.Errorf("double release: got %v, want ErrNotAcquired", err)
	}
}

func TestPoolClose(t *testing.T) {
	t.Parallel()
	p, destroyed := newSlotPool(t, 3)
	ctx := context.Background()
	a, _ := p.Acquire(ctx)
	b, _ := p.Acquire(ctx)
	_ = p.Release(a)

	p.Close()
	p.Close()
	if destroyed.Load() != 1 {
		t.Errorf("got %d destroyed on close, want 1", destroyed.Load())
	}
	if _, err := p.Acquire(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("Acquire after close: got %v, want ErrClosed", err)
	}
	if err := p.Release(b); !errors.Is(err, ErrClosed) {
		t.Errorf("Release after close: got %v, want ErrClosed", err)
	}
	if destroyed.Load() != 2 {
		t.Errorf("got %d destroyed, want 2", destroyed.Load())
	}
	if p.Outstanding() != 0 {
		t.Errorf("got %d outstanding, want 0", p.Outstanding())
	}
}

func TestPoolConservationUnderContention(t *testing.T) {
	t.Parallel()
	const capacity = 3
	p, _ := newSlotPool(t, capacity)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var maxOut atomic.Int64
	var releases atomic.Int64
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				s, err := p.Acquire(ctx)
				if err != nil {
					t.Errorf("Acquire: %v", err)
					return
				}
				if n := int64(p.Outstanding()); n > maxOut.Load() {
					maxOut.Store(n)
				}
				if err := p.Release(s); err != nil {
					t.Errorf("Release: %v", err)
					return
				}
				releases.Add(1)
			}
		}()
	}
	wg.Wait()

	if maxOut.Load() > capacity {
		t.Errorf("got %d outstanding at peak, capacity is %d", maxOut.Load(), capacity)
	}
	if releases.Load() != 800 {
		t.Errorf("got %d releases, want 800", releases.Load())
	}
	if p.Outstanding() != 0 {
		t.Errorf("got %d outstanding at end, want 0", p.Outstanding())
	}
}
