package buffer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewRejectsNonPositiveCapacity(t *testing.T) {
	t.Parallel()
	for _, c := range []int{0, -1} {
		if _, err := New[int](c); err == nil {
			t.Errorf("New(%d): expected error", c)
		}
	}
}

func TestBufferFIFO(t *testing.T) {
	t.Parallel()
	b, _ := New[int](3)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		if err := b.Put(ctx, i); err != nil {
			t.Fatalf("Put(%d): %v", i, err)
		}
	}
	for want := 1; want <= 3; want++ {
		got, err := b.Take(ctx)
		if err != nil {
			t.Fatalf("Take: %v", err)
		}
		if got != want {
			t.Errorf("got %d, want %d", got, want)
		}
	}
}

func TestBufferPutBlocksWhenFull(t *testing.T) {
	t.Parallel()
	b, _ := New[int](1)
	ctx := context.Background()
	_ = b.Put(ctx, 1)

	done := make(chan error, 1)
	go func() { done <- b.Put(ctx, 2) }()

	select {
	case <-done:
		t.Fatal("Put returned while buffer was full")
	case <-time.After(30 * time.Millisecond):
	}

	if got, _ := b.Take(ctx); got != 1 {
		t.Errorf("got %d, want 1", got)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Put: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Put did not unblock after Take")
	}
	if b.Len() != 1 {
		t.Errorf("got len %d, want 1", b.Len())
	}
}

func TestBufferTakeBlocksUntilPut(t *testing.T) {
	t.Parallel()
	b, _ := New[string](2)
	ctx := context.Background()

	got := make(chan string, 1)
	go func() {
		v, _ := b.Take(ctx)
		got <- v
	}()

	select {
	case <-got:
		t.Fatal("Take returned on an empty buffer")
	case <-time.After(30 * time.Millisecond):
	}

	_ = b.Put(ctx, "frame")
	select {
	case v := <-got:
		if v != "frame" {
			t.Errorf("got %q, want %q", v, "frame")
		}
	case <-time.After(time.Second):
		t.Fatal("Take did not unblock after Put")
	}
}

func TestBufferCancellation(t *testing.T) {
	t.Parallel()
	b, _ := New[int](1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := b.Take(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Take: got %v, want deadline exceeded", err)
	}

	_ = b.Put(context.Background(), 1)
	ctx2, cancel2 := context.WithCancel(context.Background())
	cancel2()
	if err := b.Put(ctx2, 2); !errors.Is(err, context.Canceled) {
		t.Errorf("Put: got %v, want canceled", err)
	}
}

func TestBufferCloseWakesWaiters(t *testing.T) {
	t.Parallel()
	b, _ := New[int](1)

	errs := make(chan error, 1)
	go func() {
		_, err := b.Take(context.Background())
		errs <- err
	}()
	time.Sleep(10 * time.Millisecond)

	b.Close()
	b.Close()

	select {
	case err := <-errs:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("got %v, want ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Close did not wake Take")
	}
	if err := b.Put(context.Background(), 1); !errors.Is(err, ErrClosed) {
		t.Errorf("Put after close: got %v, want ErrClosed", err)
	}
}

func TestBufferClearReturnsDropped(t *testing.T) {
	t.Parallel()
	b, _ := New[int](3)
	ctx := context.Background()
	_ = b.Put(ctx, 1)
	_ = b.Put(ctx, 2)
	_, _ = b.Take(ctx)
	_ = b.Put(ctx, 3)
	_ = b.Put(ctx, 4)

	dropped := b.Clear()
	want := []int{2, 3, 4}
	if len(dropped) != len(want) {
		t.Fatalf("got %v, want %v", dropped, want)
	}
	for i := range want {
		if dropped[i] != want[i] {
			t.Errorf("dropped[%d]: got %d, want %d", i, dropped[i], want[i])
		}
	}
	if b.Len() != 0 || b.Capacity() != 3 {
		t.Errorf("got len %d cap %d, want 0 and 3", b.Len(), b.Capacity())
	}

	// Space freed by Clear must unblock producers.
	_ = b.Put(ctx, 5)
	_ = b.Put(ctx, 6)
	_ = b.Put(ctx, 7)
	if b.Len() != 3 {
		t.Errorf("got len %d, want 3", b.Len())
	}
}

func TestBufferNeverExceedsCapacity(t *testing.T) {
	t.Parallel()
	const capacity = 4
	b, _ := New[int](capacity)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var maxSeen atomic.Int64
	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				if err := b.Put(ctx, i); err != nil {
					return
				}
				if n := int64(b.Len()); n > maxSeen.Load() {
					maxSeen.Store(n)
				}
			}
		}()
	}

	taken := 0
	for taken < 800 {
		if _, err := b.Take(ctx); err != nil {
			t.Fatalf("Take: %v", err)
		}
		taken++
	}
	wg.Wait()

	if maxSeen.Load() > capacity {
		t.Errorf("buffer held %d items, capacity is %d", maxSeen.Load(), capacity)
	}
}
