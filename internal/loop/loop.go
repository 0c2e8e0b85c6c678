// Package loop runs the two background tasks of a prepared pipeline: the
// BufferLoop decoding ahead into the buffers and the PlaybackLoop draining
// them in sync.
package loop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrAlreadyRunning is returned by Start while a previous run is active
var ErrAlreadyRunning = errors.New("loop: already running, call Stop first")

// Stream names used in loop errors
const (
	StreamAudio = "audio"
	StreamVideo = "video"
)

// Callbacks are invoked from the loop's own goroutines. A cancelled run
// reports nothing.
type Callbacks struct {
	// OnTimestamp receives strictly increasing progress timestamps
	OnTimestamp func(time.Duration)
	// OnEndOfMedia is called once every stream reached its end
	OnEndOfMedia func()
	// OnError receives a *BufferLoopError or *PlaybackLoopError
	OnError func(error)
}

// BufferLoopError wraps a failure while filling the buffers
type BufferLoopError struct {
	Stream string
	Err    error
}

func (e *BufferLoopError) Error() string {
	return fmt.Sprintf("buffer loop: %s: %v", e.Stream, e.Err)
}

func (e *BufferLoopError) Unwrap() error { return e.Err }

// PlaybackLoopError wraps a failure while playing buffered frames
type PlaybackLoopError struct {
	Stream string
	Err    error
}

func (e *PlaybackLoopError) Error() string {
	return fmt.Sprintf("playback loop: %s: %v", e.Stream, e.Err)
}

func (e *PlaybackLoopError) Unwrap() error { return e.Err }

// runner owns at most one background run
type runner struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func (r *runner) runningLocked() bool {
	if r.done == nil {
		return false
	}
	select {
	case <-r.done:
		return false
	default:
		return true
	}
}

func (r *runner) start(run func(ctx context.Context)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.runningLocked() {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	r.cancel, r.done = cancel, done

	go func() {
		defer close(done)
		defer cancel()
		run(ctx)
	}()
	return nil
}

// stop cancels the run and waits for it to return
func (r *runner) stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
	r.cancel, r.done = nil, nil
}

// close cancels the run without waiting
func (r *runner) close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil {
		r.cancel()
	}
}

func (r *runner) running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runningLocked()
}

// progress forwards a timestamp only when it exceeds everything forwarded
// before, merging the streams of one run into one increasing sequence.
type progress struct {
	mu       sync.Mutex
	last     time.Duration
	reported bool
	report   func(time.Duration)
}

func newProgress(report func(time.Duration)) *progress {
	return &progress{report: report}
}

func (p *progress) offer(ts time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.reported && ts <= p.last {
		return
	}
	p.last, p.reported = ts, true
	if p.report != nil {
		p.report(ts)
	}
}

// finish reports the outcome of one run's streams
func finish(ctx context.Context, err error, cb Callbacks) {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return
	}
	if err != nil {
		if cb.OnError != nil {
			cb.OnError(err)
		}
		return
	}
	if cb.OnEndOfMedia != nil {
		cb.OnEndOfMedia()
	}
}
