package loop

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/austinkregel/local-media/playerd/internal/logging"
	"github.com/austinkregel/local-media/playerd/internal/pipeline"
	"github.com/austinkregel/local-media/playerd/internal/types"
)

// DefaultSyncThreshold is the tolerated audio/video drift
const DefaultSyncThreshold = 40 * time.Millisecond

// MaxSpeed is the fastest supported playback speed
const MaxSpeed = 4.0

// ErrInvalidSpeed is returned for a speed outside (0, MaxSpeed]
var ErrInvalidSpeed = errors.New("loop: speed must be in (0, 4]")

// Renderer presents video frames. The frame's buffer stays owned by the
// loop and must not be retained after Render returns.
type Renderer interface {
	Render(ctx context.Context, frame *types.VideoFrame) error
}

// SleepFunc waits d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// PlaybackOptions configures a PlaybackLoop
type PlaybackOptions struct {
	SyncThreshold time.Duration
	Volume        float64
	Speed         float64
	Renderer      Renderer
	// Sleep replaces the timer based wait; used by tests
	Sleep SleepFunc
	Log   *logrus.Entry
}

// Stats counts video frames by outcome
type Stats struct {
	Rendered uint64
	Dropped  uint64
}

type rendererHolder struct{ r Renderer }

// PlaybackLoop drains the pipeline's buffers, writing audio to the sampler
// and handing video to the renderer at the right moment
type PlaybackLoop struct {
	r         runner
	log       *logrus.Entry
	threshold time.Duration
	sleep     SleepFunc

	volume   atomic.Uint64
	speed    atomic.Uint64
	renderer atomic.Pointer[rendererHolder]

	rendered atomic.Uint64
	dropped  atomic.Uint64
}

// NewPlaybackLoop creates a stopped loop
func NewPlaybackLoop(opts PlaybackOptions) *PlaybackLoop {
	l := &PlaybackLoop{
		log:       logging.OrDefault(opts.Log, "playback-loop"),
		threshold: opts.SyncThreshold,
		sleep:     opts.Sleep,
	}
	if l.threshold <= 0 {
		l.threshold = DefaultSyncThreshold
	}
	if l.sleep == nil {
		l.sleep = sleep
	}
	if opts.Speed <= 0 {
		opts.Speed = 1
	}
	l.SetVolume(opts.Volume)
	if err := l.SetSpeed(opts.Speed); err != nil {
		l.speed.Store(math.Float64bits(1))
	}
	l.SetRenderer(opts.Renderer)
	return l
}

// SetVolume sets the output volume, clamped to [0, 1]
func (l *PlaybackLoop) SetVolume(v float64) {
	l.volume.Store(math.Float64bits(math.Max(0, math.Min(1, v))))
}

// Volume returns the output volume
func (l *PlaybackLoop) Volume() float64 {
	return math.Float64frombits(l.volume.Load())
}

// SetSpeed changes the playback speed, taking effect on the next frame
func (l *PlaybackLoop) SetSpeed(speed float64) error {
	if speed <= 0 || speed > MaxSpeed || math.IsNaN(speed) {
		return ErrInvalidSpeed
	}
	l.speed.Store(math.Float64bits(speed))
	return nil
}

// Speed returns the playback speed
func (l *PlaybackLoop) Speed() float64 {
	return math.Float64frombits(l.speed.Load())
}

// SetRenderer attaches r; nil detaches
func (l *PlaybackLoop) SetRenderer(r Renderer) {
	l.renderer.Store(&rendererHolder{r: r})
}

// Stats returns frame counters since the loop was created
func (l *PlaybackLoop) Stats() Stats {
	return Stats{Rendered: l.rendered.Load(), Dropped: l.dropped.Load()}
}

// Start begins playing p in the background
func (l *PlaybackLoop) Start(p *pipeline.Pipeline, cb Callbacks) error {
	return l.r.start(func(ctx context.Context) {
		log := l.log.WithField("media", p.Media.ID)
		log.Debug("playback started")

		s := &playback{
			loop:     l,
			pipeline: p,
			prog:     newProgress(cb.OnTimestamp),
			audio:    newClock(clockEnded),
			video:    newClock(clockUnset),
		}
		if p.Audio != nil {
			s.audio.set(clockUnset)
		}
		if p.Video != nil {
			if ts, ok := p.Video.Presented().Get(); ok {
				s.video.set(ts)
			}
		}

		g, gctx := errgroup.WithContext(ctx)
		if p.Audio != nil {
			g.Go(func() error { return s.playAudio(gctx) })
		}
		if p.Video != nil {
			g.Go(func() error { return s.playVideo(gctx) })
		}
		err := g.Wait()
		if err == nil && ctx.Err() == nil {
			s.prog.offer(p.Media.Duration)
		}
		if ctx.Err() != nil && p.Audio != nil {
			if perr := p.Audio.Sampler.Pause(); perr != nil {
				log.WithError(perr).Debug("failed to pause output")
			}
		}

		log.WithError(err).Debug("playback finished")
		finish(ctx, err, cb)
	})
}

// Stop cancels playback and waits for it to unwind
func (l *PlaybackLoop) Stop() { l.r.stop() }

// Close cancels playback without waiting
func (l *PlaybackLoop) Close() { l.r.close() }

// Running reports whether a run is in progress
func (l *PlaybackLoop) Running() bool { return l.r.running() }

// playback is the state of one run
type playback struct {
	loop     *PlaybackLoop
	pipeline *pipeline.Pipeline
	prog     *progress
	audio    *clock
	video    *clock
}

// playAudio writes audio frames to the sampler. A frame the run is
// cancelled on is held for the next run, and so is the end marker.
func (s *playback) playAudio(ctx context.Context) error {
	a := s.pipeline.Audio
	latency, err := a.Sampler.Start(ctx)
	if err != nil {
		return &PlaybackLoopError{Stream: StreamAudio, Err: err}
	}
	fail := func(f types.Frame, err error) error {
		if ctx.Err() != nil {
			a.Hold(f)
		}
		return &PlaybackLoopError{Stream: StreamAudio, Err: err}
	}

	for {
		frame, err := a.Next(ctx)
		if err != nil {
			return &PlaybackLoopError{Stream: StreamAudio, Err: err}
		}

		switch f := frame.(type) {
		case *types.AudioFrame:
			effective := max(f.Timestamp-latency, 0)
			s.audio.set(effective)
			s.prog.offer(effective)
			if err := a.Sampler.Write(ctx, f.Samples, s.loop.Volume(), s.loop.Speed()); err != nil {
				return fail(f, err)
			}
		case types.EndOfStream:
			if err := a.Sampler.Drain(ctx, s.loop.Volume(), s.loop.Speed()); err != nil {
				return fail(f, err)
			}
			s.audio.set(clockEnded)
			a.Hold(f)
			return nil
		}
	}
}

// playVideo presents video frames. Like audio, the frame a cancelled run
// stops on and the end marker stay for the next run.
func (s *playback) playVideo(ctx context.Context) error {
	v := s.pipeline.Video
	for {
		frame, err := v.Next(ctx)
		if err != nil {
			return &PlaybackLoopError{Stream: StreamVideo, Err: err}
		}

		switch f := frame.(type) {
		case *types.VideoFrame:
			if err := s.present(ctx, f); err != nil {
				return &PlaybackLoopError{Stream: StreamVideo, Err: err}
			}
		case types.EndOfStream:
			if last := s.video.get(); finite(last) {
				if rest := s.pipeline.Media.Duration - last; rest > 0 {
					if err := s.loop.sleep(ctx, scale(rest, s.loop.Speed())); err != nil {
						if ctx.Err() != nil {
							v.Hold(f)
						}
						return &PlaybackLoopError{Stream: StreamVideo, Err: err}
					}
				}
			}
			v.SetPresented(s.pipeline.Media.Duration)
			s.video.set(clockEnded)
			v.Hold(f)
			return nil
		}
	}
}

// present syncs and renders one frame. The frame's storage goes back to
// the pool once it is rendered or dropped; a frame whose wait is cancelled
// is held instead.
func (s *playback) present(ctx context.Context, f *types.VideoFrame) error {
	v := s.pipeline.Video
	release := func() {
		if err := v.Pool.Release(f.Buffer); err != nil {
			s.loop.log.WithError(err).Warn("failed to release video buffer")
		}
	}

	act, wait := decide(f.Timestamp, s.audio.get(), s.video.get(), s.loop.threshold, s.loop.Speed())
	if act == actionSleep {
		if err := s.loop.sleep(ctx, wait); err != nil {
			if ctx.Err() != nil {
				v.Hold(f)
			} else {
				release()
			}
			return err
		}
	}
	defer release()

	if act == actionDrop {
		s.loop.dropped.Add(1)
		return nil
	}

	s.video.set(f.Timestamp)
	v.SetPresented(f.Timestamp)
	s.prog.offer(f.Timestamp)

	if h := s.loop.renderer.Load(); h != nil && h.r != nil {
		if err := h.r.Render(ctx, f); err != nil {
			return err
		}
	}
	s.loop.rendered.Add(1)
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
