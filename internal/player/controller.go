// Package player implements the command-driven state machine that sequences
// the buffering and playback loops of one media session at a time.
package player

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/austinkregel/local-media/playerd/internal/audio"
	"github.com/austinkregel/local-media/playerd/internal/decoder"
	"github.com/austinkregel/local-media/playerd/internal/logging"
	"github.com/austinkregel/local-media/playerd/internal/loop"
	"github.com/austinkregel/local-media/playerd/internal/pipeline"
	"github.com/austinkregel/local-media/playerd/internal/types"
)

// ErrClosed is returned by Execute after Close
var ErrClosed = errors.New("player: controller closed")

// subscriberBuffer is the channel size handed to subscribers
const subscriberBuffer = 64

// Options configures a Controller
type Options struct {
	Opener     decoder.Opener
	NewSampler audio.Factory
	// Renderer receives video frames; may be nil
	Renderer      loop.Renderer
	SyncThreshold time.Duration
	Volume        float64
	Speed         float64
	// Sleep overrides the playback loop's timer; used by tests
	Sleep loop.SleepFunc
	Log   *logrus.Entry
}

// session is one prepared media item and its loops
type session struct {
	media    types.Media
	pipeline *pipeline.Pipeline
	buffer   *loop.BufferLoop
	playback *loop.PlaybackLoop

	// run ids identify the current loop runs; callbacks from older runs
	// are ignored
	bufferRun   atomic.Uint64
	playbackRun atomic.Uint64
}

// Controller accepts commands and drives the loops. Exactly one command
// executes at a time.
type Controller struct {
	mu     sync.Mutex
	state  state
	closed bool

	opts Options
	log  *logrus.Entry

	snapshot atomic.Pointer[State]
	live     atomic.Pointer[session]
	position atomic.Int64

	settings struct {
		sync.Mutex
		volume   float64
		speed    float64
		renderer loop.Renderer
	}

	states   *Broadcaster[State]
	buffered *Broadcaster[time.Duration]
	played   *Broadcaster[time.Duration]
	events   *Broadcaster[Event]
}

// NewController creates a controller in the Empty state
func NewController(opts Options) (*Controller, error) {
	if opts.Opener == nil {
		return nil, errors.New("player: an opener is required")
	}
	if opts.Speed <= 0 {
		opts.Speed = 1
	}
	if opts.SyncThreshold <= 0 {
		opts.SyncThreshold = loop.DefaultSyncThreshold
	}

	c := &Controller{
		opts:     opts,
		log:      logging.OrDefault(opts.Log, "player"),
		states:   NewBroadcaster[State](subscriberBuffer),
		buffered: NewBroadcaster[time.Duration](subscriberBuffer),
		played:   NewBroadcaster[time.Duration](subscriberBuffer),
		events:   NewBroadcaster[Event](subscriberBuffer),
	}
	c.settings.volume = math.Max(0, math.Min(1, opts.Volume))
	c.settings.speed = opts.Speed
	c.settings.renderer = opts.Renderer
	c.setState(stateEmpty{})
	return c, nil
}

// State returns the current external state
func (c *Controller) State() State {
	return *c.snapshot.Load()
}

// Position returns the latest playback timestamp of the live session
func (c *Controller) Position() time.Duration {
	return time.Duration(c.position.Load())
}

// SubscribeState streams external state changes
func (c *Controller) SubscribeState() (<-chan State, func()) { return c.states.Subscribe() }

// SubscribeBufferTimestamps streams buffering progress
func (c *Controller) SubscribeBufferTimestamps() (<-chan time.Duration, func()) {
	return c.buffered.Subscribe()
}

// SubscribePlaybackTimestamps streams playback progress
func (c *Controller) SubscribePlaybackTimestamps() (<-chan time.Duration, func()) {
	return c.played.Subscribe()
}

// SubscribeEvents streams completion and error events
func (c *Controller) SubscribeEvents() (<-chan Event, func()) { return c.events.Subscribe() }

// SetVolume sets the output volume in [0, 1]
func (c *Controller) SetVolume(v float64) {
	v = math.Max(0, math.Min(1, v))
	c.settings.Lock()
	c.settings.volume = v
	c.settings.Unlock()

	if s := c.live.Load(); s != nil {
		s.playback.SetVolume(v)
	}
}

// Volume returns the output volume
func (c *Controller) Volume() float64 {
	c.settings.Lock()
	defer c.settings.Unlock()
	return c.settings.volume
}

// SetPlaybackSpeed sets the speed factor in (0, 4]
func (c *Controller) SetPlaybackSpeed(speed float64) error {
	if speed <= 0 || speed > loop.MaxSpeed || math.IsNaN(speed) {
		return loop.ErrInvalidSpeed
	}
	c.settings.Lock()
	c.settings.speed = speed
	c.settings.Unlock()

	if s := c.live.Load(); s != nil {
		return s.playback.SetSpeed(speed)
	}
	return nil
}

// PlaybackSpeed returns the speed factor
func (c *Controller) PlaybackSpeed() float64 {
	c.settings.Lock()
	defer c.settings.Unlock()
	return c.settings.speed
}

// SetRenderer attaches r to current and future sessions; nil detaches
func (c *Controller) SetRenderer(r loop.Renderer) {
	c.settings.Lock()
	c.settings.renderer = r
	c.settings.Unlock()

	if s := c.live.Load(); s != nil {
		s.playback.SetRenderer(r)
	}
}

// Execute runs cmd. A command the current state does not accept fails
// with *InvalidTransitionError and changes nothing.
func (c *Controller) Execute(ctx context.Context, cmd Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	if p, ok := cmd.(Prepare); ok {
		if err := validatePrepare(p); err != nil {
			return err
		}
	}

	next, err := transition(c.state, cmd)
	if err != nil {
		return err
	}

	log := c.log.WithFields(logrus.Fields{"command": cmd.Name(), "from": c.state.name()})
	log.Debug("executing command")

	prev := c.state
	switch cmd := cmd.(type) {
	case Prepare:
		err = c.prepare(ctx, prev, cmd)
	case Play, Resume:
		err = c.play(next.(stateReady))
	case Pause:
		err = c.pause(next.(stateReady))
	case Stop:
		err = c.stop(ctx, next.(stateReady))
	case SeekTo:
		err = c.seek(ctx, next.(stateReady), cmd)
	case Release:
		err = c.release(next.(stateReleasing))
	default:
		err = fmt.Errorf("player: unknown command %T", cmd)
	}

	if err != nil {
		log.WithError(err).Warn("command failed")
	} else {
		log.WithField("to", c.state.name()).Debug("command done")
	}
	return err
}

func validatePrepare(p Prepare) error {
	switch {
	case p.Location == "":
		return errors.New("player: prepare needs a location")
	case p.AudioBufferSize < 0 || p.VideoBufferSize < 0:
		return fmt.Errorf("player: negative buffer size %d/%d", p.AudioBufferSize, p.VideoBufferSize)
	case p.AudioBufferSize == 0 && p.VideoBufferSize == 0:
		return errors.New("player: at least one buffer size must be positive")
	}
	return nil
}

// setState stores s and publishes it unless it is a transition
func (c *Controller) setState(s state) {
	c.state = s

	live := sessionOf(s)
	if _, ok := s.(stateReady); !ok {
		live = nil
	}
	c.live.Store(live)

	if r, ok := s.(stateReady); ok && r.phase == phaseTransition {
		return
	}
	// Subscribers hear about a state before State() returns it.
	ext := external(s)
	c.states.Publish(ext)
	c.snapshot.Store(&ext)
}

// fail moves to the error state, keeping prev for diagnosis
func (c *Controller) fail(prev state, cause error) {
	var mediaID string
	if s := sessionOf(prev); s != nil {
		mediaID = s.media.ID
	}
	c.events.Publish(Event{Type: EventError, MediaID: mediaID, Err: cause, Time: time.Now()})
	c.setState(stateFailed{cause: cause, previous: prev})
}

func (c *Controller) prepare(ctx context.Context, prev state, cmd Prepare) error {
	// A fresh Prepare after an error disposes of the failed session.
	if old := sessionOf(prev); old != nil {
		if err := c.teardown(old); err != nil {
			c.log.WithError(err).Warn("failed to release previous session")
		}
	}

	c.setState(statePreparing{})
	c.position.Store(0)

	media, err := c.opts.Opener.Probe(ctx, cmd.Location, decoder.ProbeOptions{
		WantAudio:                      cmd.AudioBufferSize > 0,
		WantVideo:                      cmd.VideoBufferSize > 0,
		HardwareAccelerationCandidates: cmd.HardwareAccelerationCandidates,
	})
	if err == nil {
		err = media.Validate()
	}
	if err != nil {
		c.fail(statePreparing{}, fmt.Errorf("probe %s: %w", cmd.Location, err))
		return err
	}

	p, err := pipeline.Build(ctx, c.opts.Opener, media, pipeline.Options{
		AudioBufferSize: cmd.AudioBufferSize,
		VideoBufferSize: cmd.VideoBufferSize,
		NewSampler:      c.opts.NewSampler,
	})
	if err != nil {
		c.fail(statePreparing{}, fmt.Errorf("build pipeline: %w", err))
		return err
	}

	s := c.newSession(media, p)
	if err := c.startBuffering(s); err != nil {
		c.fail(statePreparing{}, err)
		return multierr.Append(err, p.Close())
	}

	c.log.WithFields(logrus.Fields{
		"media":    media.ID,
		"location": media.Location,
		"audio":    media.Audio.IsPresent(),
		"video":    media.Video.IsPresent(),
		"duration": media.Duration,
	}).Info("media prepared")

	c.setState(stateReady{phase: PhaseStopped, session: s})
	return nil
}

func (c *Controller) newSession(media types.Media, p *pipeline.Pipeline) *session {
	c.settings.Lock()
	defer c.settings.Unlock()

	return &session{
		media:    media,
		pipeline: p,
		buffer:   loop.NewBufferLoop(c.log.WithField("loop", "buffer")),
		playback: loop.NewPlaybackLoop(loop.PlaybackOptions{
			SyncThreshold: c.opts.SyncThreshold,
			Volume:        c.settings.volume,
			Speed:         c.settings.speed,
			Renderer:      c.settings.renderer,
			Sleep:         c.opts.Sleep,
			Log:           c.log.WithField("loop", "playback"),
		}),
	}
}

func (c *Controller) play(next stateReady) error {
	s := next.session
	c.setState(next)
	if err := c.startPlayback(s); err != nil {
		c.setState(stateReady{phase: next.from, session: s})
		return err
	}
	c.setState(stateReady{phase: PhasePlaying, session: s})
	return nil
}

func (c *Controller) pause(next stateReady) error {
	s := next.session
	c.setState(next)
	c.stopPlayback(s)
	c.setState(stateReady{phase: PhasePaused, session: s})
	return nil
}

func (c *Controller) stop(ctx context.Context, next stateReady) error {
	s := next.session
	prev := stateReady{phase: next.from, session: s}
	c.setState(next)

	c.stopPlayback(s)
	c.stopBuffering(s)

	err := multierr.Combine(s.pipeline.Flush(), s.pipeline.Reset(ctx))
	if err == nil {
		err = c.startBuffering(s)
	}
	if err != nil {
		c.fail(prev, err)
		return err
	}

	c.position.Store(0)
	c.setState(stateReady{phase: PhaseStopped, session: s})
	return nil
}

func (c *Controller) seek(ctx context.Context, next stateReady, cmd SeekTo) error {
	s := next.session
	prev := stateReady{phase: next.from, session: s}
	intent := seekIntent(next.from)
	target := min(max(cmd.Timestamp, 0), s.media.Duration)

	c.setState(stateReady{phase: PhaseSeeking, session: s})

	c.stopPlayback(s)
	c.stopBuffering(s)

	err := multierr.Combine(s.pipeline.Flush(), s.pipeline.Seek(ctx, target, cmd.KeyFramesOnly))
	if err == nil {
		err = c.startBuffering(s)
	}
	if err == nil && intent == PhasePlaying {
		err = c.startPlayback(s)
	}
	if err != nil {
		c.fail(prev, err)
		return err
	}

	c.position.Store(int64(target))
	c.log.WithFields(logrus.Fields{"position": target, "keyFramesOnly": cmd.KeyFramesOnly}).Debug("seeked")
	c.setState(stateReady{phase: intent, session: s})
	return nil
}

func (c *Controller) release(next stateReleasing) error {
	c.setState(next)

	var err error
	if s := sessionOf(next.previous); s != nil {
		err = c.teardown(s)
	}
	c.position.Store(0)
	c.setState(stateEmpty{})
	return err
}

// teardown stops both loops and closes the pipeline
func (c *Controller) teardown(s *session) error {
	c.stopPlayback(s)
	c.stopBuffering(s)
	if err := s.pipeline.Close(); err != nil {
		return fmt.Errorf("close pipeline: %w", err)
	}
	return nil
}

// Close tears down whatever is live without waiting for the loops. Later
// commands fail with ErrClosed.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	var err error
	if s := sessionOf(c.state); s != nil {
		s.bufferRun.Add(1)
		s.playbackRun.Add(1)
		s.playback.Close()
		s.buffer.Close()
		err = s.pipeline.Close()
	}
	c.setState(stateEmpty{})

	c.states.Close()
	c.buffered.Close()
	c.played.Close()
	c.events.Close()
	return err
}

func (c *Controller) startBuffering(s *session) error {
	run := s.bufferRun.Add(1)
	current := func() bool { return s.bufferRun.Load() == run }

	return s.buffer.Start(s.pipeline, loop.Callbacks{
		OnTimestamp: func(ts time.Duration) {
			if current() {
				c.buffered.Publish(ts)
			}
		},
		OnEndOfMedia: func() {
			go c.report(s, current, func() {
				c.events.Publish(Event{Type: EventBufferingComplete, MediaID: s.media.ID, Time: time.Now()})
			})
		},
		OnError: func(err error) {
			go c.report(s, current, func() { c.loopFailed(s, err) })
		},
	})
}

func (c *Controller) startPlayback(s *session) error {
	run := s.playbackRun.Add(1)
	current := func() bool { return s.playbackRun.Load() == run }

	return s.playback.Start(s.pipeline, loop.Callbacks{
		OnTimestamp: func(ts time.Duration) {
			if current() {
				c.position.Store(int64(ts))
				c.played.Publish(ts)
			}
		},
		OnEndOfMedia: func() {
			go c.report(s, current, func() { c.playbackEnded(s) })
		},
		OnError: func(err error) {
			go c.report(s, current, func() { c.loopFailed(s, err) })
		},
	})
}

// report runs fn under the command lock if the loop run is still current.
// Loops call back on their own goroutine, which must not wait for the lock
// a command may hold while stopping that very loop.
func (c *Controller) report(s *session, current func() bool, fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || !current() || c.live.Load() != s {
		return
	}
	fn()
}

func (c *Controller) playbackEnded(s *session) {
	r, ok := c.state.(stateReady)
	if !ok || r.phase != PhasePlaying {
		return
	}
	c.stopPlayback(s)
	c.events.Publish(Event{Type: EventPlaybackComplete, MediaID: s.media.ID, Time: time.Now()})
	c.setState(stateReady{phase: PhaseCompleted, session: s})
	c.log.WithField("media", s.media.ID).Info("playback completed")
}

func (c *Controller) loopFailed(s *session, err error) {
	c.log.WithError(err).WithField("media", s.media.ID).Error("loop failed")
	prev := c.state
	c.stopPlayback(s)
	c.stopBuffering(s)
	c.fail(prev, err)
}

func (c *Controller) stopPlayback(s *session) {
	s.playbackRun.Add(1)
	s.playback.Stop()
}

func (c *Controller) stopBuffering(s *session) {
	s.bufferRun.Add(1)
	s.buffer.Stop()
}
