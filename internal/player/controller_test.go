package player

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/austinkregel/local-media/playerd/internal/enginetest"
)

const interval = 10 * time.Millisecond

func instant(ctx context.Context, _ time.Duration) error { return ctx.Err() }

// blocking never finishes a sleep, parking video until the loop is stopped
func blocking(ctx context.Context, _ time.Duration) error {
	<-ctx.Done()
	return ctx.Err()
}

func newController(t *testing.T, o *enginetest.Opener, sleep func(context.Context, time.Duration) error) (*Controller, *enginetest.Renderer) {
	t.Helper()
	r := &enginetest.Renderer{}
	c, err := NewController(Options{
		Opener:     o,
		NewSampler: enginetest.Factory(0, nil),
		Renderer:   r,
		Volume:     1,
		Sleep:      sleep,
	})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, r
}

func waitFor(t *testing.T, c *Controller, desc string, pred func(State) bool) State {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if s := c.State(); pred(s) {
			return s
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s, state is %v", desc, c.State())
	return State{}
}

func execute(t *testing.T, c *Controller, cmd Command) {
	t.Helper()
	if err := c.Execute(context.Background(), cmd); err != nil {
		t.Fatalf("%s: %v", cmd.Name(), err)
	}
}

func TestControllerPlaysToCompletion(t *testing.T) {
	t.Parallel()
	o := enginetest.NewOpener(8, 8, interval)
	c, _ := newController(t, o, instant)

	states, unsubscribe := c.SubscribeState()
	defer unsubscribe()
	events, unsubscribeEvents := c.SubscribeEvents()
	defer unsubscribeEvents()

	execute(t, c, Prepare{Location: "file:///a.mkv", AudioBufferSize: 4, VideoBufferSize: 2})
	if s := c.State(); !s.Is(PhaseStopped) || s.Media.Location != "file:///a.mkv" {
		t.Fatalf("got %v, want ready.stopped with media", s)
	}

	execute(t, c, Play{})
	if s := c.State(); !s.Is(PhasePlaying) && !s.Is(PhaseCompleted) {
		t.Fatalf("got %v, want ready.playing", s)
	}

	waitFor(t, c, "completion", func(s State) bool { return s.Is(PhaseCompleted) })

	var seen []State
	for len(states) > 0 {
		seen = append(seen, <-states)
	}
	for _, s := range seen {
		if s.Status == StatusError {
			t.Fatalf("error state published: %v", s.Err)
		}
	}
	want := []string{"preparing", "ready.stopped", "ready.playing", "ready.completed"}
	if len(seen) != len(want) {
		t.Fatalf("got states %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i].String() != want[i] {
			t.Errorf("got states %v, want %v", seen, want)
		}
	}

	gotComplete := false
	for len(events) > 0 {
		e := <-events
		if e.Type == EventError {
			t.Errorf("error event: %v", e.Err)
		}
		gotComplete = gotComplete || e.Type == EventPlaybackComplete
	}
	if !gotComplete {
		t.Error("expected a playback complete event")
	}
	if c.Position() != o.Media.Duration {
		t.Errorf("got position %v, want %v", c.Position(), o.Media.Duration)
	}
}

func TestControllerRejectsInvalidCommands(t *testing.T) {
	t.Parallel()
	o := enginetest.NewOpener(2, 0, interval)
	c, _ := newController(t, o, instant)

	for _, cmd := range []Command{Play{}, Pause{}, Resume{}, Stop{}, SeekTo{}, Release{}} {
		err := c.Execute(context.Background(), cmd)
		var invalid *InvalidTransitionError
		if !errors.As(err, &invalid) {
			t.Errorf("%s from empty: got %v, want *InvalidTransitionError", cmd.Name(), err)
		}
		if s := c.State(); s.Status != StatusEmpty {
			t.Errorf("%s changed state to %v", cmd.Name(), s)
		}
	}

	execute(t, c, Prepare{Location: "a", AudioBufferSize: 2})
	for _, cmd := range []Command{Prepare{Location: "b", AudioBufferSize: 2}, Pause{}, Resume{}, SeekTo{}} {
		if err := c.Execute(context.Background(), cmd); err == nil {
			t.Errorf("%s from stopped: expected error", cmd.Name())
		}
		if s := c.State(); !s.Is(PhaseStopped) {
			t.Errorf("%s changed state to %v", cmd.Name(), s)
		}
	}
}

func TestControllerPrepareValidation(t *testing.T) {
	t.Parallel()
	c, _ := newController(t, enginetest.NewOpener(2, 2, interval), instant)

	for _, p := range []Prepare{
		{Location: "", AudioBufferSize: 1},
		{Location: "a"},
		{Location: "a", AudioBufferSize: -1, VideoBufferSize: 2},
	} {
		if err := c.Execute(context.Background(), p); err == nil {
			t.Errorf("Prepare(%+v): expected error", p)
		}
		if s := c.State(); s.Status != StatusEmpty {
			t.Errorf("got %v, want empty", s)
		}
	}
}

func TestControllerPrepareFailure(t *testing.T) {
	t.Parallel()
	o := enginetest.NewOpener(2, 2, interval)
	o.ProbeErr = errors.New("unsupported container")
	c, _ := newController(t, o, instant)

	err := c.Execute(context.Background(), Prepare{Location: "a", AudioBufferSize: 2, VideoBufferSize: 2})
	if !errors.Is(err, o.ProbeErr) {
		t.Fatalf("got %v, want %v", err, o.ProbeErr)
	}
	s := c.State()
	if s.Status != StatusError || !errors.Is(s.Err, o.ProbeErr) {
		t.Fatalf("got %v, want error state", s)
	}
	if s.Previous == nil || s.Previous.Status != StatusPreparing {
		t.Errorf("got previous %v, want preparing", s.Previous)
	}

	// A fresh Prepare recovers.
	o.ProbeErr = nil
	execute(t, c, Prepare{Location: "a", AudioBufferSize: 2, VideoBufferSize: 2})
	if s := c.State(); !s.Is(PhaseStopped) {
		t.Errorf("got %v, want ready.stopped", s)
	}
}

func TestControllerPauseSeekResume(t *testing.T) {
	t.Parallel()
	o := enginetest.NewOpener(0, 10, interval)
	c, r := newController(t, o, blocking)

	execute(t, c, Prepare{Location: "v", VideoBufferSize: 2})
	execute(t, c, Play{})
	// The first frame renders at once; the second waits on the sleep.
	for len(r.Frames()) == 0 {
		time.Sleep(time.Millisecond)
	}

	execute(t, c, Pause{})
	if s := c.State(); !s.Is(PhasePaused) {
		t.Fatalf("got %v, want ready.paused", s)
	}

	execute(t, c, SeekTo{Timestamp: 35 * time.Millisecond})
	if s := c.State(); !s.Is(PhasePaused) {
		t.Fatalf("got %v after seek, want ready.paused", s)
	}
	if c.Position() != 35*time.Millisecond {
		t.Errorf("got position %v, want 35ms", c.Position())
	}

	execute(t, c, Resume{})
	if s := c.State(); !s.Is(PhasePlaying) {
		t.Fatalf("got %v, want ready.playing", s)
	}

	execute(t, c, SeekTo{Timestamp: 0})
	if s := c.State(); !s.Is(PhasePlaying) {
		t.Fatalf("got %v, want seek to keep playing", s)
	}

	execute(t, c, Pause{})
	execute(t, c, SeekTo{Timestamp: time.Hour, KeyFramesOnly: true})
	if c.Position() != o.Media.Duration {
		t.Errorf("got position %v, want clamp to %v", c.Position(), o.Media.Duration)
	}
	video := o.VideoDecoders()[0]
	want := []time.Duration{35 * time.Millisecond, 0, o.Media.Duration}
	if seeks := video.Seeks(); len(seeks) != len(want) || seeks[0] != want[0] || seeks[1] != want[1] || seeks[2] != want[2] {
		t.Errorf("got seeks %v, want %v", seeks, want)
	}

	execute(t, c, Release{})
	if s := c.State(); s.Status != StatusEmpty {
		t.Errorf("got %v, want empty", s)
	}
	if !video.Closed() {
		t.Error("expected decoder closed on release")
	}
}

func TestControllerPauseResumeAfterAudioEnded(t *testing.T) {
	t.Parallel()
	const videoFrames = 30
	o := enginetest.NewOpener(2, videoFrames, interval)
	c, r := newController(t, o, nil)

	execute(t, c, Prepare{Location: "file:///short-audio.mkv", AudioBufferSize: 4, VideoBufferSize: 2})
	execute(t, c, Play{})

	// Audio lasts 20ms; video runs for 300ms.
	time.Sleep(80 * time.Millisecond)
	execute(t, c, Pause{})
	if s := c.State(); !s.Is(PhasePaused) {
		t.Fatalf("got %v, want ready.paused", s)
	}
	paused := len(r.Frames())

	execute(t, c, Resume{})
	waitFor(t, c, "completion after resume", func(s State) bool { return s.Is(PhaseCompleted) })

	frames := r.Frames()
	if paused == 0 || paused >= videoFrames {
		t.Errorf("got %d frames before pause, want a pause mid-video", paused)
	}
	if len(frames) != videoFrames {
		t.Fatalf("got %d rendered frames, want %d", len(frames), videoFrames)
	}
	for i, f := range frames {
		if f.Timestamp != time.Duration(i)*interval {
			t.Fatalf("frame %d: got %v, want every frame once in order", i, f.Timestamp)
		}
	}
	if c.Position() != o.Media.Duration {
		t.Errorf("got position %v, want %v", c.Position(), o.Media.Duration)
	}
}

func TestControllerStopRewinds(t *testing.T) {
	t.Parallel()
	o := enginetest.NewOpener(4, 4, interval)
	c, _ := newController(t, o, instant)

	execute(t, c, Prepare{Location: "a", AudioBufferSize: 4, VideoBufferSize: 2})
	execute(t, c, Play{})
	waitFor(t, c, "completion", func(s State) bool { return s.Is(PhaseCompleted) })

	execute(t, c, Stop{})
	if s := c.State(); !s.Is(PhaseStopped) {
		t.Fatalf("got %v, want ready.stopped", s)
	}
	if c.Position() != 0 {
		t.Errorf("got position %v, want 0", c.Position())
	}
	for _, d := range append(o.AudioDecoders(), o.VideoDecoders()...) {
		if d.Resets() != 1 {
			t.Errorf("got %d resets, want 1", d.Resets())
		}
	}

	// Stopped media plays again from the start.
	execute(t, c, Play{})
	waitFor(t, c, "second completion", func(s State) bool { return s.Is(PhaseCompleted) })

	execute(t, c, SeekTo{Timestamp: 10 * time.Millisecond})
	if s := c.State(); !s.Is(PhasePaused) {
		t.Errorf("got %v, want seek from completed to pause", s)
	}
}

func TestControllerLoopFailure(t *testing.T) {
	t.Parallel()
	o := enginetest.NewOpener(0, 5, interval)
	o.VideoFailAt = 3
	c, _ := newController(t, o, instant)

	events, unsubscribe := c.SubscribeEvents()
	defer unsubscribe()

	execute(t, c, Prepare{Location: "v", VideoBufferSize: 2})
	execute(t, c, Play{})

	s := waitFor(t, c, "error", func(s State) bool { return s.Status == StatusError })
	if !errors.Is(s.Err, enginetest.ErrDecode) {
		t.Errorf("got cause %v, want %v", s.Err, enginetest.ErrDecode)
	}
	if s.Previous == nil || s.Previous.Status != StatusReady {
		t.Errorf("got previous %v, want a ready state", s.Previous)
	}

	gotError := false
	for len(events) > 0 {
		gotError = gotError || (<-events).Type == EventError
	}
	if !gotError {
		t.Error("expected an error event")
	}

	// Only Prepare and Release are accepted now.
	if err := c.Execute(context.Background(), Play{}); err == nil {
		t.Error("expected Play to be rejected in the error state")
	}

	o.VideoFailAt = -1
	execute(t, c, Prepare{Location: "v", VideoBufferSize: 2})
	if decoders := o.VideoDecoders(); !decoders[0].Closed() {
		t.Error("expected the failed session to be closed")
	}
	execute(t, c, Release{})
}

func TestControllerSettings(t *testing.T) {
	t.Parallel()
	c, _ := newController(t, enginetest.NewOpener(2, 0, interval), instant)

	c.SetVolume(1.7)
	if c.Volume() != 1 {
		t.Errorf("got volume %v, want 1", c.Volume())
	}
	if err := c.SetPlaybackSpeed(0); err == nil {
		t.Error("expected speed 0 to be rejected")
	}
	if err := c.SetPlaybackSpeed(1.25); err != nil || c.PlaybackSpeed() != 1.25 {
		t.Errorf("got %v / %v, want 1.25", err, c.PlaybackSpeed())
	}
}

func TestControllerConcurrentCommands(t *testing.T) {
	t.Parallel()
	o := enginetest.NewOpener(50, 50, interval)
	c, _ := newController(t, o, instant)
	execute(t, c, Prepare{Location: "a", AudioBufferSize: 4, VideoBufferSize: 2})

	var wg sync.WaitGroup
	cmds := []Command{Play{}, Pause{}, Resume{}, Stop{}, SeekTo{Timestamp: 20 * time.Millisecond}}
	for i := range 40 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := c.Execute(context.Background(), cmds[i%len(cmds)])
			var invalid *InvalidTransitionError
			if err != nil && !errors.As(err, &invalid) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if s := c.State(); s.Status != StatusReady {
		t.Errorf("got %v, want a ready state", s)
	}
	execute(t, c, Release{})
}

func TestControllerClose(t *testing.T) {
	t.Parallel()
	o := enginetest.NewOpener(0, 10, interval)
	c, _ := newController(t, o, blocking)
	execute(t, c, Prepare{Location: "v", VideoBufferSize: 2})
	execute(t, c, Play{})

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.Execute(context.Background(), Stop{}); !errors.Is(err, ErrClosed) {
		t.Errorf("got %v, want %v", err, ErrClosed)
	}
	if !o.VideoDecoders()[0].Closed() {
		t.Error("expected decoder closed")
	}
}
