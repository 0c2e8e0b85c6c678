package player

import (
	"time"

	"github.com/austinkregel/local-media/playerd/internal/types"
)

// Command is one request to the controller: Prepare, Play, Pause, Resume,
// Stop, SeekTo or Release.
type Command interface {
	Name() string
	command()
}

// Prepare probes Location and builds a pipeline for it. A buffer size of 0
// leaves that stream out.
type Prepare struct {
	Location                       string
	AudioBufferSize                int
	VideoBufferSize                int
	HardwareAccelerationCandidates []types.HardwareAcceleration
}

// Play starts playback from Stopped
type Play struct{}

// Pause suspends playback
type Pause struct{}

// Resume continues paused playback
type Resume struct{}

// Stop ends playback and rewinds to the start
type Stop struct{}

// SeekTo moves playback to Timestamp, clamped to the media duration
type SeekTo struct {
	Timestamp     time.Duration
	KeyFramesOnly bool
}

// Release tears the session down
type Release struct{}

func (Prepare) Name() string { return "prepare" }
func (Play) Name() string    { return "play" }
func (Pause) Name() string   { return "pause" }
func (Resume) Name() string  { return "resume" }
func (Stop) Name() string    { return "stop" }
func (SeekTo) Name() string  { return "seek" }
func (Release) Name() string { return "release" }

func (Prepare) command() {}
func (Play) command()    {}
func (Pause) command()   {}
func (Resume) command()  {}
func (Stop) command()    {}
func (SeekTo) command()  {}
func (Release) command() {}
