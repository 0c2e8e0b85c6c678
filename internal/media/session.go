// Package media provides OS-level media session integration.
package media

import (
	"time"

	"github.com/austinkregel/local-media/playerd/internal/player"
	"github.com/austinkregel/local-media/playerd/internal/types"
)

// PlaybackState represents the playback state for media sessions
type PlaybackState int

const (
	StateStopped PlaybackState = iota
	StatePlaying
	StatePaused
)

// PlaybackStateOf maps a player state onto the three states OS controls know
func PlaybackStateOf(s player.State) PlaybackState {
	switch {
	case s.Is(player.PhasePlaying):
		return StatePlaying
	case s.Is(player.PhasePaused), s.Is(player.PhaseSeeking):
		return StatePaused
	default:
		return StateStopped
	}
}

// Metadata contains media metadata for media session display
type Metadata struct {
	ID       string
	Location string
	Title    string
	Artist   string
	Album    string
	Duration time.Duration
}

// MetadataFor combines probed media with the queue item that named it
func MetadataFor(m types.Media, item types.QueueItem) Metadata {
	return Metadata{
		ID:       m.ID,
		Location: m.Location,
		Title:    item.Title,
		Artist:   item.Artist,
		Album:    item.Album,
		Duration: m.Duration,
	}
}

// LoopStatus represents the loop/repeat mode for MPRIS
type LoopStatus string

const (
	LoopNone     LoopStatus = "None"
	LoopTrack    LoopStatus = "Track"
	LoopPlaylist LoopStatus = "Playlist"
)

// LoopStatusOf maps a queue repeat mode to its MPRIS name
func LoopStatusOf(mode types.RepeatMode) LoopStatus {
	switch mode {
	case types.RepeatSingle:
		return LoopTrack
	case types.RepeatCircular:
		return LoopPlaylist
	default:
		return LoopNone
	}
}

// RepeatMode maps the loop status back to a queue repeat mode
func (l LoopStatus) RepeatMode() types.RepeatMode {
	return types.ParseRepeatMode(string(l))
}

// Session is the interface for OS media session integration
type Session interface {
	// UpdateMetadata updates the current media metadata
	UpdateMetadata(metadata Metadata) error

	// UpdatePlaybackState updates the playback state and position
	UpdatePlaybackState(state PlaybackState, position time.Duration) error

	UpdateShuffle(enabled bool) error
	UpdateLoopStatus(status LoopStatus) error
	UpdateRate(rate float64) error
	UpdateVolume(volume float64) error

	// SetCommandHandler sets the handler for media commands (play, pause, etc.)
	SetCommandHandler(handler CommandHandler)

	Close() error
}

// Command represents a media command from the OS
type Command int

const (
	CmdPlay Command = iota
	CmdPause
	CmdPlayPause
	CmdStop
	CmdNext
	CmdPrevious
	CmdSeek
	CmdSetShuffle
	CmdSetLoopStatus
	CmdSetRate
	CmdSetVolume
)

// String returns the command name
func (c Command) String() string {
	switch c {
	case CmdPlay:
		return "Play"
	case CmdPause:
		return "Pause"
	case CmdPlayPause:
		return "PlayPause"
	case CmdStop:
		return "Stop"
	case CmdNext:
		return "Next"
	case CmdPrevious:
		return "Previous"
	case CmdSeek:
		return "Seek"
	case CmdSetShuffle:
		return "SetShuffle"
	case CmdSetLoopStatus:
		return "SetLoopStatus"
	case CmdSetRate:
		return "SetRate"
	case CmdSetVolume:
		return "SetVolume"
	default:
		return "Unknown"
	}
}

// CommandHandler handles media commands from the OS. data carries a
// time.Duration for CmdSeek, a bool for CmdSetShuffle, a LoopStatus for
// CmdSetLoopStatus and a float64 for CmdSetRate and CmdSetVolume.
type CommandHandler interface {
	OnCommand(cmd Command, data any) error
}

// CommandHandlerFunc is a function adapter for CommandHandler
type CommandHandlerFunc func(cmd Command, data any) error

func (f CommandHandlerFunc) OnCommand(cmd Command, data any) error {
	return f(cmd, data)
}

// NoOpSession is used when media session integration is not available
type NoOpSession struct{}

// NewNoOpSession creates a new no-op session
func NewNoOpSession() *NoOpSession {
	return &NoOpSession{}
}

func (s *NoOpSession) UpdateMetadata(Metadata) error                         { return nil }
func (s *NoOpSession) UpdatePlaybackState(PlaybackState, time.Duration) error { return nil }
func (s *NoOpSession) UpdateShuffle(bool) error                              { return nil }
func (s *NoOpSession) UpdateLoopStatus(LoopStatus) error                     { return nil }
func (s *NoOpSession) UpdateRate(float64) error                              { return nil }
func (s *NoOpSession) UpdateVolume(float64) error                            { return nil }
func (s *NoOpSession) SetCommandHandler(CommandHandler)                      {}
func (s *NoOpSession) Close() error                                          { return nil }

var _ Session = (*NoOpSession)(nil)
