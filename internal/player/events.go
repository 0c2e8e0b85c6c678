package player

import "time"

// EventType names something that happened during playback
type EventType string

const (
	// EventBufferingComplete means every stream was decoded to its end
	EventBufferingComplete EventType = "bufferingComplete"
	// EventPlaybackComplete means playback reached the end of the media
	EventPlaybackComplete EventType = "playbackComplete"
	// EventError means a loop failed and the player moved to the error state
	EventError EventType = "error"
)

// Event is published on the controller's event stream
type Event struct {
	Type    EventType
	MediaID string
	Err     error
	Time    time.Time
}
