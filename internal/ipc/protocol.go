// Package ipc handles inter-process communication between the daemon and clients.
package ipc

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/austinkregel/local-media/playerd/internal/player"
	"github.com/austinkregel/local-media/playerd/internal/types"
)

// CommandType represents the type of command
type CommandType string

const (
	// Transport commands map one to one onto player commands
	CmdPrepare CommandType = "prepare"
	CmdPlay    CommandType = "play"
	CmdPause   CommandType = "pause"
	CmdResume  CommandType = "resume"
	CmdStop    CommandType = "stop"
	CmdSeek    CommandType = "seek"
	CmdRelease CommandType = "release"

	CmdStatus CommandType = "status"
	CmdVolume CommandType = "volume"
	CmdSpeed  CommandType = "speed"

	// Queue management commands
	CmdQueueAdd     CommandType = "queueAdd"
	CmdQueueDelete  CommandType = "queueDelete"
	CmdQueueReplace CommandType = "queueReplace"
	CmdQueueSelect  CommandType = "queueSelect"
	CmdNext         CommandType = "next"
	CmdPrev         CommandType = "prev"
	CmdSetShuffle   CommandType = "setShuffle"
	CmdSetRepeat    CommandType = "setRepeat"
	CmdGetQueue     CommandType = "getQueue"

	CmdGetAudioData CommandType = "getAudioData"
	CmdSnapshot     CommandType = "snapshot"
	CmdSubscribe    CommandType = "subscribe"
	CmdUnsubscribe  CommandType = "unsubscribe"
)

// Topic names a push stream a client can subscribe to
type Topic string

const (
	TopicState             Topic = "state"
	TopicBufferTimestamp   Topic = "bufferTimestamp"
	TopicPlaybackTimestamp Topic = "playbackTimestamp"
	TopicEvent             Topic = "event"
	TopicAudioData         Topic = "audioData"
)

// AllTopics is used when a subscribe request names none
var AllTopics = []Topic{TopicState, TopicBufferTimestamp, TopicPlaybackTimestamp, TopicEvent, TopicAudioData}

// PushMessage represents a server-initiated message (no request needed)
type PushMessage struct {
	Type Topic           `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Request represents a client request
type Request struct {
	Cmd  CommandType     `json:"cmd"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Response represents a server response
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// PrepareRequest is the data for a prepare command. Unset buffer sizes
// and hardware acceleration fall back to the daemon configuration.
type PrepareRequest struct {
	Location             string   `json:"location"`
	AudioBufferSize      *int     `json:"audioBufferSize,omitempty"`
	VideoBufferSize      *int     `json:"videoBufferSize,omitempty"`
	HardwareAcceleration []string `json:"hardwareAcceleration,omitempty"`
	// Play starts playback once prepared
	Play bool `json:"play,omitempty"`
}

// SeekRequest is the data for a seek command
type SeekRequest struct {
	Position      int64 `json:"position"` // milliseconds
	KeyFramesOnly *bool `json:"keyFramesOnly,omitempty"`
}

// VolumeRequest is the data for a volume command
type VolumeRequest struct {
	Level float64 `json:"level"` // 0.0 - 1.0
}

// SpeedRequest is the data for a speed command
type SpeedRequest struct {
	Speed float64 `json:"speed"` // (0, 4]
}

// QueueAddRequest is the data for a queueAdd command
type QueueAddRequest struct {
	Items []types.QueueItem `json:"items"`
}

// QueueItemRequest names a queued item by location
type QueueItemRequest struct {
	Location string `json:"location"`
	// Play loads the selected item, for queueSelect
	Play bool `json:"play,omitempty"`
}

// QueueReplaceRequest is the data for a queueReplace command
type QueueReplaceRequest struct {
	Location string          `json:"location"`
	With     types.QueueItem `json:"with"`
}

// SetRepeatRequest is the data for a setRepeat command
type SetRepeatRequest struct {
	Mode types.RepeatMode `json:"mode"` // "none", "single", "circular"
}

// SetShuffleRequest is the data for a setShuffle command
type SetShuffleRequest struct {
	Enabled bool `json:"enabled"`
}

// SubscribeRequest is the data for subscribe and unsubscribe
type SubscribeRequest struct {
	Topics []Topic `json:"topics,omitempty"`
}

// SubscribeResponse lists the topics a connection now receives
type SubscribeResponse struct {
	Topics []Topic `json:"topics"`
}

// StatusResponse is the response to most transport commands
type StatusResponse struct {
	State    string           `json:"state"`
	Status   player.Status    `json:"status"`
	Phase    *player.Phase    `json:"phase,omitempty"`
	Error    string           `json:"error,omitempty"`
	MediaID  string           `json:"mediaId,omitempty"`
	Location string           `json:"location,omitempty"`
	Item     *types.QueueItem `json:"item,omitempty"`
	Position int64            `json:"position"` // milliseconds
	Duration int64            `json:"duration"` // milliseconds
	HasAudio bool             `json:"hasAudio"`
	HasVideo bool             `json:"hasVideo"`
	Volume   float64          `json:"volume"`
	Speed    float64          `json:"speed"`

	QueueIndex int              `json:"queueIndex"`
	QueueSize  int              `json:"queueSize"`
	RepeatMode types.RepeatMode `json:"repeatMode"`
	Shuffle    bool             `json:"shuffle"`
}

// GetQueueResponse is the response to a getQueue command
type GetQueueResponse struct {
	Items      []types.QueueItem `json:"items"`
	PlayOrder  []types.QueueItem `json:"playOrder"`
	Current    *types.QueueItem  `json:"current,omitempty"`
	SelectedAt int64             `json:"selectedAt,omitempty"` // Unix ms
	Index      int               `json:"index"`
	RepeatMode types.RepeatMode  `json:"repeatMode"`
	Shuffle    bool              `json:"shuffle"`
}

// AudioDataResponse contains real-time frequency data for visualization
type AudioDataResponse struct {
	// Bands holds 128 magnitudes (0-255) spaced logarithmically from 20Hz
	// to 20kHz. []int keeps encoding/json from base64-encoding them.
	Bands []int `json:"bands"`
	// Position is the playback position in milliseconds when analyzed
	Position int64 `json:"position"`
	// Timestamp is when the data was captured (Unix ms)
	Timestamp int64 `json:"timestamp"`
	Ready     bool  `json:"ready"`
}

// SnapshotResponse carries the latest rendered video frame
type SnapshotResponse struct {
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Timestamp int64  `json:"timestamp"` // media milliseconds
	PNG       []byte `json:"png"`       // base64 in JSON
}

// TimestampPush is pushed on the timestamp topics
type TimestampPush struct {
	Position int64 `json:"position"` // milliseconds
}

// EventPush is pushed on the event topic
type EventPush struct {
	Type    player.EventType `json:"type"`
	MediaID string           `json:"mediaId,omitempty"`
	Error   string           `json:"error,omitempty"`
	Time    int64            `json:"time"` // Unix ms
}

// NewEventPush converts a player event for the wire
func NewEventPush(e player.Event) EventPush {
	push := EventPush{Type: e.Type, MediaID: e.MediaID, Time: e.Time.UnixMilli()}
	if e.Err != nil {
		push.Error = e.Err.Error()
	}
	return push
}

func millis(d time.Duration) int64 {
	return d.Milliseconds()
}

// EncodeRequest encodes a request to JSON
func EncodeRequest(req *Request) ([]byte, error) {
	return json.Marshal(req)
}

// DecodeRequest decodes a request from JSON
func DecodeRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to decode request: %w", err)
	}
	return &req, nil
}

// EncodeResponse encodes a response to JSON
func EncodeResponse(resp *Response) ([]byte, error) {
	return json.Marshal(resp)
}

// DecodeResponse decodes a response from JSON
func DecodeResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &resp, nil
}

// NewSuccessResponse creates a successful response
func NewSuccessResponse(data any) (*Response, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, err
		}
	}
	return &Response{
		Success: true,
		Data:    rawData,
	}, nil
}

// NewErrorResponse creates an error response
func NewErrorResponse(err string) *Response {
	return &Response{
		Success: false,
		Error:   err,
	}
}

// NewPushMessage creates a push message for streaming data
func NewPushMessage(topic Topic, data any) ([]byte, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, err
		}
	}
	return json.Marshal(PushMessage{Type: topic, Data: rawData})
}
