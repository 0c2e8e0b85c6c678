// Package types provides shared type definitions used across the playerd daemon.
package types

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/mo"
)

// HardwareAcceleration names a decoder hardware acceleration method
type HardwareAcceleration string

// HardwareAccelerationNone means frames are decoded in software
const HardwareAccelerationNone HardwareAcceleration = "none"

// bytesPerSample is fixed: the engine exchanges signed 16-bit little-endian PCM
const bytesPerSample = 2

// AudioFormat describes decoded PCM audio
type AudioFormat struct {
	SampleRate int `json:"sampleRate"`
	Channels   int `json:"channels"`
}

// FrameSize returns the number of bytes in one sample per channel
func (f AudioFormat) FrameSize() int {
	return f.Channels * bytesPerSample
}

// BytesPerSecond returns the PCM byte rate of the format
func (f AudioFormat) BytesPerSecond() int {
	return f.SampleRate * f.FrameSize()
}

// DurationOf returns how long n bytes of PCM last
func (f AudioFormat) DurationOf(n int) time.Duration {
	rate := f.BytesPerSecond()
	if rate <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(rate))
}

// BytesFor returns the PCM byte count for d, aligned to whole frames
func (f AudioFormat) BytesFor(d time.Duration) int {
	frames := int64(d) * int64(f.SampleRate) / int64(time.Second)
	return int(frames) * f.FrameSize()
}

// VideoFormat describes decoded video frames
type VideoFormat struct {
	Width                int                  `json:"width"`
	Height               int                  `json:"height"`
	FrameRate            float64              `json:"frameRate"`
	HardwareAcceleration HardwareAcceleration `json:"hardwareAcceleration"`
	// BufferCapacity is the byte size one decoded frame needs
	BufferCapacity int `json:"bufferCapacity"`
}

// FrameInterval returns the nominal display time of one frame
func (f VideoFormat) FrameInterval() time.Duration {
	if f.FrameRate <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / f.FrameRate)
}

// Media is a probed, immutable description of a playable location
type Media struct {
	ID       string                 `json:"id"`
	Location string                 `json:"location"`
	Duration time.Duration          `json:"duration"`
	Audio    mo.Option[AudioFormat] `json:"audio"`
	Video    mo.Option[VideoFormat] `json:"video"`
}

// ErrNoStreams is returned for media carrying neither audio nor video
var ErrNoStreams = errors.New("media has neither audio nor video")

// Validate checks the media has at least one stream with a usable format
func (m Media) Validate() error {
	if m.Audio.IsAbsent() && m.Video.IsAbsent() {
		return ErrNoStreams
	}
	if a, ok := m.Audio.Get(); ok && (a.SampleRate <= 0 || a.Channels <= 0) {
		return fmt.Errorf("invalid audio format %dHz/%dch", a.SampleRate, a.Channels)
	}
	if v, ok := m.Video.Get(); ok && (v.Width <= 0 || v.Height <= 0 || v.BufferCapacity <= 0) {
		return fmt.Errorf("invalid video format %dx%d", v.Width, v.Height)
	}
	return nil
}

// QueueItem represents an item in the playback queue
type QueueItem struct {
	Location string `json:"location"`
	Title    string `json:"title,omitempty"`
	Artist   string `json:"artist,omitempty"`
	Album    string `json:"album,omitempty"`
}

// RepeatMode represents the repeat behavior
type RepeatMode int

const (
	RepeatNone RepeatMode = iota
	RepeatCircular
	RepeatSingle
)

// String returns the string representation of the repeat mode
func (r RepeatMode) String() string {
	switch r {
	case RepeatSingle:
		return "single"
	case RepeatCircular:
		return "circular"
	default:
		return "none"
	}
}

// ParseRepeatMode parses a string into a RepeatMode.
// The MPRIS-style names off/one/all are accepted as aliases.
func ParseRepeatMode(s string) RepeatMode {
	switch strings.ToLower(s) {
	case "single", "one", "track":
		return RepeatSingle
	case "circular", "all", "playlist":
		return RepeatCircular
	default:
		return RepeatNone
	}
}

// MarshalText implements encoding.TextMarshaler
func (r RepeatMode) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (r *RepeatMode) UnmarshalText(text []byte) error {
	*r = ParseRepeatMode(string(text))
	return nil
}
