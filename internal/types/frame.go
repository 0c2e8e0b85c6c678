package types

import "time"

// Frame is one unit flowing from a decoder to playback: *AudioFrame,
// *VideoFrame or EndOfStream.
type Frame interface {
	frame()
}

// AudioFrame carries decoded PCM samples
type AudioFrame struct {
	Timestamp time.Duration
	Samples   []byte
}

// VideoFrame carries a decoded picture held in pooled storage.
// Buffer must go back to the pool it was acquired from once the frame is done.
type VideoFrame struct {
	Timestamp time.Duration
	Width     int
	Height    int
	Buffer    *VideoBuffer
}

// EndOfStream marks the end of one stream; nothing follows it
type EndOfStream struct{}

func (*AudioFrame) frame() {}
func (*VideoFrame) frame() {}
func (EndOfStream) frame() {}

// VideoBuffer is reusable storage for one decoded RGBA picture
type VideoBuffer struct {
	Data []byte
}

// NewVideoBuffer allocates zeroed storage of the given byte capacity
func NewVideoBuffer(capacity int) *VideoBuffer {
	return &VideoBuffer{Data: make([]byte, capacity)}
}
