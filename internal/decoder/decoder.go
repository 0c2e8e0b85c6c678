// Package decoder defines the frame source used by playback and an
// implementation backed by the ffmpeg command line tools.
package decoder

import (
	"context"
	"errors"
	"time"

	"github.com/austinkregel/local-media/playerd/internal/types"
)

// ErrClosed is returned by every call on a decoder after Close
var ErrClosed = errors.New("decoder: closed")

// ProbeOptions selects which streams the caller wants
type ProbeOptions struct {
	WantAudio bool
	WantVideo bool
	// HardwareAccelerationCandidates are tried in order; the first one the
	// decoder supports is recorded on the video format.
	HardwareAccelerationCandidates []types.HardwareAcceleration
}

// Opener probes locations and opens per-stream decoders
type Opener interface {
	// Probe determines stream formats without decoding
	Probe(ctx context.Context, location string, opts ProbeOptions) (types.Media, error)
	// OpenAudio opens a decoder producing PCM in the given output format
	OpenAudio(ctx context.Context, media types.Media, format types.AudioFormat) (AudioDecoder, error)
	// OpenVideo opens a decoder producing RGBA frames of the media's video format
	OpenVideo(ctx context.Context, media types.Media) (VideoDecoder, error)
}

// Decoder is the part shared by audio and video decoders.
// Close may be called once; any call after that returns ErrClosed.
type Decoder interface {
	SeekTo(ctx context.Context, timestamp time.Duration, keyFramesOnly bool) error
	Reset(ctx context.Context) error
	Close() error
}

// AudioDecoder yields *types.AudioFrame values followed by types.EndOfStream
type AudioDecoder interface {
	Decoder
	DecodeAudio(ctx context.Context) (types.Frame, error)
}

// VideoDecoder decodes into caller-provided storage and yields
// *types.VideoFrame values followed by types.EndOfStream
type VideoDecoder interface {
	Decoder
	DecodeVideo(ctx context.Context, buf *types.VideoBuffer) (types.Frame, error)
}
