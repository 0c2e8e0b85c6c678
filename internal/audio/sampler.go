// Package audio provides the PCM output side of playback: the Sampler
// contract, an oto-backed device sampler and a spectrum analyzer.
package audio

import (
	"context"
	"errors"
	"time"

	"github.com/austinkregel/local-media/playerd/internal/types"
)

// ErrClosed is returned by a sampler after Close
var ErrClosed = errors.New("audio: sampler closed")

// Sampler plays s16le PCM in its own output format
type Sampler interface {
	// Format is the PCM layout Write expects
	Format() types.AudioFormat
	// Start begins or resumes output and returns the device latency
	Start(ctx context.Context) (time.Duration, error)
	// Pause stops output, keeping queued samples for the next Start
	Pause() error
	// Write queues samples after scaling by volume and stretching by speed
	Write(ctx context.Context, samples []byte, volume, speed float64) error
	// Drain waits until queued samples have been played
	Drain(ctx context.Context, volume, speed float64) error
	// Flush discards queued samples
	Flush() error
	Close() error
}

// Factory creates a sampler for media of the given source format
type Factory func(source types.AudioFormat) (Sampler, error)
