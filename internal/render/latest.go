// Package render holds the video frame sink used by the daemon.
package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"sync"
	"time"

	"github.com/austinkregel/local-media/playerd/internal/types"
)

// ErrNoFrame is returned by Snapshot before anything was rendered
var ErrNoFrame = errors.New("render: no frame rendered yet")

// Latest keeps a copy of the most recently rendered frame.
// The loop owns the frame's buffer, so Render copies the pixels out.
type Latest struct {
	mu        sync.RWMutex
	img       *image.RGBA
	timestamp time.Duration
	rendered  uint64
}

// NewLatest creates an empty renderer
func NewLatest() *Latest {
	return &Latest{}
}

// Render copies frame into the renderer
func (l *Latest) Render(_ context.Context, frame *types.VideoFrame) error {
	if frame == nil || frame.Buffer == nil {
		return errors.New("render: frame without buffer")
	}
	size := frame.Width * frame.Height * 4
	if size <= 0 || len(frame.Buffer.Data) < size {
		return fmt.Errorf("render: %dx%d frame needs %d bytes, buffer holds %d",
			frame.Width, frame.Height, size, len(frame.Buffer.Data))
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.img == nil || l.img.Rect.Dx() != frame.Width || l.img.Rect.Dy() != frame.Height {
		l.img = image.NewRGBA(image.Rect(0, 0, frame.Width, frame.Height))
	}
	copy(l.img.Pix, frame.Buffer.Data[:size])
	l.timestamp = frame.Timestamp
	l.rendered++
	return nil
}

// Snapshot returns a copy of the latest frame and its timestamp
func (l *Latest) Snapshot() (*image.RGBA, time.Duration, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.img == nil {
		return nil, 0, ErrNoFrame
	}
	img := image.NewRGBA(l.img.Rect)
	copy(img.Pix, l.img.Pix)
	return img, l.timestamp, nil
}

// EncodePNG writes the latest frame as PNG
func (l *Latest) EncodePNG(w io.Writer) (time.Duration, error) {
	img, ts, err := l.Snapshot()
	if err != nil {
		return 0, err
	}
	if err := png.Encode(w, img); err != nil {
		return 0, fmt.Errorf("encode snapshot: %w", err)
	}
	return ts, nil
}

// Rendered returns how many frames were rendered
func (l *Latest) Rendered() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.rendered
}

// Reset forgets the latest frame
func (l *Latest) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.img = nil
	l.timestamp = 0
}
