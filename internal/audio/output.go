package audio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/hajimehoshi/oto/v2"
	"github.com/sirupsen/logrus"

	"github.com/austinkregel/local-media/playerd/internal/logging"
	"github.com/austinkregel/local-media/playerd/internal/types"
)

const (
	bitDepth = 2 // 16-bit = 2 bytes

	// maxBuffered bounds queued audio so the analyzer and the clock stay
	// close to what the user hears
	maxBuffered = 100 * time.Millisecond

	// deviceLatency approximates oto's own buffering below our queue
	deviceLatency = 20 * time.Millisecond

	writePoll = 5 * time.Millisecond
)

// DefaultFormat is used when no output format is configured
var DefaultFormat = types.AudioFormat{SampleRate: 44100, Channels: 2}

// oto allows a single context per process, so every sampler shares one
// device opened with the first requested format.
var device struct {
	once   sync.Once
	ctx    *oto.Context
	format types.AudioFormat
	err    error
}

func openDevice(format types.AudioFormat) (*oto.Context, error) {
	device.once.Do(func() {
		ctx, ready, err := oto.NewContext(format.SampleRate, format.Channels, bitDepth)
		if err != nil {
			device.err = fmt.Errorf("failed to create oto context: %w", err)
			return
		}
		<-ready
		device.ctx = ctx
		device.format = format
	})
	if device.err != nil {
		return nil, device.err
	}
	if device.format != format {
		return nil, fmt.Errorf("audio device already open at %dHz/%dch", device.format.SampleRate, device.format.Channels)
	}
	return device.ctx, nil
}

// OtoSampler is a Sampler writing to the system audio device through oto
type OtoSampler struct {
	mu       sync.Mutex
	format   types.AudioFormat
	player   oto.Player
	buffer   bytes.Buffer
	maxBytes int
	playing  bool
	closed   bool
	analyzer *Analyzer
	log      *logrus.Entry
}

// NewOtoSampler creates a sampler on the shared device. analyzer may be nil.
func NewOtoSampler(format types.AudioFormat, analyzer *Analyzer, log *logrus.Entry) (*OtoSampler, error) {
	ctx, err := openDevice(format)
	if err != nil {
		return nil, err
	}

	s := &OtoSampler{
		format:   format,
		maxBytes: format.BytesFor(maxBuffered),
		analyzer: analyzer,
		log:      logging.OrDefault(log, "sampler"),
	}
	s.player = ctx.NewPlayer(s)
	return s, nil
}

// NewOtoFactory returns a Factory producing samplers in a fixed output
// format; decoders resample to it.
func NewOtoFactory(format types.AudioFormat, analyzer *Analyzer, log *logrus.Entry) Factory {
	return func(types.AudioFormat) (Sampler, error) {
		return NewOtoSampler(format, analyzer, log)
	}
}

// Read implements io.Reader for the oto player
func (s *OtoSampler) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, io.EOF
	}

	// Keep the device fed with silence while nothing is queued.
	if s.buffer.Len() == 0 {
		clear(p)
		return len(p), nil
	}

	n, err := s.buffer.Read(p)
	if err != nil {
		return n, err
	}
	if s.analyzer != nil && n > 0 {
		s.analyzer.ProcessSamples(p[:n])
	}
	return n, nil
}

// Format returns the device PCM format
func (s *OtoSampler) Format() types.AudioFormat {
	return s.format
}

// Start begins or resumes device playback and reports the output latency
func (s *OtoSampler) Start(_ context.Context) (time.Duration, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, ErrClosed
	}
	resume := !s.playing
	s.playing = true
	player := s.player
	s.mu.Unlock()

	// The player reads through s.Read, so it is driven without holding s.mu.
	if resume && player != nil {
		player.Play()
		s.log.WithField("format", fmt.Sprintf("%dHz/%dch", s.format.SampleRate, s.format.Channels)).Debug("output started")
	}
	return s.format.DurationOf(s.maxBytes) + deviceLatency, nil
}

// Pause stops the device. Queued samples play after the next Start.
func (s *OtoSampler) Pause() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	pause := s.playing
	s.playing = false
	player := s.player
	s.mu.Unlock()

	if pause && player != nil {
		player.Pause()
		s.log.Debug("output paused")
	}
	return nil
}

// Write queues PCM, blocking while the queue is full
func (s *OtoSampler) Write(ctx context.Context, samples []byte, volume, speed float64) error {
	data := timeStretch(samples, speed, s.format.FrameSize())
	if volume < 1.0 {
		if len(data) > 0 && &data[0] == &samples[0] {
			data = bytes.Clone(data)
		}
		applyVolume(data, volume)
	}

	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return ErrClosed
		}
		if s.buffer.Len() < s.maxBytes {
			s.buffer.Write(data)
			s.mu.Unlock()
			return nil
		}
		s.mu.Unlock()

		if err := sleep(ctx, writePoll); err != nil {
			return err
		}
	}
}

// Drain waits for queued samples to reach the device
func (s *OtoSampler) Drain(ctx context.Context, _, _ float64) error {
	for {
		s.mu.Lock()
		closed, queued := s.closed, s.buffer.Len()
		s.mu.Unlock()

		if closed {
			return ErrClosed
		}
		if queued == 0 {
			return sleep(ctx, deviceLatency)
		}
		if err := sleep(ctx, writePoll); err != nil {
			return err
		}
	}
}

// Flush drops queued samples
func (s *OtoSampler) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	s.buffer.Reset()
	if s.analyzer != nil {
		s.analyzer.Reset()
	}
	return nil
}

// Close stops the player. The shared device stays open.
func (s *OtoSampler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.buffer.Reset()
	player := s.player
	s.mu.Unlock()

	// The player reads through s.Read, so it is closed without holding s.mu.
	if player != nil {
		return player.Close()
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var (
	_ Sampler   = (*OtoSampler)(nil)
	_ io.Reader = (*OtoSampler)(nil)
)
