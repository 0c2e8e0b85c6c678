package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/austinkregel/local-media/playerd/internal/types"
)

func TestApplyVolume(t *testing.T) {
	tests := []struct {
		name     string
		volume   float64
		input    []byte
		expected []byte
	}{
		{
			name:     "full volume passthrough",
			volume:   1.0,
			input:    []byte{0x00, 0x10, 0xFF, 0x7F},
			expected: []byte{0x00, 0x10, 0xFF, 0x7F},
		},
		{
			name:     "half volume",
			volume:   0.5,
			input:    []byte{0x00, 0x10, 0xFE, 0x7F}, // 4096, 32766
			expected: []byte{0x00, 0x08, 0xFF, 0x3F}, // 2048, 16383
		},
		{
			name:     "zero volume",
			volume:   0.0,
			input:    []byte{0xFF, 0x7F, 0x00, 0x80},
			expected: []byte{0x00, 0x00, 0x00, 0x00},
		},
		{
			name:     "negative volume is silence",
			volume:   -1,
			input:    []byte{0x10, 0x00},
			expected: []byte{0x00, 0x00},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := bytes.Clone(tt.input)
			applyVolume(data, tt.volume)
			if !bytes.Equal(data, tt.expected) {
				t.Errorf("Expected % X, got % X", tt.expected, data)
			}
		})
	}
}

func pcmFrames(n int) []byte {
	// Stereo frames whose left sample is the frame index.
	out := make([]byte, n*4)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(out[i*4:], uint16(i))
	}
	return out
}

func TestTimeStretch(t *testing.T) {
	in := pcmFrames(100)

	if got := timeStretch(in, 1.0, 4); &got[0] != &in[0] {
		t.Error("Expected unity speed to return the input")
	}

	fast := timeStretch(in, 2.0, 4)
	if len(fast) != 50*4 {
		t.Fatalf("Expected 50 frames at 2x, got %d", len(fast)/4)
	}
	if got := binary.LittleEndian.Uint16(fast[10*4:]); got != 20 {
		t.Errorf("Expected frame 10 to come from source frame 20, got %d", got)
	}

	slow := timeStretch(in, 0.5, 4)
	if len(slow) != 200*4 {
		t.Fatalf("Expected 200 frames at 0.5x, got %d", len(slow)/4)
	}
	if got := binary.LittleEndian.Uint16(slow[199*4:]); got != 99 {
		t.Errorf("Expected last frame to repeat source frame 99, got %d", got)
	}
}

func TestAnalyzerDetectsTone(t *testing.T) {
	const rate = 44100
	a := NewAnalyzer(rate, 1)

	var pushed [][]uint8
	a.SetCallback(func(b []uint8) { pushed = append(pushed, b) })

	// 1kHz sine, two full windows
	data := make([]byte, 2*fftSize*2)
	for i := 0; i < 2*fftSize; i++ {
		v := int16(math.Sin(2*math.Pi*1000*float64(i)/rate) * 20000)
		binary.LittleEndian.PutUint16(data[i*2:], uint16(v))
	}
	a.ProcessSamples(data)

	if !a.Ready() {
		t.Fatal("Expected analyzer to be ready after a full window")
	}
	if len(pushed) != 2 {
		t.Errorf("Expected 2 callback pushes, got %d", len(pushed))
	}

	bands := a.Bands()
	peak := 0
	for i, v := range bands {
		if v > bands[peak] {
			peak = i
		}
	}
	// 1kHz sits roughly 57% of the way up a 20Hz-20kHz log scale.
	if peak < NumBands/2-10 || peak > NumBands/2+20 {
		t.Errorf("Expected peak near the middle bands, got band %d", peak)
	}

	a.Reset()
	if a.Ready() {
		t.Error("Expected Reset to clear readiness")
	}
	for _, v := range a.Bands() {
		if v != 0 {
			t.Fatal("Expected zero bands after Reset")
		}
	}
}

func TestOtoSamplerQueueWithoutDevice(t *testing.T) {
	// The queue logic is exercised without opening a real device.
	s := &OtoSampler{
		format:   types.AudioFormat{SampleRate: 1000, Channels: 1},
		maxBytes: 8,
	}

	ctx := context.Background()
	if err := s.Write(ctx, []byte{1, 0, 2, 0}, 1, 1); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := s.Write(ctx, []byte{3, 0, 4, 0, 5, 0, 6, 0}, 1, 1); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	// Queue is over its bound, so the next write waits until cancelled.
	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := s.Write(short, []byte{7, 0}, 1, 1); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected write to block, got %v", err)
	}

	p := make([]byte, 4)
	if n, _ := s.Read(p); n != 4 || p[0] != 1 {
		t.Errorf("Expected queued samples from Read, got %d bytes % X", n, p)
	}

	if err := s.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	// Empty queue reads as silence.
	p = []byte{9, 9}
	if n, _ := s.Read(p); n != 2 || p[0] != 0 || p[1] != 0 {
		t.Errorf("Expected silence, got % X", p)
	}

	if err := s.Drain(ctx, 1, 1); err != nil {
		t.Errorf("Drain on empty queue failed: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := s.Write(ctx, []byte{1, 0}, 1, 1); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed after Close, got %v", err)
	}
	if _, err := s.Start(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed from Start, got %v", err)
	}
}

func TestOtoSamplerWriteDoesNotMutateInput(t *testing.T) {
	s := &OtoSampler{
		format:   types.AudioFormat{SampleRate: 1000, Channels: 1},
		maxBytes: 64,
	}
	in := []byte{0x00, 0x10}
	if err := s.Write(context.Background(), in, 0.5, 1); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if in[1] != 0x10 {
		t.Error("Expected caller samples to be left untouched")
	}
}

func TestOtoSamplerPauseKeepsQueue(t *testing.T) {
	s := &OtoSampler{
		format:   types.AudioFormat{SampleRate: 1000, Channels: 1},
		maxBytes: 64,
	}
	ctx := context.Background()
	if _, err := s.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := s.Write(ctx, []byte{1, 0, 2, 0}, 1, 1); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	if err := s.Pause(); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	if s.playing {
		t.Error("Expected Pause to stop output")
	}
	if s.buffer.Len() != 4 {
		t.Errorf("Expected queued samples to survive Pause, got %d bytes", s.buffer.Len())
	}

	if _, err := s.Start(ctx); err != nil {
		t.Fatalf("Start after Pause failed: %v", err)
	}
	if !s.playing {
		t.Error("Expected Start to resume output")
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := s.Pause(); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed from Pause, got %v", err)
	}
}
