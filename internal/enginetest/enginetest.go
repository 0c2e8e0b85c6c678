// Package enginetest provides deterministic in-memory decoders, samplers and
// renderers for exercising the playback engine without ffmpeg or a sound card.
package enginetest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"

	"github.com/austinkregel/local-media/playerd/internal/audio"
	"github.com/austinkregel/local-media/playerd/internal/decoder"
	"github.com/austinkregel/local-media/playerd/internal/types"
)

// ErrDecode is the error injected by FailAt
var ErrDecode = errors.New("enginetest: injected decode failure")

// NewMedia describes synthetic media. Zero frame counts leave a stream out.
func NewMedia(audioFrames, videoFrames int, interval time.Duration) types.Media {
	frames := max(audioFrames, videoFrames)
	m := types.Media{
		ID:       uuid.NewString(),
		Location: "test://media",
		Duration: time.Duration(frames) * interval,
	}
	if audioFrames > 0 {
		m.Audio = mo.Some(types.AudioFormat{SampleRate: 8000, Channels: 1})
	}
	if videoFrames > 0 {
		m.Video = mo.Some(types.VideoFormat{
			Width:                2,
			Height:               2,
			FrameRate:            float64(time.Second) / float64(interval),
			HardwareAcceleration: types.HardwareAccelerationNone,
			BufferCapacity:       2 * 2 * 4,
		})
	}
	return m
}

// Opener hands out Decoders producing a fixed number of frames
type Opener struct {
	Media       types.Media
	AudioFrames int
	VideoFrames int
	// Interval is the timestamp step between consecutive frames
	Interval time.Duration

	ProbeErr     error
	OpenAudioErr error
	OpenVideoErr error
	// AudioFailAt and VideoFailAt make decoding fail at that frame index; -1 disables
	AudioFailAt int
	VideoFailAt int
	// Gate, when set, must yield a value before each decode
	Gate chan struct{}

	mu    sync.Mutex
	audio []*Decoder
	video []*Decoder
}

// NewOpener creates an opener for NewMedia(audioFrames, videoFrames, interval)
func NewOpener(audioFrames, videoFrames int, interval time.Duration) *Opener {
	return &Opener{
		Media:       NewMedia(audioFrames, videoFrames, interval),
		AudioFrames: audioFrames,
		VideoFrames: videoFrames,
		Interval:    interval,
		AudioFailAt: -1,
		VideoFailAt: -1,
	}
}

// Probe returns o.Media at location filtered by opts. Like the ffmpeg
// opener, the id is derived from the location.
func (o *Opener) Probe(_ context.Context, location string, opts decoder.ProbeOptions) (types.Media, error) {
	if o.ProbeErr != nil {
		return types.Media{}, o.ProbeErr
	}
	m := o.Media
	m.ID = uuid.NewSHA1(uuid.NameSpaceURL, []byte(location)).String()
	m.Location = location
	if !opts.WantAudio {
		m.Audio = mo.None[types.AudioFormat]()
	}
	if !opts.WantVideo {
		m.Video = mo.None[types.VideoFormat]()
	}
	return m, m.Validate()
}

// OpenAudio opens an audio decoder
func (o *Opener) OpenAudio(_ context.Context, _ types.Media, format types.AudioFormat) (decoder.AudioDecoder, error) {
	if o.OpenAudioErr != nil {
		return nil, o.OpenAudioErr
	}
	d := &Decoder{
		frames:   o.AudioFrames,
		interval: o.Interval,
		failAt:   o.AudioFailAt,
		gate:     o.Gate,
		chunk:    max(format.BytesFor(o.Interval), format.FrameSize()),
	}
	o.mu.Lock()
	o.audio = append(o.audio, d)
	o.mu.Unlock()
	return d, nil
}

// OpenVideo opens a video decoder
func (o *Opener) OpenVideo(_ context.Context, media types.Media) (decoder.VideoDecoder, error) {
	if o.OpenVideoErr != nil {
		return nil, o.OpenVideoErr
	}
	format := media.Video.OrEmpty()
	d := &Decoder{
		frames:   o.VideoFrames,
		interval: o.Interval,
		failAt:   o.VideoFailAt,
		gate:     o.Gate,
		width:    format.Width,
		height:   format.Height,
	}
	o.mu.Lock()
	o.video = append(o.video, d)
	o.mu.Unlock()
	return d, nil
}

// AudioDecoders returns every audio decoder opened so far
func (o *Opener) AudioDecoders() []*Decoder {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*Decoder(nil), o.audio...)
}

// VideoDecoders returns every video decoder opened so far
func (o *Opener) VideoDecoders() []*Decoder {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*Decoder(nil), o.video...)
}

// Decoder yields frames index*interval for index in [0, frames) and then
// EndOfStream. It serves as both audio and video decoder.
type Decoder struct {
	mu       sync.Mutex
	frames   int
	interval time.Duration
	failAt   int
	gate     chan struct{}
	chunk    int
	width    int
	height   int

	next    int
	closed  bool
	decoded int
	seeks   []time.Duration
	resets  int
}

func (d *Decoder) wait(ctx context.Context) error {
	if d.gate == nil {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-d.gate:
		return nil
	}
}

// advance returns the index of the next frame, or -1 at end of stream
func (d *Decoder) advance(ctx context.Context) (int, error) {
	if err := d.wait(ctx); err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return 0, decoder.ErrClosed
	}
	if d.next == d.failAt {
		return 0, ErrDecode
	}
	if d.next >= d.frames {
		return -1, nil
	}
	idx := d.next
	d.next++
	d.decoded++
	return idx, nil
}

// DecodeAudio returns the next audio frame
func (d *Decoder) DecodeAudio(ctx context.Context) (types.Frame, error) {
	idx, err := d.advance(ctx)
	if err != nil {
		return nil, err
	}
	if idx < 0 {
		return types.EndOfStream{}, nil
	}
	samples := make([]byte, d.chunk)
	samples[0] = byte(idx)
	return &types.AudioFrame{Timestamp: time.Duration(idx) * d.interval, Samples: samples}, nil
}

// DecodeVideo fills buf and returns the next video frame
func (d *Decoder) DecodeVideo(ctx context.Context, buf *types.VideoBuffer) (types.Frame, error) {
	idx, err := d.advance(ctx)
	if err != nil {
		return nil, err
	}
	if idx < 0 {
		return types.EndOfStream{}, nil
	}
	if len(buf.Data) > 0 {
		buf.Data[0] = byte(idx)
	}
	return &types.VideoFrame{
		Timestamp: time.Duration(idx) * d.interval,
		Width:     d.width,
		Height:    d.height,
		Buffer:    buf,
	}, nil
}

// SeekTo positions the decoder at the first frame at or after timestamp
func (d *Decoder) SeekTo(_ context.Context, timestamp time.Duration, _ bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return decoder.ErrClosed
	}
	d.seeks = append(d.seeks, timestamp)
	if d.interval > 0 {
		d.next = int((timestamp + d.interval - 1) / d.interval)
	}
	return nil
}

// Reset rewinds to the first frame
func (d *Decoder) Reset(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return decoder.ErrClosed
	}
	d.next = 0
	d.resets++
	return nil
}

// Close fails with decoder.ErrClosed when called twice
func (d *Decoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return decoder.ErrClosed
	}
	d.closed = true
	return nil
}

// Closed reports whether Close was called
func (d *Decoder) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Decoded returns the number of content frames produced
func (d *Decoder) Decoded() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.decoded
}

// Seeks returns every timestamp passed to SeekTo
func (d *Decoder) Seeks() []time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]time.Duration(nil), d.seeks...)
}

// Resets returns how many times Reset was called
func (d *Decoder) Resets() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.resets
}

// Write is one recorded Sampler.Write call
type Write struct {
	Samples []byte
	Volume  float64
	Speed   float64
}

// Sampler records what it is asked to play
type Sampler struct {
	mu      sync.Mutex
	format  types.AudioFormat
	latency time.Duration
	writes  []Write
	drains  int
	flushes int
	started int
	pauses  int
	closed  bool
	gate    chan struct{}
}

// NewSampler creates a sampler reporting latency from Start
func NewSampler(format types.AudioFormat, latency time.Duration) *Sampler {
	return &Sampler{format: format, latency: latency}
}

// Factory returns an audio.Factory that records each created sampler
func Factory(latency time.Duration, created *[]*Sampler) audio.Factory {
	var mu sync.Mutex
	return func(source types.AudioFormat) (audio.Sampler, error) {
		s := NewSampler(source, latency)
		if created != nil {
			mu.Lock()
			*created = append(*created, s)
			mu.Unlock()
		}
		return s, nil
	}
}

// Format returns the format the sampler was created with
func (s *Sampler) Format() types.AudioFormat {
	return s.format
}

// Start returns the configured latency
func (s *Sampler) Start(context.Context) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, audio.ErrClosed
	}
	s.started++
	return s.latency, nil
}

// Pause counts the call
func (s *Sampler) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return audio.ErrClosed
	}
	s.pauses++
	return nil
}

// SetWriteGate makes every Write wait for a value from gate first, like a
// full device queue. nil removes the gate.
func (s *Sampler) SetWriteGate(gate chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gate = gate
}

// Write records samples. A cancelled Write records nothing.
func (s *Sampler) Write(ctx context.Context, samples []byte, volume, speed float64) error {
	s.mu.Lock()
	gate := s.gate
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-ctx.Done():
		case <-gate:
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return audio.ErrClosed
	}
	s.writes = append(s.writes, Write{Samples: samples, Volume: volume, Speed: speed})
	return nil
}

// Drain counts the call
func (s *Sampler) Drain(ctx context.Context, _, _ float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return audio.ErrClosed
	}
	s.drains++
	return nil
}

// Flush counts the call
func (s *Sampler) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return audio.ErrClosed
	}
	s.flushes++
	return nil
}

// Close marks the sampler closed
func (s *Sampler) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Writes returns every recorded write
func (s *Sampler) Writes() []Write {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Write(nil), s.writes...)
}

// Drains returns the number of Drain calls
func (s *Sampler) Drains() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drains
}

// Pauses returns the number of Pause calls
func (s *Sampler) Pauses() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pauses
}

// Flushes returns the number of Flush calls
func (s *Sampler) Flushes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushes
}

// Closed reports whether Close was called
func (s *Sampler) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Rendered is one recorded render call
type Rendered struct {
	Timestamp time.Duration
	// First is the first byte of the frame's storage at render time
	First byte
}

// Renderer records rendered frames
type Renderer struct {
	mu     sync.Mutex
	frames []Rendered
	// Err is returned from every Render call when set
	Err error
}

// Render records frame
func (r *Renderer) Render(_ context.Context, frame *types.VideoFrame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var first byte
	if frame.Buffer != nil && len(frame.Buffer.Data) > 0 {
		first = frame.Buffer.Data[0]
	}
	r.frames = append(r.frames, Rendered{Timestamp: frame.Timestamp, First: first})
	return r.Err
}

// Frames returns every rendered frame
func (r *Renderer) Frames() []Rendered {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Rendered(nil), r.frames...)
}

var (
	_ decoder.Opener       = (*Opener)(nil)
	_ decoder.AudioDecoder = (*Decoder)(nil)
	_ decoder.VideoDecoder = (*Decoder)(nil)
	_ audio.Sampler        = (*Sampler)(nil)
)
