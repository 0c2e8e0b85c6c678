package decoder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/austinkregel/local-media/playerd/internal/logging"
	"github.com/austinkregel/local-media/playerd/internal/types"
)

// audioChunk is the duration of PCM returned by one DecodeAudio call
const audioChunk = 20 * time.Millisecond

// FFmpeg opens media through ffprobe and ffmpeg subprocesses
type FFmpeg struct {
	tc  *Toolchain
	log *logrus.Entry
}

// NewFFmpeg creates an Opener using the process-wide toolchain
func NewFFmpeg(log *logrus.Entry) (*FFmpeg, error) {
	tc, err := Load()
	if err != nil {
		return nil, err
	}
	return &FFmpeg{tc: tc, log: logging.OrDefault(log, "decoder")}, nil
}

// Probe runs ffprobe on the location
func (f *FFmpeg) Probe(ctx context.Context, location string, opts ProbeOptions) (types.Media, error) {
	out, err := exec.CommandContext(ctx, f.tc.FFprobe, probeArgs(location)...).Output()
	if err != nil {
		if ctx.Err() != nil {
			return types.Media{}, ctx.Err()
		}
		return types.Media{}, fmt.Errorf("ffprobe failed: %w", err)
	}

	media, err := parseProbe(location, out, opts, f.tc.HWAccels)
	if err != nil {
		return types.Media{}, err
	}
	f.log.WithFields(logrus.Fields{
		"location": location,
		"duration": media.Duration,
		"audio":    media.Audio.IsPresent(),
		"video":    media.Video.IsPresent(),
	}).Debug("probed media")
	return media, nil
}

// OpenAudio opens an s16le PCM stream resampled to format
func (f *FFmpeg) OpenAudio(_ context.Context, media types.Media, format types.AudioFormat) (AudioDecoder, error) {
	if media.Audio.IsAbsent() {
		return nil, fmt.Errorf("%s has no audio stream", media.Location)
	}
	if format.SampleRate <= 0 || format.Channels <= 0 {
		return nil, fmt.Errorf("invalid output format %dHz/%dch", format.SampleRate, format.Channels)
	}
	d := &audioDecoder{
		stream: newStream(f.tc.FFmpeg, media.Location, f.log.WithField("stream", "audio")),
		format: format,
		chunk:  format.BytesFor(audioChunk),
	}
	d.args = d.buildArgs
	d.cleanup = runtime.AddCleanup(d, killProcess, d.ref)
	return d, nil
}

// OpenVideo opens a raw RGBA frame stream
func (f *FFmpeg) OpenVideo(_ context.Context, media types.Media) (VideoDecoder, error) {
	format, ok := media.Video.Get()
	if !ok {
		return nil, fmt.Errorf("%s has no video stream", media.Location)
	}
	d := &videoDecoder{
		stream: newStream(f.tc.FFmpeg, media.Location, f.log.WithField("stream", "video")),
		format: format,
	}
	d.args = d.buildArgs
	d.cleanup = runtime.AddCleanup(d, killProcess, d.ref)
	return d, nil
}

// killProcess is the runtime cleanup for a decoder collected without Close
func killProcess(ref *processRef) {
	ref.kill()
}

// stream is the process lifecycle shared by the audio and video decoders.
// The process is started lazily from the current seek origin and restarted
// there after a cancelled read.
type stream struct {
	mu            sync.Mutex
	ffmpeg        string
	location      string
	origin        time.Duration // seek position the process started at
	consumed      int64         // units decoded since origin
	keyFramesOnly bool
	eof           bool
	closed        bool
	ref           *processRef
	cleanup       runtime.Cleanup
	args          func(origin time.Duration, keyFramesOnly bool) []string
	log           *logrus.Entry
}

func newStream(ffmpeg, location string, log *logrus.Entry) stream {
	return stream{ffmpeg: ffmpeg, location: location, ref: &processRef{}, log: logging.OrDefault(log, "decoder")}
}

// process returns the running process, starting one if needed. Caller holds s.mu.
func (s *stream) process() (*process, error) {
	s.ref.mu.Lock()
	p := s.ref.proc
	s.ref.mu.Unlock()
	if p != nil {
		return p, nil
	}

	p, err := startProcess(s.ffmpeg, s.args(s.origin, s.keyFramesOnly))
	if err != nil {
		return nil, err
	}
	s.ref.set(p)
	return p, nil
}

// restartAt drops the process so the next decode starts from origin. Caller holds s.mu.
func (s *stream) restartAt(origin time.Duration, keyFramesOnly bool) {
	s.ref.kill()
	s.origin = origin
	s.consumed = 0
	s.keyFramesOnly = keyFramesOnly
	s.eof = false
}

// readChunk reads exactly len(buf) bytes unless the stream ends. It returns
// io.EOF only when nothing was read and ffmpeg exited cleanly.
func (s *stream) readChunk(ctx context.Context, buf []byte, resume func() time.Duration) (int, error) {
	p, err := s.process()
	if err != nil {
		return 0, err
	}

	n, err := p.read(ctx, buf)
	switch {
	case err == nil:
		return n, nil
	case ctx.Err() != nil:
		// The process was killed to interrupt the read; resume where the
		// last delivered frame ended.
		s.restartAt(resume(), s.keyFramesOnly)
		return 0, ctx.Err()
	case errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF):
		s.eof = true
		s.ref.set(nil)
		if ferr := p.finish(); ferr != nil {
			return n, ferr
		}
		if n == 0 {
			return 0, io.EOF
		}
		return n, nil
	default:
		s.ref.kill()
		return n, fmt.Errorf("failed to read ffmpeg output: %w", err)
	}
}

func (s *stream) seekTo(timestamp time.Duration, keyFramesOnly bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if timestamp < 0 {
		timestamp = 0
	}
	s.restartAt(timestamp, keyFramesOnly)
	s.log.WithField("position", timestamp).Debug("seek")
	return nil
}

func (s *stream) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.closed = true
	s.cleanup.Stop()
	s.ref.kill()
	return nil
}

// inputArgs are the options placed before -i for every stream
func inputArgs(origin time.Duration, keyFramesOnly bool) []string {
	args := []string{"-hide_banner", "-nostdin", "-v", "error"}
	if origin > 0 {
		args = append(args, "-ss", strconv.FormatFloat(origin.Seconds(), 'f', 3, 64))
		if keyFramesOnly {
			args = append(args, "-noaccurate_seek")
		}
	}
	return args
}

type audioDecoder struct {
	stream
	format types.AudioFormat
	chunk  int
}

func (d *audioDecoder) buildArgs(origin time.Duration, keyFramesOnly bool) []string {
	args := inputArgs(origin, keyFramesOnly)
	return append(args,
		"-i", d.location,
		"-map", "0:a:0",
		"-vn",
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ac", strconv.Itoa(d.format.Channels),
		"-ar", strconv.Itoa(d.format.SampleRate),
		"-",
	)
}

// position is the timestamp of the next undelivered sample. Caller holds d.mu.
func (d *audioDecoder) position() time.Duration {
	return d.origin + d.format.DurationOf(int(d.consumed))
}

// DecodeAudio returns the next PCM chunk or EndOfStream
func (d *audioDecoder) DecodeAudio(ctx context.Context) (types.Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrClosed
	}
	if d.eof {
		return types.EndOfStream{}, nil
	}

	buf := make([]byte, d.chunk)
	n, err := d.readChunk(ctx, buf, d.position)
	if errors.Is(err, io.EOF) {
		return types.EndOfStream{}, nil
	}
	if err != nil {
		return nil, err
	}

	n -= n % d.format.FrameSize()
	if n == 0 {
		return types.EndOfStream{}, nil
	}
	frame := &types.AudioFrame{Timestamp: d.position(), Samples: buf[:n]}
	d.consumed += int64(n)
	return frame, nil
}

func (d *audioDecoder) SeekTo(_ context.Context, timestamp time.Duration, keyFramesOnly bool) error {
	return d.seekTo(timestamp, keyFramesOnly)
}

func (d *audioDecoder) Reset(_ context.Context) error {
	return d.seekTo(0, false)
}

func (d *audioDecoder) Close() error {
	return d.close()
}

type videoDecoder struct {
	stream
	format types.VideoFormat
}

func (d *videoDecoder) buildArgs(origin time.Duration, keyFramesOnly bool) []string {
	var args []string
	if d.format.HardwareAcceleration != "" && d.format.HardwareAcceleration != types.HardwareAccelerationNone {
		args = append(args, "-hwaccel", string(d.format.HardwareAcceleration))
	}
	args = append(args, inputArgs(origin, keyFramesOnly)...)
	return append(args,
		"-i", d.location,
		"-map", "0:v:0",
		"-an",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-r", strconv.FormatFloat(d.format.FrameRate, 'f', -1, 64),
		"-",
	)
}

// position is the timestamp of the next undelivered frame. Caller holds d.mu.
func (d *videoDecoder) position() time.Duration {
	return d.origin + time.Duration(float64(d.consumed)*float64(time.Second)/d.format.FrameRate)
}

// DecodeVideo decodes the next frame into buf or returns EndOfStream
func (d *videoDecoder) DecodeVideo(ctx context.Context, buf *types.VideoBuffer) (types.Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrClosed
	}
	if d.eof {
		return types.EndOfStream{}, nil
	}
	size := d.format.BufferCapacity
	if buf == nil || len(buf.Data) < size {
		return nil, fmt.Errorf("video buffer too small for %dx%d frame", d.format.Width, d.format.Height)
	}

	n, err := d.readChunk(ctx, buf.Data[:size], d.position)
	if errors.Is(err, io.EOF) {
		return types.EndOfStream{}, nil
	}
	if err != nil {
		return nil, err
	}
	if n < size {
		// A truncated final frame cannot be displayed.
		return types.EndOfStream{}, nil
	}

	frame := &types.VideoFrame{
		Timestamp: d.position(),
		Width:     d.format.Width,
		Height:    d.format.Height,
		Buffer:    buf,
	}
	d.consumed++
	return frame, nil
}

func (d *videoDecoder) SeekTo(_ context.Context, timestamp time.Duration, keyFramesOnly bool) error {
	return d.seekTo(timestamp, keyFramesOnly)
}

func (d *videoDecoder) Reset(_ context.Context) error {
	return d.seekTo(0, false)
}

func (d *videoDecoder) Close() error {
	return d.close()
}

var (
	_ Opener       = (*FFmpeg)(nil)
	_ AudioDecoder = (*audioDecoder)(nil)
	_ VideoDecoder = (*videoDecoder)(nil)
)
