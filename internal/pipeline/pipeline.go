// Package pipeline bundles the decoders, buffers, pool and sampler that back
// one prepared media session.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/samber/mo"
	"go.uber.org/multierr"

	"github.com/austinkregel/local-media/playerd/internal/audio"
	"github.com/austinkregel/local-media/playerd/internal/buffer"
	"github.com/austinkregel/local-media/playerd/internal/decoder"
	"github.com/austinkregel/local-media/playerd/internal/types"
)

// ErrNoStreams is returned when options and media leave no stream to play
var ErrNoStreams = errors.New("pipeline: no stream selected")

// Audio is the audio half of a pipeline
type Audio struct {
	Decoder decoder.AudioDecoder
	Buffer  *buffer.Buffer[types.Frame]
	Sampler audio.Sampler

	held carry
}

// Video is the video half of a pipeline. Every *types.VideoFrame in Buffer
// or held for the next run owns storage acquired from Pool.
type Video struct {
	Decoder decoder.VideoDecoder
	Pool    *buffer.Pool[*types.VideoBuffer]
	Buffer  *buffer.Buffer[types.Frame]

	held carry
}

// carry is what a stopped playback run leaves for the next one: the frame
// it took but did not finish, and the last video timestamp it presented
type carry struct {
	mu        sync.Mutex
	frame     types.Frame
	presented mo.Option[time.Duration]
}

func (c *carry) put(f types.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frame = f
}

func (c *carry) take() types.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	f := c.frame
	c.frame = nil
	return f
}

// reset drops everything carried and returns the dropped frame
func (c *carry) reset() types.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	f := c.frame
	c.frame, c.presented = nil, mo.None[time.Duration]()
	return f
}

// Next returns the frame handed back by Hold, else takes the next
// buffered one
func (a *Audio) Next(ctx context.Context) (types.Frame, error) {
	if f := a.held.take(); f != nil {
		return f, nil
	}
	return a.Buffer.Take(ctx)
}

// Hold hands f back so the next Next returns it again. Flush drops it.
func (a *Audio) Hold(f types.Frame) {
	a.held.put(f)
}

// Next returns the frame handed back by Hold, else takes the next
// buffered one
func (v *Video) Next(ctx context.Context) (types.Frame, error) {
	if f := v.held.take(); f != nil {
		return f, nil
	}
	return v.Buffer.Take(ctx)
}

// Hold hands f back so the next Next returns it again. A held frame keeps
// its storage until it is presented or flushed.
func (v *Video) Hold(f types.Frame) {
	v.held.put(f)
}

// Presented returns the timestamp of the last frame presented since the
// pipeline was built or flushed
func (v *Video) Presented() mo.Option[time.Duration] {
	v.held.mu.Lock()
	defer v.held.mu.Unlock()
	return v.held.presented
}

// SetPresented records ts as the last presented timestamp
func (v *Video) SetPresented(ts time.Duration) {
	v.held.mu.Lock()
	defer v.held.mu.Unlock()
	v.held.presented = mo.Some(ts)
}

// releaseHeld returns the storage of a held frame to the pool
func (v *Video) releaseHeld() error {
	if vf, ok := v.held.reset().(*types.VideoFrame); ok {
		return v.Pool.Release(vf.Buffer)
	}
	return nil
}

// Pipeline is built once per Prepare and closed when the session ends.
// At least one of Audio and Video is set.
type Pipeline struct {
	Media types.Media
	Audio *Audio
	Video *Video

	closeOnce sync.Once
	closeErr  error
}

// Options sizes the pipeline. A buffer size of 0 leaves that stream out.
type Options struct {
	AudioBufferSize int
	VideoBufferSize int
	// NewSampler creates the audio output; required when audio is wanted
	NewSampler audio.Factory
}

// Build opens decoders for the streams present in both media and opts.
// Anything opened is closed again if a later step fails.
func Build(ctx context.Context, opener decoder.Opener, media types.Media, opts Options) (p *Pipeline, err error) {
	if opts.AudioBufferSize < 0 || opts.VideoBufferSize < 0 {
		return nil, fmt.Errorf("pipeline: negative buffer size %d/%d", opts.AudioBufferSize, opts.VideoBufferSize)
	}

	p = &Pipeline{Media: media}
	defer func() {
		if err != nil {
			err = multierr.Append(err, p.Close())
			p = nil
		}
	}()

	if format, ok := media.Audio.Get(); ok && opts.AudioBufferSize > 0 {
		if p.Audio, err = buildAudio(ctx, opener, media, format, opts); err != nil {
			return p, err
		}
	}
	if format, ok := media.Video.Get(); ok && opts.VideoBufferSize > 0 {
		if p.Video, err = buildVideo(ctx, opener, media, format, opts.VideoBufferSize); err != nil {
			return p, err
		}
	}
	if p.Audio == nil && p.Video == nil {
		return p, ErrNoStreams
	}
	return p, nil
}

func buildAudio(ctx context.Context, opener decoder.Opener, media types.Media, format types.AudioFormat, opts Options) (a *Audio, err error) {
	if opts.NewSampler == nil {
		return nil, errors.New("pipeline: audio wanted but no sampler factory")
	}

	a = &Audio{}
	defer func() {
		if err != nil {
			err = multierr.Append(err, a.close())
			a = nil
		}
	}()

	if a.Sampler, err = opts.NewSampler(format); err != nil {
		return a, fmt.Errorf("create sampler: %w", err)
	}
	// Decoders resample to whatever the sampler plays.
	if a.Decoder, err = opener.OpenAudio(ctx, media, a.Sampler.Format()); err != nil {
		return a, fmt.Errorf("open audio decoder: %w", err)
	}
	if a.Buffer, err = buffer.New[types.Frame](opts.AudioBufferSize); err != nil {
		return a, err
	}
	return a, nil
}

func buildVideo(ctx context.Context, opener decoder.Opener, media types.Media, format types.VideoFormat, size int) (v *Video, err error) {
	v = &Video{}
	defer func() {
		if err != nil {
			err = multierr.Append(err, v.close())
			v = nil
		}
	}()

	if v.Decoder, err = opener.OpenVideo(ctx, media); err != nil {
		return v, fmt.Errorf("open video decoder: %w", err)
	}
	if v.Buffer, err = buffer.New[types.Frame](size); err != nil {
		return v, err
	}
	v.Pool, err = buffer.NewPool(size,
		func() *types.VideoBuffer { return types.NewVideoBuffer(format.BufferCapacity) },
		func(b *types.VideoBuffer) { b.Data = nil },
	)
	return v, err
}

// Flush drops every buffered and held frame, returns pooled storage and
// discards queued audio. Both loops must be stopped.
func (p *Pipeline) Flush() error {
	var err error
	if p.Audio != nil {
		p.Audio.held.reset()
		p.Audio.Buffer.Clear()
		err = multierr.Append(err, p.Audio.Sampler.Flush())
	}
	if p.Video != nil {
		err = multierr.Append(err, p.Video.releaseHeld())
		for _, f := range p.Video.Buffer.Clear() {
			if vf, ok := f.(*types.VideoFrame); ok {
				err = multierr.Append(err, p.Video.Pool.Release(vf.Buffer))
			}
		}
	}
	return err
}

// Seek moves every decoder to timestamp
func (p *Pipeline) Seek(ctx context.Context, timestamp time.Duration, keyFramesOnly bool) error {
	var err error
	if p.Audio != nil {
		if e := p.Audio.Decoder.SeekTo(ctx, timestamp, keyFramesOnly); e != nil {
			err = multierr.Append(err, fmt.Errorf("seek audio: %w", e))
		}
	}
	if p.Video != nil {
		if e := p.Video.Decoder.SeekTo(ctx, timestamp, keyFramesOnly); e != nil {
			err = multierr.Append(err, fmt.Errorf("seek video: %w", e))
		}
	}
	return err
}

// Reset rewinds every decoder to the start
func (p *Pipeline) Reset(ctx context.Context) error {
	var err error
	if p.Audio != nil {
		if e := p.Audio.Decoder.Reset(ctx); e != nil {
			err = multierr.Append(err, fmt.Errorf("reset audio: %w", e))
		}
	}
	if p.Video != nil {
		if e := p.Video.Decoder.Reset(ctx); e != nil {
			err = multierr.Append(err, fmt.Errorf("reset video: %w", e))
		}
	}
	return err
}

// Close releases every resource of the pipeline. Later calls return the
// first call's result.
func (p *Pipeline) Close() error {
	p.closeOnce.Do(func() {
		if p.Audio != nil {
			p.closeErr = multierr.Append(p.closeErr, p.Audio.close())
		}
		if p.Video != nil {
			p.closeErr = multierr.Append(p.closeErr, p.Video.close())
		}
	})
	return p.closeErr
}

func (a *Audio) close() error {
	var err error
	if a.Buffer != nil {
		a.Buffer.Close()
	}
	if a.Decoder != nil {
		err = multierr.Append(err, a.Decoder.Close())
	}
	if a.Sampler != nil {
		err = multierr.Append(err, a.Sampler.Close())
	}
	return err
}

func (v *Video) close() error {
	var err error
	if v.Buffer != nil {
		v.Buffer.Close()
	}
	if v.Decoder != nil {
		err = multierr.Append(err, v.Decoder.Close())
	}
	if v.Pool != nil {
		// Storage held past a cancelled run goes back before the pool closes.
		if e := v.releaseHeld(); e != nil && !errors.Is(e, buffer.ErrClosed) {
			err = multierr.Append(err, e)
		}
		v.Pool.Close()
	}
	return err
}
