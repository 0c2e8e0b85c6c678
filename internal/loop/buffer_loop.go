package loop

import (
	"context"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/austinkregel/local-media/playerd/internal/logging"
	"github.com/austinkregel/local-media/playerd/internal/pipeline"
	"github.com/austinkregel/local-media/playerd/internal/types"
)

// BufferLoop decodes frames into the pipeline's buffers until every stream
// reached its end
type BufferLoop struct {
	r   runner
	log *logrus.Entry
}

// NewBufferLoop creates a stopped loop
func NewBufferLoop(log *logrus.Entry) *BufferLoop {
	return &BufferLoop{log: logging.OrDefault(log, "buffer-loop")}
}

// Start begins buffering p in the background
func (l *BufferLoop) Start(p *pipeline.Pipeline, cb Callbacks) error {
	return l.r.start(func(ctx context.Context) {
		l.log.WithField("media", p.Media.ID).Debug("buffering started")

		prog := newProgress(cb.OnTimestamp)
		g, gctx := errgroup.WithContext(ctx)
		if p.Audio != nil {
			g.Go(func() error { return l.bufferAudio(gctx, p.Audio, prog) })
		}
		if p.Video != nil {
			g.Go(func() error { return l.bufferVideo(gctx, p.Video, prog) })
		}
		err := g.Wait()

		l.log.WithField("media", p.Media.ID).WithError(err).Debug("buffering finished")
		finish(ctx, err, cb)
	})
}

// Stop cancels buffering and waits for it to unwind
func (l *BufferLoop) Stop() { l.r.stop() }

// Close cancels buffering without waiting
func (l *BufferLoop) Close() { l.r.close() }

// Running reports whether a run is in progress
func (l *BufferLoop) Running() bool { return l.r.running() }

func (l *BufferLoop) bufferAudio(ctx context.Context, a *pipeline.Audio, prog *progress) error {
	for {
		frame, err := a.Decoder.DecodeAudio(ctx)
		if err != nil {
			return &BufferLoopError{Stream: StreamAudio, Err: err}
		}
		if err := a.Buffer.Put(ctx, frame); err != nil {
			return &BufferLoopError{Stream: StreamAudio, Err: err}
		}

		switch f := frame.(type) {
		case *types.AudioFrame:
			prog.offer(f.Timestamp)
		case types.EndOfStream:
			return nil
		}
	}
}

func (l *BufferLoop) bufferVideo(ctx context.Context, v *pipeline.Video, prog *progress) error {
	for {
		// Acquire first: the pool bounds how far decoding runs ahead.
		buf, err := v.Pool.Acquire(ctx)
		if err != nil {
			return &BufferLoopError{Stream: StreamVideo, Err: err}
		}

		frame, err := v.Decoder.DecodeVideo(ctx, buf)
		if err != nil {
			l.release(v, buf)
			return &BufferLoopError{Stream: StreamVideo, Err: err}
		}

		vf, isVideo := frame.(*types.VideoFrame)
		if !isVideo {
			l.release(v, buf)
		}

		if err := v.Buffer.Put(ctx, frame); err != nil {
			if isVideo {
				l.release(v, vf.Buffer)
			}
			return &BufferLoopError{Stream: StreamVideo, Err: err}
		}

		if isVideo {
			prog.offer(vf.Timestamp)
		} else if _, ok := frame.(types.EndOfStream); ok {
			return nil
		}
	}
}

func (l *BufferLoop) release(v *pipeline.Video, buf *types.VideoBuffer) {
	if err := v.Pool.Release(buf); err != nil {
		l.log.WithError(err).Warn("failed to release video buffer")
	}
}
