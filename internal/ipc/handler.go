package ipc

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"time"

	"github.com/samber/lo"
	"github.com/samber/mo"
	"github.com/sirupsen/logrus"

	"github.com/austinkregel/local-media/playerd/internal/media"
	"github.com/austinkregel/local-media/playerd/internal/player"
	"github.com/austinkregel/local-media/playerd/internal/queue"
	"github.com/austinkregel/local-media/playerd/internal/render"
	"github.com/austinkregel/local-media/playerd/internal/types"
)

func (s *Server) execute(ctx context.Context, cmd player.Command) *Response {
	if err := s.player.Execute(ctx, cmd); err != nil {
		return NewErrorResponse(err.Error())
	}
	return s.handleStatus()
}

// prepareCommand fills a Prepare from the request, falling back to the
// configured playback defaults
func (s *Server) prepareCommand(location string, req PrepareRequest) player.Prepare {
	cfg := s.configMgr.Get().Playback
	accel := cfg.HardwareAcceleration
	if len(req.HardwareAcceleration) > 0 {
		accel = req.HardwareAcceleration
	}
	return player.Prepare{
		Location:        location,
		AudioBufferSize: lo.FromPtrOr(req.AudioBufferSize, cfg.AudioBufferSize),
		VideoBufferSize: lo.FromPtrOr(req.VideoBufferSize, cfg.VideoBufferSize),
		HardwareAccelerationCandidates: lo.Map(accel, func(name string, _ int) types.HardwareAcceleration {
			return types.HardwareAcceleration(name)
		}),
	}
}

func (s *Server) handlePrepare(ctx context.Context, req *Request) *Response {
	r, err := decode[PrepareRequest](req)
	if err != nil {
		return NewErrorResponse(err.Error())
	}

	item, ok := s.findQueued(r.Location)
	switch {
	case r.Location == "":
		if item, ok = s.queue.Current().Get(); !ok {
			return NewErrorResponse("location is required")
		}
	case !ok:
		item = types.QueueItem{Location: r.Location}
	}

	s.advancing.Lock()
	defer s.advancing.Unlock()

	if err := s.prepare(ctx, item, s.prepareCommand(item.Location, r), r.Play); err != nil {
		return NewErrorResponse(err.Error())
	}
	return s.handleStatus()
}

// load replaces whatever is loaded with item. Caller holds s.advancing.
func (s *Server) load(ctx context.Context, item types.QueueItem, play bool) error {
	switch s.player.State().Status {
	case player.StatusEmpty, player.StatusError:
	default:
		if err := s.player.Execute(ctx, player.Release{}); err != nil {
			return err
		}
	}
	return s.prepare(ctx, item, s.prepareCommand(item.Location, PrepareRequest{}), play)
}

// prepare runs cmd for item and optionally starts playback. Caller holds
// s.advancing.
func (s *Server) prepare(ctx context.Context, item types.QueueItem, cmd player.Prepare, play bool) error {
	if err := s.player.Execute(ctx, cmd); err != nil {
		return err
	}
	s.setCurrent(mo.Some(item))

	st := s.player.State()
	if err := s.session.UpdateMetadata(media.MetadataFor(st.Media, item)); err != nil {
		s.log.WithError(err).Debug("media session metadata update failed")
	}
	s.log.WithFields(logrus.Fields{"location": item.Location, "media": st.Media.ID}).Info("prepared")

	if play {
		return s.player.Execute(ctx, player.Play{})
	}
	return nil
}

func (s *Server) setCurrent(item mo.Option[types.QueueItem]) {
	s.current.Lock()
	defer s.current.Unlock()
	s.current.item = item
}

func (s *Server) currentItem() mo.Option[types.QueueItem] {
	s.current.Lock()
	defer s.current.Unlock()
	return s.current.item
}

func (s *Server) handleSeek(ctx context.Context, req *Request) *Response {
	r, err := decode[SeekRequest](req)
	if err != nil {
		return NewErrorResponse(err.Error())
	}
	keyFramesOnly := lo.FromPtrOr(r.KeyFramesOnly, s.configMgr.Get().Playback.KeyFramesOnlySeek)
	return s.execute(ctx, player.SeekTo{
		Timestamp:     time.Duration(r.Position) * time.Millisecond,
		KeyFramesOnly: keyFramesOnly,
	})
}

func (s *Server) status() StatusResponse {
	return s.statusOf(s.player.State())
}

func (s *Server) statusOf(st player.State) StatusResponse {
	idx, size := s.queue.Position()
	resp := StatusResponse{
		State:      st.String(),
		Status:     st.Status,
		Position:   millis(s.player.Position()),
		Volume:     s.player.Volume(),
		Speed:      s.player.PlaybackSpeed(),
		QueueIndex: idx,
		QueueSize:  size,
		RepeatMode: s.queue.RepeatMode(),
		Shuffle:    s.queue.ShuffleEnabled(),
	}

	switch st.Status {
	case player.StatusReady:
		resp.Phase = lo.ToPtr(st.Phase)
		resp.MediaID = st.Media.ID
		resp.Location = st.Media.Location
		resp.Duration = millis(st.Media.Duration)
		resp.HasAudio = st.Media.Audio.IsPresent()
		resp.HasVideo = st.Media.Video.IsPresent()
		if item, ok := s.currentItem().Get(); ok && item.Location == st.Media.Location {
			resp.Item = &item
		}
	case player.StatusError:
		if st.Err != nil {
			resp.Error = st.Err.Error()
		}
	}
	return resp
}

func (s *Server) handleStatus() *Response {
	return respond(s.status())
}

func (s *Server) handleVolume(req *Request) *Response {
	r, err := decode[VolumeRequest](req)
	if err != nil {
		return NewErrorResponse(err.Error())
	}
	if r.Level < 0 || r.Level > 1 {
		return NewErrorResponse("volume must be between 0 and 1")
	}
	s.player.SetVolume(r.Level)
	if err := s.session.UpdateVolume(r.Level); err != nil {
		s.log.WithError(err).Debug("media session volume update failed")
	}
	return s.handleStatus()
}

func (s *Server) handleSpeed(req *Request) *Response {
	r, err := decode[SpeedRequest](req)
	if err != nil {
		return NewErrorResponse(err.Error())
	}
	if err := s.player.SetPlaybackSpeed(r.Speed); err != nil {
		return NewErrorResponse(err.Error())
	}
	if err := s.session.UpdateRate(r.Speed); err != nil {
		s.log.WithError(err).Debug("media session rate update failed")
	}
	return s.handleStatus()
}

// findQueued looks an item up by location
func (s *Server) findQueued(location string) (types.QueueItem, bool) {
	if location == "" {
		return types.QueueItem{}, false
	}
	return lo.Find(s.queue.Items(), func(item types.QueueItem) bool {
		return item.Location == location
	})
}

func (s *Server) handleQueueAdd(req *Request) *Response {
	r, err := decode[QueueAddRequest](req)
	if err != nil {
		return NewErrorResponse(err.Error())
	}
	if len(r.Items) == 0 {
		return NewErrorResponse("items are required")
	}
	if lo.SomeBy(r.Items, func(item types.QueueItem) bool { return item.Location == "" }) {
		return NewErrorResponse("every item needs a location")
	}

	// The same location with different metadata would be a distinct item,
	// so locations already queued are skipped.
	fresh := lo.Filter(lo.UniqBy(r.Items, func(item types.QueueItem) string { return item.Location }),
		func(item types.QueueItem, _ int) bool {
			_, queued := s.findQueued(item.Location)
			return !queued
		})
	s.queue.Add(fresh...)
	return s.handleGetQueue()
}

func (s *Server) handleQueueDelete(req *Request) *Response {
	r, err := decode[QueueItemRequest](req)
	if err != nil {
		return NewErrorResponse(err.Error())
	}
	item, ok := s.findQueued(r.Location)
	if !ok || !s.queue.Delete(item) {
		return NewErrorResponse(queue.ErrNotFound.Error())
	}
	return s.handleGetQueue()
}

func (s *Server) handleQueueReplace(req *Request) *Response {
	r, err := decode[QueueReplaceRequest](req)
	if err != nil {
		return NewErrorResponse(err.Error())
	}
	if r.With.Location == "" {
		return NewErrorResponse("replacement needs a location")
	}
	item, ok := s.findQueued(r.Location)
	if !ok {
		return NewErrorResponse(queue.ErrNotFound.Error())
	}
	if err := s.queue.Replace(item, r.With); err != nil {
		return NewErrorResponse(err.Error())
	}
	return s.handleGetQueue()
}

func (s *Server) handleQueueSelect(ctx context.Context, req *Request) *Response {
	r, err := decode[QueueItemRequest](req)
	if err != nil {
		return NewErrorResponse(err.Error())
	}
	if r.Location == "" {
		if err := s.queue.Select(mo.None[types.QueueItem]()); err != nil {
			return NewErrorResponse(err.Error())
		}
		return s.handleGetQueue()
	}

	item, ok := s.findQueued(r.Location)
	if !ok {
		return NewErrorResponse(queue.ErrNotFound.Error())
	}
	if err := s.queue.Select(mo.Some(item)); err != nil {
		return NewErrorResponse(err.Error())
	}
	if r.Play {
		s.advancing.Lock()
		defer s.advancing.Unlock()
		if err := s.load(ctx, item, true); err != nil {
			return NewErrorResponse(err.Error())
		}
	}
	return s.handleGetQueue()
}

// handleAdvance moves the queue with step and plays the new selection
func (s *Server) handleAdvance(ctx context.Context, step func() (types.QueueItem, bool)) *Response {
	s.advancing.Lock()
	defer s.advancing.Unlock()

	item, ok := step()
	if !ok {
		return NewErrorResponse("no media in that direction")
	}
	if err := s.load(ctx, item, true); err != nil {
		return NewErrorResponse(err.Error())
	}
	return s.handleStatus()
}

func (s *Server) handleSetShuffle(req *Request) *Response {
	r, err := decode[SetShuffleRequest](req)
	if err != nil {
		return NewErrorResponse(err.Error())
	}
	s.setShuffle(r.Enabled)
	return s.handleGetQueue()
}

func (s *Server) setShuffle(enabled bool) {
	s.queue.SetShuffleEnabled(enabled)
	if err := s.session.UpdateShuffle(enabled); err != nil {
		s.log.WithError(err).Debug("media session shuffle update failed")
	}
}

func (s *Server) handleSetRepeat(req *Request) *Response {
	r, err := decode[SetRepeatRequest](req)
	if err != nil {
		return NewErrorResponse(err.Error())
	}
	s.setRepeat(r.Mode)
	return s.handleGetQueue()
}

func (s *Server) setRepeat(mode types.RepeatMode) {
	s.queue.SetRepeatMode(mode)
	if err := s.session.UpdateLoopStatus(media.LoopStatusOf(mode)); err != nil {
		s.log.WithError(err).Debug("media session loop status update failed")
	}
}

func (s *Server) handleGetQueue() *Response {
	idx, _ := s.queue.Position()
	resp := GetQueueResponse{
		Items:      s.queue.Items(),
		PlayOrder:  s.queue.EffectiveItems(),
		Index:      idx,
		RepeatMode: s.queue.RepeatMode(),
		Shuffle:    s.queue.ShuffleEnabled(),
	}
	if sel, ok := s.queue.Selection().Get(); ok {
		resp.Current = &sel.Item
		resp.SelectedAt = sel.UpdatedAt.UnixMilli()
	}
	return respond(resp)
}

// queueChanged persists the queue when configured to
func (s *Server) queueChanged() {
	if s.store == nil || !s.configMgr.Get().Behavior.RememberQueue {
		return
	}
	if err := s.store.Save(s.queue); err != nil {
		s.log.WithError(err).Warn("failed to save queue")
	}
}

func (s *Server) handleGetAudioData() *Response {
	if s.analyzer == nil {
		return NewErrorResponse("audio analysis unavailable")
	}
	return respond(s.audioData(s.analyzer.Bands()))
}

func (s *Server) audioData(bands []uint8) AudioDataResponse {
	return AudioDataResponse{
		Bands:     lo.Map(bands, func(b uint8, _ int) int { return int(b) }),
		Position:  millis(s.player.Position()),
		Timestamp: time.Now().UnixMilli(),
		Ready:     s.analyzer.Ready(),
	}
}

func (s *Server) handleSnapshot() *Response {
	if s.frames == nil {
		return NewErrorResponse("video output unavailable")
	}

	var buf bytes.Buffer
	ts, err := s.frames.EncodePNG(&buf)
	if errors.Is(err, render.ErrNoFrame) {
		return NewErrorResponse("no video frame available")
	}
	if err != nil {
		return NewErrorResponse(err.Error())
	}
	cfg, err := png.DecodeConfig(bytes.NewReader(buf.Bytes()))
	if err != nil {
		return NewErrorResponse(err.Error())
	}
	return respond(SnapshotResponse{
		Width:     cfg.Width,
		Height:    cfg.Height,
		Timestamp: millis(ts),
		PNG:       buf.Bytes(),
	})
}
