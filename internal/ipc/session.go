package ipc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/austinkregel/local-media/playerd/internal/media"
	"github.com/austinkregel/local-media/playerd/internal/player"
)

// mediaCommandTimeout bounds commands coming from OS media controls
const mediaCommandTimeout = 30 * time.Second

// onMediaCommand maps OS media controls onto player and queue commands
func (s *Server) onMediaCommand(cmd media.Command, data any) error {
	ctx, cancel := context.WithTimeout(context.Background(), mediaCommandTimeout)
	defer cancel()

	s.log.WithField("command", cmd).Debug("media command")

	switch cmd {
	case media.CmdPlay:
		return s.playOrResume(ctx)
	case media.CmdPause:
		return s.player.Execute(ctx, player.Pause{})
	case media.CmdPlayPause:
		if s.player.State().Is(player.PhasePlaying) {
			return s.player.Execute(ctx, player.Pause{})
		}
		return s.playOrResume(ctx)
	case media.CmdStop:
		return s.player.Execute(ctx, player.Stop{})
	case media.CmdNext:
		return responseError(s.handleAdvance(ctx, s.queue.Next))
	case media.CmdPrevious:
		return responseError(s.handleAdvance(ctx, s.queue.Previous))
	case media.CmdSeek:
		position, ok := data.(time.Duration)
		if !ok {
			return fmt.Errorf("seek needs a duration, got %T", data)
		}
		return s.player.Execute(ctx, player.SeekTo{
			Timestamp:     position,
			KeyFramesOnly: s.configMgr.Get().Playback.KeyFramesOnlySeek,
		})
	case media.CmdSetShuffle:
		enabled, ok := data.(bool)
		if !ok {
			return fmt.Errorf("shuffle needs a bool, got %T", data)
		}
		s.setShuffle(enabled)
		return nil
	case media.CmdSetLoopStatus:
		status, ok := data.(media.LoopStatus)
		if !ok {
			return fmt.Errorf("loop status needs a LoopStatus, got %T", data)
		}
		s.setRepeat(status.RepeatMode())
		return nil
	case media.CmdSetRate:
		rate, ok := data.(float64)
		if !ok {
			return fmt.Errorf("rate needs a float64, got %T", data)
		}
		if err := s.player.SetPlaybackSpeed(rate); err != nil {
			return err
		}
		return s.session.UpdateRate(rate)
	case media.CmdSetVolume:
		volume, ok := data.(float64)
		if !ok {
			return fmt.Errorf("volume needs a float64, got %T", data)
		}
		s.player.SetVolume(volume)
		return s.session.UpdateVolume(s.player.Volume())
	}
	return fmt.Errorf("unsupported media command %s", cmd)
}

// playOrResume does what a play button means in the current state
func (s *Server) playOrResume(ctx context.Context) error {
	st := s.player.State()
	switch {
	case st.Is(player.PhasePaused):
		return s.player.Execute(ctx, player.Resume{})
	case st.Is(player.PhaseStopped):
		return s.player.Execute(ctx, player.Play{})
	case st.Is(player.PhaseCompleted):
		if err := s.player.Execute(ctx, player.SeekTo{}); err != nil {
			return err
		}
		return s.player.Execute(ctx, player.Resume{})
	case st.Status == player.StatusEmpty || st.Status == player.StatusError:
		item, ok := s.queue.Current().Get()
		if !ok {
			return responseError(s.handleAdvance(ctx, s.queue.Next))
		}
		s.advancing.Lock()
		defer s.advancing.Unlock()
		return s.load(ctx, item, true)
	}
	return nil
}

func responseError(resp *Response) error {
	if resp.Success {
		return nil
	}
	return errors.New(resp.Error)
}
