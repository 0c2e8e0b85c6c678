package ipc

import (
	"context"
	"time"

	"github.com/samber/lo"

	"github.com/austinkregel/local-media/playerd/internal/media"
	"github.com/austinkregel/local-media/playerd/internal/player"
)

func (s *Server) handleSubscribe(c *client, req *Request, subscribe bool) *Response {
	r, err := decode[SubscribeRequest](req)
	if err != nil {
		return NewErrorResponse(err.Error())
	}
	topics := r.Topics
	if len(topics) == 0 {
		topics = AllTopics
	}
	if unknown, found := lo.Find(topics, func(t Topic) bool { return !lo.Contains(AllTopics, t) }); found {
		return NewErrorResponse("unknown topic " + string(unknown))
	}

	s.mu.Lock()
	for _, t := range topics {
		if subscribe {
			c.topics[t] = true
		} else {
			delete(c.topics, t)
		}
	}
	current := lo.Filter(AllTopics, func(t Topic, _ int) bool { return c.topics[t] })
	s.mu.Unlock()

	c.log.WithField("topics", current).Debug("subscriptions changed")
	return respond(SubscribeResponse{Topics: current})
}

// broadcast sends a push message to every client subscribed to topic
func (s *Server) broadcast(topic Topic, data any) {
	s.mu.Lock()
	subs := lo.Filter(lo.Values(s.clients), func(c *client, _ int) bool { return c.topics[topic] })
	s.mu.Unlock()
	if len(subs) == 0 {
		return
	}

	msg, err := NewPushMessage(topic, data)
	if err != nil {
		s.log.WithError(err).Warn("failed to encode push message")
		return
	}
	msg = append(msg, '\n')

	for _, c := range subs {
		if err := c.send(msg); err != nil {
			// The read side notices the broken connection and cleans up.
			s.mu.Lock()
			clear(c.topics)
			s.mu.Unlock()
		}
	}
}

// pushAudioData is the analyzer callback
func (s *Server) pushAudioData(bands []uint8) {
	s.broadcast(TopicAudioData, s.audioData(bands))
}

// playerStreams are the controller subscriptions the server forwards
type playerStreams struct {
	states   <-chan player.State
	buffered <-chan time.Duration
	played   <-chan time.Duration
	events   <-chan player.Event
	cancel   []func()
}

func (s *Server) subscribePlayer() playerStreams {
	var ps playerStreams
	var unsub func()
	ps.states, unsub = s.player.SubscribeState()
	ps.cancel = append(ps.cancel, unsub)
	ps.buffered, unsub = s.player.SubscribeBufferTimestamps()
	ps.cancel = append(ps.cancel, unsub)
	ps.played, unsub = s.player.SubscribePlaybackTimestamps()
	ps.cancel = append(ps.cancel, unsub)
	ps.events, unsub = s.player.SubscribeEvents()
	ps.cancel = append(ps.cancel, unsub)
	return ps
}

// forward sends controller streams to subscribers and the media session
// until ctx is done
func (s *Server) forward(ctx context.Context, ps playerStreams) {
	defer func() {
		for _, unsub := range ps.cancel {
			unsub()
		}
	}()
	states, buffered, played, events := ps.states, ps.buffered, ps.played, ps.events

	var lastSessionUpdate time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-states:
			if !ok {
				return
			}
			s.broadcast(TopicState, s.statusOf(st))
			s.updateSessionState(st)
			if st.Is(player.PhaseCompleted) {
				go s.autoAdvance(ctx, st.Media.ID)
			}
		case ts, ok := <-buffered:
			if !ok {
				return
			}
			s.broadcast(TopicBufferTimestamp, TimestampPush{Position: millis(ts)})
		case ts, ok := <-played:
			if !ok {
				return
			}
			s.broadcast(TopicPlaybackTimestamp, TimestampPush{Position: millis(ts)})
			if time.Since(lastSessionUpdate) >= time.Second {
				lastSessionUpdate = time.Now()
				s.updateSessionState(s.player.State())
			}
		case e, ok := <-events:
			if !ok {
				return
			}
			s.broadcast(TopicEvent, NewEventPush(e))
		}
	}
}

// autoAdvance plays the next queue item after mediaID completed
func (s *Server) autoAdvance(ctx context.Context, mediaID string) {
	if !s.configMgr.Get().Behavior.AutoAdvance {
		return
	}

	s.advancing.Lock()
	defer s.advancing.Unlock()

	// Something else was loaded or started meanwhile. The snapshot can
	// still read Playing right after completion is published.
	st := s.player.State()
	if st.Media.ID != mediaID || !(st.Is(player.PhaseCompleted) || st.Is(player.PhasePlaying)) {
		return
	}
	item, ok := s.queue.Next()
	if !ok {
		s.log.Info("queue finished")
		return
	}
	s.log.WithField("location", item.Location).Info("advancing queue")
	if err := s.load(ctx, item, true); err != nil {
		s.log.WithError(err).Warn("failed to play next queue item")
	}
}

func (s *Server) updateSessionState(st player.State) {
	if err := s.session.UpdatePlaybackState(media.PlaybackStateOf(st), s.player.Position()); err != nil {
		s.log.WithError(err).Debug("media session state update failed")
	}
}

// syncSession pushes the current queue and settings to the media session
func (s *Server) syncSession() {
	s.session.UpdateShuffle(s.queue.ShuffleEnabled())
	s.session.UpdateLoopStatus(media.LoopStatusOf(s.queue.RepeatMode()))
	s.session.UpdateRate(s.player.PlaybackSpeed())
	s.session.UpdateVolume(s.player.Volume())
	s.updateSessionState(s.player.State())
}
