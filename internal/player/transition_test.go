package player

import (
	"errors"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestTransitionTable(t *testing.T) {
	s := &session{}
	ready := func(p Phase) state { return stateReady{phase: p, session: s} }

	states := map[string]state{
		"empty":            stateEmpty{},
		"preparing":        statePreparing{},
		"ready.stopped":    ready(PhaseStopped),
		"ready.playing":    ready(PhasePlaying),
		"ready.paused":     ready(PhasePaused),
		"ready.seeking":    ready(PhaseSeeking),
		"ready.completed":  ready(PhaseCompleted),
		"ready.transition": stateReady{phase: phaseTransition, from: PhaseStopped, destination: PhasePlaying, session: s},
		"releasing":        stateReleasing{previous: ready(PhaseStopped)},
		"error":            stateFailed{cause: errors.New("boom"), previous: ready(PhasePlaying)},
	}
	commands := []Command{Prepare{Location: "x", AudioBufferSize: 1}, Play{}, Pause{}, Resume{}, Stop{}, SeekTo{}, Release{}}

	legal := map[string][]string{
		"empty":           {"prepare"},
		"preparing":       {"release"},
		"ready.stopped":   {"play", "stop", "release"},
		"ready.playing":   {"pause", "seek", "stop", "release"},
		"ready.paused":    {"resume", "seek", "stop", "release"},
		"ready.seeking":   {"stop", "release"},
		"ready.completed": {"seek", "stop", "release"},
		"error":           {"prepare", "release"},
	}

	Convey("Given every state and command", t, func() {
		for name, st := range states {
			for _, cmd := range commands {
				allowed := false
				for _, c := range legal[name] {
					allowed = allowed || c == cmd.Name()
				}

				next, err := transition(st, cmd)
				if allowed {
					So(err, ShouldBeNil)
					So(next, ShouldNotBeNil)
				} else {
					var invalid *InvalidTransitionError
					So(errors.As(err, &invalid), ShouldBeTrue)
					So(invalid.Command, ShouldEqual, cmd.Name())
					So(next, ShouldBeNil)
				}
			}
		}
	})
}

func TestTransitionTargets(t *testing.T) {
	s := &session{}

	Convey("Given a stopped session", t, func() {
		stopped := stateReady{phase: PhaseStopped, session: s}

		Convey("Play moves through a transition towards playing", func() {
			next, err := transition(stopped, Play{})
			So(err, ShouldBeNil)
			r := next.(stateReady)
			So(r.phase, ShouldEqual, phaseTransition)
			So(r.from, ShouldEqual, PhaseStopped)
			So(r.destination, ShouldEqual, PhasePlaying)
			So(r.session, ShouldEqual, s)
		})

		Convey("Release keeps the session for teardown", func() {
			next, err := transition(stopped, Release{})
			So(err, ShouldBeNil)
			So(sessionOf(next), ShouldEqual, s)
		})
	})

	Convey("Seeking restores the previous intent", t, func() {
		So(seekIntent(PhasePlaying), ShouldEqual, PhasePlaying)
		So(seekIntent(PhasePaused), ShouldEqual, PhasePaused)
		So(seekIntent(PhaseCompleted), ShouldEqual, PhasePaused)
	})

	Convey("Transitions are never published", t, func() {
		ext := external(stateReady{phase: phaseTransition, from: PhasePaused, destination: PhasePlaying, session: s})
		So(ext.Status, ShouldEqual, StatusReady)
		So(ext.Phase, ShouldEqual, PhasePaused)
	})

	Convey("An error state exposes its cause and previous state", t, func() {
		cause := errors.New("decode failed")
		ext := external(stateFailed{cause: cause, previous: stateReady{phase: PhasePlaying, session: s}})
		So(ext.Status, ShouldEqual, StatusError)
		So(ext.Err, ShouldEqual, cause)
		So(ext.Previous, ShouldNotBeNil)
		So(ext.Previous.Is(PhasePlaying), ShouldBeTrue)
	})
}
