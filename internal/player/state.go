package player

import (
	"fmt"

	"github.com/austinkregel/local-media/playerd/internal/types"
)

// Phase is the playback phase of a Ready session
type Phase int

const (
	PhaseStopped Phase = iota
	PhasePlaying
	PhasePaused
	PhaseSeeking
	PhaseCompleted
	// phaseTransition marks a command in flight; it is never published
	phaseTransition
)

func (p Phase) String() string {
	switch p {
	case PhaseStopped:
		return "stopped"
	case PhasePlaying:
		return "playing"
	case PhasePaused:
		return "paused"
	case PhaseSeeking:
		return "seeking"
	case PhaseCompleted:
		return "completed"
	default:
		return "transition"
	}
}

// MarshalText implements encoding.TextMarshaler
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (p *Phase) UnmarshalText(text []byte) error {
	for candidate := PhaseStopped; candidate < phaseTransition; candidate++ {
		if candidate.String() == string(text) {
			*p = candidate
			return nil
		}
	}
	return fmt.Errorf("player: unknown phase %q", text)
}

// Status is the coarse state published to observers
type Status int

const (
	StatusEmpty Status = iota
	StatusPreparing
	StatusReady
	StatusReleasing
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusPreparing:
		return "preparing"
	case StatusReady:
		return "ready"
	case StatusReleasing:
		return "releasing"
	case StatusError:
		return "error"
	default:
		return "empty"
	}
}

// MarshalText implements encoding.TextMarshaler
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *Status) UnmarshalText(text []byte) error {
	for candidate := StatusEmpty; candidate <= StatusError; candidate++ {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("player: unknown status %q", text)
}

// State is the player state as observers see it. Phase and Media are set
// when Status is StatusReady; Err and Previous when it is StatusError.
type State struct {
	Status   Status
	Phase    Phase
	Media    types.Media
	Err      error
	Previous *State
}

func (s State) String() string {
	switch s.Status {
	case StatusReady:
		return fmt.Sprintf("ready.%s", s.Phase)
	case StatusError:
		return fmt.Sprintf("error(%v)", s.Err)
	default:
		return s.Status.String()
	}
}

// Is reports whether s is Ready in phase p
func (s State) Is(p Phase) bool {
	return s.Status == StatusReady && s.Phase == p
}

// state is the controller's internal state
type state interface {
	name() string
	state()
}

type stateEmpty struct{}

type statePreparing struct{}

// stateReady carries the live session. While phase is phaseTransition,
// from is the phase being left and destination the phase being entered.
type stateReady struct {
	phase       Phase
	from        Phase
	destination Phase
	session     *session
}

type stateReleasing struct {
	previous state
}

type stateFailed struct {
	cause    error
	previous state
}

func (stateEmpty) state()     {}
func (statePreparing) state() {}
func (stateReady) state()     {}
func (stateReleasing) state() {}
func (stateFailed) state()    {}

func (stateEmpty) name() string     { return "empty" }
func (statePreparing) name() string { return "preparing" }
func (s stateReady) name() string {
	if s.phase == phaseTransition {
		return fmt.Sprintf("ready.transition(%s->%s)", s.from, s.destination)
	}
	return "ready." + s.phase.String()
}
func (stateReleasing) name() string { return "releasing" }
func (stateFailed) name() string    { return "error" }

// external collapses an internal state for observers
func external(s state) State {
	switch s := s.(type) {
	case statePreparing:
		return State{Status: StatusPreparing}
	case stateReady:
		phase := s.phase
		if phase == phaseTransition {
			phase = s.from
		}
		var media types.Media
		if s.session != nil {
			media = s.session.media
		}
		return State{Status: StatusReady, Phase: phase, Media: media}
	case stateReleasing:
		return State{Status: StatusReleasing}
	case stateFailed:
		prev := external(s.previous)
		return State{Status: StatusError, Err: s.cause, Previous: &prev}
	default:
		return State{Status: StatusEmpty}
	}
}

// sessionOf returns the live session held by s, if any
func sessionOf(s state) *session {
	switch s := s.(type) {
	case stateReady:
		return s.session
	case stateReleasing:
		return sessionOf(s.previous)
	case stateFailed:
		return sessionOf(s.previous)
	default:
		return nil
	}
}
