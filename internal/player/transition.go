package player

import "fmt"

// InvalidTransitionError is returned for a command the current state does
// not accept. The state is left unchanged.
type InvalidTransitionError struct {
	State   string
	Command string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("player: cannot %s while %s", e.Command, e.State)
}

// transition returns the state a command moves s into while it executes.
// It performs no I/O.
func transition(s state, cmd Command) (state, error) {
	invalid := &InvalidTransitionError{State: s.name(), Command: cmd.Name()}

	switch s := s.(type) {
	case stateEmpty:
		if _, ok := cmd.(Prepare); ok {
			return statePreparing{}, nil
		}

	case statePreparing:
		if _, ok := cmd.(Release); ok {
			return stateReleasing{previous: s}, nil
		}

	case stateFailed:
		switch cmd.(type) {
		case Prepare:
			return statePreparing{}, nil
		case Release:
			return stateReleasing{previous: s}, nil
		}

	case stateReady:
		if s.phase == phaseTransition {
			return nil, invalid
		}
		moving := func(to Phase) state {
			return stateReady{phase: phaseTransition, from: s.phase, destination: to, session: s.session}
		}

		switch cmd.(type) {
		case Play:
			if s.phase == PhaseStopped {
				return moving(PhasePlaying), nil
			}
		case Pause:
			if s.phase == PhasePlaying {
				return moving(PhasePaused), nil
			}
		case Resume:
			if s.phase == PhasePaused {
				return moving(PhasePlaying), nil
			}
		case SeekTo:
			switch s.phase {
			case PhasePlaying, PhasePaused, PhaseCompleted:
				return moving(PhaseSeeking), nil
			}
		case Stop:
			return moving(PhaseStopped), nil
		case Release:
			return stateReleasing{previous: s}, nil
		}
	}

	return nil, invalid
}

// seekIntent is the phase a seek returns to
func seekIntent(from Phase) Phase {
	if from == PhasePlaying {
		return PhasePlaying
	}
	return PhasePaused
}
