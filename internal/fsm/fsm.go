package fsm

import "fmt"

type State string

type Event string

const (
	StateIdle       State = "idle"
	StateStarting   State = "starting"
	StateListening  State = "listening"
	StateRestarting State = "restarting"
	StateStopping   State = "stopping"
	StateFailed     State = "failed"
)

const (
	EventStart   Event = "start"
	EventStarted Event = "started"
	EventEnded   Event = "ended"
	EventRestart Event = "restart"
	EventStop    Event = "stop"
	EventFail    Event = "fail"
	EventReset   Event = "reset"
)

// Transition returns the state reached from current on event. Invalid
// pairs return current unchanged together with an error.
func Transition(current State, event Event) (State, error) {
	if event == EventFail {
		return StateFailed, nil
	}

	switch current {
	case StateIdle:
		switch event {
		case EventStart:
			return StateStarting, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateStarting:
		switch event {
		case EventStarted:
			return StateListening, nil
		case EventEnded:
			return StateRestarting, nil
		case EventStop:
			return StateIdle, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateListening:
		switch event {
		case EventEnded:
			return StateRestarting, nil
		case EventStop:
			return StateStopping, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateRestarting:
		switch event {
		case EventRestart:
			return StateStarting, nil
		case EventStop:
			return StateIdle, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateStopping:
		switch event {
		case EventEnded:
			return StateIdle, nil
		case EventStart:
			return StateStarting, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateFailed:
		switch event {
		case EventReset, EventStop:
			return StateIdle, nil
		default:
			return current, invalidTransition(current, event)
		}
	default:
		return current, fmt.Errorf("unknown state %q", current)
	}
}

// Active reports whether the state holds or is acquiring capture hardware.
func (s State) Active() bool {
	switch s {
	case StateStarting, StateListening, StateRestarting, StateStopping:
		return true
	default:
		return false
	}
}

func invalidTransition(state State, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", state, event)
}
