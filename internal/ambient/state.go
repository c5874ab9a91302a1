package ambient

import (
	"fmt"
	"time"
)

// StateKind enumerates the provider lifecycle.
type StateKind int

const (
	StateIdle StateKind = iota
	StateStarting
	StateListening
	StateCommand
	StateStopping
	StateError
)

// String returns the state name.
func (k StateKind) String() string {
	switch k {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateListening:
		return "listening"
	case StateCommand:
		return "command"
	case StateStopping:
		return "stopping"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("StateKind(%d)", int(k))
	}
}

// State is a snapshot of a provider's lifecycle. StartedAt is set in
// [StateCommand]; Message in [StateError].
type State struct {
	Kind      StateKind
	StartedAt time.Time
	Message   string
}

// Active reports whether the provider accepts audio.
func (s State) Active() bool {
	return s.Kind == StateListening || s.Kind == StateCommand
}

func (s State) String() string {
	switch s.Kind {
	case StateCommand:
		return fmt.Sprintf("command(since %s)", s.StartedAt.Format(time.TimeOnly))
	case StateError:
		return fmt.Sprintf("error(%s)", s.Message)
	default:
		return s.Kind.String()
	}
}
