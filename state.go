package dirwatch

import (
	"fmt"
	"strings"
)

// State is the lifecycle state of an Engine.
//
//	Idle -> Running -> Stopping -> Stopped
//	Idle -> Failed
//	Running -> Stopping -> Failed
type State int

const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateStopped
	StateFailed
)

var stateNames = [...]string{
	StateIdle:     "idle",
	StateRunning:  "running",
	StateStopping: "stopping",
	StateStopped:  "stopped",
	StateFailed:   "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Terminal returns true if no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateFailed
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	for i, name := range stateNames {
		if strings.EqualFold(string(b), name) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown state: %q", b)
}

// CanTransition returns true if an engine may move from one state to another.
func CanTransition(from, to State) bool {
	switch from {
	case StateIdle:
		return to == StateRunning || to == StateFailed
	case StateRunning:
		return to == StateStopping
	case StateStopping:
		return to == StateStopped || to == StateFailed
	default:
		return false
	}
}
