package session

import "fmt"

// State is the lifecycle state of a Session.
type State string

const (
	StateIdle       State = "IDLE"
	StateGenerating State = "GENERATING"
	StateReviewing  State = "REVIEWING"
	StateRevising   State = "REVISING"
	StateConverged  State = "CONVERGED"
	StateEscalated  State = "ESCALATED"
	StateFailed     State = "FAILED"
)

// AllStates lists every state in declaration order.
var AllStates = []State{
	StateIdle,
	StateGenerating,
	StateReviewing,
	StateRevising,
	StateConverged,
	StateEscalated,
	StateFailed,
}

// validTransitions is the complete edge set. Anything not listed is illegal.
var validTransitions = map[State][]State{
	StateIdle:       {StateGenerating},
	StateGenerating: {StateReviewing, StateFailed},
	StateReviewing:  {StateRevising, StateConverged, StateEscalated, StateFailed},
	StateRevising:   {StateReviewing, StateFailed},
	StateEscalated:  {StateRevising, StateIdle, StateFailed},
	StateConverged:  {StateIdle},
	StateFailed:     {StateIdle},
}

// Valid reports whether s is one of the declared states.
func (s State) Valid() bool {
	_, ok := validTransitions[s]
	return ok
}

// Settled reports whether the loop has stopped and is waiting on the caller.
func (s State) Settled() bool {
	switch s {
	case StateIdle, StateConverged, StateEscalated, StateFailed:
		return true
	case StateGenerating, StateReviewing, StateRevising:
		return false
	default:
		return false
	}
}

// CanTransition checks whether from -> to is an edge of the state machine.
func CanTransition(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ErrInvalidTransition is returned for an edge outside the table.
type ErrInvalidTransition struct {
	From State
	To   State
}

func (e ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid session transition: %s -> %s", e.From, e.To)
}
