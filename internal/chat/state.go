package chat

import "fmt"

// State is the lifecycle position of a session as seen by the engine.
type State int

const (
	// StateEphemeralEmpty: in memory only, nothing shown and nothing durable.
	// A failed creation also returns the session here.
	StateEphemeralEmpty State = iota
	StateEphemeralWithWelcome
	StateEphemeralPendingCreate
	StateDurableActive
	StateDeleted
	StateSuperseded
)

var stateNames = map[State]string{
	StateEphemeralEmpty:         "EPHEMERAL_EMPTY",
	StateEphemeralWithWelcome:   "EPHEMERAL_WITH_WELCOME",
	StateEphemeralPendingCreate: "EPHEMERAL_PENDING_CREATE",
	StateDurableActive:          "DURABLE_ACTIVE",
	StateDeleted:                "DELETED",
	StateSuperseded:             "SUPERSEDED",
}

// String implements fmt.Stringer.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// transitions defines valid state transitions.
var transitions = map[State][]State{
	StateEphemeralEmpty:         {StateEphemeralWithWelcome, StateEphemeralPendingCreate, StateSuperseded},
	StateEphemeralWithWelcome:   {StateEphemeralPendingCreate, StateSuperseded},
	StateEphemeralPendingCreate: {StateDurableActive, StateEphemeralEmpty, StateSuperseded},
	StateDurableActive:          {StateDurableActive, StateDeleted, StateSuperseded},
	StateDeleted:                {}, // Terminal state
	StateSuperseded:             {}, // Terminal state
}

// CanTransition checks if a transition from one state to another is valid.
func CanTransition(from, to State) bool {
	for _, state := range transitions[from] {
		if state == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	next, ok := transitions[s]
	return ok && len(next) == 0
}

// Ephemeral reports whether a session in state s has no durable identity yet.
func (s State) Ephemeral() bool {
	switch s {
	case StateEphemeralEmpty, StateEphemeralWithWelcome, StateEphemeralPendingCreate:
		return true
	}
	return false
}
