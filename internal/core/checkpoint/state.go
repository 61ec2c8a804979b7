package checkpoint

import (
	"errors"
	"time"
)

// State is the lifecycle phase of one ingestion pipeline.
type State string

const (
	StateInit         State = "init"
	StateSweeping     State = "sweeping"
	StateLive         State = "live"
	StateReconnecting State = "reconnecting"
	StateStopped      State = "stopped"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// ValidTransitions defines allowed state transitions.
// Key is the current state, value is the list of valid next states.
var ValidTransitions = map[State][]State{
	StateInit:         {StateSweeping, StateStopped},
	StateSweeping:     {StateLive, StateReconnecting, StateStopped},
	StateLive:         {StateReconnecting, StateStopped},
	StateReconnecting: {StateLive, StateStopped},
	StateStopped:      {},
}

// CanTransition checks if a transition from one state to another is valid.
func CanTransition(from, to State) bool {
	for _, target := range ValidTransitions[from] {
		if target == to {
			return true
		}
	}
	return false
}

// Transition represents a state change with metadata.
type Transition struct {
	From      State
	To        State
	Reason    string
	Timestamp time.Time
}

// NewTransition creates a new transition record.
func NewTransition(from, to State, reason string) Transition {
	return Transition{
		From:      from,
		To:        to,
		Reason:    reason,
		Timestamp: time.Now(),
	}
}

// IsValid returns true if this transition is allowed by the state machine.
func (t Transition) IsValid() bool {
	return CanTransition(t.From, t.To)
}

// StateDescription returns a human-readable description of a state.
func StateDescription(s State) string {
	switch s {
	case StateInit:
		return "Initializing - pipeline created, not yet started"
	case StateSweeping:
		return "Sweeping - reconciling history up to the chain head"
	case StateLive:
		return "Live - consuming the contract subscription"
	case StateReconnecting:
		return "Reconnecting - subscription lost, retrying with backoff"
	case StateStopped:
		return "Stopped - pipeline shut down"
	default:
		return "Unknown state"
	}
}
