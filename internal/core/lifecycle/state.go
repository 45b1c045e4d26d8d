// SPDX-License-Identifier: MPL-2.0

package lifecycle

const (
	// StateIdle indicates no child process is alive.
	StateIdle State = iota
	// StateStarting indicates a child is being spawned.
	StateStarting
	// StateRunning indicates a child process is alive.
	StateRunning
	// StateStopping indicates the child was signalled and its exit is awaited.
	StateStopping
)

// State represents the supervisor state. It cycles
// Idle -> Starting -> Running -> Stopping -> Idle.
type State int32

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Next returns the state that follows s in the supervisor cycle.
func (s State) Next() State {
	switch s {
	case StateIdle:
		return StateStarting
	case StateStarting:
		return StateRunning
	case StateRunning:
		return StateStopping
	default:
		return StateIdle
	}
}

// HasChild reports whether a child process may be alive in this state.
func (s State) HasChild() bool {
	return s == StateRunning || s == StateStopping
}
