package process

import "fmt"

// State represents the lifecycle state of a managed process.
type State int32

const (
	// StateCreated is the initial state before the process has started.
	StateCreated State = iota

	// StateRunning indicates the process is alive.
	StateRunning

	// StateExited indicates the process exited on its own.
	StateExited

	// StateKilled indicates the process was stopped by the harness.
	StateKilled
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	case StateKilled:
		return "killed"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// IsAlive returns true if the process may still produce output.
func (s State) IsAlive() bool {
	return s == StateRunning
}

// IsTerminal returns true once the process can no longer run.
func (s State) IsTerminal() bool {
	return s == StateExited || s == StateKilled
}
