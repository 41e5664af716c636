// Package process provides abstractions for running external processes.
package process

import (
	"context"
	"os/exec"
)

// Runner creates executable commands for the monitor.
// This interface allows the monitor to be tool-agnostic.
type Runner interface {
	// BuildCommand returns a ready-to-start command.
	// The command should NOT be started yet.
	BuildCommand(ctx context.Context) (*exec.Cmd, error)

	// Name returns a human-readable name for this process type.
	Name() string
}
