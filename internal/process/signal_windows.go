//go:build windows

package process

import (
	"errors"
	"os"
	"os/exec"
)

// setProcessGroup is a no-op on Windows; the rebuild scenario is skipped there.
func setProcessGroup(cmd *exec.Cmd) {}

// Interrupt kills the process. Windows has no SIGTERM equivalent for
// console processes started without a console group.
func Interrupt(cmd *exec.Cmd) error {
	return ForceKill(cmd)
}

// ForceKill kills the process.
func ForceKill(cmd *exec.Cmd) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

// ExitCode extracts the exit code from a Wait() error.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return 1
}
