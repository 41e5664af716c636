//go:build !windows

package process

import (
	"errors"
	"os/exec"
	"syscall"
)

// setProcessGroup starts the command in a new process group so that the
// watch tool and every child it forks can be signalled together.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}

// signalGroup sends sig to the process group led by pid, falling back to
// the single process if the group cannot be resolved.
func signalGroup(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err == nil {
		err = syscall.Kill(-pgid, sig)
	} else {
		err = cmd.Process.Signal(sig)
	}
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}

// Interrupt asks the process group to exit (SIGTERM).
func Interrupt(cmd *exec.Cmd) error {
	return signalGroup(cmd, syscall.SIGTERM)
}

// ForceKill kills the process group (SIGKILL).
func ForceKill(cmd *exec.Cmd) error {
	return signalGroup(cmd, syscall.SIGKILL)
}

// ExitCode extracts the exit code from a Wait() error.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if status.Signaled() {
				// Signal exit: 128 + signal number
				return 128 + int(status.Signal())
			}
			return status.ExitStatus()
		}
	}

	// Unknown error, assume exit code 1
	return 1
}
