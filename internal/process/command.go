package process

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Command describes a watch process to launch, e.g. "ng serve --aot".
type Command struct {
	// Path is the executable name or path. Resolved through PATH.
	Path string

	// Args are the arguments passed to the executable.
	Args []string

	// Dir is the working directory. Empty means the current directory.
	Dir string

	// Env holds extra KEY=VALUE pairs appended to the parent environment.
	Env []string
}

// NewCommand creates a Command for the given executable and arguments.
func NewCommand(path string, args ...string) *Command {
	return &Command{
		Path: path,
		Args: args,
	}
}

// Name returns the base name of the executable.
func (c *Command) Name() string {
	return filepath.Base(c.Path)
}

// BuildCommand creates an exec.Cmd in its own process group.
//
// The context is not bound to the command: the process outlives the call
// that started it and is stopped explicitly with Interrupt and ForceKill.
func (c *Command) BuildCommand(ctx context.Context) (*exec.Cmd, error) {
	if c.Path == "" {
		return nil, errors.New("command path is empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := exec.Command(c.Path, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	setProcessGroup(cmd)
	return cmd, nil
}

// CommandString returns the command that would be executed (for debugging).
func (c *Command) CommandString() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, c.Path)
	for _, a := range c.Args {
		if a == "" || strings.ContainsAny(a, " \t\"'") {
			a = "'" + strings.ReplaceAll(a, "'", `'\''`) + "'"
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}

// Ensure Command implements Runner.
var _ Runner = (*Command)(nil)
