package monitor

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/randomizedcoder/go-watch-harness/internal/stream"
)

// Result is a snapshot of the output a wait observed, from registration up
// to and including the read that completed the match.
type Result struct {
	// Stdout and Stderr hold the raw output seen on each stream.
	Stdout string
	Stderr string

	// Match is the line (or lines) holding the text that satisfied the
	// pattern. Empty on failure.
	Match string

	// Stream is the stream Match was read from.
	Stream stream.Name

	// ProcessID identifies the process that printed Match.
	ProcessID string

	// Elapsed is the time from registration to match (or failure).
	Elapsed time.Duration
}

// Matched reports whether the result holds a match.
func (r Result) Matched() bool {
	return r.ProcessID != ""
}

// ErrNoProcesses is returned when a wait has no live process to watch.
var ErrNoProcesses = errors.New("no live process to watch")

// TimeoutError is returned when no output matched within the time budget.
type TimeoutError struct {
	Pattern string
	Timeout time.Duration
	Partial Result
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("waiting for %q timed out after %s%s",
		e.Pattern, e.Timeout, formatPartial(e.Partial))
}

// Result returns the output captured before the timeout.
func (e *TimeoutError) Result() Result {
	return e.Partial
}

// ExitError is returned when the watched process exited before its output
// matched.
type ExitError struct {
	Pattern   string
	ProcessID string
	ExitCode  int
	Partial   Result
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("process %s exited with code %d while waiting for %q%s",
		e.ProcessID, e.ExitCode, e.Pattern, formatPartial(e.Partial))
}

// Result returns the output captured before the exit.
func (e *ExitError) Result() Result {
	return e.Partial
}

// PartialResult extracts the captured output from a wait error.
func PartialResult(err error) (Result, bool) {
	var carrier interface{ Result() Result }
	if errors.As(err, &carrier) {
		return carrier.Result(), true
	}
	return Result{}, false
}

// IsTimeout reports whether err is (or wraps) a *TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// formatPartial renders captured output for error messages.
func formatPartial(r Result) string {
	var b strings.Builder
	if r.Stdout != "" {
		b.WriteString("\nstdout:\n")
		b.WriteString(r.Stdout)
	}
	if r.Stderr != "" {
		b.WriteString("\nstderr:\n")
		b.WriteString(r.Stderr)
	}
	return strings.TrimRight(b.String(), "\n")
}
