package scenario

import (
	"fmt"
	"strings"
)

// AssertionKind says which content check failed.
type AssertionKind string

const (
	// AssertionMissing means the expected signature was not printed.
	AssertionMissing AssertionKind = "missing"

	// AssertionUnexpected means a disallowed string was printed.
	AssertionUnexpected AssertionKind = "unexpected"
)

// AssertionError is returned when a wait matched but the captured output
// failed inspection.
type AssertionError struct {
	Kind      AssertionKind
	Signature string
	Stderr    string
}

func (e *AssertionError) Error() string {
	if e.Kind == AssertionUnexpected {
		return fmt.Sprintf("did not expect %q in stderr but got:\n%s", e.Signature, e.Stderr)
	}
	return fmt.Sprintf("expected %q in stderr, got this instead:\n%s", e.Signature, e.Stderr)
}

// CheckOutput requires expected in stderr and rejects every disallowed
// string. An empty expected only checks the disallowed set.
func CheckOutput(stderr, expected string, disallowed []string) error {
	if expected != "" && !strings.Contains(stderr, expected) {
		return &AssertionError{Kind: AssertionMissing, Signature: expected, Stderr: stderr}
	}
	for _, d := range disallowed {
		if d != "" && strings.Contains(stderr, d) {
			return &AssertionError{Kind: AssertionUnexpected, Signature: d, Stderr: stderr}
		}
	}
	return nil
}
