// Package scenario drives a watched build process through a fixed sequence
// of file mutations and asserts each rebuild it triggers.
//
// A scenario is an ordered list of steps run by a Runner. Steps that mutate
// a file while a wait is pending register the wait first, so the rebuild
// the mutation triggers is always observed. Teardown kills every process
// and restores the mutated file on every exit path.
package scenario

import "strings"

// Env is the read-only environment a scenario is evaluated in. It is passed
// in explicitly so scenarios can be tested on any host.
type Env struct {
	// Platform is the OS identifier, as in runtime.GOOS.
	Platform string

	// Eject is set when the project runs with an ejected build config,
	// which has no live-rebuild server.
	Eject bool

	// Nightly opts in to the extended (slow) scenarios.
	Nightly bool
}

// SkipReason returns why a live-rebuild scenario cannot run in this
// environment, or "" if it can.
func (e Env) SkipReason() string {
	switch {
	case strings.HasPrefix(strings.ToLower(e.Platform), "win"):
		return "unsupported platform " + e.Platform
	case e.Eject:
		return "eject mode has no live rebuild"
	case !e.Nightly:
		return "extended scenarios need nightly mode"
	}
	return ""
}
