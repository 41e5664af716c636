// Package preflight provides startup validation checks.
package preflight

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Check represents the result of a single preflight check.
type Check struct {
	Name     string // Name of the check
	Required int    // Required value (if applicable)
	Actual   int    // Actual value found
	Passed   bool   // Whether the check passed
	Warning  bool   // True if it's a warning (non-fatal)
	Message  string // Additional context
}

// Result holds the results of all preflight checks.
type Result struct {
	Checks []Check
	Passed bool
}

// Options describes what the harness is about to run.
type Options struct {
	Command    string
	Dir        string
	TargetPath string
	Platform   string
}

// String returns a human-readable summary of the check.
func (c Check) String() string {
	status := "✓"
	if !c.Passed {
		status = "✗"
	} else if c.Warning {
		status = "⚠"
	}

	if c.Required > 0 {
		return fmt.Sprintf("  %s %s: %d available (need %d)", status, c.Name, c.Actual, c.Required)
	}
	return fmt.Sprintf("  %s %s: %s", status, c.Name, c.Message)
}

// RunAll executes all preflight checks.
func RunAll(opts Options) *Result {
	checks := []Check{
		checkWorkDir(opts.Dir),
		checkCommand(opts.Command, opts.Dir),
		checkTargetFile(opts.TargetPath),
		checkFileDescriptors(),
		checkPlatform(opts.Platform),
	}

	result := &Result{Checks: checks, Passed: true}
	for _, c := range checks {
		if !c.Passed {
			result.Passed = false
		}
	}
	return result
}

// checkWorkDir verifies the directory the command runs in.
func checkWorkDir(dir string) Check {
	if dir == "" {
		dir = "."
	}
	info, err := os.Stat(dir)
	if err != nil {
		return Check{Name: "work_dir", Passed: false, Message: err.Error()}
	}
	if !info.IsDir() {
		return Check{Name: "work_dir", Passed: false, Message: fmt.Sprintf("%s is not a directory", dir)}
	}
	return Check{Name: "work_dir", Passed: true, Message: dir}
}

// checkCommand verifies the watch command can be found. Relative paths
// with a separator resolve against dir, like the child process will.
func checkCommand(command, dir string) Check {
	path := command
	if strings.ContainsRune(command, filepath.Separator) && !filepath.IsAbs(command) && dir != "" {
		path = filepath.Join(dir, command)
	}

	found, err := exec.LookPath(path)
	if err != nil {
		return Check{
			Name:    "command",
			Passed:  false,
			Message: fmt.Sprintf("%s not found: %v", command, err),
		}
	}
	return Check{Name: "command", Passed: true, Message: "found at " + found}
}

// checkTargetFile verifies the scenario can read and rewrite the target.
func checkTargetFile(path string) Check {
	info, err := os.Stat(path)
	if err != nil {
		return Check{Name: "target_file", Passed: false, Message: err.Error()}
	}
	if !info.Mode().IsRegular() {
		return Check{Name: "target_file", Passed: false, Message: fmt.Sprintf("%s is not a regular file", path)}
	}

	// Open without O_TRUNC so the check leaves the content alone
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return Check{Name: "target_file", Passed: false, Message: fmt.Sprintf("not writable: %v", err)}
	}
	f.Close()

	return Check{
		Name:    "target_file",
		Passed:  true,
		Message: fmt.Sprintf("%s (%d bytes)", path, info.Size()),
	}
}

// checkPlatform warns where child processes cannot be signalled as a group.
func checkPlatform(platform string) Check {
	if strings.HasPrefix(strings.ToLower(platform), "win") {
		return Check{
			Name:    "platform",
			Passed:  true,
			Warning: true,
			Message: platform + " (scenario is skipped; watcher children are not killed as a group)",
		}
	}
	return Check{Name: "platform", Passed: true, Message: platform}
}

// PrintResults writes the preflight check results to w.
func PrintResults(w io.Writer, result *Result) {
	fmt.Fprintln(w, "Preflight checks:")
	for _, check := range result.Checks {
		fmt.Fprintln(w, check.String())
		if !check.Passed {
			fmt.Fprintf(w, "    Fix: %s\n", suggestFix(check.Name))
		}
	}
	fmt.Fprintln(w)
}

// suggestFix returns a suggestion for fixing a failed check.
func suggestFix(name string) string {
	switch name {
	case "file_descriptors":
		return "ulimit -n 4096 (or edit /etc/security/limits.conf)"
	case "command":
		return "install the watch tool or pass its full path"
	case "target_file":
		return "check -file and -dir point at a writable source file"
	case "work_dir":
		return "pass an existing project directory with -dir"
	default:
		return "see -help"
	}
}
