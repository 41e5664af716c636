package config

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// stringList is a custom flag type for repeatable -disallow flags.
type stringList []string

func (s *stringList) String() string {
	if s == nil {
		return ""
	}
	return strings.Join(*s, ", ")
}

func (s *stringList) Set(value string) error {
	*s = append(*s, value)
	return nil
}

// ParseFlags parses os.Args and returns a Config.
func ParseFlags() (*Config, error) {
	return ParseArgs(os.Args[1:], os.Stderr)
}

// ParseArgs parses the given arguments and returns a Config. Arguments
// after the flags are the watch command and its arguments. Usage and parse
// errors are written to out.
func ParseArgs(args []string, out io.Writer) (*Config, error) {
	cfg := DefaultConfig()
	var disallowed stringList

	fs := flag.NewFlagSet("watch-harness", flag.ContinueOnError)
	fs.SetOutput(out)

	// Custom usage message
	fs.Usage = func() {
		fmt.Fprintf(out, `watch-harness - drive a watch-mode build through break/fix rebuild cycles

Usage:
  watch-harness [flags] [command [args...]]

The command defaults to "ng serve --aot".

Scenario Flags:
`)
		printFlagCategory(fs, out, []string{"dir", "file", "success", "failure", "break-signature", "syntax-signature", "disallow"})

		fmt.Fprintf(out, "\nTiming:\n")
		printFlagCategory(fs, out, []string{"startup-timeout", "wait-timeout", "settle", "kill-timeout"})

		fmt.Fprintf(out, "\nEnvironment:\n")
		printFlagCategory(fs, out, []string{"platform", "eject", "nightly"})

		fmt.Fprintf(out, "\nSafety & Diagnostics:\n")
		printFlagCategory(fs, out, []string{"print-plan", "check", "skip-preflight", "version"})

		fmt.Fprintf(out, "\nObservability:\n")
		printFlagCategory(fs, out, []string{"metrics", "metrics-dump", "output-tail", "v", "log-format", "tui"})

		fmt.Fprintf(out, `
Flag Convention:
  Single-dash flags (-file, -settle) are normal options.
  Double-dash flags (--check, --print-plan) are diagnostic modes.

Examples:
  # Nightly run against an Angular CLI project
  watch-harness -nightly -dir ./my-app

  # Custom watcher and file
  watch-harness -nightly -file src/main.ts -settle 5s npx ng serve --aot

  # Show what would run
  watch-harness --print-plan

`)
	}

	// Scenario
	fs.StringVar(&cfg.Dir, "dir", cfg.Dir, "Project directory the command runs in")
	fs.StringVar(&cfg.TargetFile, "file", cfg.TargetFile, "Source file to break and fix (relative to -dir)")
	fs.StringVar(&cfg.SuccessPattern, "success", cfg.SuccessPattern, "Regexp printed on a successful build")
	fs.StringVar(&cfg.FailurePattern, "failure", cfg.FailurePattern, "Regexp printed on a failed build")
	fs.StringVar(&cfg.BreakSignature, "break-signature", cfg.BreakSignature, "Error expected on stderr when the file is emptied")
	fs.StringVar(&cfg.SyntaxSignature, "syntax-signature", cfg.SyntaxSignature, "Error expected on stderr after a syntax error")
	fs.Var(&disallowed, "disallow", "Error that must never appear on stderr (can repeat, replaces the defaults)")

	// Timing
	fs.DurationVar(&cfg.StartupTimeout, "startup-timeout", cfg.StartupTimeout, "Time allowed for the first build")
	fs.DurationVar(&cfg.WaitTimeout, "wait-timeout", cfg.WaitTimeout, "Time allowed for each rebuild")
	fs.DurationVar(&cfg.SettleDelay, "settle", cfg.SettleDelay, "Pause between mutations for the watcher debounce")
	fs.DurationVar(&cfg.KillTimeout, "kill-timeout", cfg.KillTimeout, "Grace period between SIGTERM and SIGKILL")

	// Environment
	fs.StringVar(&cfg.Platform, "platform", cfg.Platform, "Platform identifier for the skip guard")
	fs.BoolVar(&cfg.Eject, "eject", cfg.Eject, "Project uses an ejected build config (scenario is skipped)")
	fs.BoolVar(&cfg.Nightly, "nightly", cfg.Nightly, "Run extended scenarios (scenario is skipped without it)")

	// Safety & Diagnostics (double-dash convention)
	fs.BoolVar(&cfg.PrintPlan, "print-plan", cfg.PrintPlan, "Print the command and scenario steps and exit")
	fs.BoolVar(&cfg.Check, "check", cfg.Check, "Start the command once, wait for the first build, and exit")
	fs.BoolVar(&cfg.SkipPreflight, "skip-preflight", cfg.SkipPreflight, "Skip preflight checks")
	fs.BoolVar(&cfg.ShowVersion, "version", cfg.ShowVersion, "Print version and exit")

	// Observability
	fs.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "Prometheus metrics address (empty = disabled)")
	fs.StringVar(&cfg.MetricsDump, "metrics-dump", cfg.MetricsDump, "Write metrics in text format to this file at exit")
	fs.IntVar(&cfg.OutputTail, "output-tail", cfg.OutputTail, "Process output lines kept for the failure report")
	fs.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "Verbose logging (includes process output)")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, `Log format: "json" or "text"`)
	fs.BoolVar(&cfg.TUIEnabled, "tui", cfg.TUIEnabled, "Enable live terminal dashboard")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if len(disallowed) > 0 {
		cfg.Disallowed = disallowed
	}

	// Positional arguments: the watch command
	if rest := fs.Args(); len(rest) >= 1 {
		cfg.Command = rest[0]
		cfg.Args = append([]string(nil), rest[1:]...)
	}

	return cfg, nil
}

// printFlagCategory prints flags matching the given names (helper for usage).
func printFlagCategory(fs *flag.FlagSet, out io.Writer, names []string) {
	fs.VisitAll(func(f *flag.Flag) {
		for _, name := range names {
			if f.Name == name {
				fmt.Fprintf(out, "  -%s %s\n    \t%s", f.Name, flagType(f), f.Usage)
				if f.DefValue != "" && f.DefValue != "false" && f.DefValue != "0" && f.DefValue != "0s" && f.DefValue != "[]" {
					fmt.Fprintf(out, " (default %s)", f.DefValue)
				}
				fmt.Fprintln(out)
				return
			}
		}
	})
}

// flagType returns a type hint for the flag value.
func flagType(f *flag.Flag) string {
	switch f.DefValue {
	case "true", "false":
		return ""
	}

	if _, ok := f.Value.(*stringList); ok {
		return "value"
	}

	if _, err := strconv.Atoi(f.DefValue); err == nil {
		return "int"
	}
	if _, err := time.ParseDuration(f.DefValue); err == nil {
		return "duration"
	}

	return "string"
}
