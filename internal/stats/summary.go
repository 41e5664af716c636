package stats

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// SummaryConfig holds configuration for summary formatting.
type SummaryConfig struct {
	// Command is the watch command line
	Command string

	// Target is the mutated source file
	Target string

	// Outcome is passed, failed or skipped
	Outcome    string
	SkipReason string

	// Failure is the scenario error message, if any
	Failure string

	// FailedStep names the step that failed
	FailedStep string

	// FailureKind classifies the failure (timeout, process exited, ...)
	FailureKind string

	// OutputTail is the rendered recent process output, shown on failure
	OutputTail string

	// ErrorCounts are build-error marker counts (from logging.OutputHandler)
	ErrorCounts map[string]int

	// OutputLines is the number of process output lines seen
	OutputLines int64

	// MetricsAddr is the Prometheus metrics endpoint address
	MetricsAddr string

	// MetricsDump is the file the metrics were written to
	MetricsDump string
}

const (
	rule     = "═══════════════════════════════════════════════════════════════════════════════\n"
	thinRule = "───────────────────────────────────────────────────────────────────────────────\n"
)

// FormatExitSummary formats the run for display at program exit.
func FormatExitSummary(snap *Snapshot, cfg SummaryConfig) string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(rule)
	b.WriteString("                           watch-harness Exit Summary\n")
	b.WriteString(rule + "\n")

	fmt.Fprintf(&b, "Outcome:                %s\n", strings.ToUpper(cfg.Outcome))
	if cfg.SkipReason != "" {
		fmt.Fprintf(&b, "Skip Reason:            %s\n", cfg.SkipReason)
	}
	if cfg.Command != "" {
		fmt.Fprintf(&b, "Command:                %s\n", cfg.Command)
	}
	if cfg.Target != "" {
		fmt.Fprintf(&b, "Target File:            %s\n", cfg.Target)
	}
	if snap != nil {
		fmt.Fprintf(&b, "Run Duration:           %s\n", FormatDuration(snap.Elapsed))
	}
	b.WriteString("\n")

	if snap != nil && len(snap.Steps) > 0 {
		section(&b, "Steps")
		for _, st := range snap.Steps {
			dur := "-"
			if st.Duration > 0 {
				dur = FormatMs(st.Duration)
			}
			fmt.Fprintf(&b, "  %2d  %-22s %-8s %10s\n", st.Index+1, st.Name, st.Status, dur)
		}
		b.WriteString("\n")
	}

	if snap != nil && len(snap.Outcomes) > 0 {
		section(&b, "Rebuild Waits")
		for _, o := range snap.SortedOutcomes() {
			fmt.Fprintf(&b, "  %-20s %d\n", o+":", snap.Outcomes[o])
		}
		if snap.WaitCount > 0 {
			b.WriteString("\n")
			fmt.Fprintf(&b, "  Min:                 %s\n", FormatMs(snap.WaitMin))
			fmt.Fprintf(&b, "  Mean:                %s\n", FormatMs(snap.WaitMean))
			fmt.Fprintf(&b, "  P50 (median):        %s\n", FormatMs(snap.WaitP50))
			fmt.Fprintf(&b, "  P95:                 %s\n", FormatMs(snap.WaitP95))
			fmt.Fprintf(&b, "  P99:                 %s\n", FormatMs(snap.WaitP99))
			fmt.Fprintf(&b, "  Max:                 %s\n", FormatMs(snap.WaitMax))
		}
		b.WriteString("\n")
	}

	if snap != nil && (snap.ProcessStarts > 0 || len(snap.ExitCodes) > 0) {
		section(&b, "Processes")
		fmt.Fprintf(&b, "  Total Starts:         %d\n", snap.ProcessStarts)
		fmt.Fprintf(&b, "  Output Lines:         %s\n", FormatNumber(cfg.OutputLines))

		// Sort exit codes for consistent output
		codes := make([]int, 0, len(snap.ExitCodes))
		for code := range snap.ExitCodes {
			codes = append(codes, code)
		}
		sort.Ints(codes)
		for _, code := range codes {
			fmt.Fprintf(&b, "  exit %3d %-16s %d\n", code, exitCodeLabel(code), snap.ExitCodes[code])
		}
		b.WriteString("\n")
	}

	if len(cfg.ErrorCounts) > 0 {
		section(&b, "Build Errors Seen")
		markers := make([]string, 0, len(cfg.ErrorCounts))
		for m := range cfg.ErrorCounts {
			markers = append(markers, m)
		}
		sort.Strings(markers)
		for _, m := range markers {
			fmt.Fprintf(&b, "  %-20s %d\n", m, cfg.ErrorCounts[m])
		}
		b.WriteString("\n")
	}

	if cfg.Failure != "" {
		section(&b, "Failure")
		if cfg.FailedStep != "" {
			fmt.Fprintf(&b, "Step:                   %s\n", cfg.FailedStep)
		}
		if cfg.FailureKind != "" {
			fmt.Fprintf(&b, "Kind:                   %s\n", cfg.FailureKind)
		}
		for _, line := range strings.Split(strings.TrimRight(cfg.Failure, "\n"), "\n") {
			fmt.Fprintf(&b, "  %s\n", line)
		}
		b.WriteString("\n")
		if cfg.OutputTail != "" {
			section(&b, "Recent Output")
			b.WriteString(cfg.OutputTail)
			b.WriteString("\n")
		}
	}

	if cfg.MetricsAddr != "" {
		fmt.Fprintf(&b, "Metrics endpoint was: http://%s/metrics\n", cfg.MetricsAddr)
	}
	if cfg.MetricsDump != "" {
		fmt.Fprintf(&b, "Metrics written to:   %s\n", cfg.MetricsDump)
	}

	b.WriteString(rule)

	return b.String()
}

func section(b *strings.Builder, title string) {
	b.WriteString(thinRule)
	pad := (len([]rune(thinRule)) - 1 - len(title)) / 2
	if pad < 0 {
		pad = 0
	}
	b.WriteString(strings.Repeat(" ", pad) + title + "\n")
	b.WriteString(thinRule + "\n")
}

// exitCodeLabel returns a human-readable label for common exit codes.
func exitCodeLabel(code int) string {
	switch code {
	case 0:
		return "(clean)"
	case 1:
		return "(error)"
	case 127:
		return "(not found)"
	case 130:
		return "(SIGINT)"
	case 137:
		return "(SIGKILL)"
	case 143:
		return "(SIGTERM)"
	default:
		return ""
	}
}

// =============================================================================
// Formatting Helper Functions (exported for reuse)
// =============================================================================

// FormatDuration formats a duration as HH:MM:SS.
func FormatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// FormatNumber formats a number with K/M suffixes for readability.
func FormatNumber(n int64) string {
	if n >= 1_000_000 {
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	}
	return fmt.Sprintf("%d", n)
}

// FormatMs formats a duration as milliseconds.
func FormatMs(d time.Duration) string {
	ms := d.Milliseconds()
	if ms == 0 && d > 0 {
		// Sub-millisecond, show microseconds
		return fmt.Sprintf("%d µs", d.Microseconds())
	}
	return fmt.Sprintf("%d ms", ms)
}
