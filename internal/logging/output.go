package logging

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/randomizedcoder/go-watch-harness/internal/stream"
)

const (
	// MaxLineLength is the maximum length of a single output line before truncation.
	MaxLineLength = 4096

	// DefaultTailLines is the number of recent lines kept when no size is given.
	DefaultTailLines = 100
)

// Line is one line of process output.
type Line struct {
	Stream stream.Name
	Text   string
}

// OutputHandler receives the output of watched processes.
// It keeps recent lines for failure reports and logs them.
type OutputHandler struct {
	logger  *slog.Logger
	verbose bool

	// Circular buffer for recent lines
	mu     sync.Mutex
	buffer []Line
	bufIdx int
	total  int64
	counts map[string]int
}

// NewOutputHandler creates a handler that keeps the last size lines.
func NewOutputHandler(logger *slog.Logger, verbose bool, size int) *OutputHandler {
	if logger == nil {
		logger = Discard()
	}
	if size <= 0 {
		size = DefaultTailLines
	}
	return &OutputHandler{
		logger:  logger,
		verbose: verbose,
		buffer:  make([]Line, size),
		counts:  make(map[string]int),
	}
}

// WriteLine implements stream.LineSink.
func (h *OutputHandler) WriteLine(s stream.Name, line string) {
	// Truncate if too long
	if len(line) > MaxLineLength {
		line = line[:MaxLineLength] + "...(truncated)"
	}

	h.mu.Lock()
	h.buffer[h.bufIdx] = Line{Stream: s, Text: line}
	h.bufIdx = (h.bufIdx + 1) % len(h.buffer)
	h.total++
	for _, pattern := range ErrorPatterns {
		if strings.Contains(line, pattern) {
			h.counts[pattern]++
		}
	}
	h.mu.Unlock()

	h.logLine(s, line)
}

// logLine logs the line at appropriate level based on content.
func (h *OutputHandler) logLine(s stream.Name, line string) {
	level := classifyLine(line)

	// In non-verbose mode, only log warnings and errors
	if !h.verbose && level == slog.LevelDebug {
		return
	}

	h.logger.Log(context.Background(), level, "process_output",
		"stream", s.String(),
		"line", line,
	)
}

// classifyLine determines the log level for a line based on content.
func classifyLine(line string) slog.Level {
	lower := strings.ToLower(line)

	// Build errors
	if strings.Contains(lower, "error in") ||
		strings.Contains(lower, "error ts") ||
		strings.Contains(lower, "failed to compile") ||
		strings.Contains(lower, "module not found") ||
		strings.Contains(lower, "[error]") {
		return slog.LevelWarn
	}

	// Warning patterns
	if strings.Contains(lower, "warning in") ||
		strings.Contains(lower, "[warning]") {
		return slog.LevelWarn
	}

	// Progress, banners and success lines
	return slog.LevelDebug
}

// RecentLines returns up to n of the most recent lines, oldest first.
func (h *OutputHandler) RecentLines(n int) []Line {
	h.mu.Lock()
	defer h.mu.Unlock()

	size := len(h.buffer)
	if n > size {
		n = size
	}
	if int64(n) > h.total {
		n = int(h.total)
	}

	lines := make([]Line, 0, n)
	for i := 0; i < n; i++ {
		idx := (h.bufIdx - n + i + size) % size
		lines = append(lines, h.buffer[idx])
	}
	return lines
}

// Total returns the number of lines seen.
func (h *OutputHandler) Total() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.total
}

// ErrorPatterns are build-error markers counted for the exit summary.
var ErrorPatterns = []string{
	"ERROR in",
	"WARNING in",
	"error TS",
	"Module not found",
	"Failed to compile",
}

// CountErrors returns how often each error pattern has been printed.
func (h *OutputHandler) CountErrors() map[string]int {
	h.mu.Lock()
	defer h.mu.Unlock()

	counts := make(map[string]int, len(h.counts))
	for k, v := range h.counts {
		counts[k] = v
	}
	return counts
}

// FormatTail renders the recent lines for a failure report.
func FormatTail(lines []Line) string {
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l.Stream.String())
		b.WriteString(" | ")
		b.WriteString(l.Text)
		b.WriteByte('\n')
	}
	return b.String()
}

var _ stream.LineSink = (*OutputHandler)(nil)
