package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/randomizedcoder/go-watch-harness/internal/stream"
)

// DefaultWaitTimeout applies when a wait is given a non-positive timeout.
const DefaultWaitTimeout = 20 * time.Second

// WaitOutcome classifies how a wait ended.
type WaitOutcome string

const (
	WaitMatched   WaitOutcome = "matched"
	WaitTimeout   WaitOutcome = "timeout"
	WaitExited    WaitOutcome = "exited"
	WaitCancelled WaitOutcome = "cancelled"
)

// WaitEvent is reported to Callbacks.OnWait when a wait ends.
type WaitEvent struct {
	Pattern string
	Outcome WaitOutcome
	Elapsed time.Duration
	Err     error
}

// Waiter observes output appended after its registration and resolves as
// soon as the output accumulated on one stream matches its pattern. The
// output is scanned after every read, so a match does not need a line
// terminator and may span lines.
type Waiter struct {
	pattern    *regexp.Regexp
	registered time.Time
	procs      []*Process
	logger     *slog.Logger
	onWait     func(WaitEvent)

	mu      sync.Mutex
	stdout  strings.Builder
	stderr  strings.Builder
	matched bool
	result  Result
	pending int // attached processes still running
	lastID  string
	lastRC  int

	matchCh  chan struct{} // closed on match
	exitedCh chan struct{} // closed when every attached process exited
}

func newWaiter(pattern *regexp.Regexp, logger *slog.Logger, onWait func(WaitEvent)) *Waiter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Waiter{
		pattern:    pattern,
		registered: time.Now(),
		logger:     logger,
		onWait:     onWait,
		matchCh:    make(chan struct{}),
		exitedCh:   make(chan struct{}),
	}
}

// attach registers the waiter with each process. Processes that already
// exited are skipped. Must be called once, before the waiter is shared.
func (w *Waiter) attach(procs []*Process) {
	for _, p := range procs {
		if p.addWaiter(w) {
			w.procs = append(w.procs, p)
		}
	}
	w.mu.Lock()
	// A process may exit between addWaiter and here; processExited only
	// decrements, so count those that are still registered.
	w.pending += len(w.procs)
	if w.pending <= 0 && len(w.procs) > 0 {
		close(w.exitedCh)
	}
	w.mu.Unlock()
}

// Pattern returns the pattern source.
func (w *Waiter) Pattern() string {
	return w.pattern.String()
}

// offer appends a chunk of output and rescans the stream it belongs to.
// It returns true once the waiter no longer needs output from p. Called
// with p.mu held.
func (w *Waiter) offer(p *Process, s stream.Name, chunk string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.matched {
		return true
	}

	buf := &w.stdout
	if s == stream.Stderr {
		buf = &w.stderr
	}
	buf.WriteString(chunk)

	text := buf.String()
	loc := w.pattern.FindStringIndex(text)
	if loc == nil {
		return false
	}

	w.matched = true
	w.result = Result{
		Stdout:    w.stdout.String(),
		Stderr:    w.stderr.String(),
		Match:     enclosingLines(text, loc[0], loc[1]),
		Stream:    s,
		ProcessID: p.ID(),
		Elapsed:   time.Since(w.registered),
	}
	close(w.matchCh)
	return true
}

// enclosingLines widens text[start:end] to the lines it touches, without
// their terminators.
func enclosingLines(text string, start, end int) string {
	if i := strings.LastIndexAny(text[:start], "\r\n"); i >= 0 {
		start = i + 1
	}
	if end > start && (text[end-1] == '\n' || text[end-1] == '\r') {
		end--
	} else if i := strings.IndexAny(text[end:], "\r\n"); i >= 0 {
		end += i
	} else {
		end = len(text)
	}
	if end < start {
		end = start
	}
	return text[start:end]
}

// processExited is called by a process's reaper for every waiter still
// registered when the process ends.
func (w *Waiter) processExited(p *Process, exitCode int) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.lastID = p.ID()
	w.lastRC = exitCode
	w.pending--
	if w.pending == 0 {
		close(w.exitedCh)
	}
}

// detach removes the waiter from every process it was attached to.
func (w *Waiter) detach() {
	for _, p := range w.procs {
		p.removeWaiter(w)
	}
}

// partial snapshots the captured output of an unmatched wait.
func (w *Waiter) partial() Result {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Result{
		Stdout:  w.stdout.String(),
		Stderr:  w.stderr.String(),
		Elapsed: time.Since(w.registered),
	}
}

// matchedResult returns the result if the waiter matched.
func (w *Waiter) matchedResult() (Result, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.result, w.matched
}

// Wait blocks until the output matches, the timeout elapses, every attached
// process exits, or ctx is done. A non-positive timeout means
// DefaultWaitTimeout.
func (w *Waiter) Wait(ctx context.Context, timeout time.Duration) (Result, error) {
	if timeout <= 0 {
		timeout = DefaultWaitTimeout
	}
	if len(w.procs) == 0 {
		return Result{}, fmt.Errorf("waiting for %q: %w", w.Pattern(), ErrNoProcesses)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var (
		res     Result
		err     error
		outcome WaitOutcome
	)

	select {
	case <-w.matchCh:
	case <-timer.C:
		err = &TimeoutError{Pattern: w.Pattern(), Timeout: timeout}
		outcome = WaitTimeout
	case <-w.exitedCh:
		w.mu.Lock()
		err = &ExitError{Pattern: w.Pattern(), ProcessID: w.lastID, ExitCode: w.lastRC}
		w.mu.Unlock()
		outcome = WaitExited
	case <-ctx.Done():
		err = fmt.Errorf("waiting for %q: %w", w.Pattern(), ctx.Err())
		outcome = WaitCancelled
	}

	w.detach()

	// A match that raced with the timeout, exit or cancellation wins.
	if matched, ok := w.matchedResult(); ok {
		res, err, outcome = matched, nil, WaitMatched
	} else {
		res = w.partial()
		switch e := err.(type) {
		case *TimeoutError:
			e.Partial = res
		case *ExitError:
			e.Partial = res
		}
	}

	w.report(outcome, res, err)
	return res, err
}

// report logs the outcome and notifies the callback.
func (w *Waiter) report(outcome WaitOutcome, res Result, err error) {
	switch outcome {
	case WaitMatched:
		w.logger.Info("wait_matched",
			"pattern", w.Pattern(),
			"stream", res.Stream.String(),
			"line", res.Match,
			"elapsed", res.Elapsed.String(),
		)
	default:
		w.logger.Warn("wait_failed",
			"pattern", w.Pattern(),
			"outcome", string(outcome),
			"elapsed", res.Elapsed.String(),
			"error", err,
		)
	}

	if w.onWait != nil {
		w.onWait(WaitEvent{
			Pattern: w.Pattern(),
			Outcome: outcome,
			Elapsed: res.Elapsed,
			Err:     err,
		})
	}
}
