package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/randomizedcoder/go-watch-harness/internal/process"
	"github.com/randomizedcoder/go-watch-harness/internal/stream"
)

// DefaultKillTimeout is how long KillAll waits after SIGTERM before SIGKILL.
const DefaultKillTimeout = 5 * time.Second

// Callbacks contains optional callback functions for monitor events.
type Callbacks struct {
	// OnStart is called when a process starts.
	OnStart func(p *Process)

	// OnExit is called when a process exits and its output is drained.
	OnExit func(p *Process, exitCode int, uptime time.Duration)

	// OnWait is called when any wait ends.
	OnWait func(ev WaitEvent)
}

// Config holds configuration for creating a new Monitor.
type Config struct {
	Logger    *slog.Logger
	Callbacks Callbacks

	// Output receives every line of every process (logging, metrics, TUI).
	Output stream.LineSink

	// KillTimeout is the grace period between SIGTERM and SIGKILL.
	KillTimeout time.Duration
}

// Monitor tracks the processes it spawned and provides bounded waits over
// their output.
type Monitor struct {
	logger      *slog.Logger
	callbacks   Callbacks
	output      stream.LineSink
	killTimeout time.Duration

	mu    sync.Mutex
	procs []*Process
}

// New creates a new Monitor.
func New(cfg Config) *Monitor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	killTimeout := cfg.KillTimeout
	if killTimeout <= 0 {
		killTimeout = DefaultKillTimeout
	}
	return &Monitor{
		logger:      logger,
		callbacks:   cfg.Callbacks,
		output:      cfg.Output,
		killTimeout: killTimeout,
	}
}

// Start spawns the process without waiting for any output.
func (m *Monitor) Start(ctx context.Context, runner process.Runner) (*Process, error) {
	p, _, err := m.spawn(ctx, runner, nil)
	return p, err
}

// StartAndWait spawns the process and blocks until a line of its output
// matches pattern, or timeout elapses. Output is observed from the first
// byte. On success the process keeps running and the Result holds all of
// its output up to the match.
//
// On failure the process is still tracked; callers release it with KillAll.
func (m *Monitor) StartAndWait(ctx context.Context, runner process.Runner, pattern *regexp.Regexp, timeout time.Duration) (*Process, Result, error) {
	p, w, err := m.spawn(ctx, runner, pattern)
	if err != nil {
		return nil, Result{}, err
	}
	res, err := w.Wait(ctx, timeout)
	return p, res, err
}

// spawn builds and starts the command. When pattern is non-nil a waiter is
// registered before the process starts.
func (m *Monitor) spawn(ctx context.Context, runner process.Runner, pattern *regexp.Regexp) (*Process, *Waiter, error) {
	cmd, err := runner.BuildCommand(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("build %s command: %w", runner.Name(), err)
	}

	p := newProcess(runner.Name(), cmd, m.logger, m.output, m.callbacks.OnWait)

	var w *Waiter
	if pattern != nil {
		w = newWaiter(pattern, m.logger, m.callbacks.OnWait)
		w.attach([]*Process{p})
	}

	if err := p.start(m.handleExit); err != nil {
		m.logger.Error("failed_to_start_process",
			"name", runner.Name(),
			"error", err,
		)
		return nil, nil, fmt.Errorf("start %s: %w", runner.Name(), err)
	}

	m.mu.Lock()
	m.procs = append(m.procs, p)
	m.mu.Unlock()

	m.logger.Info("process_started",
		"process_id", p.ID(),
		"name", p.Name(),
		"pid", p.PID(),
	)
	if m.callbacks.OnStart != nil {
		m.callbacks.OnStart(p)
	}
	return p, w, nil
}

func (m *Monitor) handleExit(p *Process) {
	if m.callbacks.OnExit != nil {
		m.callbacks.OnExit(p, p.ExitCode(), p.Uptime())
	}
}

// Subscribe registers a waiter on every live tracked process. It sees only
// lines printed after this call returns.
func (m *Monitor) Subscribe(pattern *regexp.Regexp) *Waiter {
	w := newWaiter(pattern, m.logger, m.callbacks.OnWait)
	w.attach(m.Processes())
	m.logger.Debug("wait_registered", "pattern", pattern.String(), "processes", len(w.procs))
	return w
}

// WaitForNext waits until any tracked process prints a line, after this
// call, that matches pattern.
func (m *Monitor) WaitForNext(ctx context.Context, pattern *regexp.Regexp, timeout time.Duration) (Result, error) {
	return m.Subscribe(pattern).Wait(ctx, timeout)
}

// Processes returns the tracked processes, oldest first.
func (m *Monitor) Processes() []*Process {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Process, len(m.procs))
	copy(out, m.procs)
	return out
}

// LiveCount returns the number of tracked processes that are still running.
func (m *Monitor) LiveCount() int {
	n := 0
	for _, p := range m.Processes() {
		if p.Alive() {
			n++
		}
	}
	return n
}

// KillAll stops every tracked process and forgets them. It is idempotent
// and safe to call when processes already exited.
func (m *Monitor) KillAll() error {
	m.mu.Lock()
	procs := m.procs
	m.procs = nil
	m.mu.Unlock()

	if len(procs) == 0 {
		return nil
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, p := range procs {
		wg.Add(1)
		go func(p *Process) {
			defer wg.Done()
			if err := p.Kill(m.killTimeout); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(p)
	}
	wg.Wait()

	m.logger.Info("processes_killed", "count", len(procs), "errors", len(errs))
	return errors.Join(errs...)
}
