package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/randomizedcoder/go-watch-harness/internal/process"
	"github.com/randomizedcoder/go-watch-harness/internal/stream"
)

// Process is a watched external process and the output it has produced.
// It is safe for concurrent use.
type Process struct {
	id     string
	name   string
	cmd    *exec.Cmd
	logger *slog.Logger
	sink   stream.LineSink
	onWait func(WaitEvent)

	// Waiter registry
	mu      sync.Mutex
	waiters map[*Waiter]struct{}
	exited  bool

	readers []*stream.PipeReader

	state     atomic.Int32
	exitCode  atomic.Int32
	killing   atomic.Bool
	startTime time.Time
	endTime   time.Time // written before done is closed
	done      chan struct{}
}

func newProcess(name string, cmd *exec.Cmd, logger *slog.Logger, sink stream.LineSink, onWait func(WaitEvent)) *Process {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	p := &Process{
		id:      uuid.NewString(),
		name:    name,
		cmd:     cmd,
		logger:  logger,
		sink:    sink,
		onWait:  onWait,
		waiters: make(map[*Waiter]struct{}),
		done:    make(chan struct{}),
	}
	p.state.Store(int32(process.StateCreated))
	p.exitCode.Store(-1) // -1 indicates not exited
	return p
}

// ID returns the unique identifier for this process.
func (p *Process) ID() string {
	return p.id
}

// Name returns the human-readable process name.
func (p *Process) Name() string {
	return p.name
}

// PID returns the OS process ID, or -1 if not started.
func (p *Process) PID() int {
	if p.cmd == nil || p.cmd.Process == nil {
		return -1
	}
	return p.cmd.Process.Pid
}

// State returns the current lifecycle state.
func (p *Process) State() process.State {
	return process.State(p.state.Load())
}

// Alive returns true while the process may still produce output.
func (p *Process) Alive() bool {
	return p.State().IsAlive()
}

// ExitCode returns the exit code, or -1 if the process has not exited.
func (p *Process) ExitCode() int {
	return int(p.exitCode.Load())
}

// Done returns a channel that is closed when the process has exited and
// all of its output has been delivered.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Uptime returns how long the process ran (or has been running).
func (p *Process) Uptime() time.Duration {
	if p.startTime.IsZero() {
		return 0
	}
	select {
	case <-p.done:
		return p.endTime.Sub(p.startTime)
	default:
		return time.Since(p.startTime)
	}
}

// WriteChunk offers a raw read to every registered waiter. It implements
// stream.ChunkSink.
func (p *Process) WriteChunk(s stream.Name, chunk string) {
	p.mu.Lock()
	for w := range p.waiters {
		if w.offer(p, s, chunk) {
			delete(p.waiters, w)
		}
	}
	p.mu.Unlock()
}

// WriteLine forwards a complete line to the output sink. It implements
// stream.LineSink.
func (p *Process) WriteLine(s stream.Name, line string) {
	if p.sink != nil {
		p.sink.WriteLine(s, line)
	}
}

// Subscribe registers a waiter that sees only output printed from now on.
func (p *Process) Subscribe(pattern *regexp.Regexp) *Waiter {
	w := newWaiter(pattern, p.logger, p.onWait)
	w.attach([]*Process{p})
	p.logger.Debug("wait_registered", "pattern", pattern.String(), "process_id", p.id)
	return w
}

// WaitForNext waits until output printed after this call matches pattern.
func (p *Process) WaitForNext(ctx context.Context, pattern *regexp.Regexp, timeout time.Duration) (Result, error) {
	return p.Subscribe(pattern).Wait(ctx, timeout)
}

// addWaiter registers w. Returns false if the process already exited.
func (p *Process) addWaiter(w *Waiter) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited {
		return false
	}
	p.waiters[w] = struct{}{}
	return true
}

// removeWaiter unregisters w. Safe to call more than once.
func (p *Process) removeWaiter(w *Waiter) {
	p.mu.Lock()
	delete(p.waiters, w)
	p.mu.Unlock()
}

// start launches the command and the output readers.
func (p *Process) start(onExit func(*Process)) error {
	stdout, err := p.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := p.cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	p.startTime = time.Now()
	if err := p.cmd.Start(); err != nil {
		return err
	}
	p.state.Store(int32(process.StateRunning))

	p.readers = []*stream.PipeReader{
		stream.NewPipeReader(stdout, stream.Stdout, p),
		stream.NewPipeReader(stderr, stream.Stderr, p),
	}
	for _, r := range p.readers {
		go r.Run()
	}
	go p.reap(onExit)
	return nil
}

// reap waits for the output to drain and the process to exit.
func (p *Process) reap(onExit func(*Process)) {
	// Wait must not be called before all reads from the pipes are done.
	for _, r := range p.readers {
		<-r.Done()
	}
	waitErr := p.cmd.Wait()
	code := process.ExitCode(waitErr)
	p.exitCode.Store(int32(code))

	state := process.StateExited
	if p.killing.Load() {
		state = process.StateKilled
	}

	p.mu.Lock()
	p.exited = true
	p.endTime = time.Now()
	waiters := p.waiters
	p.waiters = make(map[*Waiter]struct{})
	p.mu.Unlock()

	p.state.Store(int32(state))
	close(p.done)

	for w := range waiters {
		w.processExited(p, code)
	}

	var outBytes, outLines int64
	for _, r := range p.readers {
		b, l, healthy := r.Stats()
		outBytes += b
		outLines += l
		if !healthy {
			p.logger.Warn("output_reader_failed",
				"process_id", p.id,
				"stream", r.Stream().String(),
				"error", r.Err(),
			)
		}
	}

	p.logger.Info("process_exited",
		"process_id", p.id,
		"name", p.name,
		"pid", p.PID(),
		"exit_code", code,
		"state", state.String(),
		"uptime", p.Uptime().String(),
		"output_bytes", outBytes,
		"output_lines", outLines,
	)

	if onExit != nil {
		onExit(p)
	}
}

// Kill stops the process group: SIGTERM first, then SIGKILL if it has not
// exited within timeout. Safe to call on an exited or never-started process.
func (p *Process) Kill(timeout time.Duration) error {
	if s := p.State(); s == process.StateCreated || s.IsTerminal() {
		return nil
	}

	p.killing.Store(true)
	if err := process.Interrupt(p.cmd); err != nil {
		p.logger.Debug("interrupt_failed", "process_id", p.id, "error", err)
	}

	select {
	case <-p.done:
		return nil
	case <-time.After(timeout):
	}

	p.logger.Warn("force_killing_process",
		"process_id", p.id,
		"pid", p.PID(),
	)
	if err := process.ForceKill(p.cmd); err != nil {
		return fmt.Errorf("kill %s (pid %d): %w", p.name, p.PID(), err)
	}

	select {
	case <-p.done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("process %s (pid %d) did not exit after SIGKILL", p.name, p.PID())
	}
}
