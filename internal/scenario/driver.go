package scenario

import (
	"context"
	"regexp"
	"time"

	"github.com/randomizedcoder/go-watch-harness/internal/monitor"
	"github.com/randomizedcoder/go-watch-harness/internal/process"
)

// Expectation is a pattern wait that is already observing output.
type Expectation interface {
	// Wait blocks until the pattern matches or the wait fails.
	Wait(ctx context.Context) (monitor.Result, error)
}

// Driver controls the watched processes.
type Driver interface {
	// Start launches the command and waits until its output matches.
	// The process keeps running after Start returns.
	Start(ctx context.Context, cmd process.Runner, pattern *regexp.Regexp, timeout time.Duration) (monitor.Result, error)

	// Expect registers a wait over output printed from now on by any
	// tracked process. Registration happens before Expect returns.
	Expect(pattern *regexp.Regexp, timeout time.Duration) Expectation

	// KillAll terminates every tracked process. Safe to call repeatedly.
	KillAll() error
}

// Filesystem mutates the watched sources.
type Filesystem interface {
	ReadFile(path string) (string, error)
	WriteFile(path, content string) error
	ReplaceInFile(path, search, replace string) error
}

// Sleeper pauses for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the default Sleeper.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NewDriver adapts a monitor to the Driver interface.
func NewDriver(m *monitor.Monitor) Driver {
	return &monitorDriver{m: m}
}

type monitorDriver struct {
	m *monitor.Monitor
}

func (d *monitorDriver) Start(ctx context.Context, cmd process.Runner, pattern *regexp.Regexp, timeout time.Duration) (monitor.Result, error) {
	_, res, err := d.m.StartAndWait(ctx, cmd, pattern, timeout)
	return res, err
}

func (d *monitorDriver) Expect(pattern *regexp.Regexp, timeout time.Duration) Expectation {
	return &monitorExpectation{w: d.m.Subscribe(pattern), timeout: timeout}
}

func (d *monitorDriver) KillAll() error {
	return d.m.KillAll()
}

type monitorExpectation struct {
	w       *monitor.Waiter
	timeout time.Duration
}

func (e *monitorExpectation) Wait(ctx context.Context) (monitor.Result, error) {
	return e.w.Wait(ctx, e.timeout)
}
