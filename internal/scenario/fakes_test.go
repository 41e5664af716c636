package scenario

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/randomizedcoder/go-watch-harness/internal/monitor"
	"github.com/randomizedcoder/go-watch-harness/internal/process"
)

// eventLog records collaborator calls in order.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, fmt.Sprintf(format, args...))
}

func (l *eventLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

// reply is a scripted wait outcome.
type reply struct {
	res monitor.Result
	err error
}

func matched(stderr string) reply {
	return reply{res: monitor.Result{Stderr: stderr, Match: "matched", ProcessID: "p1"}}
}

// fakeDriver returns scripted replies. Waits resolve in the order their
// expectations were registered.
type fakeDriver struct {
	log *eventLog

	start   reply
	waits   []reply
	killErr error

	mu      sync.Mutex
	next    int
	killed  int
	started bool
}

func (d *fakeDriver) Start(_ context.Context, cmd process.Runner, pattern *regexp.Regexp, _ time.Duration) (monitor.Result, error) {
	d.mu.Lock()
	d.started = true
	d.mu.Unlock()
	d.log.add("start %s /%s/", cmd.Name(), pattern)
	return d.start.res, d.start.err
}

func (d *fakeDriver) Expect(pattern *regexp.Regexp, _ time.Duration) Expectation {
	d.mu.Lock()
	defer d.mu.Unlock()
	r := reply{err: &monitor.TimeoutError{Pattern: pattern.String()}}
	if d.next < len(d.waits) {
		r = d.waits[d.next]
	}
	d.next++
	d.log.add("expect /%s/", pattern)
	return &fakeExpectation{r: r}
}

func (d *fakeDriver) KillAll() error {
	d.mu.Lock()
	d.killed++
	d.mu.Unlock()
	d.log.add("kill")
	return d.killErr
}

type fakeExpectation struct {
	r reply
}

func (e *fakeExpectation) Wait(context.Context) (monitor.Result, error) {
	return e.r.res, e.r.err
}

// memFS is an in-memory Filesystem.
type memFS struct {
	log   *eventLog
	mu    sync.Mutex
	files map[string]string

	// failWrite makes the nth WriteFile call (1-based) fail.
	failWrite int
	writes    int
}

var errDiskFull = errors.New("disk full")

func newMemFS(log *eventLog, files map[string]string) *memFS {
	return &memFS{log: log, files: files}
}

func (f *memFS) ReadFile(path string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.files[path]
	if !ok {
		return "", fmt.Errorf("open %s: file does not exist", path)
	}
	return c, nil
}

func (f *memFS) WriteFile(path, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	if f.failWrite == f.writes {
		f.log.add("write %s failed", path)
		return errDiskFull
	}
	f.files[path] = content
	f.log.add("write %s %q", path, content)
	return nil
}

func (f *memFS) ReplaceInFile(path, search, replace string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.files[path]
	if !ok {
		return fmt.Errorf("open %s: file does not exist", path)
	}
	f.files[path] = strings.Replace(c, search, replace, 1)
	f.log.add("replace %s %q", path, search)
	return nil
}

func (f *memFS) content(path string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.files[path]
}

func noSleep(context.Context, time.Duration) error { return nil }
