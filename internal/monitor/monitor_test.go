package monitor

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/randomizedcoder/go-watch-harness/internal/process"
	"github.com/randomizedcoder/go-watch-harness/internal/stream"
)

// =============================================================================
// Test Helpers
// =============================================================================

// requireShell skips the test if a POSIX shell is not available.
func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("process group tests need a POSIX shell")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not found in PATH")
	}
}

// shell returns a runner that executes script with sh -c.
func shell(script string, env ...string) *process.Command {
	c := process.NewCommand("sh", "-c", script)
	c.Env = env
	return c
}

// newTestMonitor returns a monitor that is killed at test cleanup.
func newTestMonitor(t *testing.T, cfg Config) *Monitor {
	t.Helper()
	if cfg.KillTimeout == 0 {
		cfg.KillTimeout = time.Second
	}
	m := New(cfg)
	t.Cleanup(func() { m.KillAll() })
	return m
}

// lineRecorder is a stream.LineSink that records lines.
type lineRecorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *lineRecorder) WriteLine(s stream.Name, line string) {
	r.mu.Lock()
	r.lines = append(r.lines, s.String()+":"+line)
	r.mu.Unlock()
}

func (r *lineRecorder) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

var (
	successRe = regexp.MustCompile(`webpack: Compiled successfully`)
	failedRe  = regexp.MustCompile(`webpack: Failed to compile`)
)

// =============================================================================
// StartAndWait
// =============================================================================

func TestStartAndWait_MatchesAndKeepsRunning(t *testing.T) {
	requireShell(t)
	m := newTestMonitor(t, Config{})

	p, res, err := m.StartAndWait(context.Background(),
		shell(`echo "building"; echo "webpack: Compiled successfully."; sleep 10`),
		successRe, 5*time.Second)
	if err != nil {
		t.Fatalf("StartAndWait() error = %v", err)
	}

	if res.Match != "webpack: Compiled successfully." {
		t.Errorf("Match = %q", res.Match)
	}
	if res.Stream != stream.Stdout {
		t.Errorf("Stream = %v, want stdout", res.Stream)
	}
	if !strings.Contains(res.Stdout, "building\n") {
		t.Errorf("Stdout should hold output from the first byte, got %q", res.Stdout)
	}
	if !res.Matched() || res.ProcessID != p.ID() {
		t.Errorf("ProcessID = %q, want %q", res.ProcessID, p.ID())
	}
	if !p.Alive() {
		t.Error("process should still be running after the match")
	}
	if p.PID() <= 0 {
		t.Errorf("PID() = %d", p.PID())
	}
	if m.LiveCount() != 1 {
		t.Errorf("LiveCount() = %d, want 1", m.LiveCount())
	}
}

func TestStartAndWait_CapturesBothStreams(t *testing.T) {
	requireShell(t)
	m := newTestMonitor(t, Config{})

	_, res, err := m.StartAndWait(context.Background(),
		shell(`echo "ERROR in Unexpected value 'AppComponent'" >&2; sleep 0.2; echo "webpack: Failed to compile."; sleep 10`),
		failedRe, 5*time.Second)
	if err != nil {
		t.Fatalf("StartAndWait() error = %v", err)
	}
	if !strings.Contains(res.Stderr, "Unexpected value 'AppComponent'") {
		t.Errorf("Stderr = %q, want the error signature", res.Stderr)
	}
	if !strings.Contains(res.Stdout, "webpack: Failed to compile.") {
		t.Errorf("Stdout = %q", res.Stdout)
	}
}

func TestStartAndWait_Timeout(t *testing.T) {
	requireShell(t)
	m := newTestMonitor(t, Config{})

	p, _, err := m.StartAndWait(context.Background(),
		shell(`echo "hello"; echo "warning" >&2; sleep 10`),
		regexp.MustCompile(`never printed`), 300*time.Millisecond)

	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want *TimeoutError", err)
	}
	if !IsTimeout(err) {
		t.Error("IsTimeout() = false")
	}
	if te.Timeout != 300*time.Millisecond {
		t.Errorf("Timeout = %v", te.Timeout)
	}

	partial, ok := PartialResult(err)
	if !ok {
		t.Fatal("PartialResult() found nothing")
	}
	if !strings.Contains(partial.Stdout, "hello") || !strings.Contains(partial.Stderr, "warning") {
		t.Errorf("partial = %+v, want captured output", partial)
	}
	if !strings.Contains(err.Error(), "warning") {
		t.Errorf("error message should embed stderr, got %q", err.Error())
	}
	if p == nil || !p.Alive() {
		t.Error("process should still be tracked and running after a timeout")
	}
}

func TestStartAndWait_ExitBeforeMatch(t *testing.T) {
	requireShell(t)
	m := newTestMonitor(t, Config{})

	p, _, err := m.StartAndWait(context.Background(),
		shell(`echo "bye" >&2; exit 3`),
		successRe, 5*time.Second)

	var ee *ExitError
	if !errors.As(err, &ee) {
		t.Fatalf("err = %v, want *ExitError", err)
	}
	if ee.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", ee.ExitCode)
	}
	if ee.ProcessID != p.ID() {
		t.Errorf("ProcessID = %q, want %q", ee.ProcessID, p.ID())
	}
	if !strings.Contains(ee.Result().Stderr, "bye") {
		t.Errorf("partial stderr = %q", ee.Result().Stderr)
	}
	if p.State() != process.StateExited {
		t.Errorf("State() = %v, want exited", p.State())
	}
}

func TestStartAndWait_MatchOnLastLineBeforeExit(t *testing.T) {
	requireShell(t)
	m := newTestMonitor(t, Config{})

	_, res, err := m.StartAndWait(context.Background(),
		shell(`echo "webpack: Compiled successfully."`),
		successRe, 5*time.Second)
	if err != nil {
		t.Fatalf("StartAndWait() error = %v, want the match to win over the exit", err)
	}
	if res.Match == "" {
		t.Error("Match should be set")
	}
}

func TestStartAndWait_MarkerWithoutNewline(t *testing.T) {
	requireShell(t)
	m := newTestMonitor(t, Config{})

	_, res, err := m.StartAndWait(context.Background(),
		shell(`printf 'webpack: Compiled successfully'; sleep 10`),
		successRe, 5*time.Second)
	if err != nil {
		t.Fatalf("StartAndWait() error = %v, want a match before the line ends", err)
	}
	if res.Match != "webpack: Compiled successfully" {
		t.Errorf("Match = %q", res.Match)
	}
}

func TestStartAndWait_PatternSpansLines(t *testing.T) {
	requireShell(t)
	m := newTestMonitor(t, Config{})

	_, res, err := m.StartAndWait(context.Background(),
		shell(`echo "webpack: Failed to compile."; sleep 0.1; echo "ERROR in app.component.ts"; sleep 10`),
		regexp.MustCompile(`Failed to compile\.\nERROR in`), 5*time.Second)
	if err != nil {
		t.Fatalf("StartAndWait() error = %v", err)
	}
	if !strings.HasSuffix(res.Stdout, "ERROR in app.component.ts\n") {
		t.Errorf("Stdout = %q", res.Stdout)
	}
}

func TestStartAndWait_StartErrors(t *testing.T) {
	m := newTestMonitor(t, Config{})

	if _, _, err := m.StartAndWait(context.Background(), process.NewCommand(""), successRe, time.Second); err == nil {
		t.Error("expected error for empty command")
	}

	_, _, err := m.StartAndWait(context.Background(),
		process.NewCommand("definitely-not-a-real-binary-8c1f"), successRe, time.Second)
	if err == nil {
		t.Error("expected error for missing binary")
	}
	if len(m.Processes()) != 0 {
		t.Errorf("failed starts should not be tracked, got %d", len(m.Processes()))
	}
}

// =============================================================================
// WaitForNext
// =============================================================================

func TestWaitForNext_IgnoresStaleOutput(t *testing.T) {
	requireShell(t)
	m := newTestMonitor(t, Config{})

	_, _, err := m.StartAndWait(context.Background(),
		shell(`echo "webpack: Compiled successfully."; sleep 10`),
		successRe, 5*time.Second)
	if err != nil {
		t.Fatalf("StartAndWait() error = %v", err)
	}

	// The only success line was already consumed by the first wait.
	_, err = m.WaitForNext(context.Background(), successRe, 300*time.Millisecond)
	if !IsTimeout(err) {
		t.Fatalf("err = %v, want timeout (no re-match of stale output)", err)
	}
}

func TestWaitForNext_SeesOnlyNewOutput(t *testing.T) {
	requireShell(t)
	trigger := filepath.Join(t.TempDir(), "trigger")
	m := newTestMonitor(t, Config{})

	script := `echo "webpack: Compiled successfully."
echo "initial" >&2
while [ ! -f "$TRIGGER" ]; do sleep 0.05; done
echo "ERROR in app.component.ts: Declaration or statement expected." >&2
echo "webpack: Compiled successfully."
sleep 10`

	_, _, err := m.StartAndWait(context.Background(), shell(script, "TRIGGER="+trigger), successRe, 5*time.Second)
	if err != nil {
		t.Fatalf("StartAndWait() error = %v", err)
	}
	// Let "initial" arrive before the new wait is registered.
	time.Sleep(100 * time.Millisecond)

	w := m.Subscribe(successRe)
	if err := os.WriteFile(trigger, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	res, err := w.Wait(context.Background(), 5*time.Second)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	if !strings.Contains(res.Stderr, "Declaration or statement expected.") {
		t.Errorf("Stderr = %q, want the new error line", res.Stderr)
	}
	if strings.Contains(res.Stderr, "initial") {
		t.Errorf("Stderr = %q, must not include output printed before registration", res.Stderr)
	}
	if strings.Count(res.Stdout, "Compiled successfully") != 1 {
		t.Errorf("Stdout = %q, want exactly the new success line", res.Stdout)
	}
}

func TestProcess_WaitForNext(t *testing.T) {
	requireShell(t)
	m := newTestMonitor(t, Config{})

	p, err := m.Start(context.Background(), shell(`sleep 0.2; echo "tick"; sleep 10`))
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	res, err := p.WaitForNext(context.Background(), regexp.MustCompile(`(?m)^tick$`), 5*time.Second)
	if err != nil {
		t.Fatalf("WaitForNext() error = %v", err)
	}
	if res.Match != "tick" {
		t.Errorf("Match = %q, want tick", res.Match)
	}
	if res.Stdout != "tick\n" {
		t.Errorf("Stdout = %q", res.Stdout)
	}
}

func TestWaitForNext_NoProcesses(t *testing.T) {
	m := newTestMonitor(t, Config{})
	_, err := m.WaitForNext(context.Background(), successRe, time.Second)
	if !errors.Is(err, ErrNoProcesses) {
		t.Errorf("err = %v, want ErrNoProcesses", err)
	}
}

func TestWaitForNext_ContextCancelled(t *testing.T) {
	requireShell(t)
	m := newTestMonitor(t, Config{})
	if _, err := m.Start(context.Background(), shell(`echo "up"; sleep 10`)); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	_, err := m.WaitForNext(ctx, successRe, 5*time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

// =============================================================================
// KillAll
// =============================================================================

func TestKillAll_StopsEverything(t *testing.T) {
	requireShell(t)
	m := newTestMonitor(t, Config{})

	var procs []*Process
	for i := 0; i < 3; i++ {
		p, err := m.Start(context.Background(), shell(`sleep 30`))
		if err != nil {
			t.Fatal(err)
		}
		procs = append(procs, p)
	}
	if m.LiveCount() != 3 {
		t.Fatalf("LiveCount() = %d, want 3", m.LiveCount())
	}

	if err := m.KillAll(); err != nil {
		t.Fatalf("KillAll() error = %v", err)
	}
	for i, p := range procs {
		if p.Alive() {
			t.Errorf("process %d still alive", i)
		}
		if p.State() != process.StateKilled {
			t.Errorf("process %d state = %v, want killed", i, p.State())
		}
	}
	if m.LiveCount() != 0 || len(m.Processes()) != 0 {
		t.Errorf("monitor should forget killed processes")
	}

	// Idempotent.
	if err := m.KillAll(); err != nil {
		t.Errorf("second KillAll() error = %v", err)
	}
}

func TestKillAll_AlreadyExited(t *testing.T) {
	requireShell(t)
	m := newTestMonitor(t, Config{})

	p, err := m.Start(context.Background(), shell(`exit 0`))
	if err != nil {
		t.Fatal(err)
	}
	<-p.Done()

	if err := m.KillAll(); err != nil {
		t.Errorf("KillAll() error = %v", err)
	}
	if p.State() != process.StateExited {
		t.Errorf("State() = %v, want exited", p.State())
	}
}

func TestKillAll_EscalatesToSIGKILL(t *testing.T) {
	requireShell(t)
	m := newTestMonitor(t, Config{KillTimeout: 200 * time.Millisecond})

	// SIGTERM is ignored by the shell and inherited by sleep.
	_, _, err := m.StartAndWait(context.Background(),
		shell(`trap '' TERM; echo "up"; sleep 30`),
		regexp.MustCompile(`(?m)^up$`), 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	if err := m.KillAll(); err != nil {
		t.Fatalf("KillAll() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 200*time.Millisecond {
		t.Errorf("KillAll took %v, expected it to wait for the grace period", elapsed)
	}
}

func TestKill_NeverStarted(t *testing.T) {
	p := newProcess("x", nil, nil, nil, nil)
	if err := p.Kill(time.Millisecond); err != nil {
		t.Errorf("Kill() = %v, want nil", err)
	}
	if p.PID() != -1 {
		t.Errorf("PID() = %d, want -1", p.PID())
	}
	if p.Uptime() != 0 {
		t.Errorf("Uptime() = %v, want 0", p.Uptime())
	}
}

// =============================================================================
// Callbacks and output sink
// =============================================================================

func TestCallbacksAndOutput(t *testing.T) {
	requireShell(t)

	var (
		mu       sync.Mutex
		started  int
		exitCode = -1
		outcomes []WaitOutcome
	)
	exited := make(chan struct{})
	rec := &lineRecorder{}

	m := newTestMonitor(t, Config{
		Output: rec,
		Callbacks: Callbacks{
			OnStart: func(p *Process) {
				mu.Lock()
				started++
				mu.Unlock()
			},
			OnExit: func(p *Process, code int, uptime time.Duration) {
				mu.Lock()
				exitCode = code
				mu.Unlock()
				close(exited)
			},
			OnWait: func(ev WaitEvent) {
				mu.Lock()
				outcomes = append(outcomes, ev.Outcome)
				mu.Unlock()
			},
		},
	})

	_, _, err := m.StartAndWait(context.Background(),
		shell(`echo "out"; echo "err" >&2; echo "webpack: Compiled successfully."; sleep 0.5; exit 2`),
		successRe, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	_, err = m.WaitForNext(context.Background(), successRe, 5*time.Second)
	if err == nil {
		t.Fatal("expected the second wait to fail when the process exits")
	}

	select {
	case <-exited:
	case <-time.After(5 * time.Second):
		t.Fatal("OnExit was not called")
	}

	mu.Lock()
	defer mu.Unlock()
	if started != 1 {
		t.Errorf("OnStart calls = %d, want 1", started)
	}
	if exitCode != 2 {
		t.Errorf("OnExit code = %d, want 2", exitCode)
	}
	want := []WaitOutcome{WaitMatched, WaitExited}
	if len(outcomes) != len(want) || outcomes[0] != want[0] || outcomes[1] != want[1] {
		t.Errorf("outcomes = %v, want %v", outcomes, want)
	}

	lines := strings.Join(rec.Lines(), "\n")
	for _, l := range []string{"stdout:out", "stderr:err", "stdout:webpack: Compiled successfully."} {
		if !strings.Contains(lines, l) {
			t.Errorf("output sink missing %q in %q", l, lines)
		}
	}
}
