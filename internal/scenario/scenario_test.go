package scenario

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/randomizedcoder/go-watch-harness/internal/monitor"
)

const (
	target   = DefaultTargetFile
	original = "export class AppComponent {}\n"

	breakStderr  = "ERROR in Unexpected value 'AppComponent in src/app/app.module.ts\n"
	syntaxStderr = "ERROR in src/app/app.component.ts(2,1): error TS1128: Declaration or statement expected.\n"
)

var nightly = Env{Platform: "linux", Nightly: true}

type fixture struct {
	log    *eventLog
	driver *fakeDriver
	fs     *memFS
	hooks  Hooks
}

func newFixture() *fixture {
	log := &eventLog{}
	return &fixture{
		log: log,
		driver: &fakeDriver{
			log:   log,
			start: matched(breakStderr),
			waits: []reply{
				matched(""),
				matched(syntaxStderr),
				matched(""),
				matched(breakStderr),
				matched(""),
			},
		},
		fs: newMemFS(log, map[string]string{target: original}),
	}
}

func (f *fixture) scenario(env Env) *Scenario {
	return NewRebuildError(DefaultRebuildConfig(), env, Deps{
		Driver: f.driver,
		FS:     f.fs,
		Sleep:  noSleep,
		Hooks:  f.hooks,
	})
}

func statuses(records []StepRecord) []StepStatus {
	out := make([]StepStatus, len(records))
	for i, r := range records {
		out[i] = r.Status
	}
	return out
}

func TestScenario_Pass(t *testing.T) {
	f := newFixture()

	report, err := f.scenario(nightly).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Outcome != OutcomePassed {
		t.Errorf("Outcome = %s, want %s", report.Outcome, OutcomePassed)
	}

	want := []string{
		`write src/app/app.component.ts ""`,
		`start ng /webpack: Failed to compile/`,
		`expect /webpack: Compiled successfully/`,
		`write src/app/app.component.ts "export class AppComponent {}\n"`,
		`expect /webpack: Compiled successfully/`,
		`write src/app/app.component.ts "export class AppComponent {}\n\n]]]]]"`,
		`expect /webpack: Compiled successfully/`,
		`replace src/app/app.component.ts "]]]]]"`,
		`expect /webpack: Failed to compile/`,
		`write src/app/app.component.ts ""`,
		`expect /webpack: Compiled successfully/`,
		`write src/app/app.component.ts "export class AppComponent {}\n"`,
		`kill`,
	}
	if diff := cmp.Diff(want, f.log.list()); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}

	if got := f.fs.content(target); got != original {
		t.Errorf("target = %q, want original", got)
	}

	wantStatus := make([]StepStatus, len(report.Steps))
	for i := range wantStatus {
		wantStatus[i] = StepPassed
	}
	if diff := cmp.Diff(wantStatus, statuses(report.Steps)); diff != "" {
		t.Errorf("step statuses mismatch (-want +got):\n%s", diff)
	}
}

func TestScenario_Skip(t *testing.T) {
	tests := []struct {
		name string
		env  Env
	}{
		{"windows", Env{Platform: "windows", Nightly: true}},
		{"eject", Env{Platform: "linux", Eject: true, Nightly: true}},
		{"not nightly", Env{Platform: "darwin"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			report, err := f.scenario(tt.env).Run(context.Background())
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if report.Outcome != OutcomeSkipped || report.SkipReason == "" {
				t.Errorf("report = %+v, want skipped with a reason", report)
			}
			if events := f.log.list(); len(events) != 0 {
				t.Errorf("skipped scenario touched collaborators: %v", events)
			}
		})
	}
}

func TestScenario_FailureRestoresFile(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(f *fixture)
		wantStep string
		check    func(t *testing.T, err error)
	}{
		{
			name: "startup timeout",
			setup: func(f *fixture) {
				f.driver.start = reply{err: &monitor.TimeoutError{
					Pattern: DefaultFailurePattern,
					Partial: monitor.Result{Stderr: "still compiling\n"},
				}}
			},
			wantStep: "initial break",
			check: func(t *testing.T, err error) {
				res, ok := monitor.PartialResult(err)
				if !ok || res.Stderr != "still compiling\n" {
					t.Errorf("PartialResult() = %+v, %v", res, ok)
				}
			},
		},
		{
			name: "watcher exited",
			setup: func(f *fixture) {
				f.driver.start = reply{err: &monitor.ExitError{Pattern: DefaultFailurePattern, ExitCode: 127}}
			},
			wantStep: "initial break",
			check: func(t *testing.T, err error) {
				var ee *monitor.ExitError
				if !errors.As(err, &ee) || ee.ExitCode != 127 {
					t.Errorf("err = %v, want ExitError code 127", err)
				}
			},
		},
		{
			name: "wrong subsystem reported",
			setup: func(f *fixture) {
				f.driver.start = matched(breakStderr + "Final loader didn't return a Buffer or String\n")
			},
			wantStep: "initial break",
			check: func(t *testing.T, err error) {
				var ae *AssertionError
				if !errors.As(err, &ae) || ae.Kind != AssertionUnexpected {
					t.Errorf("err = %v, want unexpected AssertionError", err)
				}
			},
		},
		{
			name: "missing syntax error",
			setup: func(f *fixture) {
				f.driver.waits[1] = matched("")
			},
			wantStep: "syntax error",
			check: func(t *testing.T, err error) {
				var ae *AssertionError
				if !errors.As(err, &ae) || ae.Kind != AssertionMissing {
					t.Errorf("err = %v, want missing AssertionError", err)
				}
			},
		},
		{
			name: "rebuild never finished",
			setup: func(f *fixture) {
				f.driver.waits = f.driver.waits[:3]
			},
			wantStep: "second break",
			check: func(t *testing.T, err error) {
				if !monitor.IsTimeout(err) {
					t.Errorf("err = %v, want timeout", err)
				}
			},
		},
		{
			name: "mutation failed",
			setup: func(f *fixture) {
				f.fs.failWrite = 2
			},
			wantStep: "recover",
			check: func(t *testing.T, err error) {
				if !errors.Is(err, errDiskFull) {
					t.Errorf("err = %v, want %v", err, errDiskFull)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			tt.setup(f)

			report, err := f.scenario(nightly).Run(context.Background())
			if err == nil {
				t.Fatal("Run() error = nil, want failure")
			}
			if got := report.FailedStep(); got != tt.wantStep {
				t.Errorf("FailedStep() = %q, want %q", got, tt.wantStep)
			}
			tt.check(t, err)

			if report.Outcome != OutcomeFailed {
				t.Errorf("Outcome = %s, want failed", report.Outcome)
			}
			if f.driver.killed != 1 {
				t.Errorf("KillAll called %d times, want 1", f.driver.killed)
			}
			if got := f.fs.content(target); got != original {
				t.Errorf("target = %q, want original restored", got)
			}

			var failed, notRun int
			for _, r := range report.Steps {
				switch r.Status {
				case StepFailed:
					failed++
					if r.Name != tt.wantStep {
						t.Errorf("failed step = %q, want %q", r.Name, tt.wantStep)
					}
				case StepNotRun:
					notRun++
				}
			}
			if failed != 1 {
				t.Errorf("failed steps = %d, want 1", failed)
			}
			if notRun == 0 && tt.wantStep != "second recovery" {
				t.Error("steps after the failure should not run")
			}
		})
	}
}

func TestScenario_ReadOriginalFails(t *testing.T) {
	f := newFixture()
	f.fs.files = map[string]string{}

	report, err := f.scenario(nightly).Run(context.Background())
	if err == nil || report.FailedStep() != "save original" {
		t.Fatalf("Run() = %q, %v; want save original failure", report.FailedStep(), err)
	}
	if diff := cmp.Diff([]string{"kill"}, f.log.list()); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestScenario_TeardownError(t *testing.T) {
	errKill := errors.New("kill: operation not permitted")

	t.Run("reported when steps passed", func(t *testing.T) {
		f := newFixture()
		f.driver.killErr = errKill
		_, err := f.scenario(nightly).Run(context.Background())
		if !errors.Is(err, errKill) {
			t.Errorf("err = %v, want %v", err, errKill)
		}
	})

	t.Run("does not mask step error", func(t *testing.T) {
		f := newFixture()
		f.driver.killErr = errKill
		f.driver.waits = nil
		_, err := f.scenario(nightly).Run(context.Background())
		if errors.Is(err, errKill) {
			t.Errorf("teardown error masked the step error: %v", err)
		}
		if !monitor.IsTimeout(err) {
			t.Errorf("err = %v, want timeout", err)
		}
	})
}

func TestScenario_Hooks(t *testing.T) {
	f := newFixture()
	var started []string
	var done []StepRecord
	f.hooks = Hooks{
		OnStepStart: func(_ int, name string) { started = append(started, name) },
		OnStepDone:  func(rec StepRecord) { done = append(done, rec) },
	}

	s := f.scenario(nightly)
	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	var want []string
	for _, st := range s.Steps() {
		want = append(want, st.Name)
	}
	if diff := cmp.Diff(want, started); diff != "" {
		t.Errorf("OnStepStart mismatch (-want +got):\n%s", diff)
	}
	if len(done) != len(want) {
		t.Errorf("OnStepDone called %d times, want %d", len(done), len(want))
	}
}

func TestScenario_Entry(t *testing.T) {
	f := newFixture()
	if err := f.scenario(nightly).Entry(context.Background())(); err != nil {
		t.Errorf("Entry() = %v, want nil", err)
	}

	f = newFixture()
	f.driver.waits = nil
	if err := f.scenario(nightly).Entry(context.Background())(); err == nil {
		t.Error("Entry() = nil, want error")
	}

	f = newFixture()
	if err := f.scenario(Env{}).Entry(context.Background())(); err != nil {
		t.Errorf("skipped Entry() = %v, want nil", err)
	}
}

func TestScenario_StepsPlan(t *testing.T) {
	s := NewRebuildError(DefaultRebuildConfig(), nightly, Deps{})
	var names []string
	for _, st := range s.Steps() {
		names = append(names, st.Name)
		if st.Description == "" || st.Run == nil {
			t.Errorf("step %q is incomplete", st.Name)
		}
	}
	want := []string{
		"save original",
		"initial break",
		"recover",
		"settle",
		"syntax error",
		"strip syntax error",
		"settle again",
		"second break",
		"second recovery",
	}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("steps mismatch (-want +got):\n%s", diff)
	}
}
