package scenario

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/randomizedcoder/go-watch-harness/internal/monitor"
	"github.com/randomizedcoder/go-watch-harness/internal/process"
)

// Defaults for the rebuild-error scenario.
const (
	DefaultTargetFile      = "src/app/app.component.ts"
	DefaultSuccessPattern  = `webpack: Compiled successfully`
	DefaultFailurePattern  = `webpack: Failed to compile`
	DefaultBreakSignature  = `Unexpected value 'AppComponent`
	DefaultSyntaxSuffix    = "\n]]]]]"
	DefaultSyntaxSignature = `Declaration or statement expected.`
	DefaultStartupTimeout  = 20 * time.Second
	DefaultSettleDelay     = 2 * time.Second
)

// DefaultDisallowed are error strings that mean the wrong subsystem
// reported the failure.
var DefaultDisallowed = []string{
	`Final loader didn't return a Buffer or String`,
	`doesn't contain a valid alias configuration`,
	`main.ts is not part of the TypeScript compilation.`,
}

// RebuildConfig configures the rebuild-error scenario.
type RebuildConfig struct {
	// Command is the watch process, e.g. "ng serve --aot".
	Command process.Runner

	// TargetFile is the source file the scenario breaks and fixes.
	TargetFile string

	SuccessPattern *regexp.Regexp
	FailurePattern *regexp.Regexp

	// StartupTimeout bounds the first build. WaitTimeout bounds every
	// rebuild wait.
	StartupTimeout time.Duration
	WaitTimeout    time.Duration
	SettleDelay    time.Duration

	// BreakContent replaces the whole file to cause a compile error that
	// prints BreakSignature.
	BreakContent   string
	BreakSignature string

	// SyntaxSuffix is appended to the file to cause an error that prints
	// SyntaxSignature while the build still succeeds.
	SyntaxSuffix    string
	SyntaxSignature string

	Disallowed []string
}

// DefaultRebuildConfig returns the configuration for an Angular CLI project.
func DefaultRebuildConfig() RebuildConfig {
	return RebuildConfig{
		Command:         process.NewCommand("ng", "serve", "--aot"),
		TargetFile:      DefaultTargetFile,
		SuccessPattern:  regexp.MustCompile(DefaultSuccessPattern),
		FailurePattern:  regexp.MustCompile(DefaultFailurePattern),
		StartupTimeout:  DefaultStartupTimeout,
		WaitTimeout:     monitor.DefaultWaitTimeout,
		SettleDelay:     DefaultSettleDelay,
		BreakContent:    "",
		BreakSignature:  DefaultBreakSignature,
		SyntaxSuffix:    DefaultSyntaxSuffix,
		SyntaxSignature: DefaultSyntaxSignature,
		Disallowed:      append([]string(nil), DefaultDisallowed...),
	}
}

// Deps are the collaborators of a scenario.
type Deps struct {
	Driver Driver
	FS     Filesystem
	Sleep  Sleeper
	Logger *slog.Logger
	Hooks  Hooks
}

// Outcome is the overall result of a scenario run.
type Outcome string

const (
	OutcomePassed  Outcome = "passed"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

// Report summarizes a scenario run.
type Report struct {
	Outcome    Outcome
	SkipReason string
	Steps      []StepRecord
	Duration   time.Duration
}

// FailedStep returns the name of the step that failed, or "".
func (r Report) FailedStep() string {
	for _, rec := range r.Steps {
		if rec.Status == StepFailed {
			return rec.Name
		}
	}
	return ""
}

// Scenario breaks and fixes a source file under a running watch process
// and asserts that every rebuild reports the right outcome.
type Scenario struct {
	cfg    RebuildConfig
	env    Env
	deps   Deps
	logger *slog.Logger

	// original is the target content captured before the first mutation.
	original string
	saved    bool
}

// NewRebuildError creates the rebuild-error scenario.
func NewRebuildError(cfg RebuildConfig, env Env, deps Deps) *Scenario {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if deps.Sleep == nil {
		deps.Sleep = Sleep
	}
	return &Scenario{
		cfg:    cfg,
		env:    env,
		deps:   deps,
		logger: logger.With("scenario", "rebuild-error"),
	}
}

// Steps returns the ordered step list.
func (s *Scenario) Steps() []Step {
	return []Step{
		{
			Name:        "save original",
			Description: "read " + s.cfg.TargetFile,
			Run:         s.saveOriginal,
		},
		{
			Name:        "initial break",
			Description: fmt.Sprintf("break the file, start %s, expect %q", commandName(s.cfg.Command), s.cfg.BreakSignature),
			Run:         s.initialBreak,
		},
		{
			Name:        "recover",
			Description: "restore the file, expect a successful rebuild",
			Run:         s.restoreAndExpectSuccess,
		},
		{
			Name:        "settle",
			Description: fmt.Sprintf("wait %s for the watcher", s.cfg.SettleDelay),
			Run:         s.settle,
		},
		{
			Name:        "syntax error",
			Description: fmt.Sprintf("append %q, expect success with %q", strings.TrimSpace(s.cfg.SyntaxSuffix), s.cfg.SyntaxSignature),
			Run:         s.syntaxError,
		},
		{
			Name:        "strip syntax error",
			Description: "remove the appended tokens, expect a successful rebuild",
			Run:         s.stripSyntaxError,
		},
		{
			Name:        "settle again",
			Description: fmt.Sprintf("wait %s for the watcher", s.cfg.SettleDelay),
			Run:         s.settle,
		},
		{
			Name:        "second break",
			Description: fmt.Sprintf("break the running build, expect %q", s.cfg.BreakSignature),
			Run:         s.secondBreak,
		},
		{
			Name:        "second recovery",
			Description: "restore the file, expect a successful rebuild",
			Run:         s.restoreAndExpectSuccess,
		},
	}
}

// Run executes the scenario. A skipped scenario returns a nil error.
func (s *Scenario) Run(ctx context.Context) (Report, error) {
	start := time.Now()

	if reason := s.env.SkipReason(); reason != "" {
		s.logger.Info("scenario_skipped", "reason", reason)
		return Report{Outcome: OutcomeSkipped, SkipReason: reason}, nil
	}

	runner := &Runner{
		Steps:    s.Steps(),
		Teardown: s.teardown,
		Logger:   s.logger,
		Hooks:    s.deps.Hooks,
	}
	records, err := runner.Run(ctx)

	report := Report{
		Outcome:  OutcomePassed,
		Steps:    records,
		Duration: time.Since(start),
	}
	if err != nil {
		report.Outcome = OutcomeFailed
		s.logger.Error("scenario_failed",
			"step", report.FailedStep(),
			"duration", report.Duration.String(),
			"error", err,
		)
		return report, err
	}
	s.logger.Info("scenario_passed", "duration", report.Duration.String())
	return report, nil
}

// Entry returns the scenario as a plain callable: nil means pass or skip.
func (s *Scenario) Entry(ctx context.Context) func() error {
	return func() error {
		_, err := s.Run(ctx)
		return err
	}
}

func (s *Scenario) saveOriginal(context.Context) error {
	content, err := s.deps.FS.ReadFile(s.cfg.TargetFile)
	if err != nil {
		return fmt.Errorf("read original: %w", err)
	}
	s.original = content
	s.saved = true
	return nil
}

func (s *Scenario) initialBreak(ctx context.Context) error {
	if err := s.deps.FS.WriteFile(s.cfg.TargetFile, s.cfg.BreakContent); err != nil {
		return err
	}
	res, err := s.deps.Driver.Start(ctx, s.cfg.Command, s.cfg.FailurePattern, s.cfg.StartupTimeout)
	if err != nil {
		return err
	}
	return CheckOutput(res.Stderr, s.cfg.BreakSignature, s.cfg.Disallowed)
}

func (s *Scenario) restoreAndExpectSuccess(ctx context.Context) error {
	_, err := s.expectDuring(ctx, s.cfg.SuccessPattern, func() error {
		return s.deps.FS.WriteFile(s.cfg.TargetFile, s.original)
	})
	return err
}

func (s *Scenario) settle(ctx context.Context) error {
	return s.deps.Sleep(ctx, s.cfg.SettleDelay)
}

// syntaxError expects a successful build whose stderr still carries the
// syntax error reported by the separate type checker.
func (s *Scenario) syntaxError(ctx context.Context) error {
	res, err := s.expectDuring(ctx, s.cfg.SuccessPattern, func() error {
		return s.deps.FS.WriteFile(s.cfg.TargetFile, s.original+s.cfg.SyntaxSuffix)
	})
	if err != nil {
		return err
	}
	return CheckOutput(res.Stderr, s.cfg.SyntaxSignature, s.cfg.Disallowed)
}

func (s *Scenario) stripSyntaxError(ctx context.Context) error {
	tokens := strings.TrimSpace(s.cfg.SyntaxSuffix)
	_, err := s.expectDuring(ctx, s.cfg.SuccessPattern, func() error {
		return s.deps.FS.ReplaceInFile(s.cfg.TargetFile, tokens, "")
	})
	return err
}

func (s *Scenario) secondBreak(ctx context.Context) error {
	res, err := s.expectDuring(ctx, s.cfg.FailurePattern, func() error {
		return s.deps.FS.WriteFile(s.cfg.TargetFile, s.cfg.BreakContent)
	})
	if err != nil {
		return err
	}
	return CheckOutput(res.Stderr, s.cfg.BreakSignature, s.cfg.Disallowed)
}

// expectDuring registers a wait for pattern, then runs mutate and the wait
// concurrently and returns once both finish.
func (s *Scenario) expectDuring(ctx context.Context, pattern *regexp.Regexp, mutate func() error) (monitor.Result, error) {
	exp := s.deps.Driver.Expect(pattern, s.cfg.WaitTimeout)

	var res monitor.Result
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r, err := exp.Wait(gctx)
		res = r
		return err
	})
	g.Go(func() error {
		if err := mutate(); err != nil {
			return fmt.Errorf("mutate %s: %w", s.cfg.TargetFile, err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return res, err
	}
	return res, nil
}

// teardown kills every process, then puts the original content back if the
// file was left mutated.
func (s *Scenario) teardown() error {
	var errs []error
	if err := s.deps.Driver.KillAll(); err != nil {
		errs = append(errs, fmt.Errorf("kill processes: %w", err))
	}
	if s.saved {
		current, err := s.deps.FS.ReadFile(s.cfg.TargetFile)
		if err != nil || current != s.original {
			if werr := s.deps.FS.WriteFile(s.cfg.TargetFile, s.original); werr != nil {
				errs = append(errs, fmt.Errorf("restore %s: %w", s.cfg.TargetFile, werr))
			} else {
				s.logger.Info("file_restored", "path", s.cfg.TargetFile)
			}
		}
	}
	return errors.Join(errs...)
}

func commandName(r process.Runner) string {
	if c, ok := r.(interface{ CommandString() string }); ok {
		return c.CommandString()
	}
	if r == nil {
		return "<none>"
	}
	return r.Name()
}
