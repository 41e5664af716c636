// Package orchestrator wires the monitor, the scenario and the observability
// stack into one harness run.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"regexp"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"

	"github.com/randomizedcoder/go-watch-harness/internal/config"
	"github.com/randomizedcoder/go-watch-harness/internal/fsutil"
	"github.com/randomizedcoder/go-watch-harness/internal/logging"
	"github.com/randomizedcoder/go-watch-harness/internal/metrics"
	"github.com/randomizedcoder/go-watch-harness/internal/monitor"
	"github.com/randomizedcoder/go-watch-harness/internal/preflight"
	"github.com/randomizedcoder/go-watch-harness/internal/process"
	"github.com/randomizedcoder/go-watch-harness/internal/scenario"
	"github.com/randomizedcoder/go-watch-harness/internal/stats"
	"github.com/randomizedcoder/go-watch-harness/internal/stream"
	"github.com/randomizedcoder/go-watch-harness/internal/tui"
)

// Process exit codes.
const (
	ExitOK     = 0 // passed or skipped
	ExitFailed = 1 // scenario failed or could not start
	ExitConfig = 2 // invalid flags or configuration
)

// ErrPreflight is returned when a preflight check fails.
var ErrPreflight = errors.New("preflight checks failed (use --skip-preflight to override)")

// Options are the inputs of a run that do not come from flags.
type Options struct {
	Version string

	// Out receives the preflight report and the exit summary.
	// Defaults to os.Stderr.
	Out io.Writer

	// Sleep replaces the settle delay. Defaults to scenario.Sleep.
	Sleep scenario.Sleeper
}

// Orchestrator coordinates all components for a harness run.
type Orchestrator struct {
	config *config.Config
	logger *slog.Logger
	out    io.Writer
	runID  string

	command       *process.Command
	success       *regexp.Regexp
	output        *logging.OutputHandler
	metrics       *metrics.Collector
	metricsServer *metrics.Server
	tracker       *stats.Tracker
	monitor       *monitor.Monitor
	driver        scenario.Driver
	scenario      *scenario.Scenario
	program       *tea.Program

	startTime time.Time
}

// New creates an Orchestrator. cfg must have passed config.Validate.
func New(cfg *config.Config, logger *slog.Logger, opts Options) (*Orchestrator, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}

	success, err := regexp.Compile(cfg.SuccessPattern)
	if err != nil {
		return nil, fmt.Errorf("success pattern: %w", err)
	}
	failure, err := regexp.Compile(cfg.FailurePattern)
	if err != nil {
		return nil, fmt.Errorf("failure pattern: %w", err)
	}

	command := process.NewCommand(cfg.Command, cfg.Args...)
	command.Dir = cfg.Dir

	runID := uuid.NewString()
	logger = logger.With("run_id", runID)

	o := &Orchestrator{
		config:  cfg,
		logger:  logger,
		out:     out,
		runID:   runID,
		command: command,
		success: success,
		output:  logging.NewOutputHandler(logger, cfg.Verbose, cfg.OutputTail),
		metrics: metrics.NewCollector(metrics.CollectorConfig{
			Version: opts.Version,
			Command: command.CommandString(),
			Target:  cfg.TargetFile,
		}),
	}

	o.monitor = monitor.New(monitor.Config{
		Logger: logger,
		Callbacks: monitor.Callbacks{
			OnStart: o.onStart,
			OnExit:  o.onExit,
			OnWait:  o.onWait,
		},
		Output:      stream.Tee{o.output, o.metrics},
		KillTimeout: cfg.KillTimeout,
	})
	o.driver = scenario.NewDriver(o.monitor)

	o.scenario = scenario.NewRebuildError(scenario.RebuildConfig{
		Command:         command,
		TargetFile:      cfg.TargetPath(),
		SuccessPattern:  success,
		FailurePattern:  failure,
		StartupTimeout:  cfg.StartupTimeout,
		WaitTimeout:     cfg.WaitTimeout,
		SettleDelay:     cfg.SettleDelay,
		BreakSignature:  cfg.BreakSignature,
		SyntaxSuffix:    scenario.DefaultSyntaxSuffix,
		SyntaxSignature: cfg.SyntaxSignature,
		Disallowed:      cfg.Disallowed,
	}, o.env(), scenario.Deps{
		Driver: o.driver,
		FS:     fsutil.OS{},
		Sleep:  opts.Sleep,
		Logger: logger,
		Hooks:  o.hooks(),
	})

	o.tracker = stats.NewTracker(stepNames(o.steps()))

	if cfg.MetricsAddr != "" {
		o.metricsServer = metrics.NewServer(cfg.MetricsAddr, o.metrics.Registry(), logger)
	}

	return o, nil
}

func (o *Orchestrator) env() scenario.Env {
	return scenario.Env{
		Platform: o.config.Platform,
		Eject:    o.config.Eject,
		Nightly:  o.config.Nightly,
	}
}

func (o *Orchestrator) hooks() scenario.Hooks {
	return scenario.Hooks{
		OnStepStart: o.onStepStart,
		OnStepDone:  o.onStepDone,
	}
}

// steps returns the steps this run executes.
func (o *Orchestrator) steps() []scenario.Step {
	if o.config.Check {
		return o.checkSteps()
	}
	return o.scenario.Steps()
}

// checkSteps is the --check run: one startup build, then teardown.
func (o *Orchestrator) checkSteps() []scenario.Step {
	return []scenario.Step{{
		Name:        "first build",
		Description: fmt.Sprintf("start %s, expect %q", o.command.Name(), o.success.String()),
		Run: func(ctx context.Context) error {
			_, err := o.driver.Start(ctx, o.command, o.success, o.config.StartupTimeout)
			return err
		},
	}}
}

// launches reports whether the run will start the watch command.
func (o *Orchestrator) launches() bool {
	return o.config.Check || o.env().SkipReason() == ""
}

// Run executes the harness. It blocks until the scenario finishes or a
// signal arrives. A skipped scenario returns a nil error.
func (o *Orchestrator) Run(ctx context.Context) (scenario.Report, error) {
	o.startTime = time.Now()

	// Run preflight checks
	if !o.config.SkipPreflight && o.launches() {
		result := preflight.RunAll(preflight.Options{
			Command:    o.config.Command,
			Dir:        o.config.Dir,
			TargetPath: o.config.TargetPath(),
			Platform:   o.config.Platform,
		})
		preflight.PrintResults(o.out, result)
		if !result.Passed {
			return scenario.Report{Outcome: scenario.OutcomeFailed}, ErrPreflight
		}
	}

	// Start metrics server
	if o.metricsServer != nil {
		if err := o.metricsServer.Start(); err != nil {
			return scenario.Report{Outcome: scenario.OutcomeFailed}, fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	// Setup signal handling
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			o.logger.Info("received_signal", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	tuiDone := o.startTUI(cancel)

	o.logger.Info("run_starting",
		"command", o.command.CommandString(),
		"target", o.config.TargetPath(),
		"check", o.config.Check,
	)

	var (
		report scenario.Report
		err    error
	)
	if o.config.Check {
		report, err = o.runCheck(ctx)
	} else {
		report, err = o.scenario.Run(ctx)
	}

	o.finish(report, err, tuiDone)
	return report, err
}

// runCheck starts the command once and waits for the first build.
func (o *Orchestrator) runCheck(ctx context.Context) (scenario.Report, error) {
	start := time.Now()
	runner := &scenario.Runner{
		Steps:    o.checkSteps(),
		Teardown: o.driver.KillAll,
		Logger:   o.logger,
		Hooks:    o.hooks(),
	}
	records, err := runner.Run(ctx)

	report := scenario.Report{
		Outcome:  scenario.OutcomePassed,
		Steps:    records,
		Duration: time.Since(start),
	}
	if err != nil {
		report.Outcome = scenario.OutcomeFailed
		o.logger.Error("check_failed", "error", err)
		return report, err
	}
	o.logger.Info("check_passed", "duration", report.Duration.String())
	return report, nil
}

// startTUI runs the dashboard in the background. Quitting it cancels the
// run; the scenario teardown still restores the file.
func (o *Orchestrator) startTUI(cancel context.CancelFunc) <-chan struct{} {
	if !o.config.TUIEnabled {
		return nil
	}

	o.program = tea.NewProgram(tui.New(tui.Config{
		Command:      o.command.CommandString(),
		Target:       o.config.TargetPath(),
		MetricsAddr:  o.config.MetricsAddr,
		StatsSource:  o.tracker,
		OutputSource: o.output,
		LiveCount:    o.monitor.LiveCount,
	}), tea.WithAltScreen())

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := o.program.Run(); err != nil {
			o.logger.Warn("tui_failed", "error", err)
			return
		}
		cancel()
	}()
	return done
}

// finish records the outcome and reports it.
func (o *Orchestrator) finish(report scenario.Report, runErr error, tuiDone <-chan struct{}) {
	if report.Outcome == scenario.OutcomeSkipped {
		for i, name := range stepNames(o.steps()) {
			o.tracker.StepDone(i, name, string(scenario.OutcomeSkipped), 0, nil)
		}
	}
	for _, rec := range report.Steps {
		if rec.Status == scenario.StepNotRun {
			o.tracker.StepDone(rec.Index, rec.Name, string(rec.Status), 0, nil)
			o.metrics.RecordStep(rec.Name, string(rec.Status), 0)
		}
	}
	o.metrics.SetOutcome(string(report.Outcome), report.Duration)

	if tuiDone != nil {
		tui.SendDone(o.program, string(report.Outcome), runErr)
		<-tuiDone
	}

	if o.config.MetricsDump != "" {
		o.dumpMetrics(o.config.MetricsDump)
	}

	if o.metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := o.metricsServer.Shutdown(shutdownCtx); err != nil {
			o.logger.Warn("metrics_server_shutdown_error", "error", err)
		}
	}

	o.printExitSummary(report, runErr)
}

// dumpMetrics writes the metrics file and parses it back.
func (o *Orchestrator) dumpMetrics(path string) {
	if err := metrics.WriteFile(path, o.metrics.Registry()); err != nil {
		o.logger.Warn("metrics_dump_failed", "path", path, "error", err)
		return
	}

	f, err := os.Open(path)
	if err != nil {
		o.logger.Warn("metrics_dump_failed", "path", path, "error", err)
		return
	}
	defer f.Close()

	families, err := metrics.ReadText(f)
	if err != nil {
		o.logger.Warn("metrics_dump_unreadable", "path", path, "error", err)
		return
	}
	o.logger.Info("metrics_dumped", "path", path, "families", len(families))
}

// printExitSummary prints a summary of the run.
func (o *Orchestrator) printExitSummary(report scenario.Report, runErr error) {
	cfg := stats.SummaryConfig{
		Command:     o.command.CommandString(),
		Target:      o.config.TargetPath(),
		Outcome:     string(report.Outcome),
		SkipReason:  report.SkipReason,
		ErrorCounts: o.output.CountErrors(),
		OutputLines: o.output.Total(),
		MetricsAddr: o.config.MetricsAddr,
		MetricsDump: o.config.MetricsDump,
	}
	if runErr != nil {
		cfg.Failure = runErr.Error()
		cfg.FailedStep = report.FailedStep()
		cfg.FailureKind = failureKind(runErr)
		cfg.OutputTail = logging.FormatTail(o.output.RecentLines(o.config.OutputTail))
	}
	fmt.Fprint(o.out, stats.FormatExitSummary(o.tracker.Snapshot(), cfg))
}

// PrintPlan writes the command and the steps the run would execute.
func (o *Orchestrator) PrintPlan(w io.Writer) {
	fmt.Fprintf(w, "# Command (in %s):\n", o.config.Dir)
	fmt.Fprintf(w, "%s\n\n", o.command.CommandString())
	fmt.Fprintf(w, "# Target file:\n%s\n\n", o.config.TargetPath())

	if !o.config.Check {
		if reason := o.env().SkipReason(); reason != "" {
			fmt.Fprintf(w, "# Scenario would be skipped: %s\n\n", reason)
		}
	}

	fmt.Fprintln(w, "# Steps:")
	for i, s := range o.steps() {
		fmt.Fprintf(w, "%2d. %-20s %s\n", i+1, s.Name, s.Description)
	}
}

// ExitCode maps the result of Run to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	return ExitFailed
}

// failureKind classifies a run error for the exit summary.
func failureKind(err error) string {
	var (
		exitErr   *monitor.ExitError
		assertErr *scenario.AssertionError
	)
	switch {
	case err == nil:
		return ""
	case monitor.IsTimeout(err):
		return "timeout"
	case errors.As(err, &exitErr):
		return "process exited"
	case errors.As(err, &assertErr):
		return "assertion (" + string(assertErr.Kind) + ")"
	case errors.Is(err, ErrPreflight):
		return "preflight"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "error"
	}
}

// Callback handlers

func (o *Orchestrator) onStart(p *monitor.Process) {
	o.metrics.ProcessStarted()
	o.tracker.ProcessStarted()
	o.metrics.SetActiveCount(o.monitor.LiveCount())
	if o.config.Verbose {
		o.logger.Debug("watch_process_started", "process_id", p.ID(), "pid", p.PID())
	}
}

func (o *Orchestrator) onExit(p *monitor.Process, exitCode int, uptime time.Duration) {
	o.metrics.RecordExit(exitCode, uptime)
	o.tracker.RecordExit(exitCode)
	o.metrics.SetActiveCount(o.monitor.LiveCount())
}

func (o *Orchestrator) onWait(ev monitor.WaitEvent) {
	o.metrics.RecordWait(string(ev.Outcome), ev.Elapsed)
	o.tracker.RecordWait(string(ev.Outcome), ev.Elapsed)
}

func (o *Orchestrator) onStepStart(index int, name string) {
	o.tracker.StepStarted(index, name)
}

func (o *Orchestrator) onStepDone(rec scenario.StepRecord) {
	o.tracker.StepDone(rec.Index, rec.Name, string(rec.Status), rec.Duration, rec.Err)
	o.metrics.RecordStep(rec.Name, string(rec.Status), rec.Duration)
}

func stepNames(steps []scenario.Step) []string {
	names := make([]string, len(steps))
	for i, s := range steps {
		names[i] = s.Name
	}
	return names
}

// RunID returns the identifier attached to every log line of this run.
func (o *Orchestrator) RunID() string {
	return o.runID
}

// Metrics returns the metrics collector for external access.
func (o *Orchestrator) Metrics() *metrics.Collector {
	return o.metrics
}

// Tracker returns the step and wait tracker for external access.
func (o *Orchestrator) Tracker() *stats.Tracker {
	return o.tracker
}

// Monitor returns the process monitor for external access.
func (o *Orchestrator) Monitor() *monitor.Monitor {
	return o.monitor
}
