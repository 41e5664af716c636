package scenario

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Step is one unit of a scenario.
type Step struct {
	Name string

	// Description is shown by the plan printer.
	Description string

	Run func(ctx context.Context) error
}

// StepStatus is the outcome of a single step.
type StepStatus string

const (
	StepPassed  StepStatus = "passed"
	StepFailed  StepStatus = "failed"
	StepNotRun  StepStatus = "not_run"
	StepRunning StepStatus = "running"
)

// StepRecord is the outcome of one step.
type StepRecord struct {
	Index    int
	Name     string
	Status   StepStatus
	Duration time.Duration
	Err      error
}

// Hooks contains optional callbacks for step progress.
type Hooks struct {
	// OnStepStart is called before a step runs.
	OnStepStart func(index int, name string)

	// OnStepDone is called after a step returns.
	OnStepDone func(rec StepRecord)
}

// Runner executes steps in order and always runs Teardown.
type Runner struct {
	Steps    []Step
	Teardown func() error
	Logger   *slog.Logger
	Hooks    Hooks
}

// Run executes the steps until one fails, then runs teardown.
//
// The returned records cover every step, including those never reached.
// A step error is returned unmodified; its record names the step. A
// teardown error is only returned when every step passed.
func (r *Runner) Run(ctx context.Context) (records []StepRecord, err error) {
	logger := r.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	records = make([]StepRecord, len(r.Steps))
	for i, s := range r.Steps {
		records[i] = StepRecord{Index: i, Name: s.Name, Status: StepNotRun}
	}

	defer func() {
		if r.Teardown == nil {
			return
		}
		if terr := r.Teardown(); terr != nil {
			logger.Error("teardown_failed", "error", terr)
			if err == nil {
				err = fmt.Errorf("teardown: %w", terr)
			}
		}
	}()

	for i, s := range r.Steps {
		if r.Hooks.OnStepStart != nil {
			r.Hooks.OnStepStart(i, s.Name)
		}
		logger.Info("step_started", "step", s.Name, "index", i)

		start := time.Now()
		serr := s.Run(ctx)
		rec := &records[i]
		rec.Duration = time.Since(start)

		if serr != nil {
			rec.Status = StepFailed
			rec.Err = serr
			logger.Error("step_failed",
				"step", s.Name,
				"duration", rec.Duration.String(),
				"error", serr,
			)
		} else {
			rec.Status = StepPassed
			logger.Info("step_passed", "step", s.Name, "duration", rec.Duration.String())
		}

		if r.Hooks.OnStepDone != nil {
			r.Hooks.OnStepDone(*rec)
		}
		if serr != nil {
			return records, serr
		}
	}
	return records, nil
}
