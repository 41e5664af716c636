// Package stats tracks scenario progress and wait latencies for the exit
// summary and the dashboard.
package stats

import (
	"sort"
	"sync"
	"time"

	"github.com/influxdata/tdigest"
)

// StepStat is the progress of one scenario step.
type StepStat struct {
	Index    int
	Name     string
	Status   string
	Duration time.Duration
	Error    string
}

// Tracker collects harness events. It is safe for concurrent use.
type Tracker struct {
	mu        sync.Mutex
	startTime time.Time

	steps []StepStat

	// Wait latency percentiles over matched waits
	waitDigest *tdigest.TDigest
	waitCount  int64
	waitSum    time.Duration
	waitMax    time.Duration
	waitMin    time.Duration
	outcomes   map[string]int64

	processStarts int64
	exitCodes     map[int]int64
}

// NewTracker creates a tracker for the given step names.
func NewTracker(stepNames []string) *Tracker {
	steps := make([]StepStat, len(stepNames))
	for i, name := range stepNames {
		steps[i] = StepStat{Index: i, Name: name, Status: "pending"}
	}
	return &Tracker{
		startTime:  time.Now(),
		steps:      steps,
		waitDigest: tdigest.NewWithCompression(100),
		outcomes:   make(map[string]int64),
		exitCodes:  make(map[int]int64),
	}
}

// StepStarted marks a step as running.
func (t *Tracker) StepStarted(index int, name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.step(index, name)
	s.Status = "running"
}

// StepDone records the result of a step.
func (t *Tracker) StepDone(index int, name, status string, d time.Duration, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.step(index, name)
	s.Status = status
	s.Duration = d
	if err != nil {
		s.Error = err.Error()
	}
}

// step returns the entry for index, growing the list for unknown steps.
// Caller holds t.mu.
func (t *Tracker) step(index int, name string) *StepStat {
	for len(t.steps) <= index {
		t.steps = append(t.steps, StepStat{Index: len(t.steps), Status: "pending"})
	}
	s := &t.steps[index]
	if s.Name == "" {
		s.Name = name
	}
	return s
}

// RecordWait records the end of a pattern wait. Only matched waits feed the
// latency percentiles.
func (t *Tracker) RecordWait(outcome string, elapsed time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.outcomes[outcome]++
	if outcome != "matched" {
		return
	}
	t.waitDigest.Add(float64(elapsed.Nanoseconds()), 1)
	t.waitCount++
	t.waitSum += elapsed
	if elapsed > t.waitMax {
		t.waitMax = elapsed
	}
	if t.waitMin == 0 || elapsed < t.waitMin {
		t.waitMin = elapsed
	}
}

// ProcessStarted records a process start.
func (t *Tracker) ProcessStarted() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.processStarts++
}

// RecordExit records a process exit code.
func (t *Tracker) RecordExit(exitCode int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.exitCodes[exitCode]++
}

// Snapshot is a point-in-time copy of the tracker.
type Snapshot struct {
	Elapsed time.Duration
	Steps   []StepStat

	WaitCount int64
	WaitMin   time.Duration
	WaitMean  time.Duration
	WaitP50   time.Duration
	WaitP95   time.Duration
	WaitP99   time.Duration
	WaitMax   time.Duration
	Outcomes  map[string]int64

	ProcessStarts int64
	ExitCodes     map[int]int64
}

// Snapshot returns the current state.
func (t *Tracker) Snapshot() *Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := &Snapshot{
		Elapsed:       time.Since(t.startTime),
		Steps:         append([]StepStat(nil), t.steps...),
		WaitCount:     t.waitCount,
		WaitMin:       t.waitMin,
		WaitMax:       t.waitMax,
		Outcomes:      make(map[string]int64, len(t.outcomes)),
		ProcessStarts: t.processStarts,
		ExitCodes:     make(map[int]int64, len(t.exitCodes)),
	}
	for k, v := range t.outcomes {
		s.Outcomes[k] = v
	}
	for k, v := range t.exitCodes {
		s.ExitCodes[k] = v
	}
	if t.waitCount > 0 {
		s.WaitMean = t.waitSum / time.Duration(t.waitCount)
		s.WaitP50 = time.Duration(t.waitDigest.Quantile(0.50))
		s.WaitP95 = time.Duration(t.waitDigest.Quantile(0.95))
		s.WaitP99 = time.Duration(t.waitDigest.Quantile(0.99))
	}
	return s
}

// CurrentStep returns the running step, or the last finished one.
func (s *Snapshot) CurrentStep() (StepStat, bool) {
	var last StepStat
	found := false
	for _, st := range s.Steps {
		switch st.Status {
		case "running":
			return st, true
		case "pending":
		default:
			last, found = st, true
		}
	}
	return last, found
}

// SortedOutcomes returns the wait outcome names in order.
func (s *Snapshot) SortedOutcomes() []string {
	out := make([]string, 0, len(s.Outcomes))
	for k := range s.Outcomes {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
