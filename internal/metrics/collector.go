// Package metrics provides Prometheus metrics for watch-harness.
//
// Every Collector owns its metric instances, so a test or a second run can
// use a fresh registry without colliding with the first.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/randomizedcoder/go-watch-harness/internal/stream"
)

const namespace = "watch_harness"

// Collector manages all Prometheus metrics for a harness run.
type Collector struct {
	registry *prometheus.Registry

	info             *prometheus.GaugeVec
	processesStarted prometheus.Counter
	processesActive  prometheus.Gauge
	processExits     *prometheus.CounterVec
	processUptime    prometheus.Histogram
	waits            *prometheus.CounterVec
	waitDuration     *prometheus.HistogramVec
	steps            *prometheus.CounterVec
	stepDuration     *prometheus.GaugeVec
	outputLines      *prometheus.CounterVec
	scenarioOutcome  *prometheus.GaugeVec
	scenarioDuration prometheus.Gauge

	// For summary generation
	mu          sync.Mutex
	peakActive  int
	totalStarts int64
	exitCodes   map[int]int64
}

// CollectorConfig holds configuration for the collector.
type CollectorConfig struct {
	Version string
	Command string
	Target  string
}

// NewCollector creates a new metrics collector on its own registry.
func NewCollector(cfg CollectorConfig) *Collector {
	return NewCollectorWithRegistry(cfg, prometheus.NewRegistry())
}

// NewCollectorWithRegistry creates a collector that registers on registry.
// Useful for testing.
func NewCollectorWithRegistry(cfg CollectorConfig, registry *prometheus.Registry) *Collector {
	c := &Collector{
		registry: registry,
		info: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "info",
			Help:      "Information about the harness run (value always 1)",
		}, []string{"version", "command", "target"}),
		processesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "processes_started_total",
			Help:      "Total watch processes started",
		}),
		processesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "processes_active",
			Help:      "Currently running watch processes",
		}),
		processExits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "process_exits_total",
			Help:      "Process exits by category (success, error, signal)",
		}, []string{"category"}),
		processUptime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "process_uptime_seconds",
			Help:      "Process lifetime at exit",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),
		waits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "waits_total",
			Help:      "Pattern waits by outcome (matched, timeout, exited, cancelled)",
		}, []string{"outcome"}),
		waitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "wait_duration_seconds",
			Help:      "Time from wait registration to match or failure",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		}, []string{"outcome"}),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Scenario steps by status",
		}, []string{"status"}),
		stepDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Duration of the last run of each step",
		}, []string{"step"}),
		outputLines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "output_lines_total",
			Help:      "Lines printed by watched processes",
		}, []string{"stream"}),
		scenarioOutcome: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scenario_outcome",
			Help:      "Set to 1 for the outcome of the finished scenario",
		}, []string{"outcome"}),
		scenarioDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scenario_duration_seconds",
			Help:      "Wall time of the finished scenario",
		}),
		exitCodes: make(map[int]int64),
	}

	registry.MustRegister(
		c.info,
		c.processesStarted,
		c.processesActive,
		c.processExits,
		c.processUptime,
		c.waits,
		c.waitDuration,
		c.steps,
		c.stepDuration,
		c.outputLines,
		c.scenarioOutcome,
		c.scenarioDuration,
	)

	c.info.WithLabelValues(cfg.Version, cfg.Command, cfg.Target).Set(1)

	return c
}

// Registry returns the registry the collector registered on.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Gather collects the current metric families.
func (c *Collector) Gather() ([]*dto.MetricFamily, error) {
	return c.registry.Gather()
}

// =============================================================================
// Event Recording Methods
// =============================================================================

// ProcessStarted records a process start event.
func (c *Collector) ProcessStarted() {
	c.processesStarted.Inc()

	c.mu.Lock()
	c.totalStarts++
	c.mu.Unlock()
}

// RecordExit records a process exit event.
func (c *Collector) RecordExit(exitCode int, uptime time.Duration) {
	// Categorize exit code
	category := "error"
	if exitCode == 0 {
		category = "success"
	} else if exitCode > 128 {
		category = "signal"
	}
	c.processExits.WithLabelValues(category).Inc()
	c.processUptime.Observe(uptime.Seconds())

	c.mu.Lock()
	c.exitCodes[exitCode]++
	c.mu.Unlock()
}

// SetActiveCount updates the running process count.
func (c *Collector) SetActiveCount(count int) {
	c.processesActive.Set(float64(count))

	c.mu.Lock()
	if count > c.peakActive {
		c.peakActive = count
	}
	c.mu.Unlock()
}

// RecordWait records the end of a pattern wait.
func (c *Collector) RecordWait(outcome string, elapsed time.Duration) {
	c.waits.WithLabelValues(outcome).Inc()
	c.waitDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// RecordStep records a finished scenario step.
func (c *Collector) RecordStep(name, status string, d time.Duration) {
	c.steps.WithLabelValues(status).Inc()
	c.stepDuration.WithLabelValues(name).Set(d.Seconds())
}

// SetOutcome records the scenario result.
func (c *Collector) SetOutcome(outcome string, d time.Duration) {
	c.scenarioOutcome.Reset()
	c.scenarioOutcome.WithLabelValues(outcome).Set(1)
	c.scenarioDuration.Set(d.Seconds())
}

// WriteLine implements stream.LineSink by counting lines.
func (c *Collector) WriteLine(s stream.Name, _ string) {
	c.outputLines.WithLabelValues(s.String()).Inc()
}

// =============================================================================
// Summary Accessors
// =============================================================================

// PeakActive returns the peak running process count.
func (c *Collector) PeakActive() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peakActive
}

// TotalStarts returns the total number of process starts.
func (c *Collector) TotalStarts() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalStarts
}

// ExitCodes returns a copy of the exit code counts.
func (c *Collector) ExitCodes() map[int]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[int]int64, len(c.exitCodes))
	for k, v := range c.exitCodes {
		out[k] = v
	}
	return out
}

var _ stream.LineSink = (*Collector)(nil)
