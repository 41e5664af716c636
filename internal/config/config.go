// Package config provides configuration management for watch-harness.
package config

import (
	"runtime"
	"time"

	"github.com/randomizedcoder/go-watch-harness/internal/monitor"
	"github.com/randomizedcoder/go-watch-harness/internal/scenario"
)

// Config holds all configuration options for the orchestrator.
type Config struct {
	// Watch command
	Command string   `json:"command"`
	Args    []string `json:"args"`
	Dir     string   `json:"dir"`

	// Scenario
	TargetFile      string        `json:"target_file"`
	SuccessPattern  string        `json:"success_pattern"`
	FailurePattern  string        `json:"failure_pattern"`
	BreakSignature  string        `json:"break_signature"`
	SyntaxSignature string        `json:"syntax_signature"`
	Disallowed      []string      `json:"disallowed"`
	StartupTimeout  time.Duration `json:"startup_timeout"`
	WaitTimeout     time.Duration `json:"wait_timeout"`
	SettleDelay     time.Duration `json:"settle_delay"`
	KillTimeout     time.Duration `json:"kill_timeout"`

	// Environment guard
	Platform string `json:"platform"`
	Eject    bool   `json:"eject"`
	Nightly  bool   `json:"nightly"`

	// Observability
	MetricsAddr string `json:"metrics_addr"` // "" = disabled
	MetricsDump string `json:"metrics_dump"` // "" = disabled
	OutputTail  int    `json:"output_tail"`
	Verbose     bool   `json:"verbose"`
	LogFormat   string `json:"log_format"` // json, text
	TUIEnabled  bool   `json:"tui_enabled"`

	// Diagnostic modes
	PrintPlan     bool `json:"print_plan"`
	Check         bool `json:"check"`
	SkipPreflight bool `json:"skip_preflight"`
	ShowVersion   bool `json:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		// Watch command
		Command: "ng",
		Args:    []string{"serve", "--aot"},
		Dir:     ".",

		// Scenario
		TargetFile:      scenario.DefaultTargetFile,
		SuccessPattern:  scenario.DefaultSuccessPattern,
		FailurePattern:  scenario.DefaultFailurePattern,
		BreakSignature:  scenario.DefaultBreakSignature,
		SyntaxSignature: scenario.DefaultSyntaxSignature,
		Disallowed:      append([]string(nil), scenario.DefaultDisallowed...),
		StartupTimeout:  scenario.DefaultStartupTimeout,
		WaitTimeout:     monitor.DefaultWaitTimeout,
		SettleDelay:     scenario.DefaultSettleDelay,
		KillTimeout:     monitor.DefaultKillTimeout,

		// Environment guard
		Platform: runtime.GOOS,

		// Observability
		OutputTail: 200,
		LogFormat:  "json",
	}
}
