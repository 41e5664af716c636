package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the configuration for errors and inconsistencies.
// Returns nil if valid, or an error describing the problem.
func Validate(cfg *Config) error {
	var errs []error

	if strings.TrimSpace(cfg.Command) == "" {
		errs = append(errs, ValidationError{
			Field:   "command",
			Message: "watch command is required",
		})
	}

	if cfg.TargetFile == "" {
		errs = append(errs, ValidationError{
			Field:   "target_file",
			Message: "must not be empty",
		})
	}

	// Patterns must compile
	for field, p := range map[string]string{
		"success_pattern": cfg.SuccessPattern,
		"failure_pattern": cfg.FailurePattern,
	} {
		if err := validatePattern(p); err != nil {
			errs = append(errs, ValidationError{Field: field, Message: err.Error()})
		}
	}
	if cfg.SuccessPattern != "" && cfg.SuccessPattern == cfg.FailurePattern {
		errs = append(errs, ValidationError{
			Field:   "failure_pattern",
			Message: "must differ from success_pattern",
		})
	}

	for i, d := range cfg.Disallowed {
		if strings.TrimSpace(d) == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("disallowed[%d]", i),
				Message: "must not be blank",
			})
		}
	}

	// Timing
	for field, d := range map[string]time.Duration{
		"startup_timeout": cfg.StartupTimeout,
		"wait_timeout":    cfg.WaitTimeout,
		"kill_timeout":    cfg.KillTimeout,
	} {
		if d <= 0 {
			errs = append(errs, ValidationError{Field: field, Message: "must be positive"})
		}
	}
	if cfg.SettleDelay < 0 {
		errs = append(errs, ValidationError{
			Field:   "settle_delay",
			Message: "must not be negative",
		})
	}

	if cfg.Platform == "" {
		errs = append(errs, ValidationError{
			Field:   "platform",
			Message: "must not be empty",
		})
	}

	// Log format must be valid
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.LogFormat] {
		errs = append(errs, ValidationError{
			Field:   "log_format",
			Message: fmt.Sprintf("must be 'json' or 'text' (got %q)", cfg.LogFormat),
		})
	}

	if cfg.OutputTail < 1 {
		errs = append(errs, ValidationError{
			Field:   "output_tail",
			Message: "must be at least 1",
		})
	}

	if strings.HasSuffix(cfg.MetricsDump, "/") {
		errs = append(errs, ValidationError{
			Field:   "metrics_dump",
			Message: "must be a file path, not a directory",
		})
	}

	// Return combined errors
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// validatePattern checks that p is a non-empty regular expression.
func validatePattern(p string) error {
	if p == "" {
		return errors.New("must not be empty")
	}
	if _, err := regexp.Compile(p); err != nil {
		return fmt.Errorf("invalid regexp: %w", err)
	}
	return nil
}

// TargetPath returns the target file resolved against Dir.
func (c *Config) TargetPath() string {
	if filepath.IsAbs(c.TargetFile) {
		return c.TargetFile
	}
	return filepath.Join(c.Dir, c.TargetFile)
}

// ApplyCheckMode modifies config for --check mode.
func ApplyCheckMode(cfg *Config) {
	cfg.Verbose = true
	cfg.TUIEnabled = false
}
