// Package main provides the watch-harness CLI entry point.
//
// watch-harness starts a watch-mode build tool, breaks and fixes a source
// file under it, and checks that every rebuild reports the right outcome.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/randomizedcoder/go-watch-harness/internal/config"
	"github.com/randomizedcoder/go-watch-harness/internal/logging"
	"github.com/randomizedcoder/go-watch-harness/internal/orchestrator"
)

// version is set at build time via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0" ./cmd/watch-harness
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// Handle version flag early (before flag parsing)
	if len(os.Args) > 1 {
		arg := os.Args[1]
		if arg == "-version" || arg == "--version" || arg == "version" {
			fmt.Printf("watch-harness %s\n", version)
			return orchestrator.ExitOK
		}
	}

	// Parse command-line flags
	cfg, err := config.ParseFlags()
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return orchestrator.ExitOK
		}
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		return orchestrator.ExitConfig
	}
	if cfg.ShowVersion {
		fmt.Printf("watch-harness %s\n", version)
		return orchestrator.ExitOK
	}

	// Apply --check mode modifications
	if cfg.Check {
		config.ApplyCheckMode(cfg)
	}

	// Initialize logger
	// When TUI is enabled, suppress logs to avoid interfering with TUI rendering
	var logger *slog.Logger
	if cfg.TUIEnabled {
		logger = logging.Discard()
	} else {
		logger = logging.NewLogger(cfg.LogFormat, "info", cfg.Verbose)
	}
	logging.SetDefault(logger)

	// Validate configuration
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return orchestrator.ExitConfig
	}

	orch, err := orchestrator.New(cfg, logger, orchestrator.Options{Version: version})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return orchestrator.ExitConfig
	}

	// Handle --print-plan mode
	if cfg.PrintPlan {
		orch.PrintPlan(os.Stdout)
		return orchestrator.ExitOK
	}

	logger.Info("starting",
		"version", version,
		"run_id", orch.RunID(),
		"command", cfg.Command,
		"dir", cfg.Dir,
		"target", cfg.TargetPath(),
		"check", cfg.Check,
		"metrics_addr", cfg.MetricsAddr,
	)

	if _, err := orch.Run(context.Background()); err != nil {
		logger.Error("run_failed", "error", err)
		return orchestrator.ExitCode(err)
	}
	return orchestrator.ExitOK
}
