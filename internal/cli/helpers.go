// Package cli implements the steroids command-line interface.
// This file contains shared helper functions used across multiple commands.
package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/UnlikeOtherAI/steroids-cli-sub006/internal/config"
	"github.com/UnlikeOtherAI/steroids-cli-sub006/internal/db"
	"github.com/UnlikeOtherAI/steroids-cli-sub006/internal/health"
)

// newLogger builds the CLI logger and installs it as the slog default.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

// projectDir resolves the --project flag to an absolute path.
func projectDir() (string, error) {
	abs, err := filepath.Abs(projectFlag)
	if err != nil {
		return "", fmt.Errorf("resolve project directory: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	return abs, nil
}

// requireInitialized opens the project store, failing with a hint when
// the project was never initialized.
func requireInitialized(path string) (*db.ProjectDB, error) {
	if _, err := os.Stat(db.ProjectStorePath(path)); err != nil {
		return nil, fmt.Errorf("steroids is not initialized in %s (run `steroids init` first)", path)
	}
	return db.OpenProject(path)
}

// degradedGlobal opens the global store, returning nil (degraded mode)
// when it is unavailable.
func degradedGlobal(logger *slog.Logger) *db.GlobalDB {
	global, err := db.OpenGlobal()
	if err != nil {
		logger.Warn("global store unavailable, continuing degraded", "error", err)
		return nil
	}
	return global
}

// healthConfigFrom converts the stored second-granularity windows into
// detector durations.
func healthConfigFrom(cfg *config.Config) health.Config {
	return health.Config{
		OrphanedTaskTimeout:    time.Duration(cfg.Health.OrphanedTaskTimeout) * time.Second,
		MaxCoderDuration:       time.Duration(cfg.Health.MaxCoderDuration) * time.Second,
		MaxReviewerDuration:    time.Duration(cfg.Health.MaxReviewerDuration) * time.Second,
		RunnerHeartbeatTimeout: time.Duration(cfg.Health.RunnerHeartbeatTimeout) * time.Second,
		InvocationStaleness:    time.Duration(cfg.Health.InvocationStaleness) * time.Second,
	}
}

// parsePriority accepts a named preset or a 0-100 integer.
func parsePriority(raw string) (int, error) {
	switch raw {
	case "high":
		return db.PriorityHigh, nil
	case "medium", "":
		return db.PriorityMedium, nil
	case "low":
		return db.PriorityLow, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 || n > 100 {
		return 0, fmt.Errorf("priority must be high, medium, low, or 0-100 (got %q)", raw)
	}
	return n, nil
}

// ANSI status coloring, disabled when the terminal does not want it.
func colorStatus(status string) string {
	if !config.ColorsEnabled() {
		return status
	}
	var code string
	switch status {
	case "completed", "healthy", "running", "active":
		code = "32" // green
	case "in_progress", "review", "degraded", "idle":
		code = "33" // yellow
	case "failed", "unhealthy", "error":
		code = "31" // red
	default:
		return status
	}
	return "\033[" + code + "m" + status + "\033[0m"
}

// printJSON writes v as indented JSON to stdout.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
