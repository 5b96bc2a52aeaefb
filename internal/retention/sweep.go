package retention

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/UnlikeOtherAI/steroids-cli-sub006/internal/db"
)

// Retention defaults.
const (
	DefaultLogRetention = 7 * 24 * time.Hour
	// DefaultBackupRetention is a floor: backups younger than this are
	// never removed.
	DefaultBackupRetention = 30 * 24 * time.Hour
)

// Policy holds the retention windows for one project.
type Policy struct {
	LogRetention    time.Duration
	BackupRetention time.Duration
}

// DefaultPolicy returns the standard windows.
func DefaultPolicy() Policy {
	return Policy{
		LogRetention:    DefaultLogRetention,
		BackupRetention: DefaultBackupRetention,
	}
}

// logGlobs are the patterns swept under <project>/.steroids.
var logGlobs = []string{
	"invocations/*.log",
	"text-logs/**",
}

// Sweeper removes expired logs and backups for one project.
type Sweeper struct {
	projectPath string
	policy      Policy
	logger      *slog.Logger
	now         func() time.Time
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithPolicy overrides the retention windows.
func WithPolicy(p Policy) SweeperOption {
	return func(s *Sweeper) { s.policy = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) SweeperOption {
	return func(s *Sweeper) { s.logger = l }
}

// WithClock overrides the wall clock (tests).
func WithClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) { s.now = now }
}

// NewSweeper creates a sweeper for the project directory.
func NewSweeper(projectPath string, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		projectPath: projectPath,
		policy:      DefaultPolicy(),
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SweepLogs removes invocation and text logs older than the log
// retention window. Returns the removed paths.
func (s *Sweeper) SweepLogs() ([]string, error) {
	root := filepath.Join(s.projectPath, db.StoreDirName)
	cutoff := s.now().Add(-s.policy.LogRetention)

	var removed []string
	for _, pattern := range logGlobs {
		matches, err := doublestar.Glob(os.DirFS(root), pattern)
		if err != nil {
			return removed, fmt.Errorf("glob %s: %w", pattern, err)
		}
		for _, m := range matches {
			path := filepath.Join(root, m)
			info, err := os.Stat(path)
			if err != nil || info.IsDir() {
				continue
			}
			if info.ModTime().After(cutoff) {
				continue
			}
			if err := os.Remove(path); err != nil {
				s.logger.Warn("log removal failed", "path", path, "error", err)
				continue
			}
			removed = append(removed, path)
		}
	}
	if len(removed) > 0 {
		s.logger.Info("expired logs removed", "count", len(removed))
	}
	return removed, nil
}

// SweepBackups removes recognized backup entries older than the backup
// retention floor. Entries whose names do not parse are left alone.
func (s *Sweeper) SweepBackups() ([]string, error) {
	dir := db.BackupDir(s.projectPath)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read backup dir: %w", err)
	}

	cutoff := s.now().Add(-s.policy.BackupRetention)
	var removed []string
	for _, entry := range entries {
		ts, kind, ok := ParseBackupName(entry.Name())
		if !ok {
			continue
		}
		if ts.After(cutoff) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			s.logger.Warn("backup removal failed", "path", path, "error", err)
			continue
		}
		s.logger.Info("expired backup removed", "path", path, "kind", string(kind))
		removed = append(removed, path)
	}
	return removed, nil
}

// Sweep runs both sweeps.
func (s *Sweeper) Sweep() error {
	if _, err := s.SweepLogs(); err != nil {
		return err
	}
	_, err := s.SweepBackups()
	return err
}
