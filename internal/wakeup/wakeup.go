// Package wakeup implements the cron-spawned reconciler: scan every
// registered project, reap stale runners, and start runners where
// pending work sits unattended.
package wakeup

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/UnlikeOtherAI/steroids-cli-sub006/internal/db"
	"github.com/UnlikeOtherAI/steroids-cli-sub006/internal/health"
	"github.com/UnlikeOtherAI/steroids-cli-sub006/internal/runner"
)

// Deadline bounds a whole wakeup pass. Wakeup never waits on a runner.
const Deadline = 30 * time.Second

// LastWakeupKey is the global kv key recording the last pass.
const LastWakeupKey = "last_wakeup_at"

// Classification of one project during a pass.
type Classification string

const (
	NeedsStart Classification = "needs_start"
	Stale      Classification = "stale"
	Idle       Classification = "idle"
)

// ProjectResult is the outcome for one scanned project.
type ProjectResult struct {
	Path           string
	Classification Classification
	Action         string // started | would_start | none
	ReapedRunners  []string
	Err            error
}

// Report summarizes one wakeup pass.
type Report struct {
	StartedAt time.Time
	Projects  []ProjectResult
}

// Reconciler runs wakeup passes against the global store.
type Reconciler struct {
	global      *db.GlobalDB
	logger      *slog.Logger
	dryRun      bool
	staleAfter  time.Duration
	now         func() time.Time
	pidAlive    func(int) bool
	spawn       func(projectPath string, parallel bool) error
	openProject func(path string) (*db.ProjectDB, func(), error)
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) { r.logger = l }
}

// WithDryRun records would_start instead of spawning.
func WithDryRun(dry bool) Option {
	return func(r *Reconciler) { r.dryRun = dry }
}

// WithClock overrides the wall clock (tests).
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// WithSpawner overrides how runner processes are started (tests).
func WithSpawner(fn func(projectPath string, parallel bool) error) Option {
	return func(r *Reconciler) { r.spawn = fn }
}

// WithPIDProbe overrides the process-exists check (tests).
func WithPIDProbe(fn func(int) bool) Option {
	return func(r *Reconciler) { r.pidAlive = fn }
}

// WithProjectOpener overrides how project stores are opened (tests).
// The returned release func is called when the pass is done with the
// store.
func WithProjectOpener(fn func(path string) (*db.ProjectDB, func(), error)) Option {
	return func(r *Reconciler) { r.openProject = fn }
}

// New creates a reconciler.
func New(global *db.GlobalDB, opts ...Option) *Reconciler {
	r := &Reconciler{
		global:      global,
		logger:      slog.Default(),
		staleAfter:  runner.StaleAfter,
		now:         time.Now,
		pidAlive:    health.ProcessExists,
		spawn:       spawnRunner,
		openProject: openProjectStore,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes one pass under the hard deadline and records the pass
// timestamp in the global kv table.
func (r *Reconciler) Run(ctx context.Context) (*Report, error) {
	ctx, cancel := context.WithTimeout(ctx, Deadline)
	defer cancel()

	start := r.now().UTC()
	projects, err := r.global.ListProjects(true)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}

	report := &Report{StartedAt: start}
	var mu sync.Mutex

	// The group context is only passed down; Wait cancels it, so the
	// pass verdict comes from the deadline context alone.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, p := range projects {
		g.Go(func() error {
			result := r.reconcileProject(gctx, p)
			mu.Lock()
			report.Projects = append(report.Projects, result)
			mu.Unlock()
			// Per-project failures are recorded, never fatal to the pass.
			return nil
		})
	}
	_ = g.Wait()

	if err := r.global.SetKV(LastWakeupKey, db.FormatTime(start)); err != nil {
		r.logger.Warn("record last_wakeup_at failed", "error", err)
	}
	return report, ctx.Err()
}

// reconcileProject classifies one project and acts on it.
func (r *Reconciler) reconcileProject(ctx context.Context, p *db.Project) ProjectResult {
	result := ProjectResult{Path: p.Path, Action: "none"}
	now := r.now().UTC()

	if err := ctx.Err(); err != nil {
		result.Err = err
		return result
	}

	runners, err := r.global.ListRunnersForProject(p.Path)
	if err != nil {
		result.Err = err
		return result
	}

	// Best-effort project store read; a locked or missing store must not
	// break the pass for other projects.
	project, release, err := r.openProject(p.Path)
	if err != nil {
		r.logger.Warn("project store unavailable", "project", p.Path, "error", err)
		project = nil
	} else {
		defer release()
	}

	reaped := r.reapStale(runners, project, now)
	if len(reaped) > 0 {
		result.Classification = Stale
		result.ReapedRunners = reaped
	}

	if project == nil {
		return result
	}
	if err := ctx.Err(); err != nil {
		result.Err = err
		return result
	}

	pending, err := project.ListTasksByStatus("pending")
	if err != nil {
		result.Err = err
		return result
	}
	if len(pending) == 0 {
		if result.Classification == "" {
			result.Classification = Idle
		}
		return result
	}

	if r.hasActiveRunner(runners, now) {
		if result.Classification == "" {
			result.Classification = Idle
		}
		return result
	}

	result.Classification = NeedsStart
	if r.dryRun {
		result.Action = "would_start"
		return result
	}
	// Spawn is fire-and-forget, but never start a runner after the
	// pass deadline has already passed.
	if err := ctx.Err(); err != nil {
		result.Err = err
		return result
	}
	if err := r.spawn(p.Path, p.Parallel); err != nil {
		result.Err = fmt.Errorf("spawn runner: %w", err)
		return result
	}
	r.logger.Info("runner started", "project", p.Path, "parallel", p.Parallel)
	result.Action = "started"
	return result
}

// openProjectStore opens the project store read-write for incident
// writes during reaping.
func openProjectStore(path string) (*db.ProjectDB, func(), error) {
	p, err := db.OpenProject(path)
	if err != nil {
		return nil, nil, err
	}
	return p, func() { _ = p.Close() }, nil
}

// reapStale deletes runner rows that missed their heartbeat window and
// records a zombie or dead incident for any task they claimed.
func (r *Reconciler) reapStale(runners []*db.Runner, project *db.ProjectDB, now time.Time) []string {
	var reaped []string
	for _, rr := range runners {
		if !runner.IsStale(rr, now) {
			continue
		}

		mode := db.FailureDead
		if rr.PID > 0 && r.pidAlive(rr.PID) {
			mode = db.FailureZombie
		}

		if err := r.global.SetRunnerStatus(rr.ID, db.RunnerError); err != nil {
			r.logger.Warn("mark stale runner failed", "runner", rr.ID, "error", err)
		}
		if _, err := r.global.DeleteRunner(rr.ID); err != nil {
			r.logger.Warn("delete stale runner failed", "runner", rr.ID, "error", err)
			continue
		}

		if project != nil {
			details, _ := json.Marshal(map[string]any{
				"pid":          rr.PID,
				"heartbeat_at": rr.HeartbeatAt,
				"status":       rr.Status,
			})
			if _, err := project.CreateIncident(&db.Incident{
				TaskID:      rr.CurrentTaskID,
				RunnerID:    rr.ID,
				FailureMode: mode,
				Details:     string(details),
			}); err != nil {
				r.logger.Warn("record reap incident failed", "runner", rr.ID, "error", err)
			}
		}

		r.logger.Warn("stale runner reaped", "runner", rr.ID, "failure_mode", mode, "task", rr.CurrentTaskID)
		reaped = append(reaped, rr.ID)
	}
	return reaped
}

// hasActiveRunner reports whether any runner is working this project
// with a fresh heartbeat.
func (r *Reconciler) hasActiveRunner(runners []*db.Runner, now time.Time) bool {
	for _, rr := range runners {
		if rr.Status != db.RunnerRunning && rr.Status != db.RunnerActive {
			continue
		}
		if now.Sub(rr.HeartbeatAt) <= r.staleAfter {
			return true
		}
	}
	return false
}
