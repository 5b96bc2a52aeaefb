package health

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/UnlikeOtherAI/steroids-cli-sub006/internal/db"
)

// Checker assembles snapshots from the stores, runs the detector, and
// records incidents for new findings.
type Checker struct {
	project *db.ProjectDB
	global  *db.GlobalDB // nil in degraded mode (missing global store)
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time
}

// CheckerOption configures a Checker.
type CheckerOption func(*Checker)

// WithConfig overrides the detection windows.
func WithConfig(cfg Config) CheckerOption {
	return func(c *Checker) { c.cfg = cfg }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) CheckerOption {
	return func(c *Checker) { c.logger = l }
}

// WithClock overrides the wall clock (tests).
func WithClock(now func() time.Time) CheckerOption {
	return func(c *Checker) { c.now = now }
}

// NewChecker creates a checker. global may be nil when the global store
// is unavailable; the checker then reports with an empty runners view
// and writes no incidents.
func NewChecker(project *db.ProjectDB, global *db.GlobalDB, opts ...CheckerOption) *Checker {
	c := &Checker{
		project: project,
		global:  global,
		cfg:     DefaultConfig(),
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Degraded reports whether the checker runs without a global store.
func (c *Checker) Degraded() bool {
	return c.global == nil
}

// Snapshot reads the stores into a detector snapshot.
func (c *Checker) Snapshot() (Snapshot, error) {
	snap := Snapshot{PIDAlive: ProcessExists}

	tasks, err := c.project.ListTasks()
	if err != nil {
		return snap, fmt.Errorf("snapshot tasks: %w", err)
	}
	snap.Tasks = tasks

	locks, err := c.project.ListTaskLocks()
	if err != nil {
		return snap, fmt.Errorf("snapshot task locks: %w", err)
	}
	snap.TaskLocks = locks

	open, err := c.project.CountOpenIncidents()
	if err != nil {
		return snap, fmt.Errorf("snapshot incidents: %w", err)
	}
	snap.OpenIncidents = open

	if c.global != nil {
		runners, err := c.global.ListRunners()
		if err != nil {
			return snap, fmt.Errorf("snapshot runners: %w", err)
		}
		snap.Runners = runners
	}

	return snap, nil
}

// Check runs one detection pass and, unless degraded, records an
// incident per finding. Already-open incidents are not duplicated.
func (c *Checker) Check() (*Report, error) {
	snap, err := c.Snapshot()
	if err != nil {
		return nil, err
	}
	report := Detect(snap, c.cfg, c.now())

	if c.global == nil {
		// Degraded mode observes but never writes.
		return report, nil
	}

	c.recordIncidents(report)
	return report, nil
}

func (c *Checker) recordIncidents(report *Report) {
	record := func(taskID, runnerID, mode string, details any) {
		body, _ := json.Marshal(details)
		created, err := c.project.CreateIncident(&db.Incident{
			TaskID:      taskID,
			RunnerID:    runnerID,
			FailureMode: mode,
			Details:     string(body),
		})
		if err != nil {
			c.logger.Error("record incident failed", "failure_mode", mode, "task", taskID, "error", err)
			return
		}
		if created {
			c.logger.Warn("incident recorded", "failure_mode", mode, "task", taskID, "runner", runnerID)
		}
	}

	for _, o := range report.OrphanedTasks {
		record(o.TaskID, "", db.FailureOrphaned, o)
	}
	for _, h := range report.HangingInvocations {
		record(h.TaskID, "", db.FailureHanging, h)
	}
	for _, z := range report.ZombieRunners {
		record(z.CurrentTaskID, z.RunnerID, db.FailureZombie, z)
	}
	for _, d := range report.DeadRunners {
		record(d.CurrentTaskID, d.RunnerID, db.FailureDead, d)
	}
	for _, i := range report.DBInconsistencies {
		record(i.TaskID, i.RunnerID, db.FailureInconsistency, i)
	}
}
