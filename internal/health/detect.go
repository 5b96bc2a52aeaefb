// Package health implements the stuck-task detector: a pure function
// over store snapshots that classifies failure modes, plus the summary
// and incident-recording plumbing around it.
package health

import (
	"fmt"
	"time"

	"github.com/UnlikeOtherAI/steroids-cli-sub006/internal/db"
	"github.com/UnlikeOtherAI/steroids-cli-sub006/internal/task"
)

// Config holds the detection windows.
type Config struct {
	OrphanedTaskTimeout    time.Duration
	MaxCoderDuration       time.Duration
	MaxReviewerDuration    time.Duration
	RunnerHeartbeatTimeout time.Duration
	InvocationStaleness    time.Duration
}

// DefaultConfig returns the standard detection windows.
func DefaultConfig() Config {
	return Config{
		OrphanedTaskTimeout:    3600 * time.Second,
		MaxCoderDuration:       1800 * time.Second,
		MaxReviewerDuration:    900 * time.Second,
		RunnerHeartbeatTimeout: 300 * time.Second,
		InvocationStaleness:    600 * time.Second,
	}
}

// Snapshot carries everything Detect reads. Callers assemble it from
// the project and global stores; Detect itself never touches a store.
type Snapshot struct {
	Tasks     []*db.Task
	TaskLocks []*db.LockRow
	Runners   []*db.Runner

	// OpenIncidents is the count of unresolved incidents at snapshot
	// time, used by Summarize.
	OpenIncidents int

	// PIDAlive probes whether a process exists on this host. Nil means
	// assume alive (remote snapshots cannot probe).
	PIDAlive func(pid int) bool
}

// OrphanedTask is an active task nobody holds a lease on.
type OrphanedTask struct {
	TaskID    string
	Status    string
	UpdatedAt time.Time
	IdleFor   time.Duration
}

// HangingInvocation is an active task that has exceeded its phase window.
type HangingInvocation struct {
	TaskID   string
	Status   string
	Phase    string // coder | reviewer
	Duration time.Duration
}

// RunnerIssue is a zombie or dead runner finding.
type RunnerIssue struct {
	RunnerID      string
	PID           int
	ProjectPath   string
	CurrentTaskID string
	HeartbeatAt   time.Time
}

// Inconsistency is a cross-table contradiction between the stores.
type Inconsistency struct {
	Kind     string
	TaskID   string
	RunnerID string
	Detail   string
}

// Report is the detector output: five findings lists.
type Report struct {
	GeneratedAt        time.Time
	OrphanedTasks      []OrphanedTask
	HangingInvocations []HangingInvocation
	ZombieRunners      []RunnerIssue
	DeadRunners        []RunnerIssue
	DBInconsistencies  []Inconsistency
	ActiveIncidents    int
}

// Detect classifies the snapshot. Pure: same snapshot, config, and now
// always yield the same report.
func Detect(snap Snapshot, cfg Config, now time.Time) *Report {
	report := &Report{
		GeneratedAt:     now,
		ActiveIncidents: snap.OpenIncidents,
	}

	lockedTasks := make(map[string]*db.LockRow, len(snap.TaskLocks))
	for _, l := range snap.TaskLocks {
		lockedTasks[l.Key] = l
	}
	runnersByID := make(map[string]*db.Runner, len(snap.Runners))
	tasksByID := make(map[string]*db.Task, len(snap.Tasks))
	for _, r := range snap.Runners {
		runnersByID[r.ID] = r
	}
	for _, t := range snap.Tasks {
		tasksByID[t.ID] = t
	}

	for _, t := range snap.Tasks {
		active := t.Status == string(task.StatusInProgress) || t.Status == string(task.StatusReview)
		if !active {
			continue
		}

		lockRow, held := lockedTasks[t.ID]
		if held && lockRow.ExpiresAt.Before(now) {
			held = false
		}

		idle := now.Sub(t.UpdatedAt)
		if !held && idle > cfg.OrphanedTaskTimeout {
			report.OrphanedTasks = append(report.OrphanedTasks, OrphanedTask{
				TaskID:    t.ID,
				Status:    t.Status,
				UpdatedAt: t.UpdatedAt,
				IdleFor:   idle,
			})
		}

		switch t.Status {
		case string(task.StatusInProgress):
			if idle > cfg.MaxCoderDuration {
				report.HangingInvocations = append(report.HangingInvocations, HangingInvocation{
					TaskID: t.ID, Status: t.Status, Phase: "coder", Duration: idle,
				})
			}
		case string(task.StatusReview):
			if idle > cfg.MaxReviewerDuration {
				report.HangingInvocations = append(report.HangingInvocations, HangingInvocation{
					TaskID: t.ID, Status: t.Status, Phase: "reviewer", Duration: idle,
				})
			}
		}
	}

	for _, r := range snap.Runners {
		issue := RunnerIssue{
			RunnerID:      r.ID,
			PID:           r.PID,
			ProjectPath:   r.ProjectPath,
			CurrentTaskID: r.CurrentTaskID,
			HeartbeatAt:   r.HeartbeatAt,
		}
		beatAge := now.Sub(r.HeartbeatAt)
		switch {
		case beatAge > cfg.RunnerHeartbeatTimeout:
			report.DeadRunners = append(report.DeadRunners, issue)
		case snap.PIDAlive != nil && r.PID > 0 && !snap.PIDAlive(r.PID):
			// Heartbeat is fresh but the process is gone: something
			// else is writing heartbeats, or the row outlived its owner.
			report.ZombieRunners = append(report.ZombieRunners, issue)
		}

		if r.CurrentTaskID != "" {
			if t, ok := tasksByID[r.CurrentTaskID]; ok && task.Status(t.Status).IsTerminal() {
				report.DBInconsistencies = append(report.DBInconsistencies, Inconsistency{
					Kind:     "runner_claims_terminal_task",
					TaskID:   r.CurrentTaskID,
					RunnerID: r.ID,
					Detail:   fmt.Sprintf("runner %s claims task %s which is %s", r.ID, r.CurrentTaskID, t.Status),
				})
			}
		}
	}

	for _, l := range snap.TaskLocks {
		if l.ExpiresAt.Before(now) {
			continue
		}
		if _, ok := runnersByID[l.RunnerID]; !ok {
			report.DBInconsistencies = append(report.DBInconsistencies, Inconsistency{
				Kind:     "lock_owner_unregistered",
				TaskID:   l.Key,
				RunnerID: l.RunnerID,
				Detail:   fmt.Sprintf("task lock on %s held by unknown runner %s", l.Key, l.RunnerID),
			})
		}
	}

	return report
}

// Status is the summarized health level.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Summarize folds the report into a single status. Zombie or dead
// runners are unhealthy; anything else non-empty is degraded.
func (r *Report) Summarize() Status {
	if len(r.ZombieRunners) > 0 || len(r.DeadRunners) > 0 {
		return StatusUnhealthy
	}
	if len(r.OrphanedTasks) > 0 || len(r.HangingInvocations) > 0 || r.ActiveIncidents > 0 {
		return StatusDegraded
	}
	if len(r.DBInconsistencies) > 0 {
		return StatusDegraded
	}
	return StatusHealthy
}

// Score maps the status onto a 0-100 scale for hook payloads.
func (r *Report) Score() int {
	switch r.Summarize() {
	case StatusHealthy:
		return 100
	case StatusDegraded:
		return 50
	default:
		return 0
	}
}
