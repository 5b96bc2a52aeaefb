// Package runner manages daemon registration and liveness in the global store.
package runner

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/UnlikeOtherAI/steroids-cli-sub006/internal/db"
)

// Heartbeat cadence and staleness window. A runner that misses heartbeats
// for the full window is reaped by wakeup.
const (
	HeartbeatInterval = 30 * time.Second
	StaleAfter        = 5 * time.Minute
)

// Registry manages this process's runner row.
type Registry struct {
	global *db.GlobalDB
	id     string
}

// NewRegistry creates a registry handle; Register assigns the runner id.
func NewRegistry(global *db.GlobalDB) *Registry {
	return &Registry{global: global}
}

// ID returns the registered runner id, empty before Register.
func (r *Registry) ID() string {
	return r.id
}

// Register inserts a fresh runner row for this process.
func (r *Registry) Register(projectPath string) (string, error) {
	r.id = uuid.NewString()
	err := r.global.SaveRunner(&db.Runner{
		ID:          r.id,
		Status:      db.RunnerRunning,
		PID:         os.Getpid(),
		ProjectPath: projectPath,
	})
	if err != nil {
		return "", fmt.Errorf("register runner: %w", err)
	}
	return r.id, nil
}

// Heartbeat refreshes this runner's heartbeat_at.
func (r *Registry) Heartbeat() error {
	return r.global.TouchRunnerHeartbeat(r.id)
}

// ClaimTask records the task and section this runner is working on.
func (r *Registry) ClaimTask(taskID, sectionID string) error {
	return r.global.SetRunnerTask(r.id, taskID, sectionID)
}

// ReleaseTask clears the current task claim.
func (r *Registry) ReleaseTask() error {
	return r.global.SetRunnerTask(r.id, "", "")
}

// Unregister performs the graceful-exit transition. With remove, the row is
// deleted; otherwise the runner is parked idle with no current task.
func (r *Registry) Unregister(remove bool) error {
	if remove {
		_, err := r.global.DeleteRunner(r.id)
		return err
	}
	if err := r.global.SetRunnerTask(r.id, "", ""); err != nil {
		return err
	}
	return r.global.SetRunnerStatus(r.id, db.RunnerIdle)
}

// IsStale reports whether a runner row has missed its heartbeat window.
// Idle runners are never stale.
func IsStale(r *db.Runner, now time.Time) bool {
	if r.Status == db.RunnerIdle {
		return false
	}
	return now.Sub(r.HeartbeatAt) > StaleAfter
}
