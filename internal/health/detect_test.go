package health

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UnlikeOtherAI/steroids-cli-sub006/internal/db"
)

var detectNow = time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

func alivePID(int) bool { return true }
func deadPID(int) bool  { return false }

func TestDetectEmptySnapshotIsHealthy(t *testing.T) {
	report := Detect(Snapshot{PIDAlive: alivePID}, DefaultConfig(), detectNow)
	assert.Equal(t, StatusHealthy, report.Summarize())
	assert.Equal(t, 100, report.Score())
}

func TestDetectOrphanedTask(t *testing.T) {
	snap := Snapshot{
		Tasks: []*db.Task{{
			ID:        "T1",
			Status:    "in_progress",
			UpdatedAt: detectNow.Add(-2 * time.Hour),
		}},
		PIDAlive: alivePID,
	}
	report := Detect(snap, DefaultConfig(), detectNow)

	require.Len(t, report.OrphanedTasks, 1)
	assert.Equal(t, "T1", report.OrphanedTasks[0].TaskID)
	assert.Equal(t, StatusDegraded, report.Summarize())
}

func TestDetectHeldLockSuppressesOrphan(t *testing.T) {
	snap := Snapshot{
		Tasks: []*db.Task{{
			ID:        "T1",
			Status:    "in_progress",
			UpdatedAt: detectNow.Add(-2 * time.Hour),
		}},
		TaskLocks: []*db.LockRow{{
			Key:       "T1",
			RunnerID:  "r1",
			ExpiresAt: detectNow.Add(10 * time.Minute),
		}},
		Runners: []*db.Runner{{
			ID:          "r1",
			PID:         1,
			HeartbeatAt: detectNow,
		}},
		PIDAlive: alivePID,
	}
	report := Detect(snap, DefaultConfig(), detectNow)
	assert.Empty(t, report.OrphanedTasks)
	// still hanging: in_progress past the coder window
	require.Len(t, report.HangingInvocations, 1)
	assert.Equal(t, "coder", report.HangingInvocations[0].Phase)
}

func TestDetectExpiredLockCountsAsOrphan(t *testing.T) {
	snap := Snapshot{
		Tasks: []*db.Task{{
			ID:        "T1",
			Status:    "review",
			UpdatedAt: detectNow.Add(-2 * time.Hour),
		}},
		TaskLocks: []*db.LockRow{{
			Key:       "T1",
			RunnerID:  "r1",
			ExpiresAt: detectNow.Add(-time.Minute),
		}},
		PIDAlive: alivePID,
	}
	report := Detect(snap, DefaultConfig(), detectNow)
	require.Len(t, report.OrphanedTasks, 1)
}

func TestDetectReviewerWindowShorterThanCoder(t *testing.T) {
	snap := Snapshot{
		Tasks: []*db.Task{
			{ID: "T1", Status: "in_progress", UpdatedAt: detectNow.Add(-20 * time.Minute)},
			{ID: "T2", Status: "review", UpdatedAt: detectNow.Add(-20 * time.Minute)},
		},
		TaskLocks: []*db.LockRow{
			{Key: "T1", RunnerID: "r1", ExpiresAt: detectNow.Add(time.Hour)},
			{Key: "T2", RunnerID: "r1", ExpiresAt: detectNow.Add(time.Hour)},
		},
		Runners:  []*db.Runner{{ID: "r1", PID: 1, HeartbeatAt: detectNow}},
		PIDAlive: alivePID,
	}
	report := Detect(snap, DefaultConfig(), detectNow)

	// 20 min exceeds the 15 min reviewer window but not the 30 min coder one.
	require.Len(t, report.HangingInvocations, 1)
	assert.Equal(t, "T2", report.HangingInvocations[0].TaskID)
	assert.Equal(t, "reviewer", report.HangingInvocations[0].Phase)
}

func TestDetectZombieRunner(t *testing.T) {
	snap := Snapshot{
		Runners: []*db.Runner{{
			ID:          "r1",
			PID:         99999,
			Status:      "running",
			HeartbeatAt: detectNow.Add(-time.Minute),
		}},
		PIDAlive: deadPID,
	}
	report := Detect(snap, DefaultConfig(), detectNow)

	require.Len(t, report.ZombieRunners, 1)
	assert.Empty(t, report.DeadRunners)
	assert.Equal(t, StatusUnhealthy, report.Summarize())
	assert.Equal(t, 0, report.Score())
}

func TestDetectDeadRunner(t *testing.T) {
	snap := Snapshot{
		Runners: []*db.Runner{{
			ID:          "r1",
			PID:         1,
			Status:      "running",
			HeartbeatAt: detectNow.Add(-10 * time.Minute),
		}},
		PIDAlive: alivePID,
	}
	report := Detect(snap, DefaultConfig(), detectNow)

	require.Len(t, report.DeadRunners, 1)
	assert.Empty(t, report.ZombieRunners)
	assert.Equal(t, StatusUnhealthy, report.Summarize())
}

func TestDetectInconsistencies(t *testing.T) {
	snap := Snapshot{
		Tasks: []*db.Task{{ID: "T1", Status: "completed", UpdatedAt: detectNow}},
		Runners: []*db.Runner{{
			ID:            "r1",
			PID:           1,
			CurrentTaskID: "T1",
			HeartbeatAt:   detectNow,
		}},
		TaskLocks: []*db.LockRow{{
			Key:       "T2",
			RunnerID:  "ghost",
			ExpiresAt: detectNow.Add(time.Hour),
		}},
		PIDAlive: alivePID,
	}
	report := Detect(snap, DefaultConfig(), detectNow)

	require.Len(t, report.DBInconsistencies, 2)
	kinds := []string{report.DBInconsistencies[0].Kind, report.DBInconsistencies[1].Kind}
	assert.Contains(t, kinds, "runner_claims_terminal_task")
	assert.Contains(t, kinds, "lock_owner_unregistered")
}

func TestDetectActiveIncidentsDegrade(t *testing.T) {
	report := Detect(Snapshot{OpenIncidents: 2, PIDAlive: alivePID}, DefaultConfig(), detectNow)
	assert.Equal(t, StatusDegraded, report.Summarize())
}

func TestCheckerRecordsIncidents(t *testing.T) {
	project := db.NewTestProjectDB(t)
	global := db.NewTestGlobalDB(t)

	require.NoError(t, project.SaveTask(&db.Task{ID: "T1", Title: "orphan me", Status: "in_progress"}))
	_, err := project.Exec(`UPDATE tasks SET updated_at = ? WHERE id = ?`,
		db.FormatTime(detectNow.Add(-3*time.Hour)), "T1")
	require.NoError(t, err)

	c := NewChecker(project, global, WithClock(func() time.Time { return detectNow }))
	report, err := c.Check()
	require.NoError(t, err)
	require.NotEmpty(t, report.OrphanedTasks)

	incidents, err := project.ListIncidents(db.IncidentFilter{Unresolved: true})
	require.NoError(t, err)
	require.NotEmpty(t, incidents)

	// Second pass must not duplicate open incidents.
	before := len(incidents)
	_, err = c.Check()
	require.NoError(t, err)
	incidents, err = project.ListIncidents(db.IncidentFilter{Unresolved: true})
	require.NoError(t, err)
	assert.Len(t, incidents, before)
}

func TestCheckerDegradedModeWritesNothing(t *testing.T) {
	project := db.NewTestProjectDB(t)

	require.NoError(t, project.SaveTask(&db.Task{ID: "T1", Title: "orphan me", Status: "in_progress"}))
	_, err := project.Exec(`UPDATE tasks SET updated_at = ? WHERE id = ?`,
		db.FormatTime(detectNow.Add(-3*time.Hour)), "T1")
	require.NoError(t, err)

	c := NewChecker(project, nil, WithClock(func() time.Time { return detectNow }))
	assert.True(t, c.Degraded())

	report, err := c.Check()
	require.NoError(t, err)
	require.NotEmpty(t, report.OrphanedTasks)

	incidents, err := project.ListIncidents(db.IncidentFilter{})
	require.NoError(t, err)
	assert.Empty(t, incidents)
}

func TestProcessExistsSelf(t *testing.T) {
	assert.True(t, ProcessExists(os.Getpid()))
}
