package wakeup

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UnlikeOtherAI/steroids-cli-sub006/internal/db"
)

var wakeupNow = time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)

type spawnRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (s *spawnRecorder) spawn(projectPath string, parallel bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	call := projectPath
	if parallel {
		call += " (parallel)"
	}
	s.calls = append(s.calls, call)
	return nil
}

type testEnv struct {
	global  *db.GlobalDB
	project *db.ProjectDB
	spawns  *spawnRecorder
}

func newTestReconciler(t *testing.T, opts ...Option) (*Reconciler, *testEnv) {
	t.Helper()
	env := &testEnv{
		global:  db.NewTestGlobalDB(t),
		project: db.NewTestProjectDB(t),
		spawns:  &spawnRecorder{},
	}

	base := []Option{
		WithClock(func() time.Time { return wakeupNow }),
		WithSpawner(env.spawns.spawn),
		WithPIDProbe(func(int) bool { return false }),
		WithProjectOpener(func(string) (*db.ProjectDB, func(), error) { return env.project, func() {}, nil }),
	}
	r := New(env.global, append(base, opts...)...)
	return r, env
}

func registerProject(t *testing.T, g *db.GlobalDB, path string, parallel bool) {
	t.Helper()
	require.NoError(t, g.SyncProject(db.Project{
		ID: "p-" + path, Name: path, Path: path, Enabled: true, Parallel: parallel,
	}))
}

func TestNeedsStartSpawnsRunner(t *testing.T) {
	r, env := newTestReconciler(t)
	registerProject(t, env.global, "/work/demo", false)
	require.NoError(t, env.project.SaveTask(&db.Task{ID: "T1", Title: "todo"}))

	report, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Projects, 1)
	assert.Equal(t, NeedsStart, report.Projects[0].Classification)
	assert.Equal(t, "started", report.Projects[0].Action)
	assert.Equal(t, []string{"/work/demo"}, env.spawns.calls)
}

func TestParallelProjectSpawnsParallelRunner(t *testing.T) {
	r, env := newTestReconciler(t)
	registerProject(t, env.global, "/work/demo", true)
	require.NoError(t, env.project.SaveTask(&db.Task{ID: "T1", Title: "todo"}))

	_, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"/work/demo (parallel)"}, env.spawns.calls)
}

func TestDryRunRecordsWouldStart(t *testing.T) {
	r, env := newTestReconciler(t, WithDryRun(true))
	registerProject(t, env.global, "/work/demo", false)
	require.NoError(t, env.project.SaveTask(&db.Task{ID: "T1", Title: "todo"}))

	report, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "would_start", report.Projects[0].Action)
	assert.Empty(t, env.spawns.calls)
}

func TestIdleProjectNoAction(t *testing.T) {
	r, env := newTestReconciler(t)
	registerProject(t, env.global, "/work/demo", false)

	report, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Idle, report.Projects[0].Classification)
	assert.Empty(t, env.spawns.calls)
}

func TestActiveRunnerSuppressesStart(t *testing.T) {
	r, env := newTestReconciler(t)
	registerProject(t, env.global, "/work/demo", false)
	require.NoError(t, env.project.SaveTask(&db.Task{ID: "T1", Title: "todo"}))
	require.NoError(t, env.global.SaveRunner(&db.Runner{
		ID: "r1", Status: db.RunnerRunning, PID: 42,
		ProjectPath: "/work/demo", HeartbeatAt: wakeupNow.Add(-time.Minute),
	}))

	report, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, NeedsStart, report.Projects[0].Classification)
	assert.Empty(t, env.spawns.calls)
}

func TestStaleRunnerReapedAndIncidentRecorded(t *testing.T) {
	r, env := newTestReconciler(t)
	registerProject(t, env.global, "/work/demo", false)
	require.NoError(t, env.project.SaveTask(&db.Task{ID: "T1", Title: "claimed", Status: "in_progress"}))
	require.NoError(t, env.global.SaveRunner(&db.Runner{
		ID: "r1", Status: db.RunnerRunning, PID: 4242,
		ProjectPath: "/work/demo", CurrentTaskID: "T1",
		HeartbeatAt: wakeupNow.Add(-10 * time.Minute),
	}))

	report, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Projects, 1)
	assert.Equal(t, []string{"r1"}, report.Projects[0].ReapedRunners)

	_, err = env.global.GetRunner("r1")
	assert.ErrorIs(t, err, db.ErrRunnerNotFound)

	incidents, err := env.project.ListIncidents(db.IncidentFilter{TaskID: "T1", Unresolved: true})
	require.NoError(t, err)
	require.Len(t, incidents, 1)
	assert.Equal(t, db.FailureDead, incidents[0].FailureMode)
	assert.Equal(t, "r1", incidents[0].RunnerID)
}

func TestStaleRunnerWithLivePIDIsZombie(t *testing.T) {
	r, env := newTestReconciler(t, WithPIDProbe(func(int) bool { return true }))
	registerProject(t, env.global, "/work/demo", false)
	require.NoError(t, env.global.SaveRunner(&db.Runner{
		ID: "r1", Status: db.RunnerActive, PID: 4242,
		ProjectPath: "/work/demo", CurrentTaskID: "T1",
		HeartbeatAt: wakeupNow.Add(-10 * time.Minute),
	}))

	_, err := r.Run(context.Background())
	require.NoError(t, err)

	incidents, err := env.project.ListIncidents(db.IncidentFilter{TaskID: "T1"})
	require.NoError(t, err)
	require.Len(t, incidents, 1)
	assert.Equal(t, db.FailureZombie, incidents[0].FailureMode)
}

func TestIdleRunnerNeverReaped(t *testing.T) {
	r, env := newTestReconciler(t)
	registerProject(t, env.global, "/work/demo", false)
	require.NoError(t, env.global.SaveRunner(&db.Runner{
		ID: "r1", Status: db.RunnerIdle, PID: 42,
		ProjectPath: "/work/demo", HeartbeatAt: wakeupNow.Add(-time.Hour),
	}))

	report, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Projects[0].ReapedRunners)

	_, err = env.global.GetRunner("r1")
	require.NoError(t, err)
}

func TestRunRecordsLastWakeup(t *testing.T) {
	r, env := newTestReconciler(t)

	_, err := r.Run(context.Background())
	require.NoError(t, err)

	val, err := env.global.GetKV(LastWakeupKey)
	require.NoError(t, err)
	assert.Equal(t, db.FormatTime(wakeupNow), val)
}

func TestRunReportsCleanPassForAllProjects(t *testing.T) {
	r, env := newTestReconciler(t)
	registerProject(t, env.global, "/work/a", false)
	registerProject(t, env.global, "/work/b", false)

	report, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Projects, 2)
	for _, p := range report.Projects {
		assert.NoError(t, p.Err)
	}
}

func TestCanceledContextShortCircuitsProjects(t *testing.T) {
	r, env := newTestReconciler(t)
	registerProject(t, env.global, "/work/demo", false)
	require.NoError(t, env.project.SaveTask(&db.Task{ID: "T1", Title: "todo"}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := r.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, report.Projects, 1)
	assert.ErrorIs(t, report.Projects[0].Err, context.Canceled)
	assert.Empty(t, env.spawns.calls)
}

func TestDisabledProjectsIgnored(t *testing.T) {
	r, env := newTestReconciler(t)
	require.NoError(t, env.global.SyncProject(db.Project{
		ID: "p1", Name: "off", Path: "/work/off", Enabled: false,
	}))
	require.NoError(t, env.project.SaveTask(&db.Task{ID: "T1", Title: "todo"}))

	report, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Projects)
	assert.Empty(t, env.spawns.calls)
}
