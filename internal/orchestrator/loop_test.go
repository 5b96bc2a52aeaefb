package orchestrator

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UnlikeOtherAI/steroids-cli-sub006/internal/config"
	"github.com/UnlikeOtherAI/steroids-cli-sub006/internal/db"
	"github.com/UnlikeOtherAI/steroids-cli-sub006/internal/gitstate"
	"github.com/UnlikeOtherAI/steroids-cli-sub006/internal/lock"
	"github.com/UnlikeOtherAI/steroids-cli-sub006/internal/provider"
	"github.com/UnlikeOtherAI/steroids-cli-sub006/internal/runner"
)

// scriptedProvider plays back a fixed sequence of invocation outcomes.
type scriptedProvider struct {
	t     *testing.T
	steps []func(req provider.Request) *provider.Result
	calls int
}

func (s *scriptedProvider) Name() string { return "scripted" }

func (s *scriptedProvider) Invoke(_ context.Context, req provider.Request) (*provider.Result, error) {
	require.Less(s.t, s.calls, len(s.steps), "unexpected provider invocation %d (role %s)", s.calls, req.Role)
	fn := s.steps[s.calls]
	s.calls++
	return fn(req), nil
}

type loopEnv struct {
	t       *testing.T
	project *db.ProjectDB
	global  *db.GlobalDB
	repo    *gitstate.Repo
	dir     string
}

func newLoopEnv(t *testing.T) *loopEnv {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	dir := t.TempDir()
	git := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "git %v: %s", args, out)
	}
	git("init")
	git("config", "user.email", "test@example.com")
	git("config", "user.name", "Test")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("seed\n"), 0o644))
	git("add", "-A")
	git("commit", "-m", "initial")

	repo, err := gitstate.Open(context.Background(), dir)
	require.NoError(t, err)

	return &loopEnv{
		t:       t,
		project: db.NewTestProjectDB(t),
		global:  db.NewTestGlobalDB(t),
		repo:    repo,
		dir:     dir,
	}
}

// commitFile writes a file and commits it, returning the new HEAD sha.
func (e *loopEnv) commitFile(name, content string) string {
	e.t.Helper()
	require.NoError(e.t, os.WriteFile(filepath.Join(e.dir, name), []byte(content), 0o644))
	sha, err := e.repo.StageAndCommit(context.Background(), "work on "+name)
	require.NoError(e.t, err)
	return sha
}

func (e *loopEnv) orchestrator(p provider.Provider) *Orchestrator {
	e.t.Helper()
	reg := runner.NewRegistry(e.global)
	id, err := reg.Register(e.dir)
	require.NoError(e.t, err)

	return New(Deps{
		Project:     e.project,
		Global:      e.global,
		Locks:       lock.NewManager(e.project, id),
		Registry:    reg,
		Provider:    p,
		Repo:        e.repo,
		Config:      config.Default(),
		ProjectPath: e.dir,
		ProjectName: "demo",
	})
}

func auditPath(t *testing.T, project *db.ProjectDB, taskID string) []string {
	t.Helper()
	entries, err := project.ListAudit(taskID)
	require.NoError(t, err)
	path := make([]string, len(entries))
	for i, e := range entries {
		path[i] = e.FromStatus + ">" + e.ToStatus
	}
	return path
}

func approveJSON(sha string) string {
	return fmt.Sprintf(`{"decision": "approve", "notes": "lgtm", "commit_sha": %q}`, sha)
}

func TestHappyPath(t *testing.T) {
	env := newLoopEnv(t)
	require.NoError(t, env.project.SaveSection(&db.Section{ID: "S1", Name: "Core", Priority: 50}))
	require.NoError(t, env.project.SaveTask(&db.Task{ID: "T1", Title: "build feature", SectionID: "S1"}))

	var sha string
	prov := &scriptedProvider{t: t, steps: []func(provider.Request) *provider.Result{
		func(req provider.Request) *provider.Result {
			require.Equal(t, provider.RoleCoder, req.Role)
			sha = env.commitFile("feature.go", "package main\n")
			return &provider.Result{ExitCode: 0, Duration: time.Second, StdoutTail: "implementation complete"}
		},
		func(req provider.Request) *provider.Result {
			require.Equal(t, provider.RoleReviewer, req.Role)
			return &provider.Result{ExitCode: 0, Duration: time.Second, StdoutTail: approveJSON(sha)}
		},
	}}

	o := env.orchestrator(prov)
	require.NoError(t, o.Run(context.Background()))

	got, err := env.project.GetTask("T1")
	require.NoError(t, err)
	assert.Equal(t, "completed", got.Status)
	assert.Equal(t, 0, got.RejectionCount)

	assert.Equal(t, []string{
		"pending>in_progress",
		"in_progress>review",
		"review>completed",
	}, auditPath(t, env.project, "T1"))

	taskLocks, err := env.project.ListTaskLocks()
	require.NoError(t, err)
	assert.Empty(t, taskLocks)
	sectionLocks, err := env.project.ListSectionLocks()
	require.NoError(t, err)
	assert.Empty(t, sectionLocks)

	activity, err := env.global.ListActivity(10)
	require.NoError(t, err)
	require.Len(t, activity, 1)
	assert.Equal(t, "T1", activity[0].TaskID)
	assert.Equal(t, "completed", activity[0].FinalStatus)

	// Invocation rows: one coder, one reviewer.
	invs, err := env.project.ListInvocations("T1")
	require.NoError(t, err)
	require.Len(t, invs, 2)
	assert.Equal(t, "coder", invs[0].Role)
	assert.Equal(t, "reviewer", invs[1].Role)

	// JSONL log exists with two lines.
	data, err := os.ReadFile(filepath.Join(db.InvocationLogDir(env.dir), "T1.log"))
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(string(data)), "\n"), 2)
}

func TestSingleRejectionLoopsBackToCoder(t *testing.T) {
	env := newLoopEnv(t)
	require.NoError(t, env.project.SaveSection(&db.Section{ID: "S1", Name: "Core", Priority: 50}))
	require.NoError(t, env.project.SaveTask(&db.Task{ID: "T1", Title: "build feature", SectionID: "S1"}))

	var sha string
	sawFeedback := false
	prov := &scriptedProvider{t: t, steps: []func(provider.Request) *provider.Result{
		func(req provider.Request) *provider.Result {
			sha = env.commitFile("v1.go", "package main\n")
			return &provider.Result{ExitCode: 0, Duration: time.Second}
		},
		func(req provider.Request) *provider.Result {
			return &provider.Result{ExitCode: 0, Duration: time.Second,
				StdoutTail: `{"decision": "reject", "notes": "add tests"}`}
		},
		func(req provider.Request) *provider.Result {
			// Rejection feedback must reach the next coder round.
			sawFeedback = strings.Contains(req.Prompt, "add tests")
			sha = env.commitFile("v1_test.go", "package main\n")
			return &provider.Result{ExitCode: 0, Duration: time.Second}
		},
		func(req provider.Request) *provider.Result {
			return &provider.Result{ExitCode: 0, Duration: time.Second, StdoutTail: approveJSON(sha)}
		},
	}}

	o := env.orchestrator(prov)
	require.NoError(t, o.Run(context.Background()))

	got, err := env.project.GetTask("T1")
	require.NoError(t, err)
	assert.Equal(t, "completed", got.Status)
	assert.Equal(t, 1, got.RejectionCount)
	assert.True(t, sawFeedback)

	n, err := env.project.CountRejections("T1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, []string{
		"pending>in_progress",
		"in_progress>review",
		"review>in_progress",
		"in_progress>review",
		"review>completed",
	}, auditPath(t, env.project, "T1"))
}

func TestDisputeEscalationAtThreshold(t *testing.T) {
	env := newLoopEnv(t)
	require.NoError(t, env.project.SaveTask(&db.Task{
		ID: "T1", Title: "contested work", RejectionCount: 14,
	}))

	prov := &scriptedProvider{t: t, steps: []func(provider.Request) *provider.Result{
		func(req provider.Request) *provider.Result {
			env.commitFile("v15.go", "package main\n")
			return &provider.Result{ExitCode: 0, Duration: time.Second}
		},
		func(req provider.Request) *provider.Result {
			return &provider.Result{ExitCode: 0, Duration: time.Second,
				StdoutTail: `{"decision": "reject", "notes": "still wrong"}`}
		},
		// No further invocations: escalation must end the loop for this task.
	}}

	o := env.orchestrator(prov)
	require.NoError(t, o.Run(context.Background()))

	got, err := env.project.GetTask("T1")
	require.NoError(t, err)
	assert.Equal(t, "completed", got.Status)
	assert.Equal(t, 14, got.RejectionCount)

	disputes, err := env.project.ListDisputes("T1")
	require.NoError(t, err)
	require.Len(t, disputes, 1)
	assert.Equal(t, "major", disputes[0].Type)
	assert.Equal(t, "open", disputes[0].Status)

	entries, err := env.project.ListAudit("T1")
	require.NoError(t, err)
	last := entries[len(entries)-1]
	assert.Equal(t, "orchestrator", last.Actor)
	assert.Contains(t, last.Notes, "escalation")

	// A disputed task is not picked up again.
	prov2 := &scriptedProvider{t: t, steps: nil}
	require.NoError(t, env.orchestrator(prov2).Run(context.Background()))
	assert.Zero(t, prov2.calls)
}

func TestSectionDependencyGatesSelection(t *testing.T) {
	env := newLoopEnv(t)
	require.NoError(t, env.project.SaveSection(&db.Section{ID: "A", Name: "Later", Position: 0, Priority: 50}))
	require.NoError(t, env.project.SaveSection(&db.Section{ID: "B", Name: "First", Position: 1, Priority: 50}))
	require.NoError(t, env.project.AddSectionDependency("A", "B"))
	require.NoError(t, env.project.SaveTask(&db.Task{ID: "TA", Title: "in A", SectionID: "A"}))
	require.NoError(t, env.project.SaveTask(&db.Task{ID: "TB", Title: "in B", SectionID: "B"}))

	var order []string
	var sha string
	coder := func(req provider.Request) *provider.Result {
		for _, id := range []string{"TA", "TB"} {
			if strings.Contains(req.Prompt, id) {
				order = append(order, id)
			}
		}
		sha = env.commitFile(fmt.Sprintf("f%d.go", len(order)), "package main\n")
		return &provider.Result{ExitCode: 0, Duration: time.Second}
	}
	reviewer := func(req provider.Request) *provider.Result {
		return &provider.Result{ExitCode: 0, Duration: time.Second, StdoutTail: approveJSON(sha)}
	}
	prov := &scriptedProvider{t: t, steps: []func(provider.Request) *provider.Result{
		coder, reviewer, coder, reviewer,
	}}

	o := env.orchestrator(prov)
	require.NoError(t, o.Run(context.Background()))

	// TB first despite TA's section sorting earlier.
	assert.Equal(t, []string{"TB", "TA"}, order)
	for _, id := range []string{"TA", "TB"} {
		got, err := env.project.GetTask(id)
		require.NoError(t, err)
		assert.Equal(t, "completed", got.Status, "task %s", id)
	}
}

func TestRetryCapFailsTask(t *testing.T) {
	env := newLoopEnv(t)
	require.NoError(t, env.project.SaveTask(&db.Task{ID: "T1", Title: "spins forever"}))

	noProgress := func(req provider.Request) *provider.Result {
		return &provider.Result{ExitCode: 0, Duration: time.Second}
	}
	// MaxRetries=3: attempts 1-3 are retries, attempt 4 converts to error.
	prov := &scriptedProvider{t: t, steps: []func(provider.Request) *provider.Result{
		noProgress, noProgress, noProgress, noProgress,
	}}

	o := env.orchestrator(prov)
	require.NoError(t, o.Run(context.Background()))

	got, err := env.project.GetTask("T1")
	require.NoError(t, err)
	assert.Equal(t, "failed", got.Status)
	assert.Equal(t, 4, prov.calls)

	assert.Equal(t, []string{
		"pending>in_progress",
		"in_progress>failed",
	}, auditPath(t, env.project, "T1"))

	activity, err := env.global.ListActivity(10)
	require.NoError(t, err)
	require.Len(t, activity, 1)
	assert.Equal(t, "failed", activity[0].FinalStatus)
}

func TestFatalStderrFailsImmediately(t *testing.T) {
	env := newLoopEnv(t)
	require.NoError(t, env.project.SaveTask(&db.Task{ID: "T1", Title: "broken env"}))

	prov := &scriptedProvider{t: t, steps: []func(provider.Request) *provider.Result{
		func(req provider.Request) *provider.Result {
			return &provider.Result{ExitCode: 0, Duration: time.Second,
				StderrTail: "fatal: repository is corrupt"}
		},
	}}

	o := env.orchestrator(prov)
	require.NoError(t, o.Run(context.Background()))

	got, err := env.project.GetTask("T1")
	require.NoError(t, err)
	assert.Equal(t, "failed", got.Status)
}
