package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UnlikeOtherAI/steroids-cli-sub006/internal/db"
	"github.com/UnlikeOtherAI/steroids-cli-sub006/internal/events"
)

var apiNow = time.Date(2026, 8, 24, 15, 0, 0, 0, time.UTC)

type apiEnv struct {
	server  *Server
	global  *db.GlobalDB
	project *db.ProjectDB
	pub     *events.MemoryPublisher
	dir     string
}

func newTestServer(t *testing.T, opts ...Option) *apiEnv {
	t.Helper()
	env := &apiEnv{
		global:  db.NewTestGlobalDB(t),
		project: db.NewTestProjectDB(t),
		pub:     events.NewMemoryPublisher(),
	}
	t.Cleanup(env.pub.Close)

	dir := t.TempDir()
	resolved, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	env.dir = resolved
	require.NoError(t, env.global.SyncProject(db.Project{
		ID: "p1", Name: "demo", Path: env.dir, Enabled: true,
	}))

	base := []Option{
		WithClock(func() time.Time { return apiNow }),
		WithPublisher(env.pub),
		WithProjectOpener(func(string) (*db.ProjectDB, func(), error) {
			return env.project, func() {}, nil
		}),
	}
	env.server = New("127.0.0.1:0", env.global, append(base, opts...)...)
	return env
}

func (e *apiEnv) get(t *testing.T, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)

	var body map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestServer(t)

	rec, body := env.get(t, "/health?project="+env.dir)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, float64(100), body["score"])
	assert.Equal(t, false, body["degraded"])
	assert.NotContains(t, body, "signals")

	rec, body = env.get(t, "/health?project="+env.dir+"&includeSignals=true")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, body, "signals")
}

func TestUnregisteredProjectRejected(t *testing.T) {
	env := newTestServer(t)

	for _, path := range []string{
		"/health?project=/not/registered",
		"/incidents?project=/not/registered",
		"/projects/storage?path=/not/registered",
	} {
		rec, body := env.get(t, path)
		assert.Equal(t, http.StatusForbidden, rec.Code, path)
		assert.Equal(t, "PROJECT_NOT_REGISTERED", body["code"], path)
	}
}

func TestIncidentsFilterAndLimit(t *testing.T) {
	env := newTestServer(t)

	first := &db.Incident{TaskID: "T1", FailureMode: db.FailureOrphaned}
	_, err := env.project.CreateIncident(first)
	require.NoError(t, err)
	_, err = env.project.CreateIncident(&db.Incident{TaskID: "T2", FailureMode: db.FailureHanging})
	require.NoError(t, err)
	require.NoError(t, env.project.ResolveIncident(first.ID, "requeued"))

	rec, body := env.get(t, "/incidents?project="+env.dir)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["incidents"], 2)

	_, body = env.get(t, "/incidents?project="+env.dir+"&unresolved=true")
	require.Len(t, body["incidents"], 1)

	_, body = env.get(t, "/incidents?project="+env.dir+"&task=T2")
	require.Len(t, body["incidents"], 1)

	rec, _ = env.get(t, "/incidents?project="+env.dir+"&limit=bogus")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunnersJoinProjectNames(t *testing.T) {
	env := newTestServer(t)

	require.NoError(t, env.global.SaveRunner(&db.Runner{
		ID: "r1", Status: db.RunnerActive, PID: 42,
		ProjectPath: env.dir, CurrentTaskID: "T1",
		StartedAt: apiNow.Add(-2 * time.Minute),
	}))
	require.NoError(t, env.global.SaveRunner(&db.Runner{
		ID: "r2", Status: db.RunnerIdle, PID: 43, ProjectPath: env.dir,
		StartedAt: apiNow.Add(-time.Minute),
	}))

	rec, body := env.get(t, "/runners")
	require.Equal(t, http.StatusOK, rec.Code)
	runners := body["runners"].([]any)
	require.Len(t, runners, 2)
	assert.Equal(t, "demo", runners[0].(map[string]any)["project_name"])

	_, body = env.get(t, "/runners/active-tasks")
	runners = body["runners"].([]any)
	require.Len(t, runners, 1)
	assert.Equal(t, "r1", runners[0].(map[string]any)["id"])
}

func writeBytes(t *testing.T, path string, n int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, make([]byte, n), 0o644))
}

func TestStorageBreakdown(t *testing.T) {
	env := newTestServer(t)
	root := filepath.Join(env.dir, db.StoreDirName)

	writeBytes(t, filepath.Join(root, db.StoreFileName), 100)
	writeBytes(t, filepath.Join(root, db.StoreFileName+"-wal"), 20)
	writeBytes(t, filepath.Join(root, "backup", "2026-08-01", "steroids.db"), 50)
	writeBytes(t, filepath.Join(root, "invocations", "T1.log"), 30)
	writeBytes(t, filepath.Join(root, "text-logs", "runs", "a.txt"), 10)
	writeBytes(t, filepath.Join(root, "config.yaml"), 5)

	rec, body := env.get(t, "/projects/storage?path="+env.dir)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(120), body["database_bytes"])
	assert.Equal(t, float64(50), body["backup_bytes"])
	assert.Equal(t, float64(30), body["invocation_log_bytes"])
	assert.Equal(t, float64(10), body["text_log_bytes"])
	assert.Equal(t, float64(5), body["other_bytes"])
	assert.Equal(t, float64(215), body["total_bytes"])
}

func TestStorageDetailCached(t *testing.T) {
	env := newTestServer(t)
	writeBytes(t, filepath.Join(env.dir, db.StoreDirName, db.StoreFileName), 100)

	_, body := env.get(t, "/projects/storage?path="+env.dir)
	require.Equal(t, float64(100), body["total_bytes"])

	// Grows on disk, but the cached report is served within the TTL.
	writeBytes(t, filepath.Join(env.dir, db.StoreDirName, db.StoreFileName), 500)
	_, body = env.get(t, "/projects/storage?path="+env.dir)
	assert.Equal(t, float64(100), body["total_bytes"])
}

func TestStorageListSummaries(t *testing.T) {
	env := newTestServer(t)
	writeBytes(t, filepath.Join(env.dir, db.StoreDirName, db.StoreFileName), 64)

	rec, body := env.get(t, "/projects/storage")
	require.Equal(t, http.StatusOK, rec.Code)
	projects := body["projects"].([]any)
	require.Len(t, projects, 1)
	entry := projects[0].(map[string]any)
	assert.Equal(t, "demo", entry["name"])
	assert.Equal(t, float64(64), entry["total_bytes"])
}

func TestEventsWebsocketStream(t *testing.T) {
	env := newTestServer(t)
	srv := httptest.NewServer(env.server.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Wait for the handler goroutine to register its subscription.
	require.Eventually(t, func() bool {
		return env.pub.SubscriberCount(events.GlobalTaskID) == 1
	}, 2*time.Second, 10*time.Millisecond)

	env.pub.Publish(events.NewEvent(events.EventTransition, "T1", events.TransitionData{
		From: "pending", To: "in_progress",
	}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got events.Event
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, events.EventTransition, got.Type)
	assert.Equal(t, "T1", got.TaskID)
}
