package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrProjectNotFound is returned when a project is not registered.
var ErrProjectNotFound = errors.New("project not found")

// ErrRunnerNotFound is returned when a runner row does not exist.
var ErrRunnerNotFound = errors.New("runner not found")

// GlobalDB provides operations on the global store (~/.steroids/steroids.db).
type GlobalDB struct {
	*DB
}

// GlobalStorePath returns the global database path for the current user.
func GlobalStorePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, StoreDirName, StoreFileName), nil
}

// OpenGlobal opens (and migrates) the global store.
func OpenGlobal() (*GlobalDB, error) {
	path, err := GlobalStorePath()
	if err != nil {
		return nil, err
	}
	return OpenGlobalAt(path)
}

// OpenGlobalAt opens the global store at an explicit path (tests, cron).
func OpenGlobalAt(path string) (*GlobalDB, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}

	if err := db.Migrate("global"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate global db: %w", err)
	}

	return &GlobalDB{DB: db}, nil
}

// OpenGlobalInMemory opens an empty in-memory global store. The health
// observer substitutes this when the real global store is missing; no
// incidents are written in that degraded mode.
func OpenGlobalInMemory() (*GlobalDB, error) {
	db, err := OpenInMemory()
	if err != nil {
		return nil, err
	}
	if err := db.Migrate("global"); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &GlobalDB{DB: db}, nil
}

// --- projects registry ---

// Project is a registered project directory.
type Project struct {
	ID        string
	Name      string
	Path      string
	Enabled   bool
	Parallel  bool
	CreatedAt time.Time
}

// SyncProject registers or updates a project.
func (g *GlobalDB) SyncProject(p Project) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	enabled, parallel := 0, 0
	if p.Enabled {
		enabled = 1
	}
	if p.Parallel {
		parallel = 1
	}
	_, err := g.Exec(`
		INSERT INTO projects (id, name, path, enabled, parallel, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			name = excluded.name,
			enabled = excluded.enabled,
			parallel = excluded.parallel
	`, p.ID, p.Name, p.Path, enabled, parallel, FormatTime(p.CreatedAt))
	if err != nil {
		return fmt.Errorf("sync project: %w", err)
	}
	return nil
}

// GetProjectByPath retrieves a registered project by its path.
func (g *GlobalDB) GetProjectByPath(path string) (*Project, error) {
	row := g.QueryRow(`
		SELECT id, name, path, enabled, parallel, created_at
		FROM projects WHERE path = ?
	`, path)
	p, err := scanProject(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrProjectNotFound
	}
	return p, err
}

// ListProjects returns registered projects; enabledOnly filters disabled ones.
func (g *GlobalDB) ListProjects(enabledOnly bool) ([]*Project, error) {
	query := "SELECT id, name, path, enabled, parallel, created_at FROM projects"
	if enabledOnly {
		query += " WHERE enabled = 1"
	}
	query += " ORDER BY name"

	rows, err := g.Query(query)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var projects []*Project
	for rows.Next() {
		p, err := scanProject(rows.Scan)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func scanProject(scan func(...any) error) (*Project, error) {
	var p Project
	var enabled, parallel int
	var createdAt string
	err := scan(&p.ID, &p.Name, &p.Path, &enabled, &parallel, &createdAt)
	if err != nil {
		return nil, err
	}
	p.Enabled = enabled != 0
	p.Parallel = parallel != 0
	p.CreatedAt = ParseTime(createdAt)
	return &p, nil
}

// --- runners ---

// Runner statuses.
const (
	RunnerIdle     = "idle"
	RunnerRunning  = "running"
	RunnerActive   = "active"
	RunnerStopping = "stopping"
	RunnerError    = "error"
)

// Runner is one per-project daemon row in the global store.
type Runner struct {
	ID            string
	Status        string
	PID           int
	ProjectPath   string
	CurrentTaskID string
	SectionID     string
	StartedAt     time.Time
	HeartbeatAt   time.Time
}

// SaveRunner inserts or updates a runner row.
func (g *GlobalDB) SaveRunner(r *Runner) error {
	now := time.Now().UTC()
	if r.StartedAt.IsZero() {
		r.StartedAt = now
	}
	if r.HeartbeatAt.IsZero() {
		r.HeartbeatAt = now
	}
	var taskID, sectionID any
	if r.CurrentTaskID != "" {
		taskID = r.CurrentTaskID
	}
	if r.SectionID != "" {
		sectionID = r.SectionID
	}
	_, err := g.Exec(`
		INSERT INTO runners (id, status, pid, project_path, current_task_id,
			section_id, started_at, heartbeat_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			pid = excluded.pid,
			project_path = excluded.project_path,
			current_task_id = excluded.current_task_id,
			section_id = excluded.section_id,
			heartbeat_at = excluded.heartbeat_at
	`, r.ID, r.Status, r.PID, r.ProjectPath, taskID, sectionID,
		FormatTime(r.StartedAt), FormatTime(r.HeartbeatAt))
	if err != nil {
		return fmt.Errorf("save runner: %w", err)
	}
	return nil
}

// TouchRunnerHeartbeat refreshes heartbeat_at for a runner.
func (g *GlobalDB) TouchRunnerHeartbeat(id string) error {
	res, err := g.Exec("UPDATE runners SET heartbeat_at = ? WHERE id = ?",
		FormatTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("touch heartbeat: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("runner %s: %w", id, ErrRunnerNotFound)
	}
	return nil
}

// SetRunnerTask updates the runner's current task and section claim.
// Empty strings clear the claim.
func (g *GlobalDB) SetRunnerTask(id, taskID, sectionID string) error {
	var task, section any
	status := RunnerRunning
	if taskID != "" {
		task = taskID
		status = RunnerActive
	}
	if sectionID != "" {
		section = sectionID
	}
	_, err := g.Exec(`
		UPDATE runners SET current_task_id = ?, section_id = ?, status = ?
		WHERE id = ?
	`, task, section, status, id)
	if err != nil {
		return fmt.Errorf("set runner task: %w", err)
	}
	return nil
}

// SetRunnerStatus updates a runner's status.
func (g *GlobalDB) SetRunnerStatus(id, status string) error {
	_, err := g.Exec("UPDATE runners SET status = ? WHERE id = ?", status, id)
	if err != nil {
		return fmt.Errorf("set runner status: %w", err)
	}
	return nil
}

// DeleteRunner removes a runner row. Returns whether a row existed.
func (g *GlobalDB) DeleteRunner(id string) (bool, error) {
	res, err := g.Exec("DELETE FROM runners WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("delete runner: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// GetRunner retrieves a runner by ID.
func (g *GlobalDB) GetRunner(id string) (*Runner, error) {
	row := g.QueryRow(runnerSelect+" WHERE id = ?", id)
	r, err := scanRunner(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrRunnerNotFound
	}
	return r, err
}

// ListRunners returns all runner rows.
func (g *GlobalDB) ListRunners() ([]*Runner, error) {
	rows, err := g.Query(runnerSelect + " ORDER BY started_at")
	if err != nil {
		return nil, fmt.Errorf("list runners: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return collectRunners(rows)
}

// ListRunnersForProject returns runner rows for one project path.
func (g *GlobalDB) ListRunnersForProject(projectPath string) ([]*Runner, error) {
	rows, err := g.Query(runnerSelect+" WHERE project_path = ? ORDER BY started_at", projectPath)
	if err != nil {
		return nil, fmt.Errorf("list project runners: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return collectRunners(rows)
}

// ListActiveRunners returns runners whose current_task_id is non-null.
func (g *GlobalDB) ListActiveRunners() ([]*Runner, error) {
	rows, err := g.Query(runnerSelect + " WHERE current_task_id IS NOT NULL ORDER BY started_at")
	if err != nil {
		return nil, fmt.Errorf("list active runners: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return collectRunners(rows)
}

const runnerSelect = `
	SELECT id, status, pid, project_path, COALESCE(current_task_id, ''),
		COALESCE(section_id, ''), started_at, heartbeat_at
	FROM runners`

func scanRunner(scan func(...any) error) (*Runner, error) {
	var r Runner
	var startedAt, heartbeatAt string
	err := scan(&r.ID, &r.Status, &r.PID, &r.ProjectPath, &r.CurrentTaskID,
		&r.SectionID, &startedAt, &heartbeatAt)
	if err != nil {
		return nil, err
	}
	r.StartedAt = ParseTime(startedAt)
	r.HeartbeatAt = ParseTime(heartbeatAt)
	return &r, nil
}

func collectRunners(rows *sql.Rows) ([]*Runner, error) {
	var runners []*Runner
	for rows.Next() {
		r, err := scanRunner(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan runner: %w", err)
		}
		runners = append(runners, r)
	}
	return runners, rows.Err()
}

// --- activity log ---

// Activity is one terminal-state record per task completion, retained for
// cross-project dashboards.
type Activity struct {
	ID          int64
	ProjectPath string
	TaskID      string
	TaskTitle   string
	FinalStatus string
	SectionName string
	Model       string
	CreatedAt   time.Time
}

// LogActivity appends a terminal-state record.
func (g *GlobalDB) LogActivity(a *Activity) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := g.Exec(`
		INSERT INTO activity_log (project_path, task_id, task_title, final_status,
			section_name, model, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, a.ProjectPath, a.TaskID, a.TaskTitle, a.FinalStatus, a.SectionName,
		a.Model, FormatTime(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("log activity: %w", err)
	}
	return nil
}

// ListActivity returns recent activity, newest first.
func (g *GlobalDB) ListActivity(limit int) ([]*Activity, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := g.Query(`
		SELECT id, project_path, task_id, task_title, final_status, section_name,
			model, created_at
		FROM activity_log ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var activities []*Activity
	for rows.Next() {
		var a Activity
		var createdAt string
		if err := rows.Scan(&a.ID, &a.ProjectPath, &a.TaskID, &a.TaskTitle,
			&a.FinalStatus, &a.SectionName, &a.Model, &createdAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		a.CreatedAt = ParseTime(createdAt)
		activities = append(activities, &a)
	}
	return activities, rows.Err()
}

// --- kv ---

// SetKV stores an opaque key/value pair (wakeup bookkeeping).
func (g *GlobalDB) SetKV(key, value string) error {
	_, err := g.Exec(`
		INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("set kv: %w", err)
	}
	return nil
}

// GetKV retrieves a value; empty string when absent.
func (g *GlobalDB) GetKV(key string) (string, error) {
	var value string
	err := g.QueryRow("SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get kv: %w", err)
	}
	return value, nil
}
