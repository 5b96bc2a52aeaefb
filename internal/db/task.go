package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrTaskNotFound is returned when a task does not exist.
var ErrTaskNotFound = errors.New("task not found")

// Task represents a work item stored in the project database.
type Task struct {
	ID              string
	Title           string
	Status          string
	SectionID       string // empty = no section
	Position        int
	SourceFile      string
	RejectionCount  int
	FilePath        string
	FileContentHash string
	FileCommitSHA   string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// SaveTask creates or updates a task.
func (p *ProjectDB) SaveTask(t *Task) error {
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	if t.Status == "" {
		t.Status = "pending"
	}

	var sectionID any
	if t.SectionID != "" {
		sectionID = t.SectionID
	}

	_, err := p.Exec(`
		INSERT INTO tasks (id, title, status, section_id, position, source_file,
			rejection_count, file_path, file_content_hash, file_commit_sha,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			status = excluded.status,
			section_id = excluded.section_id,
			position = excluded.position,
			source_file = excluded.source_file,
			rejection_count = excluded.rejection_count,
			file_path = excluded.file_path,
			file_content_hash = excluded.file_content_hash,
			file_commit_sha = excluded.file_commit_sha,
			updated_at = excluded.updated_at
	`, t.ID, t.Title, t.Status, sectionID, t.Position, t.SourceFile,
		t.RejectionCount, t.FilePath, t.FileContentHash, t.FileCommitSHA,
		FormatTime(t.CreatedAt), FormatTime(t.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save task: %w", err)
	}
	return nil
}

const taskColumns = `id, title, status, COALESCE(section_id, ''), position,
	source_file, rejection_count, COALESCE(file_path, ''),
	COALESCE(file_content_hash, ''), COALESCE(file_commit_sha, ''),
	created_at, updated_at`

// GetTask retrieves a task by ID.
func (p *ProjectDB) GetTask(id string) (*Task, error) {
	row := p.QueryRow("SELECT "+taskColumns+" FROM tasks WHERE id = ?", id)
	t, err := scanTask(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrTaskNotFound
	}
	return t, err
}

// ListTasksByStatus returns all tasks with a given status.
func (p *ProjectDB) ListTasksByStatus(status string) ([]*Task, error) {
	rows, err := p.Query("SELECT "+taskColumns+" FROM tasks WHERE status = ? ORDER BY position, created_at", status)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return collectTasks(rows)
}

// ListTasks returns all tasks.
func (p *ProjectDB) ListTasks() ([]*Task, error) {
	rows, err := p.Query("SELECT " + taskColumns + " FROM tasks ORDER BY position, created_at")
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return collectTasks(rows)
}

// ListTasksInSection returns all tasks in a section.
func (p *ProjectDB) ListTasksInSection(sectionID string) ([]*Task, error) {
	rows, err := p.Query("SELECT "+taskColumns+" FROM tasks WHERE section_id = ? ORDER BY position, created_at", sectionID)
	if err != nil {
		return nil, fmt.Errorf("list section tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return collectTasks(rows)
}

// PendingCandidates returns pending tasks in selection order:
// sectionless tasks and tasks in non-skipped sections, ordered by
// (section priority, section position, task position, created_at).
// Sectionless tasks sort with medium priority.
func (p *ProjectDB) PendingCandidates() ([]*Task, error) {
	rows, err := p.Query(`
		SELECT t.id, t.title, t.status, COALESCE(t.section_id, ''), t.position,
			t.source_file, t.rejection_count, COALESCE(t.file_path, ''),
			COALESCE(t.file_content_hash, ''), COALESCE(t.file_commit_sha, ''),
			t.created_at, t.updated_at
		FROM tasks t
		LEFT JOIN sections s ON s.id = t.section_id
		WHERE t.status = 'pending'
			AND (t.section_id IS NULL OR s.skipped = 0)
		ORDER BY COALESCE(s.priority, 50), COALESCE(s.position, 0),
			t.position, t.created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("pending candidates: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return collectTasks(rows)
}

// SectionFullyCompleted reports whether every task in the section has a
// terminal status. A section with no tasks counts as completed.
func (p *ProjectDB) SectionFullyCompleted(sectionID string) (bool, error) {
	var open int
	err := p.QueryRow(`
		SELECT COUNT(*) FROM tasks
		WHERE section_id = ? AND status NOT IN ('completed', 'skipped', 'failed')
	`, sectionID).Scan(&open)
	if err != nil {
		return false, fmt.Errorf("check section completion: %w", err)
	}
	return open == 0, nil
}

func scanTask(scan func(...any) error) (*Task, error) {
	var t Task
	var createdAt, updatedAt string
	err := scan(&t.ID, &t.Title, &t.Status, &t.SectionID, &t.Position,
		&t.SourceFile, &t.RejectionCount, &t.FilePath, &t.FileContentHash,
		&t.FileCommitSHA, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	t.CreatedAt = ParseTime(createdAt)
	t.UpdatedAt = ParseTime(updatedAt)
	return &t, nil
}

func collectTasks(rows *sql.Rows) ([]*Task, error) {
	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}
