package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrIncidentNotFound is returned when an incident does not exist.
var ErrIncidentNotFound = errors.New("incident not found")

// Failure modes recorded by the stuck-task detector.
const (
	FailureOrphaned      = "orphaned"
	FailureHanging       = "hanging"
	FailureZombie        = "zombie"
	FailureDead          = "dead"
	FailureInconsistency = "db_inconsistency"
)

// Incident is a typed record produced by the stuck-task detector.
// Mutable only by resolution.
type Incident struct {
	ID          string
	TaskID      string // empty = not task-linked
	RunnerID    string // empty = not runner-linked
	FailureMode string
	DetectedAt  time.Time
	ResolvedAt  *time.Time
	Resolution  string
	Details     string // JSON
}

// CreateIncident inserts a new incident. Skips insertion when an open
// incident with the same (task, runner, failure mode) already exists, so
// repeated detector runs do not pile up duplicates.
func (p *ProjectDB) CreateIncident(inc *Incident) (created bool, err error) {
	if inc.ID == "" {
		inc.ID = uuid.NewString()
	}
	if inc.DetectedAt.IsZero() {
		inc.DetectedAt = time.Now().UTC()
	}
	if inc.Details == "" {
		inc.Details = "{}"
	}

	var open int
	err = p.QueryRow(`
		SELECT COUNT(*) FROM incidents
		WHERE COALESCE(task_id, '') = ? AND COALESCE(runner_id, '') = ?
			AND failure_mode = ? AND resolved_at IS NULL
	`, inc.TaskID, inc.RunnerID, inc.FailureMode).Scan(&open)
	if err != nil {
		return false, fmt.Errorf("check open incidents: %w", err)
	}
	if open > 0 {
		return false, nil
	}

	var taskID, runnerID any
	if inc.TaskID != "" {
		taskID = inc.TaskID
	}
	if inc.RunnerID != "" {
		runnerID = inc.RunnerID
	}
	_, err = p.Exec(`
		INSERT INTO incidents (id, task_id, runner_id, failure_mode, detected_at,
			resolved_at, resolution, details)
		VALUES (?, ?, ?, ?, ?, NULL, '', ?)
	`, inc.ID, taskID, runnerID, inc.FailureMode,
		FormatTime(inc.DetectedAt), inc.Details)
	if err != nil {
		return false, fmt.Errorf("create incident: %w", err)
	}
	return true, nil
}

// ResolveIncident marks an incident resolved.
func (p *ProjectDB) ResolveIncident(id, resolution string) error {
	res, err := p.Exec(`
		UPDATE incidents SET resolved_at = ?, resolution = ?
		WHERE id = ? AND resolved_at IS NULL
	`, FormatTime(time.Now().UTC()), resolution, id)
	if err != nil {
		return fmt.Errorf("resolve incident: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("incident %s: %w", id, ErrIncidentNotFound)
	}
	return nil
}

// IncidentFilter narrows ListIncidents.
type IncidentFilter struct {
	TaskID     string
	Unresolved bool
	Limit      int
}

// ListIncidents returns incidents, newest first.
func (p *ProjectDB) ListIncidents(f IncidentFilter) ([]*Incident, error) {
	query := `
		SELECT id, COALESCE(task_id, ''), COALESCE(runner_id, ''), failure_mode,
			detected_at, resolved_at, resolution, details
		FROM incidents WHERE 1=1`
	var args []any
	if f.TaskID != "" {
		query += " AND task_id = ?"
		args = append(args, f.TaskID)
	}
	if f.Unresolved {
		query += " AND resolved_at IS NULL"
	}
	query += " ORDER BY detected_at DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := p.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var incidents []*Incident
	for rows.Next() {
		var inc Incident
		var detectedAt string
		var resolvedAt sql.NullString
		err := rows.Scan(&inc.ID, &inc.TaskID, &inc.RunnerID, &inc.FailureMode,
			&detectedAt, &resolvedAt, &inc.Resolution, &inc.Details)
		if err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		inc.DetectedAt = ParseTime(detectedAt)
		inc.ResolvedAt = nullTime(resolvedAt)
		incidents = append(incidents, &inc)
	}
	return incidents, rows.Err()
}

// CountOpenIncidents returns the number of unresolved incidents.
func (p *ProjectDB) CountOpenIncidents() (int, error) {
	var n int
	if err := p.QueryRow("SELECT COUNT(*) FROM incidents WHERE resolved_at IS NULL").Scan(&n); err != nil {
		return 0, fmt.Errorf("count open incidents: %w", err)
	}
	return n, nil
}
