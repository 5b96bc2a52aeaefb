package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// AuditEntry is one append-only record of a task status transition.
// Entries are never updated or deleted.
type AuditEntry struct {
	ID              int64
	TaskID          string
	FromStatus      string // empty for task creation
	ToStatus        string
	Actor           string
	ActorType       string
	Model           string
	Notes           string
	CommitSHA       string
	DurationSeconds float64
	CreatedAt       time.Time
}

// Transition describes one status change to apply atomically: the task row
// update, its audit entry, and optionally the lock releases that accompany
// a terminal transition.
type Transition struct {
	TaskID          string
	From            string // empty for creation
	To              string
	Actor           string
	ActorType       string
	Model           string
	Notes           string
	CommitSHA       string
	DurationSeconds float64
	BumpRejection   bool

	// Optional lock releases, applied in the same transaction.
	ReleaseTaskLock    bool
	ReleaseSectionLock string // section ID, empty = none
	RunnerID           string // owner for lock releases
}

// ApplyTransition performs a status transition in a single transaction:
// task update, audit append, and any requested lock releases.
func (p *ProjectDB) ApplyTransition(ctx context.Context, tr Transition) error {
	tx, err := p.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := FormatTime(time.Now().UTC())

	bump := 0
	if tr.BumpRejection {
		bump = 1
	}
	res, err := tx.Exec(ctx, `
		UPDATE tasks SET status = ?, rejection_count = rejection_count + ?, updated_at = ?
		WHERE id = ?
	`, tr.To, bump, now, tr.TaskID)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("task %s: %w", tr.TaskID, ErrTaskNotFound)
	}

	var from any
	if tr.From != "" {
		from = tr.From
	}
	var model any
	if tr.Model != "" {
		model = tr.Model
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO audit_log (task_id, from_status, to_status, actor, actor_type,
			model, notes, commit_sha, duration_seconds, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, tr.TaskID, from, tr.To, tr.Actor, tr.ActorType, model, tr.Notes,
		tr.CommitSHA, tr.DurationSeconds, now)
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}

	if tr.ReleaseTaskLock {
		if _, err := tx.Exec(ctx,
			"DELETE FROM task_locks WHERE task_id = ? AND runner_id = ?",
			tr.TaskID, tr.RunnerID); err != nil {
			return fmt.Errorf("release task lock: %w", err)
		}
	}
	if tr.ReleaseSectionLock != "" {
		if _, err := tx.Exec(ctx,
			"DELETE FROM section_locks WHERE section_id = ? AND runner_id = ?",
			tr.ReleaseSectionLock, tr.RunnerID); err != nil {
			return fmt.Errorf("release section lock: %w", err)
		}
	}

	return tx.Commit()
}

// AppendAudit writes a standalone audit entry (task creation records).
func (p *ProjectDB) AppendAudit(e *AuditEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	var from any
	if e.FromStatus != "" {
		from = e.FromStatus
	}
	var model any
	if e.Model != "" {
		model = e.Model
	}
	_, err := p.Exec(`
		INSERT INTO audit_log (task_id, from_status, to_status, actor, actor_type,
			model, notes, commit_sha, duration_seconds, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.TaskID, from, e.ToStatus, e.Actor, e.ActorType, model, e.Notes,
		e.CommitSHA, e.DurationSeconds, FormatTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

// ListAudit returns the audit trail for a task in insertion order.
func (p *ProjectDB) ListAudit(taskID string) ([]*AuditEntry, error) {
	rows, err := p.Query(`
		SELECT id, task_id, COALESCE(from_status, ''), to_status, actor,
			actor_type, COALESCE(model, ''), notes, commit_sha,
			duration_seconds, created_at
		FROM audit_log WHERE task_id = ? ORDER BY id
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*AuditEntry
	for rows.Next() {
		e, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CountRejections returns the number of review -> in_progress transitions
// recorded for a task.
func (p *ProjectDB) CountRejections(taskID string) (int, error) {
	var n int
	err := p.QueryRow(`
		SELECT COUNT(*) FROM audit_log
		WHERE task_id = ? AND from_status = 'review' AND to_status = 'in_progress'
	`, taskID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count rejections: %w", err)
	}
	return n, nil
}

func scanAudit(rows *sql.Rows) (*AuditEntry, error) {
	var e AuditEntry
	var createdAt string
	err := rows.Scan(&e.ID, &e.TaskID, &e.FromStatus, &e.ToStatus, &e.Actor,
		&e.ActorType, &e.Model, &e.Notes, &e.CommitSHA, &e.DurationSeconds,
		&createdAt)
	if err != nil {
		return nil, fmt.Errorf("scan audit: %w", err)
	}
	e.CreatedAt = ParseTime(createdAt)
	return &e, nil
}
