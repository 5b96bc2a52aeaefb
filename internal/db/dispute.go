package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrDisputeNotFound is returned when a dispute does not exist.
var ErrDisputeNotFound = errors.New("dispute not found")

// Dispute records a coder/reviewer disagreement. The task is treated as
// terminally completed while both positions are preserved for a human or
// programmatic resolver.
type Dispute struct {
	ID               string
	TaskID           string
	Type             string // major, minor, system
	Status           string // open, resolved, dismissed
	Reason           string
	CoderPosition    string
	ReviewerPosition string
	Resolution       string // approve, reject, skip, human; empty while open
	ResolutionNotes  string
	CreatedBy        string
	ResolvedBy       string
	CreatedAt        time.Time
	ResolvedAt       *time.Time
}

// CreateDispute inserts a new open dispute.
func (p *ProjectDB) CreateDispute(d *Dispute) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.Type == "" {
		d.Type = "major"
	}
	if d.Status == "" {
		d.Status = "open"
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	_, err := p.Exec(`
		INSERT INTO disputes (id, task_id, type, status, reason, coder_position,
			reviewer_position, resolution, resolution_notes, created_by,
			resolved_by, created_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, NULL, '', ?, NULL, ?, NULL)
	`, d.ID, d.TaskID, d.Type, d.Status, d.Reason, d.CoderPosition,
		d.ReviewerPosition, d.CreatedBy, FormatTime(d.CreatedAt))
	if err != nil {
		return fmt.Errorf("create dispute: %w", err)
	}
	return nil
}

// ResolveDispute closes a dispute with a resolution.
func (p *ProjectDB) ResolveDispute(id, resolution, notes, resolvedBy string) error {
	res, err := p.Exec(`
		UPDATE disputes
		SET status = 'resolved', resolution = ?, resolution_notes = ?,
			resolved_by = ?, resolved_at = ?
		WHERE id = ? AND status = 'open'
	`, resolution, notes, resolvedBy, FormatTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("resolve dispute: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("dispute %s: %w", id, ErrDisputeNotFound)
	}
	return nil
}

// HasOpenDispute reports whether a task has an unresolved dispute.
// An open dispute forbids further reviewer invocation on the task.
func (p *ProjectDB) HasOpenDispute(taskID string) (bool, error) {
	var n int
	err := p.QueryRow(
		"SELECT COUNT(*) FROM disputes WHERE task_id = ? AND status = 'open'",
		taskID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check dispute: %w", err)
	}
	return n > 0, nil
}

// GetDispute retrieves a dispute by ID.
func (p *ProjectDB) GetDispute(id string) (*Dispute, error) {
	row := p.QueryRow(disputeSelect+" WHERE id = ?", id)
	d, err := scanDispute(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrDisputeNotFound
	}
	return d, err
}

// ListDisputes returns disputes for a task, newest first.
func (p *ProjectDB) ListDisputes(taskID string) ([]*Dispute, error) {
	rows, err := p.Query(disputeSelect+" WHERE task_id = ? ORDER BY created_at DESC", taskID)
	if err != nil {
		return nil, fmt.Errorf("list disputes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var disputes []*Dispute
	for rows.Next() {
		d, err := scanDispute(rows.Scan)
		if err != nil {
			return nil, err
		}
		disputes = append(disputes, d)
	}
	return disputes, rows.Err()
}

const disputeSelect = `
	SELECT id, task_id, type, status, reason, coder_position, reviewer_position,
		COALESCE(resolution, ''), resolution_notes, created_by,
		COALESCE(resolved_by, ''), created_at, resolved_at
	FROM disputes`

func scanDispute(scan func(...any) error) (*Dispute, error) {
	var d Dispute
	var createdAt string
	var resolvedAt sql.NullString
	err := scan(&d.ID, &d.TaskID, &d.Type, &d.Status, &d.Reason,
		&d.CoderPosition, &d.ReviewerPosition, &d.Resolution,
		&d.ResolutionNotes, &d.CreatedBy, &d.ResolvedBy, &createdAt, &resolvedAt)
	if err != nil {
		return nil, err
	}
	d.CreatedAt = ParseTime(createdAt)
	d.ResolvedAt = nullTime(resolvedAt)
	return &d, nil
}
