package db

import (
	"database/sql"
	"fmt"
	"time"
)

// Invocation is one AI provider call made on behalf of a task.
type Invocation struct {
	ID              int64
	TaskID          string
	Role            string // coder or reviewer
	Provider        string
	Model           string
	ExitCode        int
	DurationMS      int64
	Success         bool
	TimedOut        bool
	RejectionNumber int
	CreatedAt       time.Time
}

// RecordInvocation appends an invocation row.
func (p *ProjectDB) RecordInvocation(inv *Invocation) error {
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now().UTC()
	}
	success, timedOut := 0, 0
	if inv.Success {
		success = 1
	}
	if inv.TimedOut {
		timedOut = 1
	}
	res, err := p.Exec(`
		INSERT INTO task_invocations (task_id, role, provider, model, exit_code,
			duration_ms, success, timed_out, rejection_number, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, inv.TaskID, inv.Role, inv.Provider, inv.Model, inv.ExitCode,
		inv.DurationMS, success, timedOut, inv.RejectionNumber,
		FormatTime(inv.CreatedAt))
	if err != nil {
		return fmt.Errorf("record invocation: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		inv.ID = id
	}
	return nil
}

// ListInvocations returns all invocations for a task in call order.
func (p *ProjectDB) ListInvocations(taskID string) ([]*Invocation, error) {
	rows, err := p.Query(`
		SELECT id, task_id, role, provider, model, exit_code, duration_ms,
			success, timed_out, rejection_number, created_at
		FROM task_invocations WHERE task_id = ? ORDER BY id
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list invocations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var invs []*Invocation
	for rows.Next() {
		inv, err := scanInvocation(rows)
		if err != nil {
			return nil, err
		}
		invs = append(invs, inv)
	}
	return invs, rows.Err()
}

func scanInvocation(rows *sql.Rows) (*Invocation, error) {
	var inv Invocation
	var success, timedOut int
	var createdAt string
	err := rows.Scan(&inv.ID, &inv.TaskID, &inv.Role, &inv.Provider, &inv.Model,
		&inv.ExitCode, &inv.DurationMS, &success, &timedOut,
		&inv.RejectionNumber, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("scan invocation: %w", err)
	}
	inv.Success = success != 0
	inv.TimedOut = timedOut != 0
	inv.CreatedAt = ParseTime(createdAt)
	return &inv, nil
}
