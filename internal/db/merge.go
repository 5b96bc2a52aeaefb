package db

import (
	"database/sql"
	"fmt"
	"time"
)

// Per-commit outcomes recorded during a parallel cherry-pick session.
const (
	MergeApplied  = "applied"
	MergeConflict = "conflict"
	MergeSkipped  = "skipped"
)

// MergeProgress tracks one commit position within a parallel merge session.
// Uniquely keyed by (session, workstream, position) so a resumed session
// never reapplies a commit.
type MergeProgress struct {
	SessionID    string
	WorkstreamID string
	Position     int
	CommitSHA    string
	Status       string
	CreatedAt    time.Time
}

// RecordMergeProgress upserts the status of one commit position.
func (p *ProjectDB) RecordMergeProgress(m *MergeProgress) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := p.Exec(`
		INSERT INTO merge_progress (session_id, workstream_id, position, commit_sha, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, workstream_id, position) DO UPDATE SET
			commit_sha = excluded.commit_sha,
			status = excluded.status
	`, m.SessionID, m.WorkstreamID, m.Position, m.CommitSHA, m.Status,
		FormatTime(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("record merge progress: %w", err)
	}
	return nil
}

// MergeSessionProgress returns all recorded positions for a session,
// ordered by workstream then position.
func (p *ProjectDB) MergeSessionProgress(sessionID string) ([]*MergeProgress, error) {
	rows, err := p.Query(`
		SELECT session_id, workstream_id, position, commit_sha, status, created_at
		FROM merge_progress WHERE session_id = ?
		ORDER BY workstream_id, position
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("merge progress: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return collectMergeProgress(rows)
}

func collectMergeProgress(rows *sql.Rows) ([]*MergeProgress, error) {
	var all []*MergeProgress
	for rows.Next() {
		var m MergeProgress
		var createdAt string
		if err := rows.Scan(&m.SessionID, &m.WorkstreamID, &m.Position,
			&m.CommitSHA, &m.Status, &createdAt); err != nil {
			return nil, fmt.Errorf("scan merge progress: %w", err)
		}
		m.CreatedAt = ParseTime(createdAt)
		all = append(all, &m)
	}
	return all, rows.Err()
}
