package db

import (
	"database/sql"
	"fmt"
	"time"
)

// LockRow is a raw lease row, read for health inspection. The lock
// manager owns the acquisition protocol; this is observation only.
type LockRow struct {
	Key         string
	RunnerID    string
	AcquiredAt  time.Time
	HeartbeatAt time.Time
	ExpiresAt   time.Time
}

// ListTaskLocks returns all task lease rows.
func (p *ProjectDB) ListTaskLocks() ([]*LockRow, error) {
	return p.listLocks("task_locks", "task_id", "heartbeat_at")
}

// ListSectionLocks returns all section lease rows. Section leases are
// never renewed, so acquired_at doubles as the heartbeat.
func (p *ProjectDB) ListSectionLocks() ([]*LockRow, error) {
	return p.listLocks("section_locks", "section_id", "acquired_at")
}

func (p *ProjectDB) listLocks(table, keyColumn, heartbeatColumn string) ([]*LockRow, error) {
	rows, err := p.Query(fmt.Sprintf(`
		SELECT %s, runner_id, acquired_at, %s, expires_at
		FROM %s ORDER BY %s`, keyColumn, heartbeatColumn, table, keyColumn))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	defer rows.Close()

	var locks []*LockRow
	for rows.Next() {
		var l LockRow
		var acquired, heartbeat, expires sql.NullString
		if err := rows.Scan(&l.Key, &l.RunnerID, &acquired, &heartbeat, &expires); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		l.AcquiredAt = ParseTime(acquired.String)
		l.HeartbeatAt = ParseTime(heartbeat.String)
		l.ExpiresAt = ParseTime(expires.String)
		locks = append(locks, &l)
	}
	return locks, rows.Err()
}
