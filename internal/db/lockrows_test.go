package db

import (
	"testing"
	"time"
)

var lockRowNow = time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

func TestListTaskLocks(t *testing.T) {
	p := NewTestProjectDB(t)
	heartbeat := lockRowNow.Add(5 * time.Minute)
	expires := lockRowNow.Add(15 * time.Minute)
	if _, err := p.Exec(`
		INSERT INTO task_locks (task_id, runner_id, acquired_at, expires_at, heartbeat_at)
		VALUES (?, ?, ?, ?, ?)`,
		"T1", "r1", FormatTime(lockRowNow), FormatTime(expires), FormatTime(heartbeat)); err != nil {
		t.Fatalf("seed task lock: %v", err)
	}

	locks, err := p.ListTaskLocks()
	if err != nil {
		t.Fatalf("list task locks: %v", err)
	}
	if len(locks) != 1 {
		t.Fatalf("got %d locks, want 1", len(locks))
	}
	l := locks[0]
	if l.Key != "T1" || l.RunnerID != "r1" {
		t.Errorf("got lock %s/%s, want T1/r1", l.Key, l.RunnerID)
	}
	if !l.HeartbeatAt.Equal(heartbeat) {
		t.Errorf("heartbeat = %v, want %v", l.HeartbeatAt, heartbeat)
	}
	if !l.ExpiresAt.Equal(expires) {
		t.Errorf("expires = %v, want %v", l.ExpiresAt, expires)
	}
}

func TestListSectionLocks(t *testing.T) {
	p := NewTestProjectDB(t)
	expires := lockRowNow.Add(2 * time.Hour)
	if _, err := p.Exec(`
		INSERT INTO section_locks (section_id, runner_id, acquired_at, expires_at)
		VALUES (?, ?, ?, ?)`,
		"S1", "r1", FormatTime(lockRowNow), FormatTime(expires)); err != nil {
		t.Fatalf("seed section lock: %v", err)
	}

	locks, err := p.ListSectionLocks()
	if err != nil {
		t.Fatalf("list section locks: %v", err)
	}
	if len(locks) != 1 {
		t.Fatalf("got %d locks, want 1", len(locks))
	}
	l := locks[0]
	if l.Key != "S1" || l.RunnerID != "r1" {
		t.Errorf("got lock %s/%s, want S1/r1", l.Key, l.RunnerID)
	}
	// Section leases are never renewed; acquired_at stands in for the
	// heartbeat.
	if !l.HeartbeatAt.Equal(lockRowNow) {
		t.Errorf("heartbeat = %v, want %v", l.HeartbeatAt, lockRowNow)
	}
	if !l.ExpiresAt.Equal(expires) {
		t.Errorf("expires = %v, want %v", l.ExpiresAt, expires)
	}
}
