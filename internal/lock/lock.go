// Package lock provides task and section leases over the project store.
//
// Both lease kinds share one acquisition protocol: insert, detect the
// holder, claim expired rows with an observed-value compare-and-set, or
// fail with the holder's details. All steps run inside one transaction so
// concurrent runners racing on the same key resolve to exactly one winner.
package lock

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/UnlikeOtherAI/steroids-cli-sub006/internal/db"
	"github.com/UnlikeOtherAI/steroids-cli-sub006/internal/errors"
)

// Default lease lifetimes. Task locks are renewed by the runner heartbeat;
// section locks are sized for a full coder+reviewer cycle including retries
// and are not renewed.
const (
	DefaultTaskTTL    = 15 * time.Minute
	DefaultSectionTTL = 120 * time.Minute
)

// Kind identifies the lease table.
type Kind string

const (
	KindTask    Kind = "task"
	KindSection Kind = "section"
)

// Outcome describes a successful acquisition.
type Outcome string

const (
	OutcomeAcquiredNew    Outcome = "acquired_new"
	OutcomeAlreadyOwned   Outcome = "already_owned"
	OutcomeClaimedExpired Outcome = "claimed_expired"
)

// Holder describes the current owner of a lease.
type Holder struct {
	RunnerID   string
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

// Manager acquires and releases leases on behalf of one runner.
type Manager struct {
	store      *db.ProjectDB
	runnerID   string
	taskTTL    time.Duration
	sectionTTL time.Duration
	now        func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithTaskTTL overrides the task lease lifetime.
func WithTaskTTL(d time.Duration) Option {
	return func(m *Manager) { m.taskTTL = d }
}

// WithSectionTTL overrides the section lease lifetime.
func WithSectionTTL(d time.Duration) Option {
	return func(m *Manager) { m.sectionTTL = d }
}

// WithClock overrides the wall clock (tests).
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a lease manager bound to a project store and runner.
func NewManager(store *db.ProjectDB, runnerID string, opts ...Option) *Manager {
	m := &Manager{
		store:      store,
		runnerID:   runnerID,
		taskTTL:    DefaultTaskTTL,
		sectionTTL: DefaultSectionTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RunnerID returns the owning runner id.
func (m *Manager) RunnerID() string {
	return m.runnerID
}

type kindSpec struct {
	table        string
	keyColumn    string
	hasHeartbeat bool
	lockedCode   errors.Code
}

func specFor(kind Kind) kindSpec {
	if kind == KindSection {
		return kindSpec{
			table:      "section_locks",
			keyColumn:  "section_id",
			lockedCode: errors.CodeSectionLocked,
		}
	}
	return kindSpec{
		table:        "task_locks",
		keyColumn:    "task_id",
		hasHeartbeat: true,
		lockedCode:   errors.CodeTaskLocked,
	}
}

func (m *Manager) ttlFor(kind Kind) time.Duration {
	if kind == KindSection {
		return m.sectionTTL
	}
	return m.taskTTL
}

// AcquireTask acquires the lease on a task.
func (m *Manager) AcquireTask(ctx context.Context, taskID string) (Outcome, error) {
	return m.acquire(ctx, KindTask, taskID)
}

// AcquireSection acquires the lease on a section.
func (m *Manager) AcquireSection(ctx context.Context, sectionID string) (Outcome, error) {
	return m.acquire(ctx, KindSection, sectionID)
}

// acquire runs the four-step protocol inside one transaction.
func (m *Manager) acquire(ctx context.Context, kind Kind, key string) (Outcome, error) {
	spec := specFor(kind)
	now := m.now().UTC()
	expires := now.Add(m.ttlFor(kind))

	tx, err := m.store.BeginTx(ctx)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	// Step 1: optimistic insert.
	var res sql.Result
	if spec.hasHeartbeat {
		res, err = tx.Exec(ctx, fmt.Sprintf(`
			INSERT INTO %s (%s, runner_id, acquired_at, expires_at, heartbeat_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(%s) DO NOTHING
		`, spec.table, spec.keyColumn, spec.keyColumn),
			key, m.runnerID, db.FormatTime(now), db.FormatTime(expires), db.FormatTime(now))
	} else {
		res, err = tx.Exec(ctx, fmt.Sprintf(`
			INSERT INTO %s (%s, runner_id, acquired_at, expires_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(%s) DO NOTHING
		`, spec.table, spec.keyColumn, spec.keyColumn),
			key, m.runnerID, db.FormatTime(now), db.FormatTime(expires))
	}
	if err != nil {
		return "", fmt.Errorf("insert %s lock: %w", kind, err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		if err := tx.Commit(); err != nil {
			return "", err
		}
		return OutcomeAcquiredNew, nil
	}

	// Step 2: inspect the existing holder.
	var holder Holder
	var acquiredAt, expiresAt string
	err = tx.QueryRow(ctx, fmt.Sprintf(
		"SELECT runner_id, acquired_at, expires_at FROM %s WHERE %s = ?",
		spec.table, spec.keyColumn), key).
		Scan(&holder.RunnerID, &acquiredAt, &expiresAt)
	if err != nil {
		return "", fmt.Errorf("read %s lock: %w", kind, err)
	}
	holder.AcquiredAt = db.ParseTime(acquiredAt)
	holder.ExpiresAt = db.ParseTime(expiresAt)

	if holder.RunnerID == m.runnerID && holder.ExpiresAt.After(now) {
		if err := tx.Commit(); err != nil {
			return "", err
		}
		return OutcomeAlreadyOwned, nil
	}

	// Step 3: claim an expired lease, guarded by the observed expiry so a
	// racing claimant cannot be overwritten.
	if !holder.ExpiresAt.After(now) {
		var claim sql.Result
		if spec.hasHeartbeat {
			claim, err = tx.Exec(ctx, fmt.Sprintf(`
				UPDATE %s SET runner_id = ?, acquired_at = ?, expires_at = ?, heartbeat_at = ?
				WHERE %s = ? AND expires_at = ?
			`, spec.table, spec.keyColumn),
				m.runnerID, db.FormatTime(now), db.FormatTime(expires), db.FormatTime(now),
				key, expiresAt)
		} else {
			claim, err = tx.Exec(ctx, fmt.Sprintf(`
				UPDATE %s SET runner_id = ?, acquired_at = ?, expires_at = ?
				WHERE %s = ? AND expires_at = ?
			`, spec.table, spec.keyColumn),
				m.runnerID, db.FormatTime(now), db.FormatTime(expires), key, expiresAt)
		}
		if err != nil {
			return "", fmt.Errorf("claim expired %s lock: %w", kind, err)
		}
		if n, err := claim.RowsAffected(); err == nil && n > 0 {
			if err := tx.Commit(); err != nil {
				return "", err
			}
			return OutcomeClaimedExpired, nil
		}

		// Another runner won the race; report the new holder.
		var current Holder
		err = tx.QueryRow(ctx, fmt.Sprintf(
			"SELECT runner_id, acquired_at, expires_at FROM %s WHERE %s = ?",
			spec.table, spec.keyColumn), key).
			Scan(&current.RunnerID, &acquiredAt, &expiresAt)
		if err == nil {
			current.AcquiredAt = db.ParseTime(acquiredAt)
			current.ExpiresAt = db.ParseTime(expiresAt)
			holder = current
		}
	}

	// Step 4: held by someone else.
	return "", lockedError(spec.lockedCode, kind, key, holder)
}

// Release removes the lease when owned by this runner.
func (m *Manager) Release(ctx context.Context, kind Kind, key string) error {
	spec := specFor(kind)

	tx, err := m.store.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.Exec(ctx, fmt.Sprintf(
		"DELETE FROM %s WHERE %s = ? AND runner_id = ?", spec.table, spec.keyColumn),
		key, m.runnerID)
	if err != nil {
		return fmt.Errorf("release %s lock: %w", kind, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return tx.Commit()
	}

	// Distinguish "no lock" from "someone else's lock".
	var holder string
	err = tx.QueryRow(ctx, fmt.Sprintf(
		"SELECT runner_id FROM %s WHERE %s = ?", spec.table, spec.keyColumn), key).
		Scan(&holder)
	if err == sql.ErrNoRows {
		return errors.Newf(errors.CodeLockNotFound, "no %s lock held on %s", kind, key)
	}
	if err != nil {
		return fmt.Errorf("inspect %s lock: %w", kind, err)
	}
	return errors.Newf(errors.CodePermissionDenied,
		"%s lock on %s is held by runner %s", kind, key, holder)
}

// ForceRelease removes the lease unconditionally (administrative).
// Returns whether a row existed.
func (m *Manager) ForceRelease(ctx context.Context, kind Kind, key string) (bool, error) {
	spec := specFor(kind)
	res, err := m.store.Driver().Exec(ctx, fmt.Sprintf(
		"DELETE FROM %s WHERE %s = ?", spec.table, spec.keyColumn), key)
	if err != nil {
		return false, fmt.Errorf("force release %s lock: %w", kind, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Renew extends an owned task lease; heartbeat_at and expires_at move in
// lockstep. Reports whether a lease was renewed.
func (m *Manager) Renew(ctx context.Context, taskID string) (bool, error) {
	now := m.now().UTC()
	res, err := m.store.Driver().Exec(ctx, `
		UPDATE task_locks SET heartbeat_at = ?, expires_at = ?
		WHERE task_id = ? AND runner_id = ?
	`, db.FormatTime(now), db.FormatTime(now.Add(m.taskTTL)), taskID, m.runnerID)
	if err != nil {
		return false, fmt.Errorf("renew task lock: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// HeldTask returns the task id this runner currently holds a lease on,
// or empty when none.
func (m *Manager) HeldTask(ctx context.Context) (string, error) {
	var taskID string
	err := m.store.Driver().QueryRow(ctx,
		"SELECT task_id FROM task_locks WHERE runner_id = ? LIMIT 1", m.runnerID).
		Scan(&taskID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query held task: %w", err)
	}
	return taskID, nil
}

// HolderOf returns the active holder of a lease, nil when unheld or expired.
func (m *Manager) HolderOf(ctx context.Context, kind Kind, key string) (*Holder, error) {
	spec := specFor(kind)
	var h Holder
	var acquiredAt, expiresAt string
	err := m.store.Driver().QueryRow(ctx, fmt.Sprintf(
		"SELECT runner_id, acquired_at, expires_at FROM %s WHERE %s = ?",
		spec.table, spec.keyColumn), key).
		Scan(&h.RunnerID, &acquiredAt, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query %s lock: %w", kind, err)
	}
	h.AcquiredAt = db.ParseTime(acquiredAt)
	h.ExpiresAt = db.ParseTime(expiresAt)
	if !h.ExpiresAt.After(m.now().UTC()) {
		return nil, nil
	}
	return &h, nil
}

// ReleaseAllOwned drops every lease owned by this runner (shutdown path).
func (m *Manager) ReleaseAllOwned(ctx context.Context) error {
	if _, err := m.store.Driver().Exec(ctx, "DELETE FROM task_locks WHERE runner_id = ?", m.runnerID); err != nil {
		return fmt.Errorf("release task locks: %w", err)
	}
	if _, err := m.store.Driver().Exec(ctx, "DELETE FROM section_locks WHERE runner_id = ?", m.runnerID); err != nil {
		return fmt.Errorf("release section locks: %w", err)
	}
	return nil
}

func lockedError(code errors.Code, kind Kind, key string, h Holder) *errors.Error {
	e := errors.Newf(code, "%s %s is locked by runner %s", kind, key, h.RunnerID)
	e.Why = fmt.Sprintf("lease acquired %s, expires %s",
		h.AcquiredAt.Format(time.RFC3339), h.ExpiresAt.Format(time.RFC3339))
	return e
}
