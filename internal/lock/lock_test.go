package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UnlikeOtherAI/steroids-cli-sub006/internal/db"
	"github.com/UnlikeOtherAI/steroids-cli-sub006/internal/errors"
)

var lockNow = time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

func clockAt(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// fileProject opens a file-backed store so managers racing from
// multiple goroutines share one database.
func fileProject(t *testing.T) *db.ProjectDB {
	t.Helper()
	project, err := db.OpenProject(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = project.Close() })
	return project
}

func TestAcquireTaskOutcomes(t *testing.T) {
	ctx := context.Background()
	project := db.NewTestProjectDB(t)
	m1 := NewManager(project, "runner-1", WithClock(clockAt(lockNow)))
	m2 := NewManager(project, "runner-2", WithClock(clockAt(lockNow)))

	outcome, err := m1.AcquireTask(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAcquiredNew, outcome)

	outcome, err = m1.AcquireTask(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyOwned, outcome)

	_, err = m2.AcquireTask(ctx, "T1")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeTaskLocked))
	assert.Contains(t, err.Error(), "runner-1")
}

func TestAcquireSectionOutcomes(t *testing.T) {
	ctx := context.Background()
	project := db.NewTestProjectDB(t)
	m1 := NewManager(project, "runner-1", WithClock(clockAt(lockNow)))
	m2 := NewManager(project, "runner-2", WithClock(clockAt(lockNow)))

	outcome, err := m1.AcquireSection(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAcquiredNew, outcome)

	_, err = m2.AcquireSection(ctx, "S1")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeSectionLocked))
}

func TestClaimExpiredLease(t *testing.T) {
	ctx := context.Background()
	project := db.NewTestProjectDB(t)
	m1 := NewManager(project, "runner-1",
		WithClock(clockAt(lockNow)), WithTaskTTL(time.Minute))

	_, err := m1.AcquireTask(ctx, "T1")
	require.NoError(t, err)

	later := lockNow.Add(2 * time.Minute)
	m2 := NewManager(project, "runner-2", WithClock(clockAt(later)))
	outcome, err := m2.AcquireTask(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeClaimedExpired, outcome)

	holder, err := m2.HolderOf(ctx, KindTask, "T1")
	require.NoError(t, err)
	require.NotNil(t, holder)
	assert.Equal(t, "runner-2", holder.RunnerID)
	assert.True(t, holder.ExpiresAt.After(later))
}

func TestOwnLeaseExpiredIsReclaimedNotAlreadyOwned(t *testing.T) {
	ctx := context.Background()
	project := db.NewTestProjectDB(t)
	m := NewManager(project, "runner-1",
		WithClock(clockAt(lockNow)), WithTaskTTL(time.Minute))

	_, err := m.AcquireTask(ctx, "T1")
	require.NoError(t, err)

	m.now = clockAt(lockNow.Add(2 * time.Minute))
	outcome, err := m.AcquireTask(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeClaimedExpired, outcome)
}

func TestReleaseIsOwnerOnly(t *testing.T) {
	ctx := context.Background()
	project := db.NewTestProjectDB(t)
	m1 := NewManager(project, "runner-1", WithClock(clockAt(lockNow)))
	m2 := NewManager(project, "runner-2", WithClock(clockAt(lockNow)))

	_, err := m1.AcquireTask(ctx, "T1")
	require.NoError(t, err)

	err = m2.Release(ctx, KindTask, "T1")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodePermissionDenied))

	// The lease survives the denied release.
	holder, err := m1.HolderOf(ctx, KindTask, "T1")
	require.NoError(t, err)
	require.NotNil(t, holder)
	assert.Equal(t, "runner-1", holder.RunnerID)

	require.NoError(t, m1.Release(ctx, KindTask, "T1"))

	err = m1.Release(ctx, KindTask, "T1")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeLockNotFound))
}

func TestRenewMovesExpiryInLockstep(t *testing.T) {
	ctx := context.Background()
	project := db.NewTestProjectDB(t)
	m := NewManager(project, "runner-1",
		WithClock(clockAt(lockNow)), WithTaskTTL(15*time.Minute))

	_, err := m.AcquireTask(ctx, "T1")
	require.NoError(t, err)

	m.now = clockAt(lockNow.Add(10 * time.Minute))
	renewed, err := m.Renew(ctx, "T1")
	require.NoError(t, err)
	assert.True(t, renewed)

	holder, err := m.HolderOf(ctx, KindTask, "T1")
	require.NoError(t, err)
	require.NotNil(t, holder)
	assert.Equal(t, lockNow.Add(25*time.Minute), holder.ExpiresAt)

	other := NewManager(project, "runner-2", WithClock(clockAt(lockNow)))
	renewed, err = other.Renew(ctx, "T1")
	require.NoError(t, err)
	assert.False(t, renewed)
}

func TestConcurrentAcquireAdmitsOneWinner(t *testing.T) {
	ctx := context.Background()
	project := fileProject(t)

	const racers = 4
	outcomes := make([]Outcome, racers)
	errs := make([]error, racers)

	var wg sync.WaitGroup
	for i := range racers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m := NewManager(project, string(rune('a'+i)))
			outcomes[i], errs[i] = m.AcquireTask(ctx, "T1")
		}()
	}
	wg.Wait()

	winners := 0
	for i := range racers {
		if errs[i] == nil {
			winners++
			assert.Equal(t, OutcomeAcquiredNew, outcomes[i])
			continue
		}
		assert.True(t, errors.HasCode(errs[i], errors.CodeTaskLocked),
			"loser %d: %v", i, errs[i])
	}
	assert.Equal(t, 1, winners)
}

func TestConcurrentExpiredClaimAdmitsOneClaimant(t *testing.T) {
	ctx := context.Background()
	project := fileProject(t)

	seed := NewManager(project, "stale-runner",
		WithClock(clockAt(lockNow)), WithTaskTTL(time.Minute))
	_, err := seed.AcquireTask(ctx, "T1")
	require.NoError(t, err)

	later := lockNow.Add(2 * time.Minute)
	const racers = 4
	outcomes := make([]Outcome, racers)
	errs := make([]error, racers)

	var wg sync.WaitGroup
	for i := range racers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m := NewManager(project, string(rune('a'+i)), WithClock(clockAt(later)))
			outcomes[i], errs[i] = m.AcquireTask(ctx, "T1")
		}()
	}
	wg.Wait()

	winners := 0
	for i := range racers {
		if errs[i] == nil {
			winners++
			assert.Equal(t, OutcomeClaimedExpired, outcomes[i])
			continue
		}
		assert.True(t, errors.HasCode(errs[i], errors.CodeTaskLocked),
			"loser %d: %v", i, errs[i])
	}
	assert.Equal(t, 1, winners)
}
