package retention

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UnlikeOtherAI/steroids-cli-sub006/internal/db"
)

var retNow = time.Date(2026, 8, 24, 9, 30, 5, 123*int(time.Millisecond), time.UTC)

func TestBackupNameRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		kind BackupKind
		fmt  func(time.Time) string
		want time.Time
	}{
		{"snapshot", KindSnapshot, SnapshotName, retNow.Truncate(time.Second)},
		{"daily", KindDaily, DailyName, retNow.Truncate(24 * time.Hour)},
		{"pre-migrate", KindPreMigrate, PreMigrateName, retNow.Truncate(time.Millisecond)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			formatted := tc.fmt(retNow)
			ts, kind, ok := ParseBackupName(formatted)
			require.True(t, ok, "parse %q", formatted)
			assert.Equal(t, tc.kind, kind)
			assert.True(t, ts.Equal(tc.want), "got %v want %v", ts, tc.want)
		})
	}
}

func TestBackupNameFormats(t *testing.T) {
	assert.Equal(t, "2026-08-24T09-30-05", SnapshotName(retNow))
	assert.Equal(t, "2026-08-24", DailyName(retNow))
	assert.Equal(t, "pre-migrate-2026-08-24T09-30-05-123Z.db", PreMigrateName(retNow))
}

func TestParseBackupNameRejectsUnknown(t *testing.T) {
	for _, name := range []string{
		"", "steroids.db", "2026-8-24", "2026-08-24T09-30", "backup-2026-08-24",
		"pre-migrate-2026-08-24T09-30-05.db", "pre-migrate-2026-08-24T09-30-05-12Z.db",
		"pre-migrate-2026-08-24T09-30-05-abcZ.db",
	} {
		_, _, ok := ParseBackupName(name)
		assert.False(t, ok, "name %q", name)
	}
}

func touchAt(t *testing.T, path string, mtime time.Time) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func TestSweepLogsRemovesOnlyExpired(t *testing.T) {
	dir := t.TempDir()
	old := retNow.Add(-8 * 24 * time.Hour)
	fresh := retNow.Add(-time.Hour)

	oldLog := filepath.Join(db.InvocationLogDir(dir), "T1.log")
	freshLog := filepath.Join(db.InvocationLogDir(dir), "T2.log")
	oldText := filepath.Join(db.TextLogDir(dir), "runs", "a.txt")
	touchAt(t, oldLog, old)
	touchAt(t, freshLog, fresh)
	touchAt(t, oldText, old)

	s := NewSweeper(dir, WithClock(func() time.Time { return retNow }))
	removed, err := s.SweepLogs()
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{oldLog, oldText}, removed)
	_, err = os.Stat(freshLog)
	assert.NoError(t, err)
}

func TestSweepBackupsHonorsFloor(t *testing.T) {
	dir := t.TempDir()
	backups := db.BackupDir(dir)

	oldSnap := filepath.Join(backups, SnapshotName(retNow.Add(-40*24*time.Hour)))
	freshSnap := filepath.Join(backups, SnapshotName(retNow.Add(-2*24*time.Hour)))
	oldPre := filepath.Join(backups, PreMigrateName(retNow.Add(-45*24*time.Hour)))
	unrelated := filepath.Join(backups, "keep-me.txt")

	require.NoError(t, os.MkdirAll(oldSnap, 0o755))
	require.NoError(t, os.MkdirAll(freshSnap, 0o755))
	touchAt(t, oldPre, retNow.Add(-45*24*time.Hour))
	touchAt(t, unrelated, retNow.Add(-100*24*time.Hour))

	s := NewSweeper(dir, WithClock(func() time.Time { return retNow }))
	removed, err := s.SweepBackups()
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{oldSnap, oldPre}, removed)
	for _, keep := range []string{freshSnap, unrelated} {
		_, err := os.Stat(keep)
		assert.NoError(t, err, "should keep %s", keep)
	}
}

func TestSweepBackupsMissingDir(t *testing.T) {
	s := NewSweeper(t.TempDir())
	removed, err := s.SweepBackups()
	require.NoError(t, err)
	assert.Empty(t, removed)
}
