// Package retention implements backup/log naming and the age-based
// cleanup sweeps over a project's .steroids tree.
package retention

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// BackupKind discriminates the recognized backup name formats.
type BackupKind string

const (
	// KindSnapshot is a timestamped snapshot directory
	// (YYYY-MM-DDTHH-mm-ss).
	KindSnapshot BackupKind = "snapshot"
	// KindDaily is a date-only snapshot directory (YYYY-MM-DD).
	KindDaily BackupKind = "daily"
	// KindPreMigrate is a pre-migration database copy
	// (pre-migrate-YYYY-MM-DDTHH-mm-ss-SSSZ.db).
	KindPreMigrate BackupKind = "pre-migrate"
)

const (
	snapshotLayout   = "2006-01-02T15-04-05"
	dailyLayout      = "2006-01-02"
	preMigrateLayout = "2006-01-02T15-04-05-000Z"
	preMigratePrefix = "pre-migrate-"
	preMigrateSuffix = ".db"
)

// SnapshotName formats a snapshot directory name for t.
func SnapshotName(t time.Time) string {
	return t.UTC().Format(snapshotLayout)
}

// DailyName formats a date-only directory name for t.
func DailyName(t time.Time) string {
	return t.UTC().Format(dailyLayout)
}

// PreMigrateName formats a pre-migration copy filename for t,
// millisecond precision.
func PreMigrateName(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%s%s-%03dZ%s",
		preMigratePrefix, t.Format(snapshotLayout), t.Nanosecond()/1e6, preMigrateSuffix)
}

// ParseBackupName recognizes a backup directory or file name and
// returns its timestamp and kind. Unknown names report ok=false.
func ParseBackupName(name string) (ts time.Time, kind BackupKind, ok bool) {
	if strings.HasPrefix(name, preMigratePrefix) && strings.HasSuffix(name, preMigrateSuffix) {
		stamp := strings.TrimSuffix(strings.TrimPrefix(name, preMigratePrefix), preMigrateSuffix)
		t, err := parsePreMigrateStamp(stamp)
		if err == nil {
			return t, KindPreMigrate, true
		}
		return time.Time{}, "", false
	}

	if t, err := time.ParseInLocation(snapshotLayout, name, time.UTC); err == nil {
		return t, KindSnapshot, true
	}
	if t, err := time.ParseInLocation(dailyLayout, name, time.UTC); err == nil {
		return t, KindDaily, true
	}
	return time.Time{}, "", false
}

// parsePreMigrateStamp parses YYYY-MM-DDTHH-mm-ss-SSSZ.
func parsePreMigrateStamp(stamp string) (time.Time, error) {
	if !strings.HasSuffix(stamp, "Z") {
		return time.Time{}, fmt.Errorf("missing Z suffix: %s", stamp)
	}
	body := strings.TrimSuffix(stamp, "Z")
	dash := strings.LastIndexByte(body, '-')
	if dash < 0 {
		return time.Time{}, fmt.Errorf("missing millisecond field: %s", stamp)
	}
	base, err := time.ParseInLocation(snapshotLayout, body[:dash], time.UTC)
	if err != nil {
		return time.Time{}, err
	}
	millis := body[dash+1:]
	if len(millis) != 3 {
		return time.Time{}, fmt.Errorf("millisecond field must be three digits: %s", stamp)
	}
	ms, err := strconv.Atoi(millis)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad millisecond field: %s", stamp)
	}
	return base.Add(time.Duration(ms) * time.Millisecond), nil
}
