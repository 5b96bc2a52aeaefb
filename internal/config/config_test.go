package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "claude", cfg.Provider.Binary)
	assert.Equal(t, 15*time.Minute, cfg.Locks.TaskTTL)
	assert.Equal(t, 120*time.Minute, cfg.Locks.SectionTTL)
	assert.Equal(t, 30*time.Second, cfg.Runner.HeartbeatInterval)
	assert.Equal(t, 5*time.Minute, cfg.Runner.StaleAfter)
	assert.Equal(t, 15, cfg.Disputes.RejectionThreshold)
	assert.Equal(t, 3600, cfg.Health.OrphanedTaskTimeout)
	assert.Equal(t, 1800, cfg.Health.MaxCoderDuration)
	assert.Equal(t, 900, cfg.Health.MaxReviewerDuration)
	assert.Equal(t, 300, cfg.Health.RunnerHeartbeatTimeout)
	assert.Equal(t, 600, cfg.Health.InvocationStaleness)
}

func TestLoadProjectFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, SteroidsDir), 0o755))
	body := "disputes:\n  rejection_threshold: 5\nprovider:\n  binary: mock-ai\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, SteroidsDir, ConfigFileName), []byte(body), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Disputes.RejectionThreshold)
	assert.Equal(t, "mock-ai", cfg.Provider.Binary)
	// untouched keys keep defaults
	assert.Equal(t, 15*time.Minute, cfg.Locks.TaskTTL)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 15, cfg.Disputes.RejectionThreshold)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("STEROIDS_DISPUTES_REJECTION_THRESHOLD", "7")
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Disputes.RejectionThreshold)
}

func TestAutoMigrateTruthySet(t *testing.T) {
	for _, val := range []string{"1", "true", "TRUE", "yes", "Yes", "on", "ON"} {
		t.Setenv("STEROIDS_AUTO_MIGRATE", val)
		assert.True(t, AutoMigrate(), "value %q", val)
	}
	for _, val := range []string{"", "0", "false", "no", "off", "maybe"} {
		t.Setenv("STEROIDS_AUTO_MIGRATE", val)
		assert.False(t, AutoMigrate(), "value %q", val)
	}
}
