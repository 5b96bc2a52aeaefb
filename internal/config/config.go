// Package config provides configuration management for steroids.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"
	// SteroidsDir is the per-project steroids directory.
	SteroidsDir = ".steroids"
	// EnvPrefix is the prefix for environment overrides (STEROIDS_*).
	EnvPrefix = "STEROIDS"
)

// Config holds every tunable the daemon reads. Zero values are never
// used directly; Load fills defaults first.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Provider ProviderConfig `mapstructure:"provider"`
	Locks    LockConfig     `mapstructure:"locks"`
	Runner   RunnerConfig   `mapstructure:"runner"`
	Disputes DisputeConfig  `mapstructure:"disputes"`
	Health   HealthConfig   `mapstructure:"health"`
	Hooks    HooksConfig    `mapstructure:"hooks"`
	Server   ServerConfig   `mapstructure:"server"`
}

// DatabaseConfig selects the store driver.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // sqlite | postgres
	DSN    string `mapstructure:"dsn"`    // postgres only
}

// ProviderConfig configures the AI provider gateway.
type ProviderConfig struct {
	Binary         string        `mapstructure:"binary"`
	CoderModel     string        `mapstructure:"coder_model"`
	ReviewerModel  string        `mapstructure:"reviewer_model"`
	Timeout        time.Duration `mapstructure:"timeout"`
	SilenceTimeout time.Duration `mapstructure:"silence_timeout"`
}

// LockConfig sets the lease TTLs.
type LockConfig struct {
	TaskTTL    time.Duration `mapstructure:"task_ttl"`
	SectionTTL time.Duration `mapstructure:"section_ttl"`
}

// RunnerConfig sets heartbeat cadence and loop behavior.
type RunnerConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	StaleAfter        time.Duration `mapstructure:"stale_after"`
	IdleSleep         time.Duration `mapstructure:"idle_sleep"`
	MaxRetries        int           `mapstructure:"max_retries"`
}

// DisputeConfig controls dispute escalation.
type DisputeConfig struct {
	RejectionThreshold int `mapstructure:"rejection_threshold"`
}

// HealthConfig holds stuck-task detection windows, in seconds to match
// the stored column convention.
type HealthConfig struct {
	OrphanedTaskTimeout    int `mapstructure:"orphaned_task_timeout"`
	MaxCoderDuration       int `mapstructure:"max_coder_duration"`
	MaxReviewerDuration    int `mapstructure:"max_reviewer_duration"`
	RunnerHeartbeatTimeout int `mapstructure:"runner_heartbeat_timeout"`
	InvocationStaleness    int `mapstructure:"invocation_staleness"`
}

// HooksConfig points at the hook sink definitions.
type HooksConfig struct {
	File string `mapstructure:"file"`
}

// ServerConfig configures the observer API.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "")
	v.SetDefault("provider.binary", "claude")
	v.SetDefault("provider.coder_model", "")
	v.SetDefault("provider.reviewer_model", "")
	v.SetDefault("provider.timeout", 30*time.Minute)
	v.SetDefault("provider.silence_timeout", 15*time.Minute)
	v.SetDefault("locks.task_ttl", 15*time.Minute)
	v.SetDefault("locks.section_ttl", 120*time.Minute)
	v.SetDefault("runner.heartbeat_interval", 30*time.Second)
	v.SetDefault("runner.stale_after", 5*time.Minute)
	v.SetDefault("runner.idle_sleep", 10*time.Second)
	v.SetDefault("runner.max_retries", 3)
	v.SetDefault("disputes.rejection_threshold", 15)
	v.SetDefault("health.orphaned_task_timeout", 3600)
	v.SetDefault("health.max_coder_duration", 1800)
	v.SetDefault("health.max_reviewer_duration", 900)
	v.SetDefault("health.runner_heartbeat_timeout", 300)
	v.SetDefault("health.invocation_staleness", 600)
	v.SetDefault("hooks.file", filepath.Join(SteroidsDir, "hooks.yaml"))
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 7433)
}

// Load reads configuration for the project at projectPath. Precedence,
// lowest to highest: defaults, <project>/.steroids/config.yaml,
// STEROIDS_* environment variables. A missing config file is fine.
func Load(projectPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if projectPath != "" {
		path := filepath.Join(projectPath, SteroidsDir, ConfigFileName)
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// Default returns the built-in configuration with no file or env input.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// AutoMigrate reports whether STEROIDS_AUTO_MIGRATE is set to a truthy
// value (1, true, yes, on; case-insensitive).
func AutoMigrate() bool {
	return isTruthy(os.Getenv("STEROIDS_AUTO_MIGRATE"))
}

func isTruthy(val string) bool {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
