package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/UnlikeOtherAI/steroids-cli-sub006/internal/config"
	"github.com/UnlikeOtherAI/steroids-cli-sub006/internal/db"
	"github.com/UnlikeOtherAI/steroids-cli-sub006/internal/util"
)

// defaultConfigYAML is written on init so every tunable is discoverable.
const defaultConfigYAML = `# steroids project configuration
# Every value can be overridden with a STEROIDS_* environment variable,
# e.g. STEROIDS_RUNNER_MAX_RETRIES=5.

database:
  driver: sqlite        # sqlite | postgres
  dsn: ""               # postgres only

provider:
  binary: claude
  coder_model: ""
  reviewer_model: ""
  timeout: 30m
  silence_timeout: 15m

locks:
  task_ttl: 15m
  section_ttl: 120m

runner:
  heartbeat_interval: 30s
  stale_after: 5m
  idle_sleep: 10s
  max_retries: 3

disputes:
  rejection_threshold: 15

hooks:
  file: .steroids/hooks.yaml

server:
  host: 127.0.0.1
  port: 7433
`

// newInitCmd creates the init command
func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize steroids in current project",
		Long: `Initialize steroids in the project directory.

Creates the .steroids state directory, writes a default config file,
migrates the project store, and registers the project in the global
store so wakeup passes can see it.

Examples:
  steroids init                    # Initialize with defaults
  steroids init --name backend     # Register under a custom name
  steroids init --parallel         # Enable parallel workstreams`,
		RunE: func(cmd *cobra.Command, args []string) error {
			force, _ := cmd.Flags().GetBool("force")
			name, _ := cmd.Flags().GetString("name")
			parallel, _ := cmd.Flags().GetBool("parallel")

			logger := newLogger()
			path, err := projectDir()
			if err != nil {
				return err
			}
			return runInit(path, name, parallel, force, logger)
		},
	}

	cmd.Flags().Bool("force", false, "Overwrite existing configuration")
	cmd.Flags().String("name", "", "Project name in the global registry (default: directory name)")
	cmd.Flags().Bool("parallel", false, "Enable parallel workstreams for this project")

	return cmd
}

func runInit(path, name string, parallel, force bool, logger *slog.Logger) error {
	stateDir := filepath.Join(path, db.StoreDirName)
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	configPath := filepath.Join(stateDir, config.ConfigFileName)
	if _, err := os.Stat(configPath); os.IsNotExist(err) || force {
		if err := util.AtomicWriteFile(configPath, []byte(defaultConfigYAML), 0o644); err != nil {
			return fmt.Errorf("write default config: %w", err)
		}
	} else if err == nil && !force {
		fmt.Printf("config already exists at %s (use --force to overwrite)\n", configPath)
	}

	project, err := db.OpenProject(path)
	if err != nil {
		return fmt.Errorf("initialize project store: %w", err)
	}
	defer func() { _ = project.Close() }()

	if name == "" {
		name = filepath.Base(path)
	}

	global, err := db.OpenGlobal()
	if err != nil {
		// Init still succeeds locally; wakeup just won't see the project.
		logger.Warn("global store unavailable, project not registered", "error", err)
		fmt.Printf("initialized %s (unregistered: global store unavailable)\n", path)
		return nil
	}
	defer func() { _ = global.Close() }()

	existing, err := global.GetProjectByPath(path)
	id := uuid.NewString()
	if err == nil {
		id = existing.ID
	}
	if err := global.SyncProject(db.Project{
		ID: id, Name: name, Path: path, Enabled: true, Parallel: parallel,
	}); err != nil {
		return fmt.Errorf("register project: %w", err)
	}

	fmt.Printf("initialized %s (registered as %q)\n", path, name)
	return nil
}
