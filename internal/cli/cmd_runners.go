package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/UnlikeOtherAI/steroids-cli-sub006/internal/config"
	"github.com/UnlikeOtherAI/steroids-cli-sub006/internal/db"
	"github.com/UnlikeOtherAI/steroids-cli-sub006/internal/gitstate"
	"github.com/UnlikeOtherAI/steroids-cli-sub006/internal/hooks"
	"github.com/UnlikeOtherAI/steroids-cli-sub006/internal/lock"
	"github.com/UnlikeOtherAI/steroids-cli-sub006/internal/orchestrator"
	"github.com/UnlikeOtherAI/steroids-cli-sub006/internal/provider"
	"github.com/UnlikeOtherAI/steroids-cli-sub006/internal/retention"
	"github.com/UnlikeOtherAI/steroids-cli-sub006/internal/runner"
)

// newRunnersCmd creates the runners command group
func newRunnersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runners",
		Short: "Manage per-project runner daemons",
	}
	cmd.AddCommand(newRunnersStartCmd())
	cmd.AddCommand(newRunnersStopCmd())
	cmd.AddCommand(newRunnersListCmd())
	return cmd
}

func newRunnersStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run the task loop for a project",
		Long: `Register a runner for the project and execute the coder/reviewer loop
until no work remains or the process is stopped.

Wakeup passes invoke this with --detach after spawning the process into
its own session; the flag itself only marks the daemon mode, the loop
runs the same either way.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			detached, _ := cmd.Flags().GetBool("detach")
			parallel, _ := cmd.Flags().GetBool("parallel")
			return runRunnerLoop(detached, parallel)
		},
	}
	cmd.Flags().Bool("detach", false, "Daemon mode (set by wakeup when spawning)")
	cmd.Flags().Bool("parallel", false, "Claim work from multiple sections concurrently")
	return cmd
}

func runRunnerLoop(detached, parallel bool) error {
	logger := newLogger()
	path, err := projectDir()
	if err != nil {
		return err
	}

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	project, err := requireInitialized(path)
	if err != nil {
		return err
	}
	defer func() { _ = project.Close() }()

	global, err := db.OpenGlobal()
	if err != nil {
		return fmt.Errorf("open global store (runners need the registry): %w", err)
	}
	defer func() { _ = global.Close() }()

	projectName := filepath.Base(path)
	if p, err := global.GetProjectByPath(path); err == nil {
		projectName = p.Name
		parallel = parallel || p.Parallel
	}

	ctx, cancel := setupSignalHandler()
	defer cancel()

	repo, err := gitstate.Open(ctx, path)
	if err != nil {
		return err
	}

	registry := runner.NewRegistry(global)
	runnerID, err := registry.Register(path)
	if err != nil {
		return err
	}
	logger = logger.With("runner", runnerID)
	logger.Info("runner registered", "project", path, "detached", detached, "parallel", parallel)

	locks := lock.NewManager(project, runnerID,
		lock.WithTaskTTL(cfg.Locks.TaskTTL),
		lock.WithSectionTTL(cfg.Locks.SectionTTL))

	heartbeat := runner.NewHeartbeatRunner(registry, locks, logger)
	heartbeat.Start(ctx)
	defer heartbeat.Stop()

	prov := provider.NewCLIProvider(
		provider.WithBinary(cfg.Provider.Binary),
		provider.WithSilenceTimeout(cfg.Provider.SilenceTimeout),
		provider.WithLogger(logger))

	dispatcher, err := buildDispatcher(path, projectName, cfg, logger)
	if err != nil {
		return err
	}
	defer dispatcher.Wait()

	// Opportunistic maintenance before taking work.
	sweeper := retention.NewSweeper(path, retention.WithLogger(logger))
	if err := sweeper.Sweep(); err != nil {
		logger.Warn("retention sweep failed", "error", err)
	}

	orch := orchestrator.New(orchestrator.Deps{
		Project:     project,
		Global:      global,
		Locks:       locks,
		Registry:    registry,
		Provider:    prov,
		Repo:        repo,
		Config:      cfg,
		ProjectPath: path,
		ProjectName: projectName,
	},
		orchestrator.WithLogger(logger),
		orchestrator.WithDispatcher(dispatcher),
		orchestrator.WithShouldStop(func() bool { return ctx.Err() != nil }),
		orchestrator.WithHeartbeat(func() {
			if err := registry.Heartbeat(); err != nil {
				logger.Warn("heartbeat failed", "error", err)
			}
		}))

	for {
		if err := orch.Run(ctx); err != nil {
			_ = locks.ReleaseAllOwned(context.Background())
			_ = registry.Unregister(true)
			return err
		}
		if ctx.Err() != nil {
			break
		}

		// No eligible work. Park idle and re-check after a nap; wakeup
		// restarts us if we die in between.
		if err := registry.Unregister(false); err != nil {
			logger.Warn("park idle failed", "error", err)
		}
		logger.Debug("no eligible work, idling", "sleep", cfg.Runner.IdleSleep)
		select {
		case <-ctx.Done():
		case <-time.After(cfg.Runner.IdleSleep):
		}
		if ctx.Err() != nil {
			break
		}
		if err := global.SetRunnerStatus(runnerID, db.RunnerRunning); err != nil {
			logger.Warn("resume from idle failed", "error", err)
		}
	}

	logger.Info("runner shutting down")
	if err := locks.ReleaseAllOwned(context.Background()); err != nil {
		logger.Warn("release owned locks failed", "error", err)
	}
	return registry.Unregister(true)
}

// buildDispatcher loads the hook sink config and wires the dispatcher.
func buildDispatcher(path, projectName string, cfg *config.Config, logger *slog.Logger) (*hooks.Dispatcher, error) {
	hooksPath := cfg.Hooks.File
	if !filepath.IsAbs(hooksPath) {
		hooksPath = filepath.Join(path, hooksPath)
	}
	file, err := hooks.LoadConfig(hooksPath)
	if err != nil {
		return nil, err
	}
	return hooks.NewDispatcher(
		hooks.ProjectInfo{Name: projectName, Path: path},
		file.BuildSinks(),
		hooks.WithLogger(logger)), nil
}

func newRunnersStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Signal the project's runners to shut down gracefully",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			path, err := projectDir()
			if err != nil {
				return err
			}

			global, err := db.OpenGlobal()
			if err != nil {
				return fmt.Errorf("open global store: %w", err)
			}
			defer func() { _ = global.Close() }()

			runners, err := global.ListRunnersForProject(path)
			if err != nil {
				return err
			}
			if len(runners) == 0 {
				fmt.Println("no runners registered for this project")
				return nil
			}

			for _, r := range runners {
				if err := global.SetRunnerStatus(r.ID, db.RunnerStopping); err != nil {
					logger.Warn("mark stopping failed", "runner", r.ID, "error", err)
				}
				proc, err := os.FindProcess(r.PID)
				if err != nil {
					continue
				}
				if err := proc.Signal(syscall.SIGTERM); err != nil {
					logger.Warn("signal failed, wakeup will reap the row",
						"runner", r.ID, "pid", r.PID, "error", err)
					continue
				}
				fmt.Printf("sent SIGTERM to runner %s (pid %d)\n", r.ID, r.PID)
			}
			return nil
		},
	}
}

func newRunnersListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered runners across all projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			newLogger()
			global, err := db.OpenGlobal()
			if err != nil {
				return fmt.Errorf("open global store: %w", err)
			}
			defer func() { _ = global.Close() }()

			runners, err := global.ListRunners()
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(runners)
			}

			names := map[string]string{}
			if projects, err := global.ListProjects(false); err == nil {
				for _, p := range projects {
					names[p.Path] = p.Name
				}
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tPID\tPROJECT\tTASK\tHEARTBEAT")
			for _, r := range runners {
				name := names[r.ProjectPath]
				if name == "" {
					name = r.ProjectPath
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
					r.ID[:8], colorStatus(r.Status), r.PID, name,
					r.CurrentTaskID, r.HeartbeatAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
}
