package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/UnlikeOtherAI/steroids-cli-sub006/internal/config"
	"github.com/UnlikeOtherAI/steroids-cli-sub006/internal/health"
)

// newHealthCmd creates the health command
func newHealthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Run the stuck-task detector against the project",
		Long: `Snapshot the project and global stores, classify failure modes
(orphaned tasks, hanging invocations, zombie/dead runners, store
inconsistencies), record incidents for new findings, and print the
summarized status.`,
		RunE: func(cmd *cobra.Command, args []string) error {
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

			global := degradedGlobal(logger)
			if global != nil {
				defer func() { _ = global.Close() }()
			}

			checker := health.NewChecker(project, global,
				health.WithConfig(healthConfigFrom(cfg)),
				health.WithLogger(logger))
			report, err := checker.Check()
			if err != nil {
				return err
			}

			if jsonOut {
				return printJSON(map[string]any{
					"status":   report.Summarize(),
					"score":    report.Score(),
					"degraded": checker.Degraded(),
					"signals":  report,
				})
			}

			fmt.Printf("status: %s (score %d)\n", colorStatus(string(report.Summarize())), report.Score())
			if checker.Degraded() {
				fmt.Println("note: global store unavailable, runner checks skipped")
			}
			fmt.Printf("  orphaned tasks:      %d\n", len(report.OrphanedTasks))
			fmt.Printf("  hanging invocations: %d\n", len(report.HangingInvocations))
			fmt.Printf("  zombie runners:      %d\n", len(report.ZombieRunners))
			fmt.Printf("  dead runners:        %d\n", len(report.DeadRunners))
			fmt.Printf("  inconsistencies:     %d\n", len(report.DBInconsistencies))
			fmt.Printf("  open incidents:      %d\n", report.ActiveIncidents)
			return nil
		},
	}
	return cmd
}
