package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/UnlikeOtherAI/steroids-cli-sub006/internal/db"
	"github.com/UnlikeOtherAI/steroids-cli-sub006/internal/wakeup"
)

// newWakeupCmd creates the wakeup command
func newWakeupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wakeup",
		Short: "Scan registered projects, start missing runners, reap dead ones",
		Long: `Run one reconciliation pass over every registered project. Intended to
be invoked from cron or launchd; the pass has a hard 30-second deadline
and a 2-second forced-exit backstop so a hung scan never piles up.

Examples:
  steroids wakeup               # Reconcile and exit
  steroids wakeup --dry-run     # Report what would happen`,
		RunE: func(cmd *cobra.Command, args []string) error {
			dryRun, _ := cmd.Flags().GetBool("dry-run")
			logger := newLogger()

			global, err := db.OpenGlobal()
			if err != nil {
				return fmt.Errorf("open global store: %w", err)
			}
			defer func() { _ = global.Close() }()

			r := wakeup.New(global,
				wakeup.WithLogger(logger),
				wakeup.WithDryRun(dryRun))

			ctx, cancel := setupSignalHandler()
			defer cancel()

			report, err := r.Run(ctx)
			// A hung store or runaway spawn must not outlive the pass.
			wakeup.ScheduleHardExit(0, logger)
			if err != nil {
				return err
			}

			if jsonOut {
				return printJSON(report)
			}
			for _, p := range report.Projects {
				line := fmt.Sprintf("%s: %s", p.Path, p.Classification)
				if p.Action != "" && p.Action != "none" {
					line += " (" + p.Action + ")"
				}
				for _, id := range p.ReapedRunners {
					line += fmt.Sprintf(" reaped=%s", id)
				}
				if p.Err != nil {
					line += fmt.Sprintf(" error=%v", p.Err)
				}
				fmt.Println(line)
			}
			return nil
		},
	}
	cmd.Flags().Bool("dry-run", false, "Report actions without starting or reaping anything")
	return cmd
}
