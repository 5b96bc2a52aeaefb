package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/UnlikeOtherAI/steroids-cli-sub006/internal/retention"
)

// newCleanupCmd creates the cleanup command
func newCleanupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove expired logs and backups",
		Long: `Sweep the project's .steroids tree: invocation and text logs past the
log retention window, and recognized backup snapshots past the backup
retention floor. Unrecognized names are never touched.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logDays, _ := cmd.Flags().GetInt("log-days")
			backupDays, _ := cmd.Flags().GetInt("backup-days")

			logger := newLogger()
			path, err := projectDir()
			if err != nil {
				return err
			}

			policy := retention.DefaultPolicy()
			if logDays > 0 {
				policy.LogRetention = time.Duration(logDays) * 24 * time.Hour
			}
			if backupDays > 0 {
				policy.BackupRetention = time.Duration(backupDays) * 24 * time.Hour
			}

			s := retention.NewSweeper(path,
				retention.WithPolicy(policy),
				retention.WithLogger(logger))

			logs, err := s.SweepLogs()
			if err != nil {
				return err
			}
			backups, err := s.SweepBackups()
			if err != nil {
				return err
			}
			fmt.Printf("removed %d expired logs, %d expired backups\n", len(logs), len(backups))
			return nil
		},
	}
	cmd.Flags().Int("log-days", 0, "Log retention in days (default 7)")
	cmd.Flags().Int("backup-days", 0, "Backup retention floor in days (default 30)")
	return cmd
}
