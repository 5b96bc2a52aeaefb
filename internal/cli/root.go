// Package cli implements the steroids command-line interface.
package cli

import (
	"github.com/spf13/cobra"
)

var (
	projectFlag string
	verbose     bool
	jsonOut     bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "steroids",
	Short: "Autonomous coder/reviewer task orchestrator",
	Long: `steroids drives software-development work items through a two-role AI
loop (coder then reviewer) until each item is approved, disputed, or
abandoned.

Quick start:
  steroids init                     Initialize steroids in current project
  steroids sections add "Core"      Create a section
  steroids tasks add "Fix login"    Queue a work item
  steroids runners start            Run the task loop
  steroids health                   Run the stuck-task detector
  steroids serve                    Start the observer API`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&projectFlag, "project", "p", ".", "project directory")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output as JSON")

	rootCmd.AddCommand(newInitCmd())
	rootCmd.AddCommand(newRunnersCmd())
	rootCmd.AddCommand(newWakeupCmd())
	rootCmd.AddCommand(newHealthCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newSectionsCmd())
	rootCmd.AddCommand(newTasksCmd())
	rootCmd.AddCommand(newCleanupCmd())
	rootCmd.AddCommand(newVersionCmd())
}
