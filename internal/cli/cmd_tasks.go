package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/UnlikeOtherAI/steroids-cli-sub006/internal/db"
	"github.com/UnlikeOtherAI/steroids-cli-sub006/internal/task"
)

// newTasksCmd creates the tasks command group
func newTasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Manage work items",
	}
	cmd.AddCommand(newTasksAddCmd())
	cmd.AddCommand(newTasksListCmd())
	return cmd
}

func newTasksAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Queue a new work item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sectionRef, _ := cmd.Flags().GetString("section")
			id, _ := cmd.Flags().GetString("id")
			position, _ := cmd.Flags().GetInt("position")

			newLogger()
			path, err := projectDir()
			if err != nil {
				return err
			}
			project, err := requireInitialized(path)
			if err != nil {
				return err
			}
			defer func() { _ = project.Close() }()

			sectionID := ""
			if sectionRef != "" {
				s, err := findSection(project, sectionRef)
				if err != nil {
					return err
				}
				sectionID = s.ID
			}
			if id == "" {
				id = uuid.NewString()
			}
			if existing, err := project.GetTask(id); err == nil {
				return fmt.Errorf("task %s already exists (%q)", existing.ID, existing.Title)
			}

			t := &db.Task{
				ID:        id,
				Title:     args[0],
				Status:    string(task.StatusPending),
				SectionID: sectionID,
				Position:  position,
			}
			if err := project.SaveTask(t); err != nil {
				return err
			}
			fmt.Printf("queued task %s: %s\n", t.ID, t.Title)
			return nil
		},
	}
	cmd.Flags().String("section", "", "Section (name or id) the task belongs to")
	cmd.Flags().String("id", "", "Explicit task id (default: generated)")
	cmd.Flags().Int("position", 0, "Ordering position within the section")
	return cmd
}

func newTasksListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List work items",
		RunE: func(cmd *cobra.Command, args []string) error {
			statusFilter, _ := cmd.Flags().GetString("status")

			newLogger()
			path, err := projectDir()
			if err != nil {
				return err
			}
			project, err := requireInitialized(path)
			if err != nil {
				return err
			}
			defer func() { _ = project.Close() }()

			var tasks []*db.Task
			if statusFilter != "" {
				tasks, err = project.ListTasksByStatus(statusFilter)
			} else {
				tasks, err = project.ListTasks()
			}
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(tasks)
			}

			sectionNames := map[string]string{}
			if sections, err := project.ListSections(); err == nil {
				for _, s := range sections {
					sectionNames[s.ID] = s.Name
				}
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tREJECTIONS\tSECTION\tTITLE")
			for _, t := range tasks {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
					t.ID, colorStatus(t.Status), t.RejectionCount,
					sectionNames[t.SectionID], t.Title)
			}
			return w.Flush()
		},
	}
	cmd.Flags().String("status", "", "Filter by status (pending, in_progress, review, completed, skipped, failed)")
	return cmd
}
