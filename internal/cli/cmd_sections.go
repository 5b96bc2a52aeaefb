package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/UnlikeOtherAI/steroids-cli-sub006/internal/db"
)

// newSectionsCmd creates the sections command group
func newSectionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sections",
		Short: "Manage sections (named task groups with priorities and dependencies)",
	}
	cmd.AddCommand(newSectionsAddCmd())
	cmd.AddCommand(newSectionsDepsCmd())
	cmd.AddCommand(newSectionsListCmd())
	return cmd
}

func newSectionsAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Create a section",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			priorityRaw, _ := cmd.Flags().GetString("priority")
			position, _ := cmd.Flags().GetInt("position")
			skipped, _ := cmd.Flags().GetBool("skipped")

			newLogger()
			priority, err := parsePriority(priorityRaw)
			if err != nil {
				return err
			}

			path, err := projectDir()
			if err != nil {
				return err
			}
			project, err := requireInitialized(path)
			if err != nil {
				return err
			}
			defer func() { _ = project.Close() }()

			if existing, err := findSection(project, args[0]); err == nil {
				return fmt.Errorf("section %q already exists (%s)", existing.Name, existing.ID)
			}

			s := &db.Section{
				ID:       uuid.NewString(),
				Name:     args[0],
				Position: position,
				Priority: priority,
				Skipped:  skipped,
			}
			if err := project.SaveSection(s); err != nil {
				return err
			}
			fmt.Printf("created section %q (%s, priority %d)\n", s.Name, s.ID, s.Priority)
			return nil
		},
	}
	cmd.Flags().String("priority", "medium", "Priority: high, medium, low, or 0-100 (lower = more urgent)")
	cmd.Flags().Int("position", 0, "Ordering position within the project")
	cmd.Flags().Bool("skipped", false, "Create the section in skipped state")
	return cmd
}

func newSectionsDepsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deps <section> <depends-on>",
		Short: "Declare that one section depends on another",
		Long: `Add a dependency edge between two sections (by name or id). Tasks in
the dependent section stay ineligible until every task in the
prerequisite section reached a terminal state. Cycles are rejected.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
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

			from, err := findSection(project, args[0])
			if err != nil {
				return err
			}
			to, err := findSection(project, args[1])
			if err != nil {
				return err
			}

			if err := project.AddSectionDependency(from.ID, to.ID); err != nil {
				return err
			}
			fmt.Printf("%q now depends on %q\n", from.Name, to.Name)
			return nil
		},
	}
}

func newSectionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List sections with their dependencies",
		RunE: func(cmd *cobra.Command, args []string) error {
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

			sections, err := project.ListSections()
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(sections)
			}

			names := map[string]string{}
			for _, s := range sections {
				names[s.ID] = s.Name
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tPRIORITY\tPOSITION\tSKIPPED\tDEPENDS ON")
			for _, s := range sections {
				deps, err := project.SectionDependencies(s.ID)
				if err != nil {
					return err
				}
				depNames := ""
				for i, id := range deps {
					if i > 0 {
						depNames += ", "
					}
					depNames += names[id]
				}
				fmt.Fprintf(w, "%s\t%d\t%d\t%v\t%s\n", s.Name, s.Priority, s.Position, s.Skipped, depNames)
			}
			return w.Flush()
		},
	}
}

// findSection resolves a section by id or name.
func findSection(project *db.ProjectDB, ref string) (*db.Section, error) {
	if s, err := project.GetSection(ref); err == nil {
		return s, nil
	}
	sections, err := project.ListSections()
	if err != nil {
		return nil, err
	}
	for _, s := range sections {
		if s.Name == ref {
			return s, nil
		}
	}
	return nil, fmt.Errorf("section %q not found", ref)
}
