package cli

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// Version is the release version, overridden at build time with
// -ldflags "-X .../internal/cli.Version=v1.2.3".
var Version = "dev"

// newVersionCmd creates the version command
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the steroids version",
		RunE: func(cmd *cobra.Command, args []string) error {
			v := Version
			if v == "dev" {
				if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
					v = info.Main.Version
				}
			}
			if jsonOut {
				return printJSON(map[string]string{"version": v})
			}
			fmt.Println("steroids", v)
			return nil
		},
	}
}
