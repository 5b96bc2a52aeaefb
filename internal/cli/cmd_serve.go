package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/UnlikeOtherAI/steroids-cli-sub006/internal/api"
	"github.com/UnlikeOtherAI/steroids-cli-sub006/internal/config"
)

// newServeCmd creates the serve command
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the read-only observer API",
		Long: `Serve the HTTP observer endpoints (/health, /incidents, /runners,
/projects/storage) and the /events websocket stream. The server only
reads the stores; runners and wakeup do all mutation.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			logger := newLogger()

			path, err := projectDir()
			if err != nil {
				return err
			}
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
			}

			global := degradedGlobal(logger)
			if global != nil {
				defer func() { _ = global.Close() }()
			}

			server := api.New(addr, global,
				api.WithLogger(logger),
				api.WithHealthConfig(healthConfigFrom(cfg)))

			ctx, cancel := setupSignalHandler()
			defer cancel()
			return server.StartContext(ctx)
		},
	}
	cmd.Flags().String("addr", "", "Listen address (default from config, 127.0.0.1:7433)")
	return cmd
}
