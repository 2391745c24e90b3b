package main

import (
	"github.com/spf13/cobra"

	"github.com/hfstack/ai-web-studio/internal/config"
)

// options holds flag overrides for the environment configuration.
type options struct {
	listenAddr   string
	databasePath string
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "studio",
		Short: "Browser-accessible terminal sessions and dev-server processes",
		Long: `studio serves interactive shell sessions over a websocket and runs
detached commands, such as dev servers, on behalf of a port.

Without a subcommand it runs the server.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.listenAddr, "listen", "", "HTTP listen address (overrides STUDIO_LISTEN_ADDR)")
	root.PersistentFlags().StringVar(&opts.databasePath, "db", "", "SQLite database path (overrides STUDIO_DATABASE_PATH)")

	root.AddCommand(newServeCmd(opts))
	root.AddCommand(newProcessesCmd(opts))
	return root
}

// loadSettings reads the environment and applies flag overrides.
func loadSettings(opts *options) (*config.Settings, error) {
	settings, err := config.Load()
	if err != nil {
		return nil, err
	}
	if opts.listenAddr != "" {
		settings.ListenAddr = opts.listenAddr
	}
	if opts.databasePath != "" {
		settings.DatabasePath = opts.databasePath
	}
	return settings, nil
}
