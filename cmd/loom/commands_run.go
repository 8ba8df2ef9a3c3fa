package main

import (
	"github.com/spf13/cobra"
)

// buildRunCmd creates the "run" command that starts the runtime: every
// configured channel adapter, the provider, and the agent loop.
func buildRunCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the Loom agent runtime",
		Long: `Start the agent runtime with all configured channels and providers.

The process will:
1. Load and validate configuration from the specified file
2. Initialize storage, the event log, and the recovery checkpoint directory
3. Construct the configured provider and every enabled channel adapter
4. Start the agent loop and every channel adapter
5. Block until SIGINT/SIGTERM triggers a graceful shutdown

In-flight turns are allowed to finish their current checkpoint before the
process exits.`,
		Example: `  # Start with default config
  loom run

  # Start with a custom config path
  loom run --config /etc/loom/production.yaml

  # Start with debug logging
  loom run --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "loom.yaml", "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	return cmd
}
