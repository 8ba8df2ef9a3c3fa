// Package main provides the CLI entry point for the Loom agent runtime.
//
// Loom connects messaging platforms (Discord, Telegram, Slack) to LLM
// providers (Anthropic, OpenAI, Bedrock) through a single agent loop that
// persists conversation history, executes tools under a policy engine, and
// checkpoints every run so an interrupted turn can be resumed.
//
// # Basic Usage
//
// Start the runtime:
//
//	loom run --config loom.yaml
//
// # Environment Variables
//
// Secrets referenced from the config file as ${VAR} are resolved against
// the process environment before the YAML is parsed, so credentials never
// need to live in the file itself:
//
//   - ANTHROPIC_API_KEY, OPENAI_API_KEY
//   - DISCORD_BOT_TOKEN, TELEGRAM_BOT_TOKEN, SLACK_BOT_TOKEN, SLACK_APP_TOKEN
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// errInterrupted signals that the process exited because of a shutdown
// signal rather than a fatal error, so main can map it to exit code 130
// instead of 1.
var errInterrupted = errors.New("interrupted")

func main() {
	os.Exit(run())
}

func run() int {
	rootCmd := buildRootCmd()
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		if errors.Is(err, errInterrupted) {
			return 130
		}
		fmt.Fprintln(os.Stderr, "loom:", err)
		return 1
	}
	return 0
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "loom",
		Short: "Loom - multi-channel agent runtime",
		Long: `Loom connects messaging platforms to LLM providers with tool execution.

Supported channels: Discord, Telegram, Slack
Supported providers: Anthropic, OpenAI, Bedrock`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.AddCommand(buildRunCmd())
	return rootCmd
}
