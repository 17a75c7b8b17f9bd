// Package main provides the sahayak CLI, which relays natural-language tasks
// to a Computer Use API that drives a real desktop.
//
// # Basic Usage
//
// Run a task, continuing the conversation's session:
//
//	sahayak run "Open WhatsApp and send hi to Mom"
//
// Start over with a fresh session:
//
//	sahayak reset --remote
//
// Expose conversations over HTTP:
//
//	sahayak serve --config sahayak.yaml
//
// # Environment Variables
//
//   - SAHAYAK_CONFIG: Path to configuration file
//   - SAHAYAK_ENDPOINT: Computer Use API base URL (default: http://localhost:7888)
//   - SAHAYAK_SESSION_STORE: "memory" or "redis"
//   - REDIS_HOST, REDIS_PORT, REDIS_PASSWORD: Redis connection for the session store
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Global flags shared by every command
var (
	configPath     string
	conversationID string
	logLevel       string
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "sahayak",
		Short: "Sahayak - send tasks to a Computer Use agent",
		Long: `Sahayak sends natural-language tasks to a Computer Use API that performs
them on a real desktop, and keeps one remote session per conversation so
follow-up tasks share context.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("SAHAYAK_CONFIG"),
		"Path to YAML configuration file (optional)")
	rootCmd.PersistentFlags().StringVar(&conversationID, "conversation", "default",
		"Conversation whose session binding is used")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Override the configured log level")

	rootCmd.AddCommand(
		buildRunCmd(),
		buildResetCmd(),
		buildSessionCmd(),
		buildHealthCmd(),
		buildScreensCmd(),
		buildServeCmd(),
	)

	return rootCmd
}
