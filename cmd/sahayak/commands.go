package main

import (
	"strings"

	"github.com/spf13/cobra"
)

// buildRunCmd creates the "run" command that submits one task.
func buildRunCmd() *cobra.Command {
	var (
		idempotent bool
		asJSON     bool
		raw        bool
	)

	cmd := &cobra.Command{
		Use:   "run <task description>",
		Short: "Run a task in the current conversation",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTask(cmd, strings.Join(args, " "), idempotent, asJSON, raw)
		},
	}

	cmd.Flags().BoolVar(&idempotent, "idempotent", false,
		"Allow resending after a transport failure (only for tasks that are safe to repeat)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full result as JSON")
	cmd.Flags().BoolVar(&raw, "raw", false, "Print the remote's full text instead of the summary")

	return cmd
}

// buildResetCmd creates the "reset" command that forgets the session.
func buildResetCmd() *cobra.Command {
	var remote bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Start the conversation over with a new session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReset(cmd, remote)
		},
	}

	cmd.Flags().BoolVar(&remote, "remote", false, "Also delete the session on the remote")

	return cmd
}

// buildSessionCmd creates the "session" command group.
func buildSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect and manage remote sessions",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Show the conversation's session and its remote state",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runSessionShow(cmd)
			},
		},
		&cobra.Command{
			Use:   "delete",
			Short: "Delete the conversation's session on the remote and forget it",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runReset(cmd, true)
			},
		},
		&cobra.Command{
			Use:   "messages",
			Short: "Print the remote transcript of the conversation's session",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runSessionMessages(cmd)
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List stored conversation bindings",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runSessionList(cmd)
			},
		},
	)
	return cmd
}

// buildHealthCmd creates the "health" command.
func buildHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the Computer Use API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealth(cmd)
		},
	}
}

// buildScreensCmd creates the "screens" command.
func buildScreensCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "screens",
		Short: "List displays on the remote machine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScreens(cmd)
		},
	}
}

// buildServeCmd creates the "serve" command that runs the HTTP gateway.
func buildServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve conversations over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides config)")

	return cmd
}
