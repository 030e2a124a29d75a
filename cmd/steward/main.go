// Package main provides the CLI entry point for the Steward assistant
// gateway.
//
// Steward resolves per-user agent definitions, connects MCP tool servers
// with vault-held credentials, runs agents inline or in the background, and
// fires cron schedules against them.
//
// Basic usage:
//
//	steward serve --config steward.yaml
//	steward seed --config steward.yaml
//	steward schedules list --user alice
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	root := &cobra.Command{
		Use:           "steward",
		Short:         "Steward multi-user assistant gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		buildServeCmd(),
		buildSeedCmd(),
		buildSchedulesCmd(),
		buildAgentsCmd(),
		buildServiceCmd(),
		buildVersionCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("steward %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
