// commands.go contains the cobra command definitions and their flag wiring.
package main

import (
	"github.com/spf13/cobra"
)

// buildServeCmd creates the "serve" command that runs the gateway.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway",
		Long: `Start the gateway: database, credential vault, tool bridges, agent
registry, scheduler, and the HTTP API. Agent templates are seeded from the
configured directory on startup.

Graceful shutdown is handled on SIGINT/SIGTERM.`,
		Example: `  # Start with default config
  steward serve

  # Start with custom config
  steward serve --config /etc/steward/production.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "",
		"Path to YAML configuration file (default $STEWARD_CONFIG)")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false,
		"Enable debug logging")
	return cmd
}

// buildSeedCmd creates the "seed" command that syncs agent templates once.
func buildSeedCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Sync agent templates from the agents directory",
		Long: `Read each agent directory, hash its definition files, and reconcile the
template table: new agents are inserted, changed agents get a version bump,
and instances still on the stock files are flagged for upgrade.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd.Context(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "",
		"Path to YAML configuration file (default $STEWARD_CONFIG)")
	return cmd
}

// buildSchedulesCmd creates the "schedules" command group.
func buildSchedulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedules",
		Short: "Inspect and reconcile cron schedules",
	}
	cmd.AddCommand(buildSchedulesListCmd(), buildSchedulesSyncCmd())
	return cmd
}

func buildSchedulesListCmd() *cobra.Command {
	var (
		configPath string
		user       string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a user's active schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchedulesList(cmd.Context(), configPath, user)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "",
		"Path to YAML configuration file (default $STEWARD_CONFIG)")
	cmd.Flags().StringVarP(&user, "user", "u", "", "User id")
	cmd.MarkFlagRequired("user")
	return cmd
}

func buildSchedulesSyncCmd() *cobra.Command {
	var (
		configPath string
		user       string
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile a user's schedules against agent heartbeat declarations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchedulesSync(cmd.Context(), configPath, user)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "",
		"Path to YAML configuration file (default $STEWARD_CONFIG)")
	cmd.Flags().StringVarP(&user, "user", "u", "", "User id")
	cmd.MarkFlagRequired("user")
	return cmd
}

// buildAgentsCmd creates the "agents" command group.
func buildAgentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "Inspect agent templates and instances",
	}
	cmd.AddCommand(buildAgentsListCmd())
	return cmd
}

func buildAgentsListCmd() *cobra.Command {
	var (
		configPath string
		user       string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the agents visible to a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgentsList(cmd.Context(), configPath, user)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "",
		"Path to YAML configuration file (default $STEWARD_CONFIG)")
	cmd.Flags().StringVarP(&user, "user", "u", "", "User id")
	cmd.MarkFlagRequired("user")
	return cmd
}

// buildServiceCmd creates the "service" command group.
func buildServiceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Manage service installation files",
	}
	cmd.AddCommand(buildServiceInstallCmd())
	return cmd
}

func buildServiceInstallCmd() *cobra.Command {
	var (
		configPath string
		overwrite  bool
	)

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install a user-level service file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServiceInstall(configPath, overwrite)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "",
		"Config path baked into the service file")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false,
		"Overwrite an existing service file")
	return cmd
}
