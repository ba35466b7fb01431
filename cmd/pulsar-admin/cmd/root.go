// =============================================================================
// ROOT COMMAND - ADMIN CLI ENTRY POINT
// =============================================================================
//
// GLOBAL FLAGS:
//   --server, -s    Server URL (default: http://localhost:8080)
//   --output, -o    Output format: table, json, yaml (default: table)
//   --timeout       Request timeout in seconds (default: 30)
//
// =============================================================================

package cmd

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/craigjames2/pulsar/internal/cli"
)

// =============================================================================
// GLOBAL STATE
// =============================================================================

var (
	// Global flags
	serverFlag  string
	outputFlag  string
	timeoutFlag int

	// Shared instances
	client    *cli.Client
	formatter *cli.Formatter
)

// =============================================================================
// ROOT COMMAND
// =============================================================================

var rootCmd = &cobra.Command{
	Use:   "pulsar-admin",
	Short: "Admin CLI for broker, topic, and deduplication management",
	Long: `pulsar-admin - Administrative interface for the broker.

This CLI manages the broker over its HTTP API:
  • Topic lifecycle (create, describe, delete)
  • Namespace deduplication policy (enable, disable, reset to default)
  • Per-partition deduplication cursor inspection
  • Test publishing with producer identities and sequence ids
  • Broker statistics and health

Use "pulsar-admin [command] --help" for more information about a command.`,
	PersistentPreRunE: initializeClient,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&serverFlag, "server", "s", "",
		"Server URL (env: PULSAR_ADMIN_SERVER)")
	rootCmd.PersistentFlags().StringVarP(&outputFlag, "output", "o", "table",
		"Output format: table, json, yaml")
	rootCmd.PersistentFlags().IntVar(&timeoutFlag, "timeout", 30,
		"Request timeout in seconds")

	rootCmd.AddCommand(topicsCmd)
	rootCmd.AddCommand(namespacesCmd)
	rootCmd.AddCommand(produceCmd)
	rootCmd.AddCommand(consumeCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(versionCmd)
}

// initializeClient sets up the HTTP client before command execution.
func initializeClient(cmd *cobra.Command, args []string) error {
	if cmd.Name() == "version" {
		return nil
	}

	// flag > env > default
	server := serverFlag
	if server == "" {
		server = os.Getenv("PULSAR_ADMIN_SERVER")
	}
	if server == "" {
		server = "http://localhost:8080"
	}

	client = cli.NewClient(cli.ClientConfig{
		ServerURL: server,
		Timeout:   time.Duration(timeoutFlag) * time.Second,
	})

	outputFormat, err := cli.ParseOutputFormat(outputFlag)
	if err != nil {
		return err
	}
	formatter = cli.NewFormatter(outputFormat)

	return nil
}

// commandContext returns the context for one CLI request.
func commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), time.Duration(timeoutFlag)*time.Second)
}

// =============================================================================
// STATS & HEALTH
// =============================================================================

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show broker statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()

		stats, err := client.GetStats(ctx)
		if err != nil {
			return err
		}
		return formatter.FormatBrokerStats(stats)
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check broker health",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()

		health, err := client.Health(ctx)
		if err != nil {
			return err
		}
		return formatter.FormatHealth(health)
	},
}
