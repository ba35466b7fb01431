// =============================================================================
// NAMESPACES COMMAND - DEDUPLICATION POLICY MANAGEMENT
// =============================================================================
//
// Deduplication policy resolves in two levels:
//   1. Namespace override (set here, survives restarts)
//   2. Broker-wide default (brokerDeduplicationEnabled in the config file)
//
// set-deduplication writes an override; remove-deduplication deletes it so
// the namespace follows the broker default again. Changes take effect on
// the next publish, no restart needed.
//
// =============================================================================

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/craigjames2/pulsar/internal/cli"
)

var (
	dedupEnableFlag  bool
	dedupDisableFlag bool
)

var namespacesCmd = &cobra.Command{
	Use:   "namespaces",
	Short: "Manage namespace deduplication policy",
}

var namespacesGetDedupCmd = &cobra.Command{
	Use:   "get-deduplication NAMESPACE",
	Short: "Show the effective deduplication policy for a namespace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()

		policy, err := client.GetNamespaceDeduplication(ctx, args[0])
		if err != nil {
			return err
		}
		return formatter.FormatDedupPolicy(policy)
	},
}

var namespacesSetDedupCmd = &cobra.Command{
	Use:   "set-deduplication NAMESPACE",
	Short: "Set the deduplication override for a namespace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if dedupEnableFlag == dedupDisableFlag {
			return fmt.Errorf("exactly one of --enable or --disable is required")
		}

		ctx, cancel := commandContext()
		defer cancel()

		policy, err := client.SetNamespaceDeduplication(ctx, args[0], dedupEnableFlag)
		if err != nil {
			return err
		}
		cli.PrintSuccess("Deduplication for namespace %s set to %v", policy.Namespace, policy.Enabled)
		return nil
	},
}

var namespacesRemoveDedupCmd = &cobra.Command{
	Use:   "remove-deduplication NAMESPACE",
	Short: "Remove the override, reverting to the broker default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()

		policy, err := client.ClearNamespaceDeduplication(ctx, args[0])
		if err != nil {
			return err
		}
		cli.PrintSuccess("Namespace %s now follows the broker default (%v)", policy.Namespace, policy.Enabled)
		return nil
	},
}

func init() {
	namespacesSetDedupCmd.Flags().BoolVar(&dedupEnableFlag, "enable", false,
		"Enable deduplication")
	namespacesSetDedupCmd.Flags().BoolVar(&dedupDisableFlag, "disable", false,
		"Disable deduplication")

	namespacesCmd.AddCommand(namespacesGetDedupCmd)
	namespacesCmd.AddCommand(namespacesSetDedupCmd)
	namespacesCmd.AddCommand(namespacesRemoveDedupCmd)
}
