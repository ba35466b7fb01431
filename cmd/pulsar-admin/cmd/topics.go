// =============================================================================
// TOPICS COMMAND - TOPIC LIFECYCLE AND DEDUP CURSOR INSPECTION
// =============================================================================

package cmd

import (
	"github.com/spf13/cobra"

	"github.com/craigjames2/pulsar/internal/cli"
)

var (
	topicNamespaceFlag  string
	topicPartitionsFlag int
	dedupPartitionFlag  int
	dedupCursorsFlag    bool
)

var topicsCmd = &cobra.Command{
	Use:   "topics",
	Short: "Manage topics",
	Long: `Manage topics: create, list, describe, delete, and inspect
per-partition deduplication cursors.`,
}

var topicsCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a topic",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()

		resp, err := client.CreateTopic(ctx, topicNamespaceFlag, args[0], topicPartitionsFlag)
		if err != nil {
			return err
		}
		cli.PrintSuccess("Created topic %s with %d partitions", resp.Topic, resp.Partitions)
		return nil
	},
}

var topicsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all topics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()

		resp, err := client.ListTopics(ctx)
		if err != nil {
			return err
		}
		return formatter.FormatTopics(resp.Topics)
	},
}

var topicsDescribeCmd = &cobra.Command{
	Use:   "describe NAME",
	Short: "Show topic details",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()

		info, err := client.DescribeTopic(ctx, topicNamespaceFlag, args[0])
		if err != nil {
			return err
		}
		return formatter.FormatTopicInfo(info)
	},
}

var topicsDeleteCmd = &cobra.Command{
	Use:   "delete NAME",
	Short: "Delete a topic and all its data",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()

		resp, err := client.DeleteTopic(ctx, topicNamespaceFlag, args[0])
		if err != nil {
			return err
		}
		cli.PrintSuccess("Deleted topic %s", resp.Topic)
		return nil
	},
}

var topicsDedupStatusCmd = &cobra.Command{
	Use:   "dedup-status NAME",
	Short: "Show a partition's deduplication cursors",
	Long: `Show whether deduplication currently applies to the topic's
namespace and how many producer identities the partition tracks.
With --cursors, lists each producer's highest sequence id, last
stored offset, and last activity time.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()

		status, err := client.GetDedupStatus(ctx, topicNamespaceFlag, args[0], dedupPartitionFlag, dedupCursorsFlag)
		if err != nil {
			return err
		}
		return formatter.FormatDedupStatus(status)
	},
}

func init() {
	topicsCmd.PersistentFlags().StringVar(&topicNamespaceFlag, "namespace", "default",
		"Namespace the topic belongs to")

	topicsCreateCmd.Flags().IntVar(&topicPartitionsFlag, "partitions", 3,
		"Number of partitions")

	topicsDedupStatusCmd.Flags().IntVar(&dedupPartitionFlag, "partition", 0,
		"Partition to inspect")
	topicsDedupStatusCmd.Flags().BoolVar(&dedupCursorsFlag, "cursors", false,
		"Include per-producer cursors")

	topicsCmd.AddCommand(topicsCreateCmd)
	topicsCmd.AddCommand(topicsListCmd)
	topicsCmd.AddCommand(topicsDescribeCmd)
	topicsCmd.AddCommand(topicsDeleteCmd)
	topicsCmd.AddCommand(topicsDedupStatusCmd)
}
