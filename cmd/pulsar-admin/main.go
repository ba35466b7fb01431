// =============================================================================
// PULSAR-ADMIN CLI - BROKER MANAGEMENT TOOL
// =============================================================================
//
// WHAT IS THIS?
// A command-line interface for operating the broker over its HTTP API:
// topics, namespace deduplication policy, publish/consume for testing, and
// broker statistics.
//
// COMMANDS:
//   pulsar-admin topics       Manage topics and inspect dedup cursors
//   pulsar-admin namespaces   Manage namespace deduplication policy
//   pulsar-admin produce      Publish messages (with producer identity)
//   pulsar-admin consume      Read messages from a partition
//   pulsar-admin stats        Broker statistics
//   pulsar-admin health       Health check
//   pulsar-admin version      Show version information
//
// USAGE EXAMPLES:
//   # Create a topic in a namespace
//   pulsar-admin topics create payments --namespace orders --partitions 3
//
//   # Enable deduplication for a namespace
//   pulsar-admin namespaces set-deduplication orders --enable
//
//   # Publish with a producer identity (retry-safe)
//   pulsar-admin produce orders/payments --producer billing-7 --sequence 42 "charge #42"
//
//   # Inspect a partition's cursors
//   pulsar-admin topics dedup-status payments --namespace orders --partition 0 --cursors
//
// =============================================================================

package main

import (
	"fmt"
	"os"

	"github.com/craigjames2/pulsar/cmd/pulsar-admin/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
