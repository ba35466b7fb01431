// =============================================================================
// PULSARD - BROKER DAEMON ENTRY POINT
// =============================================================================
//
// Startup sequence:
//  1. Load and validate configuration (flag > env > file > defaults)
//  2. Initialize Prometheus metrics
//  3. Start broker (recovers logs and deduplication cursors from disk)
//  4. Start HTTP API
//  5. Wait for SIGINT/SIGTERM, then shut down gracefully
//
// =============================================================================

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/craigjames2/pulsar/internal/api"
	"github.com/craigjames2/pulsar/internal/broker"
	"github.com/craigjames2/pulsar/internal/config"
	"github.com/craigjames2/pulsar/internal/metrics"
)

func main() {
	configPath := flag.String("config", "", "path to broker config file (YAML)")
	flag.Parse()

	// Flag > env > default for the config file location.
	path := *configPath
	if path == "" {
		path = os.Getenv("PULSAR_BROKER_CONFIG")
	}

	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if dataDir := os.Getenv("PULSAR_BROKER_DATADIR"); dataDir != "" {
		cfg.DataDir = dataDir
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("%v", err)
	}

	// Metrics come up before the broker so recovery is instrumented.
	if cfg.MetricsEnabled {
		metricsConfig := metrics.DefaultConfig()
		metricsConfig.IncludeGoCollector = true
		metricsConfig.IncludeProcessCollector = true
		metrics.Init(metricsConfig)
	}

	b, err := broker.NewBroker(broker.BrokerConfig{
		DataDir:              cfg.DataDir,
		NodeID:               cfg.NodeID,
		LogLevel:             cfg.SlogLevel(),
		DeduplicationEnabled: cfg.DeduplicationEnabled,
		Dedup: broker.DedupConfig{
			MaxProducers:      cfg.DeduplicationMaxNumberOfProducers,
			EntriesInterval:   cfg.DeduplicationEntriesInterval,
			InactivityTimeout: cfg.InactivityTimeout(),
		},
		EvictionSweepInterval: cfg.EvictionSweepInterval(),
	})
	if err != nil {
		log.Fatalf("Failed to start broker: %v", err)
	}

	serverConfig := api.DefaultServerConfig()
	serverConfig.Addr = cfg.APIAddress
	server := api.NewServer(b, serverConfig)
	if err := server.Start(); err != nil {
		b.Close()
		log.Fatalf("Failed to start API server: %v", err)
	}

	fmt.Printf("pulsard running (node %s, api %s, data %s)\n",
		b.NodeID(), cfg.APIAddress, cfg.DataDir)

	// Block until shutdown signal.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	fmt.Printf("received %s, shutting down\n", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		log.Printf("API shutdown error: %v", err)
	}
	if err := b.Close(); err != nil {
		log.Printf("Broker shutdown error: %v", err)
	}
}
