// =============================================================================
// BROKER CONFIGURATION - FILE FORMAT AND DEFAULTS
// =============================================================================
//
// The broker reads one YAML file at startup. Everything has a default, so
// an empty file (or no file at all) starts a working broker.
//
// CONFIG FILE FORMAT (broker.yaml):
//
//   dataDir: /var/lib/pulsar
//   apiAddress: ":8080"
//   logLevel: info
//
//   brokerDeduplicationEnabled: false
//   brokerDeduplicationMaxNumberOfProducers: 10000
//   brokerDeduplicationEntriesInterval: 1000
//   brokerDeduplicationProducerInactivityTimeoutMinutes: 360
//
//   metricsEnabled: true
//
// The deduplication keys control the broker-wide default and the cursor
// tracker tuning shared by every topic partition:
//
//   - brokerDeduplicationEnabled: default policy for namespaces without
//     an explicit override (admin API can override per namespace at
//     runtime without a restart)
//   - brokerDeduplicationMaxNumberOfProducers: cap on tracked producer
//     identities per partition
//   - brokerDeduplicationEntriesInterval: accepted messages between
//     cursor snapshots (smaller = faster recovery, more snapshot writes)
//   - brokerDeduplicationProducerInactivityTimeoutMinutes: idle time
//     after which a producer's cursor is dropped
//
// =============================================================================

package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// CONFIGURATION STRUCTURE
// =============================================================================

// BrokerConfig is the broker's file-backed configuration.
type BrokerConfig struct {
	// DataDir is the root directory for logs, cursor snapshots, and
	// namespace policies.
	DataDir string `yaml:"dataDir"`

	// NodeID identifies this broker instance. Empty = random UUID.
	NodeID string `yaml:"nodeId,omitempty"`

	// APIAddress is the listen address for the HTTP API.
	APIAddress string `yaml:"apiAddress"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"logLevel"`

	// DeduplicationEnabled is the broker-wide deduplication default.
	DeduplicationEnabled bool `yaml:"brokerDeduplicationEnabled"`

	// DeduplicationMaxNumberOfProducers caps tracked producer identities
	// per partition.
	DeduplicationMaxNumberOfProducers int `yaml:"brokerDeduplicationMaxNumberOfProducers"`

	// DeduplicationEntriesInterval is the number of accepted messages
	// between cursor snapshots.
	DeduplicationEntriesInterval int `yaml:"brokerDeduplicationEntriesInterval"`

	// DeduplicationProducerInactivityTimeoutMinutes is how long a
	// producer cursor may sit idle before eviction.
	DeduplicationProducerInactivityTimeoutMinutes int `yaml:"brokerDeduplicationProducerInactivityTimeoutMinutes"`

	// EvictionSweepIntervalSeconds is how often the broker scans for
	// idle producer cursors.
	EvictionSweepIntervalSeconds int `yaml:"evictionSweepIntervalSeconds"`

	// MetricsEnabled controls the Prometheus registry.
	MetricsEnabled bool `yaml:"metricsEnabled"`
}

// DefaultBrokerConfig returns the defaults used when keys (or the whole
// file) are absent.
func DefaultBrokerConfig() BrokerConfig {
	return BrokerConfig{
		DataDir:                           "./data",
		APIAddress:                        ":8080",
		LogLevel:                          "info",
		DeduplicationEnabled:              false,
		DeduplicationMaxNumberOfProducers: 10000,
		DeduplicationEntriesInterval:      1000,
		DeduplicationProducerInactivityTimeoutMinutes: 360,
		EvictionSweepIntervalSeconds:                  60,
		MetricsEnabled:                                true,
	}
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads a broker configuration file, applying defaults for missing
// keys. A missing file is not an error: the defaults are returned.
func Load(path string) (BrokerConfig, error) {
	cfg := DefaultBrokerConfig()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// =============================================================================
// DERIVED VALUES
// =============================================================================

// SlogLevel maps the textual log level to a slog.Level.
func (c BrokerConfig) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// InactivityTimeout returns the producer inactivity timeout as a duration.
func (c BrokerConfig) InactivityTimeout() time.Duration {
	return time.Duration(c.DeduplicationProducerInactivityTimeoutMinutes) * time.Minute
}

// EvictionSweepInterval returns the sweep interval as a duration.
func (c BrokerConfig) EvictionSweepInterval() time.Duration {
	return time.Duration(c.EvictionSweepIntervalSeconds) * time.Second
}
