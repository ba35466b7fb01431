// =============================================================================
// CONFIGURATION TESTS
// =============================================================================

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "broker.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	want := DefaultBrokerConfig()
	if cfg != want {
		t.Errorf("Load() = %+v, want defaults %+v", cfg, want)
	}
	if cfg.DeduplicationEnabled {
		t.Error("deduplication default = true, want false")
	}
	if cfg.DeduplicationMaxNumberOfProducers != 10000 {
		t.Errorf("max producers default = %d, want 10000", cfg.DeduplicationMaxNumberOfProducers)
	}
	if cfg.DeduplicationEntriesInterval != 1000 {
		t.Errorf("entries interval default = %d, want 1000", cfg.DeduplicationEntriesInterval)
	}
	if cfg.DeduplicationProducerInactivityTimeoutMinutes != 360 {
		t.Errorf("inactivity timeout default = %d, want 360", cfg.DeduplicationProducerInactivityTimeoutMinutes)
	}
}

func TestLoad_ParsesDeduplicationKeys(t *testing.T) {
	path := writeConfig(t, `
dataDir: /tmp/pulsar-data
apiAddress: ":9090"
logLevel: debug
brokerDeduplicationEnabled: true
brokerDeduplicationMaxNumberOfProducers: 500
brokerDeduplicationEntriesInterval: 50
brokerDeduplicationProducerInactivityTimeoutMinutes: 15
evictionSweepIntervalSeconds: 5
metricsEnabled: false
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.DataDir != "/tmp/pulsar-data" {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
	if cfg.APIAddress != ":9090" {
		t.Errorf("APIAddress = %q", cfg.APIAddress)
	}
	if !cfg.DeduplicationEnabled {
		t.Error("DeduplicationEnabled = false, want true")
	}
	if cfg.DeduplicationMaxNumberOfProducers != 500 {
		t.Errorf("DeduplicationMaxNumberOfProducers = %d, want 500", cfg.DeduplicationMaxNumberOfProducers)
	}
	if cfg.DeduplicationEntriesInterval != 50 {
		t.Errorf("DeduplicationEntriesInterval = %d, want 50", cfg.DeduplicationEntriesInterval)
	}
	if cfg.DeduplicationProducerInactivityTimeoutMinutes != 15 {
		t.Errorf("DeduplicationProducerInactivityTimeoutMinutes = %d, want 15", cfg.DeduplicationProducerInactivityTimeoutMinutes)
	}
	if cfg.MetricsEnabled {
		t.Error("MetricsEnabled = true, want false")
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	// Only one key set: everything else stays at its default.

	path := writeConfig(t, "brokerDeduplicationEnabled: true\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.DeduplicationEnabled {
		t.Error("DeduplicationEnabled = false, want true")
	}
	if cfg.DeduplicationMaxNumberOfProducers != 10000 {
		t.Errorf("max producers = %d, want default 10000", cfg.DeduplicationMaxNumberOfProducers)
	}
	if cfg.APIAddress != ":8080" {
		t.Errorf("APIAddress = %q, want default :8080", cfg.APIAddress)
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := writeConfig(t, "dataDir: [not: closed\n")

	if _, err := Load(path); err == nil {
		t.Error("Load() of malformed YAML: want error, got nil")
	}
}

func TestDerivedValues(t *testing.T) {
	cfg := DefaultBrokerConfig()

	if got := cfg.InactivityTimeout(); got != 6*time.Hour {
		t.Errorf("InactivityTimeout() = %v, want 6h", got)
	}
	if got := cfg.EvictionSweepInterval(); got != time.Minute {
		t.Errorf("EvictionSweepInterval() = %v, want 1m", got)
	}

	levels := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"bizarre": slog.LevelInfo, // unknown falls back to info
	}
	for name, want := range levels {
		cfg.LogLevel = name
		if got := cfg.SlogLevel(); got != want {
			t.Errorf("SlogLevel(%q) = %v, want %v", name, got, want)
		}
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestValidate_DefaultsAreValid(t *testing.T) {
	cfg := DefaultBrokerConfig()
	cfg.DataDir = t.TempDir()

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() of defaults error = %v", err)
	}
}

func TestValidate_AccumulatesAllErrors(t *testing.T) {
	// One pass should report every problem, not just the first.

	cfg := BrokerConfig{
		DataDir:                           "",
		NodeID:                            "has space",
		APIAddress:                        "no-port",
		LogLevel:                          "loud",
		DeduplicationMaxNumberOfProducers: 0,
		DeduplicationEntriesInterval:      -1,
		DeduplicationProducerInactivityTimeoutMinutes: 0,
		EvictionSweepIntervalSeconds:                  -5,
	}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil, want errors")
	}
	verr, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("Validate() returned %T, want *ValidationError", err)
	}
	if len(verr.Errors) != 8 {
		t.Errorf("Validate() found %d errors, want 8:\n%s", len(verr.Errors), err)
	}

	// The dedup knobs must be called out by their config key names.
	msg := err.Error()
	for _, key := range []string{
		"brokerDeduplicationMaxNumberOfProducers",
		"brokerDeduplicationEntriesInterval",
		"brokerDeduplicationProducerInactivityTimeoutMinutes",
	} {
		if !strings.Contains(msg, key) {
			t.Errorf("validation message missing %q", key)
		}
	}
}

func TestValidate_DedupKnobsRequiredEvenWhenDisabled(t *testing.T) {
	// Namespaces can enable dedup at runtime, so zero knobs are rejected
	// even with the broker default off.

	cfg := DefaultBrokerConfig()
	cfg.DataDir = t.TempDir()
	cfg.DeduplicationEnabled = false
	cfg.DeduplicationEntriesInterval = 0

	if err := cfg.Validate(); err == nil {
		t.Error("Validate() accepted a zero snapshot interval")
	}
}

func TestValidate_DataDirNotADirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "occupied")
	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	cfg := DefaultBrokerConfig()
	cfg.DataDir = file

	if err := cfg.Validate(); err == nil {
		t.Error("Validate() accepted a file as dataDir")
	}
}

func TestValidate_SingleErrorMessage(t *testing.T) {
	cfg := DefaultBrokerConfig()
	cfg.DataDir = t.TempDir()
	cfg.LogLevel = "loud"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil, want error")
	}
	if strings.Count(err.Error(), "\n") != 0 {
		t.Errorf("single-error message should be one line, got:\n%s", err.Error())
	}
}
