package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
)

// =============================================================================
// CONFIG VALIDATION MODULE
// =============================================================================
//
// WHY VALIDATE CONFIG AT STARTUP?
//
//   Bad config is the #1 cause of production outages. Catching it at startup
//   (fail-fast) is MUCH better than discovering it at 3 AM.
//
//   FAIL-FAST: Bad config -> immediate, clear error -> fix before traffic hits
//   FAIL-LAZY: Bad config -> broker starts -> first publish fails -> pages on-call
//
//   PATTERN: ACCUMULATE ERRORS
//   We collect ALL validation errors and return them together so the operator
//   can fix everything in one pass instead of playing whack-a-mole.
//
//   The deduplication knobs get special attention: a zero producer cap or a
//   zero snapshot interval would silently disable durability guarantees, so
//   both are startup errors rather than runtime surprises.
//
// =============================================================================

// ValidationError holds one or more configuration validation failures.
type ValidationError struct {
	Errors []string
}

// Error implements the error interface.
// Formats all validation errors as a numbered list for readability.
func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0])
	}

	var b strings.Builder
	b.WriteString("configuration validation failed:\n")
	for i, err := range e.Errors {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, err)
	}
	return b.String()
}

// Validate checks the configuration for common mistakes.
// Returns nil if valid, or a *ValidationError with all problems found.
func (c BrokerConfig) Validate() error {
	var errs []string

	// DataDir: where logs, cursor snapshots, and policies live
	if c.DataDir == "" {
		errs = append(errs, "dataDir: must not be empty")
	} else {
		errs = append(errs, validateDataDir(c.DataDir)...)
	}

	if c.NodeID != "" && strings.ContainsAny(c.NodeID, " \t\n\r") {
		errs = append(errs, "nodeId: must not contain whitespace")
	}

	if c.APIAddress == "" {
		errs = append(errs, "apiAddress: must not be empty")
	} else if err := validateAddress(c.APIAddress); err != nil {
		errs = append(errs, fmt.Sprintf("apiAddress: invalid: %v", err))
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("logLevel: must be one of debug, info, warn, error; got %q", c.LogLevel))
	}

	// Deduplication knobs: the cap and interval must be positive even
	// when the broker-wide default is off, because any namespace can
	// enable deduplication at runtime.
	if c.DeduplicationMaxNumberOfProducers <= 0 {
		errs = append(errs, fmt.Sprintf("brokerDeduplicationMaxNumberOfProducers: must be > 0, got %d", c.DeduplicationMaxNumberOfProducers))
	}
	if c.DeduplicationEntriesInterval <= 0 {
		errs = append(errs, fmt.Sprintf("brokerDeduplicationEntriesInterval: must be > 0, got %d", c.DeduplicationEntriesInterval))
	}
	if c.DeduplicationProducerInactivityTimeoutMinutes <= 0 {
		errs = append(errs, fmt.Sprintf("brokerDeduplicationProducerInactivityTimeoutMinutes: must be > 0, got %d", c.DeduplicationProducerInactivityTimeoutMinutes))
	}
	if c.EvictionSweepIntervalSeconds < 0 {
		errs = append(errs, fmt.Sprintf("evictionSweepIntervalSeconds: must be >= 0, got %d", c.EvictionSweepIntervalSeconds))
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

// validateDataDir checks that the data directory is usable.
func validateDataDir(dir string) []string {
	var errs []string

	absDir, err := filepath.Abs(dir)
	if err != nil {
		errs = append(errs, fmt.Sprintf("dataDir: cannot resolve path %q: %v", dir, err))
		return errs
	}

	info, err := os.Stat(absDir)
	if err == nil {
		if !info.IsDir() {
			errs = append(errs, fmt.Sprintf("dataDir: %q exists but is not a directory", absDir))
		}
		return errs
	}

	if !os.IsNotExist(err) {
		errs = append(errs, fmt.Sprintf("dataDir: cannot access %q: %v", absDir, err))
		return errs
	}

	// Directory doesn't exist -- check if parent is accessible
	parent := filepath.Dir(absDir)
	if _, err := os.Stat(parent); err != nil {
		errs = append(errs, fmt.Sprintf("dataDir: %q does not exist and parent %q is not accessible: %v", absDir, parent, err))
	}

	return errs
}

// validateAddress checks that a string is a valid host:port or :port address.
func validateAddress(addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("must be host:port format: %w", err)
	}
	if port == "" {
		return fmt.Errorf("port must not be empty")
	}
	return nil
}
