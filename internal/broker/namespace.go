// =============================================================================
// NAMESPACE POLICIES - PER-NAMESPACE DEDUPLICATION OVERRIDE
// =============================================================================
//
// WHAT IS A NAMESPACE?
// An administrative grouping of topics sharing policy settings. A topic
// named "orders/payments" lives in namespace "orders"; a topic with no
// namespace segment lives in "default".
//
// POLICY RESOLUTION (two-level lookup):
//
//   1. Explicit per-namespace override (set dynamically by an operator)
//   2. Broker-wide default (brokerDeduplicationEnabled, captured at startup)
//
// The broker default is immutable for the process lifetime - overrides are
// the dynamic layer, not mutation of a global. Absence of an override is
// not an error, it simply means "use the default".
//
// Overrides persist to a YAML file under the data directory so operator
// decisions survive broker restarts.
//
// =============================================================================

package broker

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// DefaultNamespace is where topics without a namespace segment live.
const DefaultNamespace = "default"

// NamespaceOf extracts the namespace from a topic name.
// "orders/payments" → "orders"; "payments" → "default".
func NamespaceOf(topic string) string {
	if i := strings.LastIndex(topic, "/"); i > 0 {
		return topic[:i]
	}
	return DefaultNamespace
}

// =============================================================================
// POLICY STORE
// =============================================================================

// NamespacePolicies resolves the effective deduplication policy for
// namespaces and persists operator overrides.
type NamespacePolicies struct {
	// brokerDefault is the broker-wide fallback, immutable after startup
	brokerDefault bool

	// path is the YAML persistence file; empty means in-memory only
	path string

	logger *slog.Logger

	// mu guards overrides
	mu        sync.RWMutex
	overrides map[string]bool
}

// policyFile is the persisted YAML shape.
type policyFile struct {
	Deduplication map[string]bool `yaml:"deduplication"`
}

// NewNamespacePolicies creates the store, loading any persisted overrides.
func NewNamespacePolicies(brokerDefault bool, path string, logger *slog.Logger) (*NamespacePolicies, error) {
	if logger == nil {
		logger = slog.Default()
	}

	p := &NamespacePolicies{
		brokerDefault: brokerDefault,
		path:          path,
		logger:        logger.With("component", "namespace-policies"),
		overrides:     make(map[string]bool),
	}

	if path != "" {
		if err := p.load(); err != nil {
			return nil, err
		}
	}

	return p, nil
}

// load reads persisted overrides. A missing file is a fresh broker.
func (p *NamespacePolicies) load() error {
	data, err := os.ReadFile(p.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read namespace policies: %w", err)
	}

	var file policyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse namespace policies: %w", err)
	}
	if file.Deduplication != nil {
		p.overrides = file.Deduplication
	}

	p.logger.Info("namespace policies loaded", "overrides", len(p.overrides))
	return nil
}

// persist writes the overrides back to disk. Caller holds mu.
func (p *NamespacePolicies) persist() error {
	if p.path == "" {
		return nil
	}

	data, err := yaml.Marshal(policyFile{Deduplication: p.overrides})
	if err != nil {
		return fmt.Errorf("failed to serialize namespace policies: %w", err)
	}

	// Write-then-rename so a crash mid-write can't corrupt the file.
	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write namespace policies: %w", err)
	}
	if err := os.Rename(tmp, p.path); err != nil {
		return fmt.Errorf("failed to replace namespace policies: %w", err)
	}
	return nil
}

// =============================================================================
// POLICY RESOLUTION
// =============================================================================

// IsDeduplicationEnabled resolves the effective policy for a namespace:
// explicit override wins, otherwise the broker default applies.
func (p *NamespacePolicies) IsDeduplicationEnabled(namespace string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if enabled, ok := p.overrides[namespace]; ok {
		return enabled
	}
	return p.brokerDefault
}

// Override returns the explicit setting for a namespace and whether one
// exists. Used by the admin API to distinguish "disabled" from "unset".
func (p *NamespacePolicies) Override(namespace string) (enabled, ok bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	enabled, ok = p.overrides[namespace]
	return enabled, ok
}

// BrokerDefault returns the broker-wide fallback policy.
func (p *NamespacePolicies) BrokerDefault() bool {
	return p.brokerDefault
}

// =============================================================================
// ADMINISTRATIVE OPERATIONS
// =============================================================================

// SetDeduplication sets the explicit override for a namespace.
func (p *NamespacePolicies) SetDeduplication(namespace string, enabled bool) error {
	if namespace == "" {
		return fmt.Errorf("namespace must not be empty")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.overrides[namespace] = enabled
	if err := p.persist(); err != nil {
		return err
	}

	p.logger.Info("namespace deduplication policy set",
		"namespace", namespace,
		"enabled", enabled,
	)
	return nil
}

// ClearDeduplication removes the explicit override so the namespace falls
// back to the broker default. Clearing an unset namespace is a no-op.
func (p *NamespacePolicies) ClearDeduplication(namespace string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.overrides[namespace]; !ok {
		return nil
	}

	delete(p.overrides, namespace)
	if err := p.persist(); err != nil {
		return err
	}

	p.logger.Info("namespace deduplication policy cleared", "namespace", namespace)
	return nil
}

// Overrides returns a copy of all explicit overrides.
func (p *NamespacePolicies) Overrides() map[string]bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[string]bool, len(p.overrides))
	for ns, enabled := range p.overrides {
		out[ns] = enabled
	}
	return out
}
