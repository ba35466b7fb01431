// =============================================================================
// NAMESPACE POLICY TESTS
// =============================================================================

package broker

import (
	"path/filepath"
	"testing"
)

func TestNamespaceOf(t *testing.T) {
	tests := []struct {
		topic string
		want  string
	}{
		{"orders/payments", "orders"},
		{"a/b/c", "a/b"}, // last segment is the topic
		{"payments", "default"},
		{"/leading-slash", "default"},
		{"", "default"},
	}
	for _, tt := range tests {
		if got := NamespaceOf(tt.topic); got != tt.want {
			t.Errorf("NamespaceOf(%q) = %q, want %q", tt.topic, got, tt.want)
		}
	}
}

func TestNamespacePolicies_OverridePrecedence(t *testing.T) {
	// SCENARIO:
	// Broker default off. An override enables "orders"; every other
	// namespace keeps following the default. Clearing the override
	// restores the default.

	policies, err := NewNamespacePolicies(false, "", nil)
	if err != nil {
		t.Fatalf("NewNamespacePolicies() error = %v", err)
	}

	if policies.IsDeduplicationEnabled("orders") {
		t.Error("dedup enabled with no override and default false")
	}

	if err := policies.SetDeduplication("orders", true); err != nil {
		t.Fatalf("SetDeduplication() error = %v", err)
	}
	if !policies.IsDeduplicationEnabled("orders") {
		t.Error("override did not take effect")
	}
	if policies.IsDeduplicationEnabled("billing") {
		t.Error("override for orders leaked into billing")
	}

	enabled, ok := policies.Override("orders")
	if !ok || !enabled {
		t.Errorf("Override(orders) = (%v, %v), want (true, true)", enabled, ok)
	}
	if _, ok := policies.Override("billing"); ok {
		t.Error("Override(billing) reports an override that was never set")
	}

	if err := policies.ClearDeduplication("orders"); err != nil {
		t.Fatalf("ClearDeduplication() error = %v", err)
	}
	if policies.IsDeduplicationEnabled("orders") {
		t.Error("cleared namespace still enabled")
	}
}

func TestNamespacePolicies_ExplicitDisableBeatsDefaultOn(t *testing.T) {
	// Broker default on; an override can still switch a namespace off.

	policies, err := NewNamespacePolicies(true, "", nil)
	if err != nil {
		t.Fatalf("NewNamespacePolicies() error = %v", err)
	}

	if !policies.IsDeduplicationEnabled("orders") {
		t.Error("default-on broker reports dedup disabled")
	}
	if err := policies.SetDeduplication("orders", false); err != nil {
		t.Fatalf("SetDeduplication() error = %v", err)
	}
	if policies.IsDeduplicationEnabled("orders") {
		t.Error("explicit disable did not win over default on")
	}
	if !policies.BrokerDefault() {
		t.Error("BrokerDefault() = false, want true")
	}
}

func TestNamespacePolicies_PersistAcrossReload(t *testing.T) {
	// SCENARIO:
	// An operator enables dedup for a namespace; the broker restarts.
	// The override must come back from disk.

	path := filepath.Join(t.TempDir(), "namespaces.yaml")

	policies, err := NewNamespacePolicies(false, path, nil)
	if err != nil {
		t.Fatalf("NewNamespacePolicies() error = %v", err)
	}
	if err := policies.SetDeduplication("orders", true); err != nil {
		t.Fatalf("SetDeduplication() error = %v", err)
	}
	if err := policies.SetDeduplication("audit", false); err != nil {
		t.Fatalf("SetDeduplication() error = %v", err)
	}

	reloaded, err := NewNamespacePolicies(false, path, nil)
	if err != nil {
		t.Fatalf("NewNamespacePolicies() reload error = %v", err)
	}
	if !reloaded.IsDeduplicationEnabled("orders") {
		t.Error("orders override lost across reload")
	}
	if enabled, ok := reloaded.Override("audit"); !ok || enabled {
		t.Errorf("Override(audit) = (%v, %v), want (false, true)", enabled, ok)
	}
	if got := len(reloaded.Overrides()); got != 2 {
		t.Errorf("Overrides() has %d entries, want 2", got)
	}

	// Clearing also persists.
	if err := reloaded.ClearDeduplication("orders"); err != nil {
		t.Fatalf("ClearDeduplication() error = %v", err)
	}
	final, err := NewNamespacePolicies(false, path, nil)
	if err != nil {
		t.Fatalf("NewNamespacePolicies() reload error = %v", err)
	}
	if final.IsDeduplicationEnabled("orders") {
		t.Error("cleared override resurrected after reload")
	}
}

func TestNamespacePolicies_EmptyNamespaceRejected(t *testing.T) {
	policies, err := NewNamespacePolicies(false, "", nil)
	if err != nil {
		t.Fatalf("NewNamespacePolicies() error = %v", err)
	}
	if err := policies.SetDeduplication("", true); err == nil {
		t.Error("SetDeduplication(\"\") accepted an empty namespace")
	}
}
