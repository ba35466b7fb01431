// =============================================================================
// METRICS REGISTRY TESTS
// =============================================================================

package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// testConfig returns an isolated registry config without the runtime
// collectors (they make scrape output noisy in tests).
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.IncludeGoCollector = false
	cfg.IncludeProcessCollector = false
	return cfg
}

func TestRegistry_RecordsDedupDecisions(t *testing.T) {
	r := NewRegistry(testConfig())

	r.Dedup.RecordDecision("orders/payments", "accept")
	r.Dedup.RecordDecision("orders/payments", "accept")
	r.Dedup.RecordDecision("orders/payments", "duplicate")

	accepts := testutil.ToFloat64(r.Dedup.Decisions.WithLabelValues("orders/payments", "accept"))
	if accepts != 2 {
		t.Errorf("accept decisions = %v, want 2", accepts)
	}
	duplicates := testutil.ToFloat64(r.Dedup.Decisions.WithLabelValues("orders/payments", "duplicate"))
	if duplicates != 1 {
		t.Errorf("duplicate decisions = %v, want 1", duplicates)
	}
}

func TestRegistry_TrackedProducersGauge(t *testing.T) {
	r := NewRegistry(testConfig())

	r.Dedup.SetTrackedProducers("orders/payments", 0, 42)
	r.Dedup.SetTrackedProducers("orders/payments", 0, 7) // gauge moves both ways

	got := testutil.ToFloat64(r.Dedup.TrackedProducers.WithLabelValues("orders/payments", "0"))
	if got != 7 {
		t.Errorf("tracked producers gauge = %v, want 7", got)
	}
}

func TestRegistry_TrackedProducersPerPartition(t *testing.T) {
	// Each partition's tracker reports its own count; the series must
	// not overwrite each other under a multi-partition topic.
	r := NewRegistry(testConfig())

	r.Dedup.SetTrackedProducers("orders/payments", 0, 3)
	r.Dedup.SetTrackedProducers("orders/payments", 1, 5)

	if got := testutil.ToFloat64(r.Dedup.TrackedProducers.WithLabelValues("orders/payments", "0")); got != 3 {
		t.Errorf("partition 0 gauge = %v, want 3", got)
	}
	if got := testutil.ToFloat64(r.Dedup.TrackedProducers.WithLabelValues("orders/payments", "1")); got != 5 {
		t.Errorf("partition 1 gauge = %v, want 5", got)
	}
}

func TestRegistry_SnapshotOutcomesSplit(t *testing.T) {
	r := NewRegistry(testConfig())

	r.Dedup.RecordSnapshot("t", true)
	r.Dedup.RecordSnapshot("t", true)
	r.Dedup.RecordSnapshot("t", false)

	if got := testutil.ToFloat64(r.Dedup.Snapshots.WithLabelValues("t")); got != 2 {
		t.Errorf("snapshots = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.Dedup.SnapshotFailures.WithLabelValues("t")); got != 1 {
		t.Errorf("snapshot failures = %v, want 1", got)
	}
}

func TestRegistry_DisabledIsNoOp(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	r := NewRegistry(cfg)

	// Subsystems are nil when disabled; every recorder must be nil-safe.
	r.Dedup.RecordDecision("t", "accept")
	r.Dedup.SetTrackedProducers("t", 0, 1)
	r.Dedup.RecordSnapshot("t", true)
	r.Dedup.RecordEvictions("t", "inactivity", 3)
	r.Dedup.RecordRecovery("t", 0.5)
	r.Broker.RecordPublish("t", 10, 0.001)
	r.Broker.RecordPublishError("t", "storage")
	r.Broker.SetTopicCount(2)

	if r.Enabled() {
		t.Error("Enabled() = true for a disabled registry")
	}

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 404 {
		t.Errorf("disabled handler status = %d, want 404", rec.Code)
	}
}

func TestRegistry_ExpositionFormat(t *testing.T) {
	r := NewRegistry(testConfig())
	r.Dedup.RecordDecision("orders/payments", "duplicate")
	r.Broker.SetTopicCount(3)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 {
		t.Fatalf("scrape status = %d", rec.Code)
	}

	body := rec.Body.String()
	for _, want := range []string{
		"pulsar_dedup_decisions_total",
		`decision="duplicate"`,
		"pulsar_broker_topics",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}
