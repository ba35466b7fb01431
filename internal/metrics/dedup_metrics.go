// =============================================================================
// DEDUPLICATION METRICS - TRACKER INSTRUMENTATION
// =============================================================================
//
// WHAT THESE TELL YOU:
//
//   decisions_total{decision="duplicate"}   How often producers are retrying.
//       A sustained rise usually means network trouble between producers and
//       the broker - the tracker is absorbing the replays, which is its job.
//
//   tracked_producers                       Memory pressure per partition. Bounded
//       by brokerDeduplicationMaxNumberOfProducers; watch it approach the cap.
//
//   snapshots_total / snapshot_failures_total
//       Checkpoint cadence. Failures are retried at the next interval
//       boundary, but persistent failures mean recovery will replay more.
//
//   recovery_duration_seconds               Cost of partition load. Grows with
//       brokerDeduplicationEntriesInterval - the documented trade-off.
//
// =============================================================================

package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// DedupMetrics contains deduplication tracker metrics.
type DedupMetrics struct {
	// Decisions counts classify outcomes on the publish path.
	// Labels: topic, decision (accept, duplicate)
	Decisions *prometheus.CounterVec

	// TrackedProducers is the current number of tracked producer
	// identities. Each partition's tracker owns its own count, so the
	// gauge is labeled per partition; sum over partitions for the topic
	// total. Labels: topic, partition
	TrackedProducers *prometheus.GaugeVec

	// Snapshots counts cursor checkpoints written. Labels: topic
	Snapshots *prometheus.CounterVec

	// SnapshotFailures counts checkpoint write failures. Labels: topic
	SnapshotFailures *prometheus.CounterVec

	// Evictions counts cursors removed. Labels: topic, reason
	// (inactivity, capacity)
	Evictions *prometheus.CounterVec

	// RecoveryDuration measures cursor recovery time at partition load.
	// Labels: topic
	RecoveryDuration *prometheus.HistogramVec

	registry *Registry
}

// newDedupMetrics creates and registers all deduplication metrics.
func newDedupMetrics(r *Registry) *DedupMetrics {
	m := &DedupMetrics{registry: r}

	m.Decisions = r.newCounterVec(
		prometheus.CounterOpts{
			Subsystem: "dedup",
			Name:      "decisions_total",
			Help:      "Deduplication decisions on the publish path",
		},
		[]string{"topic", "decision"},
	)

	m.TrackedProducers = r.newGaugeVec(
		prometheus.GaugeOpts{
			Subsystem: "dedup",
			Name:      "tracked_producers",
			Help:      "Producer identities currently tracked for deduplication",
		},
		[]string{"topic", "partition"},
	)

	m.Snapshots = r.newCounterVec(
		prometheus.CounterOpts{
			Subsystem: "dedup",
			Name:      "snapshots_total",
			Help:      "Deduplication cursor snapshots written",
		},
		[]string{"topic"},
	)

	m.SnapshotFailures = r.newCounterVec(
		prometheus.CounterOpts{
			Subsystem: "dedup",
			Name:      "snapshot_failures_total",
			Help:      "Deduplication cursor snapshot write failures",
		},
		[]string{"topic"},
	)

	m.Evictions = r.newCounterVec(
		prometheus.CounterOpts{
			Subsystem: "dedup",
			Name:      "evictions_total",
			Help:      "Deduplication cursors evicted",
		},
		[]string{"topic", "reason"},
	)

	m.RecoveryDuration = r.newHistogramVec(
		prometheus.HistogramOpts{
			Subsystem: "dedup",
			Name:      "recovery_duration_seconds",
			Help:      "Time to recover deduplication cursors at partition load",
		},
		[]string{"topic"},
	)

	return m
}

// RecordDecision records one classify outcome.
func (m *DedupMetrics) RecordDecision(topic, decision string) {
	if m == nil || !m.registry.enabled {
		return
	}
	m.Decisions.WithLabelValues(topic, decision).Inc()
}

// SetTrackedProducers updates the tracked identity gauge for one
// partition of a topic.
func (m *DedupMetrics) SetTrackedProducers(topic string, partition, count int) {
	if m == nil || !m.registry.enabled {
		return
	}
	m.TrackedProducers.WithLabelValues(topic, strconv.Itoa(partition)).Set(float64(count))
}

// RecordSnapshot records a checkpoint attempt.
func (m *DedupMetrics) RecordSnapshot(topic string, success bool) {
	if m == nil || !m.registry.enabled {
		return
	}
	if success {
		m.Snapshots.WithLabelValues(topic).Inc()
	} else {
		m.SnapshotFailures.WithLabelValues(topic).Inc()
	}
}

// RecordEvictions records cursors removed for the given reason.
func (m *DedupMetrics) RecordEvictions(topic, reason string, count int) {
	if m == nil || !m.registry.enabled || count == 0 {
		return
	}
	m.Evictions.WithLabelValues(topic, reason).Add(float64(count))
}

// RecordRecovery records how long cursor recovery took at partition load.
func (m *DedupMetrics) RecordRecovery(topic string, seconds float64) {
	if m == nil || !m.registry.enabled {
		return
	}
	m.RecoveryDuration.WithLabelValues(topic).Observe(seconds)
}
