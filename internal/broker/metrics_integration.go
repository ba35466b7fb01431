// =============================================================================
// METRICS INTEGRATION FOR THE BROKER
// =============================================================================
//
// WHAT THIS FILE DOES:
// Bridges broker and tracker code to the metrics package. Everything here
// nil-checks the global registry, so broker code can instrument
// unconditionally and tests don't need metrics initialized.
//
// INTEGRATION POINTS:
//   Publish path     InstrumentPublish / InstrumentPublishError
//   Dedup tracker    InstrumentDedupDecision / Snapshot / Evictions /
//                    TrackedProducers / Recovery
//   Topic inventory  InstrumentTopicCount
//
// =============================================================================

package broker

import (
	"time"

	"github.com/craigjames2/pulsar/internal/metrics"
)

// InstrumentPublish records a durable publish. Call after the entry is
// appended to storage.
func InstrumentPublish(topic string, sizeBytes int, startTime time.Time) {
	m := metrics.Get()
	if m == nil {
		return
	}
	m.Broker.RecordPublish(topic, sizeBytes, time.Since(startTime).Seconds())
}

// InstrumentPublishError records a failed publish.
func InstrumentPublishError(topic, errorType string) {
	m := metrics.Get()
	if m == nil {
		return
	}
	m.Broker.RecordPublishError(topic, errorType)
}

// InstrumentTopicCount updates the topic inventory gauge.
func InstrumentTopicCount(count int) {
	m := metrics.Get()
	if m == nil {
		return
	}
	m.Broker.SetTopicCount(count)
}

// InstrumentDedupDecision records one tracker classification.
func InstrumentDedupDecision(topic string, decision Decision) {
	m := metrics.Get()
	if m == nil {
		return
	}
	m.Dedup.RecordDecision(topic, decision.String())
}

// InstrumentDedupSnapshot records a cursor checkpoint attempt.
func InstrumentDedupSnapshot(topic string, success bool) {
	m := metrics.Get()
	if m == nil {
		return
	}
	m.Dedup.RecordSnapshot(topic, success)
}

// InstrumentDedupEvictions records swept cursors.
func InstrumentDedupEvictions(topic, reason string, count int) {
	m := metrics.Get()
	if m == nil {
		return
	}
	m.Dedup.RecordEvictions(topic, reason, count)
}

// InstrumentTrackedProducers updates the tracked identity gauge for one
// partition.
func InstrumentTrackedProducers(topic string, partition, count int) {
	m := metrics.Get()
	if m == nil {
		return
	}
	m.Dedup.SetTrackedProducers(topic, partition, count)
}

// InstrumentDedupRecovery records cursor recovery time at partition load.
func InstrumentDedupRecovery(topic string, seconds float64) {
	m := metrics.Get()
	if m == nil {
		return
	}
	m.Dedup.RecordRecovery(topic, seconds)
}
