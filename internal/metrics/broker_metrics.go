// =============================================================================
// BROKER METRICS - MESSAGE FLOW INSTRUMENTATION
// =============================================================================
//
// Tracks the flow of messages through the broker: publish volume, publish
// failures by category, publish latency, and topic inventory.
//
// ALERTING EXAMPLES:
//   error rate:  rate(pulsar_broker_messages_failed_total[5m]) /
//                rate(pulsar_broker_messages_published_total[5m]) > 0.01
//   latency SLO: histogram_quantile(0.99,
//                rate(pulsar_broker_publish_latency_seconds_bucket[5m])) > 0.01
//
// =============================================================================

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// BrokerMetrics contains broker-level message flow metrics.
type BrokerMetrics struct {
	// MessagesPublished counts messages durably appended.
	// Labels: topic
	MessagesPublished *prometheus.CounterVec

	// MessagesFailed counts publishes that failed.
	// Labels: topic, error_type (storage, validation, unknown)
	MessagesFailed *prometheus.CounterVec

	// BytesPublished counts payload bytes durably appended.
	// Labels: topic
	BytesPublished *prometheus.CounterVec

	// PublishLatency measures end-to-end publish handling time.
	// Labels: topic
	PublishLatency *prometheus.HistogramVec

	// TopicCount is the current number of topics.
	TopicCount prometheus.Gauge

	registry *Registry
}

// newBrokerMetrics creates and registers all broker metrics.
func newBrokerMetrics(r *Registry) *BrokerMetrics {
	m := &BrokerMetrics{registry: r}

	m.MessagesPublished = r.newCounterVec(
		prometheus.CounterOpts{
			Subsystem: "broker",
			Name:      "messages_published_total",
			Help:      "Total number of messages durably published",
		},
		[]string{"topic"},
	)

	m.MessagesFailed = r.newCounterVec(
		prometheus.CounterOpts{
			Subsystem: "broker",
			Name:      "messages_failed_total",
			Help:      "Total number of messages that failed to publish",
		},
		[]string{"topic", "error_type"},
	)

	m.BytesPublished = r.newCounterVec(
		prometheus.CounterOpts{
			Subsystem: "broker",
			Name:      "bytes_published_total",
			Help:      "Total payload bytes durably published",
		},
		[]string{"topic"},
	)

	m.PublishLatency = r.newHistogramVec(
		prometheus.HistogramOpts{
			Subsystem: "broker",
			Name:      "publish_latency_seconds",
			Help:      "Publish handling latency in seconds",
		},
		[]string{"topic"},
	)

	topicCount := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: r.config.Namespace,
		Subsystem: "broker",
		Name:      "topics",
		Help:      "Current number of topics",
	})
	r.promRegistry.MustRegister(topicCount)
	m.TopicCount = topicCount

	return m
}

// RecordPublish records a successful, durable publish.
func (m *BrokerMetrics) RecordPublish(topic string, bytes int, latency float64) {
	if m == nil || !m.registry.enabled {
		return
	}
	m.MessagesPublished.WithLabelValues(topic).Inc()
	m.BytesPublished.WithLabelValues(topic).Add(float64(bytes))
	m.PublishLatency.WithLabelValues(topic).Observe(latency)
}

// RecordPublishError records a failed publish.
//
// ERROR TYPES:
//   - "storage": disk write failed (retryable from the producer's view)
//   - "validation": request was malformed
//   - "unknown": anything else
func (m *BrokerMetrics) RecordPublishError(topic, errorType string) {
	if m == nil || !m.registry.enabled {
		return
	}
	m.MessagesFailed.WithLabelValues(topic, errorType).Inc()
}

// SetTopicCount updates the topic inventory gauge.
func (m *BrokerMetrics) SetTopicCount(count int) {
	if m == nil || !m.registry.enabled {
		return
	}
	m.TopicCount.Set(float64(count))
}
