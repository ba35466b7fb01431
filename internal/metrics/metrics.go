// =============================================================================
// OBSERVABILITY WITH PROMETHEUS - CORE METRICS INFRASTRUCTURE
// =============================================================================
//
// WHAT IS THIS?
// The metrics registry for the broker. Prometheus scrapes the /metrics
// endpoint; everything the broker wants visible goes through here.
//
// METRIC TYPES USED:
//
//   COUNTER    Only goes up. Publishes, duplicates, snapshots, evictions.
//   GAUGE      Goes up and down. Tracked producer identities per partition.
//   HISTOGRAM  Latency distributions. Publish path, partition recovery.
//
// LABELS (DIMENSIONS):
// Labels add dimensions but each unique combination is a new time series.
// We label by topic (tens to hundreds) and decision (two values). Producer
// identity is deliberately NOT a label - there can be ten thousand tracked
// identities per partition and that would blow up cardinality.
//
// NAMING: {namespace}_{subsystem}_{name}_{unit}, e.g.
//   pulsar_broker_messages_published_total
//   pulsar_dedup_decisions_total{topic="orders",decision="duplicate"}
//   pulsar_dedup_recovery_duration_seconds
//
// =============================================================================

package metrics

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// =============================================================================
// REGISTRY
// =============================================================================

// Registry holds all broker metrics and the underlying Prometheus registry.
//
// WHY WRAP prometheus.Registry?
//   - Single initialization point
//   - Groups related metrics by subsystem
//   - Allows metrics to be disabled via config (all operations no-op)
//   - Testing isolation (each test gets a fresh registry)
type Registry struct {
	// promRegistry is the underlying Prometheus registry
	promRegistry *prometheus.Registry

	// config holds metrics configuration
	config Config

	// logger for metrics operations
	logger *slog.Logger

	// enabled tracks if metrics collection is enabled
	enabled bool

	// Subsystem metrics
	Broker *BrokerMetrics
	Dedup  *DedupMetrics
}

// Config holds metrics configuration.
type Config struct {
	// Enabled turns metrics collection on/off.
	// When disabled, all metric operations are no-ops.
	Enabled bool

	// Namespace is the prefix for all metrics (default: "pulsar")
	Namespace string

	// IncludeGoCollector adds Go runtime metrics (goroutines, GC, memory)
	IncludeGoCollector bool

	// IncludeProcessCollector adds process metrics (CPU, memory, fds)
	IncludeProcessCollector bool

	// HistogramBuckets for latency measurements (in seconds)
	HistogramBuckets []float64
}

// DefaultConfig returns sensible defaults for metrics configuration.
//
// BUCKET DESIGN: the publish path is one map lookup plus a sequential file
// write, so buckets are dense in the sub-10ms range; recovery can take
// seconds, so the tail extends to 5s.
func DefaultConfig() Config {
	return Config{
		Enabled:                 true,
		Namespace:               "pulsar",
		IncludeGoCollector:      true,
		IncludeProcessCollector: true,
		HistogramBuckets: []float64{
			0.0005, 0.001, 0.002, 0.005, 0.01, 0.025,
			0.05, 0.1, 0.25, 0.5, 1, 2, 5,
		},
	}
}

// =============================================================================
// GLOBAL REGISTRY (SINGLETON)
// =============================================================================
//
// Metrics are needed from the broker, the tracker, and the HTTP layer.
// Threading a registry through every constructor buys little, so we use the
// hybrid pattern: a global singleton for production, NewRegistry() for
// isolated tests.
//
// =============================================================================

var (
	globalRegistry *Registry
	globalOnce     sync.Once
)

// Init initializes the global metrics registry. Call once at startup.
func Init(config Config) *Registry {
	globalOnce.Do(func() {
		globalRegistry = NewRegistry(config)
	})
	return globalRegistry
}

// Get returns the global metrics registry, or nil if Init was not called.
func Get() *Registry {
	return globalRegistry
}

// Handler returns the HTTP handler for the /metrics endpoint, nil if
// metrics were never initialized.
func Handler() http.Handler {
	if globalRegistry == nil {
		return nil
	}
	return globalRegistry.Handler()
}

// =============================================================================
// REGISTRY CREATION
// =============================================================================

// NewRegistry creates a metrics registry.
// Use Init() for the global singleton, NewRegistry() for testing.
func NewRegistry(config Config) *Registry {
	logger := slog.Default().With("component", "metrics")

	r := &Registry{
		promRegistry: prometheus.NewRegistry(),
		config:       config,
		logger:       logger,
		enabled:      config.Enabled,
	}

	if !config.Enabled {
		logger.Info("metrics collection disabled")
		return r
	}

	if config.IncludeGoCollector {
		r.promRegistry.MustRegister(collectors.NewGoCollector())
	}
	if config.IncludeProcessCollector {
		r.promRegistry.MustRegister(collectors.NewProcessCollector(
			collectors.ProcessCollectorOpts{},
		))
	}

	r.Broker = newBrokerMetrics(r)
	r.Dedup = newDedupMetrics(r)

	logger.Info("metrics registry initialized", "namespace", config.Namespace)

	return r
}

// Handler returns an HTTP handler serving the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	if !r.enabled {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics disabled", http.StatusNotFound)
		})
	}
	return promhttp.HandlerFor(r.promRegistry, promhttp.HandlerOpts{})
}

// Enabled returns true if metrics collection is enabled.
func (r *Registry) Enabled() bool {
	return r.enabled
}

// PrometheusRegistry returns the underlying Prometheus registry.
// Use sparingly - prefer the subsystem metrics.
func (r *Registry) PrometheusRegistry() *prometheus.Registry {
	return r.promRegistry
}

// =============================================================================
// METRIC REGISTRATION HELPERS
// =============================================================================
//
// These create metrics with consistent namespacing and register them,
// panicking on duplicate registration (a programming error).
//

func (r *Registry) newCounterVec(opts prometheus.CounterOpts, labelNames []string) *prometheus.CounterVec {
	opts.Namespace = r.config.Namespace
	counterVec := prometheus.NewCounterVec(opts, labelNames)
	r.promRegistry.MustRegister(counterVec)
	return counterVec
}

func (r *Registry) newGaugeVec(opts prometheus.GaugeOpts, labelNames []string) *prometheus.GaugeVec {
	opts.Namespace = r.config.Namespace
	gaugeVec := prometheus.NewGaugeVec(opts, labelNames)
	r.promRegistry.MustRegister(gaugeVec)
	return gaugeVec
}

func (r *Registry) newHistogramVec(opts prometheus.HistogramOpts, labelNames []string) *prometheus.HistogramVec {
	opts.Namespace = r.config.Namespace
	if opts.Buckets == nil {
		opts.Buckets = r.config.HistogramBuckets
	}
	histogramVec := prometheus.NewHistogramVec(opts, labelNames)
	r.promRegistry.MustRegister(histogramVec)
	return histogramVec
}
