// =============================================================================
// BROKER - THE SERVER THAT OWNS TOPICS
// =============================================================================
//
// The broker is the top-level component: it owns the topic map, the
// namespace deduplication policies, and the background maintenance loop
// that sweeps idle deduplication cursors.
//
// STARTUP:
//  1. Create data directories
//  2. Load namespace policies (DataDir/namespaces.yaml)
//  3. Discover and load existing topics (each partition recovers its log
//     and deduplication cursors)
//  4. Start the eviction sweeper
//  5. Ready to accept requests
//
// DIRECTORY LAYOUT:
//
//   DataDir/
//     namespaces.yaml              namespace policy overrides
//     logs/
//       payments/                  topic without namespace → "default" ns
//         0/partition.log
//       orders/payments/           namespace-qualified topic
//         0/partition.log
//         1/partition.log
//
// =============================================================================

package broker

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/craigjames2/pulsar/internal/storage"
)

// =============================================================================
// ERROR DEFINITIONS
// =============================================================================

var (
	// ErrBrokerClosed means the broker has been shut down
	ErrBrokerClosed = errors.New("broker is closed")
)

// =============================================================================
// BROKER CONFIGURATION
// =============================================================================

// BrokerConfig holds resolved broker settings.
type BrokerConfig struct {
	// DataDir is the root directory for all data storage
	// Structure: DataDir/logs/{topic}/{partition}/
	DataDir string

	// NodeID identifies this broker instance. Empty = random UUID.
	NodeID string

	// LogLevel controls logging verbosity
	LogLevel slog.Level

	// DeduplicationEnabled is the broker-wide default, applied to any
	// namespace without an explicit override.
	DeduplicationEnabled bool

	// Dedup holds the tracker tuning knobs shared by all partitions.
	Dedup DedupConfig

	// EvictionSweepInterval is how often the background sweeper checks
	// for idle producer cursors. Zero disables the sweeper.
	EvictionSweepInterval time.Duration
}

// DefaultBrokerConfig returns sensible defaults.
func DefaultBrokerConfig() BrokerConfig {
	return BrokerConfig{
		DataDir:               "./data",
		LogLevel:              slog.LevelInfo,
		DeduplicationEnabled:  false,
		Dedup:                 DefaultDedupConfig(),
		EvictionSweepInterval: time.Minute,
	}
}

// =============================================================================
// BROKER STRUCT
// =============================================================================

// Broker is the main server managing topics and handling requests.
type Broker struct {
	config   BrokerConfig
	topics   map[string]*Topic
	policies *NamespacePolicies
	logsDir  string
	nodeID   string
	logger   *slog.Logger

	mu        sync.RWMutex // protects topics and closed
	startedAt time.Time
	closed    bool

	sweepStop chan struct{}
	sweepDone chan struct{}
}

// =============================================================================
// BROKER LIFECYCLE
// =============================================================================

// NewBroker creates and starts a broker.
func NewBroker(config BrokerConfig) (*Broker, error) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.LogLevel,
	}))

	logsDir := filepath.Join(config.DataDir, "logs")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create logs directory: %w", err)
	}

	nodeID := config.NodeID
	if nodeID == "" {
		nodeID = uuid.NewString()
	}

	policies, err := NewNamespacePolicies(
		config.DeduplicationEnabled,
		filepath.Join(config.DataDir, "namespaces.yaml"),
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load namespace policies: %w", err)
	}

	b := &Broker{
		config:    config,
		topics:    make(map[string]*Topic),
		policies:  policies,
		logsDir:   logsDir,
		nodeID:    nodeID,
		logger:    logger,
		startedAt: time.Now(),
		sweepStop: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}

	if err := b.loadExistingTopics(); err != nil {
		return nil, fmt.Errorf("failed to load existing topics: %w", err)
	}

	if config.EvictionSweepInterval > 0 {
		go b.evictionSweeper(config.EvictionSweepInterval)
	} else {
		close(b.sweepDone)
	}

	logger.Info("broker started",
		"nodeID", nodeID,
		"dataDir", config.DataDir,
		"topics", len(b.topics),
		"dedupDefault", config.DeduplicationEnabled)

	return b, nil
}

// loadExistingTopics discovers topics from disk. A directory is a topic
// when its children are numbered partition directories; otherwise it is a
// namespace whose children are topics.
func (b *Broker) loadExistingTopics() error {
	entries, err := os.ReadDir(b.logsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // no topics yet
		}
		return err
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if isTopicDir(filepath.Join(b.logsDir, entry.Name())) {
			names = append(names, entry.Name())
			continue
		}
		// Namespace directory: children are topics.
		children, err := os.ReadDir(filepath.Join(b.logsDir, entry.Name()))
		if err != nil {
			return err
		}
		for _, child := range children {
			if child.IsDir() {
				names = append(names, entry.Name()+"/"+child.Name())
			}
		}
	}

	for _, name := range names {
		topic, err := LoadTopic(b.logsDir, name, b.config.Dedup, b.policies, b.logger)
		if err != nil {
			b.logger.Error("failed to load topic", "topic", name, "error", err)
			continue
		}
		b.topics[name] = topic
		b.logger.Info("loaded topic",
			"topic", name,
			"partitions", topic.NumPartitions(),
			"trackedProducers", topic.TrackedProducers())
	}

	InstrumentTopicCount(len(b.topics))
	return nil
}

// isTopicDir reports whether dir directly contains numbered partition
// directories.
func isTopicDir(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		var id int
		if _, err := fmt.Sscanf(e.Name(), "%d", &id); err == nil {
			if _, err := os.Stat(filepath.Join(dir, e.Name(), "partition.log")); err == nil {
				return true
			}
		}
	}
	return false
}

// evictionSweeper periodically drops producer cursors that have been idle
// past the inactivity timeout.
func (b *Broker) evictionSweeper(interval time.Duration) {
	defer close(b.sweepDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.sweepStop:
			return
		case now := <-ticker.C:
			b.mu.RLock()
			topics := make([]*Topic, 0, len(b.topics))
			for _, t := range b.topics {
				topics = append(topics, t)
			}
			b.mu.RUnlock()

			var total int
			for _, t := range topics {
				total += t.EvictInactiveProducers(now)
			}
			if total > 0 {
				b.logger.Info("evicted inactive producers", "count", total)
			}
		}
	}
}

// Close shuts down the broker: stop the sweeper, close all topics.
func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.logger.Info("shutting down broker")

	close(b.sweepStop)
	<-b.sweepDone

	b.mu.Lock()
	defer b.mu.Unlock()

	var errs []error
	for name, topic := range b.topics {
		if err := topic.Close(); err != nil {
			errs = append(errs, fmt.Errorf("topic %s: %w", name, err))
		}
	}

	b.logger.Info("broker shutdown complete")

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}
	return nil
}

// =============================================================================
// TOPIC MANAGEMENT
// =============================================================================

// CreateTopic creates a new topic. Returns ErrTopicExists if it already
// does.
func (b *Broker) CreateTopic(config TopicConfig) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBrokerClosed
	}
	if _, exists := b.topics[config.Name]; exists {
		return ErrTopicExists
	}

	topic, err := NewTopic(b.logsDir, config, b.config.Dedup, b.policies, b.logger)
	if err != nil {
		return err
	}
	b.topics[config.Name] = topic

	b.logger.Info("created topic",
		"topic", config.Name,
		"namespace", topic.Namespace(),
		"partitions", topic.NumPartitions())
	InstrumentTopicCount(len(b.topics))
	return nil
}

// DeleteTopic removes a topic and all its data.
func (b *Broker) DeleteTopic(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBrokerClosed
	}
	topic, exists := b.topics[name]
	if !exists {
		return ErrTopicNotFound
	}
	if err := topic.Delete(); err != nil {
		return err
	}
	delete(b.topics, name)

	b.logger.Info("deleted topic", "topic", name)
	InstrumentTopicCount(len(b.topics))
	return nil
}

// GetTopic returns a topic by name.
func (b *Broker) GetTopic(name string) (*Topic, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, ErrBrokerClosed
	}
	topic, exists := b.topics[name]
	if !exists {
		return nil, ErrTopicNotFound
	}
	return topic, nil
}

// ListTopics returns all topic names.
func (b *Broker) ListTopics() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	names := make([]string, 0, len(b.topics))
	for name := range b.topics {
		names = append(names, name)
	}
	return names
}

// TopicExists reports whether a topic exists.
func (b *Broker) TopicExists(name string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, exists := b.topics[name]
	return exists
}

// =============================================================================
// PUBLISH & CONSUME
// =============================================================================

// Publish routes a message to a partition of the topic and appends it,
// subject to the namespace's deduplication policy. producer may be empty
// for anonymous publishes (never deduplicated).
func (b *Broker) Publish(topic, producer string, sequenceID int64, key, value []byte) (partition int, result PublishResult, err error) {
	t, err := b.GetTopic(topic)
	if err != nil {
		return 0, PublishResult{}, err
	}
	return t.Publish(producer, sequenceID, key, value)
}

// PublishToPartition appends to a specific partition, bypassing routing.
func (b *Broker) PublishToPartition(topic string, partition int, producer string, sequenceID int64, key, value []byte) (PublishResult, error) {
	t, err := b.GetTopic(topic)
	if err != nil {
		return PublishResult{}, err
	}
	return t.PublishToPartition(partition, producer, sequenceID, key, value)
}

// Message is what consumers receive.
type Message struct {
	Topic     string `json:"topic"`
	Partition int    `json:"partition"`
	Offset    int64  `json:"offset"`
	Timestamp int64  `json:"timestamp"`
	Producer  string `json:"producer,omitempty"`
	Sequence  int64  `json:"sequenceId"`
	Key       []byte `json:"key,omitempty"`
	Value     []byte `json:"value"`
}

// Consume reads messages from a topic partition.
func (b *Broker) Consume(topic string, partition int, fromOffset int64, maxMessages int) ([]Message, error) {
	t, err := b.GetTopic(topic)
	if err != nil {
		return nil, err
	}
	entries, err := t.Consume(partition, fromOffset, maxMessages)
	if err != nil {
		return nil, err
	}

	messages := make([]Message, len(entries))
	for i, e := range entries {
		messages[i] = Message{
			Topic:     topic,
			Partition: partition,
			Offset:    e.Offset,
			Timestamp: e.Timestamp,
			Producer:  e.Producer,
			Sequence:  e.SequenceID,
			Key:       e.Key,
			Value:     e.Value,
		}
	}
	return messages, nil
}

// ReadEntry reads a single raw entry from a topic partition.
func (b *Broker) ReadEntry(topic string, partition int, offset int64) (*storage.Entry, error) {
	t, err := b.GetTopic(topic)
	if err != nil {
		return nil, err
	}
	p, err := t.Partition(partition)
	if err != nil {
		return nil, err
	}
	return p.ReadEntry(offset)
}

// =============================================================================
// NAMESPACE DEDUPLICATION POLICY
// =============================================================================

// Policies exposes the namespace policy store.
func (b *Broker) Policies() *NamespacePolicies {
	return b.policies
}

// SetNamespaceDeduplication sets the deduplication override for a
// namespace. Takes effect on the next publish to any topic in it.
func (b *Broker) SetNamespaceDeduplication(namespace string, enabled bool) error {
	return b.policies.SetDeduplication(namespace, enabled)
}

// ClearNamespaceDeduplication removes a namespace override, reverting the
// namespace to the broker-wide default.
func (b *Broker) ClearNamespaceDeduplication(namespace string) error {
	return b.policies.ClearDeduplication(namespace)
}

// DedupStatus reports a partition's deduplication state.
func (b *Broker) DedupStatus(topic string, partition int, withCursors bool) (DedupStatus, error) {
	t, err := b.GetTopic(topic)
	if err != nil {
		return DedupStatus{}, err
	}
	p, err := t.Partition(partition)
	if err != nil {
		return DedupStatus{}, err
	}
	return p.DedupStatus(withCursors), nil
}

// =============================================================================
// STATS & METADATA
// =============================================================================

// BrokerStats summarizes broker state for the stats API.
type BrokerStats struct {
	NodeID        string                `json:"nodeId"`
	UptimeSeconds int64                 `json:"uptimeSeconds"`
	TopicCount    int                   `json:"topicCount"`
	Topics        map[string]TopicStats `json:"topics"`
}

// TopicStats summarizes one topic.
type TopicStats struct {
	Namespace        string        `json:"namespace"`
	Partitions       int           `json:"partitions"`
	SizeBytes        int64         `json:"sizeBytes"`
	NextOffsets      map[int]int64 `json:"nextOffsets"`
	TrackedProducers int           `json:"trackedProducers"`
	DedupEnabled     bool          `json:"deduplicationEnabled"`
}

// Stats returns a snapshot of broker state.
func (b *Broker) Stats() BrokerStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	stats := BrokerStats{
		NodeID:        b.nodeID,
		UptimeSeconds: int64(time.Since(b.startedAt).Seconds()),
		TopicCount:    len(b.topics),
		Topics:        make(map[string]TopicStats, len(b.topics)),
	}
	for name, t := range b.topics {
		stats.Topics[name] = TopicStats{
			Namespace:        t.Namespace(),
			Partitions:       t.NumPartitions(),
			SizeBytes:        t.TotalSize(),
			NextOffsets:      t.NextOffsets(),
			TrackedProducers: t.TrackedProducers(),
			DedupEnabled:     b.policies.IsDeduplicationEnabled(t.Namespace()),
		}
	}
	return stats
}

// NodeID returns this broker's instance identifier.
func (b *Broker) NodeID() string {
	return b.nodeID
}

// DataDir returns the root data directory.
func (b *Broker) DataDir() string {
	return b.config.DataDir
}

// Uptime returns time since broker start.
func (b *Broker) Uptime() time.Duration {
	return time.Since(b.startedAt)
}
