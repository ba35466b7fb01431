// =============================================================================
// TOPIC - LOGICAL MESSAGE STREAM
// =============================================================================
//
// A topic is a named stream producers publish to and consumers read from.
// Topic names may carry a namespace prefix ("orders/payments"): the
// namespace is the policy boundary for deduplication, the topic is the
// data boundary.
//
//   ┌────────────────────────────────────────────────────────────┐
//   │                 Topic: "orders/payments"                   │
//   │                                                            │
//   │   ┌──────────────┐   ┌──────────────┐   ┌──────────────┐   │
//   │   │ Partition 0  │   │ Partition 1  │   │ Partition 2  │   │
//   │   │ [msg][msg]…  │   │ [msg][msg]…  │   │ [msg][msg]…  │   │
//   │   │ cursors{…}   │   │ cursors{…}   │   │ cursors{…}   │   │
//   │   └──────────────┘   └──────────────┘   └──────────────┘   │
//   │                                                            │
//   │   Keyed publish    → hash(key) mod 3, stable per key       │
//   │   Keyless publish  → round-robin                           │
//   │   Pinned publish   → explicit partition (required for      │
//   │                      keyless retries under dedup)          │
//   └────────────────────────────────────────────────────────────┘
//
// Deduplication cursors are per (partition, producer identity). The topic
// layer only routes; all classification happens inside the partition.
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

	"github.com/craigjames2/pulsar/internal/storage"
)

// =============================================================================
// ERROR DEFINITIONS
// =============================================================================

var (
	// ErrTopicClosed means operations attempted on a closed topic
	ErrTopicClosed = errors.New("topic is closed")

	// ErrTopicExists means trying to create a topic that already exists
	ErrTopicExists = errors.New("topic already exists")

	// ErrTopicNotFound means the topic doesn't exist
	ErrTopicNotFound = errors.New("topic not found")

	// ErrInvalidPartition means a partition index outside the topic's range
	ErrInvalidPartition = errors.New("invalid partition")
)

// =============================================================================
// TOPIC CONFIGURATION
// =============================================================================

// TopicConfig holds per-topic settings.
type TopicConfig struct {
	// Name is the topic identifier, optionally namespace-qualified
	// ("payments" or "orders/payments").
	Name string

	// NumPartitions is how many partitions to create.
	NumPartitions int
}

// DefaultTopicConfig returns the default topic configuration.
func DefaultTopicConfig(name string) TopicConfig {
	return TopicConfig{
		Name:          name,
		NumPartitions: 3,
	}
}

// =============================================================================
// TOPIC STRUCT
// =============================================================================

// Topic is a logical message stream with one or more partitions.
type Topic struct {
	config      TopicConfig
	partitions  []*Partition
	partitioner Partitioner
	baseDir     string
	mu          sync.RWMutex
	createdAt   time.Time
	closed      bool
}

// =============================================================================
// TOPIC CREATION & LOADING
// =============================================================================

// NewTopic creates a topic and its partition directories under
// baseDir/{name}/{partition}.
func NewTopic(baseDir string, config TopicConfig, dedupConfig DedupConfig, policies *NamespacePolicies, logger *slog.Logger) (*Topic, error) {
	if config.NumPartitions <= 0 {
		config.NumPartitions = 1
	}

	topicDir := filepath.Join(baseDir, filepath.FromSlash(config.Name))
	if _, err := os.Stat(topicDir); err == nil {
		return nil, ErrTopicExists
	}
	if err := os.MkdirAll(topicDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create topic directory: %w", err)
	}

	partitions := make([]*Partition, config.NumPartitions)
	for i := 0; i < config.NumPartitions; i++ {
		p, err := OpenPartition(baseDir, config.Name, i, dedupConfig, policies, logger)
		if err != nil {
			for j := 0; j < i; j++ {
				partitions[j].Close()
			}
			return nil, fmt.Errorf("failed to create partition %d: %w", i, err)
		}
		partitions[i] = p
	}

	return &Topic{
		config:      config,
		partitions:  partitions,
		partitioner: NewHashPartitioner(),
		baseDir:     baseDir,
		createdAt:   time.Now(),
	}, nil
}

// LoadTopic opens an existing topic, discovering its partitions from the
// numbered directories under baseDir/{name}/.
func LoadTopic(baseDir, name string, dedupConfig DedupConfig, policies *NamespacePolicies, logger *slog.Logger) (*Topic, error) {
	topicDir := filepath.Join(baseDir, filepath.FromSlash(name))

	stat, err := os.Stat(topicDir)
	if os.IsNotExist(err) {
		return nil, ErrTopicNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat topic directory: %w", err)
	}
	if !stat.IsDir() {
		return nil, fmt.Errorf("topic path is not a directory: %s", topicDir)
	}

	entries, err := os.ReadDir(topicDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read topic directory: %w", err)
	}

	maxID := -1
	ids := make(map[int]bool)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		var id int
		if _, err := fmt.Sscanf(entry.Name(), "%d", &id); err == nil && id >= 0 {
			ids[id] = true
			if id > maxID {
				maxID = id
			}
		}
	}
	if maxID < 0 {
		return nil, fmt.Errorf("no partitions found for topic %s", name)
	}

	partitions := make([]*Partition, maxID+1)
	for id := 0; id <= maxID; id++ {
		if !ids[id] {
			return nil, fmt.Errorf("partition %d missing for topic %s", id, name)
		}
		p, err := OpenPartition(baseDir, name, id, dedupConfig, policies, logger)
		if err != nil {
			for j := 0; j < id; j++ {
				partitions[j].Close()
			}
			return nil, fmt.Errorf("failed to load partition %d: %w", id, err)
		}
		partitions[id] = p
	}

	return &Topic{
		config: TopicConfig{
			Name:          name,
			NumPartitions: len(partitions),
		},
		partitions:  partitions,
		partitioner: NewHashPartitioner(),
		baseDir:     baseDir,
		createdAt:   time.Now(), // creation time is not persisted
	}, nil
}

// =============================================================================
// PRODUCER OPERATIONS
// =============================================================================

// Publish routes a message to a partition and appends it there, subject to
// deduplication. Keyed messages hash to a stable partition; keyless
// messages go round-robin.
//
// DEDUP CAVEAT: a keyless retry may round-robin to a different partition
// than the original and thus not be recognized as a duplicate. Producers
// that need exactly-once for keyless messages must use PublishToPartition.
func (t *Topic) Publish(producer string, sequenceID int64, key, value []byte) (partition int, result PublishResult, err error) {
	t.mu.RLock()
	if t.closed {
		t.mu.RUnlock()
		return 0, PublishResult{}, ErrTopicClosed
	}
	numPartitions := len(t.partitions)
	t.mu.RUnlock()

	partition = t.partitioner.Partition(key, numPartitions)

	result, err = t.partitions[partition].Publish(producer, sequenceID, key, value)
	if err != nil {
		return 0, PublishResult{}, fmt.Errorf("failed to publish to partition %d: %w", partition, err)
	}
	return partition, result, nil
}

// PublishToPartition appends directly to a specific partition, bypassing
// routing. This is how producers pin keyless messages for deduplication.
func (t *Topic) PublishToPartition(partition int, producer string, sequenceID int64, key, value []byte) (PublishResult, error) {
	t.mu.RLock()
	if t.closed {
		t.mu.RUnlock()
		return PublishResult{}, ErrTopicClosed
	}
	if partition < 0 || partition >= len(t.partitions) {
		t.mu.RUnlock()
		return PublishResult{}, fmt.Errorf("%w %d (topic has %d partitions)", ErrInvalidPartition, partition, len(t.partitions))
	}
	p := t.partitions[partition]
	t.mu.RUnlock()

	return p.Publish(producer, sequenceID, key, value)
}

// =============================================================================
// CONSUMER OPERATIONS
// =============================================================================

// Consume reads messages from a specific partition starting at fromOffset.
func (t *Topic) Consume(partition int, fromOffset int64, maxMessages int) ([]*storage.Entry, error) {
	t.mu.RLock()
	if t.closed {
		t.mu.RUnlock()
		return nil, ErrTopicClosed
	}
	if partition < 0 || partition >= len(t.partitions) {
		t.mu.RUnlock()
		return nil, fmt.Errorf("%w %d", ErrInvalidPartition, partition)
	}
	p := t.partitions[partition]
	t.mu.RUnlock()

	return p.Consume(fromOffset, maxMessages)
}

// =============================================================================
// TOPIC METADATA
// =============================================================================

// Name returns the topic name.
func (t *Topic) Name() string {
	return t.config.Name
}

// Namespace returns the namespace the topic belongs to.
func (t *Topic) Namespace() string {
	return NamespaceOf(t.config.Name)
}

// NumPartitions returns the number of partitions.
func (t *Topic) NumPartitions() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.partitions)
}

// Partition returns a specific partition by ID.
func (t *Topic) Partition(id int) (*Partition, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if id < 0 || id >= len(t.partitions) {
		return nil, fmt.Errorf("partition %d not found", id)
	}
	return t.partitions[id], nil
}

// NextOffsets returns the next offset for each partition.
func (t *Topic) NextOffsets() map[int]int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	offsets := make(map[int]int64, len(t.partitions))
	for i, p := range t.partitions {
		offsets[i] = p.NextOffset()
	}
	return offsets
}

// TotalSize returns total size in bytes across all partitions.
func (t *Topic) TotalSize() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var total int64
	for _, p := range t.partitions {
		total += p.Size()
	}
	return total
}

// TrackedProducers returns the total number of deduplication cursors
// across all partitions.
func (t *Topic) TrackedProducers() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var total int
	for _, p := range t.partitions {
		total += p.Tracker().TrackedProducers()
	}
	return total
}

// =============================================================================
// MAINTENANCE & LIFECYCLE
// =============================================================================

// EvictInactiveProducers sweeps idle deduplication cursors on every
// partition and returns the total number evicted.
func (t *Topic) EvictInactiveProducers(now time.Time) int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var total int
	for _, p := range t.partitions {
		total += p.EvictInactiveProducers(now)
	}
	return total
}

// Sync forces all partitions to stable storage.
func (t *Topic) Sync() error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.closed {
		return ErrTopicClosed
	}
	for i, p := range t.partitions {
		if err := p.Sync(); err != nil {
			return fmt.Errorf("failed to sync partition %d: %w", i, err)
		}
	}
	return nil
}

// Close closes all partitions.
func (t *Topic) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	var errs []error
	for i, p := range t.partitions {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("partition %d: %w", i, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing topic: %v", errs)
	}
	return nil
}

// Delete closes the topic and removes all its data.
func (t *Topic) Delete() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, p := range t.partitions {
		p.Close()
	}
	t.closed = true

	topicDir := filepath.Join(t.baseDir, filepath.FromSlash(t.config.Name))
	if err := os.RemoveAll(topicDir); err != nil {
		return fmt.Errorf("failed to delete topic directory: %w", err)
	}
	return nil
}
