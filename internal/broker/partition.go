// =============================================================================
// PARTITION - THE UNIT OF PARALLELISM AND THE PUBLISH DECISION POINT
// =============================================================================
//
// A partition is a totally ordered, append-only sequence of messages. Within
// a partition offsets are dense and sequential, order is read order, and -
// when deduplication is enabled for the topic's namespace - every (producer
// identity, sequence id) pair is stored exactly once.
//
// OWNERSHIP: per-partition state (the log and the deduplication cursors) has
// exactly one logical owner at a time: the broker instance serving the
// partition. Nothing here is shared across partitions.
//
// PUBLISH FLOW:
//
//   Publish(producer, seq, key, value)
//       │
//       ├── namespace policy says dedup DISABLED
//       │       └── append directly (sequence id still recorded in the
//       │           entry, so enabling dedup later can recover cursors)
//       │
//       └── namespace policy says dedup ENABLED
//               └── tracker.CheckAndRecord
//                       ├── Accept    → appended, cursor advanced
//                       └── Duplicate → nothing appended, original
//                                       position confirmed
//
// =============================================================================

package broker

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/craigjames2/pulsar/internal/storage"
)

// =============================================================================
// PARTITION STRUCT
// =============================================================================

// Partition is a single partition within a topic.
type Partition struct {
	topic     string               // owning topic name (may contain a namespace segment)
	id        int                  // partition number within the topic
	log       *storage.Log         // underlying append-only storage
	tracker   *DedupTracker        // deduplication cursors for this partition
	policies  *NamespacePolicies   // resolves whether dedup applies
	dir       string               // directory containing partition data
	logger    *slog.Logger
	createdAt time.Time
	mu        sync.RWMutex // protects closed
	closed    bool
}

// OpenPartition creates or loads a partition, recovering the log and the
// deduplication cursors.
//
// The tracker is always constructed, even when the namespace currently has
// deduplication disabled: policy is dynamic, and recovery is cheap when no
// cursors were ever written.
func OpenPartition(baseDir, topic string, id int, dedupConfig DedupConfig, policies *NamespacePolicies, logger *slog.Logger) (*Partition, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dir := filepath.Join(baseDir, filepath.FromSlash(topic), fmt.Sprintf("%d", id))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create partition directory: %w", err)
	}

	log, err := storage.OpenLog(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open log: %w", err)
	}

	if n := log.TruncatedBytes(); n > 0 {
		logger.Warn("discarded torn tail during partition load",
			"topic", topic,
			"partition", id,
			"bytes", n,
		)
	}

	tracker, err := NewDedupTracker(topic, id, dedupConfig, log, logger)
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("failed to recover deduplication state for %s-%d: %w", topic, id, err)
	}

	return &Partition{
		topic:     topic,
		id:        id,
		log:       log,
		tracker:   tracker,
		policies:  policies,
		dir:       dir,
		logger:    logger,
		createdAt: time.Now(),
	}, nil
}

// =============================================================================
// PRODUCER OPERATIONS
// =============================================================================

// Publish appends a message, deduplicating when the namespace policy says
// so. This is the synchronous decision point inline in the publish path:
// one map lookup and update, plus (rarely) a snapshot write.
func (p *Partition) Publish(producer string, sequenceID int64, key, value []byte) (PublishResult, error) {
	start := time.Now()

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return PublishResult{}, fmt.Errorf("partition %s-%d is closed", p.topic, p.id)
	}
	p.mu.RUnlock()

	if !p.policies.IsDeduplicationEnabled(NamespaceOf(p.topic)) {
		// Dedup off: append directly but keep the identity and sequence
		// id in the entry so a later policy flip recovers full cursors.
		seq := sequenceID
		if producer == "" {
			seq = storage.NoSequenceID
		}
		offset, err := p.log.Append(storage.NewEntry(producer, seq, key, value))
		if err != nil {
			InstrumentPublishError(p.topic, "storage")
			return PublishResult{}, fmt.Errorf("failed to append message: %w", err)
		}
		InstrumentPublish(p.topic, len(value), start)
		return PublishResult{Decision: DecisionAccept, Offset: offset}, nil
	}

	result, err := p.tracker.CheckAndRecord(producer, sequenceID, key, value)
	if err != nil {
		InstrumentPublishError(p.topic, "storage")
		return PublishResult{}, err
	}

	if result.Decision == DecisionAccept {
		InstrumentPublish(p.topic, len(value), start)
	}
	return result, nil
}

// =============================================================================
// CONSUMER OPERATIONS
// =============================================================================

// Consume reads entries starting from the given offset. Snapshot entries
// are internal bookkeeping and are filtered out.
func (p *Partition) Consume(fromOffset int64, maxEntries int) ([]*storage.Entry, error) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil, fmt.Errorf("partition %s-%d is closed", p.topic, p.id)
	}
	p.mu.RUnlock()

	// Over-read in the presence of snapshot entries is handled by
	// continuing the scan until maxEntries data entries are collected.
	var out []*storage.Entry
	next := fromOffset
	for {
		batch, err := p.log.ReadFrom(next, maxEntries)
		if err != nil {
			return nil, fmt.Errorf("failed to read messages: %w", err)
		}
		if len(batch) == 0 {
			break
		}
		for _, e := range batch {
			next = e.Offset + 1
			if e.IsSnapshot() {
				continue
			}
			out = append(out, e)
			if maxEntries > 0 && len(out) >= maxEntries {
				return out, nil
			}
		}
		if maxEntries == 0 {
			break
		}
	}
	return out, nil
}

// ReadEntry reads a single entry at the given offset.
func (p *Partition) ReadEntry(offset int64) (*storage.Entry, error) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil, fmt.Errorf("partition %s-%d is closed", p.topic, p.id)
	}
	p.mu.RUnlock()

	return p.log.Read(offset)
}

// =============================================================================
// DEDUPLICATION MAINTENANCE
// =============================================================================

// EvictInactiveProducers sweeps idle deduplication cursors.
func (p *Partition) EvictInactiveProducers(now time.Time) int {
	return p.tracker.EvictInactive(now)
}

// DedupStatus describes the partition's deduplication state for operators.
type DedupStatus struct {
	Enabled          bool                   `json:"enabled"`
	TrackedProducers int                    `json:"trackedProducers"`
	Cursors          map[string]CursorState `json:"cursors,omitempty"`
}

// DedupStatus reports the tracker state. Cursors are included only when
// withCursors is set - ten thousand identities make a big JSON document.
func (p *Partition) DedupStatus(withCursors bool) DedupStatus {
	status := DedupStatus{
		Enabled:          p.policies.IsDeduplicationEnabled(NamespaceOf(p.topic)),
		TrackedProducers: p.tracker.TrackedProducers(),
	}
	if withCursors {
		status.Cursors = p.tracker.Cursors()
	}
	return status
}

// Tracker exposes the tracker for tests and the status API.
func (p *Partition) Tracker() *DedupTracker {
	return p.tracker
}

// =============================================================================
// METADATA
// =============================================================================

// Topic returns the topic name.
func (p *Partition) Topic() string {
	return p.topic
}

// ID returns the partition number.
func (p *Partition) ID() int {
	return p.id
}

// Name returns the full partition identifier.
func (p *Partition) Name() string {
	return fmt.Sprintf("%s-%d", p.topic, p.id)
}

// NextOffset returns the next offset the log will assign.
func (p *Partition) NextOffset() int64 {
	return p.log.NextOffset()
}

// Size returns the partition's on-disk size in bytes.
func (p *Partition) Size() int64 {
	return p.log.Size()
}

// Dir returns the partition directory path.
func (p *Partition) Dir() string {
	return p.dir
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Sync forces all data to stable storage.
func (p *Partition) Sync() error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return fmt.Errorf("partition %s-%d is closed", p.topic, p.id)
	}
	p.mu.RUnlock()

	return p.log.Sync()
}

// Close closes the partition, releasing resources.
func (p *Partition) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	if err := p.log.Close(); err != nil {
		return fmt.Errorf("failed to close log: %w", err)
	}
	return nil
}

// Delete closes and removes all partition data.
func (p *Partition) Delete() error {
	if err := p.Close(); err != nil {
		return err
	}
	if err := os.RemoveAll(p.dir); err != nil {
		return fmt.Errorf("failed to delete partition directory: %w", err)
	}
	return nil
}
