// =============================================================================
// DEDUPLICATION TRACKER - EXACTLY-ONCE STORAGE FOR PRODUCERS
// =============================================================================
//
// WHAT IS THIS?
// The per-partition component that decides, for every publish attempt,
// whether the message was already durably stored, and suppresses duplicate
// storage while confirming the originally assigned position back to the
// producer.
//
// WHY DO WE NEED THIS?
//
//   WITHOUT DEDUPLICATION (at-least-once):
//   ┌──────────┐   send msg   ┌────────┐   write   ┌─────────┐
//   │ Producer │─────────────►│ Broker │──────────►│   Log   │
//   └──────────┘              └────────┘           └─────────┘
//        │                         │
//        │     ACK lost!           │  (msg written successfully)
//        │◄────────────X───────────│
//        │
//        │     retry (timeout)
//        │─────────────────────────►  DUPLICATE!
//
//   WITH DEDUPLICATION (exactly-once storage):
//   ┌──────────┐   send msg   ┌────────┐   check   ┌──────────────────┐
//   │ Producer │─────────────►│ Broker │──────────►│ Cursor map       │
//   │ name=P1  │              └────────┘           │ P1 → seq 42      │
//   │ seq=42   │                   │               └──────────────────┘
//   └──────────┘                   │  seq 42 already accepted
//        │     ACK (idempotent)    │
//        │◄────────────────────────│  Nothing written, original
//        │                         │  position confirmed instead
//
// HOW IT WORKS:
// Per producer identity the tracker keeps a CURSOR: the highest sequence id
// already accepted. Classification is last-highest-wins, not gap-filling:
//
//   seq > cursor   → Accept, advance cursor
//   seq <= cursor  → Duplicate, cursor unchanged
//
// A producer that connects without a name cannot be correlated across
// retries, so every one of its messages is accepted as-is.
//
// DURABILITY MODEL (event sourcing):
// Cursors are never persisted ahead of messages because cursors are DERIVED
// from messages: every accepted entry carries its producer name and sequence
// id, and recovery replays the log tail through the same classification
// path. A periodic snapshot entry checkpoints the full cursor map so the
// replayed tail stays bounded by brokerDeduplicationEntriesInterval.
//
// MEMORY MODEL:
// Cursors for producers idle past the inactivity timeout are swept, and the
// map is capped at brokerDeduplicationMaxNumberOfProducers identities. Both
// bounds trade correctness for memory: a publish from an evicted identity
// with an old sequence id is accepted again. That is the documented
// behavior, not a bug.
//
// CONCURRENCY:
// One RWMutex over the cursor map plus one mutex per cursor. Publishes for
// different identities run in parallel (shared map lock, distinct cursor
// locks); publishes for the same identity are serialized, since comparing
// against the cursor is not commutative. Snapshots and sweeps take the map
// lock exclusively, which also makes the point-in-time copy consistent with
// the log position captured alongside it. Ordering of same-identity
// publishes arriving over multiple connections is the caller's contract.
//
// =============================================================================

package broker

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/craigjames2/pulsar/internal/storage"
)

// =============================================================================
// ERROR DEFINITIONS
// =============================================================================

var (
	// ErrInvalidSequenceID means a named producer sent a negative sequence id
	ErrInvalidSequenceID = errors.New("sequence id must be non-negative")

	// ErrSnapshotCorrupt means the latest cursor snapshot cannot be decoded.
	// Fatal for partition load: silently dropping cursor state would let
	// replays re-append, which is exactly what the tracker exists to prevent.
	ErrSnapshotCorrupt = errors.New("deduplication snapshot corrupted")
)

// =============================================================================
// DECISIONS
// =============================================================================

// Decision is the outcome of classifying one publish attempt.
type Decision int

const (
	// DecisionAccept means the message was durably appended.
	DecisionAccept Decision = iota

	// DecisionDuplicate means the message was already stored; nothing
	// was appended and the producer gets the original confirmation.
	DecisionDuplicate
)

// String returns the decision name as used in logs and metric labels.
func (d Decision) String() string {
	switch d {
	case DecisionAccept:
		return "accept"
	case DecisionDuplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// PublishResult is what the publish path reports back to the producer.
type PublishResult struct {
	// Decision is Accept or Duplicate.
	Decision Decision

	// Offset is the assigned log offset on Accept. On Duplicate it is the
	// offset of the ORIGINAL accept when retrievable (exact replay of the
	// highest sequence id), or -1 for older replays whose position is no
	// longer tracked. Either way the producer sees success, not an error.
	Offset int64
}

// =============================================================================
// CONFIGURATION
// =============================================================================

// DedupConfig holds the tracker tunables. Field semantics follow the broker
// configuration keys of the same names.
type DedupConfig struct {
	// MaxProducers caps tracked identities per partition
	// (brokerDeduplicationMaxNumberOfProducers).
	MaxProducers int

	// EntriesInterval is the accepted-entry count between snapshots
	// (brokerDeduplicationEntriesInterval).
	EntriesInterval int

	// InactivityTimeout is how long an identity may stay idle before its
	// cursor is swept (brokerDeduplicationProducerInactivityTimeoutMinutes).
	InactivityTimeout time.Duration
}

// DefaultDedupConfig returns the documented defaults.
func DefaultDedupConfig() DedupConfig {
	return DedupConfig{
		MaxProducers:      10000,
		EntriesInterval:   1000,
		InactivityTimeout: 360 * time.Minute,
	}
}

// =============================================================================
// CURSOR STATE
// =============================================================================

// producerCursor is the tracked state for one producer identity.
//
// INVARIANT: highestSequenceID is non-decreasing for the life of the cursor.
type producerCursor struct {
	// mu serializes publishes for this identity
	mu sync.Mutex

	// highestSequenceID is the highest sequence id accepted (-1 = none)
	highestSequenceID int64

	// lastOffset is the log offset of that accept (-1 = none)
	lastOffset int64

	// lastActive is the inactivity record, updated on every publish
	// attempt including duplicates (a retry is still activity)
	lastActive time.Time
}

// CursorState is the externally visible form of one cursor, used by
// snapshots and the admin status endpoint.
type CursorState struct {
	SequenceID int64     `json:"sequenceId"`
	LastOffset int64     `json:"lastOffset"`
	LastActive time.Time `json:"lastActive"`
}

// cursorSnapshot is the serialized checkpoint payload.
//
// TakenAtOffset is the log offset captured atomically with the cursor copy:
// every entry at or past it must be replayed on recovery, everything before
// it is fully reflected in Cursors.
type cursorSnapshot struct {
	TakenAtOffset int64                  `json:"takenAtOffset"`
	TakenAt       time.Time              `json:"takenAt"`
	Cursors       map[string]CursorState `json:"cursors"`
}

// =============================================================================
// TRACKER
// =============================================================================

// DedupTracker tracks deduplication cursors for a single partition.
//
// The tracker owns the decision, the append, and the cursor advance as one
// serialized step per identity, so a crash between them cannot produce a
// cursor that is durable ahead of its message.
type DedupTracker struct {
	topic     string
	partition int
	config    DedupConfig
	log       *storage.Log
	logger    *slog.Logger

	// mu guards the cursors map. Publishes hold it shared; snapshot,
	// sweep, and identity creation hold it exclusively.
	mu      sync.RWMutex
	cursors map[string]*producerCursor

	// sinceSnapshot counts accepted entries since the last checkpoint
	sinceSnapshot atomic.Int64
}

// NewDedupTracker creates the tracker for a partition and recovers cursor
// state from the partition's log (latest snapshot plus tail replay).
func NewDedupTracker(topic string, partition int, config DedupConfig, log *storage.Log, logger *slog.Logger) (*DedupTracker, error) {
	if logger == nil {
		logger = slog.Default()
	}

	t := &DedupTracker{
		topic:     topic,
		partition: partition,
		config:    config,
		log:       log,
		logger: logger.With(
			"component", "dedup",
			"topic", topic,
			"partition", partition,
		),
		cursors: make(map[string]*producerCursor),
	}

	if err := t.recover(); err != nil {
		return nil, err
	}

	return t, nil
}

// =============================================================================
// PUBLISH PATH
// =============================================================================

// CheckAndRecord classifies one publish attempt and, on Accept, durably
// appends the message.
//
// PRECONDITION: producer must be stable for the life of the producer's
// connection. An empty producer name disables deduplication for that
// message - it is appended unconditionally.
//
// FAILURE: a storage error is returned without advancing any cursor, so the
// producer's retry (same identity, same sequence id) is re-evaluated from
// scratch - the tracker absorbs it on the next attempt.
func (t *DedupTracker) CheckAndRecord(producer string, sequenceID int64, key, value []byte) (PublishResult, error) {
	// Anonymous producer: no correlation key, no deduplication.
	if producer == "" {
		offset, err := t.log.Append(storage.NewEntry("", storage.NoSequenceID, key, value))
		if err != nil {
			return PublishResult{}, fmt.Errorf("failed to append message: %w", err)
		}
		return PublishResult{Decision: DecisionAccept, Offset: offset}, nil
	}

	if sequenceID < 0 {
		return PublishResult{}, fmt.Errorf("%w: got %d", ErrInvalidSequenceID, sequenceID)
	}

	result, err := t.classifyAndAppend(producer, sequenceID, key, value)
	if err != nil {
		return PublishResult{}, err
	}

	InstrumentDedupDecision(t.topic, result.Decision)

	// Snapshot trigger runs with no locks held: Snapshot() needs the map
	// lock exclusively, and a publisher still inside the locked section
	// must never wait on it.
	if result.Decision == DecisionAccept {
		t.maybeSnapshot()
	}

	return result, nil
}

// classifyAndAppend is the serialized decision-plus-append step for one
// named producer.
func (t *DedupTracker) classifyAndAppend(producer string, sequenceID int64, key, value []byte) (PublishResult, error) {
	cursor := t.getOrCreateCursor(producer)

	t.mu.RLock()
	defer t.mu.RUnlock()

	cursor.mu.Lock()
	defer cursor.mu.Unlock()

	cursor.lastActive = time.Now()

	// Last-highest-wins: both exact replays and out-of-order replays of
	// older sequence ids classify as Duplicate. No gap-filling.
	if sequenceID <= cursor.highestSequenceID {
		prior := int64(-1)
		if sequenceID == cursor.highestSequenceID {
			prior = cursor.lastOffset
		}
		return PublishResult{Decision: DecisionDuplicate, Offset: prior}, nil
	}

	offset, err := t.log.Append(storage.NewEntry(producer, sequenceID, key, value))
	if err != nil {
		// No cursor advance: the publish fails back to the producer as
		// retryable and the retry is classified fresh.
		return PublishResult{}, fmt.Errorf("failed to append message: %w", err)
	}

	cursor.highestSequenceID = sequenceID
	cursor.lastOffset = offset

	return PublishResult{Decision: DecisionAccept, Offset: offset}, nil
}

// getOrCreateCursor returns the cursor for an identity, creating it (and
// enforcing the capacity cap) when first seen.
func (t *DedupTracker) getOrCreateCursor(producer string) *producerCursor {
	t.mu.RLock()
	cursor, ok := t.cursors[producer]
	t.mu.RUnlock()
	if ok {
		return cursor
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// Re-check: another publisher may have created it meanwhile.
	if cursor, ok = t.cursors[producer]; ok {
		return cursor
	}

	// CAPACITY GUARD: evict the least-recently-active identity to make
	// room. Deterministic by lastActive (ties broken by name so tests and
	// operators see stable behavior). The evicted identity loses its
	// cursor - same trade-off as the inactivity sweep.
	if t.config.MaxProducers > 0 && len(t.cursors) >= t.config.MaxProducers {
		victim := t.leastRecentlyActiveLocked()
		delete(t.cursors, victim)
		t.logger.Warn("producer cap reached, evicted least-recently-active cursor",
			"evicted", victim,
			"max_producers", t.config.MaxProducers,
		)
		InstrumentDedupEvictions(t.topic, "capacity", 1)
	}

	cursor = &producerCursor{highestSequenceID: -1, lastOffset: -1}
	t.cursors[producer] = cursor
	InstrumentTrackedProducers(t.topic, t.partition, len(t.cursors))
	return cursor
}

// leastRecentlyActiveLocked finds the eviction victim. Caller holds mu
// exclusively, so no cursor is mid-publish and lastActive reads are safe.
func (t *DedupTracker) leastRecentlyActiveLocked() string {
	var victim string
	var oldest time.Time
	for name, c := range t.cursors {
		if victim == "" || c.lastActive.Before(oldest) ||
			(c.lastActive.Equal(oldest) && name < victim) {
			victim = name
			oldest = c.lastActive
		}
	}
	return victim
}

// =============================================================================
// SNAPSHOTS
// =============================================================================

// maybeSnapshot checkpoints the cursors once enough accepted entries have
// accumulated. Called on the publish path with no locks held; the counter
// swap makes sure exactly one publisher carries out each checkpoint.
//
// A failed write is not retried immediately: the counter was already reset,
// so the next attempt happens at the next interval boundary. Publishes
// continue regardless.
func (t *DedupTracker) maybeSnapshot() {
	if t.config.EntriesInterval <= 0 {
		return
	}

	n := t.sinceSnapshot.Add(1)
	if n < int64(t.config.EntriesInterval) {
		return
	}
	if !t.sinceSnapshot.CompareAndSwap(n, 0) {
		return // another publisher won the race
	}

	if err := t.Snapshot(); err != nil {
		t.logger.Warn("cursor snapshot failed, will retry at next interval",
			"error", err,
		)
	}
}

// Snapshot writes a cursor checkpoint entry to the log.
//
// The copy and the log position are captured atomically under the exclusive
// map lock; serialization and the append happen outside it, so publishes
// are only paused for the duration of a map copy.
func (t *DedupTracker) Snapshot() error {
	t.mu.Lock()
	snap := cursorSnapshot{
		TakenAtOffset: t.log.NextOffset(),
		TakenAt:       time.Now(),
		Cursors:       make(map[string]CursorState, len(t.cursors)),
	}
	for name, c := range t.cursors {
		snap.Cursors[name] = CursorState{
			SequenceID: c.highestSequenceID,
			LastOffset: c.lastOffset,
			LastActive: c.lastActive,
		}
	}
	t.mu.Unlock()

	payload, err := json.Marshal(snap)
	if err != nil {
		InstrumentDedupSnapshot(t.topic, false)
		return fmt.Errorf("failed to serialize cursor snapshot: %w", err)
	}

	if _, err := t.log.Append(storage.NewSnapshotEntry(payload)); err != nil {
		InstrumentDedupSnapshot(t.topic, false)
		return fmt.Errorf("failed to write cursor snapshot: %w", err)
	}
	if err := t.log.Sync(); err != nil {
		InstrumentDedupSnapshot(t.topic, false)
		return fmt.Errorf("failed to sync cursor snapshot: %w", err)
	}

	InstrumentDedupSnapshot(t.topic, true)
	t.logger.Debug("cursor snapshot written",
		"cursors", len(snap.Cursors),
		"taken_at_offset", snap.TakenAtOffset,
	)
	return nil
}

// =============================================================================
// RECOVERY
// =============================================================================

// recover rebuilds cursor state at partition load: restore the latest
// snapshot, then replay every data entry at or past its capture point
// through the same classification rules as a live publish.
//
// COST: bounded by the snapshot interval - the documented reason a larger
// brokerDeduplicationEntriesInterval makes partition loads slower. With no
// valid snapshot the whole retained log is replayed (the slow path).
func (t *DedupTracker) recover() error {
	start := time.Now()

	replayFrom := int64(0)
	snapOffset := t.log.LatestSnapshotOffset()

	if snapOffset >= 0 {
		entry, err := t.log.Read(snapOffset)
		if err != nil {
			return fmt.Errorf("%w: cannot read snapshot at offset %d: %v", ErrSnapshotCorrupt, snapOffset, err)
		}

		var snap cursorSnapshot
		if err := json.Unmarshal(entry.Value, &snap); err != nil {
			// Fatal: masking lost cursor state would silently re-admit
			// duplicates. Operator intervention required.
			return fmt.Errorf("%w: offset %d: %v", ErrSnapshotCorrupt, snapOffset, err)
		}

		for name, state := range snap.Cursors {
			t.cursors[name] = &producerCursor{
				highestSequenceID: state.SequenceID,
				lastOffset:        state.LastOffset,
				lastActive:        state.LastActive,
			}
		}
		replayFrom = snap.TakenAtOffset
	}

	entries, err := t.log.ReadFrom(replayFrom, 0)
	if err != nil {
		return fmt.Errorf("failed to replay log for cursor recovery: %w", err)
	}

	var replayed, sinceSnapshot int64
	for _, e := range entries {
		if e.IsSnapshot() || e.Producer == "" {
			continue
		}
		replayed++
		if e.Offset > snapOffset {
			sinceSnapshot++
		}

		// Same rule as the live path: advance on higher, ignore lower.
		// Entries between the snapshot's capture point and the snapshot
		// entry itself are already reflected and classify as duplicates.
		cursor, ok := t.cursors[e.Producer]
		if !ok {
			if t.config.MaxProducers > 0 && len(t.cursors) >= t.config.MaxProducers {
				delete(t.cursors, t.leastRecentlyActiveLocked())
			}
			cursor = &producerCursor{highestSequenceID: -1, lastOffset: -1}
			t.cursors[e.Producer] = cursor
		}
		if e.SequenceID > cursor.highestSequenceID {
			cursor.highestSequenceID = e.SequenceID
			cursor.lastOffset = e.Offset
		}
		if at := time.Unix(0, e.Timestamp); at.After(cursor.lastActive) {
			cursor.lastActive = at
		}
	}

	t.sinceSnapshot.Store(sinceSnapshot)

	elapsed := time.Since(start)
	InstrumentDedupRecovery(t.topic, elapsed.Seconds())
	InstrumentTrackedProducers(t.topic, t.partition, len(t.cursors))

	t.logger.Info("deduplication cursors recovered",
		"cursors", len(t.cursors),
		"snapshot_offset", snapOffset,
		"replayed_entries", replayed,
		"duration", elapsed,
	)
	return nil
}

// =============================================================================
// EVICTION
// =============================================================================

// EvictInactive sweeps cursors idle past the inactivity timeout and returns
// how many were removed.
//
// This bounds memory, not correctness: once an identity is swept, a replay
// of one of its old sequence ids is accepted again. Documented trade-off.
func (t *DedupTracker) EvictInactive(now time.Time) int {
	if t.config.InactivityTimeout <= 0 {
		return 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	evicted := 0
	for name, c := range t.cursors {
		if now.Sub(c.lastActive) >= t.config.InactivityTimeout {
			delete(t.cursors, name)
			evicted++
		}
	}

	if evicted > 0 {
		InstrumentDedupEvictions(t.topic, "inactivity", evicted)
		InstrumentTrackedProducers(t.topic, t.partition, len(t.cursors))
		t.logger.Info("swept inactive deduplication cursors",
			"evicted", evicted,
			"remaining", len(t.cursors),
		)
	}
	return evicted
}

// =============================================================================
// INTROSPECTION
// =============================================================================

// TrackedProducers returns the number of identities currently tracked.
func (t *DedupTracker) TrackedProducers() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.cursors)
}

// Cursor returns the cursor state for one identity.
func (t *DedupTracker) Cursor(producer string) (CursorState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	c, ok := t.cursors[producer]
	if !ok {
		return CursorState{}, false
	}
	return CursorState{
		SequenceID: c.highestSequenceID,
		LastOffset: c.lastOffset,
		LastActive: c.lastActive,
	}, true
}

// Cursors returns a copy of all cursor states, for the status endpoint.
func (t *DedupTracker) Cursors() map[string]CursorState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]CursorState, len(t.cursors))
	for name, c := range t.cursors {
		out[name] = CursorState{
			SequenceID: c.highestSequenceID,
			LastOffset: c.lastOffset,
			LastActive: c.lastActive,
		}
	}
	return out
}
