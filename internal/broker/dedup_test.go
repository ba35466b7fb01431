// =============================================================================
// DEDUPLICATION TRACKER TESTS
// =============================================================================
//
// These tests verify exactly-once storage per producer identity: retry
// suppression, last-highest-wins classification, snapshot/replay recovery,
// the capacity guard, and the inactivity sweep.
//
// TEST CATEGORIES:
//   1. Classification: accept, exact replay, older replay, gaps
//   2. Anonymous and invalid publishes
//   3. Recovery: snapshot restore, tail replay, corrupt snapshots
//   4. Capacity guard and inactivity eviction
//   5. Concurrent access: distinct identities in parallel
//
// =============================================================================

package broker

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/craigjames2/pulsar/internal/storage"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// testDedupConfig returns a config suitable for tests: tiny snapshot
// interval so checkpoint paths run, generous timeout so nothing is swept
// unless a test asks for it.
func testDedupConfig() DedupConfig {
	return DedupConfig{
		MaxProducers:      100,
		EntriesInterval:   5,
		InactivityTimeout: time.Hour,
	}
}

// newTestTracker opens a fresh log in dir and builds a tracker over it.
func newTestTracker(t *testing.T, dir string, config DedupConfig) (*DedupTracker, *storage.Log) {
	t.Helper()

	log, err := storage.OpenLog(dir)
	if err != nil {
		t.Fatalf("OpenLog() error = %v", err)
	}
	tracker, err := NewDedupTracker("orders/payments", 0, config, log, nil)
	if err != nil {
		t.Fatalf("NewDedupTracker() error = %v", err)
	}
	return tracker, log
}

func mustAccept(t *testing.T, tracker *DedupTracker, producer string, seq int64) int64 {
	t.Helper()

	result, err := tracker.CheckAndRecord(producer, seq, nil, []byte(fmt.Sprintf("msg-%d", seq)))
	if err != nil {
		t.Fatalf("CheckAndRecord(%s, %d) error = %v", producer, seq, err)
	}
	if result.Decision != DecisionAccept {
		t.Fatalf("CheckAndRecord(%s, %d) decision = %v, want accept", producer, seq, result.Decision)
	}
	return result.Offset
}

// =============================================================================
// CLASSIFICATION TESTS
// =============================================================================

func TestDedupTracker_AcceptThenDuplicate(t *testing.T) {
	// SCENARIO:
	// A producer publishes sequence ids 1, 2, 3. The ACK for 2 is lost and
	// the producer retries 2, then continues with 4. The retry must be
	// classified as a duplicate without being stored again.

	tracker, log := newTestTracker(t, t.TempDir(), testDedupConfig())
	defer log.Close()

	mustAccept(t, tracker, "billing-7", 1)
	mustAccept(t, tracker, "billing-7", 2)
	mustAccept(t, tracker, "billing-7", 3)

	sizeBefore := log.NextOffset()

	// Retry of 2: older than the cursor's highest (3), so its original
	// offset is no longer tracked.
	result, err := tracker.CheckAndRecord("billing-7", 2, nil, []byte("msg-2"))
	if err != nil {
		t.Fatalf("CheckAndRecord() error = %v", err)
	}
	if result.Decision != DecisionDuplicate {
		t.Errorf("retry decision = %v, want duplicate", result.Decision)
	}
	if result.Offset != -1 {
		t.Errorf("older replay offset = %d, want -1", result.Offset)
	}
	if log.NextOffset() != sizeBefore {
		t.Errorf("log grew on duplicate: next offset %d, want %d", log.NextOffset(), sizeBefore)
	}
	// Life goes on: 4 is accepted.
	mustAccept(t, tracker, "billing-7", 4)
}

func TestDedupTracker_ExactReplayReturnsOriginalOffset(t *testing.T) {
	// SCENARIO:
	// The highest sequence id is retried (classic lost-ACK). The tracker
	// still knows where that message landed and confirms the original
	// offset.

	tracker, log := newTestTracker(t, t.TempDir(), testDedupConfig())
	defer log.Close()

	original := mustAccept(t, tracker, "billing-7", 42)

	result, err := tracker.CheckAndRecord("billing-7", 42, nil, []byte("msg-42"))
	if err != nil {
		t.Fatalf("CheckAndRecord() error = %v", err)
	}
	if result.Decision != DecisionDuplicate {
		t.Errorf("decision = %v, want duplicate", result.Decision)
	}
	if result.Offset != original {
		t.Errorf("offset = %d, want original %d", result.Offset, original)
	}
}

func TestDedupTracker_GapsAreAccepted(t *testing.T) {
	// SCENARIO:
	// Sequence ids need not be contiguous - a producer may batch or skip
	// ids. 10 then 20 are both accepted; 15 (between them, below the
	// cursor) is a duplicate.

	tracker, log := newTestTracker(t, t.TempDir(), testDedupConfig())
	defer log.Close()

	mustAccept(t, tracker, "p", 10)
	mustAccept(t, tracker, "p", 20)

	result, err := tracker.CheckAndRecord("p", 15, nil, []byte("late"))
	if err != nil {
		t.Fatalf("CheckAndRecord() error = %v", err)
	}
	if result.Decision != DecisionDuplicate {
		t.Errorf("decision for seq 15 after 20 = %v, want duplicate", result.Decision)
	}

	state, ok := tracker.Cursor("p")
	if !ok {
		t.Fatal("cursor for p not found")
	}
	if state.SequenceID != 20 {
		t.Errorf("cursor sequence id = %d, want 20", state.SequenceID)
	}
}

func TestDedupTracker_IdentitiesAreIndependent(t *testing.T) {
	// SCENARIO:
	// Two producers use overlapping sequence id ranges. Each is tracked
	// against its own cursor.

	tracker, log := newTestTracker(t, t.TempDir(), testDedupConfig())
	defer log.Close()

	mustAccept(t, tracker, "alpha", 5)
	mustAccept(t, tracker, "beta", 5) // same id, different identity

	result, err := tracker.CheckAndRecord("alpha", 5, nil, []byte("x"))
	if err != nil {
		t.Fatalf("CheckAndRecord() error = %v", err)
	}
	if result.Decision != DecisionDuplicate {
		t.Errorf("alpha seq 5 replay = %v, want duplicate", result.Decision)
	}
	if got := tracker.TrackedProducers(); got != 2 {
		t.Errorf("TrackedProducers() = %d, want 2", got)
	}
}

func TestDedupTracker_AnonymousAlwaysAccepted(t *testing.T) {
	// SCENARIO:
	// Messages without a producer name cannot be correlated across
	// retries: every publish is accepted and no cursor is created.

	tracker, log := newTestTracker(t, t.TempDir(), testDedupConfig())
	defer log.Close()

	for i := 0; i < 3; i++ {
		result, err := tracker.CheckAndRecord("", 0, nil, []byte("same payload"))
		if err != nil {
			t.Fatalf("CheckAndRecord() error = %v", err)
		}
		if result.Decision != DecisionAccept {
			t.Errorf("anonymous publish %d = %v, want accept", i, result.Decision)
		}
	}
	if got := tracker.TrackedProducers(); got != 0 {
		t.Errorf("TrackedProducers() = %d, want 0", got)
	}
}

func TestDedupTracker_NegativeSequenceRejected(t *testing.T) {
	tracker, log := newTestTracker(t, t.TempDir(), testDedupConfig())
	defer log.Close()

	_, err := tracker.CheckAndRecord("p", -1, nil, []byte("x"))
	if !errors.Is(err, ErrInvalidSequenceID) {
		t.Fatalf("CheckAndRecord() error = %v, want ErrInvalidSequenceID", err)
	}
}

// =============================================================================
// RECOVERY TESTS
// =============================================================================

func TestDedupTracker_RecoveryWithoutSnapshot(t *testing.T) {
	// SCENARIO:
	// Broker restarts before any snapshot was written. The whole log is
	// replayed and the cursors come back; a retry of an old sequence id
	// is still recognized.

	dir := t.TempDir()
	config := testDedupConfig()
	config.EntriesInterval = 1000 // no snapshot in this test

	tracker, log := newTestTracker(t, dir, config)
	mustAccept(t, tracker, "billing-7", 1)
	mustAccept(t, tracker, "billing-7", 2)
	mustAccept(t, tracker, "audit-1", 9)
	log.Close()

	// "Restart": reopen the log, rebuild the tracker.
	tracker2, log2 := newTestTracker(t, dir, config)
	defer log2.Close()

	result, err := tracker2.CheckAndRecord("billing-7", 2, nil, []byte("retry"))
	if err != nil {
		t.Fatalf("CheckAndRecord() after recovery error = %v", err)
	}
	if result.Decision != DecisionDuplicate {
		t.Errorf("retry after recovery = %v, want duplicate", result.Decision)
	}

	state, ok := tracker2.Cursor("audit-1")
	if !ok {
		t.Fatal("cursor audit-1 not recovered")
	}
	if state.SequenceID != 9 {
		t.Errorf("recovered sequence id = %d, want 9", state.SequenceID)
	}
}

func TestDedupTracker_RecoveryFromSnapshotAndTail(t *testing.T) {
	// SCENARIO:
	// Enough messages flow to trigger a snapshot, then more arrive after
	// it. Recovery restores the snapshot AND replays the tail, so cursors
	// reflect everything.

	dir := t.TempDir()
	config := testDedupConfig() // snapshot every 5 accepts

	tracker, log := newTestTracker(t, dir, config)
	for seq := int64(1); seq <= 8; seq++ {
		mustAccept(t, tracker, "billing-7", seq)
	}
	if log.LatestSnapshotOffset() < 0 {
		t.Fatal("expected a snapshot entry after 8 accepts with interval 5")
	}
	log.Close()

	tracker2, log2 := newTestTracker(t, dir, config)
	defer log2.Close()

	state, ok := tracker2.Cursor("billing-7")
	if !ok {
		t.Fatal("cursor not recovered")
	}
	if state.SequenceID != 8 {
		t.Errorf("recovered sequence id = %d, want 8 (snapshot + tail)", state.SequenceID)
	}

	// Both a pre-snapshot and a post-snapshot id replay as duplicates.
	for _, seq := range []int64{3, 8} {
		result, err := tracker2.CheckAndRecord("billing-7", seq, nil, []byte("retry"))
		if err != nil {
			t.Fatalf("CheckAndRecord(%d) error = %v", seq, err)
		}
		if result.Decision != DecisionDuplicate {
			t.Errorf("seq %d after recovery = %v, want duplicate", seq, result.Decision)
		}
	}
}

func TestDedupTracker_ExplicitSnapshotRoundTrip(t *testing.T) {
	// SCENARIO:
	// A snapshot is forced, then more messages arrive. After restart the
	// cursor reflects both snapshot state and the replayed tail.

	dir := t.TempDir()
	config := testDedupConfig()
	config.EntriesInterval = 1000

	tracker, log := newTestTracker(t, dir, config)
	mustAccept(t, tracker, "p", 1)
	if err := tracker.Snapshot(); err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	mustAccept(t, tracker, "p", 2)
	log.Close()

	tracker2, log2 := newTestTracker(t, dir, config)
	defer log2.Close()

	state, _ := tracker2.Cursor("p")
	if state.SequenceID != 2 {
		t.Errorf("recovered sequence id = %d, want 2", state.SequenceID)
	}
}

func TestDedupTracker_CorruptSnapshotIsFatal(t *testing.T) {
	// SCENARIO:
	// The latest snapshot entry holds garbage. Silently ignoring it would
	// re-admit duplicates, so partition load must fail loudly.

	dir := t.TempDir()
	log, err := storage.OpenLog(dir)
	if err != nil {
		t.Fatalf("OpenLog() error = %v", err)
	}
	if _, err := log.Append(storage.NewSnapshotEntry([]byte("not json"))); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	log.Close()

	log2, err := storage.OpenLog(dir)
	if err != nil {
		t.Fatalf("OpenLog() error = %v", err)
	}
	defer log2.Close()

	_, err = NewDedupTracker("orders/payments", 0, testDedupConfig(), log2, nil)
	if !errors.Is(err, ErrSnapshotCorrupt) {
		t.Fatalf("NewDedupTracker() error = %v, want ErrSnapshotCorrupt", err)
	}
}

// =============================================================================
// CAPACITY & EVICTION TESTS
// =============================================================================

func TestDedupTracker_CapacityEvictsLeastRecentlyActive(t *testing.T) {
	// SCENARIO:
	// Cap is 2. Producers A then B publish; C's arrival evicts A (least
	// recently active). A's old sequence id is then accepted again - the
	// documented cost of eviction.

	config := testDedupConfig()
	config.MaxProducers = 2

	tracker, log := newTestTracker(t, t.TempDir(), config)
	defer log.Close()

	mustAccept(t, tracker, "a", 1)
	time.Sleep(2 * time.Millisecond) // make lastActive strictly ordered
	mustAccept(t, tracker, "b", 1)
	time.Sleep(2 * time.Millisecond)
	mustAccept(t, tracker, "c", 1)

	if got := tracker.TrackedProducers(); got != 2 {
		t.Fatalf("TrackedProducers() = %d, want 2", got)
	}
	if _, ok := tracker.Cursor("a"); ok {
		t.Error("cursor a still tracked, want evicted")
	}
	if _, ok := tracker.Cursor("c"); !ok {
		t.Error("cursor c not tracked")
	}

	// A's replay is no longer recognized.
	result, err := tracker.CheckAndRecord("a", 1, nil, []byte("x"))
	if err != nil {
		t.Fatalf("CheckAndRecord() error = %v", err)
	}
	if result.Decision != DecisionAccept {
		t.Errorf("evicted identity replay = %v, want accept", result.Decision)
	}
}

func TestDedupTracker_EvictInactive(t *testing.T) {
	// SCENARIO:
	// A sweep before the timeout elapses removes nothing; a sweep after
	// it removes the idle cursors.

	config := testDedupConfig()
	config.InactivityTimeout = 10 * time.Minute

	tracker, log := newTestTracker(t, t.TempDir(), config)
	defer log.Close()

	mustAccept(t, tracker, "fresh", 1)
	mustAccept(t, tracker, "stale", 1)

	evicted := tracker.EvictInactive(time.Now().Add(5 * time.Minute))
	if evicted != 0 {
		t.Fatalf("EvictInactive() before timeout = %d, want 0", evicted)
	}

	evicted = tracker.EvictInactive(time.Now().Add(time.Hour))
	if evicted != 2 {
		t.Fatalf("EvictInactive() past timeout = %d, want 2", evicted)
	}
	if got := tracker.TrackedProducers(); got != 0 {
		t.Errorf("TrackedProducers() after sweep = %d, want 0", got)
	}
}

// =============================================================================
// CONCURRENCY TESTS
// =============================================================================

func TestDedupTracker_ConcurrentDistinctProducers(t *testing.T) {
	// SCENARIO:
	// Many producers publish in parallel, each with its own monotonically
	// increasing ids. Every publish must be accepted and every cursor
	// must land on its producer's highest id.

	tracker, log := newTestTracker(t, t.TempDir(), testDedupConfig())
	defer log.Close()

	const producers = 8
	const perProducer = 50

	var wg sync.WaitGroup
	errCh := make(chan error, producers)
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			name := fmt.Sprintf("producer-%d", p)
			for seq := int64(0); seq < perProducer; seq++ {
				result, err := tracker.CheckAndRecord(name, seq, nil, []byte("payload"))
				if err != nil {
					errCh <- err
					return
				}
				if result.Decision != DecisionAccept {
					errCh <- fmt.Errorf("%s seq %d: unexpected duplicate", name, seq)
					return
				}
			}
		}(p)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatal(err)
	}

	for p := 0; p < producers; p++ {
		name := fmt.Sprintf("producer-%d", p)
		state, ok := tracker.Cursor(name)
		if !ok {
			t.Fatalf("cursor %s missing", name)
		}
		if state.SequenceID != perProducer-1 {
			t.Errorf("%s sequence id = %d, want %d", name, state.SequenceID, perProducer-1)
		}
	}
}

func TestDedupTracker_ConcurrentRetriesSameProducer(t *testing.T) {
	// SCENARIO:
	// The same (identity, sequence id) arrives from several goroutines at
	// once - an aggressive retry burst. Exactly one attempt may be
	// accepted; the log must hold exactly one copy.

	tracker, log := newTestTracker(t, t.TempDir(), testDedupConfig())
	defer log.Close()

	const attempts = 16
	var wg sync.WaitGroup
	var accepts atomic64

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := tracker.CheckAndRecord("retry-storm", 7, nil, []byte("once"))
			if err != nil {
				t.Error(err)
				return
			}
			if result.Decision == DecisionAccept {
				accepts.add(1)
			}
		}()
	}
	wg.Wait()

	if got := accepts.load(); got != 1 {
		t.Errorf("accepted %d times, want exactly 1", got)
	}
	if got := log.NextOffset(); got != 1 {
		t.Errorf("log holds %d entries, want 1", got)
	}
}

// atomic64 is a tiny counter helper.
type atomic64 struct {
	mu sync.Mutex
	n  int64
}

func (a *atomic64) add(d int64) {
	a.mu.Lock()
	a.n += d
	a.mu.Unlock()
}

func (a *atomic64) load() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.n
}
