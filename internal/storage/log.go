// =============================================================================
// APPEND-ONLY PARTITION LOG
// =============================================================================
//
// WHAT IS THIS?
// The durable storage for one topic partition: an ordered, append-only file
// of entries. Offsets are dense 64-bit integers starting at 0, assigned on
// append, never reused.
//
// WHY APPEND-ONLY?
//   - Sequential writes are orders of magnitude faster than random writes
//   - Writers only touch the end of the file; readers never conflict
//   - The log doubles as the recovery journal: replaying it rebuilds the
//     deduplication cursors, so cursor durability is never ahead of message
//     durability
//
// RECOVERY:
// On load the file is scanned front to back. Every entry is CRC-validated
// and its byte position recorded in an in-memory index. The scan stops at
// the first truncated or corrupted entry and the file is truncated there -
// a torn tail is treated as not-yet-durable, exactly like a write that
// never returned to the producer. The scan also remembers the position of
// the latest snapshot entry so cursor recovery can seek straight to it.
//
// =============================================================================

package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// logFileName is the single log file within a partition directory.
const logFileName = "partition.log"

// =============================================================================
// ERROR DEFINITIONS
// =============================================================================

var (
	// ErrLogClosed means operations were attempted on a closed log
	ErrLogClosed = errors.New("log is closed")

	// ErrOffsetNotFound means the requested offset is not in the log
	ErrOffsetNotFound = errors.New("offset not found")
)

// =============================================================================
// LOG STRUCT
// =============================================================================

// Log is the append-only log for a single partition.
//
// THREAD SAFETY: appends are serialized; reads may run concurrently.
type Log struct {
	// dir is the partition directory containing the log file
	dir string

	// file is the open log file, positioned for appends at 'size'
	file *os.File

	// positions[i] is the byte position of offset i in the file
	positions []int64

	// size is the current durable length of the file
	size int64

	// nextOffset is the offset the next append will receive
	nextOffset int64

	// lastSnapshot is the offset of the latest snapshot entry, -1 if none
	lastSnapshot int64

	// truncated is how many torn-tail bytes the load scan discarded
	truncated int64

	mu     sync.RWMutex
	closed bool
}

// =============================================================================
// CREATION & LOADING
// =============================================================================

// OpenLog opens the log in dir, creating it if needed, and recovers its
// durable contents. Safe to call on an empty or partially written file.
func OpenLog(dir string) (*Log, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	path := filepath.Join(dir, logFileName)
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	l := &Log{
		dir:          dir,
		file:         file,
		lastSnapshot: -1,
	}

	if err := l.recover(); err != nil {
		file.Close()
		return nil, err
	}

	return l, nil
}

// recover scans the file, building the offset index and truncating any
// torn tail. Called once from OpenLog.
func (l *Log) recover() error {
	stat, err := l.file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	fileSize := stat.Size()

	var pos int64
	header := make([]byte, HeaderSize)

	for pos < fileSize {
		// Not even a full header left: torn tail.
		if fileSize-pos < HeaderSize {
			break
		}

		if _, err := l.file.ReadAt(header, pos); err != nil {
			return fmt.Errorf("failed to read entry header at %d: %w", pos, err)
		}

		total, err := DeclaredSize(header)
		if err != nil {
			// Garbage where a header should be: stop here.
			break
		}
		if pos+int64(total) > fileSize {
			// Entry body extends past EOF: torn write.
			break
		}

		buf := make([]byte, total)
		if _, err := l.file.ReadAt(buf, pos); err != nil {
			return fmt.Errorf("failed to read entry at %d: %w", pos, err)
		}

		entry, err := Decode(buf)
		if err != nil {
			// CRC or framing failure: the durable prefix ends here.
			break
		}

		// The stored offset must match the index position, otherwise the
		// file was spliced or mis-written and nothing past here is trusted.
		if entry.Offset != int64(len(l.positions)) {
			break
		}

		if entry.IsSnapshot() {
			l.lastSnapshot = entry.Offset
		}

		l.positions = append(l.positions, pos)
		pos += int64(total)
	}

	// Truncate anything past the last valid entry.
	if pos < fileSize {
		if err := l.file.Truncate(pos); err != nil {
			return fmt.Errorf("failed to truncate torn tail: %w", err)
		}
		l.truncated = fileSize - pos
	}

	l.size = pos
	l.nextOffset = int64(len(l.positions))
	return nil
}

// =============================================================================
// WRITE OPERATIONS
// =============================================================================

// Append writes an entry and returns its assigned offset.
func (l *Log) Append(e *Entry) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return 0, ErrLogClosed
	}

	e.Offset = l.nextOffset

	data, err := e.Encode()
	if err != nil {
		return 0, fmt.Errorf("failed to encode entry: %w", err)
	}

	n, err := l.file.WriteAt(data, l.size)
	if err != nil {
		// A short write leaves a torn tail which the next load truncates.
		return 0, fmt.Errorf("failed to append entry: %w", err)
	}

	l.positions = append(l.positions, l.size)
	l.size += int64(n)
	l.nextOffset++

	if e.IsSnapshot() {
		l.lastSnapshot = e.Offset
	}

	return e.Offset, nil
}

// Sync flushes written entries to stable storage.
func (l *Log) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrLogClosed
	}
	return l.file.Sync()
}

// =============================================================================
// READ OPERATIONS
// =============================================================================

// Read returns the entry at the given offset.
func (l *Log) Read(offset int64) (*Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return nil, ErrLogClosed
	}
	return l.readLocked(offset)
}

// readLocked reads one entry. Caller holds at least a read lock.
func (l *Log) readLocked(offset int64) (*Entry, error) {
	if offset < 0 || offset >= l.nextOffset {
		return nil, ErrOffsetNotFound
	}

	start := l.positions[offset]
	end := l.size
	if offset+1 < l.nextOffset {
		end = l.positions[offset+1]
	}

	buf := make([]byte, end-start)
	if _, err := l.file.ReadAt(buf, start); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read entry at offset %d: %w", offset, err)
	}

	return Decode(buf)
}

// ReadFrom reads entries starting at startOffset.
//
// maxEntries == 0 means no limit. Snapshot entries are included; callers
// serving consumers filter them, callers replaying cursors need them.
func (l *Log) ReadFrom(startOffset int64, maxEntries int) ([]*Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return nil, ErrLogClosed
	}

	if startOffset < 0 {
		startOffset = 0
	}
	if startOffset >= l.nextOffset {
		return []*Entry{}, nil
	}

	var entries []*Entry
	for off := startOffset; off < l.nextOffset; off++ {
		e, err := l.readLocked(off)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
		if maxEntries > 0 && len(entries) >= maxEntries {
			break
		}
	}

	return entries, nil
}

// =============================================================================
// METADATA
// =============================================================================

// NextOffset returns the offset the next append will receive.
func (l *Log) NextOffset() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.nextOffset
}

// LatestSnapshotOffset returns the offset of the most recent snapshot entry,
// or -1 if the log contains none.
func (l *Log) LatestSnapshotOffset() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastSnapshot
}

// Size returns the durable log size in bytes.
func (l *Log) Size() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.size
}

// TruncatedBytes returns how many torn-tail bytes the load scan discarded.
func (l *Log) TruncatedBytes() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.truncated
}

// Dir returns the partition directory.
func (l *Log) Dir() string {
	return l.dir
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Close flushes and closes the log file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	if err := l.file.Sync(); err != nil {
		l.file.Close()
		return fmt.Errorf("failed to sync log on close: %w", err)
	}
	return l.file.Close()
}
