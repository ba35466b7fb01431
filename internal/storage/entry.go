// =============================================================================
// LOG ENTRY - ON-DISK RECORD FORMAT
// =============================================================================
//
// WHAT IS AN ENTRY?
// An entry is one durable record in a partition's append-only log. There are
// two kinds, distinguished by a flag bit:
//
//   DATA ENTRY      A published message. Carries the producer name and the
//                   producer-assigned sequence id so that replaying the log
//                   can rebuild the deduplication cursors exactly.
//
//   SNAPSHOT ENTRY  A checkpoint of all deduplication cursors at a point in
//                   the log. Written inline every N accepted entries so that
//                   recovery only replays the tail after the latest snapshot
//                   instead of the whole log.
//
// WHY DOES THE ENTRY CARRY PRODUCER + SEQUENCE ID?
// Cursor state is event-sourced: the log IS the source of truth. A cursor is
// never persisted ahead of its message because the cursor is derived from the
// message. Crash at any point → replay the tail → identical cursor state.
//
// WIRE FORMAT (fixed 40-byte header, then variable sections):
//
//   ┌────────┬─────────┬───────┬───────┬────────┬───────────┬──────────┐
//   │ Magic  │ Version │ Flags │ CRC32 │ Offset │ Timestamp │ Sequence │
//   │ 2 B    │ 1 B     │ 1 B   │ 4 B   │ 8 B    │ 8 B       │ 8 B      │
//   ├────────┴───┬─────┴───┬───┴──────┬┴────────┴──┬────────┴─────┬────┘
//   │ ProducerLen│ KeyLen  │ ValueLen │ Producer   │ Key │ Value  │
//   │ 2 B        │ 2 B     │ 4 B      │ variable   │ var │ var    │
//   └────────────┴─────────┴──────────┴────────────┴─────┴────────┘
//
// CRC32 (Castagnoli, hardware accelerated) covers everything AFTER the CRC
// field: offset through value. Magic/version/flags are validated separately.
// A failed CRC at the tail of the log means a torn write - the tail is
// truncated and treated as not-yet-durable.
//
// =============================================================================

package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"time"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// MagicByte1 and MagicByte2 identify a pulsar log entry ("PL" in ASCII).
	MagicByte1 = 0x50
	MagicByte2 = 0x4C

	// FormatVersion allows future format changes while staying readable.
	FormatVersion = 1

	// HeaderSize is the fixed entry header size in bytes:
	// Magic(2) + Version(1) + Flags(1) + CRC(4) + Offset(8) + Timestamp(8) +
	// Sequence(8) + ProducerLen(2) + KeyLen(2) + ValueLen(4) = 40
	HeaderSize = 40

	// MaxProducerNameSize bounds the producer identity string (64KB).
	// Producer names are small stable identifiers, not payloads.
	MaxProducerNameSize = 65535

	// MaxKeySize is the maximum routing key length (64KB).
	MaxKeySize = 65535

	// MaxValueSize is the maximum payload size (16MB).
	MaxValueSize = 16 * 1024 * 1024

	// FlagSnapshot marks a deduplication cursor checkpoint entry.
	// Snapshot entries occupy an offset like any other entry but are
	// invisible to consumers and never re-counted toward the next snapshot.
	FlagSnapshot = 1 << 0

	// NoSequenceID is stored in entries that were published without a
	// producer name. Such entries never participate in deduplication.
	NoSequenceID int64 = -1
)

// castagnoli is the CRC32-C table, computed once.
var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// =============================================================================
// ERROR DEFINITIONS
// =============================================================================

var (
	// ErrInvalidMagic means the data does not start with a log entry
	ErrInvalidMagic = errors.New("invalid magic bytes")

	// ErrUnsupportedVersion means the entry was written by a newer format
	ErrUnsupportedVersion = errors.New("unsupported entry format version")

	// ErrChecksumMismatch means the entry is corrupted (torn write, bit rot)
	ErrChecksumMismatch = errors.New("entry checksum mismatch")

	// ErrEntryTooShort means there are fewer bytes than the header declares
	ErrEntryTooShort = errors.New("entry data too short")

	// ErrProducerTooLarge means the producer name exceeds MaxProducerNameSize
	ErrProducerTooLarge = errors.New("producer name exceeds maximum size")

	// ErrKeyTooLarge means the key exceeds MaxKeySize
	ErrKeyTooLarge = errors.New("key exceeds maximum size")

	// ErrValueTooLarge means the value exceeds MaxValueSize
	ErrValueTooLarge = errors.New("value exceeds maximum size")
)

// =============================================================================
// ENTRY STRUCT
// =============================================================================

// Entry is one record in a partition log.
type Entry struct {
	// Offset is the sequential position in the partition, assigned on append.
	Offset int64

	// Timestamp is when the entry was accepted (unix nanoseconds).
	Timestamp int64

	// Producer is the client-supplied producer identity. Empty when the
	// publisher did not supply one (deduplication does not apply then).
	Producer string

	// SequenceID is the producer-assigned sequence id, or NoSequenceID.
	SequenceID int64

	// Flags carries entry-kind bits (FlagSnapshot).
	Flags byte

	// Key is the optional routing key.
	Key []byte

	// Value is the payload. For snapshot entries this is the serialized
	// cursor checkpoint.
	Value []byte
}

// NewEntry creates a data entry for a publish.
func NewEntry(producer string, sequenceID int64, key, value []byte) *Entry {
	return &Entry{
		Timestamp:  time.Now().UnixNano(),
		Producer:   producer,
		SequenceID: sequenceID,
		Key:        key,
		Value:      value,
	}
}

// NewSnapshotEntry creates a cursor checkpoint entry wrapping the given
// serialized snapshot payload.
func NewSnapshotEntry(payload []byte) *Entry {
	return &Entry{
		Timestamp:  time.Now().UnixNano(),
		SequenceID: NoSequenceID,
		Flags:      FlagSnapshot,
		Value:      payload,
	}
}

// IsSnapshot reports whether this is a cursor checkpoint entry.
func (e *Entry) IsSnapshot() bool {
	return e.Flags&FlagSnapshot != 0
}

// Size returns the encoded size in bytes.
func (e *Entry) Size() int {
	return HeaderSize + len(e.Producer) + len(e.Key) + len(e.Value)
}

// =============================================================================
// ENCODING
// =============================================================================

// Encode serializes the entry into the wire format.
//
// The caller must have set Offset (the log does this during append).
func (e *Entry) Encode() ([]byte, error) {
	if len(e.Producer) > MaxProducerNameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrProducerTooLarge, len(e.Producer))
	}
	if len(e.Key) > MaxKeySize {
		return nil, fmt.Errorf("%w: %d bytes", ErrKeyTooLarge, len(e.Key))
	}
	if len(e.Value) > MaxValueSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrValueTooLarge, len(e.Value))
	}

	buf := make([]byte, e.Size())

	buf[0] = MagicByte1
	buf[1] = MagicByte2
	buf[2] = FormatVersion
	buf[3] = e.Flags
	// buf[4:8] = CRC, filled in last

	binary.BigEndian.PutUint64(buf[8:16], uint64(e.Offset))
	binary.BigEndian.PutUint64(buf[16:24], uint64(e.Timestamp))
	binary.BigEndian.PutUint64(buf[24:32], uint64(e.SequenceID))
	binary.BigEndian.PutUint16(buf[32:34], uint16(len(e.Producer)))
	binary.BigEndian.PutUint16(buf[34:36], uint16(len(e.Key)))
	binary.BigEndian.PutUint32(buf[36:40], uint32(len(e.Value)))

	pos := HeaderSize
	pos += copy(buf[pos:], e.Producer)
	pos += copy(buf[pos:], e.Key)
	copy(buf[pos:], e.Value)

	// CRC covers offset through value (everything after the CRC field).
	crc := crc32.Checksum(buf[8:], castagnoli)
	binary.BigEndian.PutUint32(buf[4:8], crc)

	return buf, nil
}

// =============================================================================
// DECODING
// =============================================================================

// Decode deserializes an entry from the wire format.
//
// Returns ErrChecksumMismatch for corrupted entries and ErrEntryTooShort
// for truncated ones - the log's recovery scan relies on these to decide
// where the durable prefix of the file ends.
func Decode(data []byte) (*Entry, error) {
	if len(data) < HeaderSize {
		return nil, ErrEntryTooShort
	}

	if data[0] != MagicByte1 || data[1] != MagicByte2 {
		return nil, ErrInvalidMagic
	}
	if data[2] != FormatVersion {
		return nil, fmt.Errorf("%w: version %d", ErrUnsupportedVersion, data[2])
	}

	producerLen := int(binary.BigEndian.Uint16(data[32:34]))
	keyLen := int(binary.BigEndian.Uint16(data[34:36]))
	valueLen := int(binary.BigEndian.Uint32(data[36:40]))

	total := HeaderSize + producerLen + keyLen + valueLen
	if len(data) < total {
		return nil, ErrEntryTooShort
	}

	storedCRC := binary.BigEndian.Uint32(data[4:8])
	actualCRC := crc32.Checksum(data[8:total], castagnoli)
	if storedCRC != actualCRC {
		return nil, ErrChecksumMismatch
	}

	e := &Entry{
		Flags:      data[3],
		Offset:     int64(binary.BigEndian.Uint64(data[8:16])),
		Timestamp:  int64(binary.BigEndian.Uint64(data[16:24])),
		SequenceID: int64(binary.BigEndian.Uint64(data[24:32])),
	}

	pos := HeaderSize
	e.Producer = string(data[pos : pos+producerLen])
	pos += producerLen

	if keyLen > 0 {
		e.Key = make([]byte, keyLen)
		copy(e.Key, data[pos:pos+keyLen])
	}
	pos += keyLen

	if valueLen > 0 {
		e.Value = make([]byte, valueLen)
		copy(e.Value, data[pos:pos+valueLen])
	}

	return e, nil
}

// DeclaredSize parses just enough of a header to know the full entry size.
// Used by the recovery scan to advance through the file without copying
// payloads twice. Returns an error if the header itself is invalid.
func DeclaredSize(header []byte) (int, error) {
	if len(header) < HeaderSize {
		return 0, ErrEntryTooShort
	}
	if header[0] != MagicByte1 || header[1] != MagicByte2 {
		return 0, ErrInvalidMagic
	}
	producerLen := int(binary.BigEndian.Uint16(header[32:34]))
	keyLen := int(binary.BigEndian.Uint16(header[34:36]))
	valueLen := int(binary.BigEndian.Uint32(header[36:40]))
	return HeaderSize + producerLen + keyLen + valueLen, nil
}
