// =============================================================================
// LOG ENTRY FORMAT TESTS
// =============================================================================

package storage

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestEntry_EncodeDecodeRoundTrip(t *testing.T) {
	// SCENARIO:
	// A fully populated data entry survives the trip to bytes and back.

	e := NewEntry("billing-7", 42, []byte("order-123"), []byte("payload bytes"))
	e.Offset = 17

	data, err := e.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if len(data) != e.Size() {
		t.Errorf("encoded length = %d, want Size() = %d", len(data), e.Size())
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if decoded.Offset != 17 {
		t.Errorf("Offset = %d, want 17", decoded.Offset)
	}
	if decoded.Producer != "billing-7" {
		t.Errorf("Producer = %q, want %q", decoded.Producer, "billing-7")
	}
	if decoded.SequenceID != 42 {
		t.Errorf("SequenceID = %d, want 42", decoded.SequenceID)
	}
	if !bytes.Equal(decoded.Key, e.Key) {
		t.Errorf("Key = %q, want %q", decoded.Key, e.Key)
	}
	if !bytes.Equal(decoded.Value, e.Value) {
		t.Errorf("Value = %q, want %q", decoded.Value, e.Value)
	}
	if decoded.Timestamp != e.Timestamp {
		t.Errorf("Timestamp = %d, want %d", decoded.Timestamp, e.Timestamp)
	}
	if decoded.IsSnapshot() {
		t.Error("data entry reports IsSnapshot() = true")
	}
}

func TestEntry_AnonymousAndEmptyFields(t *testing.T) {
	// Entries with no producer, key, or value are legal - the minimum
	// publish is just a header.

	e := NewEntry("", NoSequenceID, nil, nil)
	data, err := e.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if decoded.Producer != "" {
		t.Errorf("Producer = %q, want empty", decoded.Producer)
	}
	if decoded.SequenceID != NoSequenceID {
		t.Errorf("SequenceID = %d, want NoSequenceID", decoded.SequenceID)
	}
	if decoded.Key != nil || decoded.Value != nil {
		t.Error("empty key/value decoded as non-nil")
	}
}

func TestEntry_SnapshotFlag(t *testing.T) {
	e := NewSnapshotEntry([]byte(`{"cursors":{}}`))
	data, err := e.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if !decoded.IsSnapshot() {
		t.Error("snapshot entry lost its flag on the wire")
	}
	if decoded.SequenceID != NoSequenceID {
		t.Errorf("snapshot SequenceID = %d, want NoSequenceID", decoded.SequenceID)
	}
}

func TestEntry_ChecksumDetectsCorruption(t *testing.T) {
	// SCENARIO:
	// A single flipped bit in the payload must be caught by the CRC, not
	// returned to a consumer as a valid message.

	e := NewEntry("p", 1, nil, []byte("important payload"))
	data, err := e.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	data[len(data)-1] ^= 0xFF

	if _, err := Decode(data); !errors.Is(err, ErrChecksumMismatch) {
		t.Errorf("Decode() of corrupted entry = %v, want ErrChecksumMismatch", err)
	}
}

func TestEntry_DecodeRejectsBadFraming(t *testing.T) {
	e := NewEntry("p", 1, nil, []byte("value"))
	good, err := e.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	tests := []struct {
		name    string
		data    []byte
		wantErr error
	}{
		{"short header", good[:HeaderSize-1], ErrEntryTooShort},
		{"truncated body", good[:len(good)-3], ErrEntryTooShort},
		{"bad magic", append([]byte{0x00, 0x00}, good[2:]...), ErrInvalidMagic},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.data); !errors.Is(err, tt.wantErr) {
				t.Errorf("Decode() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestEntry_DecodeRejectsUnknownVersion(t *testing.T) {
	e := NewEntry("p", 1, nil, []byte("value"))
	data, err := e.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	data[2] = FormatVersion + 1

	if _, err := Decode(data); !errors.Is(err, ErrUnsupportedVersion) {
		t.Errorf("Decode() error = %v, want ErrUnsupportedVersion", err)
	}
}

func TestEntry_EncodeSizeLimits(t *testing.T) {
	tests := []struct {
		name    string
		entry   *Entry
		wantErr error
	}{
		{
			"oversized producer",
			NewEntry(strings.Repeat("p", MaxProducerNameSize+1), 1, nil, nil),
			ErrProducerTooLarge,
		},
		{
			"oversized key",
			NewEntry("p", 1, make([]byte, MaxKeySize+1), nil),
			ErrKeyTooLarge,
		},
		{
			"oversized value",
			NewEntry("p", 1, nil, make([]byte, MaxValueSize+1)),
			ErrValueTooLarge,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.entry.Encode(); !errors.Is(err, tt.wantErr) {
				t.Errorf("Encode() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestDeclaredSize(t *testing.T) {
	e := NewEntry("billing-7", 3, []byte("k"), []byte("value"))
	data, err := e.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	size, err := DeclaredSize(data[:HeaderSize])
	if err != nil {
		t.Fatalf("DeclaredSize() error = %v", err)
	}
	if size != len(data) {
		t.Errorf("DeclaredSize() = %d, want %d", size, len(data))
	}
}
