// =============================================================================
// PARTITIONER - ROUTING MESSAGES TO PARTITIONS
// =============================================================================
//
// THE ROUTING CONTRACT:
//   - Messages with the same key always land on the same partition
//     (per-key ordering depends on this)
//   - Messages without a key spread round-robin across partitions
//
// This matters doubly for deduplication: cursors live per partition, so a
// producer retrying a message MUST route the retry to the same partition
// the original went to. Key-hash routing guarantees that; keyless retries
// rely on the producer pinning a partition explicitly.
//
// SYSTEM COMPARISON:
//   - Kafka:  murmur2 key hash, sticky partitioner for null keys
//   - Pulsar: murmur3 key hash, round-robin for null keys
//
// We use murmur3 32-bit for keyed messages, round-robin otherwise.
//
// =============================================================================

package broker

import (
	"sync/atomic"
)

// Partitioner picks the partition a message is routed to.
type Partitioner interface {
	// Partition returns a partition index in [0, numPartitions).
	// key may be nil for keyless messages.
	Partition(key []byte, numPartitions int) int
}

// =============================================================================
// HASH PARTITIONER
// =============================================================================

// HashPartitioner routes keyed messages by murmur3 hash and keyless
// messages round-robin.
type HashPartitioner struct {
	roundRobin atomic.Uint64
}

// NewHashPartitioner creates a hash partitioner.
func NewHashPartitioner() *HashPartitioner {
	return &HashPartitioner{}
}

// Partition returns hash(key) mod numPartitions, or the next round-robin
// slot when key is nil.
func (p *HashPartitioner) Partition(key []byte, numPartitions int) int {
	if numPartitions <= 1 {
		return 0
	}
	if key == nil {
		n := p.roundRobin.Add(1) - 1
		return int(n % uint64(numPartitions))
	}
	return int(murmur3Hash(key) % uint32(numPartitions))
}

// =============================================================================
// MURMUR3 32-BIT
// =============================================================================

// murmur3 x86 32-bit constants
const (
	murmurC1   uint32 = 0xcc9e2d51
	murmurC2   uint32 = 0x1b873593
	murmurSeed uint32 = 0
)

// murmur3Hash computes the murmur3 x86 32-bit hash of data.
func murmur3Hash(data []byte) uint32 {
	h := murmurSeed
	n := len(data)

	// Body: 4-byte blocks
	nblocks := n / 4
	for i := 0; i < nblocks; i++ {
		k := uint32(data[i*4]) | uint32(data[i*4+1])<<8 |
			uint32(data[i*4+2])<<16 | uint32(data[i*4+3])<<24

		k *= murmurC1
		k = (k << 15) | (k >> 17)
		k *= murmurC2

		h ^= k
		h = (h << 13) | (h >> 19)
		h = h*5 + 0xe6546b64
	}

	// Tail: remaining 1-3 bytes
	var k uint32
	tail := data[nblocks*4:]
	switch len(tail) {
	case 3:
		k ^= uint32(tail[2]) << 16
		fallthrough
	case 2:
		k ^= uint32(tail[1]) << 8
		fallthrough
	case 1:
		k ^= uint32(tail[0])
		k *= murmurC1
		k = (k << 15) | (k >> 17)
		k *= murmurC2
		h ^= k
	}

	// Finalization mix
	h ^= uint32(n)
	h ^= h >> 16
	h *= 0x85ebca6b
	h ^= h >> 13
	h *= 0xc2b2ae35
	h ^= h >> 16

	return h
}
