// =============================================================================
// PRODUCER - RETRY-SAFE PUBLISHING WITH SEQUENCE IDS
// =============================================================================
//
// WHY SEQUENCE IDS?
// Without them, a lost ACK forces a choice: give up (maybe lost) or retry
// (maybe duplicated). With a stable producer name and a monotonically
// increasing sequence id per message, the broker can recognize a retry and
// confirm it instead of storing it again:
//
//   ┌──────────┐  name=billing-7, seq=42   ┌────────┐
//   │ Producer │──────────────────────────►│ Broker │  stored at offset 17
//   └──────────┘                           └────────┘
//        │          ACK lost!                   │
//        │◄────────────X───────────────────────-│
//        │
//        │  RETRY: name=billing-7, seq=42
//        │──────────────────────────────────────►  "duplicate" - not
//        │◄──────────────────────────────────────  stored twice
//
// THE CONTRACT THE PRODUCER UPHOLDS:
//   1. Name is stable across restarts of the same logical producer.
//   2. Sequence ids only increase; a retry reuses the ORIGINAL id.
//   3. Retries target the same partition as the original attempt
//      (keyless producers should pin a partition for this reason).
//   4. One Producer instance is the single writer for its name; Send is
//      safe for concurrent use, the producer serializes id assignment.
//
// Deduplication must be enabled for the topic's namespace on the broker
// side; otherwise the Duplicate field is always false.
//
// =============================================================================

package client

import (
	"context"
	"fmt"
	"net/http"
	"sync"
)

// =============================================================================
// PRODUCER CONFIGURATION
// =============================================================================

// ProducerConfig holds producer settings.
type ProducerConfig struct {
	// Topic is the topic to publish to, optionally namespace-qualified.
	Topic string

	// Name is the stable producer identity. Required: deduplication
	// keys on it. Reuse the same name when the producer restarts to
	// resume its cursor.
	Name string

	// InitialSequenceID is the first sequence id to assign. On restart,
	// set this above the last id known published (or re-send from the
	// last unacknowledged id: already-stored ids come back as
	// duplicates, which is the point).
	InitialSequenceID int64

	// Partition pins all sends to one partition. Nil leaves routing to
	// the broker: by key when one is set, round-robin otherwise. Keyless
	// round-robin breaks retry recognition (a retry can land on a
	// different partition), so keyless producers should pin.
	Partition *int

	// MaxRetries is how many times Send retries a retryable failure.
	MaxRetries int
}

// Producer publishes messages with a stable identity and sequence ids.
type Producer struct {
	client *Client
	config ProducerConfig

	mu      sync.Mutex
	nextSeq int64
	closed  bool
}

// SendResult is the outcome of one send.
type SendResult struct {
	// Partition and Offset locate the stored message. On a duplicate,
	// Offset is the original message's offset, or -1 if the broker no
	// longer knows it (the sequence id was below its cursor).
	Partition int
	Offset    int64

	// SequenceID is the id this send carried.
	SequenceID int64

	// Duplicate reports that the broker had already stored this
	// sequence id: the send succeeded on an earlier attempt.
	Duplicate bool
}

// NewProducer creates a producer bound to one topic.
func (c *Client) NewProducer(config ProducerConfig) (*Producer, error) {
	if config.Topic == "" {
		return nil, fmt.Errorf("producer topic is required")
	}
	if config.Name == "" {
		return nil, fmt.Errorf("producer name is required")
	}
	if config.InitialSequenceID < 0 {
		return nil, fmt.Errorf("initial sequence id must be >= 0")
	}
	if config.Partition != nil && *config.Partition < 0 {
		return nil, fmt.Errorf("pinned partition must be >= 0")
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}

	return &Producer{
		client:  c,
		config:  config,
		nextSeq: config.InitialSequenceID,
	}, nil
}

// =============================================================================
// SENDING
// =============================================================================

// Send publishes value, assigning the next sequence id. Retryable broker
// failures are retried with the SAME sequence id, so a success after a
// retry may report Duplicate=true: the first attempt got through.
func (p *Producer) Send(ctx context.Context, value []byte) (*SendResult, error) {
	return p.SendWithKey(ctx, nil, value)
}

// SendWithKey publishes value with a routing key.
func (p *Producer) SendWithKey(ctx context.Context, key, value []byte) (*SendResult, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("producer is closed")
	}
	seq := p.nextSeq
	p.nextSeq++
	p.mu.Unlock()

	return p.sendWithSequence(ctx, seq, key, value)
}

// Resend re-publishes a message with an explicit sequence id, for
// recovering producers that persisted their own sequence state. An id the
// broker has already stored comes back as Duplicate.
func (p *Producer) Resend(ctx context.Context, sequenceID int64, key, value []byte) (*SendResult, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("producer is closed")
	}
	if sequenceID >= p.nextSeq {
		p.nextSeq = sequenceID + 1
	}
	p.mu.Unlock()

	return p.sendWithSequence(ctx, sequenceID, key, value)
}

func (p *Producer) sendWithSequence(ctx context.Context, seq int64, key, value []byte) (*SendResult, error) {
	msg := map[string]interface{}{
		"sequenceId": seq,
		"value":      string(value),
	}
	if len(key) > 0 {
		msg["key"] = string(key)
	}
	if p.config.Partition != nil {
		msg["partition"] = *p.config.Partition
	}
	body := map[string]interface{}{
		"producerName": p.config.Name,
		"messages":     []interface{}{msg},
	}

	path := topicPath(p.config.Topic) + "/messages"

	var lastErr error
	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		var resp struct {
			Results []struct {
				Partition int    `json:"partition"`
				Offset    int64  `json:"offset"`
				Decision  string `json:"decision"`
				Error     string `json:"error"`
				Retryable bool   `json:"retryable"`
			} `json:"results"`
		}

		err := p.client.do(ctx, http.MethodPost, path, nil, body, &resp)
		if err != nil {
			// Retrying with the same sequence id is safe: if an
			// earlier attempt landed, the broker reports a
			// duplicate rather than storing it again.
			if apiErr, ok := err.(*APIError); ok && apiErr.IsRetryable() {
				lastErr = err
				continue
			}
			return nil, err
		}

		if len(resp.Results) != 1 {
			return nil, fmt.Errorf("unexpected publish response: %d results", len(resp.Results))
		}
		r := resp.Results[0]
		if r.Error != "" {
			// Per-message failures carry the broker's retryable
			// verdict: a storage append failure is worth another
			// attempt, a rejected request is not.
			if r.Retryable {
				lastErr = fmt.Errorf("publish failed: %s", r.Error)
				continue
			}
			return nil, fmt.Errorf("publish failed: %s", r.Error)
		}
		return &SendResult{
			Partition:  r.Partition,
			Offset:     r.Offset,
			SequenceID: seq,
			Duplicate:  r.Decision == "duplicate",
		}, nil
	}
	return nil, fmt.Errorf("publish failed after %d retries: %w", p.config.MaxRetries, lastErr)
}

// =============================================================================
// LIFECYCLE & STATE
// =============================================================================

// NextSequenceID returns the id the next Send will carry. Persist this to
// resume after a restart.
func (p *Producer) NextSequenceID() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nextSeq
}

// Name returns the producer identity.
func (p *Producer) Name() string {
	return p.config.Name
}

// Close marks the producer closed; further sends fail.
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
