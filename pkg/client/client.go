// =============================================================================
// GO CLIENT SDK - HTTP CLIENT FOR THE BROKER
// =============================================================================
//
// WHAT IS THIS?
// A Go client library for applications that publish to and consume from
// the broker over its HTTP API. The interesting part lives in producer.go:
// a retry-safe producer that carries a stable identity and per-partition
// sequence ids, so broker-side deduplication can recognize its retries.
//
// USAGE:
//
//   c := client.New(client.Config{Address: "http://localhost:8080"})
//
//   p, err := c.NewProducer(client.ProducerConfig{
//       Topic: "orders/payments",
//       Name:  "billing-7",
//   })
//   res, err := p.Send(ctx, []byte("charge #42"))
//   // res.Duplicate reports whether the broker had already stored it
//
// =============================================================================

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// Config holds client settings.
type Config struct {
	// Address is the broker's HTTP API base URL.
	Address string

	// Timeout is the per-request timeout.
	Timeout time.Duration

	// HTTPClient overrides the default HTTP client (optional).
	HTTPClient *http.Client
}

// Client talks to one broker.
type Client struct {
	config Config
	http   *http.Client
}

// New creates a client.
func New(config Config) *Client {
	if config.Address == "" {
		config.Address = "http://localhost:8080"
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}
	return &Client{config: config, http: httpClient}
}

// =============================================================================
// ERRORS
// =============================================================================

// APIError is a non-2xx response from the broker.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("broker error (HTTP %d): %s", e.StatusCode, e.Message)
}

// IsRetryable reports whether the request may be safely retried. With an
// identified producer, retries are always safe: the broker deduplicates.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// =============================================================================
// HTTP PLUMBING
// =============================================================================

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, result interface{}) error {
	u, err := url.JoinPath(c.config.Address, path)
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}
	if len(query) > 0 {
		u = u + "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		msg := string(data)
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if result != nil && len(data) > 0 {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// splitTopic splits "namespace/topic"; a bare name maps to "default".
func splitTopic(s string) (namespace, topic string) {
	if i := strings.Index(s, "/"); i >= 0 {
		return s[:i], s[i+1:]
	}
	return "default", s
}

func topicPath(fullName string) string {
	ns, topic := splitTopic(fullName)
	return "/topics/" + url.PathEscape(ns) + "/" + url.PathEscape(topic)
}

// =============================================================================
// TOPIC OPERATIONS
// =============================================================================

// CreateTopic creates a topic. fullName may be namespace-qualified.
func (c *Client) CreateTopic(ctx context.Context, fullName string, partitions int) error {
	ns, topic := splitTopic(fullName)
	body := map[string]interface{}{
		"namespace":  ns,
		"name":       topic,
		"partitions": partitions,
	}
	return c.do(ctx, http.MethodPost, "/topics", nil, body, nil)
}

// DeleteTopic deletes a topic and all its data.
func (c *Client) DeleteTopic(ctx context.Context, fullName string) error {
	return c.do(ctx, http.MethodDelete, topicPath(fullName), nil, nil, nil)
}

// =============================================================================
// CONSUMING
// =============================================================================

// Message is a consumed message.
type Message struct {
	Offset     int64  `json:"offset"`
	Timestamp  int64  `json:"timestamp"`
	Producer   string `json:"producer,omitempty"`
	SequenceID int64  `json:"sequenceId"`
	Key        string `json:"key,omitempty"`
	Value      string `json:"value"`
}

// ConsumeResult holds one fetch of messages.
type ConsumeResult struct {
	Messages   []Message `json:"messages"`
	NextOffset int64     `json:"nextOffset"`
}

// Consume fetches up to max messages from a topic partition.
func (c *Client) Consume(ctx context.Context, fullName string, partition int, offset int64, max int) (*ConsumeResult, error) {
	query := url.Values{}
	query.Set("offset", strconv.FormatInt(offset, 10))
	if max > 0 {
		query.Set("max", strconv.Itoa(max))
	}
	path := fmt.Sprintf("%s/partitions/%d/messages", topicPath(fullName), partition)

	var result ConsumeResult
	if err := c.do(ctx, http.MethodGet, path, query, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
