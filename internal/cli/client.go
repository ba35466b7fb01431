// =============================================================================
// CLI HTTP CLIENT - ADMIN INTERFACE TO THE BROKER
// =============================================================================
//
// WHAT IS THIS?
// A lightweight HTTP client for administrative CLI operations.
//
// HTTP ENDPOINTS USED:
//
//   Topics:
//     POST   /topics                        Create topic
//     GET    /topics                        List topics
//     GET    /topics/{ns}/{name}            Describe topic
//     DELETE /topics/{ns}/{name}            Delete topic
//
//   Messages:
//     POST   /topics/{ns}/{name}/messages                   Publish
//     GET    /topics/{ns}/{name}/partitions/{id}/messages   Consume
//
//   Deduplication:
//     GET    /namespaces/{ns}/deduplication     Effective policy
//     PUT    /namespaces/{ns}/deduplication     Set override
//     DELETE /namespaces/{ns}/deduplication     Clear override
//     GET    /topics/{ns}/{name}/partitions/{id}/deduplication  Cursors
//
//   Broker:
//     GET    /health              Health check
//     GET    /stats               Broker stats
//
// =============================================================================

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// ClientConfig holds configuration for the CLI HTTP client.
type ClientConfig struct {
	// ServerURL is the base URL of the broker (e.g., "http://localhost:8080")
	ServerURL string

	// Timeout is the HTTP request timeout
	Timeout time.Duration
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		ServerURL: "http://localhost:8080",
		Timeout:   30 * time.Second,
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// Client is the HTTP client for CLI operations.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
}

// NewClient creates a new CLI HTTP client.
func NewClient(config ClientConfig) *Client {
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// =============================================================================
// HTTP HELPERS
// =============================================================================

// doRequest executes an HTTP request and decodes the JSON response.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, body interface{}, result interface{}) error {
	u, err := url.JoinPath(c.config.ServerURL, path)
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}
	if len(query) > 0 {
		u = u + "?" + query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp ErrorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			return &APIError{
				StatusCode: resp.StatusCode,
				Message:    errResp.Error,
			}
		}
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    string(respBody),
		}
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// =============================================================================
// ERROR TYPES
// =============================================================================

// APIError represents an error from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (HTTP %d): %s", e.StatusCode, e.Message)
}

// ErrorResponse is the API's error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// topicPath builds the URL path for a namespace-qualified topic.
func topicPath(namespace, topic string) string {
	return "/topics/" + url.PathEscape(namespace) + "/" + url.PathEscape(topic)
}

// =============================================================================
// TOPIC OPERATIONS
// =============================================================================

// CreateTopicRequest is the request body for topic creation.
type CreateTopicRequest struct {
	Namespace  string `json:"namespace,omitempty"`
	Name       string `json:"name"`
	Partitions int    `json:"partitions,omitempty"`
}

// CreateTopicResponse is the topic creation result.
type CreateTopicResponse struct {
	Topic      string `json:"topic"`
	Namespace  string `json:"namespace"`
	Partitions int    `json:"partitions"`
	Created    bool   `json:"created"`
}

// CreateTopic creates a new topic.
func (c *Client) CreateTopic(ctx context.Context, namespace, name string, partitions int) (*CreateTopicResponse, error) {
	req := CreateTopicRequest{
		Namespace:  namespace,
		Name:       name,
		Partitions: partitions,
	}
	var resp CreateTopicResponse
	if err := c.doRequest(ctx, http.MethodPost, "/topics", nil, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListTopicsResponse is the topic list.
type ListTopicsResponse struct {
	Topics []string `json:"topics"`
}

// ListTopics returns all topic names.
func (c *Client) ListTopics(ctx context.Context) (*ListTopicsResponse, error) {
	var resp ListTopicsResponse
	if err := c.doRequest(ctx, http.MethodGet, "/topics", nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TopicInfo describes a topic.
type TopicInfo struct {
	Name             string        `json:"name"`
	Namespace        string        `json:"namespace"`
	Partitions       int           `json:"partitions"`
	SizeBytes        int64         `json:"sizeBytes"`
	NextOffsets      map[int]int64 `json:"nextOffsets"`
	TrackedProducers int           `json:"trackedProducers"`
}

// DescribeTopic returns details about a topic.
func (c *Client) DescribeTopic(ctx context.Context, namespace, name string) (*TopicInfo, error) {
	var resp TopicInfo
	if err := c.doRequest(ctx, http.MethodGet, topicPath(namespace, name), nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeleteTopicResponse is the topic deletion result.
type DeleteTopicResponse struct {
	Deleted bool   `json:"deleted"`
	Topic   string `json:"topic"`
}

// DeleteTopic deletes a topic and all its data.
func (c *Client) DeleteTopic(ctx context.Context, namespace, name string) (*DeleteTopicResponse, error) {
	var resp DeleteTopicResponse
	if err := c.doRequest(ctx, http.MethodDelete, topicPath(namespace, name), nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// =============================================================================
// MESSAGE OPERATIONS
// =============================================================================

// PublishMessage is a single message to publish.
type PublishMessage struct {
	SequenceID int64  `json:"sequenceId,omitempty"`
	Key        string `json:"key,omitempty"`
	Value      string `json:"value"`
	Partition  *int   `json:"partition,omitempty"`
}

// PublishRequest is the publish request body.
type PublishRequest struct {
	ProducerName string           `json:"producerName,omitempty"`
	Messages     []PublishMessage `json:"messages"`
}

// PublishResult is the per-message publish outcome.
type PublishResult struct {
	Partition int    `json:"partition"`
	Offset    int64  `json:"offset"`
	Decision  string `json:"decision"`
	Error     string `json:"error,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// PublishResponse holds all publish results.
type PublishResponse struct {
	Results []PublishResult `json:"results"`
}

// Publish sends messages to a topic.
func (c *Client) Publish(ctx context.Context, namespace, topic, producerName string, messages []PublishMessage) (*PublishResponse, error) {
	req := PublishRequest{ProducerName: producerName, Messages: messages}
	var resp PublishResponse
	if err := c.doRequest(ctx, http.MethodPost, topicPath(namespace, topic)+"/messages", nil, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ConsumeMessage is a consumed message.
type ConsumeMessage struct {
	Offset     int64  `json:"offset"`
	Timestamp  int64  `json:"timestamp"`
	Producer   string `json:"producer,omitempty"`
	SequenceID int64  `json:"sequenceId"`
	Key        string `json:"key,omitempty"`
	Value      string `json:"value"`
}

// ConsumeResponse holds consumed messages.
type ConsumeResponse struct {
	Messages   []ConsumeMessage `json:"messages"`
	NextOffset int64            `json:"nextOffset"`
}

// Consume reads messages from a topic partition.
func (c *Client) Consume(ctx context.Context, namespace, topic string, partition int, offset int64, limit int) (*ConsumeResponse, error) {
	query := url.Values{}
	query.Set("offset", strconv.FormatInt(offset, 10))
	if limit > 0 {
		query.Set("max", strconv.Itoa(limit))
	}
	path := fmt.Sprintf("%s/partitions/%d/messages", topicPath(namespace, topic), partition)
	var resp ConsumeResponse
	if err := c.doRequest(ctx, http.MethodGet, path, query, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// =============================================================================
// DEDUPLICATION OPERATIONS
// =============================================================================

// NamespaceDedupPolicy is the effective deduplication policy for a
// namespace. Source is "override" or "broker-default".
type NamespaceDedupPolicy struct {
	Namespace string `json:"namespace"`
	Enabled   bool   `json:"enabled"`
	Source    string `json:"source"`
}

// GetNamespaceDeduplication returns the effective policy for a namespace.
func (c *Client) GetNamespaceDeduplication(ctx context.Context, namespace string) (*NamespaceDedupPolicy, error) {
	var resp NamespaceDedupPolicy
	path := "/namespaces/" + url.PathEscape(namespace) + "/deduplication"
	if err := c.doRequest(ctx, http.MethodGet, path, nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SetNamespaceDeduplication sets the namespace override.
func (c *Client) SetNamespaceDeduplication(ctx context.Context, namespace string, enabled bool) (*NamespaceDedupPolicy, error) {
	var resp NamespaceDedupPolicy
	path := "/namespaces/" + url.PathEscape(namespace) + "/deduplication"
	body := map[string]bool{"enabled": enabled}
	if err := c.doRequest(ctx, http.MethodPut, path, nil, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ClearNamespaceDeduplication removes the namespace override.
func (c *Client) ClearNamespaceDeduplication(ctx context.Context, namespace string) (*NamespaceDedupPolicy, error) {
	var resp NamespaceDedupPolicy
	path := "/namespaces/" + url.PathEscape(namespace) + "/deduplication"
	if err := c.doRequest(ctx, http.MethodDelete, path, nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CursorInfo is one producer's deduplication cursor.
type CursorInfo struct {
	SequenceID int64     `json:"sequenceId"`
	LastOffset int64     `json:"lastOffset"`
	LastActive time.Time `json:"lastActive"`
}

// DedupStatus is a partition's deduplication state.
type DedupStatus struct {
	Enabled          bool                  `json:"enabled"`
	TrackedProducers int                   `json:"trackedProducers"`
	Cursors          map[string]CursorInfo `json:"cursors,omitempty"`
}

// GetDedupStatus returns a partition's deduplication cursors.
func (c *Client) GetDedupStatus(ctx context.Context, namespace, topic string, partition int, withCursors bool) (*DedupStatus, error) {
	query := url.Values{}
	if withCursors {
		query.Set("cursors", "true")
	}
	path := fmt.Sprintf("%s/partitions/%d/deduplication", topicPath(namespace, topic), partition)
	var resp DedupStatus
	if err := c.doRequest(ctx, http.MethodGet, path, query, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// =============================================================================
// BROKER OPERATIONS
// =============================================================================

// HealthResponse is the health check result.
type HealthResponse struct {
	Status    string `json:"status"`
	NodeID    string `json:"nodeId"`
	Timestamp string `json:"timestamp"`
}

// Health checks broker health.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.doRequest(ctx, http.MethodGet, "/health", nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TopicStats summarizes one topic in the stats response.
type TopicStats struct {
	Namespace        string        `json:"namespace"`
	Partitions       int           `json:"partitions"`
	SizeBytes        int64         `json:"sizeBytes"`
	NextOffsets      map[int]int64 `json:"nextOffsets"`
	TrackedProducers int           `json:"trackedProducers"`
	DedupEnabled     bool          `json:"deduplicationEnabled"`
}

// BrokerStats is the broker statistics response.
type BrokerStats struct {
	NodeID        string                `json:"nodeId"`
	UptimeSeconds int64                 `json:"uptimeSeconds"`
	TopicCount    int                   `json:"topicCount"`
	Topics        map[string]TopicStats `json:"topics"`
}

// GetStats returns broker statistics.
func (c *Client) GetStats(ctx context.Context) (*BrokerStats, error) {
	var resp BrokerStats
	if err := c.doRequest(ctx, http.MethodGet, "/stats", nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
