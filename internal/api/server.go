// =============================================================================
// HTTP API SERVER - REST INTERFACE FOR THE BROKER
// =============================================================================
//
// WHAT IS THIS?
// A RESTful HTTP API for the broker. It allows any HTTP client to:
//   - Manage topics (create, delete, list)
//   - Publish messages with a producer identity and sequence id
//   - Consume messages (pull-based)
//   - Manage namespace deduplication policy at runtime
//   - Inspect per-partition deduplication cursors
//   - Query broker status and Prometheus metrics
//
// ENDPOINT OVERVIEW:
//
//   TOPICS
//   POST   /topics                                   Create a topic
//   GET    /topics                                   List topics
//   GET    /topics/{namespace}/{topic}               Topic details
//   DELETE /topics/{namespace}/{topic}               Delete a topic
//
//   MESSAGES
//   POST   /topics/{namespace}/{topic}/messages                    Publish
//   GET    /topics/{namespace}/{topic}/partitions/{id}/messages    Consume
//
//   DEDUPLICATION
//   GET    /namespaces/{namespace}/deduplication     Effective policy
//   PUT    /namespaces/{namespace}/deduplication     Set override
//   DELETE /namespaces/{namespace}/deduplication     Clear override
//   GET    /topics/{ns}/{topic}/partitions/{id}/deduplication  Cursor status
//
//   ADMIN
//   GET    /health              Health check
//   GET    /stats               Broker statistics
//   GET    /metrics             Prometheus metrics
//
// PUBLISH SEMANTICS:
// A publish carrying producerName and sequenceId is classified against the
// partition's cursor when the namespace has deduplication enabled. The
// response always reports the decision:
//
//   {"results": [{"partition": 1, "offset": 42, "decision": "accept"}]}
//   {"results": [{"partition": 1, "offset": 42, "decision": "duplicate"}]}
//
// A duplicate is a SUCCESS (200): the producer's retry is confirmed, not
// failed. Offset -1 on a duplicate means the original position is no
// longer known (sequence id below the cursor's highest).
//
// A message that could not be stored reports an error instead of a
// decision, plus whether resending the same sequence id can succeed:
//
//   {"results": [{"partition": 0, "offset": -1,
//                 "error": "append entry: disk full", "retryable": true}]}
//
// =============================================================================

package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/craigjames2/pulsar/internal/broker"
	"github.com/craigjames2/pulsar/internal/metrics"
	"github.com/craigjames2/pulsar/internal/storage"
)

// =============================================================================
// API SERVER
// =============================================================================

// Server is the HTTP API server.
type Server struct {
	broker     *broker.Broker
	httpServer *http.Server
	router     *chi.Mux
	logger     *slog.Logger
}

// ServerConfig holds API server configuration.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:         ":8080",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// NewServer creates a new API server.
func NewServer(b *broker.Broker, config ServerConfig) *Server {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	r := chi.NewRouter()

	s := &Server{
		broker: b,
		router: r,
		logger: logger,
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:         config.Addr,
		Handler:      r,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return s
}

// registerRoutes sets up all API endpoints using chi router.
func (s *Server) registerRoutes() {
	// Health, stats, metrics
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/stats", s.handleStats)
	if h := metrics.Handler(); h != nil {
		s.router.Handle("/metrics", h)
	}

	// Topics
	s.router.Route("/topics", func(r chi.Router) {
		r.Post("/", s.createTopic)
		r.Get("/", s.listTopics)

		r.Route("/{namespace}/{topicName}", func(r chi.Router) {
			r.Get("/", s.getTopic)
			r.Delete("/", s.deleteTopic)
			r.Post("/messages", s.publishMessages)

			r.Route("/partitions/{partitionID}", func(r chi.Router) {
				r.Get("/messages", s.consumeMessages)
				r.Get("/deduplication", s.getDedupStatus)
			})
		})
	})

	// Namespace deduplication policy
	s.router.Route("/namespaces/{namespace}/deduplication", func(r chi.Router) {
		r.Get("/", s.getNamespaceDedup)
		r.Put("/", s.setNamespaceDedup)
		r.Delete("/", s.clearNamespaceDedup)
	})
}

// loggingMiddleware logs all HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWrapper{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration", time.Since(start).String(),
		)
	})
}

type responseWrapper struct {
	http.ResponseWriter
	status int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// =============================================================================
// SERVER LIFECYCLE
// =============================================================================

// Start begins listening for HTTP requests (non-blocking).
func (s *Server) Start() error {
	s.logger.Info("starting HTTP API server", "addr", s.httpServer.Addr)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", "error", err)
		}
	}()
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// =============================================================================
// HEALTH & STATS HANDLERS
// =============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"nodeId":    s.broker.NodeID(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.broker.Stats())
}

// =============================================================================
// TOPIC HANDLERS
// =============================================================================

// CreateTopicRequest is the request body for topic creation.
type CreateTopicRequest struct {
	Namespace  string `json:"namespace,omitempty"`
	Name       string `json:"name"`
	Partitions int    `json:"partitions,omitempty"`
}

func (s *Server) createTopic(w http.ResponseWriter, r *http.Request) {
	var req CreateTopicRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	if req.Name == "" {
		s.errorResponse(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.Namespace == "" {
		req.Namespace = broker.DefaultNamespace
	}
	if req.Partitions <= 0 {
		req.Partitions = 3
	}

	fullName := req.Namespace + "/" + req.Name
	config := broker.TopicConfig{
		Name:          fullName,
		NumPartitions: req.Partitions,
	}

	if err := s.broker.CreateTopic(config); err != nil {
		if errors.Is(err, broker.ErrTopicExists) {
			s.errorResponse(w, http.StatusConflict, "topic already exists")
			return
		}
		s.errorResponse(w, http.StatusInternalServerError, "failed to create topic: "+err.Error())
		return
	}

	s.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"topic":      fullName,
		"namespace":  req.Namespace,
		"partitions": req.Partitions,
		"created":    true,
	})
}

func (s *Server) listTopics(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"topics": s.broker.ListTopics(),
	})
}

// topicName joins the namespace and topic URL params into the broker's
// topic identifier.
func topicName(r *http.Request) string {
	return chi.URLParam(r, "namespace") + "/" + chi.URLParam(r, "topicName")
}

func (s *Server) getTopic(w http.ResponseWriter, r *http.Request) {
	topic, err := s.broker.GetTopic(topicName(r))
	if err != nil {
		s.topicError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":             topic.Name(),
		"namespace":        topic.Namespace(),
		"partitions":       topic.NumPartitions(),
		"sizeBytes":        topic.TotalSize(),
		"nextOffsets":      topic.NextOffsets(),
		"trackedProducers": topic.TrackedProducers(),
	})
}

func (s *Server) deleteTopic(w http.ResponseWriter, r *http.Request) {
	name := topicName(r)
	if err := s.broker.DeleteTopic(name); err != nil {
		s.topicError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"deleted": true,
		"topic":   name,
	})
}

// =============================================================================
// MESSAGE HANDLERS
// =============================================================================

// PublishRequest is the request body for publishing messages.
type PublishRequest struct {
	// ProducerName identifies the producer for deduplication. Empty
	// means anonymous: the messages are never deduplicated.
	ProducerName string           `json:"producerName,omitempty"`
	Messages     []PublishMessage `json:"messages"`
}

// PublishMessage is a single message to publish.
type PublishMessage struct {
	// SequenceID orders this producer's messages. Required (>= 0) when
	// ProducerName is set.
	SequenceID int64  `json:"sequenceId,omitempty"`
	Key        string `json:"key,omitempty"`
	Value      string `json:"value"`
	Partition  *int   `json:"partition,omitempty"`
}

// PublishResponse is the per-message publish outcome. On failure Decision
// is empty, Offset is -1, and Retryable tells the client whether resending
// the same sequence id can succeed (broker-side failure) or will fail the
// same way every time (bad request).
type PublishResponse struct {
	Partition int    `json:"partition"`
	Offset    int64  `json:"offset"`
	Decision  string `json:"decision,omitempty"`
	Error     string `json:"error,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// retryablePublishError separates broker-side failures a producer may
// safely retry with the same sequence id (storage append failures, closed
// partitions) from caller mistakes that are permanent.
func retryablePublishError(err error) bool {
	switch {
	case errors.Is(err, broker.ErrInvalidSequenceID),
		errors.Is(err, broker.ErrInvalidPartition),
		errors.Is(err, storage.ErrProducerTooLarge),
		errors.Is(err, storage.ErrKeyTooLarge),
		errors.Is(err, storage.ErrValueTooLarge):
		return false
	}
	return true
}

func (s *Server) publishMessages(w http.ResponseWriter, r *http.Request) {
	name := topicName(r)

	var req PublishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if len(req.Messages) == 0 {
		s.errorResponse(w, http.StatusBadRequest, "at least one message required")
		return
	}

	topic, err := s.broker.GetTopic(name)
	if err != nil {
		s.topicError(w, err)
		return
	}

	results := make([]PublishResponse, len(req.Messages))
	for i, msg := range req.Messages {
		var key []byte
		if msg.Key != "" {
			key = []byte(msg.Key)
		}
		value := []byte(msg.Value)

		var partition int
		var result broker.PublishResult
		var err error

		if msg.Partition != nil {
			partition = *msg.Partition
			result, err = topic.PublishToPartition(partition, req.ProducerName, msg.SequenceID, key, value)
		} else {
			partition, result, err = topic.Publish(req.ProducerName, msg.SequenceID, key, value)
		}

		if err != nil {
			// No entry was classified, so there is no decision or
			// offset to report.
			results[i] = PublishResponse{
				Partition: partition,
				Offset:    -1,
				Error:     err.Error(),
				Retryable: retryablePublishError(err),
			}
			continue
		}
		results[i] = PublishResponse{
			Partition: partition,
			Offset:    result.Offset,
			Decision:  result.Decision.String(),
		}
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"results": results,
	})
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

func (s *Server) consumeMessages(w http.ResponseWriter, r *http.Request) {
	name := topicName(r)

	partition, err := strconv.Atoi(chi.URLParam(r, "partitionID"))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid partition id")
		return
	}

	fromOffset := int64(0)
	if v := r.URL.Query().Get("offset"); v != "" {
		if fromOffset, err = strconv.ParseInt(v, 10, 64); err != nil {
			s.errorResponse(w, http.StatusBadRequest, "invalid offset")
			return
		}
	}
	maxMessages := 100
	if v := r.URL.Query().Get("max"); v != "" {
		if maxMessages, err = strconv.Atoi(v); err != nil || maxMessages <= 0 {
			s.errorResponse(w, http.StatusBadRequest, "invalid max")
			return
		}
	}

	msgs, err := s.broker.Consume(name, partition, fromOffset, maxMessages)
	if err != nil {
		s.topicError(w, err)
		return
	}

	out := make([]ConsumeMessage, len(msgs))
	nextOffset := fromOffset
	for i, m := range msgs {
		out[i] = ConsumeMessage{
			Offset:     m.Offset,
			Timestamp:  m.Timestamp,
			Producer:   m.Producer,
			SequenceID: m.Sequence,
			Key:        string(m.Key),
			Value:      string(m.Value),
		}
		if m.Offset >= nextOffset {
			nextOffset = m.Offset + 1
		}
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"messages":   out,
		"nextOffset": nextOffset,
	})
}

// =============================================================================
// DEDUPLICATION HANDLERS
// =============================================================================

func (s *Server) getNamespaceDedup(w http.ResponseWriter, r *http.Request) {
	namespace := chi.URLParam(r, "namespace")
	policies := s.broker.Policies()

	source := "broker-default"
	enabled, overridden := policies.Override(namespace)
	if overridden {
		source = "override"
	} else {
		enabled = policies.BrokerDefault()
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"namespace": namespace,
		"enabled":   enabled,
		"source":    source,
	})
}

// SetDedupRequest is the body for setting a namespace override.
type SetDedupRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) setNamespaceDedup(w http.ResponseWriter, r *http.Request) {
	namespace := chi.URLParam(r, "namespace")

	var req SetDedupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	if err := s.broker.SetNamespaceDeduplication(namespace, req.Enabled); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"namespace": namespace,
		"enabled":   req.Enabled,
		"source":    "override",
	})
}

func (s *Server) clearNamespaceDedup(w http.ResponseWriter, r *http.Request) {
	namespace := chi.URLParam(r, "namespace")

	if err := s.broker.ClearNamespaceDeduplication(namespace); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"namespace": namespace,
		"enabled":   s.broker.Policies().BrokerDefault(),
		"source":    "broker-default",
	})
}

func (s *Server) getDedupStatus(w http.ResponseWriter, r *http.Request) {
	name := topicName(r)

	partition, err := strconv.Atoi(chi.URLParam(r, "partitionID"))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid partition id")
		return
	}

	withCursors := r.URL.Query().Get("cursors") == "true"

	status, err := s.broker.DedupStatus(name, partition, withCursors)
	if err != nil {
		s.topicError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]interface{}{
		"error": message,
	})
}

// topicError maps broker topic lookup errors to HTTP statuses.
func (s *Server) topicError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, broker.ErrTopicNotFound):
		s.errorResponse(w, http.StatusNotFound, "topic not found")
	case errors.Is(err, broker.ErrBrokerClosed):
		s.errorResponse(w, http.StatusServiceUnavailable, "broker is shutting down")
	default:
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
	}
}
