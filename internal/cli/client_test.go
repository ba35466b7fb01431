// =============================================================================
// ADMIN CLIENT TESTS
// =============================================================================
//
// The admin client drives the real HTTP API under httptest, covering the
// workflows the CLI commands are built on.
//
// =============================================================================

package cli

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/craigjames2/pulsar/internal/api"
	"github.com/craigjames2/pulsar/internal/broker"
)

func newTestAdminClient(t *testing.T, dedupDefault bool) *Client {
	t.Helper()

	config := broker.DefaultBrokerConfig()
	config.DataDir = t.TempDir()
	config.DeduplicationEnabled = dedupDefault
	config.EvictionSweepInterval = 0

	b, err := broker.NewBroker(config)
	if err != nil {
		t.Fatalf("NewBroker() error = %v", err)
	}

	server := api.NewServer(b, api.DefaultServerConfig())
	ts := httptest.NewServer(server.Router())
	t.Cleanup(func() {
		ts.Close()
		b.Close()
	})

	return NewClient(ClientConfig{ServerURL: ts.URL, Timeout: 5 * time.Second})
}

func TestClient_TopicWorkflow(t *testing.T) {
	c := newTestAdminClient(t, false)
	ctx := context.Background()

	created, err := c.CreateTopic(ctx, "orders", "payments", 2)
	if err != nil {
		t.Fatalf("CreateTopic() error = %v", err)
	}
	if created.Topic != "orders/payments" {
		t.Errorf("created topic = %q, want orders/payments", created.Topic)
	}

	list, err := c.ListTopics(ctx)
	if err != nil {
		t.Fatalf("ListTopics() error = %v", err)
	}
	if len(list.Topics) != 1 {
		t.Errorf("topics = %v, want one", list.Topics)
	}

	info, err := c.DescribeTopic(ctx, "orders", "payments")
	if err != nil {
		t.Fatalf("DescribeTopic() error = %v", err)
	}
	if info.Partitions != 2 || info.Namespace != "orders" {
		t.Errorf("info = %+v", info)
	}

	if _, err := c.DeleteTopic(ctx, "orders", "payments"); err != nil {
		t.Fatalf("DeleteTopic() error = %v", err)
	}
	if _, err := c.DescribeTopic(ctx, "orders", "payments"); err == nil {
		t.Error("DescribeTopic() after delete: want error")
	}
}

func TestClient_DedupWorkflow(t *testing.T) {
	// SCENARIO:
	// The full operator flow: enable dedup on a namespace, publish with
	// an identity, verify the duplicate report and the cursor, then
	// remove the override.

	c := newTestAdminClient(t, false)
	ctx := context.Background()

	policy, err := c.SetNamespaceDeduplication(ctx, "orders", true)
	if err != nil {
		t.Fatalf("SetNamespaceDeduplication() error = %v", err)
	}
	if !policy.Enabled || policy.Source != "override" {
		t.Errorf("policy = %+v, want enabled override", policy)
	}

	if _, err := c.CreateTopic(ctx, "orders", "payments", 1); err != nil {
		t.Fatalf("CreateTopic() error = %v", err)
	}

	publish := []PublishMessage{{SequenceID: 0, Value: "pay"}}
	resp, err := c.Publish(ctx, "orders", "payments", "billing-7", publish)
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if resp.Results[0].Decision != "accept" {
		t.Errorf("decision = %q, want accept", resp.Results[0].Decision)
	}

	resp, err = c.Publish(ctx, "orders", "payments", "billing-7", publish)
	if err != nil {
		t.Fatalf("Publish() retry error = %v", err)
	}
	if resp.Results[0].Decision != "duplicate" {
		t.Errorf("retry decision = %q, want duplicate", resp.Results[0].Decision)
	}

	status, err := c.GetDedupStatus(ctx, "orders", "payments", 0, true)
	if err != nil {
		t.Fatalf("GetDedupStatus() error = %v", err)
	}
	if !status.Enabled || status.TrackedProducers != 1 {
		t.Errorf("status = %+v", status)
	}
	if cursor, ok := status.Cursors["billing-7"]; !ok || cursor.SequenceID != 0 {
		t.Errorf("cursor = %+v, want billing-7 at sequence 0", status.Cursors)
	}

	policy, err = c.ClearNamespaceDeduplication(ctx, "orders")
	if err != nil {
		t.Fatalf("ClearNamespaceDeduplication() error = %v", err)
	}
	if policy.Enabled || policy.Source != "broker-default" {
		t.Errorf("cleared policy = %+v, want broker default disabled", policy)
	}
}

func TestClient_ConsumeWorkflow(t *testing.T) {
	c := newTestAdminClient(t, false)
	ctx := context.Background()

	if _, err := c.CreateTopic(ctx, "orders", "payments", 1); err != nil {
		t.Fatalf("CreateTopic() error = %v", err)
	}

	messages := []PublishMessage{
		{SequenceID: 0, Value: "a"},
		{SequenceID: 1, Value: "b"},
	}
	if _, err := c.Publish(ctx, "orders", "payments", "p", messages); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	consumed, err := c.Consume(ctx, "orders", "payments", 0, 0, 10)
	if err != nil {
		t.Fatalf("Consume() error = %v", err)
	}
	if len(consumed.Messages) != 2 || consumed.NextOffset != 2 {
		t.Errorf("consumed = %d messages nextOffset %d, want 2 and 2",
			len(consumed.Messages), consumed.NextOffset)
	}
	if consumed.Messages[1].Value != "b" || consumed.Messages[1].SequenceID != 1 {
		t.Errorf("message = %+v", consumed.Messages[1])
	}
}

func TestClient_HealthAndStats(t *testing.T) {
	c := newTestAdminClient(t, false)
	ctx := context.Background()

	health, err := c.Health(ctx)
	if err != nil {
		t.Fatalf("Health() error = %v", err)
	}
	if health.Status != "ok" || health.NodeID == "" {
		t.Errorf("health = %+v", health)
	}

	if _, err := c.CreateTopic(ctx, "orders", "payments", 1); err != nil {
		t.Fatalf("CreateTopic() error = %v", err)
	}
	stats, err := c.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats() error = %v", err)
	}
	if stats.TopicCount != 1 {
		t.Errorf("topicCount = %d, want 1", stats.TopicCount)
	}
}
