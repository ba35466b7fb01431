// =============================================================================
// CLI OUTPUT FORMATTER - TABLE, JSON, YAML OUTPUT SUPPORT
// =============================================================================
//
// WHAT IS THIS?
// Output formatting utilities for the CLI, supporting multiple output formats:
//   - Table (default): Human-readable ASCII tables
//   - JSON: Machine-readable, for scripting with jq
//   - YAML: Machine-readable, configuration-friendly
//
// COMPARISON:
//   - kubectl: Supports -o json, yaml, wide, name, custom-columns, jsonpath
//   - aws cli: Supports --output json, text, table, yaml
//   - pulsar-admin: table by default, json on request
//
// =============================================================================

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// OUTPUT FORMAT
// =============================================================================

// OutputFormat represents the output format type.
type OutputFormat string

// Supported output formats
const (
	OutputTable OutputFormat = "table"
	OutputJSON  OutputFormat = "json"
	OutputYAML  OutputFormat = "yaml"
)

// ParseOutputFormat parses an output format string.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch strings.ToLower(s) {
	case "table", "":
		return OutputTable, nil
	case "json":
		return OutputJSON, nil
	case "yaml", "yml":
		return OutputYAML, nil
	default:
		return "", fmt.Errorf("unknown output format: %s (supported: table, json, yaml)", s)
	}
}

// =============================================================================
// FORMATTER
// =============================================================================

// Formatter handles output formatting for CLI commands.
type Formatter struct {
	format OutputFormat
	writer io.Writer
}

// NewFormatter creates a new formatter with the specified format.
func NewFormatter(format OutputFormat) *Formatter {
	return &Formatter{
		format: format,
		writer: os.Stdout,
	}
}

// SetWriter sets the output writer (for testing).
func (f *Formatter) SetWriter(w io.Writer) {
	f.writer = w
}

// formatJSON outputs data as indented JSON.
func (f *Formatter) formatJSON(data interface{}) error {
	encoder := json.NewEncoder(f.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// formatYAML outputs data as YAML.
func (f *Formatter) formatYAML(data interface{}) error {
	out, err := yaml.Marshal(data)
	if err != nil {
		return err
	}
	_, err = f.writer.Write(out)
	return err
}

// structured outputs data as JSON or YAML; returns false if the format is
// table (caller handles table rendering).
func (f *Formatter) structured(data interface{}) (bool, error) {
	switch f.format {
	case OutputJSON:
		return true, f.formatJSON(data)
	case OutputYAML:
		return true, f.formatYAML(data)
	default:
		return false, nil
	}
}

// Table returns a tabwriter-backed table writer.
func (f *Formatter) Table() *TableWriter {
	return &TableWriter{
		w: tabwriter.NewWriter(f.writer, 0, 4, 3, ' ', 0),
	}
}

// TableWriter writes aligned table output.
type TableWriter struct {
	w       *tabwriter.Writer
	headers []string
}

// SetHeaders sets and writes the table headers.
func (t *TableWriter) SetHeaders(headers ...string) {
	t.headers = headers
	fmt.Fprintln(t.w, strings.Join(headers, "\t"))
}

// WriteRow writes one table row.
func (t *TableWriter) WriteRow(values ...interface{}) {
	strs := make([]string, len(values))
	for i, v := range values {
		strs[i] = fmt.Sprint(v)
	}
	fmt.Fprintln(t.w, strings.Join(strs, "\t"))
}

// Flush writes buffered table output.
func (t *TableWriter) Flush() error {
	return t.w.Flush()
}

// =============================================================================
// DATA-SPECIFIC FORMATTERS
// =============================================================================

// FormatTopics outputs a topic name list.
func (f *Formatter) FormatTopics(topics []string) error {
	if done, err := f.structured(topics); done {
		return err
	}

	sort.Strings(topics)
	table := f.Table()
	table.SetHeaders("TOPIC")
	for _, t := range topics {
		table.WriteRow(t)
	}
	return table.Flush()
}

// FormatTopicInfo outputs topic details.
func (f *Formatter) FormatTopicInfo(info *TopicInfo) error {
	if done, err := f.structured(info); done {
		return err
	}

	fmt.Fprintf(f.writer, "Name:              %s\n", info.Name)
	fmt.Fprintf(f.writer, "Namespace:         %s\n", info.Namespace)
	fmt.Fprintf(f.writer, "Partitions:        %d\n", info.Partitions)
	fmt.Fprintf(f.writer, "Size:              %s\n", formatBytes(info.SizeBytes))
	fmt.Fprintf(f.writer, "Tracked producers: %d\n", info.TrackedProducers)

	ids := make([]int, 0, len(info.NextOffsets))
	for id := range info.NextOffsets {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		fmt.Fprintf(f.writer, "  partition %d next offset: %d\n", id, info.NextOffsets[id])
	}
	return nil
}

// FormatDedupPolicy outputs a namespace deduplication policy.
func (f *Formatter) FormatDedupPolicy(policy *NamespaceDedupPolicy) error {
	if done, err := f.structured(policy); done {
		return err
	}

	fmt.Fprintf(f.writer, "Namespace:     %s\n", policy.Namespace)
	fmt.Fprintf(f.writer, "Deduplication: %v\n", policy.Enabled)
	fmt.Fprintf(f.writer, "Source:        %s\n", policy.Source)
	return nil
}

// FormatDedupStatus outputs a partition's deduplication cursors.
func (f *Formatter) FormatDedupStatus(status *DedupStatus) error {
	if done, err := f.structured(status); done {
		return err
	}

	fmt.Fprintf(f.writer, "Enabled:           %v\n", status.Enabled)
	fmt.Fprintf(f.writer, "Tracked producers: %d\n", status.TrackedProducers)
	if len(status.Cursors) == 0 {
		return nil
	}

	names := make([]string, 0, len(status.Cursors))
	for name := range status.Cursors {
		names = append(names, name)
	}
	sort.Strings(names)

	table := f.Table()
	table.SetHeaders("PRODUCER", "SEQUENCE", "OFFSET", "LAST ACTIVE")
	for _, name := range names {
		c := status.Cursors[name]
		table.WriteRow(name, c.SequenceID, c.LastOffset, c.LastActive.Format(time.RFC3339))
	}
	return table.Flush()
}

// FormatMessages outputs consumed messages.
func (f *Formatter) FormatMessages(resp *ConsumeResponse) error {
	if done, err := f.structured(resp); done {
		return err
	}

	table := f.Table()
	table.SetHeaders("OFFSET", "PRODUCER", "SEQUENCE", "KEY", "VALUE")
	for _, m := range resp.Messages {
		producer := m.Producer
		if producer == "" {
			producer = "-"
		}
		table.WriteRow(m.Offset, producer, m.SequenceID, m.Key, m.Value)
	}
	if err := table.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(f.writer, "\nNext offset: %d\n", resp.NextOffset)
	return nil
}

// FormatPublishResults outputs publish outcomes.
func (f *Formatter) FormatPublishResults(resp *PublishResponse) error {
	if done, err := f.structured(resp); done {
		return err
	}

	table := f.Table()
	table.SetHeaders("PARTITION", "OFFSET", "DECISION", "ERROR")
	for _, r := range resp.Results {
		errStr := r.Error
		if errStr == "" {
			errStr = "-"
		} else if r.Retryable {
			errStr += " (retryable)"
		}
		decision := r.Decision
		if decision == "" {
			decision = "-"
		}
		table.WriteRow(r.Partition, r.Offset, decision, errStr)
	}
	return table.Flush()
}

// FormatBrokerStats outputs broker statistics.
func (f *Formatter) FormatBrokerStats(stats *BrokerStats) error {
	if done, err := f.structured(stats); done {
		return err
	}

	fmt.Fprintf(f.writer, "Node ID: %s\n", stats.NodeID)
	fmt.Fprintf(f.writer, "Uptime:  %s\n", (time.Duration(stats.UptimeSeconds) * time.Second).String())
	fmt.Fprintf(f.writer, "Topics:  %d\n\n", stats.TopicCount)

	names := make([]string, 0, len(stats.Topics))
	for name := range stats.Topics {
		names = append(names, name)
	}
	sort.Strings(names)

	table := f.Table()
	table.SetHeaders("TOPIC", "NAMESPACE", "PARTITIONS", "SIZE", "PRODUCERS", "DEDUP")
	for _, name := range names {
		t := stats.Topics[name]
		table.WriteRow(name, t.Namespace, t.Partitions, formatBytes(t.SizeBytes), t.TrackedProducers, t.DedupEnabled)
	}
	return table.Flush()
}

// FormatHealth outputs the health check result.
func (f *Formatter) FormatHealth(health *HealthResponse) error {
	if done, err := f.structured(health); done {
		return err
	}

	fmt.Fprintf(f.writer, "Status:  %s\n", health.Status)
	fmt.Fprintf(f.writer, "Node ID: %s\n", health.NodeID)
	fmt.Fprintf(f.writer, "Time:    %s\n", health.Timestamp)
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// formatBytes renders a byte count human-readably.
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// PrintError writes an error message to stderr.
func PrintError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}

// PrintSuccess writes a success message to stdout.
func PrintSuccess(format string, args ...interface{}) {
	fmt.Printf("✓ "+format+"\n", args...)
}
