package kafka

import (
	"encoding/json"
	"time"

	"github.com/Ramsey-B/juniper/pkg/models"
)

// IncomingMessage wraps a raw Kafka message with parsed headers
type IncomingMessage struct {
	Key       string
	Value     []byte
	Headers   map[string]string
	Partition int
	Offset    int64
	Timestamp time.Time
	Topic     string

	// Trace context (extracted from Kafka headers)
	TraceParent string
	TraceState  string

	// Parsed content
	Record *RecordMessage
}

// RecordMessage is the envelope capture systems publish on the person-records
// topic, one message per captured person mention.
type RecordMessage struct {
	Source RecordSource                     `json:"source"`
	Record models.CreatePersonRecordRequest `json:"record"`
}

// RecordSource identifies the capture system a record came from
type RecordSource struct {
	System     string     `json:"system"`
	BatchID    string     `json:"batch_id,omitempty"`
	CapturedAt *time.Time `json:"captured_at,omitempty"`
}

// ParsePersonRecord parses the message value as a RecordMessage
func (m *IncomingMessage) ParsePersonRecord() error {
	var rm RecordMessage
	if err := json.Unmarshal(m.Value, &rm); err != nil {
		return err
	}
	m.Record = &rm
	return nil
}

// GetRecordID returns the record id, or the message key when the envelope
// never carried one
func (m *IncomingMessage) GetRecordID() string {
	if m.Record != nil && m.Record.Record.RecordID != "" {
		return m.Record.Record.RecordID
	}
	return m.Key
}

// GetSystem returns the capture system, falling back to the source_system header
func (m *IncomingMessage) GetSystem() string {
	if m.Record != nil && m.Record.Source.System != "" {
		return m.Record.Source.System
	}
	return m.Headers["source_system"]
}

// IsTombstone reports whether the message carries no payload. Compacted
// topics produce these; they are committed and skipped.
func (m *IncomingMessage) IsTombstone() bool {
	return len(m.Value) == 0
}
