package events

import (
	"time"

	"github.com/google/uuid"
)

// EventType defines the type of identity event
type EventType string

const (
	// EventTypeClusterFinalized is emitted once per cluster after a run persists
	EventTypeClusterFinalized EventType = "cluster.finalized"

	// Run lifecycle events
	EventTypeRunCompleted EventType = "run.completed"
	EventTypeRunFailed    EventType = "run.failed"
)

// SchemaVersion is the current event schema version
const SchemaVersion = "1.0"

// BaseEvent contains common fields for all identity events
type BaseEvent struct {
	EventType     EventType `json:"event_type"`
	SchemaVersion string    `json:"schema_version"`
	RunID         string    `json:"run_id"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// ClusterFinalizedEvent announces one resolved identity. Downstream consumers
// key dedupe on cluster_id + run_id.
type ClusterFinalizedEvent struct {
	BaseEvent
	ClusterID         string   `json:"cluster_id"`
	Tier              int      `json:"tier,omitempty"`
	MatchingMethod    string   `json:"matching_method"`
	CanonicalRecordID string   `json:"canonical_record_id"`
	CanonicalName     string   `json:"canonical_name,omitempty"`
	MemberRecordIDs   []string `json:"member_record_ids"`
	MemberCount       int      `json:"member_count"`
	LinkedCaseCount   int      `json:"linked_case_count"`
	ConfidenceScore   float64  `json:"confidence_score"`
}

// RunCompletedEvent summarizes a finished resolution run
type RunCompletedEvent struct {
	BaseEvent
	Status           string         `json:"status"`
	TotalRecords     int            `json:"total_records"`
	InvalidRecords   int            `json:"invalid_records"`
	ClusterCount     int            `json:"cluster_count"`
	FuzzyComparisons int            `json:"fuzzy_comparisons"`
	MethodCounts     map[string]int `json:"method_counts,omitempty"`
	DurationMS       int64          `json:"duration_ms"`
	Error            string         `json:"error,omitempty"`
}

// NewBaseEvent creates a base event with common fields
func NewBaseEvent(eventType EventType, runID string) BaseEvent {
	return BaseEvent{
		EventType:     eventType,
		SchemaVersion: SchemaVersion,
		RunID:         runID,
		Timestamp:     time.Now().UTC(),
		CorrelationID: uuid.New().String(),
	}
}
