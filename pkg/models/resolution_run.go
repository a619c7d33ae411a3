package models

import "time"

// Resolution run statuses.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// Resolution run triggers.
const (
	RunTriggerAPI       = "api"
	RunTriggerScheduler = "scheduler"
)

// ResolutionRun records one full pass of the resolver over the staged input
// set, with the summary counts consumers use to sanity-check a run.
type ResolutionRun struct {
	ID          string `json:"id" db:"id"`
	Status      string `json:"status" db:"status"`
	TriggeredBy string `json:"triggered_by" db:"triggered_by"`

	TotalRecords     int `json:"total_records" db:"total_records"`
	InvalidRecords   int `json:"invalid_records" db:"invalid_records"`
	ClusterCount     int `json:"cluster_count" db:"cluster_count"`
	FuzzyComparisons int `json:"fuzzy_comparisons" db:"fuzzy_comparisons"`

	// MethodCounts breaks the cluster count down by matching method.
	MethodCounts map[string]int `json:"method_counts,omitempty" db:"-"`

	StartedAt   time.Time  `json:"started_at" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	DurationMS  int64      `json:"duration_ms" db:"duration_ms"`
	Error       *string    `json:"error,omitempty" db:"error"`
}

// RunListResponse is the response for listing resolution runs.
type RunListResponse struct {
	Items      []ResolutionRun `json:"items"`
	TotalCount int             `json:"total_count"`
	Page       int             `json:"page"`
	PageSize   int             `json:"page_size"`
}
