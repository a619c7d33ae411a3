package models

import (
	"time"
)

// PersonRecord is one independently captured person mention, usually one per
// case filing. Immutable once ingested. Optional fields stay nil when the
// source never captured them; the resolver treats absence explicitly instead
// of relying on empty-string sentinels.
type PersonRecord struct {
	RecordID     string     `json:"record_id" db:"record_id"`
	FullName     *string    `json:"full_name,omitempty" db:"full_name"`
	RelativeName *string    `json:"relative_name,omitempty" db:"relative_name"`
	RelationType *string    `json:"relation_type,omitempty" db:"relation_type"`
	Gender       *string    `json:"gender,omitempty" db:"gender"`
	Age          *int       `json:"age,omitempty" db:"age"`
	PhoneNumber  *string    `json:"phone_number,omitempty" db:"phone_number"`
	District     *string    `json:"district,omitempty" db:"district"`
	Locality     *string    `json:"locality,omitempty" db:"locality"`
	CreatedAt    *time.Time `json:"created_at,omitempty" db:"created_at"`

	// Externally-linked identifiers, aggregated per cluster but never interpreted.
	LinkedCaseIDs []string `json:"linked_case_ids,omitempty" db:"-"`
	LinkedRoleIDs []string `json:"linked_role_ids,omitempty" db:"-"`

	IngestedAt time.Time  `json:"ingested_at" db:"ingested_at"`
	LastRunID  *string    `json:"last_run_id,omitempty" db:"last_run_id"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`
}

// CreatePersonRecordRequest is the request for staging a person record.
type CreatePersonRecordRequest struct {
	RecordID      string     `json:"record_id" validate:"required"`
	FullName      *string    `json:"full_name,omitempty"`
	RelativeName  *string    `json:"relative_name,omitempty"`
	RelationType  *string    `json:"relation_type,omitempty"`
	Gender        *string    `json:"gender,omitempty"`
	Age           *int       `json:"age,omitempty" validate:"omitempty,gte=0,lte=150"`
	PhoneNumber   *string    `json:"phone_number,omitempty"`
	District      *string    `json:"district,omitempty"`
	Locality      *string    `json:"locality,omitempty"`
	CreatedAt     *time.Time `json:"created_at,omitempty"`
	LinkedCaseIDs []string   `json:"linked_case_ids,omitempty"`
	LinkedRoleIDs []string   `json:"linked_role_ids,omitempty"`
}

// BulkCreatePersonRecordsRequest stages a batch of records in one call.
type BulkCreatePersonRecordsRequest struct {
	Records []CreatePersonRecordRequest `json:"records" validate:"required,min=1,dive"`
}

// BulkCreatePersonRecordsResponse summarizes a bulk staging call.
type BulkCreatePersonRecordsResponse struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
}

// PersonRecordListResponse is the response for listing staged records.
type PersonRecordListResponse struct {
	Items      []PersonRecord `json:"items"`
	TotalCount int            `json:"total_count"`
	Page       int            `json:"page"`
	PageSize   int            `json:"page_size"`
}

// ToPersonRecord converts a create request into the stored record shape.
func (r CreatePersonRecordRequest) ToPersonRecord() PersonRecord {
	return PersonRecord{
		RecordID:      r.RecordID,
		FullName:      r.FullName,
		RelativeName:  r.RelativeName,
		RelationType:  r.RelationType,
		Gender:        r.Gender,
		Age:           r.Age,
		PhoneNumber:   r.PhoneNumber,
		District:      r.District,
		Locality:      r.Locality,
		CreatedAt:     r.CreatedAt,
		LinkedCaseIDs: r.LinkedCaseIDs,
		LinkedRoleIDs: r.LinkedRoleIDs,
	}
}
