// Package personrecord persists staged person records, the immutable input
// the resolver runs over.
package personrecord

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"
	"github.com/lib/pq"

	"github.com/Ramsey-B/juniper/pkg/database"
	"github.com/Ramsey-B/juniper/pkg/models"
	"github.com/Ramsey-B/juniper/pkg/tracing"
)

var columns = []string{
	"record_id", "full_name", "relative_name", "relation_type", "gender",
	"age", "phone_number", "district", "locality", "created_at",
	"linked_case_ids", "linked_role_ids", "ingested_at", "last_run_id", "resolved_at",
}

// Repository handles person record persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new person record repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

type row struct {
	RecordID      string         `db:"record_id"`
	FullName      sql.NullString `db:"full_name"`
	RelativeName  sql.NullString `db:"relative_name"`
	RelationType  sql.NullString `db:"relation_type"`
	Gender        sql.NullString `db:"gender"`
	Age           sql.NullInt64  `db:"age"`
	PhoneNumber   sql.NullString `db:"phone_number"`
	District      sql.NullString `db:"district"`
	Locality      sql.NullString `db:"locality"`
	CreatedAt     sql.NullTime   `db:"created_at"`
	LinkedCaseIDs pq.StringArray `db:"linked_case_ids"`
	LinkedRoleIDs pq.StringArray `db:"linked_role_ids"`
	IngestedAt    time.Time      `db:"ingested_at"`
	LastRunID     sql.NullString `db:"last_run_id"`
	ResolvedAt    sql.NullTime   `db:"resolved_at"`
}

func (r row) toModel() models.PersonRecord {
	rec := models.PersonRecord{
		RecordID:      r.RecordID,
		FullName:      nullStr(r.FullName),
		RelativeName:  nullStr(r.RelativeName),
		RelationType:  nullStr(r.RelationType),
		Gender:        nullStr(r.Gender),
		PhoneNumber:   nullStr(r.PhoneNumber),
		District:      nullStr(r.District),
		Locality:      nullStr(r.Locality),
		LinkedCaseIDs: r.LinkedCaseIDs,
		LinkedRoleIDs: r.LinkedRoleIDs,
		IngestedAt:    r.IngestedAt,
		LastRunID:     nullStr(r.LastRunID),
	}
	if r.Age.Valid {
		age := int(r.Age.Int64)
		rec.Age = &age
	}
	if r.CreatedAt.Valid {
		t := r.CreatedAt.Time
		rec.CreatedAt = &t
	}
	if r.ResolvedAt.Valid {
		t := r.ResolvedAt.Time
		rec.ResolvedAt = &t
	}
	return rec
}

func nullStr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// UpsertResult reports whether an upsert inserted a new record
type UpsertResult struct {
	Record *models.PersonRecord
	IsNew  bool
}

// Upsert stages a person record. Re-delivery of the same record id updates
// the captured fields and unions the linked case/role ids, so at-least-once
// ingestion stays idempotent.
func (r *Repository) Upsert(ctx context.Context, req models.CreatePersonRecordRequest) (*UpsertResult, error) {
	ctx, span := tracing.StartSpan(ctx, "personrecord.Repository.Upsert")
	defer span.End()

	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"record_id": req.RecordID,
	})

	now := time.Now().UTC()

	// A nil slice binds as SQL NULL, which the array columns reject.
	caseIDs := req.LinkedCaseIDs
	if caseIDs == nil {
		caseIDs = []string{}
	}
	roleIDs := req.LinkedRoleIDs
	if roleIDs == nil {
		roleIDs = []string{}
	}

	query := `
		INSERT INTO person_records (
			record_id, full_name, relative_name, relation_type, gender,
			age, phone_number, district, locality, created_at,
			linked_case_ids, linked_role_ids, ingested_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (record_id)
		DO UPDATE SET
			full_name = EXCLUDED.full_name,
			relative_name = EXCLUDED.relative_name,
			relation_type = EXCLUDED.relation_type,
			gender = EXCLUDED.gender,
			age = EXCLUDED.age,
			phone_number = EXCLUDED.phone_number,
			district = EXCLUDED.district,
			locality = EXCLUDED.locality,
			created_at = COALESCE(person_records.created_at, EXCLUDED.created_at),
			linked_case_ids = ARRAY(
				SELECT DISTINCT unnest(person_records.linked_case_ids || EXCLUDED.linked_case_ids) ORDER BY 1
			),
			linked_role_ids = ARRAY(
				SELECT DISTINCT unnest(person_records.linked_role_ids || EXCLUDED.linked_role_ids) ORDER BY 1
			)
		RETURNING
			record_id, full_name, relative_name, relation_type, gender,
			age, phone_number, district, locality, created_at,
			linked_case_ids, linked_role_ids, ingested_at, last_run_id, resolved_at,
			(xmax = 0) AS inserted
	`

	var result struct {
		row
		Inserted bool `db:"inserted"`
	}
	err := r.db.GetContext(ctx, &result, query,
		req.RecordID, req.FullName, req.RelativeName, req.RelationType, req.Gender,
		req.Age, req.PhoneNumber, req.District, req.Locality, req.CreatedAt,
		pq.StringArray(caseIDs), pq.StringArray(roleIDs), now,
	)
	if err != nil {
		log.WithError(err).Error("Failed to upsert person record")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert person record")
	}

	rec := result.row.toModel()
	if result.Inserted {
		log.Info("Staged person record")
	} else {
		log.Debug("Updated staged person record")
	}
	return &UpsertResult{Record: &rec, IsNew: result.Inserted}, nil
}

// Get retrieves a staged record by id
func (r *Repository) Get(ctx context.Context, recordID string) (*models.PersonRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "personrecord.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("person_records")
	sb.Where(sb.Equal("record_id", recordID))

	query, args := sb.Build()
	var result row
	if err := r.db.GetContext(ctx, &result, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "person record %s not found", recordID)
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"record_id": recordID}).Error("Failed to get person record")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get person record")
	}

	rec := result.toModel()
	return &rec, nil
}

// List retrieves staged records with pagination, newest first
func (r *Repository) List(ctx context.Context, page, pageSize int) (*models.PersonRecordListResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "personrecord.Repository.List")
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	var totalCount int
	if err := r.db.GetContext(ctx, &totalCount, "SELECT COUNT(*) FROM person_records"); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count person records")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count person records")
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("person_records")
	sb.OrderBy("ingested_at DESC", "record_id")
	sb.Limit(pageSize).Offset(offset)

	query, args := sb.Build()
	var rows []row
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"page": page, "page_size": pageSize}).Error("Failed to list person records")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list person records")
	}

	items := make([]models.PersonRecord, len(rows))
	for i := range rows {
		items[i] = rows[i].toModel()
	}

	return &models.PersonRecordListResponse{
		Items:      items,
		TotalCount: totalCount,
		Page:       page,
		PageSize:   pageSize,
	}, nil
}

// ListForRun returns every staged record in stable ingestion order. Runs
// re-resolve the full set, so there is no incremental variant.
func (r *Repository) ListForRun(ctx context.Context) ([]models.PersonRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "personrecord.Repository.ListForRun")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("person_records")
	sb.OrderBy("ingested_at", "record_id")

	query, args := sb.Build()
	var rows []row
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to load person records for run")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to load person records")
	}

	records := make([]models.PersonRecord, len(rows))
	for i := range rows {
		records[i] = rows[i].toModel()
	}
	return records, nil
}

// CountPending returns the number of staged records no completed run has
// covered yet. The scheduler uses it to decide whether a run is due.
func (r *Repository) CountPending(ctx context.Context) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "personrecord.Repository.CountPending")
	defer span.End()

	var count int
	if err := r.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM person_records WHERE resolved_at IS NULL"); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count pending person records")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count pending person records")
	}
	return count, nil
}

// MarkResolved stamps every staged record with the run that just covered it
func (r *Repository) MarkResolved(ctx context.Context, runID string, resolvedAt time.Time) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "personrecord.Repository.MarkResolved")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("person_records")
	sb.Set(
		sb.Assign("last_run_id", runID),
		sb.Assign("resolved_at", resolvedAt),
	)

	query, args := sb.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"run_id": runID}).Error("Failed to mark person records resolved")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to mark person records resolved")
	}

	rows, _ := result.RowsAffected()
	r.logger.WithContext(ctx).WithFields(map[string]any{
		"run_id": runID,
		"count":  rows,
	}).Info("Marked person records resolved")
	return rows, nil
}
