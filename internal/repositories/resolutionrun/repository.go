// Package resolutionrun persists run summaries for auditing and the runs API.
package resolutionrun

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/juniper/pkg/database"
	"github.com/Ramsey-B/juniper/pkg/models"
	"github.com/Ramsey-B/juniper/pkg/tracing"
)

var columns = []string{
	"id", "status", "triggered_by", "total_records", "invalid_records",
	"cluster_count", "fuzzy_comparisons", "method_counts", "started_at",
	"completed_at", "duration_ms", "error",
}

var allColumns = strings.Join(columns, ", ")

// Repository handles resolution run persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new resolution run repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

type row struct {
	models.ResolutionRun
	MethodCounts database.JSONB[map[string]int] `db:"method_counts"`
}

func (r row) toModel() models.ResolutionRun {
	run := r.ResolutionRun
	run.MethodCounts = r.MethodCounts.GetValue()
	return run
}

// Create inserts a run in the running state
func (r *Repository) Create(ctx context.Context, run *models.ResolutionRun) error {
	ctx, span := tracing.StartSpan(ctx, "resolutionrun.Repository.Create")
	defer span.End()

	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("resolution_runs")
	ib.Cols(columns...)
	ib.Values(
		run.ID, run.Status, run.TriggeredBy, run.TotalRecords, run.InvalidRecords,
		run.ClusterCount, run.FuzzyComparisons,
		database.JSONB[map[string]int]{Data: run.MethodCounts},
		run.StartedAt, run.CompletedAt, run.DurationMS, run.Error,
	)

	query, args := ib.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"run_id": run.ID}).Error("Failed to create resolution run")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create resolution run")
	}

	return nil
}

// Update writes a run's final state and counts
func (r *Repository) Update(ctx context.Context, run *models.ResolutionRun) error {
	ctx, span := tracing.StartSpan(ctx, "resolutionrun.Repository.Update")
	defer span.End()

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update("resolution_runs")
	ub.Set(
		ub.Assign("status", run.Status),
		ub.Assign("total_records", run.TotalRecords),
		ub.Assign("invalid_records", run.InvalidRecords),
		ub.Assign("cluster_count", run.ClusterCount),
		ub.Assign("fuzzy_comparisons", run.FuzzyComparisons),
		ub.Assign("method_counts", database.JSONB[map[string]int]{Data: run.MethodCounts}),
		ub.Assign("completed_at", run.CompletedAt),
		ub.Assign("duration_ms", run.DurationMS),
		ub.Assign("error", run.Error),
	)
	ub.Where(ub.Equal("id", run.ID))

	query, args := ub.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"run_id": run.ID}).Error("Failed to update resolution run")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update resolution run")
	}

	return nil
}

// Get retrieves a run by id
func (r *Repository) Get(ctx context.Context, runID string) (*models.ResolutionRun, error) {
	ctx, span := tracing.StartSpan(ctx, "resolutionrun.Repository.Get")
	defer span.End()

	query := fmt.Sprintf(`SELECT %s FROM resolution_runs WHERE id = $1`, allColumns)

	var result row
	if err := r.db.GetContext(ctx, &result, query, runID); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "resolution run %s not found", runID)
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"run_id": runID}).Error("Failed to get resolution run")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get resolution run")
	}

	run := result.toModel()
	return &run, nil
}

// List retrieves runs with pagination, newest first
func (r *Repository) List(ctx context.Context, page, pageSize int) (*models.RunListResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "resolutionrun.Repository.List")
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	var totalCount int
	if err := r.db.GetContext(ctx, &totalCount, "SELECT COUNT(*) FROM resolution_runs"); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count resolution runs")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count resolution runs")
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("resolution_runs")
	sb.OrderBy("started_at DESC", "id")
	sb.Limit(pageSize).Offset(offset)

	query, args := sb.Build()
	var rows []row
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list resolution runs")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list resolution runs")
	}

	items := make([]models.ResolutionRun, len(rows))
	for i := range rows {
		items[i] = rows[i].toModel()
	}

	return &models.RunListResponse{
		Items:      items,
		TotalCount: totalCount,
		Page:       page,
		PageSize:   pageSize,
	}, nil
}

// LatestCompleted returns the most recently completed run, or nil when no
// run has ever completed.
func (r *Repository) LatestCompleted(ctx context.Context) (*models.ResolutionRun, error) {
	ctx, span := tracing.StartSpan(ctx, "resolutionrun.Repository.LatestCompleted")
	defer span.End()

	query := fmt.Sprintf(`
		SELECT %s FROM resolution_runs
		WHERE status = $1
		ORDER BY completed_at DESC
		LIMIT 1
	`, allColumns)

	var result row
	if err := r.db.GetContext(ctx, &result, query, models.RunStatusCompleted); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get latest completed run")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get latest completed run")
	}

	run := result.toModel()
	return &run, nil
}
