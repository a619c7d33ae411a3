// Package personcluster persists finalized identity clusters. The table only
// ever holds the latest completed run; ReplaceRun swaps the whole set in one
// transaction.
package personcluster

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"
	"github.com/lib/pq"

	"github.com/Ramsey-B/juniper/pkg/database"
	"github.com/Ramsey-B/juniper/pkg/models"
	"github.com/Ramsey-B/juniper/pkg/tracing"
)

// Rows per INSERT statement. 15 columns each keeps the argument count well
// under the postgres wire limit.
const insertChunkSize = 200

var columns = []string{
	"run_id", "cluster_id", "tier", "fingerprint_key", "matching_method",
	"canonical_record_id", "canonical_name", "member_record_ids",
	"all_linked_case_ids", "all_linked_role_ids", "name_variations",
	"match_scores", "confidence_score", "quality_flags", "created_at",
}

var allColumns = strings.Join(columns, ", ")

// Repository handles person cluster persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new person cluster repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

type row struct {
	RunID             string                                `db:"run_id"`
	ClusterID         string                                `db:"cluster_id"`
	Tier              int                                   `db:"tier"`
	FingerprintKey    *string                               `db:"fingerprint_key"`
	MatchingMethod    string                                `db:"matching_method"`
	CanonicalRecordID string                                `db:"canonical_record_id"`
	CanonicalName     *string                               `db:"canonical_name"`
	MemberRecordIDs   pq.StringArray                        `db:"member_record_ids"`
	AllLinkedCaseIDs  pq.StringArray                        `db:"all_linked_case_ids"`
	AllLinkedRoleIDs  pq.StringArray                        `db:"all_linked_role_ids"`
	NameVariations    pq.StringArray                        `db:"name_variations"`
	MatchScores       database.JSONB[map[string]float64]    `db:"match_scores"`
	ConfidenceScore   float64                               `db:"confidence_score"`
	QualityFlags      database.JSONB[models.QualityFlags]   `db:"quality_flags"`
	CreatedAt         time.Time                             `db:"created_at"`
}

func (r row) toModel() models.PersonCluster {
	return models.PersonCluster{
		ClusterID:         r.ClusterID,
		RunID:             r.RunID,
		Tier:              r.Tier,
		FingerprintKey:    r.FingerprintKey,
		MatchingMethod:    r.MatchingMethod,
		CanonicalRecordID: r.CanonicalRecordID,
		CanonicalName:     r.CanonicalName,
		MemberRecordIDs:   r.MemberRecordIDs,
		AllLinkedCaseIDs:  r.AllLinkedCaseIDs,
		AllLinkedRoleIDs:  r.AllLinkedRoleIDs,
		NameVariations:    r.NameVariations,
		MatchScores:       r.MatchScores.GetValue(),
		ConfidenceScore:   r.ConfidenceScore,
		QualityFlags:      r.QualityFlags.GetValue(),
		CreatedAt:         r.CreatedAt,
	}
}

func toModels(rows []row) []models.PersonCluster {
	out := make([]models.PersonCluster, len(rows))
	for i := range rows {
		out[i] = rows[i].toModel()
	}
	return out
}

// ReplaceRun persists a finished run's clusters and drops every older run's
// clusters in the same transaction, so readers always see exactly one
// complete cluster set.
func (r *Repository) ReplaceRun(ctx context.Context, runID string, clusters []*models.PersonCluster) error {
	ctx, span := tracing.StartSpan(ctx, "personcluster.Repository.ReplaceRun")
	defer span.End()

	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"run_id":        runID,
		"cluster_count": len(clusters),
	})

	txCtx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		log.WithError(err).Error("Failed to begin cluster replace transaction")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	for start := 0; start < len(clusters); start += insertChunkSize {
		end := start + insertChunkSize
		if end > len(clusters) {
			end = len(clusters)
		}

		ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
		ib.InsertInto("person_clusters")
		ib.Cols(columns...)
		for _, cluster := range clusters[start:end] {
			ib.Values(
				runID, cluster.ClusterID, cluster.Tier, cluster.FingerprintKey, cluster.MatchingMethod,
				cluster.CanonicalRecordID, cluster.CanonicalName, pq.StringArray(cluster.MemberRecordIDs),
				pq.StringArray(cluster.AllLinkedCaseIDs), pq.StringArray(cluster.AllLinkedRoleIDs),
				pq.StringArray(cluster.NameVariations),
				database.JSONB[map[string]float64]{Data: cluster.MatchScores}, cluster.ConfidenceScore,
				database.JSONB[models.QualityFlags]{Data: cluster.QualityFlags}, cluster.CreatedAt,
			)
		}

		query, args := ib.Build()
		if _, err := tx.ExecContext(txCtx, query, args...); err != nil {
			log.WithError(err).Error("Failed to insert person clusters")
			return httperror.NewHTTPError(http.StatusInternalServerError, "failed to insert person clusters")
		}
	}

	if _, err := tx.ExecContext(txCtx, "DELETE FROM person_clusters WHERE run_id <> $1", runID); err != nil {
		log.WithError(err).Error("Failed to delete superseded person clusters")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete superseded person clusters")
	}

	if err := tx.Commit(txCtx); err != nil {
		log.WithError(err).Error("Failed to commit cluster replace transaction")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to commit transaction")
	}

	log.Info("Replaced person cluster set")
	return nil
}

// Get retrieves a cluster by id
func (r *Repository) Get(ctx context.Context, clusterID string) (*models.PersonCluster, error) {
	ctx, span := tracing.StartSpan(ctx, "personcluster.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("person_clusters")
	sb.Where(sb.Equal("cluster_id", clusterID))

	query, args := sb.Build()
	var result row
	if err := r.db.GetContext(ctx, &result, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "cluster %s not found", clusterID)
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"cluster_id": clusterID}).Error("Failed to get person cluster")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get person cluster")
	}

	cluster := result.toModel()
	return &cluster, nil
}

// ListByRun retrieves a run's clusters with pagination, largest first
func (r *Repository) ListByRun(ctx context.Context, runID string, page, pageSize int) (*models.ClusterListResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "personcluster.Repository.ListByRun")
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	var totalCount int
	if err := r.db.GetContext(ctx, &totalCount, "SELECT COUNT(*) FROM person_clusters WHERE run_id = $1", runID); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"run_id": runID}).Error("Failed to count person clusters")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count person clusters")
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("person_clusters")
	sb.Where(sb.Equal("run_id", runID))
	sb.OrderBy("cardinality(member_record_ids) DESC", "cluster_id")
	sb.Limit(pageSize).Offset(offset)

	query, args := sb.Build()
	var rows []row
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"run_id": runID}).Error("Failed to list person clusters")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list person clusters")
	}

	return &models.ClusterListResponse{
		Items:      toModels(rows),
		TotalCount: totalCount,
		Page:       page,
		PageSize:   pageSize,
	}, nil
}

// GetByLinkedID retrieves every cluster whose members link the given case or
// role id. A case involving several distinct people yields several clusters.
func (r *Repository) GetByLinkedID(ctx context.Context, linkedID string) ([]models.PersonCluster, error) {
	ctx, span := tracing.StartSpan(ctx, "personcluster.Repository.GetByLinkedID")
	defer span.End()

	query := fmt.Sprintf(`
		SELECT %s FROM person_clusters
		WHERE $1 = ANY(all_linked_case_ids) OR $1 = ANY(all_linked_role_ids)
		ORDER BY cluster_id
	`, allColumns)

	var rows []row
	if err := r.db.SelectContext(ctx, &rows, query, linkedID); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"linked_id": linkedID}).Error("Failed to get clusters by linked id")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get clusters by linked id")
	}

	return toModels(rows), nil
}

// SearchByName retrieves clusters whose canonical name contains the query,
// case-insensitively. Identities linked to the most cases sort first; ties
// order by cluster id so results are stable.
func (r *Repository) SearchByName(ctx context.Context, query string, limit int) ([]models.PersonCluster, error) {
	ctx, span := tracing.StartSpan(ctx, "personcluster.Repository.SearchByName")
	defer span.End()

	if limit < 1 || limit > 100 {
		limit = 20
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("person_clusters")
	sb.Where(sb.ILike("canonical_name", "%"+query+"%"))
	sb.OrderBy("cardinality(all_linked_case_ids) DESC", "cluster_id")
	sb.Limit(limit)

	q, args := sb.Build()
	var rows []row
	if err := r.db.SelectContext(ctx, &rows, q, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"query": query}).Error("Failed to search clusters by name")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to search clusters by name")
	}

	return toModels(rows), nil
}

// LoadRun retrieves every cluster of a run in stable output order, for
// warming the in-memory lookup snapshot.
func (r *Repository) LoadRun(ctx context.Context, runID string) ([]*models.PersonCluster, error) {
	ctx, span := tracing.StartSpan(ctx, "personcluster.Repository.LoadRun")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("person_clusters")
	sb.Where(sb.Equal("run_id", runID))
	sb.OrderBy("cluster_id")

	query, args := sb.Build()
	var rows []row
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"run_id": runID}).Error("Failed to load run clusters")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to load run clusters")
	}

	clusters := make([]*models.PersonCluster, len(rows))
	for i := range rows {
		cluster := rows[i].toModel()
		clusters[i] = &cluster
	}
	return clusters, nil
}
