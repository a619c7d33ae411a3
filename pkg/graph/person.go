package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/Ramsey-B/juniper/pkg/metrics"
	"github.com/Ramsey-B/juniper/pkg/models"
	"github.com/Ramsey-B/juniper/pkg/tracing"
)

// syncBatchSize bounds clusters merged per graph transaction
const syncBatchSize = 500

// PersonService projects finalized clusters into the graph: one (:Person)
// node per cluster, (:Case) nodes for every linked case, and APPEARS_IN
// edges between them.
type PersonService struct {
	client *Client
	logger ectologger.Logger
}

// NewPersonService creates a new person projection service
func NewPersonService(client *Client, logger ectologger.Logger) *PersonService {
	return &PersonService{
		client: client,
		logger: logger,
	}
}

// SyncRun replaces the graph projection with the clusters of the given run.
// Person nodes are keyed by cluster_id; nodes left over from earlier runs are
// detached and deleted afterwards, as are cases no person appears in.
func (s *PersonService) SyncRun(ctx context.Context, runID string, clusters []*models.PersonCluster) error {
	ctx, span := tracing.StartSpan(ctx, "graph.PersonService.SyncRun")
	defer span.End()

	start := time.Now()
	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"run_id":        runID,
		"cluster_count": len(clusters),
	})

	for offset := 0; offset < len(clusters); offset += syncBatchSize {
		end := offset + syncBatchSize
		if end > len(clusters) {
			end = len(clusters)
		}
		if err := s.mergeBatch(ctx, clusters[offset:end]); err != nil {
			log.WithError(err).Error("Failed to merge cluster batch into graph")
			return fmt.Errorf("failed to merge cluster batch into graph: %w", err)
		}
	}

	if err := s.cleanupStale(ctx, runID); err != nil {
		log.WithError(err).Error("Failed to clean up stale graph nodes")
		return fmt.Errorf("failed to clean up stale graph nodes: %w", err)
	}

	metrics.GraphSyncDuration.Observe(time.Since(start).Seconds())
	log.WithFields(map[string]any{"duration": time.Since(start).String()}).Info("Graph projection synced")
	return nil
}

// mergeBatch MERGEs one batch of person nodes with their case edges
func (s *PersonService) mergeBatch(ctx context.Context, clusters []*models.PersonCluster) error {
	ctx, span := tracing.StartSpan(ctx, "graph.PersonService.mergeBatch")
	defer span.End()

	batch := make([]map[string]any, len(clusters))
	for i, cluster := range clusters {
		props := map[string]any{
			"cluster_id":          cluster.ClusterID,
			"run_id":              cluster.RunID,
			"matching_method":     cluster.MatchingMethod,
			"canonical_record_id": cluster.CanonicalRecordID,
			"confidence_score":    cluster.ConfidenceScore,
			"member_count":        len(cluster.MemberRecordIDs),
			"case_count":          cluster.CaseCount(),
			"name_variations":     cluster.NameVariations,
			"created_at":          cluster.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		}
		if cluster.Tier > 0 {
			props["tier"] = cluster.Tier
		}
		if cluster.CanonicalName != nil {
			props["canonical_name"] = *cluster.CanonicalName
		}

		batch[i] = map[string]any{
			"cluster_id": cluster.ClusterID,
			"props":      props,
			"case_ids":   cluster.AllLinkedCaseIDs,
		}
	}

	cypher := `
		UNWIND $batch AS row
		MERGE (p:Person {cluster_id: row.cluster_id})
		SET p = row.props
		WITH p, row
		UNWIND row.case_ids AS case_id
		MERGE (c:Case {case_id: case_id})
		MERGE (p)-[:APPEARS_IN]->(c)
	`

	_, err := s.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, map[string]any{"batch": batch})
		if err != nil {
			return nil, err
		}
		return result.Consume(ctx)
	})
	return err
}

// cleanupStale removes person nodes from earlier runs and cases nobody
// appears in anymore
func (s *PersonService) cleanupStale(ctx context.Context, runID string) error {
	ctx, span := tracing.StartSpan(ctx, "graph.PersonService.cleanupStale")
	defer span.End()

	_, err := s.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (p:Person)
			WHERE p.run_id <> $run_id
			DETACH DELETE p
		`, map[string]any{"run_id": runID})
		if err != nil {
			return nil, err
		}
		if _, err := result.Consume(ctx); err != nil {
			return nil, err
		}

		result, err = tx.Run(ctx, `
			MATCH (c:Case)
			WHERE NOT (c)<-[:APPEARS_IN]-(:Person)
			DELETE c
		`, nil)
		if err != nil {
			return nil, err
		}
		return result.Consume(ctx)
	})
	return err
}
