// Package runs orchestrates resolution runs end to end: single-flight
// locking, loading the staged set, resolving, persisting the cluster set, and
// fanning results out to the lookup snapshot, the graph projection and the
// identity-events topic.
package runs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/juniper/config"
	"github.com/Ramsey-B/juniper/internal/repositories/personcluster"
	"github.com/Ramsey-B/juniper/internal/repositories/personrecord"
	"github.com/Ramsey-B/juniper/internal/repositories/resolutionrun"
	"github.com/Ramsey-B/juniper/pkg/events"
	"github.com/Ramsey-B/juniper/pkg/graph"
	"github.com/Ramsey-B/juniper/pkg/lookup"
	"github.com/Ramsey-B/juniper/pkg/metrics"
	"github.com/Ramsey-B/juniper/pkg/models"
	"github.com/Ramsey-B/juniper/pkg/redis"
	"github.com/Ramsey-B/juniper/pkg/resolver"
	"github.com/Ramsey-B/juniper/pkg/tracing"
)

// LockKey guards the single concurrent resolution run across all replicas.
const LockKey = "resolution:run"

// Service coordinates resolution runs
type Service struct {
	logger      ectologger.Logger
	cfg         config.Config
	resolver    *resolver.Resolver
	recordRepo  *personrecord.Repository
	clusterRepo *personcluster.Repository
	runRepo     *resolutionrun.Repository
	locker      *redis.Locker
	lookup      *lookup.Service
	emitter     *events.Emitter
	graph       *graph.PersonService
	searchCache *redis.VersionedCache
}

// NewService creates a new run orchestration service
func NewService(
	logger ectologger.Logger,
	cfg config.Config,
	res *resolver.Resolver,
	recordRepo *personrecord.Repository,
	clusterRepo *personcluster.Repository,
	runRepo *resolutionrun.Repository,
	locker *redis.Locker,
	lookupSvc *lookup.Service,
	emitter *events.Emitter,
	graphSvc *graph.PersonService,
	searchCache *redis.VersionedCache,
) *Service {
	return &Service{
		logger:      logger,
		cfg:         cfg,
		resolver:    res,
		recordRepo:  recordRepo,
		clusterRepo: clusterRepo,
		runRepo:     runRepo,
		locker:      locker,
		lookup:      lookupSvc,
		emitter:     emitter,
		graph:       graphSvc,
		searchCache: searchCache,
	}
}

// Trigger starts a resolution run if none is in progress. It returns once the
// lock is held and the run row exists; the pipeline continues in the
// background and lands its outcome on the run row and the identity-events
// topic. A held lock surfaces as redis.ErrLockNotAcquired.
func (s *Service) Trigger(ctx context.Context, triggeredBy string) (*models.ResolutionRun, error) {
	ctx, span := tracing.StartSpan(ctx, "runs.Service.Trigger")
	defer span.End()

	lock, err := s.locker.Acquire(ctx, LockKey, s.cfg.RunLockTTL)
	if err != nil {
		if errors.Is(err, redis.ErrLockNotAcquired) {
			return nil, fmt.Errorf("resolution run already in progress: %w", err)
		}
		return nil, err
	}

	run := &models.ResolutionRun{
		ID:          uuid.NewString(),
		Status:      models.RunStatusRunning,
		TriggeredBy: triggeredBy,
		StartedAt:   time.Now().UTC(),
	}
	if err := s.runRepo.Create(ctx, run); err != nil {
		if releaseErr := lock.Release(ctx); releaseErr != nil {
			s.logger.WithContext(ctx).WithError(releaseErr).Warn("Failed to release run lock after create failure")
		}
		return nil, err
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"run_id":       run.ID,
		"triggered_by": triggeredBy,
	}).Info("Resolution run started")

	go s.execute(context.WithoutCancel(ctx), run, lock)

	return run, nil
}

// WarmLookup loads the latest completed run's clusters into the in-memory
// lookup snapshot, for process startup.
func (s *Service) WarmLookup(ctx context.Context) error {
	ctx, span := tracing.StartSpan(ctx, "runs.Service.WarmLookup")
	defer span.End()

	latest, err := s.runRepo.LatestCompleted(ctx)
	if err != nil {
		return err
	}
	if latest == nil {
		s.logger.WithContext(ctx).Info("No completed resolution run yet, lookup snapshot starts empty")
		return nil
	}

	clusters, err := s.clusterRepo.LoadRun(ctx, latest.ID)
	if err != nil {
		return err
	}

	s.lookup.Load(clusters)
	s.logger.WithContext(ctx).WithFields(map[string]any{
		"run_id":        latest.ID,
		"cluster_count": len(clusters),
	}).Info("Warmed lookup snapshot from latest completed run")
	return nil
}

func (s *Service) execute(ctx context.Context, run *models.ResolutionRun, lock *redis.Lock) {
	ctx, span := tracing.StartSpan(ctx, "runs.Service.execute")
	defer span.End()

	defer func() {
		if err := lock.Release(ctx); err != nil {
			s.logger.WithContext(ctx).WithError(err).Warn("Failed to release run lock")
		}
	}()

	if err := s.runPipeline(ctx, run, lock); err != nil {
		s.fail(ctx, run, err)
	}
}

// runPipeline is the fallible part of a run: everything up to and including
// the run row update. The fan-out after that point is best-effort and never
// fails a run whose results are already durable.
func (s *Service) runPipeline(ctx context.Context, run *models.ResolutionRun, lock *redis.Lock) error {
	log := s.logger.WithContext(ctx).WithFields(map[string]any{"run_id": run.ID})

	staged, err := s.recordRepo.ListForRun(ctx)
	if err != nil {
		return fmt.Errorf("failed to load staged records: %w", err)
	}

	records := make([]*models.PersonRecord, len(staged))
	for i := range staged {
		records[i] = &staged[i]
	}

	result, err := s.resolver.Resolve(ctx, records)
	if err != nil {
		return fmt.Errorf("resolution failed: %w", err)
	}

	if err := lock.Extend(ctx, s.cfg.RunLockTTL); err != nil {
		log.WithError(err).Warn("Failed to extend run lock before persistence")
	}

	for _, cluster := range result.Clusters {
		cluster.RunID = run.ID
	}

	if err := s.clusterRepo.ReplaceRun(ctx, run.ID, result.Clusters); err != nil {
		return fmt.Errorf("failed to persist clusters: %w", err)
	}

	now := time.Now().UTC()
	if _, err := s.recordRepo.MarkResolved(ctx, run.ID, now); err != nil {
		return fmt.Errorf("failed to mark records resolved: %w", err)
	}

	run.Status = models.RunStatusCompleted
	run.TotalRecords = result.TotalRecords
	run.InvalidRecords = result.InvalidRecords
	run.ClusterCount = len(result.Clusters)
	run.FuzzyComparisons = result.FuzzyComparisons
	run.MethodCounts = result.MethodCounts
	run.CompletedAt = &now
	run.DurationMS = now.Sub(run.StartedAt).Milliseconds()
	if err := s.runRepo.Update(ctx, run); err != nil {
		return fmt.Errorf("failed to record run completion: %w", err)
	}

	s.observeCompleted(run, result)
	s.fanOut(ctx, run, result, log)

	log.WithFields(map[string]any{
		"total_records":     run.TotalRecords,
		"invalid_records":   run.InvalidRecords,
		"cluster_count":     run.ClusterCount,
		"fuzzy_comparisons": run.FuzzyComparisons,
		"duration_ms":       run.DurationMS,
	}).Info("Resolution run completed")
	return nil
}

// fanOut refreshes every downstream view of the finished run. Each step is
// independent; a failed projection logs and moves on.
func (s *Service) fanOut(ctx context.Context, run *models.ResolutionRun, result *resolver.Result, log ectologger.Logger) {
	s.lookup.Load(result.Clusters)

	if err := s.emitter.EmitClustersFinalized(ctx, run.ID, result.Clusters); err != nil {
		log.WithError(err).Warn("Failed to emit cluster events")
	}
	if err := s.emitter.EmitRunCompleted(ctx, run); err != nil {
		log.WithError(err).Warn("Failed to emit run completed event")
	}

	if s.graph != nil {
		if err := s.graph.SyncRun(ctx, run.ID, result.Clusters); err != nil {
			log.WithError(err).Warn("Failed to sync graph projection")
		}
	}

	if err := s.searchCache.Invalidate(ctx); err != nil {
		log.WithError(err).Warn("Failed to invalidate search cache")
	}
}

func (s *Service) observeCompleted(run *models.ResolutionRun, result *resolver.Result) {
	metrics.ResolutionRunsTotal.WithLabelValues(models.RunStatusCompleted).Inc()
	metrics.ResolutionRunDuration.Observe(float64(run.DurationMS) / 1000.0)
	metrics.RecordsProcessed.WithLabelValues("resolved").Add(float64(run.TotalRecords - run.InvalidRecords))
	metrics.RecordsProcessed.WithLabelValues("invalid").Add(float64(run.InvalidRecords))
	metrics.FuzzyComparisons.Add(float64(run.FuzzyComparisons))
	for method, count := range result.MethodCounts {
		metrics.ClustersProduced.WithLabelValues(method).Add(float64(count))
	}
}

func (s *Service) fail(ctx context.Context, run *models.ResolutionRun, runErr error) {
	log := s.logger.WithContext(ctx).WithFields(map[string]any{"run_id": run.ID})

	now := time.Now().UTC()
	msg := runErr.Error()
	run.Status = models.RunStatusFailed
	run.CompletedAt = &now
	run.DurationMS = now.Sub(run.StartedAt).Milliseconds()
	run.Error = &msg
	if err := s.runRepo.Update(ctx, run); err != nil {
		log.WithError(err).Error("Failed to record failed run")
	}

	metrics.ResolutionRunsTotal.WithLabelValues(models.RunStatusFailed).Inc()

	if err := s.emitter.EmitRunFailed(ctx, run); err != nil {
		log.WithError(err).Warn("Failed to emit run failed event")
	}

	log.WithError(runErr).Error("Resolution run failed")
}
