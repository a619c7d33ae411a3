// Package resolver clusters person records into identities: an exact
// fingerprint pass, a fuzzy scoring pass over blocking candidates, and a
// single-threaded commit that applies the proposed merges.
package resolver

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"golang.org/x/sync/errgroup"

	"github.com/Ramsey-B/juniper/pkg/blocking"
	"github.com/Ramsey-B/juniper/pkg/fingerprint"
	"github.com/Ramsey-B/juniper/pkg/models"
	"github.com/Ramsey-B/juniper/pkg/normalizers"
	"github.com/Ramsey-B/juniper/pkg/quality"
	"github.com/Ramsey-B/juniper/pkg/scoring"
	"github.com/Ramsey-B/juniper/pkg/tracing"
)

// Resolver owns the fingerprint map and blocking index for the duration of a
// run and makes every insert/merge decision
type Resolver struct {
	logger   ectologger.Logger
	config   Config
	ensemble *scoring.Ensemble
	assessor *quality.Assessor
}

// New creates a Resolver, validating the configuration up front. An invalid
// configuration is the only failure here; once a run starts it always
// completes
func New(logger ectologger.Logger, config Config) (*Resolver, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &Resolver{
		logger:   logger,
		config:   config,
		ensemble: scoring.NewEnsemble(config.FieldWeights),
		assessor: quality.NewAssessor(config.TierBaseWeights, config.SingletonConfidence),
	}, nil
}

// Result is the output of one resolution pass
type Result struct {
	Clusters         []*models.PersonCluster
	TotalRecords     int
	InvalidRecords   int
	FuzzyComparisons int
	MethodCounts     map[string]int
}

// runState holds the cluster set being built during one pass
type runState struct {
	clusters      map[string]*cluster
	byFingerprint map[fingerprint.Fingerprint]*cluster
	invalid       int
	comparisons   int
}

// mergeProposal is a worker's verdict for one record: the snapshot cluster it
// should join, or none
type mergeProposal struct {
	record    *models.PersonRecord
	clusterID string
	score     float64
}

type partitionResult struct {
	proposals   []mergeProposal
	comparisons int
}

// Resolve clusters the given records into identities. It is a pure
// computation over the input set: no I/O, no partial failure, and re-running
// it on the same records produces the same cluster memberships
func (r *Resolver) Resolve(ctx context.Context, records []*models.PersonRecord) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "resolver.Resolver.Resolve")
	defer span.End()

	log := r.logger.WithContext(ctx).WithFields(map[string]any{"record_count": len(records)})
	log.Info("Starting resolution pass")

	run := &runState{
		clusters:      make(map[string]*cluster),
		byFingerprint: make(map[fingerprint.Fingerprint]*cluster),
	}

	// Phase 1: exact fingerprint clustering, single-threaded map inserts
	leftovers := r.exactPhase(ctx, run, records)

	// Phase 2: fuzzy scoring of fingerprint-less records in parallel against
	// a read-only snapshot of the phase 1 clusters
	index := r.buildIndex(run)
	proposals, err := r.fuzzyPhase(ctx, run, index, leftovers)
	if err != nil {
		return nil, err
	}

	// Phase 3: apply every proposal in one single-threaded commit pass
	r.commitPhase(run, proposals)

	result := r.finalize(run, len(records))

	log.WithFields(map[string]any{
		"clusters":          len(result.Clusters),
		"invalid_records":   result.InvalidRecords,
		"fuzzy_comparisons": result.FuzzyComparisons,
	}).Info("Resolution pass complete")

	return result, nil
}

// exactPhase assigns every fingerprintable record to a cluster keyed by its
// fingerprint and returns the records that fell through
func (r *Resolver) exactPhase(ctx context.Context, run *runState, records []*models.PersonRecord) []*models.PersonRecord {
	ctx, span := tracing.StartSpan(ctx, "resolver.Resolver.exactPhase")
	defer span.End()

	log := r.logger.WithContext(ctx)

	leftovers := make([]*models.PersonRecord, 0)
	for _, rec := range records {
		if rec == nil {
			run.invalid++
			log.Warn("Skipping nil record")
			continue
		}
		if strings.TrimSpace(rec.RecordID) == "" {
			run.invalid++
			log.WithFields(map[string]any{"full_name": deref(rec.FullName)}).Warn("Skipping record without a record id")
			continue
		}

		fp, ok := fingerprint.Generate(rec)
		if !ok {
			leftovers = append(leftovers, rec)
			continue
		}

		if existing, found := run.byFingerprint[fp]; found {
			existing.add(rec)
			continue
		}

		c := newFingerprintCluster(fp, rec)
		run.byFingerprint[fp] = c
		run.clusters[c.id] = c
	}

	log.WithFields(map[string]any{
		"fingerprint_clusters": len(run.clusters),
		"leftover_records":     len(leftovers),
	}).Debug("Exact fingerprint phase complete")

	return leftovers
}

// buildIndex indexes every member name of the phase 1 clusters so the fuzzy
// phase can retrieve candidates without scanning all clusters
func (r *Resolver) buildIndex(run *runState) *blocking.Index {
	index := blocking.NewIndex()
	for _, c := range run.clusters {
		for _, rec := range c.members {
			if name := normalizers.NormalizeName(deref(rec.FullName)); name != "" {
				index.Add(c.id, name)
			}
		}
	}
	return index
}

// fuzzyPhase partitions the leftover records by the first letter of their
// normalized name and scores each partition in parallel. Workers only read
// the index and cluster map; they return proposals instead of mutating
// shared state
func (r *Resolver) fuzzyPhase(ctx context.Context, run *runState, index *blocking.Index, leftovers []*models.PersonRecord) ([]mergeProposal, error) {
	ctx, span := tracing.StartSpan(ctx, "resolver.Resolver.fuzzyPhase")
	defer span.End()

	if len(leftovers) == 0 {
		return nil, nil
	}

	partitions := partitionByName(leftovers)
	results := make([]partitionResult, len(partitions))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.config.FuzzyWorkers)
	for i, partition := range partitions {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = r.scorePartition(partition, index, run.clusters)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	proposals := make([]mergeProposal, 0, len(leftovers))
	for _, res := range results {
		proposals = append(proposals, res.proposals...)
		run.comparisons += res.comparisons
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"partitions":  len(partitions),
		"comparisons": run.comparisons,
	}).Debug("Fuzzy scoring phase complete")

	return proposals, nil
}

// scorePartition scores each record against the canonical record of every
// candidate cluster the blocking index retrieves and keeps the best
func (r *Resolver) scorePartition(records []*models.PersonRecord, index *blocking.Index, clusters map[string]*cluster) partitionResult {
	res := partitionResult{proposals: make([]mergeProposal, 0, len(records))}

	for _, rec := range records {
		best := mergeProposal{record: rec}

		if name := normalizers.NormalizeName(deref(rec.FullName)); name != "" {
			for _, candidateID := range index.Candidates(name) {
				candidate, ok := clusters[candidateID]
				if !ok {
					continue
				}
				res.comparisons++
				if score, _ := r.ensemble.ScoreRecord(rec, candidate.canonical); score > best.score {
					best.score = score
					best.clusterID = candidateID
				}
			}
		}

		if best.score < r.config.MatchThreshold {
			best.clusterID = ""
		}
		res.proposals = append(res.proposals, best)
	}

	return res
}

// commitPhase applies the proposals single-threaded so no two workers ever
// mutate the same cluster. Records that matched nothing in the snapshot are
// re-checked against clusters created during this pass, so fingerprint-less
// records can still find each other before becoming singletons
func (r *Resolver) commitPhase(run *runState, proposals []mergeProposal) {
	commitIndex := blocking.NewIndex()

	for _, p := range proposals {
		name := normalizers.NormalizeName(deref(p.record.FullName))

		if p.clusterID != "" {
			if target, ok := run.clusters[p.clusterID]; ok {
				target.addFuzzy(p.record, p.score)
				if name != "" {
					commitIndex.Add(target.id, name)
				}
				continue
			}
		}

		if name != "" {
			var bestID string
			var bestScore float64
			for _, candidateID := range commitIndex.Candidates(name) {
				candidate, ok := run.clusters[candidateID]
				if !ok {
					continue
				}
				run.comparisons++
				if score, _ := r.ensemble.ScoreRecord(p.record, candidate.canonical); score > bestScore {
					bestScore = score
					bestID = candidateID
				}
			}
			if bestID != "" && bestScore >= r.config.MatchThreshold {
				target := run.clusters[bestID]
				target.addFuzzy(p.record, bestScore)
				commitIndex.Add(target.id, name)
				continue
			}
		}

		c := newSingletonCluster(p.record)
		run.clusters[c.id] = c
		if name != "" {
			commitIndex.Add(c.id, name)
		}
	}
}

// finalize converts the working clusters into their output form, ordered by
// cluster id for stable output
func (r *Resolver) finalize(run *runState, total int) *Result {
	now := time.Now().UTC()

	clusters := make([]*models.PersonCluster, 0, len(run.clusters))
	methodCounts := make(map[string]int)
	for _, c := range run.clusters {
		out := c.finalize(now)
		confidence, flags := r.assessor.Finalize(out, c.canonical)
		out.ConfidenceScore = confidence
		out.QualityFlags = flags
		methodCounts[out.MatchingMethod]++
		clusters = append(clusters, out)
	}
	sort.Slice(clusters, func(i, j int) bool { return clusters[i].ClusterID < clusters[j].ClusterID })

	return &Result{
		Clusters:         clusters,
		TotalRecords:     total,
		InvalidRecords:   run.invalid,
		FuzzyComparisons: run.comparisons,
		MethodCounts:     methodCounts,
	}
}

// partitionByName groups records by the first rune of their normalized name.
// Records without a usable name share one bucket. Buckets are returned in
// sorted key order so the commit pass is deterministic
func partitionByName(records []*models.PersonRecord) [][]*models.PersonRecord {
	buckets := make(map[rune][]*models.PersonRecord)
	for _, rec := range records {
		var key rune
		for _, r := range normalizers.NormalizeName(deref(rec.FullName)) {
			key = r
			break
		}
		buckets[key] = append(buckets[key], rec)
	}

	keys := make([]rune, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	partitions := make([][]*models.PersonRecord, 0, len(buckets))
	for _, k := range keys {
		partitions = append(partitions, buckets[k])
	}
	return partitions
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
