// Package events handles identity event emission for resolved clusters and
// run lifecycle changes.
package events

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/juniper/pkg/kafka"
	"github.com/Ramsey-B/juniper/pkg/models"
	"github.com/Ramsey-B/juniper/pkg/tracing"
)

// Emitter publishes identity events to the identity-events topic
type Emitter struct {
	producer *kafka.Producer
	logger   ectologger.Logger
}

// NewEmitter creates a new event emitter
func NewEmitter(producer *kafka.Producer, logger ectologger.Logger) *Emitter {
	return &Emitter{
		producer: producer,
		logger:   logger,
	}
}

// EmitClustersFinalized emits one cluster.finalized event per cluster of a
// completed run, in batches sized for the producer.
func (e *Emitter) EmitClustersFinalized(ctx context.Context, runID string, clusters []*models.PersonCluster) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitClustersFinalized")
	defer span.End()

	if len(clusters) == 0 {
		return nil
	}

	outgoing := make([]kafka.OutgoingEvent, 0, len(clusters))
	for _, cluster := range clusters {
		event := ClusterFinalizedEvent{
			BaseEvent:         NewBaseEvent(EventTypeClusterFinalized, runID),
			ClusterID:         cluster.ClusterID,
			Tier:              cluster.Tier,
			MatchingMethod:    cluster.MatchingMethod,
			CanonicalRecordID: cluster.CanonicalRecordID,
			MemberRecordIDs:   cluster.MemberRecordIDs,
			MemberCount:       len(cluster.MemberRecordIDs),
			LinkedCaseCount:   cluster.CaseCount(),
			ConfidenceScore:   cluster.ConfidenceScore,
		}
		if cluster.CanonicalName != nil {
			event.CanonicalName = *cluster.CanonicalName
		}

		outgoing = append(outgoing, kafka.OutgoingEvent{
			Key:       cluster.ClusterID,
			EventType: string(EventTypeClusterFinalized),
			Payload:   event,
		})
	}

	if err := e.producer.PublishEvents(ctx, outgoing); err != nil {
		e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"run_id":        runID,
			"cluster_count": len(clusters),
		}).Error("Failed to emit cluster.finalized events")
		return err
	}

	e.logger.WithContext(ctx).WithFields(map[string]any{
		"run_id":        runID,
		"cluster_count": len(clusters),
	}).Info("Emitted cluster.finalized events")

	return nil
}

// EmitRunCompleted emits a run.completed event
func (e *Emitter) EmitRunCompleted(ctx context.Context, run *models.ResolutionRun) error {
	return e.emitRunEvent(ctx, EventTypeRunCompleted, run)
}

// EmitRunFailed emits a run.failed event
func (e *Emitter) EmitRunFailed(ctx context.Context, run *models.ResolutionRun) error {
	return e.emitRunEvent(ctx, EventTypeRunFailed, run)
}

func (e *Emitter) emitRunEvent(ctx context.Context, eventType EventType, run *models.ResolutionRun) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.emitRunEvent")
	defer span.End()

	event := RunCompletedEvent{
		BaseEvent:        NewBaseEvent(eventType, run.ID),
		Status:           run.Status,
		TotalRecords:     run.TotalRecords,
		InvalidRecords:   run.InvalidRecords,
		ClusterCount:     run.ClusterCount,
		FuzzyComparisons: run.FuzzyComparisons,
		MethodCounts:     run.MethodCounts,
		DurationMS:       run.DurationMS,
	}
	if run.Error != nil {
		event.Error = *run.Error
	}

	err := e.producer.PublishEvent(ctx, kafka.OutgoingEvent{
		Key:       run.ID,
		EventType: string(eventType),
		Payload:   event,
	})
	if err != nil {
		e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"run_id":     run.ID,
			"event_type": string(eventType),
		}).Error("Failed to emit run event")
		return err
	}

	return nil
}
