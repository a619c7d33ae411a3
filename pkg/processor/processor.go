// Package processor handles incoming person record messages. This is the
// ingestion layer - it only writes to the staging table. Resolution runs
// separately over the full staged set, batch-wise.
package processor

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"

	"github.com/Ramsey-B/juniper/internal/repositories/personrecord"
	"github.com/Ramsey-B/juniper/pkg/kafka"
	"github.com/Ramsey-B/juniper/pkg/metrics"
	"github.com/Ramsey-B/juniper/pkg/tracing"
)

// Processor handles message processing for the ingestion layer
type Processor struct {
	logger     ectologger.Logger
	recordRepo *personrecord.Repository
	validate   *validator.Validate
}

// NewProcessor creates a new message processor for ingestion
func NewProcessor(logger ectologger.Logger, recordRepo *personrecord.Repository, validate *validator.Validate) *Processor {
	return &Processor{
		logger:     logger,
		recordRepo: recordRepo,
		validate:   validate,
	}
}

// ProcessMessage stages one person record from a Kafka message. Validation
// failures are terminal: the message is logged, counted and dropped, since a
// malformed record never becomes valid on redelivery. Storage errors are
// returned so the consumer retries.
func (p *Processor) ProcessMessage(ctx context.Context, msg *kafka.IncomingMessage) error {
	ctx, span := tracing.StartSpan(ctx, "processor.Processor.ProcessMessage")
	defer span.End()

	if msg.Record == nil {
		return fmt.Errorf("message has no parsed person record")
	}

	req := msg.Record.Record
	log := p.logger.WithContext(ctx).WithFields(map[string]any{
		"record_id":     req.RecordID,
		"source_system": msg.GetSystem(),
		"topic":         msg.Topic,
		"partition":     msg.Partition,
		"offset":        msg.Offset,
	})

	if err := p.validate.Struct(req); err != nil {
		log.WithError(err).Warn("Dropping invalid person record message")
		metrics.RecordsIngested.WithLabelValues("kafka", "invalid").Inc()
		return nil
	}

	result, err := p.recordRepo.Upsert(ctx, req)
	if err != nil {
		log.WithError(err).Error("Failed to stage person record")
		metrics.RecordsIngested.WithLabelValues("kafka", "error").Inc()
		return err
	}

	if result.IsNew {
		metrics.RecordsIngested.WithLabelValues("kafka", "created").Inc()
	} else {
		metrics.RecordsIngested.WithLabelValues("kafka", "updated").Inc()
	}

	log.Debug("Staged person record from message")
	return nil
}
