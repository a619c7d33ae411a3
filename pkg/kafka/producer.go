package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"

	"github.com/Ramsey-B/juniper/pkg/metrics"
	"github.com/Ramsey-B/juniper/pkg/tracing"
)

// Producer handles identity event emission
type Producer struct {
	writer *kafka.Writer
	logger ectologger.Logger
	topic  string
}

// ProducerConfig holds Kafka producer configuration
type ProducerConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
	RequiredAcks int
	Compression  string
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg ProducerConfig, logger ectologger.Logger) *Producer {
	compression := kafka.Snappy
	switch cfg.Compression {
	case "gzip":
		compression = kafka.Gzip
	case "lz4":
		compression = kafka.Lz4
	case "zstd":
		compression = kafka.Zstd
	case "none":
		compression = 0
	}

	requiredAcks := kafka.RequiredAcks(cfg.RequiredAcks)

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.LeastBytes{},
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		RequiredAcks:           requiredAcks,
		Compression:            compression,
		AllowAutoTopicCreation: true,
	}

	return &Producer{
		writer: writer,
		logger: logger,
		topic:  cfg.Topic,
	}
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// OutgoingEvent pairs an event payload with its routing metadata. The key
// keeps all events for one cluster (or run) on the same partition.
type OutgoingEvent struct {
	Key       string
	EventType string
	Payload   any
}

// PublishEvent publishes a single identity event
func (p *Producer) PublishEvent(ctx context.Context, event OutgoingEvent) error {
	return p.PublishEvents(ctx, []OutgoingEvent{event})
}

// PublishEvents publishes a batch of identity events
func (p *Producer) PublishEvents(ctx context.Context, events []OutgoingEvent) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Producer.PublishEvents")
	defer span.End()

	if len(events) == 0 {
		return nil
	}

	messages := make([]kafka.Message, len(events))
	for i, event := range events {
		data, err := json.Marshal(event.Payload)
		if err != nil {
			metrics.IdentityEventsPublished.WithLabelValues(event.EventType, "error").Inc()
			return err
		}

		headers := []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "schema_version", Value: []byte("1.0")},
		}
		if tp := tracing.GetTraceParent(ctx); tp != "" {
			headers = append(headers, kafka.Header{Key: "traceparent", Value: []byte(tp)})
		}
		if ts := tracing.GetTraceState(ctx); ts != "" {
			headers = append(headers, kafka.Header{Key: "tracestate", Value: []byte(ts)})
		}

		messages[i] = kafka.Message{
			Topic:   p.topic,
			Key:     []byte(event.Key),
			Value:   data,
			Headers: headers,
		}
	}

	if err := p.writer.WriteMessages(ctx, messages...); err != nil {
		p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"batch_size": len(events),
		}).Error("Failed to publish identity events")
		for _, event := range events {
			metrics.IdentityEventsPublished.WithLabelValues(event.EventType, "error").Inc()
		}
		return err
	}

	for _, event := range events {
		metrics.IdentityEventsPublished.WithLabelValues(event.EventType, "ok").Inc()
	}

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"batch_size": len(events),
	}).Debug("Published identity events")

	return nil
}
