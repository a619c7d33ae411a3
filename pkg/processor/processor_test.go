package processor

import (
	"context"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"

	"github.com/Ramsey-B/juniper/pkg/kafka"
	"github.com/Ramsey-B/juniper/pkg/models"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func TestProcessMessageRejectsUnparsedMessage(t *testing.T) {
	p := NewProcessor(testLogger(), nil, validator.New())

	msg := &kafka.IncomingMessage{
		Key:   "rec-1",
		Value: []byte(`{}`),
		Topic: "person-records",
	}

	err := p.ProcessMessage(context.Background(), msg)
	assert.Error(t, err)
}

func TestProcessMessageDropsInvalidRecord(t *testing.T) {
	// A nil repository proves the record never reaches staging: upsert on an
	// invalid record would panic.
	p := NewProcessor(testLogger(), nil, validator.New())

	msg := &kafka.IncomingMessage{
		Key:   "rec-1",
		Topic: "person-records",
		Record: &kafka.RecordMessage{
			Source: kafka.RecordSource{System: "icjs"},
			Record: models.CreatePersonRecordRequest{
				// Missing record_id fails validation.
				FullName: strPtr("Ramesh Kumar"),
			},
		},
	}

	err := p.ProcessMessage(context.Background(), msg)
	assert.NoError(t, err, "invalid records are dropped and committed, not retried")
}

func TestProcessMessageDropsOutOfRangeAge(t *testing.T) {
	p := NewProcessor(testLogger(), nil, validator.New())

	age := 200
	msg := &kafka.IncomingMessage{
		Key:   "rec-2",
		Topic: "person-records",
		Record: &kafka.RecordMessage{
			Record: models.CreatePersonRecordRequest{
				RecordID: "rec-2",
				Age:      &age,
			},
		},
	}

	err := p.ProcessMessage(context.Background(), msg)
	assert.NoError(t, err)
}

func strPtr(s string) *string { return &s }
