package kafka

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePersonRecord(t *testing.T) {
	jsonData := `{
		"source": {
			"system": "icjs",
			"batch_id": "batch-2024-11-03",
			"captured_at": "2024-11-03T08:15:00Z"
		},
		"record": {
			"record_id": "rec-001",
			"full_name": "Ramesh Kumar",
			"relative_name": "Suresh Kumar",
			"relation_type": "S/O",
			"gender": "M",
			"age": 34,
			"phone_number": "9876543210",
			"district": "Cuttack",
			"locality": "Ward 12",
			"linked_case_ids": ["case-77"],
			"linked_role_ids": ["role-3"]
		}
	}`

	msg := &IncomingMessage{
		Key:   "rec-001",
		Value: []byte(jsonData),
		Topic: "person-records",
	}

	err := msg.ParsePersonRecord()
	require.NoError(t, err)
	require.NotNil(t, msg.Record)

	assert.Equal(t, "icjs", msg.Record.Source.System)
	assert.Equal(t, "batch-2024-11-03", msg.Record.Source.BatchID)
	require.NotNil(t, msg.Record.Source.CapturedAt)
	assert.Equal(t, time.Date(2024, 11, 3, 8, 15, 0, 0, time.UTC), msg.Record.Source.CapturedAt.UTC())

	rec := msg.Record.Record
	assert.Equal(t, "rec-001", rec.RecordID)
	require.NotNil(t, rec.FullName)
	assert.Equal(t, "Ramesh Kumar", *rec.FullName)
	require.NotNil(t, rec.RelativeName)
	assert.Equal(t, "Suresh Kumar", *rec.RelativeName)
	require.NotNil(t, rec.Age)
	assert.Equal(t, 34, *rec.Age)
	assert.Equal(t, []string{"case-77"}, rec.LinkedCaseIDs)
	assert.Equal(t, []string{"role-3"}, rec.LinkedRoleIDs)
}

func TestParsePersonRecordInvalidJSON(t *testing.T) {
	msg := &IncomingMessage{
		Key:   "rec-002",
		Value: []byte(`{"record": `),
	}

	err := msg.ParsePersonRecord()
	assert.Error(t, err)
	assert.Nil(t, msg.Record)
}

func TestGetRecordID(t *testing.T) {
	t.Run("prefers envelope record id", func(t *testing.T) {
		msg := &IncomingMessage{Key: "kafka-key"}
		err := msg.ParsePersonRecord()
		assert.Error(t, err)

		msg.Value = []byte(`{"record": {"record_id": "rec-9"}}`)
		require.NoError(t, msg.ParsePersonRecord())
		assert.Equal(t, "rec-9", msg.GetRecordID())
	})

	t.Run("falls back to message key", func(t *testing.T) {
		msg := &IncomingMessage{
			Key:   "kafka-key",
			Value: []byte(`{"record": {"record_id": ""}}`),
		}
		require.NoError(t, msg.ParsePersonRecord())
		assert.Equal(t, "kafka-key", msg.GetRecordID())
	})
}

func TestGetSystem(t *testing.T) {
	t.Run("prefers envelope source", func(t *testing.T) {
		msg := &IncomingMessage{
			Value:   []byte(`{"source": {"system": "cctns"}, "record": {"record_id": "rec-1"}}`),
			Headers: map[string]string{"source_system": "header-system"},
		}
		require.NoError(t, msg.ParsePersonRecord())
		assert.Equal(t, "cctns", msg.GetSystem())
	})

	t.Run("falls back to header", func(t *testing.T) {
		msg := &IncomingMessage{
			Value:   []byte(`{"record": {"record_id": "rec-1"}}`),
			Headers: map[string]string{"source_system": "header-system"},
		}
		require.NoError(t, msg.ParsePersonRecord())
		assert.Equal(t, "header-system", msg.GetSystem())
	})
}

func TestIsTombstone(t *testing.T) {
	assert.True(t, (&IncomingMessage{Key: "rec-1"}).IsTombstone())
	assert.True(t, (&IncomingMessage{Key: "rec-1", Value: []byte{}}).IsTombstone())
	assert.False(t, (&IncomingMessage{Key: "rec-1", Value: []byte(`{}`)}).IsTombstone())
}
