package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/LedgerDrop/internal/model"
	"github.com/dharsanguruparan/LedgerDrop/internal/resilience"
)

func TestEncodeEnvelope(t *testing.T) {
	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	data, err := Encode(KindCompleted, Completed{
		OwnerID: "owner-1", UploadID: "up-1", TotalRecords: 3, SuccessfulRecords: 2, FailedRecords: 1,
	}, at)
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, KindCompleted, env.Event)
	assert.True(t, at.Equal(env.OccurredAt))
	assert.JSONEq(t, `{"owner_id":"owner-1","upload_id":"up-1","total_records":3,"successful_records":2,"failed_records":1}`, string(env.Data))
}

func TestEncodeStartedPayload(t *testing.T) {
	data, err := Encode(KindStarted, Started{
		OwnerID: "o", UploadID: "u", Filename: "march.xlsx", FileSize: 10, FileType: model.FileTypeSpreadsheet,
	}, time.Now())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"file_type":"spreadsheet"`)
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "uploads.file_processing_progress", Subject("uploads", KindProgress))
	assert.Equal(t, "file_processing_failed", Subject("", KindFailed))
}

func TestClassifyNATSError(t *testing.T) {
	assert.Equal(t, resilience.Transient, classifyNATSError(nats.ErrNoServers))
	assert.Equal(t, resilience.Transient, classifyNATSError(nats.ErrConnectionClosed))
	assert.Equal(t, resilience.Fatal, classifyNATSError(nats.ErrBadSubject))
	assert.Equal(t, resilience.Benign, classifyNATSError(context.Canceled))
	assert.Equal(t, resilience.Fatal, classifyNATSError(errors.New("other")))
}

func TestLogPublisher(t *testing.T) {
	logger, hook := test.NewNullLogger()
	pub := LogPublisher{Logger: logger}

	require.NoError(t, pub.Publish(context.Background(), KindFailed, Failed{UploadID: "up-1", Error: "boom"}))
	require.Len(t, hook.Entries, 1)
	entry := hook.LastEntry()
	assert.Equal(t, log.InfoLevel, entry.Level)
	assert.Equal(t, "file_processing_failed", entry.Data["event"])
}
