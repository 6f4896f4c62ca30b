package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/LedgerDrop/internal/model"
)

func samplePayload() Payload {
	return Payload{
		UploadID:      "up-1",
		ContentHandle: "uploads/abc/march.csv",
		OwnerID:       "owner-1",
		FileType:      model.FileTypeCSV,
		Filename:      "march.csv",
		EnqueuedAt:    time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestNewTaskRoundTrip(t *testing.T) {
	task, err := NewTask(samplePayload(), Options{Queue: "ingest", MaxAttempts: 3, Timeout: time.Minute})
	require.NoError(t, err)
	assert.Equal(t, ProcessUploadTask, task.Type())

	got, err := DecodePayload(task.Payload())
	require.NoError(t, err)
	assert.Equal(t, samplePayload(), got)
}

func TestNewTaskRejectsIncompletePayload(t *testing.T) {
	p := samplePayload()
	p.ContentHandle = ""
	_, err := NewTask(p, Options{})
	assert.True(t, model.IsKind(err, model.ErrInvalidInput))
}

func TestDecodePayloadErrors(t *testing.T) {
	_, err := DecodePayload([]byte("{"))
	assert.Error(t, err)
	_, err = DecodePayload([]byte(`{"upload_id":"up-1"}`))
	assert.ErrorContains(t, err, "missing content_handle")
}

func TestAttemptFinal(t *testing.T) {
	assert.False(t, Attempt{Number: 1, Max: 3}.Final())
	assert.True(t, Attempt{Number: 3, Max: 3}.Final())
	assert.True(t, Attempt{Number: 1, Max: 1}.Final())
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, 2*time.Second, Backoff(2*time.Second, 0))
	assert.Equal(t, 4*time.Second, Backoff(2*time.Second, 1))
	assert.Equal(t, 8*time.Second, Backoff(2*time.Second, 2))
	assert.Equal(t, 2*time.Second, Backoff(0, 0))
	assert.Equal(t, time.Hour, Backoff(time.Second, 40))

	fn := RetryDelayFunc(time.Second)
	assert.Equal(t, 4*time.Second, fn(2, nil, nil))
}
