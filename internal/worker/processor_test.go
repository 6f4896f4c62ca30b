package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/LedgerDrop/internal/model"
	"github.com/dharsanguruparan/LedgerDrop/internal/queue"
)

type stubRunner struct {
	err      error
	payloads []queue.Payload
	attempts []queue.Attempt
}

func (s *stubRunner) Run(_ context.Context, p queue.Payload, a queue.Attempt) error {
	s.payloads = append(s.payloads, p)
	s.attempts = append(s.attempts, a)
	return s.err
}

func newTask(t *testing.T) *asynq.Task {
	t.Helper()
	task, err := queue.NewTask(queue.Payload{
		UploadID: "up-1", ContentHandle: "uploads/x/a.csv", OwnerID: "owner-1", FileType: model.FileTypeCSV,
	}, queue.Options{MaxAttempts: 3})
	require.NoError(t, err)
	return task
}

func TestHandleProcessRunsPayload(t *testing.T) {
	runner := &stubRunner{}
	err := NewProcessor(runner).handleProcess(context.Background(), newTask(t))
	require.NoError(t, err)
	require.Len(t, runner.payloads, 1)
	assert.Equal(t, "up-1", runner.payloads[0].UploadID)
	assert.Equal(t, queue.Attempt{Number: 1, Max: 1}, runner.attempts[0])
}

func TestHandleProcessSkipsRetryForPermanentErrors(t *testing.T) {
	runner := &stubRunner{err: model.WrapError(model.ErrPermanent, "parse upload", errors.New("bad file"))}
	err := NewProcessor(runner).handleProcess(context.Background(), newTask(t))
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.ErrorIs(t, err, model.ErrPermanent)
}

func TestHandleProcessKeepsTemporaryErrorsRetryable(t *testing.T) {
	runner := &stubRunner{err: errors.New("database timeout")}
	err := NewProcessor(runner).handleProcess(context.Background(), newTask(t))
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestHandleProcessDropsBadPayload(t *testing.T) {
	runner := &stubRunner{}
	err := NewProcessor(runner).handleProcess(context.Background(), asynq.NewTask(queue.ProcessUploadTask, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.Empty(t, runner.payloads)
}

func TestHandlerRegistersTask(t *testing.T) {
	runner := &stubRunner{}
	mux := NewProcessor(runner).Handler()
	require.NoError(t, mux.ProcessTask(context.Background(), newTask(t)))
	assert.Len(t, runner.payloads, 1)
}

func TestAsynqLevel(t *testing.T) {
	assert.Equal(t, asynq.DebugLevel, asynqLevel(logrus.DebugLevel))
	assert.Equal(t, asynq.InfoLevel, asynqLevel(logrus.InfoLevel))
	assert.Equal(t, asynq.WarnLevel, asynqLevel(logrus.WarnLevel))
	assert.Equal(t, asynq.ErrorLevel, asynqLevel(logrus.ErrorLevel))
}
