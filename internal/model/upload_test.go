package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPercent(t *testing.T) {
	assert.Equal(t, 0, Percent(10, 0))
	assert.Equal(t, 33, Percent(1, 3))
	assert.Equal(t, 67, Percent(2, 3))
	assert.Equal(t, 100, Percent(1200, 1200))

	job := &UploadJob{ProcessedRecords: 250, TotalRecords: 1000}
	assert.Equal(t, 25, job.Progress())
}

func TestStatusTransitions(t *testing.T) {
	assert.True(t, StatusPending.CanTransition(StatusProcessing))
	assert.True(t, StatusPending.CanTransition(StatusFailed))
	assert.True(t, StatusProcessing.CanTransition(StatusProcessing))
	assert.True(t, StatusProcessing.CanTransition(StatusCompleted))
	assert.False(t, StatusProcessing.CanTransition(StatusPending))

	for _, terminal := range []UploadStatus{StatusCompleted, StatusFailed} {
		assert.True(t, terminal.Terminal())
		for _, next := range []UploadStatus{StatusPending, StatusProcessing, StatusCompleted, StatusFailed} {
			assert.False(t, terminal.CanTransition(next), "%s -> %s", terminal, next)
		}
	}
}

func TestWrapErrorKeepsKind(t *testing.T) {
	err := WrapError(ErrPermanent, "parse", assert.AnError)
	assert.True(t, IsKind(err, ErrPermanent))
	assert.ErrorIs(t, err, assert.AnError)
	assert.Nil(t, WrapError(ErrPermanent, "noop", nil))
}
