package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("connection reset")

func quick() Policy {
	return Policy{Attempts: 3, Backoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond, TripAfter: 2, OpenFor: time.Minute}
}

func flakyOnly(err error) Outcome {
	if errors.Is(err, errFlaky) {
		return Transient
	}
	return Fatal
}

func TestExecuteRetriesTransientFailure(t *testing.T) {
	calls := 0
	err := NewExecutor(quick()).Execute(context.Background(), "insert", func(context.Context) error {
		calls++
		if calls < 3 {
			return errFlaky
		}
		return nil
	}, flakyOnly)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestExecuteGivesUpAfterAttempts(t *testing.T) {
	calls := 0
	err := NewExecutor(quick()).Execute(context.Background(), "insert", func(context.Context) error {
		calls++
		return errFlaky
	}, flakyOnly)
	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 3, calls)
}

func TestExecuteReturnsFatalAtOnce(t *testing.T) {
	errBad := errors.New("syntax error")
	calls := 0
	err := NewExecutor(quick()).Execute(context.Background(), "insert", func(context.Context) error {
		calls++
		return errBad
	}, nil)
	assert.ErrorIs(t, err, errBad)
	assert.Equal(t, 1, calls)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	exec := NewExecutor(quick())
	fail := func(context.Context) error { return errFlaky }
	for i := 0; i < 2; i++ {
		require.ErrorIs(t, exec.Execute(context.Background(), "publish", fail, flakyOnly), errFlaky)
	}

	err := exec.Execute(context.Background(), "publish", func(context.Context) error {
		t.Fatal("call went through an open breaker")
		return nil
	}, flakyOnly)
	assert.True(t, IsCircuitOpen(err))

	// Breakers are per operation.
	require.NoError(t, exec.Execute(context.Background(), "insert", func(context.Context) error { return nil }, flakyOnly))
}

func TestBenignErrorsLeaveBreakerClosed(t *testing.T) {
	exec := NewExecutor(quick())
	rejected := errors.New("duplicate key")
	benign := func(error) Outcome { return Benign }
	for i := 0; i < 5; i++ {
		require.ErrorIs(t, exec.Execute(context.Background(), "insert", func(context.Context) error { return rejected }, benign), rejected)
	}
	assert.NoError(t, exec.Execute(context.Background(), "insert", func(context.Context) error { return nil }, benign))
}

func TestExecuteSkipsCallOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := NewExecutor(quick()).Execute(ctx, "insert", func(context.Context) error {
		called = true
		return nil
	}, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestPolicyDefaults(t *testing.T) {
	p := Policy{Backoff: 5 * time.Second}.withDefaults()
	assert.Equal(t, 3, p.Attempts)
	assert.Equal(t, 5*time.Second, p.MaxBackoff)
	assert.Equal(t, uint32(5), p.TripAfter)
	assert.True(t, Cancelled(context.DeadlineExceeded))
	assert.False(t, Cancelled(errFlaky))
}
