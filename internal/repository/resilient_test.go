package repository

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/LedgerDrop/internal/model"
	"github.com/dharsanguruparan/LedgerDrop/internal/resilience"
)

type flakySink struct {
	failures int
	err      error
	calls    int
}

func (f *flakySink) BulkCreate(context.Context, []model.TransactionRecord) error {
	f.calls++
	if f.calls <= f.failures {
		return f.err
	}
	return nil
}

func TestResilientSinkRetriesConnectionLoss(t *testing.T) {
	next := &flakySink{failures: 2, err: fmt.Errorf("exec: %w", driver.ErrBadConn)}
	sink := NewResilientSink(next, resilience.NewExecutor(resilience.Policy{
		Attempts: 3,
		Backoff:  time.Millisecond,
	}))

	require.NoError(t, sink.BulkCreate(context.Background(), sampleRecords()))
	assert.Equal(t, 3, next.calls)
}

func TestResilientSinkDoesNotRetryConstraintViolation(t *testing.T) {
	next := &flakySink{failures: 5, err: &pgconn.PgError{Code: "23514", Message: "check violation"}}
	sink := NewResilientSink(next, resilience.NewExecutor(resilience.Policy{Backoff: time.Millisecond}))

	err := sink.BulkCreate(context.Background(), sampleRecords())
	require.Error(t, err)
	assert.Equal(t, 1, next.calls)
}

func TestClassifyDBError(t *testing.T) {
	assert.Equal(t, resilience.Transient, ClassifyDBError(&pgconn.PgError{Code: "40001"}))
	assert.Equal(t, resilience.Transient, ClassifyDBError(&pgconn.PgError{Code: "08006"}))
	assert.Equal(t, resilience.Transient, ClassifyDBError(fmt.Errorf("exec: %w", driver.ErrBadConn)))
	assert.Equal(t, resilience.Benign, ClassifyDBError(&pgconn.PgError{Code: "23505"}))
	assert.Equal(t, resilience.Benign, ClassifyDBError(context.Canceled))
	assert.Equal(t, resilience.Fatal, ClassifyDBError(errors.New("syntax")))
}
