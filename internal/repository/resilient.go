package repository

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dharsanguruparan/LedgerDrop/internal/model"
	"github.com/dharsanguruparan/LedgerDrop/internal/resilience"
)

// BulkCreator is the transaction sink contract.
type BulkCreator interface {
	BulkCreate(ctx context.Context, records []model.TransactionRecord) error
}

// ResilientSink retries transient database failures around a sink and trips
// a breaker when Postgres keeps failing.
type ResilientSink struct {
	next     BulkCreator
	executor *resilience.Executor
}

func NewResilientSink(next BulkCreator, executor *resilience.Executor) *ResilientSink {
	return &ResilientSink{next: next, executor: executor}
}

func (s *ResilientSink) BulkCreate(ctx context.Context, records []model.TransactionRecord) error {
	if s.executor == nil {
		return s.next.BulkCreate(ctx, records)
	}
	err := s.executor.Execute(ctx, "transactions.bulk_create", func(ctx context.Context) error {
		return s.next.BulkCreate(ctx, records)
	}, ClassifyDBError)
	if err != nil && resilience.IsCircuitOpen(err) {
		return model.WrapError(model.ErrTemporary, "bulk create", err)
	}
	return err
}

// ClassifyDBError retries connection loss, serialization failures and
// deadlocks. Other server errors reject only the statement at hand and leave
// the breaker closed.
func ClassifyDBError(err error) resilience.Outcome {
	if resilience.Cancelled(err) {
		return resilience.Benign
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "08"), pgErr.Code == "40001", pgErr.Code == "40P01", pgErr.Code == "57P03":
			return resilience.Transient
		default:
			return resilience.Benign
		}
	}
	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || pgconn.SafeToRetry(err) || errors.As(err, &netErr) {
		return resilience.Transient
	}
	return resilience.Fatal
}
