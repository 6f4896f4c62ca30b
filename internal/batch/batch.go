// Package batch drives normalization and bulk dispatch over a row source in
// fixed-size batches. A failing batch is recorded and skipped; it never stops
// the run.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/LedgerDrop/internal/model"
	"github.com/dharsanguruparan/LedgerDrop/internal/normalize"
	"github.com/dharsanguruparan/LedgerDrop/internal/parser"
)

const (
	DefaultBatchSize       = 500
	DefaultMaxErrors       = 1000
	DefaultProgressEvery   = 10
	DefaultDispatchTimeout = 60 * time.Second
)

// Sink persists normalized records, one call per batch.
type Sink interface {
	BulkCreate(ctx context.Context, records []model.TransactionRecord) error
}

// Config tunes a Processor. Zero values fall back to the defaults.
type Config struct {
	BatchSize       int
	MaxErrors       int
	ProgressEvery   int
	DispatchTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.MaxErrors <= 0 {
		c.MaxErrors = DefaultMaxErrors
	}
	if c.ProgressEvery <= 0 {
		c.ProgressEvery = DefaultProgressEvery
	}
	if c.DispatchTimeout <= 0 {
		c.DispatchTimeout = DefaultDispatchTimeout
	}
	return c
}

// Progress is reported after a batch when the cadence says so and always
// after the last one.
type Progress struct {
	Processed  int
	Successful int
	Failed     int
	// Total is the source's row count, or -1 when unknown.
	Total int
	Batch int
	Final bool
}

// ProgressFunc receives progress ticks. Its errors are logged and ignored.
type ProgressFunc func(ctx context.Context, p Progress) error

// Result aggregates a full run. Failed is the true failure count; Errors is
// capped at Config.MaxErrors.
type Result struct {
	Processed  int
	Successful int
	Failed     int
	Errors     []model.RowError
	Batches    int
}

// Observer receives per-batch outcomes for instrumentation.
type Observer interface {
	BatchDone(successful, failed int, dispatchErr error)
}

type Processor struct {
	sink     Sink
	cfg      Config
	observer Observer
}

func New(sink Sink, cfg Config) *Processor {
	return &Processor{sink: sink, cfg: cfg.withDefaults()}
}

// WithObserver attaches an Observer and returns p.
func (p *Processor) WithObserver(o Observer) *Processor {
	p.observer = o
	return p
}

// Process pulls batches from src in order until it is exhausted. Only source
// read failures and context cancellation end the run early.
func (p *Processor) Process(ctx context.Context, src parser.Source, uploadID, ownerID string, onProgress ProgressFunc) (Result, error) {
	var res Result
	logger := log.WithFields(log.Fields{"upload_id": uploadID, "owner_id": ownerID})

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		rows, err := src.Next(p.cfg.BatchSize)
		if errors.Is(err, io.EOF) {
			p.report(ctx, onProgress, res, src.Total(), true, logger)
			return res, nil
		}
		if err != nil {
			return res, fmt.Errorf("read rows: %w", err)
		}
		if len(rows) == 0 {
			continue
		}
		p.runBatch(ctx, &res, rows, uploadID, ownerID, logger)
		// Ticks after the first batch and every ProgressEvery batches after it.
		if (res.Batches-1)%p.cfg.ProgressEvery == 0 {
			p.report(ctx, onProgress, res, src.Total(), false, logger)
		}
	}
}

func (p *Processor) runBatch(ctx context.Context, res *Result, rows []parser.Row, uploadID, ownerID string, logger *log.Entry) {
	start := res.Processed
	records := make([]model.TransactionRecord, 0, len(rows))
	var rowErrs []model.RowError
	for _, row := range rows {
		rec, err := normalize.Record(row, uploadID, ownerID)
		if err != nil {
			rowErrs = append(rowErrs, rowError(row.Number, err))
			continue
		}
		records = append(records, rec)
	}

	res.Batches++
	res.Processed += len(rows)

	var dispatchErr error
	if len(records) > 0 {
		dispatchErr = p.dispatch(ctx, records)
	}
	if dispatchErr != nil {
		logger.WithFields(log.Fields{"batch": res.Batches, "rows": len(rows)}).
			WithError(dispatchErr).Error("batch dispatch failed")
		res.Failed += len(rows)
		p.appendErrors(res, rowErrs...)
		p.appendErrors(res, model.RowError{
			Row:   start,
			Error: "Batch processing failed: " + dispatchErr.Error(),
		})
		p.observe(0, len(rows), dispatchErr)
		return
	}
	res.Successful += len(records)
	res.Failed += len(rowErrs)
	p.appendErrors(res, rowErrs...)
	p.observe(len(records), len(rowErrs), nil)
	logger.WithFields(log.Fields{
		"batch":      res.Batches,
		"successful": len(records),
		"failed":     len(rowErrs),
	}).Debug("batch dispatched")
}

func (p *Processor) dispatch(ctx context.Context, records []model.TransactionRecord) error {
	dctx, cancel := context.WithTimeout(ctx, p.cfg.DispatchTimeout)
	defer cancel()
	return p.sink.BulkCreate(dctx, records)
}

func (p *Processor) appendErrors(res *Result, errs ...model.RowError) {
	room := p.cfg.MaxErrors - len(res.Errors)
	if room <= 0 {
		return
	}
	if len(errs) > room {
		errs = errs[:room]
	}
	res.Errors = append(res.Errors, errs...)
}

func (p *Processor) observe(successful, failed int, err error) {
	if p.observer != nil {
		p.observer.BatchDone(successful, failed, err)
	}
}

func (p *Processor) report(ctx context.Context, fn ProgressFunc, res Result, total int, final bool, logger *log.Entry) {
	if fn == nil {
		return
	}
	tick := Progress{
		Processed:  res.Processed,
		Successful: res.Successful,
		Failed:     res.Failed,
		Total:      total,
		Batch:      res.Batches,
		Final:      final,
	}
	if err := fn(ctx, tick); err != nil {
		logger.WithError(err).WithField("batch", res.Batches).Warn("progress update failed")
	}
}

func rowError(number int, err error) model.RowError {
	var fe *normalize.FieldError
	if errors.As(err, &fe) {
		return fe.RowError()
	}
	return model.RowError{Row: number, Error: fmt.Sprintf("Row %d: %v", number, err)}
}
