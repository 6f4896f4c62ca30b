package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/LedgerDrop/internal/batch"
	"github.com/dharsanguruparan/LedgerDrop/internal/events"
	"github.com/dharsanguruparan/LedgerDrop/internal/metrics"
	"github.com/dharsanguruparan/LedgerDrop/internal/model"
	"github.com/dharsanguruparan/LedgerDrop/internal/parser"
	"github.com/dharsanguruparan/LedgerDrop/internal/queue"
	"github.com/dharsanguruparan/LedgerDrop/internal/storage"
)

// ErrNoRecords is returned for files whose sheet or CSV has no data rows.
var ErrNoRecords = errors.New("no valid records found in file")

type RunnerConfig struct {
	Batch     batch.Config
	ChunkRows int
}

// Runner executes one upload job attempt: resolve content, parse, run the
// batch processor and record the outcome.
type Runner struct {
	content storage.Store
	status  StatusStore
	sink    batch.Sink
	events  events.Publisher
	metrics *metrics.WorkerMetrics
	cfg     RunnerConfig
	now     func() time.Time
}

func NewRunner(content storage.Store, status StatusStore, sink batch.Sink, pub events.Publisher, m *metrics.WorkerMetrics, cfg RunnerConfig) *Runner {
	return &Runner{
		content: content,
		status:  status,
		sink:    sink,
		events:  pub,
		metrics: m,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Run processes p. A returned error means the attempt failed; errors marked
// model.ErrPermanent must not be retried. Terminal statuses are written only
// when no retry will follow.
func (r *Runner) Run(ctx context.Context, p queue.Payload, attempt queue.Attempt) error {
	logger := log.WithFields(log.Fields{
		"upload_id": p.UploadID,
		"owner_id":  p.OwnerID,
		"attempt":   fmt.Sprintf("%d/%d", attempt.Number, attempt.Max),
	})
	started := r.now()
	outcome := metrics.OutcomeCompleted
	r.metrics.StartUpload()
	defer func() { r.metrics.FinishUpload(outcome, r.now().Sub(started)) }()

	exists, err := r.content.Exists(ctx, p.ContentHandle)
	if err != nil {
		outcome = r.fail(ctx, p, attempt, fmt.Errorf("check content: %w", err), logger)
		return err
	}
	if !exists {
		err = model.WrapError(model.ErrPermanent, "resolve content", fmt.Errorf("%s: %w", p.ContentHandle, storage.ErrContentNotFound))
		outcome = r.fail(ctx, p, attempt, err, logger)
		return err
	}

	err = r.status.Update(ctx, p.UploadID, model.UploadUpdate{
		Status:              model.Ptr(model.StatusProcessing),
		ProcessingStartedAt: model.Ptr(started),
	})
	switch {
	case model.IsKind(err, model.ErrTerminalStatus):
		logger.Info("upload already finished, skipping duplicate delivery")
		outcome = metrics.OutcomeSkipped
		return nil
	case model.IsKind(err, model.ErrUploadNotFound):
		outcome = metrics.OutcomeFailed
		return model.WrapError(model.ErrPermanent, "mark processing", err)
	case err != nil:
		outcome = r.fail(ctx, p, attempt, fmt.Errorf("mark processing: %w", err), logger)
		return err
	}
	if attempt.Number == 1 {
		r.metrics.ObserveQueueLag(started.Sub(p.EnqueuedAt))
	}
	logger.Info("processing upload")

	res, err := r.execute(ctx, p, logger)
	if err != nil {
		outcome = r.fail(ctx, p, attempt, err, logger)
		return err
	}
	r.complete(ctx, p, res, logger)
	return nil
}

func (r *Runner) execute(ctx context.Context, p queue.Payload, logger *log.Entry) (batch.Result, error) {
	data, err := r.content.Get(ctx, p.ContentHandle)
	if err != nil {
		if errors.Is(err, storage.ErrContentNotFound) {
			return batch.Result{}, model.WrapError(model.ErrPermanent, "fetch content", err)
		}
		return batch.Result{}, fmt.Errorf("fetch content: %w", err)
	}

	src, err := parser.Open(data, p.FileType, r.cfg.ChunkRows)
	if err != nil {
		return batch.Result{}, classifyParseError(err)
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			logger.WithError(cerr).Warn("close row source")
		}
	}()

	if total := src.Total(); total >= 0 {
		if err := r.status.Update(ctx, p.UploadID, model.UploadUpdate{TotalRecords: model.Ptr(total)}); err != nil {
			logger.WithError(err).Warn("could not correct total records")
		}
	}

	throttle := &progressThrottle{last: 0}
	processor := batch.New(r.sink, r.cfg.Batch).WithObserver(r.metrics)
	res, err := processor.Process(ctx, src, p.UploadID, p.OwnerID, func(ctx context.Context, pr batch.Progress) error {
		return r.progress(ctx, p, pr, throttle, logger)
	})
	if err != nil {
		return res, classifyParseError(err)
	}
	if res.Processed == 0 {
		return res, model.WrapError(model.ErrPermanent, "process upload", ErrNoRecords)
	}
	return res, nil
}

// progress persists counters and publishes a throttled progress event. The
// batch processor only logs the returned error.
func (r *Runner) progress(ctx context.Context, p queue.Payload, pr batch.Progress, throttle *progressThrottle, logger *log.Entry) error {
	err := r.status.Update(ctx, p.UploadID, model.UploadUpdate{
		ProcessedRecords:  model.Ptr(pr.Processed),
		SuccessfulRecords: model.Ptr(pr.Successful),
		FailedRecords:     model.Ptr(pr.Failed),
	})

	total := max(pr.Total, pr.Processed)
	percent := model.Percent(pr.Processed, total)
	logger.WithFields(log.Fields{"processed": pr.Processed, "total": total, "progress": percent}).Info("progress")
	if throttle.allow(percent) {
		if perr := r.events.Publish(ctx, events.KindProgress, events.Progress{
			OwnerID:          p.OwnerID,
			UploadID:         p.UploadID,
			Progress:         percent,
			ProcessedRecords: pr.Processed,
			TotalRecords:     total,
		}); perr != nil {
			logger.WithError(perr).Warn("publish progress event failed")
		}
	}
	return err
}

func (r *Runner) complete(ctx context.Context, p queue.Payload, res batch.Result, logger *log.Entry) {
	errs := res.Errors
	if errs == nil {
		errs = []model.RowError{}
	}
	if err := r.status.Update(ctx, p.UploadID, model.UploadUpdate{
		Status:            model.Ptr(model.StatusCompleted),
		TotalRecords:      model.Ptr(res.Processed),
		ProcessedRecords:  model.Ptr(res.Processed),
		SuccessfulRecords: model.Ptr(res.Successful),
		FailedRecords:     model.Ptr(res.Failed),
		Errors:            &errs,
		ProcessedAt:       model.Ptr(r.now()),
	}); err != nil {
		logger.WithError(err).Error("could not mark upload completed")
	}
	if err := r.events.Publish(ctx, events.KindCompleted, events.Completed{
		OwnerID:           p.OwnerID,
		UploadID:          p.UploadID,
		TotalRecords:      res.Processed,
		SuccessfulRecords: res.Successful,
		FailedRecords:     res.Failed,
	}); err != nil {
		logger.WithError(err).Warn("publish completed event failed")
	}
	logger.WithFields(log.Fields{
		"processed":  res.Processed,
		"successful": res.Successful,
		"failed":     res.Failed,
		"batches":    res.Batches,
	}).Info("upload completed")
}

// fail records a failed attempt and returns the metrics outcome. The job is
// moved to FAILED only when no retry follows; otherwise it stays PROCESSING
// with the error noted.
func (r *Runner) fail(ctx context.Context, p queue.Payload, attempt queue.Attempt, cause error, logger *log.Entry) string {
	logger = logger.WithError(cause)
	final := attempt.Final() || model.IsKind(cause, model.ErrPermanent)
	ctx = context.WithoutCancel(ctx)

	if !final {
		logger.Warn("upload attempt failed, will retry")
		if err := r.status.Update(ctx, p.UploadID, model.UploadUpdate{
			Errors: &[]model.RowError{{Row: 0, Error: fmt.Sprintf("Attempt %d/%d failed: %s", attempt.Number, attempt.Max, cause)}},
		}); err != nil {
			logger.WithField("status_error", err.Error()).Warn("could not record failed attempt")
		}
		return metrics.OutcomeRetry
	}

	logger.Error("upload failed")
	if err := r.status.Update(ctx, p.UploadID, model.UploadUpdate{
		Status:      model.Ptr(model.StatusFailed),
		Errors:      &[]model.RowError{{Row: 0, Error: cause.Error()}},
		ProcessedAt: model.Ptr(r.now()),
	}); err != nil {
		logger.WithField("status_error", err.Error()).Error("could not mark upload failed")
	}
	if err := r.events.Publish(ctx, events.KindFailed, events.Failed{
		OwnerID:  p.OwnerID,
		UploadID: p.UploadID,
		Error:    cause.Error(),
	}); err != nil {
		logger.WithField("publish_error", err.Error()).Warn("publish failed event failed")
	}
	return metrics.OutcomeFailed
}

// classifyParseError marks malformed input as permanent.
func classifyParseError(err error) error {
	if errors.Is(err, parser.ErrParse) || errors.Is(err, parser.ErrEmptyOrHeaderOnly) || errors.Is(err, parser.ErrUnsupportedFormat) {
		return model.WrapError(model.ErrPermanent, "parse upload", err)
	}
	return err
}

// progressThrottle lets a progress event through every 10 points, and for
// any gain once past 95%.
type progressThrottle struct {
	last int
}

func (t *progressThrottle) allow(percent int) bool {
	if percent >= t.last+10 || (percent > 95 && percent > t.last) {
		t.last = percent
		return true
	}
	return false
}
