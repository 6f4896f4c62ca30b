// Package worker plugs the ingest runner into the asynq server loop.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	log "github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/LedgerDrop/internal/model"
	"github.com/dharsanguruparan/LedgerDrop/internal/queue"
)

// Runner executes one attempt of an upload job.
type Runner interface {
	Run(ctx context.Context, p queue.Payload, attempt queue.Attempt) error
}

// Processor is plugged into the asynq worker loop.
type Processor struct {
	runner Runner
}

// NewProcessor constructs a worker processor.
func NewProcessor(runner Runner) *Processor {
	return &Processor{runner: runner}
}

// Handler registers the upload job handler.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.ProcessUploadTask, p.handleProcess)
	return mux
}

func (p *Processor) handleProcess(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.DecodePayload(task.Payload())
	if err != nil {
		log.WithError(err).Error("dropping undecodable upload task")
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	err = p.runner.Run(ctx, payload, attemptFrom(ctx))
	if err != nil && model.IsKind(err, model.ErrPermanent) {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	return err
}

// attemptFrom reads asynq's retry bookkeeping. Outside a worker context it
// reports a single final attempt.
func attemptFrom(ctx context.Context) queue.Attempt {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return queue.Attempt{Number: 1, Max: 1}
	}
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	return queue.Attempt{Number: retried + 1, Max: maxRetry + 1}
}

// ServerConfig tunes the asynq server loop.
type ServerConfig struct {
	Concurrency int
	Queue       string
	Backoff     time.Duration
}

// Run serves upload tasks until ctx is cancelled.
func Run(ctx context.Context, redis asynq.RedisClientOpt, cfg ServerConfig, p *Processor) error {
	queues := map[string]int{"default": 1}
	if cfg.Queue != "" {
		queues = map[string]int{cfg.Queue: 1}
	}
	server := asynq.NewServer(redis, asynq.Config{
		Concurrency:    cfg.Concurrency,
		Queues:         queues,
		RetryDelayFunc: queue.RetryDelayFunc(cfg.Backoff),
		Logger:         log.StandardLogger(),
		LogLevel:       asynqLevel(log.GetLevel()),
	})

	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()

	log.WithFields(log.Fields{"concurrency": cfg.Concurrency, "queues": queues}).Info("worker started")
	if err := server.Run(p.Handler()); err != nil {
		return fmt.Errorf("run worker: %w", err)
	}
	return nil
}

func asynqLevel(l log.Level) asynq.LogLevel {
	switch l {
	case log.DebugLevel, log.TraceLevel:
		return asynq.DebugLevel
	case log.WarnLevel:
		return asynq.WarnLevel
	case log.ErrorLevel:
		return asynq.ErrorLevel
	case log.FatalLevel, log.PanicLevel:
		return asynq.FatalLevel
	}
	return asynq.InfoLevel
}
