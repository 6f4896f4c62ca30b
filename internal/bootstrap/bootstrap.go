// Package bootstrap assembles the ingest pipeline from configuration, either
// against Postgres, MinIO, Redis and NATS or fully in memory.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	log "github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/LedgerDrop/internal/batch"
	"github.com/dharsanguruparan/LedgerDrop/internal/config"
	"github.com/dharsanguruparan/LedgerDrop/internal/database"
	"github.com/dharsanguruparan/LedgerDrop/internal/events"
	"github.com/dharsanguruparan/LedgerDrop/internal/ingest"
	"github.com/dharsanguruparan/LedgerDrop/internal/metrics"
	"github.com/dharsanguruparan/LedgerDrop/internal/processing"
	"github.com/dharsanguruparan/LedgerDrop/internal/queue"
	"github.com/dharsanguruparan/LedgerDrop/internal/repository"
	"github.com/dharsanguruparan/LedgerDrop/internal/resilience"
	"github.com/dharsanguruparan/LedgerDrop/internal/s3storage"
	"github.com/dharsanguruparan/LedgerDrop/internal/storage"
	"github.com/dharsanguruparan/LedgerDrop/internal/worker"
)

// App holds the wired pipeline. Pool is set only in standalone mode.
type App struct {
	Config  *config.Config
	Service *ingest.Service
	Runner  *ingest.Runner
	Metrics *metrics.WorkerMetrics
	Pool    *processing.Pool

	closers []func() error
}

// RedisOpt returns the asynq connection settings for cfg.
func RedisOpt(cfg *config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
}

// QueueOptions derives task options from cfg.
func QueueOptions(cfg *config.Config) queue.Options {
	return queue.Options{
		Queue:       cfg.QueueName,
		MaxAttempts: cfg.JobMaxAttempts,
		Timeout:     cfg.JobTimeout,
	}
}

func runnerConfig(cfg *config.Config) ingest.RunnerConfig {
	return ingest.RunnerConfig{
		Batch: batch.Config{
			BatchSize:       cfg.BatchSize,
			MaxErrors:       cfg.MaxErrors,
			ProgressEvery:   cfg.ProgressEvery,
			DispatchTimeout: cfg.DispatchTimeout,
		},
		ChunkRows: cfg.ChunkRows,
	}
}

// Open connects every backing service and wires the durable pipeline.
func Open(ctx context.Context, cfg *config.Config) (*App, error) {
	app := &App{Config: cfg, Metrics: metrics.NewWorkerMetrics()}

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, func() error { pool.Close(); return nil })
	db := database.OpenDB(pool)
	app.closers = append(app.closers, db.Close)

	content, err := s3storage.New(cfg)
	if err != nil {
		app.Close()
		return nil, err
	}
	if err := content.EnsureBucket(ctx); err != nil {
		app.Close()
		return nil, err
	}

	executor := resilience.NewExecutor(resilience.DefaultPolicy())
	pub, err := openPublisher(cfg, executor)
	if err != nil {
		app.Close()
		return nil, err
	}
	if closer, ok := pub.(*events.NATSPublisher); ok {
		app.closers = append(app.closers, func() error { closer.Close(); return nil })
	}

	uploads := repository.NewUploadRepository(db)
	sink := repository.NewResilientSink(repository.NewTransactionRepository(db), executor)

	client := queue.NewClient(RedisOpt(cfg), QueueOptions(cfg))
	app.closers = append(app.closers, client.Close)

	app.Runner = ingest.NewRunner(content, uploads, sink, pub, app.Metrics, runnerConfig(cfg))
	app.Service = ingest.NewService(content, uploads, client, pub, cfg.HistoryLimit)
	return app, nil
}

// OpenStandalone wires the pipeline on in-memory stores and an in-process
// worker pool started on ctx.
func OpenStandalone(ctx context.Context, cfg *config.Config) *App {
	app := &App{Config: cfg, Metrics: metrics.NewWorkerMetrics()}
	content := storage.NewMemoryStore()
	uploads := repository.NewMemoryUploads()
	pub := events.LogPublisher{Logger: log.StandardLogger()}

	app.Runner = ingest.NewRunner(content, uploads, repository.NewMemoryTransactions(), pub, app.Metrics, runnerConfig(cfg))
	app.Pool = processing.New(app.Runner, cfg.WorkerConcurrency, cfg.JobMaxAttempts, cfg.JobBackoff)
	app.Pool.Start(ctx)
	app.closers = append(app.closers, func() error { app.Pool.Close(); return nil })

	app.Service = ingest.NewService(content, uploads, app.Pool, pub, cfg.HistoryLimit)
	return app
}

// openPublisher prefers NATS and falls back to logging events when no URL is
// configured.
func openPublisher(cfg *config.Config, executor *resilience.Executor) (events.Publisher, error) {
	if cfg.NATSURL == "" {
		log.Warn("nats url not configured, events will only be logged")
		return events.LogPublisher{Logger: log.StandardLogger()}, nil
	}
	pub, err := events.NewNATSPublisher(cfg.NATSURL, cfg.EventSubjectPrefix, events.NATSOptions{Executor: executor})
	if err != nil {
		return nil, fmt.Errorf("open event publisher: %w", err)
	}
	return pub, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// RunWorker serves metrics and consumes upload tasks until ctx is cancelled.
func (a *App) RunWorker(ctx context.Context) error {
	if a.Config.MetricsAddress != "" {
		go func() {
			if err := a.Metrics.Serve(ctx, a.Config.MetricsAddress); err != nil {
				log.WithError(err).Error("metrics server stopped")
			}
		}()
	}
	return worker.Run(ctx, RedisOpt(a.Config), worker.ServerConfig{
		Concurrency: a.Config.WorkerConcurrency,
		Queue:       a.Config.QueueName,
		Backoff:     a.Config.JobBackoff,
	}, worker.NewProcessor(a.Runner))
}
