// Package processing runs upload jobs on an in-process worker pool. It stands
// in for Redis and asynq when the CLI runs standalone.
package processing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/LedgerDrop/internal/model"
	"github.com/dharsanguruparan/LedgerDrop/internal/queue"
)

var (
	ErrQueueFull = errors.New("processing queue full")
	ErrClosed    = errors.New("processing pool closed")
)

// Runner executes one attempt of an upload job.
type Runner interface {
	Run(ctx context.Context, p queue.Payload, attempt queue.Attempt) error
}

type job struct {
	payload queue.Payload
	attempt int
}

// Pool consumes jobs and retries them with exponential backoff until the
// attempt budget is spent or the error is permanent.
type Pool struct {
	runner      Runner
	queue       chan job
	workers     int
	maxAttempts int
	backoff     time.Duration

	mu     sync.Mutex
	seen   map[string]struct{}
	closed bool
	wg     sync.WaitGroup
	jobs   sync.WaitGroup
}

// New builds a Pool with queue capacity tied to worker count.
func New(runner Runner, workers, maxAttempts int, backoff time.Duration) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &Pool{
		runner:      runner,
		queue:       make(chan job, workers*4),
		workers:     workers,
		maxAttempts: maxAttempts,
		backoff:     backoff,
		seen:        make(map[string]struct{}),
	}
}

// Start launches worker goroutines. They exit when ctx is cancelled or the
// pool is closed.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

// Enqueue schedules the upload. Each upload id is accepted once.
func (p *Pool) Enqueue(_ context.Context, payload queue.Payload) error {
	if err := payload.Validate(); err != nil {
		return model.WrapError(model.ErrInvalidInput, "enqueue upload", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if _, dup := p.seen[payload.UploadID]; dup {
		return model.WrapError(model.ErrInvalidInput, "enqueue upload",
			fmt.Errorf("upload %s already queued", payload.UploadID))
	}
	p.jobs.Add(1)
	select {
	case p.queue <- job{payload: payload, attempt: 1}:
		p.seen[payload.UploadID] = struct{}{}
		return nil
	default:
		p.jobs.Done()
		return ErrQueueFull
	}
}

// Wait blocks until every accepted job has finished, including retries, or
// ctx is done.
func (p *Pool) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.jobs.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting work, drains the queue and waits for the workers.
func (p *Pool) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-p.queue:
			if !ok {
				return
			}
			p.process(ctx, j)
		}
	}
}

func (p *Pool) process(ctx context.Context, j job) {
	defer p.jobs.Done()
	for {
		attempt := queue.Attempt{Number: j.attempt, Max: p.maxAttempts}
		err := p.runner.Run(ctx, j.payload, attempt)
		if err == nil || attempt.Final() || model.IsKind(err, model.ErrPermanent) {
			return
		}
		delay := queue.Backoff(p.backoff, j.attempt-1)
		log.WithFields(log.Fields{
			"upload_id": j.payload.UploadID,
			"attempt":   j.attempt,
			"delay":     delay,
		}).WithError(err).Warn("retrying upload")
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		j.attempt++
	}
}
