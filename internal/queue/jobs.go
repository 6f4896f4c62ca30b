// Package queue defines the ingest task carried by asynq and the retry policy
// applied to it.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/LedgerDrop/internal/model"
)

const (
	// ProcessUploadTask is scheduled once per accepted upload.
	ProcessUploadTask = "upload:process"
)

// Payload is serialized into the task so the worker knows which upload to run
// and where its bytes live.
type Payload struct {
	UploadID      string         `json:"upload_id"`
	ContentHandle string         `json:"content_handle"`
	OwnerID       string         `json:"owner_id"`
	FileType      model.FileType `json:"file_type"`
	Filename      string         `json:"filename"`
	EnqueuedAt    time.Time      `json:"enqueued_at"`
}

func (p Payload) Validate() error {
	switch {
	case p.UploadID == "":
		return errors.New("missing upload_id")
	case p.ContentHandle == "":
		return errors.New("missing content_handle")
	case p.OwnerID == "":
		return errors.New("missing owner_id")
	}
	return nil
}

// Attempt identifies one delivery of a task. Number starts at 1.
type Attempt struct {
	Number int
	Max    int
}

// Final reports whether no retry will follow a failure of this attempt.
func (a Attempt) Final() bool {
	return a.Number >= a.Max
}

// Options configure how tasks are enqueued.
type Options struct {
	Queue       string
	MaxAttempts int
	Timeout     time.Duration
}

// NewTask builds the asynq task for p. The upload id doubles as the task id so
// an upload can never be queued twice.
func NewTask(p Payload, opts Options) (*asynq.Task, error) {
	if err := p.Validate(); err != nil {
		return nil, model.WrapError(model.ErrInvalidInput, "build task", err)
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	taskOpts := []asynq.Option{
		asynq.TaskID(p.UploadID),
		asynq.MaxRetry(max(opts.MaxAttempts-1, 0)),
	}
	if opts.Queue != "" {
		taskOpts = append(taskOpts, asynq.Queue(opts.Queue))
	}
	if opts.Timeout > 0 {
		taskOpts = append(taskOpts, asynq.Timeout(opts.Timeout))
	}
	return asynq.NewTask(ProcessUploadTask, data, taskOpts...), nil
}

// DecodePayload reads a task payload back.
func DecodePayload(data []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Payload{}, fmt.Errorf("decode payload: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Payload{}, fmt.Errorf("decode payload: %w", err)
	}
	return p, nil
}

// Backoff returns the delay before retry number n (0-based): base, 2*base,
// 4*base and so on, capped at an hour.
func Backoff(base time.Duration, n int) time.Duration {
	if base <= 0 {
		base = 2 * time.Second
	}
	d := time.Duration(float64(base) * math.Pow(2, float64(n)))
	if d <= 0 || d > time.Hour {
		return time.Hour
	}
	return d
}

// RetryDelayFunc adapts Backoff for asynq.Config.
func RetryDelayFunc(base time.Duration) asynq.RetryDelayFunc {
	return func(n int, _ error, _ *asynq.Task) time.Duration {
		return Backoff(base, n)
	}
}

// Client enqueues ingest tasks on Redis.
type Client struct {
	client *asynq.Client
	opts   Options
}

func NewClient(redis asynq.RedisClientOpt, opts Options) *Client {
	return &Client{client: asynq.NewClient(redis), opts: opts}
}

// Enqueue schedules the upload for background processing.
func (c *Client) Enqueue(ctx context.Context, p Payload) error {
	task, err := NewTask(p, c.opts)
	if err != nil {
		return err
	}
	if _, err := c.client.EnqueueContext(ctx, task); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return model.WrapError(model.ErrInvalidInput, "enqueue upload", err)
		}
		return fmt.Errorf("enqueue upload task: %w", err)
	}
	return nil
}

func (c *Client) Close() error {
	return c.client.Close()
}
