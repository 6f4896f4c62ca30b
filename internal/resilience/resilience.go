// Package resilience guards calls to Postgres and NATS: a few quick retries
// for transient failures, then a breaker that fails fast while the backend
// stays down.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"
)

// Outcome is how a guarded call's error is treated.
type Outcome int

const (
	// Fatal errors are returned at once and count against the breaker.
	Fatal Outcome = iota
	// Transient errors are retried and count against the breaker.
	Transient
	// Benign errors are returned at once and leave the breaker alone: the
	// caller gave up, or the backend rejected this particular request.
	Benign
)

// Classifier maps an error to its Outcome.
type Classifier func(error) Outcome

// Policy bounds a guarded call.
type Policy struct {
	// Attempts per call, the first one included.
	Attempts int
	// Backoff before the first retry; doubled for each further retry up to
	// MaxBackoff.
	Backoff    time.Duration
	MaxBackoff time.Duration
	// TripAfter consecutive failed calls open the breaker for OpenFor.
	TripAfter uint32
	OpenFor   time.Duration
}

// DefaultPolicy suits a bulk insert or a publish: three tries within about
// a second, and a 30s pause after five failed calls in a row.
func DefaultPolicy() Policy {
	return Policy{
		Attempts:   3,
		Backoff:    200 * time.Millisecond,
		MaxBackoff: 2 * time.Second,
		TripAfter:  5,
		OpenFor:    30 * time.Second,
	}
}

func (p Policy) withDefaults() Policy {
	def := DefaultPolicy()
	if p.Attempts <= 0 {
		p.Attempts = def.Attempts
	}
	if p.Backoff <= 0 {
		p.Backoff = def.Backoff
	}
	if p.MaxBackoff < p.Backoff {
		p.MaxBackoff = max(def.MaxBackoff, p.Backoff)
	}
	if p.TripAfter == 0 {
		p.TripAfter = def.TripAfter
	}
	if p.OpenFor <= 0 {
		p.OpenFor = def.OpenFor
	}
	return p
}

// Executor keeps one breaker per operation name.
type Executor struct {
	policy Policy

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[struct{}]
}

func NewExecutor(policy Policy) *Executor {
	return &Executor{
		policy:   policy.withDefaults(),
		breakers: make(map[string]*gobreaker.CircuitBreaker[struct{}]),
	}
}

// Execute runs fn under the breaker for operation. A nil classifier treats
// every error as Fatal.
func (e *Executor) Execute(ctx context.Context, operation string, fn func(context.Context) error, classify Classifier) error {
	if classify == nil {
		classify = func(error) Outcome { return Fatal }
	}
	_, err := e.breaker(operation, classify).Execute(func() (struct{}, error) {
		return struct{}{}, e.retry(ctx, operation, fn, classify)
	})
	return err
}

func (e *Executor) retry(ctx context.Context, operation string, fn func(context.Context) error, classify Classifier) error {
	wait := e.policy.Backoff
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn(ctx)
		if err == nil || attempt >= e.policy.Attempts || classify(err) != Transient {
			return err
		}
		log.WithFields(log.Fields{
			"operation": operation,
			"attempt":   attempt,
			"backoff":   wait,
		}).WithError(err).Warn("retrying operation")

		select {
		case <-ctx.Done():
			return err
		case <-time.After(wait):
		}
		wait = min(wait*2, e.policy.MaxBackoff)
	}
}

func (e *Executor) breaker(operation string, classify Classifier) *gobreaker.CircuitBreaker[struct{}] {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cb, ok := e.breakers[operation]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:    operation,
		Timeout: e.policy.OpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= e.policy.TripAfter
		},
		IsSuccessful: func(err error) bool {
			return err == nil || classify(err) == Benign
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(log.Fields{"operation": name, "from": from.String(), "to": to.String()}).
				Warn("circuit breaker state change")
		},
	})
	e.breakers[operation] = cb
	return cb
}

// IsCircuitOpen reports whether err came from a breaker refusing the call.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// Cancelled reports whether err is the caller's context ending.
func Cancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
