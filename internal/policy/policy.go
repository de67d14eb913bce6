// Package policy wraps remote calls in the resiliency chain: auth retry,
// rate-limit backoff, and a concurrency bulkhead, composed outer to inner.
package policy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/drafterd/drafter/internal/remote"
)

const (
	defaultAuthAttempts  = 5
	defaultBulkheadLimit = 10
)

// defaultBackoff is the fixed wait schedule between rate-limited attempts.
var defaultBackoff = []time.Duration{10 * time.Second, 20 * time.Second, 40 * time.Second}

// RateLimitError is surfaced after the backoff schedule is exhausted.
type RateLimitError struct {
	Attempts int
	Err      error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// Operation is one remote call attempt.
type Operation func(ctx context.Context) error

// Chain applies the resiliency policies around an Operation:
//
//  1. Auth retry: an unauthorized response already invalidated the cached
//     token (remote.Client), so re-running the operation fetches a fresh
//     one. Bounded attempts.
//  2. Rate-limit backoff: fixed wait schedule, then RateLimitError.
//  3. Bulkhead: a weighted semaphore caps in-flight calls; excess callers
//     queue in FIFO order and are never rejected.
//
// Each retry re-enters the bulkhead, so a slot is held per attempt and
// never across a backoff wait.
type Chain struct {
	authAttempts int
	backoff      []time.Duration
	bulkhead     *semaphore.Weighted
	limiter      *rate.Limiter
	logger       *slog.Logger
}

// Option configures a Chain.
type Option func(*Chain)

// WithAuthAttempts sets the total attempts allowed for auth retries.
func WithAuthAttempts(n int) Option {
	return func(c *Chain) {
		if n > 0 {
			c.authAttempts = n
		}
	}
}

// WithBackoffSchedule replaces the rate-limit wait schedule.
func WithBackoffSchedule(waits ...time.Duration) Option {
	return func(c *Chain) { c.backoff = waits }
}

// WithBulkheadLimit sets the maximum number of concurrently in-flight calls.
func WithBulkheadLimit(n int64) Option {
	return func(c *Chain) {
		if n > 0 {
			c.bulkhead = semaphore.NewWeighted(n)
		}
	}
}

// WithRateLimit adds client-side request smoothing at rps requests per
// second. Zero or negative disables smoothing.
func WithRateLimit(rps float64) Option {
	return func(c *Chain) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithLogger sets the chain's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Chain) { c.logger = logger }
}

// NewChain creates a policy chain with the production defaults: 5 auth
// attempts, 10s/20s/40s backoff, bulkhead of 10, no smoothing.
func NewChain(opts ...Option) *Chain {
	c := &Chain{
		authAttempts: defaultAuthAttempts,
		backoff:      defaultBackoff,
		bulkhead:     semaphore.NewWeighted(defaultBulkheadLimit),
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do runs op through the policy chain and returns the final outcome.
// Intermediate retry detail is never surfaced, only logged.
func (c *Chain) Do(ctx context.Context, op Operation) error {
	var err error
	for attempt := 1; ; attempt++ {
		err = c.withBackoff(ctx, op)
		if err == nil || !remote.IsUnauthorized(err) {
			return err
		}
		if attempt >= c.authAttempts {
			return err
		}
		authRetries.Inc()
		c.logger.Warn("unauthorized response, retrying with fresh token",
			"attempt", attempt,
			"max_attempts", c.authAttempts,
		)
	}
}

// withBackoff runs op, waiting out the backoff schedule between
// rate-limited attempts.
func (c *Chain) withBackoff(ctx context.Context, op Operation) error {
	err := c.runGuarded(ctx, op)
	for i := 0; remote.IsRateLimited(err); i++ {
		if i >= len(c.backoff) {
			return &RateLimitError{Attempts: i + 1, Err: err}
		}
		rateLimitWaits.Inc()
		c.logger.Warn("rate limited, backing off",
			"wait", c.backoff[i].String(),
			"attempt", i+1,
		)
		if werr := sleep(ctx, c.backoff[i]); werr != nil {
			return werr
		}
		err = c.runGuarded(ctx, op)
	}
	return err
}

// runGuarded executes one attempt inside the bulkhead (and the optional
// smoothing limiter). Waiting for a slot adds latency, never failure, unless
// the context is cancelled.
func (c *Chain) runGuarded(ctx context.Context, op Operation) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	if err := c.bulkhead.Acquire(ctx, 1); err != nil {
		return err
	}
	inFlight.Inc()
	defer func() {
		inFlight.Dec()
		c.bulkhead.Release(1)
	}()
	return op(ctx)
}

// sleep waits d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
