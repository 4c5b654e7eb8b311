package retry

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jzx17/pagepipeline/pkg/types"
)

// Stats contains retry statistics
type Stats struct {
	TotalAttempts   int64         // processor calls
	TotalRetries    int64         // calls after the first one of a batch
	TotalSuccesses  int64         // batches that eventually succeeded
	TotalFailures   int64         // batches that gave up
	TotalRetryDelay time.Duration // time spent waiting between attempts
}

// Processor retries a wrapped processor on transient failures.
// A batch is retried as a whole; the last error is returned once the policy gives up.
type Processor[P any] struct {
	next   types.Processor[P]
	policy RetryPolicy
	name   string
	clock  types.Clock
	logger *slog.Logger

	attempts   atomic.Int64
	retries    atomic.Int64
	successes  atomic.Int64
	failures   atomic.Int64
	retryDelay atomic.Int64
}

// Wrap creates a retrying processor around next
func Wrap[P any](next types.Processor[P], policy RetryPolicy, opts ...Option) *Processor[P] {
	o := options{
		name:   "processor",
		clock:  types.NewRealClock(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &Processor[P]{
		next:   next,
		policy: policy,
		name:   o.name,
		clock:  o.clock,
		logger: o.logger,
	}
}

// Transform implements types.Processor
func (r *Processor[P]) Transform(ctx context.Context, run types.RunInfo, items []P) ([]P, error) {
	attempt := 0
	for {
		attempt++
		r.attempts.Add(1)
		if attempt > 1 {
			r.retries.Add(1)
		}

		if err := ctx.Err(); err != nil {
			r.failures.Add(1)
			return nil, err
		}

		out, err := r.next.Transform(ctx, run, items)
		if err == nil {
			r.successes.Add(1)
			if attempt > 1 {
				r.logger.Debug("retry succeeded", "processor", r.name, "run_id", run.ID, "attempt", attempt)
			}
			return out, nil
		}

		if !r.policy.ShouldRetry(err, attempt) {
			r.failures.Add(1)
			if attempt > 1 {
				r.logger.Warn("giving up after retries", "processor", r.name, "run_id", run.ID, "attempts", attempt, "error", err)
				return nil, fmt.Errorf("%s failed after %d attempts: %w", r.name, attempt, err)
			}
			return nil, err
		}

		delay := r.policy.NextDelay(attempt)
		if suggested := types.GetRetryDelay(err); suggested > delay {
			delay = suggested
		}
		r.retryDelay.Add(int64(delay))
		r.logger.Debug("retrying processor", "processor", r.name, "run_id", run.ID,
			"attempt", attempt, "delay", delay, "error", err)

		if delay > 0 {
			timer := r.clock.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				r.failures.Add(1)
				return nil, ctx.Err()
			case <-timer.C():
			}
		}
	}
}

// Stats returns a snapshot of the retry statistics
func (r *Processor[P]) Stats() Stats {
	return Stats{
		TotalAttempts:   r.attempts.Load(),
		TotalRetries:    r.retries.Load(),
		TotalSuccesses:  r.successes.Load(),
		TotalFailures:   r.failures.Load(),
		TotalRetryDelay: time.Duration(r.retryDelay.Load()),
	}
}

type options struct {
	name   string
	clock  types.Clock
	logger *slog.Logger
}

// Option configures a retrying processor
type Option func(*options)

// WithName sets the name used in logs and errors
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithClock sets the clock for retry delays
func WithClock(clock types.Clock) Option {
	return func(o *options) {
		o.clock = types.ClockOrReal(clock)
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}
