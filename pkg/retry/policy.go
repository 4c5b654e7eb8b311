// Package retry provides retry policies and a retrying processor wrapper
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/jzx17/pagepipeline/pkg/types"
)

// RetryPolicy defines the retry strategy interface
type RetryPolicy interface {
	// ShouldRetry determines whether to retry after the given attempt failed
	ShouldRetry(err error, attempt int) bool

	// NextDelay returns the delay before the next attempt
	NextDelay(attempt int) time.Duration

	// MaxAttempts returns the maximum number of attempts
	MaxAttempts() int
}

// RetryCondition is a function that determines retry conditions
type RetryCondition func(error) bool

// BaseRetryPolicy provides common retry functionality
type BaseRetryPolicy struct {
	maxAttempts    int
	retryCondition RetryCondition
	jitter         bool
	jitterFactor   float64
}

// NewBaseRetryPolicy creates a base retry policy
func NewBaseRetryPolicy(maxAttempts int, opts ...PolicyOption) *BaseRetryPolicy {
	policy := &BaseRetryPolicy{
		maxAttempts:    maxAttempts,
		retryCondition: DefaultRetryCondition,
		jitterFactor:   0.1,
	}

	for _, opt := range opts {
		opt(policy)
	}

	return policy
}

// ShouldRetry determines whether to retry
func (p *BaseRetryPolicy) ShouldRetry(err error, attempt int) bool {
	if attempt >= p.maxAttempts {
		return false
	}
	return p.retryCondition(err)
}

// MaxAttempts returns the maximum number of attempts
func (p *BaseRetryPolicy) MaxAttempts() int {
	return p.maxAttempts
}

// applyJitter applies jitter to delay
func (p *BaseRetryPolicy) applyJitter(delay time.Duration) time.Duration {
	if !p.jitter {
		return delay
	}

	jitterRange := float64(delay) * p.jitterFactor
	jitterAmount := (rand.Float64() - 0.5) * 2 * jitterRange

	result := delay + time.Duration(jitterAmount)
	if result < 0 {
		result = delay / 2
	}

	return result
}

// FixedDelayRetry waits the same delay between attempts
type FixedDelayRetry struct {
	*BaseRetryPolicy
	delay time.Duration
}

// NewFixedDelayRetry creates a fixed delay retry policy
func NewFixedDelayRetry(maxAttempts int, delay time.Duration, opts ...PolicyOption) *FixedDelayRetry {
	return &FixedDelayRetry{
		BaseRetryPolicy: NewBaseRetryPolicy(maxAttempts, opts...),
		delay:           delay,
	}
}

// NextDelay returns the delay for the next retry
func (p *FixedDelayRetry) NextDelay(attempt int) time.Duration {
	return p.applyJitter(p.delay)
}

// ExponentialBackoffRetry multiplies the delay after every attempt, up to a cap
type ExponentialBackoffRetry struct {
	*BaseRetryPolicy
	initialDelay time.Duration
	multiplier   float64
	maxDelay     time.Duration
}

// NewExponentialBackoffRetry creates an exponential backoff retry policy
func NewExponentialBackoffRetry(maxAttempts int, initialDelay time.Duration, opts ...BackoffOption) *ExponentialBackoffRetry {
	policy := &ExponentialBackoffRetry{
		BaseRetryPolicy: NewBaseRetryPolicy(maxAttempts),
		initialDelay:    initialDelay,
		multiplier:      2.0,
		maxDelay:        30 * time.Second,
	}

	for _, opt := range opts {
		opt(policy)
	}

	return policy
}

// NextDelay returns the delay for the next retry
func (p *ExponentialBackoffRetry) NextDelay(attempt int) time.Duration {
	delay := time.Duration(float64(p.initialDelay) * math.Pow(p.multiplier, float64(attempt-1)))
	if delay > p.maxDelay || delay < 0 {
		delay = p.maxDelay
	}
	return p.applyJitter(delay)
}

// PolicyOption is a configuration option for retry policies
type PolicyOption func(*BaseRetryPolicy)

// WithRetryCondition sets the retry condition
func WithRetryCondition(condition RetryCondition) PolicyOption {
	return func(p *BaseRetryPolicy) {
		p.retryCondition = condition
	}
}

// WithJitter enables jitter
func WithJitter(enabled bool, factor float64) PolicyOption {
	return func(p *BaseRetryPolicy) {
		p.jitter = enabled
		if factor > 0 && factor <= 1.0 {
			p.jitterFactor = factor
		}
	}
}

// BackoffOption is a configuration option for exponential backoff
type BackoffOption func(*ExponentialBackoffRetry)

// WithMultiplier sets the multiplier for exponential backoff
func WithMultiplier(multiplier float64) BackoffOption {
	return func(p *ExponentialBackoffRetry) {
		p.multiplier = multiplier
	}
}

// WithMaxDelay sets the maximum delay
func WithMaxDelay(maxDelay time.Duration) BackoffOption {
	return func(p *ExponentialBackoffRetry) {
		p.maxDelay = maxDelay
	}
}

// WithPolicyOptions applies base policy options to an exponential backoff
func WithPolicyOptions(opts ...PolicyOption) BackoffOption {
	return func(p *ExponentialBackoffRetry) {
		for _, opt := range opts {
			opt(p.BaseRetryPolicy)
		}
	}
}

// DefaultRetryCondition retries errors marked with types.MarkRetryable and
// queue timeouts. Cancellation, contract violations and panics are never retried.
func DefaultRetryCondition(err error) bool {
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, types.ErrContractViolation):
		return false
	}

	var panicErr *types.PanicError
	if errors.As(err, &panicErr) {
		return false
	}

	return types.IsRetryable(err) || errors.Is(err, types.ErrTimeout)
}
