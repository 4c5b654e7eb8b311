package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jzx17/pagepipeline/pkg/types"
)

func TestFixedDelayRetry(t *testing.T) {
	tests := []struct {
		name      string
		attempt   int
		wantDelay time.Duration
	}{
		{"first attempt", 1, 100 * time.Millisecond},
		{"second attempt", 2, 100 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := NewFixedDelayRetry(3, 100*time.Millisecond)

			delay := policy.NextDelay(tt.attempt)
			if delay != tt.wantDelay {
				t.Errorf("NextDelay() = %v, want %v", delay, tt.wantDelay)
			}
		})
	}
}

func TestExponentialBackoffRetry(t *testing.T) {
	tests := []struct {
		name      string
		opts      []BackoffOption
		attempt   int
		wantDelay time.Duration
	}{
		{"first attempt", nil, 1, 100 * time.Millisecond},
		{"second attempt", nil, 2, 200 * time.Millisecond},
		{"third attempt", nil, 3, 400 * time.Millisecond},
		{"custom multiplier", []BackoffOption{WithMultiplier(3)}, 3, 900 * time.Millisecond},
		{"capped", []BackoffOption{WithMaxDelay(250 * time.Millisecond)}, 3, 250 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := NewExponentialBackoffRetry(5, 100*time.Millisecond, tt.opts...)

			delay := policy.NextDelay(tt.attempt)
			if delay != tt.wantDelay {
				t.Errorf("NextDelay() = %v, want %v", delay, tt.wantDelay)
			}
		})
	}
}

func TestJitter(t *testing.T) {
	policy := NewFixedDelayRetry(3, 100*time.Millisecond, WithJitter(true, 0.2))

	for i := 0; i < 50; i++ {
		delay := policy.NextDelay(1)
		if delay < 80*time.Millisecond || delay > 120*time.Millisecond {
			t.Fatalf("jittered delay %v outside ±20%%", delay)
		}
	}
}

func TestShouldRetry(t *testing.T) {
	transient := types.MarkRetryable(errors.New("model busy"))

	tests := []struct {
		name    string
		err     error
		attempt int
		want    bool
	}{
		{"retryable error", transient, 1, true},
		{"wrapped retryable error", fmt.Errorf("ocr: %w", transient), 2, true},
		{"queue timeout", types.ErrTimeout, 1, true},
		{"attempts exhausted", transient, 3, false},
		{"plain error", errors.New("corrupt page"), 1, false},
		{"nil error", nil, 1, false},
		{"cancelled", context.Canceled, 1, false},
		{"deadline", context.DeadlineExceeded, 1, false},
		{"contract violation", types.ErrContractViolation, 1, false},
		{"panic", &types.PanicError{Value: "boom"}, 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := NewFixedDelayRetry(3, time.Millisecond)
			if got := policy.ShouldRetry(tt.err, tt.attempt); got != tt.want {
				t.Errorf("ShouldRetry() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCustomRetryCondition(t *testing.T) {
	errBusy := errors.New("busy")
	policy := NewExponentialBackoffRetry(3, time.Millisecond,
		WithPolicyOptions(WithRetryCondition(func(err error) bool {
			return errors.Is(err, errBusy)
		})))

	if !policy.ShouldRetry(errBusy, 1) {
		t.Error("expected custom condition to retry errBusy")
	}
	if policy.ShouldRetry(types.MarkRetryable(errors.New("other")), 1) {
		t.Error("custom condition replaces the default one")
	}
	if policy.MaxAttempts() != 3 {
		t.Errorf("MaxAttempts() = %d, want 3", policy.MaxAttempts())
	}
}
