// Package types defines error types
package types

import (
	"errors"
	"fmt"
	"time"
)

// Predefined errors
var (
	// ErrQueueClosed indicates the queue no longer accepts items
	ErrQueueClosed = errors.New("queue is closed")

	// ErrTimeout indicates operation timeout
	ErrTimeout = errors.New("operation timeout")

	// ErrContractViolation indicates a processor returned a different number of items
	ErrContractViolation = errors.New("processor returned wrong number of items")

	// ErrTerminatedEarly indicates the pipeline shut down before producing every item
	ErrTerminatedEarly = errors.New("pipeline terminated early")

	// ErrStageStopped indicates the stage is stopped
	ErrStageStopped = errors.New("stage is stopped")

	// ErrStopTimeout indicates a stage worker did not exit within the stop timeout
	ErrStopTimeout = errors.New("stage did not terminate within stop timeout")

	// ErrNoPayloads indicates a run was requested with nothing to process
	ErrNoPayloads = errors.New("no payloads to process")

	// ErrInvalidConfig indicates invalid configuration
	ErrInvalidConfig = errors.New("invalid configuration")
)

// StageError records why an item failed inside a stage
type StageError struct {
	// Stage is the name of the stage where the failure occurred
	Stage string

	// RunID is the run the item belongs to
	RunID int64

	// SequenceNo is the failed item's sequence number
	SequenceNo int

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface
func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed for run %d item %d: %v", e.Stage, e.RunID, e.SequenceNo, e.Cause)
}

// Unwrap returns the underlying error
func (e *StageError) Unwrap() error {
	return e.Cause
}

// Is checks if the error is a specific error
func (e *StageError) Is(target error) bool {
	return errors.Is(e.Cause, target)
}

// NewStageError creates a new stage error
func NewStageError(stage string, runID int64, seq int, cause error) *StageError {
	return &StageError{
		Stage:      stage,
		RunID:      runID,
		SequenceNo: seq,
		Cause:      cause,
	}
}

// PanicError wraps a value recovered from a panicking processor
type PanicError struct {
	Value any
	Stack string
}

// Error implements the error interface
func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap returns the panic value when it is an error
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// RetryableError represents a retryable error
type RetryableError struct {
	// Err is the underlying error
	Err error

	// Retryable indicates whether the error is retryable
	Retryable bool

	// RetryAfter is the suggested retry delay
	RetryAfter time.Duration
}

// Error implements the error interface
func (e *RetryableError) Error() string {
	return e.Err.Error()
}

// Unwrap returns the underlying error
func (e *RetryableError) Unwrap() error {
	return e.Err
}

// MarkRetryable wraps err so retry policies treat it as transient
func MarkRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err, Retryable: true}
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.Retryable
	}
	return false
}

// GetRetryDelay returns the suggested retry delay
func GetRetryDelay(err error) time.Duration {
	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.RetryAfter
	}
	return 0
}
