// Package types defines core interfaces and types for the page pipeline engine
package types

import (
	"context"
	"fmt"
	"time"
)

// Processor transforms a batch of payloads belonging to one run.
//
// Implementations must return a slice of the same length and order as items.
// Processors are built once per Pipeline and invoked concurrently from every
// stage goroutine of every overlapping run, so they must not keep mutable
// per-call state that other invocations can observe.
type Processor[P any] interface {
	Transform(ctx context.Context, run RunInfo, items []P) ([]P, error)
}

// ProcessorFunc adapts a plain function to the Processor interface
type ProcessorFunc[P any] func(ctx context.Context, run RunInfo, items []P) ([]P, error)

// Transform calls f(ctx, run, items)
func (f ProcessorFunc[P]) Transform(ctx context.Context, run RunInfo, items []P) ([]P, error) {
	return f(ctx, run, items)
}

// RunInfo is the per-run context shared by every processor invocation of a run
type RunInfo struct {
	// ID is the monotonic run identifier, unique per Pipeline instance
	ID int64

	// Label is a random identifier used to correlate log lines
	Label string

	// Shared is the caller-supplied run value (e.g. the document being converted)
	Shared any
}

// String returns a short description of the run
func (r RunInfo) String() string {
	if r.Label == "" {
		return fmt.Sprintf("run-%d", r.ID)
	}
	return fmt.Sprintf("run-%d(%s)", r.ID, r.Label)
}

// StageState defines the lifecycle state of a Stage
type StageState int32

const (
	// StageCreated Stage has been created but not started
	StageCreated StageState = iota
	// StageRunning Stage worker is running
	StageRunning
	// StageStopping Stop has been requested
	StageStopping
	// StageStopped Stage worker has exited or Stop returned
	StageStopped
)

// String returns the string representation of StageState
func (s StageState) String() string {
	switch s {
	case StageCreated:
		return "Created"
	case StageRunning:
		return "Running"
	case StageStopping:
		return "Stopping"
	case StageStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// Status is the aggregate outcome of a run
type Status string

const (
	// StatusSuccess every item completed without failure
	StatusSuccess Status = "success"
	// StatusPartialSuccess some but not all items failed
	StatusPartialSuccess Status = "partial_success"
	// StatusFailure no item completed
	StatusFailure Status = "failure"
)

// Option defines a configuration option function
type Option[T any] func(T)

// StageStats defines statistics for a single stage
type StageStats struct {
	// Name is the stage name
	Name string

	// State is the stage state at the time of the snapshot
	State StageState

	// Batches is the number of non-empty batches pulled from the input queue
	Batches int64

	// Processed is the number of items the processor completed
	Processed int64

	// Failed is the number of items this stage marked failed
	Failed int64

	// ProcessingTime is the cumulative time spent inside the processor
	ProcessingTime time.Duration
}
