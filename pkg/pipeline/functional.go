package pipeline

import (
	"context"
	"fmt"

	"github.com/jzx17/pagepipeline/pkg/types"
)

// Passthrough returns a processor that returns its input unchanged
func Passthrough[P any]() types.Processor[P] {
	return types.ProcessorFunc[P](func(ctx context.Context, run types.RunInfo, items []P) ([]P, error) {
		return items, nil
	})
}

// Map applies fn to every item of a batch - simplest processor
func Map[P any](fn func(P) P) types.Processor[P] {
	return types.ProcessorFunc[P](func(ctx context.Context, run types.RunInfo, items []P) ([]P, error) {
		out := make([]P, len(items))
		for i, item := range items {
			out[i] = fn(item)
		}
		return out, nil
	})
}

// TryMap applies a potentially failing fn to every item.
// The first error fails the whole batch.
func TryMap[P any](fn func(ctx context.Context, run types.RunInfo, item P) (P, error)) types.Processor[P] {
	return types.ProcessorFunc[P](func(ctx context.Context, run types.RunInfo, items []P) ([]P, error) {
		out := make([]P, len(items))
		for i, item := range items {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			v, err := fn(ctx, run, item)
			if err != nil {
				return nil, fmt.Errorf("item %d of batch: %w", i, err)
			}
			out[i] = v
		}
		return out, nil
	})
}

// Chain fuses processors into one that runs them in order on the same batch
func Chain[P any](processors ...types.Processor[P]) types.Processor[P] {
	return types.ProcessorFunc[P](func(ctx context.Context, run types.RunInfo, items []P) ([]P, error) {
		current := items
		for i, proc := range processors {
			next, err := proc.Transform(ctx, run, current)
			if err != nil {
				return nil, fmt.Errorf("chained processor %d failed: %w", i, err)
			}
			if len(next) != len(current) {
				return nil, fmt.Errorf("%w: chained processor %d returned %d items for %d inputs",
					types.ErrContractViolation, i, len(next), len(current))
			}
			current = next
		}
		return current, nil
	})
}

// HandleErrors passes processor errors through handler.
// A handler returning nil turns the failure into a passthrough of the input.
func HandleErrors[P any](proc types.Processor[P], handler func(run types.RunInfo, err error) error) types.Processor[P] {
	return types.ProcessorFunc[P](func(ctx context.Context, run types.RunInfo, items []P) ([]P, error) {
		out, err := proc.Transform(ctx, run, items)
		if err == nil {
			return out, nil
		}
		if err = handler(run, err); err != nil {
			return nil, err
		}
		return items, nil
	})
}

// Tap observes successful batches (for debugging and progress reporting)
func Tap[P any](proc types.Processor[P], observer func(run types.RunInfo, items []P)) types.Processor[P] {
	return types.ProcessorFunc[P](func(ctx context.Context, run types.RunInfo, items []P) ([]P, error) {
		out, err := proc.Transform(ctx, run, items)
		if err == nil {
			observer(run, out)
		}
		return out, err
	})
}
