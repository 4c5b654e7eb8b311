package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jzx17/pagepipeline/pkg/queue"
	"github.com/jzx17/pagepipeline/pkg/stage"
	"github.com/jzx17/pagepipeline/pkg/types"
	"golang.org/x/sync/errgroup"
)

// RunWiring is the private chain of stages and queues built for one run.
// Nothing in it is shared with other runs.
type RunWiring[P any] struct {
	stages   []*stage.Stage[P]
	terminal *stage.Queue[P]
}

// NewRunWiring builds one stage per StageSpec, connected by bounded queues of
// config.QueueCapacity unless the spec overrides it, plus a terminal queue
// fed by the last stage.
func NewRunWiring[P any](specs []StageSpec[P], config *types.Config, resolver stage.RunResolver, logger *slog.Logger) (*RunWiring[P], error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("%w: at least one stage is required", types.ErrInvalidConfig)
	}

	w := &RunWiring[P]{
		stages:   make([]*stage.Stage[P], 0, len(specs)),
		terminal: queue.NewWithClock[types.WorkItem[P]](config.QueueCapacity, config.Clock),
	}

	for _, spec := range specs {
		batchTimeout := config.BatchTimeout
		if spec.BatchTimeout > 0 {
			batchTimeout = spec.BatchTimeout
		}
		capacity := config.QueueCapacity
		if spec.QueueCapacity > 0 {
			capacity = spec.QueueCapacity
		}

		st, err := stage.New(stage.Config{
			Name:          spec.Name,
			BatchSize:     spec.BatchSize,
			BatchTimeout:  batchTimeout,
			QueueCapacity: capacity,
			StopTimeout:   config.StopTimeout,
			Resolver:      resolver,
			Clock:         config.Clock,
			Logger:        logger,
		}, spec.Processor)
		if err != nil {
			return nil, fmt.Errorf("failed to build stage %q: %w", spec.Name, err)
		}

		if n := len(w.stages); n > 0 {
			if err := w.stages[n-1].AddOutput(st.Input()); err != nil {
				return nil, err
			}
		}
		w.stages = append(w.stages, st)
	}

	if err := w.stages[len(w.stages)-1].AddOutput(w.terminal); err != nil {
		return nil, err
	}
	return w, nil
}

// Entry returns the first stage's input queue
func (w *RunWiring[P]) Entry() *stage.Queue[P] {
	return w.stages[0].Input()
}

// Terminal returns the queue the last stage emits into
func (w *RunWiring[P]) Terminal() *stage.Queue[P] {
	return w.terminal
}

// Stages returns the stages in chain order
func (w *RunWiring[P]) Stages() []*stage.Stage[P] {
	return w.stages
}

// Start starts every stage
func (w *RunWiring[P]) Start(ctx context.Context) error {
	for _, st := range w.stages {
		if err := st.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Stop closes the terminal queue and then stops every stage concurrently.
// Each stage's shutdown only depends on its own input queue, so the total
// wait is bounded by one stop timeout.
func (w *RunWiring[P]) Stop() error {
	w.terminal.Close()

	var g errgroup.Group
	for _, st := range w.stages {
		g.Go(st.Stop)
	}
	return g.Wait()
}

// Stats returns a snapshot of every stage's statistics
func (w *RunWiring[P]) Stats() []types.StageStats {
	stats := make([]types.StageStats, len(w.stages))
	for i, st := range w.stages {
		stats[i] = st.Stats()
	}
	return stats
}
