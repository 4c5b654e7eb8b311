// Package pipeline provides the staged page pipeline: processors built once,
// a private chain of stages per run, and the coordinator that drives a run
// to completion.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jzx17/pagepipeline/pkg/types"
)

// StageSpec describes one stage of a pipeline
type StageSpec[P any] struct {
	// Name identifies the stage in logs, errors and stats
	Name string

	// Processor is shared by every run of the pipeline
	Processor types.Processor[P]

	// BatchSize is the maximum number of items per processor call (defaults to 1)
	BatchSize int

	// BatchTimeout overrides Config.BatchTimeout for this stage when positive
	BatchTimeout time.Duration

	// QueueCapacity overrides Config.QueueCapacity for this stage's input queue when positive
	QueueCapacity int
}

// Pipeline holds the long-lived processors and configuration of a staged
// pipeline. Every call to Execute builds its own RunWiring, so concurrent
// runs never share queues or workers, only processors.
type Pipeline[P any] struct {
	specs  []StageSpec[P]
	config *types.Config
	logger *slog.Logger

	lastRunID atomic.Int64
	runs      sync.Map // run id -> types.RunInfo

	// onWire is called with each run's wiring before its stages start
	onWire func(*RunWiring[P])
}

// New creates a pipeline from an ordered list of stages.
// A nil config uses types.DefaultConfig; zero fields take their defaults.
func New[P any](specs []StageSpec[P], config *types.Config, opts ...types.Option[*Pipeline[P]]) (*Pipeline[P], error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("%w: at least one stage is required", types.ErrInvalidConfig)
	}

	cfg := config.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(specs))
	normalized := make([]StageSpec[P], len(specs))
	for i, spec := range specs {
		if spec.Name == "" {
			return nil, fmt.Errorf("%w: stage %d has no name", types.ErrInvalidConfig, i)
		}
		if seen[spec.Name] {
			return nil, fmt.Errorf("%w: duplicate stage name %q", types.ErrInvalidConfig, spec.Name)
		}
		if spec.Processor == nil {
			return nil, fmt.Errorf("%w: stage %q has no processor", types.ErrInvalidConfig, spec.Name)
		}
		if spec.BatchSize < 0 {
			return nil, fmt.Errorf("%w: stage %q batch size must not be negative", types.ErrInvalidConfig, spec.Name)
		}
		if spec.BatchTimeout < 0 || spec.QueueCapacity < 0 {
			return nil, fmt.Errorf("%w: stage %q overrides must not be negative", types.ErrInvalidConfig, spec.Name)
		}
		if spec.BatchSize == 0 {
			spec.BatchSize = 1
		}
		seen[spec.Name] = true
		normalized[i] = spec
	}

	p := &Pipeline[P]{
		specs:  normalized,
		config: cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// WithLogger sets the logger used by the pipeline and its stages
func WithLogger[P any](logger *slog.Logger) types.Option[*Pipeline[P]] {
	return func(p *Pipeline[P]) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// Config returns a copy of the pipeline configuration
func (p *Pipeline[P]) Config() types.Config {
	return *p.config
}

// StageNames returns the stage names in chain order
func (p *Pipeline[P]) StageNames() []string {
	names := make([]string, len(p.specs))
	for i, spec := range p.specs {
		names[i] = spec.Name
	}
	return names
}

// Execute pushes payloads through a fresh chain of stages and returns the
// aggregated result. shared is handed to every processor call of the run
// as types.RunInfo.Shared.
//
// Execute never fails as a whole: every failure mode degrades to a
// PartialSuccess or Failure status, with the run-level cause in Err.
func (p *Pipeline[P]) Execute(ctx context.Context, shared any, payloads []P) *ProcessingResult[P] {
	run := p.beginRun(shared)
	defer p.runs.Delete(run.ID)

	logger := p.logger.With("run_id", run.ID, "run", run.Label)
	start := p.config.Clock.Now()

	result := p.execute(ctx, run, payloads, logger)
	result.Run = run
	result.Duration = p.config.Clock.Since(start)

	logger.Debug("run finished",
		"status", result.Status,
		"succeeded", result.SuccessCount(),
		"failed", result.FailureCount(),
		"duration", result.Duration)
	return result
}

func (p *Pipeline[P]) execute(ctx context.Context, run types.RunInfo, payloads []P, logger *slog.Logger) *ProcessingResult[P] {
	if len(payloads) == 0 {
		result := Aggregate[P](0, nil, nil)
		result.Err = types.ErrNoPayloads
		return result
	}
	if err := ctx.Err(); err != nil {
		return failAll(payloads, err)
	}

	wiring, err := NewRunWiring(p.specs, p.config, p.resolveRun, logger)
	if err != nil {
		logger.Error("failed to build run wiring", "error", err)
		return failAll(payloads, err)
	}
	if p.onWire != nil {
		p.onWire(wiring)
	}

	c := &coordinator[P]{
		run:      run,
		payloads: payloads,
		wiring:   wiring,
		config:   p.config,
		logger:   logger,
	}
	return c.execute(ctx)
}

// beginRun allocates the next run id and registers the run context
func (p *Pipeline[P]) beginRun(shared any) types.RunInfo {
	run := types.RunInfo{
		ID:     p.lastRunID.Add(1),
		Label:  uuid.NewString(),
		Shared: shared,
	}
	p.runs.Store(run.ID, run)
	return run
}

// resolveRun maps a run id to its registered context
func (p *Pipeline[P]) resolveRun(runID int64) types.RunInfo {
	if v, ok := p.runs.Load(runID); ok {
		return v.(types.RunInfo)
	}
	return types.RunInfo{ID: runID}
}

// failAll reports every payload as failed with cause
func failAll[P any](payloads []P, cause error) *ProcessingResult[P] {
	failed := make([]Failure, len(payloads))
	for i := range payloads {
		failed[i] = Failure{SequenceNo: i, Err: cause}
	}
	result := Aggregate[P](len(payloads), nil, failed)
	result.Err = cause
	return result
}
