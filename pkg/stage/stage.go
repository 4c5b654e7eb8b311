package stage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jzx17/pagepipeline/pkg/queue"
	"github.com/jzx17/pagepipeline/pkg/types"
)

// Queue is the queue type connecting stages
type Queue[P any] = queue.BoundedQueue[types.WorkItem[P]]

// RunResolver returns the shared run context for a run id
type RunResolver func(runID int64) types.RunInfo

// Config defines configuration for a Stage
type Config struct {
	// Name identifies the stage in logs, errors and stats
	Name string

	// BatchSize is the maximum number of items handed to the processor at once
	BatchSize int

	// BatchTimeout is how long the worker waits for input before re-checking its state
	BatchTimeout time.Duration

	// QueueCapacity is the capacity of the stage's input queue
	QueueCapacity int

	// StopTimeout bounds how long Stop waits for the worker to exit
	StopTimeout time.Duration

	// Resolver maps run ids to run contexts (optional)
	Resolver RunResolver

	// Clock for time operations (optional, defaults to real clock)
	Clock types.Clock

	// Logger (optional, defaults to slog.Default())
	Logger *slog.Logger
}

// Stage is one pipeline step: an input queue, zero or more output queues,
// one worker goroutine and a batch processor.
type Stage[P any] struct {
	name         string
	processor    types.Processor[P]
	batchSize    int
	batchTimeout time.Duration
	stopTimeout  time.Duration
	resolver     RunResolver
	clock        types.Clock
	logger       *slog.Logger

	input   *Queue[P]
	outputs []*Queue[P]

	// lifecycle
	state     int32 // atomic types.StageState
	running   atomic.Bool
	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once

	// statistics
	batches        int64
	processed      int64
	failed         int64
	processingTime int64 // nanoseconds
}

// New creates a stage with its own input queue
func New[P any](cfg Config, processor types.Processor[P]) (*Stage[P], error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("stage name cannot be empty")
	}
	if processor == nil {
		return nil, fmt.Errorf("stage %s: processor cannot be nil", cfg.Name)
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("stage %s: batch size must be positive, got %d", cfg.Name, cfg.BatchSize)
	}
	if cfg.BatchTimeout <= 0 {
		return nil, fmt.Errorf("stage %s: batch timeout must be positive, got %v", cfg.Name, cfg.BatchTimeout)
	}
	if cfg.QueueCapacity <= 0 {
		return nil, fmt.Errorf("stage %s: queue capacity must be positive, got %d", cfg.Name, cfg.QueueCapacity)
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 30 * time.Second
	}

	clock := types.ClockOrReal(cfg.Clock)
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	resolver := cfg.Resolver
	if resolver == nil {
		resolver = func(runID int64) types.RunInfo { return types.RunInfo{ID: runID} }
	}

	return &Stage[P]{
		name:         cfg.Name,
		processor:    processor,
		batchSize:    cfg.BatchSize,
		batchTimeout: cfg.BatchTimeout,
		stopTimeout:  cfg.StopTimeout,
		resolver:     resolver,
		clock:        clock,
		logger:       logger.With("stage", cfg.Name),
		input:        queue.NewWithClock[types.WorkItem[P]](cfg.QueueCapacity, clock),
		state:        int32(types.StageCreated),
		done:         make(chan struct{}),
	}, nil
}

// Name returns the stage name
func (s *Stage[P]) Name() string {
	return s.name
}

// Input returns the stage's input queue
func (s *Stage[P]) Input() *Queue[P] {
	return s.input
}

// AddOutput registers a downstream queue. Outputs must be added before Start.
func (s *Stage[P]) AddOutput(q *Queue[P]) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() != types.StageCreated {
		return fmt.Errorf("stage %s: outputs must be added before start", s.name)
	}
	s.outputs = append(s.outputs, q)
	return nil
}

// State returns the current stage state
func (s *Stage[P]) State() types.StageState {
	return types.StageState(atomic.LoadInt32(&s.state))
}

// Done is closed once the worker goroutine has exited
func (s *Stage[P]) Done() <-chan struct{} {
	return s.done
}

// Start spawns the worker goroutine. Starting a running stage is a no-op.
func (s *Stage[P]) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch state := s.State(); state {
	case types.StageRunning:
		return nil
	case types.StageCreated:
	default:
		return fmt.Errorf("cannot start stage %s in state %s: %w", s.name, state, types.ErrStageStopped)
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running.Store(true)
	atomic.StoreInt32(&s.state, int32(types.StageRunning))

	go s.run()
	return nil
}

// Stop requests shutdown: it clears the running flag, closes the input
// queue, cancels the processor context and waits up to the stop timeout for
// the worker to exit. A worker stuck inside a processor that ignores its
// context is left running and ErrStopTimeout is returned.
func (s *Stage[P]) Stop() error {
	s.mu.Lock()
	if atomic.CompareAndSwapInt32(&s.state, int32(types.StageCreated), int32(types.StageStopped)) {
		s.mu.Unlock()
		s.input.Close()
		s.closeOutputs()
		close(s.done)
		return nil
	}
	// the worker may have exited on its own already
	if !atomic.CompareAndSwapInt32(&s.state, int32(types.StageRunning), int32(types.StageStopping)) {
		s.mu.Unlock()
		s.input.Close()
		return nil
	}
	s.running.Store(false)
	cancel := s.cancel
	s.mu.Unlock()

	s.input.Close()
	cancel()

	select {
	case <-s.done:
		return nil
	case <-s.clock.After(s.stopTimeout):
		s.logger.Warn("stage did not terminate cleanly", "timeout", s.stopTimeout)
		return fmt.Errorf("stage %s: %w", s.name, types.ErrStopTimeout)
	}
}

// run is the worker loop
func (s *Stage[P]) run() {
	defer close(s.done)
	defer func() {
		atomic.CompareAndSwapInt32(&s.state, int32(types.StageRunning), int32(types.StageStopped))
		atomic.CompareAndSwapInt32(&s.state, int32(types.StageStopping), int32(types.StageStopped))
	}()
	defer s.closeOutputs()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("fatal error in stage", "error", r)
		}
	}()

	for s.running.Load() {
		batch := s.input.GetBatch(s.batchSize, s.batchTimeout)
		if len(batch) == 0 {
			// upstream may have put and closed since the timeout
			if s.input.Drained() {
				return
			}
			continue
		}

		atomic.AddInt64(&s.batches, 1)
		s.emit(s.processBatch(batch))
	}
}

// processBatch groups the batch by run id and processes each group
func (s *Stage[P]) processBatch(batch []types.WorkItem[P]) []types.WorkItem[P] {
	groups := make(map[int64][]types.WorkItem[P])
	order := make([]int64, 0, 1)
	for _, item := range batch {
		if _, ok := groups[item.RunID]; !ok {
			order = append(order, item.RunID)
		}
		groups[item.RunID] = append(groups[item.RunID], item)
	}

	result := make([]types.WorkItem[P], 0, len(batch))
	for _, runID := range order {
		result = append(result, s.processGroup(runID, groups[runID])...)
	}
	return result
}

// processGroup runs the processor over the non-failed items of one run.
// Items that arrived failed pass through unchanged and keep their position.
func (s *Stage[P]) processGroup(runID int64, items []types.WorkItem[P]) []types.WorkItem[P] {
	payloads := make([]P, 0, len(items))
	for _, item := range items {
		if !item.Failed {
			payloads = append(payloads, item.Payload)
		}
	}
	if len(payloads) == 0 {
		return items
	}

	run := s.resolver(runID)
	start := s.clock.Now()
	results, err := s.invoke(run, payloads)
	atomic.AddInt64(&s.processingTime, int64(s.clock.Since(start)))

	out := make([]types.WorkItem[P], len(items))
	if err != nil {
		s.logger.Error("stage failed for run", "run_id", runID, "run", run.Label, "items", len(payloads), "error", err)
		for i, item := range items {
			if item.Failed {
				out[i] = item
				continue
			}
			out[i] = item.AsFailed(types.NewStageError(s.name, runID, item.SequenceNo, err))
		}
		atomic.AddInt64(&s.failed, int64(len(payloads)))
		return out
	}

	j := 0
	for i, item := range items {
		if item.Failed {
			out[i] = item
			continue
		}
		out[i] = item.WithPayload(results[j])
		j++
	}
	atomic.AddInt64(&s.processed, int64(len(payloads)))
	return out
}

// invoke calls the processor with panic recovery and checks the length contract
func (s *Stage[P]) invoke(run types.RunInfo, payloads []P) (results []P, err error) {
	defer func() {
		if r := recover(); r != nil {
			var buf [4096]byte
			n := runtime.Stack(buf[:], false)
			err = &types.PanicError{Value: r, Stack: string(buf[:n])}
		}
	}()

	results, err = s.processor.Transform(s.ctx, run, payloads)
	if err != nil {
		return nil, err
	}
	if len(results) != len(payloads) {
		return nil, fmt.Errorf("%w: model %s returned %d items for %d inputs",
			types.ErrContractViolation, s.name, len(results), len(payloads))
	}
	return results, nil
}

// emit forwards every item to every output queue, in order
func (s *Stage[P]) emit(items []types.WorkItem[P]) {
	for _, item := range items {
		for _, out := range s.outputs {
			err := out.PutContext(s.ctx, item)
			switch {
			case err == nil:
			case errors.Is(err, types.ErrQueueClosed):
				s.logger.Error("output queue closed while emitting",
					"run_id", item.RunID, "sequence_no", item.SequenceNo)
			default:
				s.logger.Warn("emit interrupted by shutdown",
					"run_id", item.RunID, "sequence_no", item.SequenceNo, "error", err)
			}
		}
	}
}

// closeOutputs closes every output queue exactly once
func (s *Stage[P]) closeOutputs() {
	s.closeOnce.Do(func() {
		for _, out := range s.outputs {
			out.Close()
		}
	})
}

// Stats returns a snapshot of the stage statistics
func (s *Stage[P]) Stats() types.StageStats {
	return types.StageStats{
		Name:           s.name,
		State:          s.State(),
		Batches:        atomic.LoadInt64(&s.batches),
		Processed:      atomic.LoadInt64(&s.processed),
		Failed:         atomic.LoadInt64(&s.failed),
		ProcessingTime: time.Duration(atomic.LoadInt64(&s.processingTime)),
	}
}
