/*
Package stage provides the pipeline stage: one worker goroutine that pulls
batches from a bounded input queue, runs a batch processor and forwards the
results to every registered output queue.

# Worker Loop

While running, the worker:
  - pulls up to BatchSize items, waiting at most BatchTimeout
  - exits once the input queue is closed and drained
  - groups the batch by run id, keeping the order in which runs first appear
  - hands each group's non-failed payloads to the processor in one call
  - emits every resulting item, failed or not, to all outputs in order

When the worker exits, for any reason, it closes every output queue once so
shutdown propagates down the chain of stages.

# Error Handling

Failures are local to one run-id group:
  - a processor error or panic marks every non-failed item of the group
    failed with a *types.StageError
  - a result of the wrong length is a contract violation and is handled
    like an error (types.ErrContractViolation)
  - items that arrive failed bypass the processor unchanged
  - a put on a closed output queue is logged, never raised

# Lifecycle

States move Created → Running → Stopping → Stopped. Stop closes the input
queue, cancels the context passed to the processor and waits up to
StopTimeout. Cancellation is cooperative: a processor that ignores its
context keeps the worker alive and Stop returns types.ErrStopTimeout.

# Basic Usage

	st, err := stage.New(stage.Config{
		Name:          "ocr",
		BatchSize:     4,
		BatchTimeout:  2 * time.Second,
		QueueCapacity: 100,
	}, ocrModel)
	if err != nil {
		return err
	}
	st.AddOutput(next.Input())
	st.Start(ctx)
	defer st.Stop()
*/
package stage
