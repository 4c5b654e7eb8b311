package pipeline

import (
	"context"
	"log/slog"

	"github.com/jzx17/pagepipeline/pkg/types"
)

// coordinator drives one run: it feeds payloads into the entry queue while
// draining the terminal queue until every item is accounted for.
type coordinator[P any] struct {
	run      types.RunInfo
	payloads []P
	wiring   *RunWiring[P]
	config   *types.Config
	logger   *slog.Logger

	fed       int
	seen      map[int]bool
	succeeded []types.WorkItem[P]
	failed    []Failure
	cause     error
}

func (c *coordinator[P]) execute(ctx context.Context) *ProcessingResult[P] {
	c.seen = make(map[int]bool, len(c.payloads))

	if err := c.wiring.Start(ctx); err != nil {
		c.logger.Error("failed to start stages", "error", err)
		c.terminate(err)
	} else {
		c.loop(ctx)
	}

	if err := c.wiring.Stop(); err != nil {
		c.logger.Warn("stages did not stop cleanly", "error", err)
	}

	result := Aggregate(len(c.payloads), c.succeeded, c.failed)
	result.Err = c.cause
	result.Stages = c.wiring.Stats()
	return result
}

// loop alternates feeding and draining. When neither can make progress it
// blocks until the entry queue frees room, the terminal queue receives
// items, ctx is done or the drain timeout elapses.
func (c *coordinator[P]) loop(ctx context.Context) {
	entry := c.wiring.Entry()
	terminal := c.wiring.Terminal()
	total := len(c.payloads)

	for len(c.seen) < total {
		if err := ctx.Err(); err != nil {
			c.terminate(err)
			return
		}

		// taken before feeding and draining so no wake-up is lost
		space := entry.SpaceAvailable()
		arrived := terminal.ItemsAvailable()

		c.feed()

		batch := terminal.GetBatch(c.config.DrainBatchSize, 0)
		if len(batch) > 0 {
			c.collect(batch)
			continue
		}
		if terminal.Drained() {
			c.logger.Warn("pipeline terminated early",
				"expected", total, "accounted", len(c.seen))
			c.terminate(types.ErrTerminatedEarly)
			return
		}

		if c.fed == total || entry.Closed() {
			space = nil
		}
		timer := c.config.Clock.NewTimer(c.config.DrainTimeout)
		select {
		case <-space:
		case <-arrived:
		case <-timer.C():
		case <-ctx.Done():
		}
		timer.Stop()
	}
}

// feed puts payloads into the entry queue until it is full or every payload
// has been fed, then closes the entry queue.
func (c *coordinator[P]) feed() {
	entry := c.wiring.Entry()
	for c.fed < len(c.payloads) {
		item := types.NewWorkItem(c.run.ID, c.fed, c.payloads[c.fed])
		if !entry.Put(item, c.config.FeedTimeout) {
			return
		}
		c.fed++
		if c.fed == len(c.payloads) {
			entry.Close()
		}
	}
}

// collect classifies drained items, ignoring foreign runs and duplicates
func (c *coordinator[P]) collect(batch []types.WorkItem[P]) {
	for _, item := range batch {
		if item.RunID != c.run.ID {
			c.logger.Warn("dropping item of another run", "item_run_id", item.RunID, "sequence_no", item.SequenceNo)
			continue
		}
		if c.seen[item.SequenceNo] {
			continue
		}
		c.seen[item.SequenceNo] = true

		if item.Failed {
			c.failed = append(c.failed, Failure{SequenceNo: item.SequenceNo, Err: item.Err})
		} else {
			c.succeeded = append(c.succeeded, item)
		}
	}
}

// terminate records cause for every item not yet accounted for
func (c *coordinator[P]) terminate(cause error) {
	c.cause = cause
	for seq := range c.payloads {
		if c.seen[seq] {
			continue
		}
		c.seen[seq] = true
		c.failed = append(c.failed, Failure{SequenceNo: seq, Err: cause})
	}
}
