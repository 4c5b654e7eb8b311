// Package testutils provides simplified testing utilities and helper functions
package testutils

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jzx17/pagepipeline/pkg/types"
	"github.com/stretchr/testify/require"
)

// Suffix returns a processor that appends tag to every string payload
func Suffix(tag string) types.Processor[string] {
	return types.ProcessorFunc[string](func(ctx context.Context, run types.RunInfo, items []string) ([]string, error) {
		out := make([]string, len(items))
		for i, item := range items {
			out[i] = item + "|" + tag
		}
		return out, nil
	})
}

// Recorder is a processor that records every batch it receives
type Recorder[P any] struct {
	mu      sync.Mutex
	batches [][]P
	runs    []int64
	next    types.Processor[P]
}

// NewRecorder creates a recorder that forwards to next, or echoes when next is nil
func NewRecorder[P any](next types.Processor[P]) *Recorder[P] {
	return &Recorder[P]{next: next}
}

// Transform implements types.Processor
func (r *Recorder[P]) Transform(ctx context.Context, run types.RunInfo, items []P) ([]P, error) {
	r.mu.Lock()
	batch := make([]P, len(items))
	copy(batch, items)
	r.batches = append(r.batches, batch)
	r.runs = append(r.runs, run.ID)
	r.mu.Unlock()

	if r.next == nil {
		return items, nil
	}
	return r.next.Transform(ctx, run, items)
}

// Batches returns a copy of the recorded batches
func (r *Recorder[P]) Batches() [][]P {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]P, len(r.batches))
	copy(out, r.batches)
	return out
}

// Runs returns the run id of every recorded batch
func (r *Recorder[P]) Runs() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int64, len(r.runs))
	copy(out, r.runs)
	return out
}

// Items returns the total number of recorded items
func (r *Recorder[P]) Items() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, b := range r.batches {
		n += len(b)
	}
	return n
}

// Blocker is a processor that blocks until Release is called or ctx is done
type Blocker[P any] struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
	enter   sync.Once
}

// NewBlocker creates a blocking processor
func NewBlocker[P any]() *Blocker[P] {
	return &Blocker[P]{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

// Transform implements types.Processor
func (b *Blocker[P]) Transform(ctx context.Context, run types.RunInfo, items []P) ([]P, error) {
	b.enter.Do(func() { close(b.entered) })
	select {
	case <-b.release:
		return items, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Entered is closed once the first batch reaches the processor
func (b *Blocker[P]) Entered() <-chan struct{} {
	return b.entered
}

// Release unblocks every pending and future call
func (b *Blocker[P]) Release() {
	b.once.Do(func() { close(b.release) })
}

// Pages returns n string payloads named page-0 .. page-(n-1)
func Pages(n int) []string {
	pages := make([]string, n)
	for i := range pages {
		pages[i] = fmt.Sprintf("page-%d", i)
	}
	return pages
}

// TestContext returns a context cancelled when the test ends or timeout elapses
func TestContext(t testing.TB, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// WaitClosed fails the test if ch is not closed within timeout
func WaitClosed(t testing.TB, ch <-chan struct{}, timeout time.Duration, msgAndArgs ...interface{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(timeout):
		require.FailNow(t, "timed out waiting for channel", msgAndArgs...)
	}
}

// DiscardLogger returns a logger that drops every record
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
