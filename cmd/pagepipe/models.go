package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jzx17/pagepipeline/pkg/pipeline"
	"github.com/jzx17/pagepipeline/pkg/retry"
	"github.com/jzx17/pagepipeline/pkg/types"
)

// page is the simulated payload carried through the pipeline
type page struct {
	Doc   string
	No    int
	Steps []string
}

// with returns the successor page carrying one more completed step
func (p page) with(step string) page {
	steps := make([]string, len(p.Steps), len(p.Steps)+1)
	copy(steps, p.Steps)
	return page{Doc: p.Doc, No: p.No, Steps: append(steps, step)}
}

// simulation describes how the simulated models behave
type simulation struct {
	delay      time.Duration
	failPages  map[int]bool // fail permanently in the layout model
	flakyPages map[int]bool // fail once in the ocr model, then succeed
	retries    int
}

// model returns a processor that marks each page with step after delay per batch
func (s simulation) model(step string) types.Processor[page] {
	return types.ProcessorFunc[page](func(ctx context.Context, run types.RunInfo, items []page) ([]page, error) {
		if s.delay > 0 {
			select {
			case <-time.After(s.delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		out := make([]page, len(items))
		for i, p := range items {
			out[i] = p.with(step)
		}
		return out, nil
	})
}

// layoutModel rejects the configured pages one at a time
func (s simulation) layoutModel() types.Processor[page] {
	return pipeline.TryMap(func(ctx context.Context, run types.RunInfo, p page) (page, error) {
		if s.failPages[p.No] {
			return page{}, fmt.Errorf("layout model rejected page %d of %s", p.No, p.Doc)
		}
		return p.with(pipeline.StageLayout), nil
	})
}

// ocrModel fails every flaky page once per run with a retryable error
func (s simulation) ocrModel(logger *slog.Logger) types.Processor[page] {
	var seen sync.Map // "run/page" -> struct{}

	flaky := types.ProcessorFunc[page](func(ctx context.Context, run types.RunInfo, items []page) ([]page, error) {
		for _, p := range items {
			if !s.flakyPages[p.No] {
				continue
			}
			key := fmt.Sprintf("%d/%d", run.ID, p.No)
			if _, loaded := seen.LoadOrStore(key, struct{}{}); !loaded {
				return nil, types.MarkRetryable(fmt.Errorf("ocr engine busy on page %d", p.No))
			}
		}
		return items, nil
	})

	return retry.Wrap(pipeline.Chain(flaky, s.model(pipeline.StageOCR)),
		retry.NewExponentialBackoffRetry(s.retries, 10*time.Millisecond, retry.WithMaxDelay(time.Second)),
		retry.WithName(pipeline.StageOCR),
		retry.WithLogger(logger))
}

// models builds the standard models once; every run shares them
func (s simulation) models(logger *slog.Logger) pipeline.StandardModels[page] {
	return pipeline.StandardModels[page]{
		Preprocess: s.model(pipeline.StagePreprocess),
		OCR:        s.ocrModel(logger),
		Layout:     s.layoutModel(),
		Table:      s.model(pipeline.StageTable),
		Assemble:   s.model(pipeline.StageAssemble),
	}
}
