package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Document is one independent run submitted to ExecuteMany
type Document[P any] struct {
	// Shared is handed to every processor call of the run
	Shared any

	// Payloads are the run's items in sequence order
	Payloads []P
}

// ExecuteAsync runs Execute in a new goroutine and delivers the result on
// the returned channel, which is closed afterwards.
func (p *Pipeline[P]) ExecuteAsync(ctx context.Context, shared any, payloads []P) <-chan *ProcessingResult[P] {
	resultChan := make(chan *ProcessingResult[P], 1)

	go func() {
		defer close(resultChan)
		resultChan <- p.Execute(ctx, shared, payloads)
	}()

	return resultChan
}

// ExecuteMany runs several documents through the pipeline with at most
// concurrency runs in flight. Runs share processors but nothing else.
// Results are returned in document order.
func (p *Pipeline[P]) ExecuteMany(ctx context.Context, docs []Document[P], concurrency int) []*ProcessingResult[P] {
	if concurrency <= 0 {
		concurrency = 1
	}

	results := make([]*ProcessingResult[P], len(docs))

	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, doc := range docs {
		g.Go(func() error {
			results[i] = p.Execute(ctx, doc.Shared, doc.Payloads)
			return nil
		})
	}
	_ = g.Wait()

	return results
}
