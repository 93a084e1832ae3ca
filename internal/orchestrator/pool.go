package orchestrator

import (
	"context"
	"sync"

	"github.com/spherical-ai/table-engine/internal/domain"
)

// RunAll drives jobs through a worker pool and returns results in job order.
// Pipeline failures come back as results; the error return fires only for
// cancellation or storage faults, after in-flight workers drain.
func (o *Orchestrator) RunAll(ctx context.Context, jobs []*Job) ([]*domain.ExtractionResult, error) {
	results := make([]*domain.ExtractionResult, len(jobs))
	indexes := make(chan int)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	workers := o.cfg.Workers
	if workers > len(jobs) {
		workers = len(jobs)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indexes {
				r, err := o.RunJob(ctx, jobs[i])
				if err != nil {
					errOnce.Do(func() {
						firstErr = err
						cancel()
					})
					return
				}
				results[i] = r
			}
		}()
	}

feed:
	for i := range jobs {
		select {
		case indexes <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(indexes)
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
