package gateway

import (
	"context"
	"sync"

	"penserai/acteon/pkg/action"
)

// BatchResult pairs one batch action with its outcome or pipeline
// error.
type BatchResult struct {
	Action  *action.Action
	Outcome *action.Outcome
	Err     error
}

// DispatchBatch dispatches the actions through a bounded worker pool
// and returns results in input order. Each action runs the full
// pipeline independently; one failing dispatch never affects the rest.
func (g *Gateway) DispatchBatch(ctx context.Context, acts []*action.Action) []BatchResult {
	results := make([]BatchResult, len(acts))
	if len(acts) == 0 {
		return results
	}

	workers := g.cfg.BatchWorkers
	if workers > len(acts) {
		workers = len(acts)
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				outcome, err := g.Dispatch(ctx, acts[i])
				results[i] = BatchResult{Action: acts[i], Outcome: outcome, Err: err}
			}
		}()
	}

	for i := range acts {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	return results
}
