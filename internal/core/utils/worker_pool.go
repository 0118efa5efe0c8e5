package utils

import (
	"context"
	"sync"
)

// RunInPool starts maxWorkers goroutines that call worker for every item read
// from queue. It blocks until queue is closed or ctx is cancelled, and then
// waits for in-flight calls to return.
func RunInPool[In any](ctx context.Context, worker func(context.Context, In), queue <-chan In, maxWorkers int) {
	workers := max(maxWorkers, 1)

	wg := sync.WaitGroup{}
	wg.Add(workers)

	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()

			for {
				select {
				case <-ctx.Done():
					return
				case next, ok := <-queue:
					if !ok {
						return
					}
					worker(ctx, next)
				}
			}
		}()
	}

	wg.Wait()
}
