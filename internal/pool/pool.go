package pool

import (
	"context"
	"sync"
)

// Job processes the item at index. It must not block past ctx's lifetime.
type Job func(ctx context.Context, index int)

// Run calls job exactly once for every index in [0, total) using a fixed
// pool of workers draining a shared queue.
//
// Indexes are handed out in ascending order. A worker takes the next index
// the moment its previous job returns, so up to workers jobs run at any
// time until the queue is exhausted (a sliding window, not batches).
//
// Run does not stop early when ctx is cancelled: every index is still
// dispatched so callers can record a result for each one. Jobs are expected
// to settle quickly on a cancelled context.
//
// Run blocks until every job has returned. workers is raised to 1 when
// smaller and lowered to total when larger.
func Run(ctx context.Context, workers, total int, job Job) {
	if total <= 0 {
		return
	}
	workers = Size(workers, total)

	jobs := make(chan int, total)
	for i := 0; i < total; i++ {
		jobs <- i
	}
	close(jobs)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for index := range jobs {
				job(ctx, index)
			}
		}()
	}
	wg.Wait()
}

// Size returns the number of workers Run starts for the given limit and total.
func Size(workers, total int) int {
	if workers < 1 {
		workers = 1
	}
	if workers > total {
		workers = total
	}
	return workers
}
