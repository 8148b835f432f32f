package transfer

import (
	"context"
	"sync"
)

// parallel runs fn for every index in [0, n) on up to workers goroutines.
// It stops handing out work once ctx is done and returns ctx.Err() in that
// case. Errors from fn are the caller's business; fn records them itself.
func parallel(ctx context.Context, n, workers int, fn func(i int)) error {
	if workers <= 0 {
		workers = 4
	}
	workers = min(workers, n)

	jobs := make(chan int, workers*2)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case i, ok := <-jobs:
					if !ok {
						return
					}
					fn(i)
				case <-ctx.Done():
					return
				}
			}
		}()
	}

feed:
	for i := 0; i < n; i++ {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()
	return ctx.Err()
}
