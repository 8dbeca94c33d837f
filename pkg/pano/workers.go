package pano

import (
	"context"
	"sync"
)

type poolJob struct {
	Index int
}

type poolResult struct {
	Index int
	Err   error
}

// runConcurrently uses a pool of goroutines to run fn over [0,n). Each
// call to fn must only write to its own result slot. The first error
// (lowest index) is returned; once ctx is done the remaining jobs are
// skipped and ctx.Err() is returned.
func runConcurrently(ctx context.Context, nWorkers, n int, fn func(i int) error) error {
	if n == 0 {
		return ctx.Err()
	}
	if nWorkers > n {
		nWorkers = n
	}
	if nWorkers < 1 {
		nWorkers = 1
	}

	var wg sync.WaitGroup
	jobsChan := make(chan poolJob, n)
	resultsChan := make(chan poolResult, n)

	// Kick off worker pool
	for i := 0; i < nWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobsChan {
				if err := ctx.Err(); err != nil {
					resultsChan <- poolResult{job.Index, err}
					continue
				}
				resultsChan <- poolResult{job.Index, fn(job.Index)}
			}
		}()
	}

	// Feed in jobs
	for i := 0; i < n; i++ {
		jobsChan <- poolJob{i}
	}

	close(jobsChan)
	wg.Wait()
	close(resultsChan)

	errs := make([]error, n)
	for result := range resultsChan {
		errs[result.Index] = result.Err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
