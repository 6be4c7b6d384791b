package testutil

import (
	"errors"
	"sync"
	"sync/atomic"

	"degreeproof/internal/sentinel"
)

// ConcurrentResult counts how racing calls ended.
type ConcurrentResult struct {
	Successes int32
	Conflicts int32
	NotFounds int32
	Errors    int32
}

// RunConcurrent releases n goroutines at once and buckets their errors.
// Conflicts include invalid status transitions, which is how a lost
// revoke race surfaces.
func RunConcurrent(n int, fn func(idx int) error) ConcurrentResult {
	var (
		wg                       sync.WaitGroup
		ok, conflict, miss, fail atomic.Int32
	)
	start := make(chan struct{})
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			switch err := fn(i); {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, sentinel.ErrConflict), errors.Is(err, sentinel.ErrInvalidState):
				conflict.Add(1)
			case errors.Is(err, sentinel.ErrNotFound):
				miss.Add(1)
			default:
				fail.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	return ConcurrentResult{
		Successes: ok.Load(),
		Conflicts: conflict.Load(),
		NotFounds: miss.Load(),
		Errors:    fail.Load(),
	}
}
