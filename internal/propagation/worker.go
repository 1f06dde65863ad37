package propagation

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
)

// job is a unit of work for the worker pool.
type job[J any] struct {
	index int
	input J
}

// result is the output of a single job.
type result[R any] struct {
	index int
	value R
	err   error
}

// WorkerPool manages a fixed number of goroutines for parallel batch work.
type WorkerPool struct {
	workers int
	logger  *slog.Logger
}

// NewWorkerPool creates a worker pool with the given number of workers.
// Zero or negative selects runtime.NumCPU().
func NewWorkerPool(workers int, logger *slog.Logger) *WorkerPool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &WorkerPool{
		workers: workers,
		logger:  logger,
	}
}

// Workers returns the pool size.
func (wp *WorkerPool) Workers() int { return wp.workers }

// Batch is the outcome of Map: Values[i] and Errors[i] belong to jobs[i].
type Batch[R any] struct {
	Values    []R
	Errors    []error
	Succeeded int
	Failed    int
}

// Map runs fn over jobs on the pool. Results keep job order. Failed jobs are
// logged and recorded in Errors; they do not stop the batch. A cancelled
// context stops feeding jobs and returns ctx.Err() with a partial batch.
func Map[J, R any](ctx context.Context, wp *WorkerPool, name string, jobs []J, fn func(J) (R, error)) (Batch[R], error) {
	batch := Batch[R]{
		Values: make([]R, len(jobs)),
		Errors: make([]error, len(jobs)),
	}
	if len(jobs) == 0 {
		return batch, nil
	}

	in := make(chan job[J], wp.workers*2)
	out := make(chan result[R], wp.workers*2)

	// Start workers.
	var wg sync.WaitGroup
	for i := 0; i < wp.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range in {
				v, err := fn(j.input)
				select {
				case out <- result[R]{index: j.index, value: v, err: err}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	// Feed jobs in a goroutine.
	go func() {
		defer close(in)
		for i, input := range jobs {
			select {
			case in <- job[J]{index: i, input: input}:
			case <-ctx.Done():
				return
			}
		}
	}()

	// Close results when all workers are done.
	go func() {
		wg.Wait()
		close(out)
	}()

	for r := range out {
		if r.err != nil {
			batch.Failed++
			batch.Errors[r.index] = r.err
			wp.logger.Warn("batch job failed",
				"batch", name,
				"job", r.index,
				"error", r.err,
			)
			continue
		}
		batch.Succeeded++
		batch.Values[r.index] = r.value
	}

	return batch, ctx.Err()
}
