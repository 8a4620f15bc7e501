package convert

import (
	"context"
	"runtime"
	"sync"
)

// ---------------------------------------------------------------------
// Worker Pool and Batch Conversion
// ---------------------------------------------------------------------

// Task is a unit of work for the pool.
type Task func()

// WorkerPool manages a fixed set of workers.
type WorkerPool struct {
	workers []*worker
	tasks   chan Task
}

type worker struct {
	id   int
	pool *WorkerPool
}

// NewWorkerPool creates a new pool with the given number of workers.
func NewWorkerPool(numWorkers int) *WorkerPool {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	pool := &WorkerPool{
		tasks: make(chan Task, 100),
	}
	for i := 0; i < numWorkers; i++ {
		w := &worker{
			id:   i,
			pool: pool,
		}
		pool.workers = append(pool.workers, w)
		go w.start()
	}
	return pool
}

func (w *worker) start() {
	for task := range w.pool.tasks {
		task()
	}
}

// Submit schedules a task for execution.
func (wp *WorkerPool) Submit(task Task) {
	wp.tasks <- task
}

// Shutdown stops the worker pool.
func (wp *WorkerPool) Shutdown() {
	close(wp.tasks)
}

// Job names one input container file and its output path.
type Job struct {
	Input  string
	Output string
}

// BatchResult pairs a job with its outcome. Exactly one of Result and Err
// is set.
type BatchResult struct {
	Job    Job
	Result *Result
	Err    error
}

// ConvertMany converts a batch of container files concurrently. Results
// arrive in job order. A failed job does not stop the others; cancelling
// the context stops jobs that have not finished.
func ConvertMany(ctx context.Context, jobs []Job, workers int, opts Options) []BatchResult {
	pool := NewWorkerPool(workers)
	defer pool.Shutdown()

	results := make([]BatchResult, len(jobs))
	var wg sync.WaitGroup
	for i, job := range jobs {
		wg.Add(1)
		pool.Submit(func() {
			defer wg.Done()
			res, err := ConvertFile(ctx, job.Input, job.Output, opts)
			results[i] = BatchResult{Job: job, Result: res, Err: err}
		})
	}
	wg.Wait()
	return results
}
