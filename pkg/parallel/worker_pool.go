// Package parallel runs independent tasks on a bounded set of goroutines.
package parallel

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
)

// ErrTooManyWorkers is returned when the worker count exceeds the maximum allowed.
var ErrTooManyWorkers = errors.New("worker count exceeds maximum")

// MaxWorkers is the maximum number of workers allowed in a pool.
const MaxWorkers = math.MaxInt / 2

// PanicError is reported for a task that panicked.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string { return fmt.Sprintf("task panicked: %v", e.Value) }

// WorkerPool manages a pool of worker goroutines
type WorkerPool struct {
	workers   int
	taskQueue chan func()
	wg        sync.WaitGroup
	once      sync.Once
	mu        sync.RWMutex // protects taskQueue from close during send
	closed    bool
	onPanic   func(any)
}

// NewWorkerPool starts workers goroutines. A non-positive count means one.
func NewWorkerPool(workers int) (*WorkerPool, error) {
	if workers <= 0 {
		workers = 1
	}
	if workers > MaxWorkers {
		return nil, fmt.Errorf("%w: %d exceeds %d", ErrTooManyWorkers, workers, MaxWorkers)
	}

	pool := &WorkerPool{
		workers:   workers,
		taskQueue: make(chan func(), workers*2),
		onPanic:   func(any) {},
	}
	for i := 0; i < pool.workers; i++ {
		pool.wg.Add(1)
		go pool.worker()
	}
	return pool, nil
}

func (wp *WorkerPool) worker() {
	defer wp.wg.Done()
	for task := range wp.taskQueue {
		func() {
			defer func() {
				if r := recover(); r != nil {
					wp.mu.RLock()
					handler := wp.onPanic
					wp.mu.RUnlock()
					handler(r)
				}
			}()
			task()
		}()
	}
}

// SetPanicHandler sets the function called with the value of a task that
// panicked. The worker survives the panic either way.
func (wp *WorkerPool) SetPanicHandler(fn func(any)) {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	wp.onPanic = fn
}

// Submit queues task. It returns false once the pool is closed.
func (wp *WorkerPool) Submit(task func()) bool {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if wp.closed {
		return false
	}
	wp.taskQueue <- task
	return true
}

// Close stops accepting tasks and waits for queued ones to finish.
func (wp *WorkerPool) Close() {
	wp.once.Do(func() {
		wp.mu.Lock()
		wp.closed = true
		close(wp.taskQueue)
		wp.mu.Unlock()
	})
	wp.wg.Wait()
}

// ForEach calls fn for every item on up to workers goroutines and waits.
// Errors are joined in item order. Items not yet started when ctx is done
// are skipped and report ctx.Err().
func ForEach[T any](ctx context.Context, workers int, items []T, fn func(ctx context.Context, i int, item T) error) error {
	if len(items) == 0 {
		return nil
	}
	workers = min(max(workers, 1), len(items))

	errs := make([]error, len(items))
	pool, err := NewWorkerPool(workers)
	if err != nil {
		return err
	}

	for i, item := range items {
		pool.Submit(func() {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return
			}
			errs[i] = safeCall(func() error { return fn(ctx, i, item) })
		})
	}
	pool.Close()
	return errors.Join(errs...)
}

// safeCall converts a panic in fn into a PanicError.
func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return fn()
}
