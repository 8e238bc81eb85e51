package workerpool

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"
)

// WorkerPool runs submitted tasks on a fixed set of goroutines
type WorkerPool struct {
	config Config
	tasks  chan *Task     // Task queue
	wg     sync.WaitGroup // Wait for workers
	once   sync.Once      // Ensure single shutdown

	// mu guards closed and every send on tasks so Stop never closes the
	// queue under a sender.
	mu     sync.RWMutex
	closed bool

	stats   *statsCollector
	pending sync.WaitGroup // queued or running tasks
}

// NewWorkerPool creates a new worker pool with given configuration.
// Returns error if configuration is invalid.
//
// Example:
//
//	pool, err := workerpool.NewWorkerPool(workerpool.Config{
//	    Workers: 4,
//	    QueueSize: 100,
//	    ShutdownTimeout: 5 * time.Second,
//	})
func NewWorkerPool(config Config) (*WorkerPool, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	pool := &WorkerPool{
		config: config,
		tasks:  make(chan *Task, config.QueueSize),
		stats:  newStatsCollector(),
	}

	pool.startWorkers()
	return pool, nil
}

// NewDefaultWorkerPool creates a pool with DefaultConfig
func NewDefaultWorkerPool() *WorkerPool {
	pool, _ := NewWorkerPool(DefaultConfig())
	return pool
}

// startWorkers starts the worker goroutines
func (p *WorkerPool) startWorkers() {
	for i := 0; i < p.config.Workers; i++ {
		p.wg.Add(1)
		p.stats.incActiveWorkers()

		go p.worker()
	}
}

// worker drains the queue until it is closed
func (p *WorkerPool) worker() {
	defer func() {
		p.wg.Done()
		p.stats.decActiveWorkers()
	}()

	for task := range p.tasks {
		p.executeTask(task)
	}
}

// executeTask executes a single task with panic recovery
func (p *WorkerPool) executeTask(task *Task) {
	defer p.pending.Done()

	start := time.Now()
	var taskErr *TaskError

	defer func() {
		if r := recover(); r != nil {
			taskErr = &TaskError{
				TaskID: task.ID,
				Err:    fmt.Errorf("panic: %v", r),
				Stack:  string(debug.Stack()),
			}
		}

		p.stats.recordTaskCompletion(time.Since(start), taskErr != nil)
		if taskErr != nil && p.config.ErrorHandler != nil {
			p.config.ErrorHandler(taskErr)
		}
		if task.done != nil {
			if taskErr != nil {
				task.done(taskErr)
			} else {
				task.done(nil)
			}
		}
	}()

	// Skip tasks whose context ended while queued
	if err := task.Ctx.Err(); err != nil {
		taskErr = &TaskError{TaskID: task.ID, Err: err}
		return
	}

	if err := task.Fn(); err != nil {
		taskErr = &TaskError{TaskID: task.ID, Err: err}
	}
}

func (p *WorkerPool) submit(ctx context.Context, fn func() error, done func(error), block bool) error {
	if ctx == nil {
		ctx = context.Background()
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	task := newTask(ctx, fn, done)
	p.pending.Add(1)

	if !block {
		select {
		case p.tasks <- task:
			return nil
		default:
			p.pending.Done()
			p.stats.recordTaskRejection()
			return ErrQueueFull
		}
	}

	select {
	case p.tasks <- task:
		return nil
	case <-ctx.Done():
		p.pending.Done()
		p.stats.recordTaskRejection()
		return ctx.Err()
	}
}

// Submit submits a task to the pool.
// Blocks if queue is full until space is available.
// Returns error if pool is closed.
func (p *WorkerPool) Submit(fn func() error) error {
	return p.submit(context.Background(), fn, nil, true)
}

// SubmitWithContext submits a task bound to ctx. Submission gives up when
// ctx ends, and a task whose ctx ended while queued is not executed.
func (p *WorkerPool) SubmitWithContext(ctx context.Context, fn func() error) error {
	return p.submit(ctx, fn, nil, true)
}

// TrySubmit attempts to submit a task without blocking.
// Returns ErrQueueFull if queue is full.
// Returns ErrPoolClosed if pool is closed.
func (p *WorkerPool) TrySubmit(fn func() error) error {
	return p.submit(context.Background(), fn, nil, false)
}

// Stop stops accepting tasks and waits for queued tasks to finish, up to
// ShutdownTimeout. Returns ErrForcedShutdown if the timeout is exceeded.
func (p *WorkerPool) Stop() error {
	return p.StopWithContext(context.Background())
}

// StopWithContext is Stop bounded additionally by ctx
func (p *WorkerPool) StopWithContext(ctx context.Context) error {
	var shutdownErr error

	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.tasks)
		p.mu.Unlock()

		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()

		var timeout <-chan time.Time
		if p.config.ShutdownTimeout > 0 {
			timer := time.NewTimer(p.config.ShutdownTimeout)
			defer timer.Stop()
			timeout = timer.C
		}

		select {
		case <-done:
		case <-ctx.Done():
			shutdownErr = fmt.Errorf("shutdown cancelled: %w", ctx.Err())
		case <-timeout:
			shutdownErr = ErrForcedShutdown
		}
	})

	return shutdownErr
}

// IsClosed returns true if pool is closed.
func (p *WorkerPool) IsClosed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

// Stats returns current pool statistics.
// Safe for concurrent access.
func (p *WorkerPool) Stats() Stats {
	return p.stats.snapshot(len(p.tasks))
}

// Wait blocks until every submitted task has completed.
// Does not prevent new task submission.
func (p *WorkerPool) Wait() {
	p.pending.Wait()
}
