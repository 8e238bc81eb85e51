package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

var (
	ErrPoolClosed     = errors.New("workerpool: pool is closed")
	ErrQueueFull      = errors.New("workerpool: queue is full")
	ErrForcedShutdown = errors.New("workerpool: shutdown timeout exceeded")
)

// Task represents a unit of work
type Task struct {
	ID      string          // Unique task identifier
	Fn      func() error    // Task function
	Ctx     context.Context // Task context for cancellation
	Created time.Time       // Task creation timestamp
	done    func(error)     // Completion callback, may be nil
}

// TaskError describes a failed, panicked or cancelled task
type TaskError struct {
	TaskID string
	Err    error
	Stack  string // set when the task panicked
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s: %v", e.TaskID, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

var taskCounter atomic.Uint64

// generateTaskID generates a unique task ID
func generateTaskID() string {
	id := taskCounter.Add(1)
	return fmt.Sprintf("task-%d", id)
}

// newTask creates a new task bound to ctx
func newTask(ctx context.Context, fn func() error, done func(error)) *Task {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Task{
		ID:      generateTaskID(),
		Fn:      fn,
		Ctx:     ctx,
		Created: time.Now(),
		done:    done,
	}
}
