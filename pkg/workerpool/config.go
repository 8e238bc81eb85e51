package workerpool

import (
	"errors"
	"runtime"
	"time"
)

// Config holds worker pool configuration
type Config struct {
	Workers         int           // Number of worker goroutines
	QueueSize       int           // Buffered task queue capacity
	ShutdownTimeout time.Duration // Maximum time Stop waits for queued tasks

	// ErrorHandler receives task failures, panics and cancellations.
	// It is called from worker goroutines and must be safe for concurrent use.
	ErrorHandler func(*TaskError)
}

// DefaultConfig returns a configuration sized to the machine
func DefaultConfig() Config {
	return Config{
		Workers:         runtime.NumCPU(),
		QueueSize:       1000,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.Workers <= 0 {
		return errors.New("workerpool: workers must be positive")
	}
	if c.QueueSize < 0 {
		return errors.New("workerpool: queue size must not be negative")
	}
	if c.ShutdownTimeout < 0 {
		return errors.New("workerpool: shutdown timeout must not be negative")
	}
	return nil
}
