package workerpool

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBatch_ErrorsInSubmissionOrder(t *testing.T) {
	t.Parallel()

	pool, err := NewWorkerPool(Config{Workers: 4, QueueSize: 16, ShutdownTimeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Failed to create pool: %v", err)
	}
	defer pool.Stop()

	boom := errors.New("boom")
	results := make([]int, 6)

	batch := pool.NewBatch(context.Background())
	for i := 0; i < 6; i++ {
		i := i
		idx, err := batch.Go(func() error {
			if i == 3 {
				return boom
			}
			if i == 5 {
				panic("bad job")
			}
			results[i] = i * i
			return nil
		})
		if err != nil || idx != i {
			t.Fatalf("Go(%d) = %d, %v", i, idx, err)
		}
	}

	errs := batch.Wait()
	if len(errs) != 6 {
		t.Fatalf("Expected 6 entries, got %d", len(errs))
	}
	for i, err := range errs {
		switch i {
		case 3:
			if !errors.Is(err, boom) {
				t.Errorf("Entry 3: expected boom, got %v", err)
			}
		case 5:
			var taskErr *TaskError
			if !errors.As(err, &taskErr) || taskErr.Stack == "" {
				t.Errorf("Entry 5: expected panic TaskError, got %v", err)
			}
		default:
			if err != nil {
				t.Errorf("Entry %d: unexpected error %v", i, err)
			}
			if results[i] != i*i {
				t.Errorf("Entry %d: result %d", i, results[i])
			}
		}
	}
}

func TestBatch_IndependentOfOtherWork(t *testing.T) {
	t.Parallel()

	pool, err := NewWorkerPool(Config{Workers: 2, QueueSize: 4, ShutdownTimeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Failed to create pool: %v", err)
	}
	defer pool.Stop()

	release := make(chan struct{})
	pool.Submit(func() error {
		<-release
		return nil
	})

	batch := pool.NewBatch(context.Background())
	batch.Go(func() error { return nil })

	done := make(chan struct{})
	go func() {
		batch.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Batch waited on unrelated work")
	}
	close(release)
}

func TestBatch_ClosedPool(t *testing.T) {
	t.Parallel()

	pool, err := NewWorkerPool(Config{Workers: 1, QueueSize: 1})
	if err != nil {
		t.Fatalf("Failed to create pool: %v", err)
	}
	pool.Stop()

	batch := pool.NewBatch(context.Background())
	if _, err := batch.Go(func() error { return nil }); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Expected ErrPoolClosed, got %v", err)
	}
	errs := batch.Wait()
	if len(errs) != 1 || !errors.Is(errs[0], ErrPoolClosed) {
		t.Errorf("Expected recorded ErrPoolClosed, got %v", errs)
	}
}
