package workerpool

import (
	"context"
	"sync"
)

// Batch tracks a group of tasks submitted together so a caller can wait
// for its own work without waiting on the rest of the pool.
type Batch struct {
	pool *WorkerPool
	ctx  context.Context
	wg   sync.WaitGroup

	mu   sync.Mutex
	errs []error
}

// NewBatch starts a batch bound to ctx
func (p *WorkerPool) NewBatch(ctx context.Context) *Batch {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Batch{pool: p, ctx: ctx}
}

// Go submits fn and returns its position in the batch. A submission error
// is recorded at that position as well as returned.
func (b *Batch) Go(fn func() error) (int, error) {
	b.mu.Lock()
	idx := len(b.errs)
	b.errs = append(b.errs, nil)
	b.mu.Unlock()

	b.wg.Add(1)
	err := b.pool.submit(b.ctx, fn, func(err error) {
		b.set(idx, err)
		b.wg.Done()
	}, true)
	if err != nil {
		b.set(idx, err)
		b.wg.Done()
	}
	return idx, err
}

func (b *Batch) set(idx int, err error) {
	b.mu.Lock()
	b.errs[idx] = err
	b.mu.Unlock()
}

// Wait blocks until every task of the batch has finished and returns the
// per-task errors in submission order; successful tasks have nil entries.
func (b *Batch) Wait() []error {
	b.wg.Wait()
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]error(nil), b.errs...)
}
