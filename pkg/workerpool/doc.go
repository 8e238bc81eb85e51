// Package workerpool runs tasks on a fixed number of goroutines with a
// bounded queue, panic recovery and graceful shutdown.
//
// # Basic Usage
//
//	pool, err := workerpool.NewWorkerPool(workerpool.Config{
//	    Workers:   4,
//	    QueueSize: 100,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer pool.Stop()
//
//	err = pool.Submit(func() error {
//	    return nil
//	})
//
// # Batches
//
// A Batch waits only for its own tasks, which lets concurrent callers share
// one pool:
//
//	batch := pool.NewBatch(ctx)
//	for _, job := range jobs {
//	    job := job
//	    batch.Go(func() error { return run(job) })
//	}
//	errs := batch.Wait() // one entry per Go call, in order
package workerpool
