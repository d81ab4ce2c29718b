// Package admission implements bounded, priority-ordered admission
// queues that gate concurrent access to a dependency with a small
// connection budget.
//
// A Queue holds at most MaxQueueSize waiting operations and runs at
// most MaxConcurrent of them at a time. Enqueue is the single
// backpressure point: submissions beyond capacity fail fast with
// ErrQueueFull instead of growing the queue. Waiting items are
// dispatched by descending priority, FIFO within a priority, and each
// carries its own expiry timer.
//
// Production deployments run one queue per operation class (read,
// write, batch, critical) with distinct tuning, so bulk traffic
// cannot starve health checks. See ClassSet.
//
//	q := admission.New(admission.DefaultConfig("read"), log)
//	q.Start()
//	defer q.Stop()
//
//	rows, err := admission.Submit(q, ctx, 2, func(ctx context.Context) ([]Row, error) {
//	    return store.List(ctx)
//	})
package admission
