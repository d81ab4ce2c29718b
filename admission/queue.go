package admission

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/caskli/dbguard/logger"
)

// Common admission errors.
var (
	// ErrQueueFull is returned when the queue is at capacity.
	ErrQueueFull = errors.New("admission queue is full")
	// ErrQueueTimeout is returned when an item expires before starting.
	ErrQueueTimeout = errors.New("admission queue timeout")
	// ErrQueueCleared is returned to items rejected by Clear.
	ErrQueueCleared = errors.New("admission queue cleared")
)

// Config configures an admission queue.
type Config struct {
	// Name identifies this queue for metrics/logging.
	Name string
	// MaxConcurrent is the number of operations allowed to run at once.
	MaxConcurrent int
	// MaxQueueSize is the number of operations allowed to wait.
	MaxQueueSize int
	// Timeout is how long an item may wait before being evicted.
	Timeout time.Duration
	// PriorityLevels is the number of priority levels (0..n-1, higher
	// is served first).
	PriorityLevels int
	// OnReject is called when an enqueue fails fast.
	OnReject func(name string)
	// OnComplete is called after an operation finishes, with its queue
	// wait and execution durations.
	OnComplete func(name string, wait, exec time.Duration)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(name string) Config {
	return Config{
		Name:           name,
		MaxConcurrent:  5,
		MaxQueueSize:   50,
		Timeout:        10 * time.Second,
		PriorityLevels: 4,
	}
}

// Stats is a point-in-time view of queue activity. Averages are
// computed on read.
type Stats struct {
	Name      string        `json:"name"`
	Queued    int           `json:"queued"`
	Active    int           `json:"active"`
	Processed uint64        `json:"processed"`
	Failed    uint64        `json:"failed"`
	TimedOut  uint64        `json:"timed_out"`
	Cleared   uint64        `json:"cleared"`
	AvgWait   time.Duration `json:"avg_wait"`
	AvgExec   time.Duration `json:"avg_exec"`
}

// Queue is a bounded, priority-ordered admission queue. Safe for
// concurrent use.
type Queue struct {
	config Config
	log    *logger.Logger

	mu        sync.Mutex
	items     itemHeap
	seq       uint64
	active    int
	processed uint64
	failed    uint64
	timedOut  uint64
	cleared   uint64
	totalWait time.Duration
	totalExec time.Duration

	stopOnce sync.Once
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New creates a new admission queue. Call Start to begin the dispatch
// tick and Stop to release it.
func New(config Config, log *logger.Logger) *Queue {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 5
	}
	if config.MaxQueueSize <= 0 {
		config.MaxQueueSize = 50
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.PriorityLevels <= 0 {
		config.PriorityLevels = 4
	}

	return &Queue{
		config:   config,
		log:      log.WithComponent("admission").WithFields(map[string]interface{}{"queue": config.Name}),
		stopChan: make(chan struct{}),
	}
}

// Name returns the queue's configured name.
func (q *Queue) Name() string { return q.config.Name }

// Enqueue submits op at the given priority and blocks until it
// completes, times out waiting, or the queue is cleared. It fails fast
// with ErrQueueFull when the queue is at capacity, without running op.
func (q *Queue) Enqueue(ctx context.Context, priority int, op func(context.Context) error) error {
	return q.EnqueueWithID(ctx, priority, uuid.NewString(), op)
}

// EnqueueUrgent submits op at the highest priority level.
func (q *Queue) EnqueueUrgent(ctx context.Context, op func(context.Context) error) error {
	return q.Enqueue(ctx, q.config.PriorityLevels-1, op)
}

// EnqueueWithID is Enqueue with a caller-supplied item ID.
func (q *Queue) EnqueueWithID(ctx context.Context, priority int, id string, op func(context.Context) error) error {
	if priority < 0 {
		priority = 0
	}
	if priority >= q.config.PriorityLevels {
		priority = q.config.PriorityLevels - 1
	}

	it := &item{
		id:         id,
		priority:   priority,
		enqueuedAt: time.Now(),
		op:         op,
		ctx:        ctx,
		done:       make(chan error, 1),
		index:      -1,
	}

	q.mu.Lock()
	if q.items.Len() >= q.config.MaxQueueSize {
		q.mu.Unlock()
		if q.config.OnReject != nil {
			q.config.OnReject(q.config.Name)
		}
		q.log.Warn("enqueue rejected, queue full", logger.Fields("id", id, "priority", priority))
		return fmt.Errorf("queue %q: %w", q.config.Name, ErrQueueFull)
	}
	it.seq = q.seq
	q.seq++
	heap.Push(&q.items, it)
	it.timer = time.AfterFunc(q.config.Timeout, func() { q.expire(it) })
	q.mu.Unlock()

	q.dispatch()

	return <-it.done
}

// Submit runs a result-returning operation through the queue.
func Submit[T any](q *Queue, ctx context.Context, priority int, fn func(context.Context) (T, error)) (T, error) {
	var result T
	err := q.Enqueue(ctx, priority, func(ctx context.Context) error {
		var fnErr error
		result, fnErr = fn(ctx)
		return fnErr
	})
	return result, err
}

// Clear rejects every queued (not yet started) item with
// ErrQueueCleared and empties the queue. In-flight operations are
// unaffected.
func (q *Queue) Clear() {
	q.mu.Lock()
	dropped := make([]*item, 0, q.items.Len())
	for q.items.Len() > 0 {
		it := heap.Pop(&q.items).(*item)
		it.timer.Stop()
		dropped = append(dropped, it)
	}
	q.cleared += uint64(len(dropped))
	q.mu.Unlock()

	for _, it := range dropped {
		it.done <- fmt.Errorf("queue %q: %w", q.config.Name, ErrQueueCleared)
	}
	if len(dropped) > 0 {
		q.log.Info("queue cleared", logger.Fields("dropped", len(dropped)))
	}
}

// Stats returns a point-in-time snapshot.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := Stats{
		Name:      q.config.Name,
		Queued:    q.items.Len(),
		Active:    q.active,
		Processed: q.processed,
		Failed:    q.failed,
		TimedOut:  q.timedOut,
		Cleared:   q.cleared,
	}
	if n := q.processed + q.failed; n > 0 {
		s.AvgWait = q.totalWait / time.Duration(n)
		s.AvgExec = q.totalExec / time.Duration(n)
	}
	return s
}

// Healthy reports whether the queue is operating within comfortable
// bounds: below 80% of queue capacity, active slots at or under the
// cap, and average wait under half the item timeout.
func (q *Queue) Healthy() bool {
	s := q.Stats()
	return s.Queued < q.config.MaxQueueSize*8/10 &&
		s.Active <= q.config.MaxConcurrent &&
		s.AvgWait < q.config.Timeout/2
}

// Start launches the dispatch tick. Completions already re-drive
// dispatch immediately; the tick exists to evict expired items
// promptly and as a safety net.
func (q *Queue) Start() {
	q.wg.Add(1)
	go q.tickLoop()
}

// Stop terminates the dispatch tick. Queued and in-flight items are
// unaffected; use Clear to reject queued items.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		close(q.stopChan)
	})
	q.wg.Wait()
}

func (q *Queue) tickLoop() {
	defer q.wg.Done()

	interval := q.config.Timeout / 4
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	if interval > time.Second {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			q.dispatch()
		case <-q.stopChan:
			return
		}
	}
}

// dispatch pops head items into free slots until either runs out.
func (q *Queue) dispatch() {
	for {
		q.mu.Lock()
		if q.active >= q.config.MaxConcurrent || q.items.Len() == 0 {
			q.mu.Unlock()
			return
		}
		it := heap.Pop(&q.items).(*item)
		it.timer.Stop()
		q.active++
		q.mu.Unlock()

		go q.run(it)
	}
}

func (q *Queue) run(it *item) {
	wait := time.Since(it.enqueuedAt)
	start := time.Now()
	err := it.op(it.ctx)
	exec := time.Since(start)

	q.mu.Lock()
	q.active--
	if err != nil {
		q.failed++
	} else {
		q.processed++
	}
	q.totalWait += wait
	q.totalExec += exec
	q.mu.Unlock()

	if q.config.OnComplete != nil {
		q.config.OnComplete(q.config.Name, wait, exec)
	}

	it.done <- err

	// A slot just freed: dispatch the next head immediately.
	q.dispatch()
}

// expire evicts a still-queued item whose wait exceeded the timeout.
func (q *Queue) expire(it *item) {
	q.mu.Lock()
	if it.index < 0 {
		// Already dispatched or cleared.
		q.mu.Unlock()
		return
	}
	heap.Remove(&q.items, it.index)
	q.timedOut++
	q.mu.Unlock()

	q.log.Warn("queued item timed out", logger.Fields("id", it.id, "priority", it.priority))
	it.done <- fmt.Errorf("queue %q: item %s: %w", q.config.Name, it.id, ErrQueueTimeout)
}
