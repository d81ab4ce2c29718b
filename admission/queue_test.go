package admission

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestQueue_RunsOperationAndReturnsResult(t *testing.T) {
	q := New(DefaultConfig("test"), nil)

	n, err := Submit(q, context.Background(), 0, func(context.Context) (int, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 42 {
		t.Errorf("expected 42, got %d", n)
	}
}

func TestQueue_OperationErrorPropagates(t *testing.T) {
	q := New(DefaultConfig("test"), nil)
	errOp := errors.New("db down")

	err := q.Enqueue(context.Background(), 0, func(context.Context) error { return errOp })
	if !errors.Is(err, errOp) {
		t.Errorf("expected operation error, got %v", err)
	}

	s := q.Stats()
	if s.Failed != 1 || s.Processed != 0 {
		t.Errorf("expected 1 failed, got %+v", s)
	}
}

func TestQueue_FailsFastWhenFull(t *testing.T) {
	q := New(Config{Name: "test", MaxConcurrent: 1, MaxQueueSize: 2, Timeout: time.Second}, nil)

	started := make(chan struct{})
	release := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = q.Enqueue(context.Background(), 0, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	// Fill the two queue slots behind the occupied concurrency slot.
	var queuedStarted bool
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = q.Enqueue(context.Background(), 0, func(context.Context) error {
				queuedStarted = true
				return nil
			})
		}()
	}
	waitFor(t, func() bool { return q.Stats().Queued == 2 })

	// Third waiting submission must reject synchronously, without the
	// queued operations having started.
	err := q.Enqueue(context.Background(), 0, func(context.Context) error { return nil })
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if queuedStarted {
		t.Error("queued operations must not start while the slot is held")
	}
	if s := q.Stats(); s.Active != 1 {
		t.Errorf("rejection must not touch active count, got %d", s.Active)
	}

	close(release)
	wg.Wait()
}

func TestQueue_HigherPriorityDispatchedFirst(t *testing.T) {
	q := New(Config{Name: "test", MaxConcurrent: 1, MaxQueueSize: 10, Timeout: time.Second, PriorityLevels: 4}, nil)

	started := make(chan struct{})
	release := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = q.Enqueue(context.Background(), 0, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	var mu sync.Mutex
	var order []string
	record := func(name string) func(context.Context) error {
		return func(context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = q.Enqueue(context.Background(), 1, record("low"))
	}()
	waitFor(t, func() bool { return q.Stats().Queued == 1 })

	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = q.Enqueue(context.Background(), 3, record("high"))
	}()
	waitFor(t, func() bool { return q.Stats().Queued == 2 })

	close(release)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "high" || order[1] != "low" {
		t.Errorf("expected high before low, got %v", order)
	}
}

func TestQueue_FIFOWithinPriority(t *testing.T) {
	q := New(Config{Name: "test", MaxConcurrent: 1, MaxQueueSize: 10, Timeout: time.Second}, nil)

	started := make(chan struct{})
	release := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = q.Enqueue(context.Background(), 0, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	var mu sync.Mutex
	var order []int
	for i := 1; i <= 3; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = q.Enqueue(context.Background(), 2, func(context.Context) error {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil
			})
		}()
		waitFor(t, func() bool { return q.Stats().Queued == i })
	}

	close(release)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		if v != i+1 {
			t.Fatalf("expected FIFO order [1 2 3], got %v", order)
		}
	}
}

func TestQueue_QueuedItemTimesOut(t *testing.T) {
	q := New(Config{Name: "test", MaxConcurrent: 1, MaxQueueSize: 10, Timeout: 50 * time.Millisecond}, nil)

	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = q.Enqueue(context.Background(), 0, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	// This item never gets a slot and must be evicted on expiry,
	// without affecting the in-flight operation.
	err := q.Enqueue(context.Background(), 0, func(context.Context) error {
		t.Error("evicted operation must not run")
		return nil
	})
	if !errors.Is(err, ErrQueueTimeout) {
		t.Fatalf("expected ErrQueueTimeout, got %v", err)
	}

	s := q.Stats()
	if s.TimedOut != 1 {
		t.Errorf("expected 1 timed out, got %+v", s)
	}
	if s.Active != 1 {
		t.Errorf("in-flight item must be unaffected, got active=%d", s.Active)
	}
}

func TestQueue_ClearRejectsQueuedOnly(t *testing.T) {
	q := New(Config{Name: "test", MaxConcurrent: 1, MaxQueueSize: 10, Timeout: time.Second}, nil)

	started := make(chan struct{})
	release := make(chan struct{})

	inflightErr := make(chan error, 1)
	go func() {
		inflightErr <- q.Enqueue(context.Background(), 0, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	queuedErr := make(chan error, 1)
	go func() {
		queuedErr <- q.Enqueue(context.Background(), 0, func(context.Context) error { return nil })
	}()
	waitFor(t, func() bool { return q.Stats().Queued == 1 })

	q.Clear()

	if err := <-queuedErr; !errors.Is(err, ErrQueueCleared) {
		t.Errorf("expected ErrQueueCleared, got %v", err)
	}
	if s := q.Stats(); s.Queued != 0 || s.Cleared != 1 {
		t.Errorf("unexpected stats after clear: %+v", s)
	}

	close(release)
	if err := <-inflightErr; err != nil {
		t.Errorf("in-flight item must complete normally, got %v", err)
	}
}

func TestQueue_EnqueueUrgentUsesTopPriority(t *testing.T) {
	q := New(Config{Name: "test", MaxConcurrent: 1, MaxQueueSize: 10, Timeout: time.Second, PriorityLevels: 4}, nil)

	started := make(chan struct{})
	release := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = q.Enqueue(context.Background(), 0, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	var mu sync.Mutex
	var order []string

	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = q.Enqueue(context.Background(), 2, func(context.Context) error {
			mu.Lock()
			order = append(order, "normal")
			mu.Unlock()
			return nil
		})
	}()
	waitFor(t, func() bool { return q.Stats().Queued == 1 })

	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = q.EnqueueUrgent(context.Background(), func(context.Context) error {
			mu.Lock()
			order = append(order, "urgent")
			mu.Unlock()
			return nil
		})
	}()
	waitFor(t, func() bool { return q.Stats().Queued == 2 })

	close(release)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "urgent" {
		t.Errorf("expected urgent first, got %v", order)
	}
}

func TestQueue_ConcurrencyNeverExceedsCap(t *testing.T) {
	q := New(Config{Name: "test", MaxConcurrent: 3, MaxQueueSize: 50, Timeout: 5 * time.Second}, nil)
	q.Start()
	defer q.Stop()

	var mu sync.Mutex
	var active, peak int

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = q.Enqueue(context.Background(), 0, func(context.Context) error {
				mu.Lock()
				active++
				if active > peak {
					peak = active
				}
				mu.Unlock()

				time.Sleep(5 * time.Millisecond)

				mu.Lock()
				active--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()

	if peak > 3 {
		t.Errorf("concurrency exceeded cap: peak %d", peak)
	}
	if s := q.Stats(); s.Processed != 20 {
		t.Errorf("expected 20 processed, got %+v", s)
	}
}

func TestQueue_StatsAverages(t *testing.T) {
	q := New(DefaultConfig("test"), nil)

	for i := 0; i < 3; i++ {
		_ = q.Enqueue(context.Background(), 0, func(context.Context) error {
			time.Sleep(10 * time.Millisecond)
			return nil
		})
	}

	s := q.Stats()
	if s.Processed != 3 {
		t.Fatalf("expected 3 processed, got %d", s.Processed)
	}
	if s.AvgExec < 5*time.Millisecond {
		t.Errorf("expected avg exec around 10ms, got %s", s.AvgExec)
	}
}

func TestQueue_Healthy(t *testing.T) {
	q := New(Config{Name: "test", MaxConcurrent: 2, MaxQueueSize: 10, Timeout: time.Second}, nil)
	if !q.Healthy() {
		t.Error("idle queue should be healthy")
	}

	started := make(chan struct{}, 2)
	release := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = q.Enqueue(context.Background(), 0, func(context.Context) error {
				started <- struct{}{}
				<-release
				return nil
			})
		}()
	}
	<-started
	<-started

	// Fill the queue past 80% of capacity.
	for i := 0; i < 9; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = q.Enqueue(context.Background(), 0, func(context.Context) error { return nil })
		}()
	}
	waitFor(t, func() bool { return q.Stats().Queued == 9 })

	if q.Healthy() {
		t.Error("queue at 90% capacity should be unhealthy")
	}

	close(release)
	wg.Wait()
}

func TestClassSet_DistinctTuningAndFallback(t *testing.T) {
	cs := NewClassSet(nil, nil)

	if cs.ForClass(ClassRead) == cs.ForClass(ClassWrite) {
		t.Error("classes must be independent queues")
	}
	if cs.ForClass(ClassCritical).Name() != "critical" {
		t.Errorf("unexpected critical queue name: %s", cs.ForClass(ClassCritical).Name())
	}
	if cs.ForClass(Class("unknown")) != cs.ForClass(ClassRead) {
		t.Error("unknown class should fall back to read queue")
	}

	cs.Start()
	defer cs.Stop()

	if err := cs.ForClass(ClassWrite).Enqueue(context.Background(), 0, func(context.Context) error { return nil }); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if got := cs.Stats()[ClassWrite].Processed; got != 1 {
		t.Errorf("expected 1 processed on write queue, got %d", got)
	}
	if !cs.Healthy() {
		t.Error("fresh class set should be healthy")
	}
}

// waitFor polls cond until true or fails the test after a deadline.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatal("condition not reached in time")
		case <-time.After(2 * time.Millisecond):
		}
	}
}
