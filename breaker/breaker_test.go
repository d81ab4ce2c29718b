package breaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func newTestBreaker(cfg Config) *Breaker {
	return New(cfg, nil)
}

func failN(t *testing.T, b *Breaker, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_ = b.Execute(context.Background(), func(context.Context) error { return errBoom })
	}
}

func TestBreaker_StartsClosed(t *testing.T) {
	b := newTestBreaker(DefaultConfig("test"))
	if b.State() != StateClosed {
		t.Errorf("expected closed, got %s", b.State())
	}
}

func TestBreaker_OpensAfterFailureThreshold(t *testing.T) {
	b := newTestBreaker(Config{Name: "db", FailureThreshold: 3, Timeout: time.Second})

	failN(t, b, 3)

	if b.State() != StateOpen {
		t.Fatalf("expected open after 3 failures, got %s", b.State())
	}

	// The very next call must be rejected without invoking the operation.
	var called bool
	err := b.Execute(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	if called {
		t.Error("operation must not run while circuit is open")
	}
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}

	var openErr *OpenError
	if !errors.As(err, &openErr) {
		t.Fatalf("expected *OpenError, got %T", err)
	}
	if openErr.Name != "db" {
		t.Errorf("expected breaker name db, got %s", openErr.Name)
	}
	if openErr.RetryAfter <= 0 {
		t.Errorf("expected positive retry-after, got %s", openErr.RetryAfter)
	}
}

func TestBreaker_SuccessDecrementsFailuresWhileClosed(t *testing.T) {
	b := newTestBreaker(Config{Name: "db", FailureThreshold: 3, Timeout: time.Second})

	failN(t, b, 2)
	_ = b.Execute(context.Background(), func(context.Context) error { return nil })

	// 2 failures - 1 success = 1; one more failure must not open.
	failN(t, b, 1)
	if b.State() != StateClosed {
		t.Errorf("expected closed after decay, got %s", b.State())
	}

	failN(t, b, 1)
	if b.State() != StateOpen {
		t.Errorf("expected open after reaccumulating failures, got %s", b.State())
	}
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	b := newTestBreaker(Config{Name: "db", FailureThreshold: 1, Timeout: 40 * time.Millisecond})

	failN(t, b, 1)
	if b.State() != StateOpen {
		t.Fatalf("expected open, got %s", b.State())
	}

	time.Sleep(60 * time.Millisecond)

	// Deadline elapsed: this call is the half-open probe and it fails.
	err := b.Execute(context.Background(), func(context.Context) error { return errBoom })
	if !errors.Is(err, errBoom) {
		t.Fatalf("probe error should propagate, got %v", err)
	}
	if b.State() != StateOpen {
		t.Errorf("expected reopen after failed probe, got %s", b.State())
	}

	// The deadline was re-armed, so an immediate call is rejected again.
	err = b.Execute(context.Background(), func(context.Context) error { return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen right after reopen, got %v", err)
	}
}

func TestBreaker_RoundTripRecovery(t *testing.T) {
	b := newTestBreaker(Config{
		Name:             "db",
		FailureThreshold: 3,
		SuccessThreshold: 1,
		Timeout:          100 * time.Millisecond,
	})

	failN(t, b, 3)
	if b.State() != StateOpen {
		t.Fatalf("expected open, got %s", b.State())
	}

	time.Sleep(150 * time.Millisecond)

	err := b.Execute(context.Background(), func(context.Context) error { return nil })
	if err != nil {
		t.Fatalf("probe should succeed, got %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("expected closed after successful probe, got %s", b.State())
	}
	if m := b.Metrics(); m.Failures != 0 {
		t.Errorf("expected failure count reset, got %d", m.Failures)
	}
}

func TestBreaker_HalfOpenAdmitsProbesSerially(t *testing.T) {
	b := newTestBreaker(Config{Name: "db", FailureThreshold: 1, SuccessThreshold: 2, Timeout: 20 * time.Millisecond})

	failN(t, b, 1)
	time.Sleep(40 * time.Millisecond)

	probeStarted := make(chan struct{})
	release := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = b.Execute(context.Background(), func(context.Context) error {
			close(probeStarted)
			<-release
			return nil
		})
	}()

	<-probeStarted

	// While the probe is in flight, other calls are rejected.
	err := b.Execute(context.Background(), func(context.Context) error { return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected rejection while probe in flight, got %v", err)
	}

	close(release)
	wg.Wait()

	if b.State() != StateHalfOpen {
		t.Errorf("one success below threshold should remain half-open, got %s", b.State())
	}

	// Second serial probe closes the circuit.
	if err := b.Execute(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Fatalf("second probe failed: %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("expected closed after success threshold, got %s", b.State())
	}
}

func TestBreaker_FallbackServedWhileOpen(t *testing.T) {
	b := newTestBreaker(Config{Name: "db", FailureThreshold: 1, Timeout: time.Minute})
	failN(t, b, 1)

	var fallbackRan bool
	err := b.ExecuteWithFallback(context.Background(),
		func(context.Context) error {
			t.Error("operation must not run while open")
			return nil
		},
		func(context.Context) error {
			fallbackRan = true
			return nil
		})
	if err != nil {
		t.Errorf("fallback result should be returned, got %v", err)
	}
	if !fallbackRan {
		t.Error("fallback did not run")
	}

	// Fallback failures propagate as-is.
	errFallback := errors.New("cache miss")
	err = b.ExecuteWithFallback(context.Background(),
		func(context.Context) error { return nil },
		func(context.Context) error { return errFallback })
	if !errors.Is(err, errFallback) {
		t.Errorf("expected fallback error, got %v", err)
	}
}

func TestBreaker_OperationErrorsNeverSwallowed(t *testing.T) {
	b := newTestBreaker(DefaultConfig("db"))
	err := b.Execute(context.Background(), func(context.Context) error { return errBoom })
	if !errors.Is(err, errBoom) {
		t.Errorf("expected operation error, got %v", err)
	}
}

func TestBreaker_ResetAndForceOpen(t *testing.T) {
	b := newTestBreaker(Config{Name: "db", FailureThreshold: 1, Timeout: time.Minute})

	b.ForceOpen()
	if b.State() != StateOpen {
		t.Fatalf("expected open after ForceOpen, got %s", b.State())
	}
	if err := b.Execute(context.Background(), func(context.Context) error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected rejection after ForceOpen, got %v", err)
	}

	b.Reset()
	if b.State() != StateClosed {
		t.Fatalf("expected closed after Reset, got %s", b.State())
	}
	if m := b.Metrics(); m.Failures != 0 || m.Successes != 0 {
		t.Errorf("expected counters zeroed, got %+v", m)
	}
}

func TestBreaker_MetricsSnapshot(t *testing.T) {
	b := newTestBreaker(Config{Name: "db", FailureThreshold: 10})

	failN(t, b, 2)
	_ = b.Execute(context.Background(), func(context.Context) error { return nil })

	m := b.Metrics()
	if m.TotalRequests != 3 {
		t.Errorf("expected 3 total requests, got %d", m.TotalRequests)
	}
	if m.TotalFailures != 2 {
		t.Errorf("expected 2 total failures, got %d", m.TotalFailures)
	}
	if m.TotalSuccesses != 1 {
		t.Errorf("expected 1 total success, got %d", m.TotalSuccesses)
	}
	if m.FailureRate < 0.6 || m.FailureRate > 0.7 {
		t.Errorf("expected failure rate ~0.66, got %f", m.FailureRate)
	}
	if m.LastFailureAt.IsZero() || m.LastSuccessAt.IsZero() {
		t.Error("expected last failure/success timestamps set")
	}
}

func TestBreaker_ListenerNotifications(t *testing.T) {
	b := newTestBreaker(Config{Name: "db", FailureThreshold: 1, Timeout: time.Minute})

	var mu sync.Mutex
	var transitions []string
	var failures, successes, fallbacks int

	b.AddListener(&recordingListener{
		onStateChange: func(name string, from, to State) {
			mu.Lock()
			transitions = append(transitions, from.String()+"->"+to.String())
			mu.Unlock()
		},
		onSuccess:  func() { mu.Lock(); successes++; mu.Unlock() },
		onFailure:  func() { mu.Lock(); failures++; mu.Unlock() },
		onFallback: func() { mu.Lock(); fallbacks++; mu.Unlock() },
	})

	_ = b.Execute(context.Background(), func(context.Context) error { return nil })
	failN(t, b, 1)
	_ = b.ExecuteWithFallback(context.Background(),
		func(context.Context) error { return nil },
		func(context.Context) error { return nil })

	mu.Lock()
	defer mu.Unlock()
	if successes != 1 || failures != 1 || fallbacks != 1 {
		t.Errorf("unexpected notification counts: s=%d f=%d fb=%d", successes, failures, fallbacks)
	}
	if len(transitions) != 1 || transitions[0] != "closed->open" {
		t.Errorf("unexpected transitions: %v", transitions)
	}
}

func TestBreaker_SweepDecaysStaleFailures(t *testing.T) {
	b := newTestBreaker(Config{
		Name:             "db",
		FailureThreshold: 5,
		MonitoringPeriod: 30 * time.Millisecond,
	})
	b.Start()
	defer b.Stop()

	failN(t, b, 2)

	deadline := time.After(500 * time.Millisecond)
	for {
		if b.Metrics().Failures == 0 {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("failures did not decay, still %d", b.Metrics().Failures)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

type recordingListener struct {
	onStateChange func(name string, from, to State)
	onSuccess     func()
	onFailure     func()
	onFallback    func()
}

func (r *recordingListener) OnStateChange(name string, from, to State) {
	r.onStateChange(name, from, to)
}
func (r *recordingListener) OnSuccess(string, time.Duration) { r.onSuccess() }
func (r *recordingListener) OnFailure(string, error)         { r.onFailure() }
func (r *recordingListener) OnFallback(string)               { r.onFallback() }
