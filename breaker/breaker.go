package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/caskli/dbguard/logger"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed allows requests to pass through.
	StateClosed State = iota
	// StateOpen blocks all requests until the retry deadline.
	StateOpen
	// StateHalfOpen admits a single probe to test recovery.
	StateHalfOpen
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when the circuit rejects a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// OpenError carries the breaker's identity and a metrics snapshot at
// the moment of rejection. It wraps ErrCircuitOpen.
type OpenError struct {
	// Name identifies the breaker that rejected the call.
	Name string
	// RetryAfter is how long until the breaker will admit a probe.
	RetryAfter time.Duration
	// Metrics is the breaker snapshot at rejection time.
	Metrics Metrics
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker %q is open (retry after %s)", e.Name, e.RetryAfter)
}

func (e *OpenError) Unwrap() error { return ErrCircuitOpen }

// Config configures a circuit breaker.
type Config struct {
	// Name identifies this breaker for metrics/logging.
	Name string
	// FailureThreshold is the number of failures before opening.
	FailureThreshold int
	// SuccessThreshold is the number of half-open successes before closing.
	SuccessThreshold int
	// Timeout is how long the breaker stays open before admitting a probe.
	Timeout time.Duration
	// MonitoringPeriod is the window after which stale failures decay.
	MonitoringPeriod time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
		MonitoringPeriod: time.Minute,
	}
}

// Metrics is a point-in-time snapshot of a breaker. Pure read, no
// side effects.
type Metrics struct {
	Name           string        `json:"name"`
	State          State         `json:"-"`
	StateName      string        `json:"state"`
	Failures       int           `json:"failures"`
	Successes      int           `json:"successes"`
	TotalRequests  uint64        `json:"total_requests"`
	TotalFailures  uint64        `json:"total_failures"`
	TotalSuccesses uint64        `json:"total_successes"`
	FailureRate    float64       `json:"failure_rate"`
	Uptime         time.Duration `json:"uptime"`
	LastFailureAt  time.Time     `json:"last_failure_at,omitzero"`
	LastSuccessAt  time.Time     `json:"last_success_at,omitzero"`
	NextAttemptAt  time.Time     `json:"next_attempt_at,omitzero"`
}

// Breaker implements the circuit breaker pattern around a single
// dependency. All state is guarded by a mutex; it is safe for
// concurrent use.
type Breaker struct {
	config Config
	log    *logger.Logger

	mu            sync.Mutex
	state         State
	failures      int
	successes     int
	probeInFlight bool
	nextAttempt   time.Time
	totalRequests uint64
	totalFailures uint64
	totalSuccess  uint64
	lastFailure   time.Time
	lastSuccess   time.Time
	startedAt     time.Time
	listeners     []Listener

	stopOnce sync.Once
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New creates a new circuit breaker. Call Start to begin the
// background decay sweep and Stop to release it.
func New(config Config, log *logger.Logger) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 2
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MonitoringPeriod <= 0 {
		config.MonitoringPeriod = time.Minute
	}

	return &Breaker{
		config:    config,
		log:       log.WithComponent("breaker").WithFields(map[string]interface{}{"breaker": config.Name}),
		state:     StateClosed,
		startedAt: time.Now(),
		stopChan:  make(chan struct{}),
	}
}

// Name returns the breaker's configured name.
func (b *Breaker) Name() string { return b.config.Name }

// AddListener registers an observer for breaker events. Listeners are
// invoked synchronously with internal state held and must not call
// back into the breaker.
func (b *Breaker) AddListener(l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, l)
}

// Execute runs op through the breaker. If the circuit is open it
// returns *OpenError without invoking op.
func (b *Breaker) Execute(ctx context.Context, op func(context.Context) error) error {
	return b.ExecuteWithFallback(ctx, op, nil)
}

// ExecuteWithFallback runs op through the breaker. When the circuit is
// open and fallback is non-nil, fallback runs instead and its outcome
// is returned as-is; the breaker does not retry or record it.
func (b *Breaker) ExecuteWithFallback(ctx context.Context, op, fallback func(context.Context) error) error {
	if openErr := b.allowRequest(); openErr != nil {
		if fallback != nil {
			b.notifyFallback()
			return fallback(ctx)
		}
		return openErr
	}

	start := time.Now()
	err := op(ctx)
	if err != nil {
		b.recordFailure(err)
		return err
	}
	b.recordSuccess(time.Since(start))
	return nil
}

// Do runs a result-returning operation through the breaker.
func Do[T any](b *Breaker, ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	var result T
	err := b.Execute(ctx, func(ctx context.Context) error {
		var fnErr error
		result, fnErr = fn(ctx)
		return fnErr
	})
	return result, err
}

// State returns the current state. The open to half-open transition
// happens on the next Execute after the deadline, not here, so an
// idle open breaker keeps reporting open.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Metrics returns a point-in-time snapshot.
func (b *Breaker) Metrics() Metrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

// Reset forces the breaker to closed and zeroes all counters.
// Operational override.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.toState(StateClosed)
	b.failures = 0
	b.successes = 0
	b.probeInFlight = false
}

// ForceOpen trips the breaker regardless of the failure count.
// Operational override; the usual timeout applies before probes.
func (b *Breaker) ForceOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextAttempt = time.Now().Add(b.config.Timeout)
	b.toState(StateOpen)
}

// Start launches the background decay sweep.
func (b *Breaker) Start() {
	b.wg.Add(1)
	go b.sweepLoop()
}

// Stop terminates the background sweep. Safe to call more than once.
func (b *Breaker) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopChan)
	})
	b.wg.Wait()
}

// allowRequest decides admission, returning a rejection error or nil.
func (b *Breaker) allowRequest() *OpenError {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalRequests++

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		now := time.Now()
		if now.Before(b.nextAttempt) {
			return b.openErrorLocked(b.nextAttempt.Sub(now))
		}
		// Deadline elapsed: this call becomes the recovery probe.
		b.toState(StateHalfOpen)
		b.probeInFlight = true
		return nil
	case StateHalfOpen:
		if b.probeInFlight {
			return b.openErrorLocked(0)
		}
		b.probeInFlight = true
		return nil
	default:
		return b.openErrorLocked(0)
	}
}

func (b *Breaker) recordSuccess(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalSuccess++
	b.lastSuccess = time.Now()
	b.successes++

	switch b.state {
	case StateHalfOpen:
		b.probeInFlight = false
		if b.successes >= b.config.SuccessThreshold {
			b.failures = 0
			b.successes = 0
			b.toState(StateClosed)
		}
	case StateClosed:
		// A success pays down one failure so transient blips decay.
		if b.failures > 0 {
			b.failures--
		}
	}

	for _, l := range b.listeners {
		l.OnSuccess(b.config.Name, d)
	}
}

func (b *Breaker) recordFailure(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalFailures++
	b.failures++
	b.lastFailure = time.Now()

	switch b.state {
	case StateHalfOpen:
		b.probeInFlight = false
		b.nextAttempt = time.Now().Add(b.config.Timeout)
		b.toState(StateOpen)
	case StateClosed:
		if b.failures >= b.config.FailureThreshold {
			b.nextAttempt = time.Now().Add(b.config.Timeout)
			b.toState(StateOpen)
		}
	}

	for _, l := range b.listeners {
		l.OnFailure(b.config.Name, err)
	}
}

func (b *Breaker) notifyFallback() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.log.Debug("serving fallback while circuit is open")
	for _, l := range b.listeners {
		l.OnFallback(b.config.Name)
	}
}

// toState transitions to a new state. Caller holds the lock.
func (b *Breaker) toState(to State) {
	if b.state == to {
		return
	}

	from := b.state
	b.state = to

	switch to {
	case StateHalfOpen, StateOpen:
		b.successes = 0
		b.probeInFlight = false
	}

	b.log.Info("state changed", logger.Fields("from", from.String(), "to", to.String(), "failures", b.failures))

	for _, l := range b.listeners {
		l.OnStateChange(b.config.Name, from, to)
	}
}

func (b *Breaker) openErrorLocked(retryAfter time.Duration) *OpenError {
	return &OpenError{
		Name:       b.config.Name,
		RetryAfter: retryAfter,
		Metrics:    b.snapshotLocked(),
	}
}

func (b *Breaker) snapshotLocked() Metrics {
	var rate float64
	if b.totalRequests > 0 {
		rate = float64(b.totalFailures) / float64(b.totalRequests)
	}
	return Metrics{
		Name:           b.config.Name,
		State:          b.state,
		StateName:      b.state.String(),
		Failures:       b.failures,
		Successes:      b.successes,
		TotalRequests:  b.totalRequests,
		TotalFailures:  b.totalFailures,
		TotalSuccesses: b.totalSuccess,
		FailureRate:    rate,
		Uptime:         time.Since(b.startedAt),
		LastFailureAt:  b.lastFailure,
		LastSuccessAt:  b.lastSuccess,
		NextAttemptAt:  b.nextAttempt,
	}
}

// sweepLoop decays stale failure counts so a breaker that saw a burst
// of failures long ago does not trip on the next single error, and
// caps success accumulation while closed.
func (b *Breaker) sweepLoop() {
	defer b.wg.Done()

	interval := b.config.MonitoringPeriod / 10
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.sweep()
		case <-b.stopChan:
			return
		}
	}
}

func (b *Breaker) sweep() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failures > 0 && !b.lastFailure.IsZero() && time.Since(b.lastFailure) > b.config.MonitoringPeriod {
		b.failures--
	}
	if b.state == StateClosed {
		b.successes = 0
	}
}
