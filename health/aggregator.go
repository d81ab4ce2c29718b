package health

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/caskli/dbguard/admission"
	"github.com/caskli/dbguard/breaker"
	"github.com/caskli/dbguard/logger"
)

// Config configures the aggregator.
type Config struct {
	// CacheTTL is how long a computed report is served from cache.
	CacheTTL time.Duration
	// CheckTimeout bounds each individual check.
	CheckTimeout time.Duration
	// DependencyLatencyThreshold degrades the dependency component
	// when its ping is slower than this.
	DependencyLatencyThreshold time.Duration
	// CacheLatencyThreshold degrades the cache component when its
	// ping is slower than this.
	CacheLatencyThreshold time.Duration
	// QueueBacklogThreshold degrades the queues component when any
	// class holds more waiting items than this.
	QueueBacklogThreshold int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		CacheTTL:                   5 * time.Second,
		CheckTimeout:               2 * time.Second,
		DependencyLatencyThreshold: 500 * time.Millisecond,
		CacheLatencyThreshold:      100 * time.Millisecond,
		QueueBacklogThreshold:      40,
	}
}

// BreakerStatus is the view of a circuit breaker the aggregator needs.
// *breaker.Breaker satisfies it.
type BreakerStatus interface {
	Name() string
	State() breaker.State
	Metrics() breaker.Metrics
}

// QueueSet is the view of the admission queues the aggregator needs.
// *admission.ClassSet satisfies it.
type QueueSet interface {
	Stats() map[admission.Class]admission.Stats
	Healthy() bool
}

// Aggregator polls breaker and queue state, probes the dependency and
// cache, and produces cached, severity-ranked reports.
type Aggregator struct {
	config Config
	log    *logger.Logger

	mu            sync.Mutex
	dependency    Pinger
	cache         Pinger
	breakers      []BreakerStatus
	queues        QueueSet
	extra         map[string]Checker
	cached        *Report
	cachedAt      time.Time
	degradedSince time.Time
	startedAt     time.Time
}

// New creates an aggregator. Register collaborators with the Set/Add
// methods before the first Report call.
func New(config Config, log *logger.Logger) *Aggregator {
	defaults := DefaultConfig()
	if config.CacheTTL <= 0 {
		config.CacheTTL = defaults.CacheTTL
	}
	if config.CheckTimeout <= 0 {
		config.CheckTimeout = defaults.CheckTimeout
	}
	if config.DependencyLatencyThreshold <= 0 {
		config.DependencyLatencyThreshold = defaults.DependencyLatencyThreshold
	}
	if config.CacheLatencyThreshold <= 0 {
		config.CacheLatencyThreshold = defaults.CacheLatencyThreshold
	}
	if config.QueueBacklogThreshold <= 0 {
		config.QueueBacklogThreshold = defaults.QueueBacklogThreshold
	}

	return &Aggregator{
		config:    config,
		log:       log.WithComponent("health"),
		extra:     make(map[string]Checker),
		startedAt: time.Now(),
	}
}

// SetDependency registers the guarded dependency's probe.
func (a *Aggregator) SetDependency(p Pinger) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dependency = p
}

// SetCache registers the cache's probe.
func (a *Aggregator) SetCache(p Pinger) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cache = p
}

// AddBreaker registers a circuit breaker to watch.
func (a *Aggregator) AddBreaker(b BreakerStatus) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.breakers = append(a.breakers, b)
}

// SetQueues registers the admission queues to watch.
func (a *Aggregator) SetQueues(qs QueueSet) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.queues = qs
}

// AddCheck registers an additional named check, for external services
// beyond the built-in collaborators.
func (a *Aggregator) AddCheck(name string, fn Checker) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.extra[name] = fn
}

// Invalidate drops the cached report. Operational override.
func (a *Aggregator) Invalidate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cached = nil
}

// Report returns the aggregated health view, from cache when fresh.
// It never returns an error: total internal failure yields a critical
// best-effort report.
func (a *Aggregator) Report(ctx context.Context) (report *Report) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			a.log.Error("health aggregation panicked", logger.Fields("panic", fmt.Sprint(r)))
			report = &Report{
				Overall: StatusCritical,
				Alerts: []Alert{{
					Severity:  StatusCritical,
					Component: "aggregator",
					Message:   fmt.Sprintf("health aggregation failed: %v", r),
					At:        time.Now(),
				}},
				Degradation: &Degradation{
					Active:     true,
					Reason:     "health aggregation failed internally",
					Components: []string{"aggregator"},
					Since:      time.Now(),
				},
				GeneratedAt:  time.Now(),
				ResponseTime: time.Since(start),
			}
		}
	}()

	a.mu.Lock()
	if a.cached != nil && time.Since(a.cachedAt) < a.config.CacheTTL {
		cached := *a.cached
		a.mu.Unlock()
		cached.Cached = true
		cached.GeneratedAt = time.Now()
		cached.ResponseTime = time.Since(start)
		return &cached
	}
	dependency := a.dependency
	cache := a.cache
	breakers := append([]BreakerStatus(nil), a.breakers...)
	queues := a.queues
	extra := make(map[string]Checker, len(a.extra))
	for name, fn := range a.extra {
		extra[name] = fn
	}
	a.mu.Unlock()

	components := a.runChecks(ctx, dependency, cache, breakers, queues, extra)

	overall := StatusHealthy
	var alerts []Alert
	var offenders []string
	for _, c := range components {
		overall = Worse(overall, c.Status)
		if c.Status != StatusHealthy {
			alerts = append(alerts, Alert{
				Severity:  c.Status,
				Component: c.Name,
				Message:   c.Message,
				At:        c.CheckedAt,
			})
			offenders = append(offenders, c.Name)
		}
	}

	rep := &Report{
		Overall:      overall,
		Components:   components,
		Alerts:       alerts,
		GeneratedAt:  time.Now(),
		ResponseTime: time.Since(start),
	}

	a.mu.Lock()
	if overall != StatusHealthy {
		if a.degradedSince.IsZero() {
			a.degradedSince = time.Now()
		}
		rep.Degradation = &Degradation{
			Active:     true,
			Reason:     "degraded components: " + strings.Join(offenders, ", "),
			Components: offenders,
			Since:      a.degradedSince,
		}
	} else {
		a.degradedSince = time.Time{}
	}
	a.cached = rep
	a.cachedAt = time.Now()
	a.mu.Unlock()

	if overall != StatusHealthy {
		a.log.Warn("health degraded", logger.Fields("overall", string(overall), "components", strings.Join(offenders, ",")))
	}

	return rep
}

// SimpleCheck returns cheap booleans for dependency, cache, and
// process liveness, for high-frequency polling.
func (a *Aggregator) SimpleCheck(ctx context.Context) SimpleStatus {
	a.mu.Lock()
	dependency := a.dependency
	cache := a.cache
	a.mu.Unlock()

	checks := map[string]bool{
		"process":  true,
		"database": a.quickPing(ctx, dependency),
		"cache":    a.quickPing(ctx, cache),
	}

	status := "healthy"
	for _, ok := range checks {
		if !ok {
			status = "unhealthy"
			break
		}
	}
	return SimpleStatus{Status: status, Checks: checks}
}

func (a *Aggregator) quickPing(ctx context.Context, p Pinger) bool {
	if p == nil {
		// Nothing registered: treat as healthy rather than failing
		// liveness for a collaborator that does not exist.
		return true
	}
	ctx, cancel := context.WithTimeout(ctx, a.config.CheckTimeout)
	defer cancel()
	return p.Ping(ctx) == nil
}

// runChecks runs every check concurrently, each with its own timeout.
func (a *Aggregator) runChecks(ctx context.Context, dependency, cache Pinger, breakers []BreakerStatus, queues QueueSet, extra map[string]Checker) []ComponentHealth {
	type namedCheck struct {
		name string
		fn   Checker
	}

	checks := []namedCheck{
		{"process", a.checkProcess},
	}
	if dependency != nil {
		checks = append(checks, namedCheck{"database", a.pingCheck("database", dependency, a.config.DependencyLatencyThreshold)})
	}
	if cache != nil {
		checks = append(checks, namedCheck{"cache", a.pingCheck("cache", cache, a.config.CacheLatencyThreshold)})
	}
	for _, b := range breakers {
		b := b
		checks = append(checks, namedCheck{"breaker:" + b.Name(), func(ctx context.Context) ComponentHealth {
			return a.checkBreaker(b)
		}})
	}
	if queues != nil {
		checks = append(checks, namedCheck{"queues", func(ctx context.Context) ComponentHealth {
			return a.checkQueues(queues)
		}})
	}
	for name, fn := range extra {
		checks = append(checks, namedCheck{name, fn})
	}

	results := make([]ComponentHealth, len(checks))
	var wg sync.WaitGroup
	for i, c := range checks {
		i, c := i, c
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = a.runOne(ctx, c.name, c.fn)
		}()
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })
	return results
}

// runOne bounds a single check with the configured timeout and turns
// panics and timeouts into synthetic unhealthy components.
func (a *Aggregator) runOne(ctx context.Context, name string, fn Checker) ComponentHealth {
	ctx, cancel := context.WithTimeout(ctx, a.config.CheckTimeout)
	defer cancel()

	resCh := make(chan ComponentHealth, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resCh <- ComponentHealth{
					Name:      name,
					Status:    StatusUnhealthy,
					Message:   fmt.Sprintf("health check panicked: %v", r),
					CheckedAt: time.Now(),
				}
			}
		}()
		resCh <- fn(ctx)
	}()

	select {
	case ch := <-resCh:
		return ch
	case <-ctx.Done():
		return ComponentHealth{
			Name:      name,
			Status:    StatusUnhealthy,
			Message:   "health check timed out",
			CheckedAt: time.Now(),
		}
	}
}

func (a *Aggregator) checkProcess(ctx context.Context) ComponentHealth {
	return ComponentHealth{
		Name:      "process",
		Status:    StatusHealthy,
		Message:   "process responsive",
		CheckedAt: time.Now(),
		Details: map[string]any{
			"goroutines": runtime.NumGoroutine(),
			"uptime":     time.Since(a.startedAt).String(),
		},
	}
}

func (a *Aggregator) pingCheck(name string, p Pinger, latencyThreshold time.Duration) Checker {
	return func(ctx context.Context) ComponentHealth {
		start := time.Now()
		err := p.Ping(ctx)
		elapsed := time.Since(start)

		ch := ComponentHealth{
			Name:         name,
			ResponseTime: elapsed,
			CheckedAt:    time.Now(),
			Details:      map[string]any{"latency_ms": elapsed.Milliseconds()},
		}
		switch {
		case err != nil:
			ch.Status = StatusUnhealthy
			ch.Message = fmt.Sprintf("%s unreachable: %v", name, err)
		case elapsed > latencyThreshold:
			ch.Status = StatusDegraded
			ch.Message = fmt.Sprintf("%s slow: %s (threshold %s)", name, elapsed, latencyThreshold)
		default:
			ch.Status = StatusHealthy
			ch.Message = name + " responsive"
		}
		return ch
	}
}

// checkBreaker maps breaker state to component health: open is
// unhealthy, half-open is degraded.
func (a *Aggregator) checkBreaker(b BreakerStatus) ComponentHealth {
	m := b.Metrics()
	ch := ComponentHealth{
		Name:      "breaker:" + b.Name(),
		CheckedAt: time.Now(),
		Details: map[string]any{
			"state":          m.StateName,
			"failures":       m.Failures,
			"total_requests": m.TotalRequests,
			"failure_rate":   m.FailureRate,
		},
	}
	switch m.State {
	case breaker.StateOpen:
		ch.Status = StatusUnhealthy
		ch.Message = fmt.Sprintf("circuit breaker %q is open", b.Name())
	case breaker.StateHalfOpen:
		ch.Status = StatusDegraded
		ch.Message = fmt.Sprintf("circuit breaker %q is probing recovery", b.Name())
	default:
		ch.Status = StatusHealthy
		ch.Message = fmt.Sprintf("circuit breaker %q is closed", b.Name())
	}
	return ch
}

func (a *Aggregator) checkQueues(qs QueueSet) ComponentHealth {
	stats := qs.Stats()

	var backlogged []string
	details := make(map[string]any, len(stats))
	for class, s := range stats {
		details[string(class)] = map[string]any{
			"queued":    s.Queued,
			"active":    s.Active,
			"processed": s.Processed,
			"failed":    s.Failed,
		}
		if s.Queued > a.config.QueueBacklogThreshold {
			backlogged = append(backlogged, string(class))
		}
	}

	ch := ComponentHealth{
		Name:      "queues",
		CheckedAt: time.Now(),
		Details:   details,
	}
	switch {
	case len(backlogged) > 0:
		sort.Strings(backlogged)
		ch.Status = StatusDegraded
		ch.Message = "queue backlog over threshold: " + strings.Join(backlogged, ", ")
	case !qs.Healthy():
		ch.Status = StatusDegraded
		ch.Message = "admission queues under pressure"
	default:
		ch.Status = StatusHealthy
		ch.Message = "admission queues within bounds"
	}
	return ch
}
