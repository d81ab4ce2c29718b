package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"github.com/caskli/dbguard/logger"
)

// LimitError reports a denied check as an error, for callers that
// propagate denials instead of branching on Result.
type LimitError struct {
	// Key is the identifier whose budget was exhausted.
	Key string
	// RetryAfter is how long until the key's window resets.
	RetryAfter time.Duration
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %q (retry after %s)", e.Key, e.RetryAfter)
}

// Err converts a denied Result into a *LimitError, or nil when the
// request was allowed.
func (r Result) Err(key string) error {
	if r.Allowed {
		return nil
	}
	return &LimitError{Key: key, RetryAfter: r.RetryAfter}
}

// Result is the outcome of a limit check.
type Result struct {
	// Allowed reports whether the request may proceed.
	Allowed bool `json:"allowed"`
	// Remaining is how many requests are left in the current window.
	Remaining int `json:"remaining"`
	// RetryAfter is how long until the window resets. Zero when the
	// request was allowed.
	RetryAfter time.Duration `json:"retry_after,omitzero"`
}

// Config configures a rate limiter.
type Config struct {
	// Name identifies this limiter for metrics/logging.
	Name string
	// Window is the fixed window length.
	Window time.Duration
	// MaxRequests is the number of requests allowed per key per window.
	MaxRequests int
	// OnLimit is called when a request is denied.
	OnLimit func(name, key string)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(name string) Config {
	return Config{
		Name:        name,
		Window:      time.Minute,
		MaxRequests: 100,
	}
}

// window is the per-key counter state. Its limit is frozen at
// creation so adaptive adjustments never apply retroactively.
type window struct {
	start time.Time
	count int
	limit int
}

// Limiter is a fixed-window, per-key rate limiter. Key entries are
// created lazily on first request and evicted once stale. Safe for
// concurrent use.
type Limiter struct {
	config Config
	log    *logger.Logger

	mu        sync.Mutex
	windows   map[string]*window
	lastSweep time.Time
}

// New creates a new fixed-window limiter.
func New(config Config, log *logger.Logger) *Limiter {
	if config.Window <= 0 {
		config.Window = time.Minute
	}
	if config.MaxRequests <= 0 {
		config.MaxRequests = 100
	}

	return &Limiter{
		config:    config,
		log:       log.WithComponent("ratelimit").WithFields(map[string]interface{}{"limiter": config.Name}),
		windows:   make(map[string]*window),
		lastSweep: time.Now(),
	}
}

// Check records a request for key and reports whether it is allowed.
func (l *Limiter) Check(key string) Result {
	return l.checkWithLimit(key, l.config.MaxRequests)
}

// checkWithLimit applies the fixed-window algorithm with the given
// limit for newly opened windows.
func (l *Limiter) checkWithLimit(key string, limit int) Result {
	l.mu.Lock()

	now := time.Now()
	l.sweepLocked(now)

	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= l.config.Window {
		// First request of a fresh window always passes.
		l.windows[key] = &window{start: now, count: 1, limit: limit}
		l.mu.Unlock()
		return Result{Allowed: true, Remaining: maxInt(0, limit-1)}
	}

	w.count++
	if w.count <= w.limit {
		res := Result{Allowed: true, Remaining: maxInt(0, w.limit-w.count)}
		l.mu.Unlock()
		return res
	}

	retryAfter := w.start.Add(l.config.Window).Sub(now)
	l.mu.Unlock()

	if l.config.OnLimit != nil {
		l.config.OnLimit(l.config.Name, key)
	}
	l.log.Debug("request denied", logger.Fields("key", key, "retry_after_ms", retryAfter.Milliseconds()))

	return Result{Allowed: false, Remaining: 0, RetryAfter: retryAfter}
}

// Max returns the configured per-window limit.
func (l *Limiter) Max() int {
	return l.config.MaxRequests
}

// Keys returns the number of tracked key windows.
func (l *Limiter) Keys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// sweepLocked evicts windows stale for more than a full window beyond
// expiry, at most once per window interval. Caller holds the lock.
func (l *Limiter) sweepLocked(now time.Time) {
	if now.Sub(l.lastSweep) < l.config.Window {
		return
	}
	l.lastSweep = now
	for key, w := range l.windows {
		if now.Sub(w.start) >= 2*l.config.Window {
			delete(l.windows, key)
		}
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
