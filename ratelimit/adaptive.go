package ratelimit

import (
	"sync"
	"time"

	"github.com/caskli/dbguard/logger"
)

// Signals are live load measurements supplied by the caller. The
// limiter attaches no meaning to where they come from.
type Signals struct {
	// ConnectionUsage is the fraction of the dependency's connection
	// budget in use, 0..1.
	ConnectionUsage float64
	// ResponseTime is the dependency's recent response latency.
	ResponseTime time.Duration
	// ErrorRate is the recent fraction of failing requests, 0..1.
	ErrorRate float64
}

// AdaptiveConfig configures an adaptive limiter.
type AdaptiveConfig struct {
	Config

	// MinRequests is the floor the effective limit never drops below.
	MinRequests int
	// UsageThreshold is the smoothed connection usage above which the
	// limit shrinks.
	UsageThreshold float64
	// ResponseTimeThreshold is the smoothed latency above which the
	// limit shrinks.
	ResponseTimeThreshold time.Duration
	// ErrorRateThreshold is the smoothed error rate above which the
	// limit shrinks.
	ErrorRateThreshold float64
	// Smoothing is the EMA coefficient applied to incoming signals,
	// 0 < alpha <= 1. Higher reacts faster.
	Smoothing float64
}

// DefaultAdaptiveConfig returns sensible defaults.
func DefaultAdaptiveConfig(name string) AdaptiveConfig {
	return AdaptiveConfig{
		Config:                DefaultConfig(name),
		MinRequests:           10,
		UsageThreshold:        0.8,
		ResponseTimeThreshold: 500 * time.Millisecond,
		ErrorRateThreshold:    0.1,
		Smoothing:             0.3,
	}
}

// AdaptiveLimiter is a fixed-window limiter whose effective limit
// tracks dependency load. Raw signals are folded into an exponential
// moving average before thresholding, and the limit moves one step
// per Adjust call (20% down, 10% of baseline up), so noisy signals do
// not make it oscillate. Windows already in progress keep the limit
// they opened with.
type AdaptiveLimiter struct {
	config AdaptiveConfig
	base   *Limiter
	log    *logger.Logger

	mu         sync.Mutex
	primed     bool
	avgUsage   float64
	avgLatency float64 // milliseconds
	avgErrors  float64
	currentMax int
}

// NewAdaptive creates an adaptive fixed-window limiter.
func NewAdaptive(config AdaptiveConfig, log *logger.Logger) *AdaptiveLimiter {
	if config.Window <= 0 {
		config.Window = time.Minute
	}
	if config.MaxRequests <= 0 {
		config.MaxRequests = 100
	}
	if config.MinRequests <= 0 || config.MinRequests > config.MaxRequests {
		config.MinRequests = maxInt(1, config.MaxRequests/10)
	}
	if config.UsageThreshold <= 0 {
		config.UsageThreshold = 0.8
	}
	if config.ResponseTimeThreshold <= 0 {
		config.ResponseTimeThreshold = 500 * time.Millisecond
	}
	if config.ErrorRateThreshold <= 0 {
		config.ErrorRateThreshold = 0.1
	}
	if config.Smoothing <= 0 || config.Smoothing > 1 {
		config.Smoothing = 0.3
	}

	return &AdaptiveLimiter{
		config:     config,
		base:       New(config.Config, log),
		log:        log.WithComponent("ratelimit").WithFields(map[string]interface{}{"limiter": config.Name}),
		currentMax: config.MaxRequests,
	}
}

// Check records a request for key against the current effective limit.
func (a *AdaptiveLimiter) Check(key string) Result {
	return a.base.checkWithLimit(key, a.CurrentMax())
}

// CurrentMax returns the effective per-window limit.
func (a *AdaptiveLimiter) CurrentMax() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentMax
}

// Adjust feeds a load sample into the limiter and recomputes the
// effective limit.
func (a *AdaptiveLimiter) Adjust(s Signals) {
	a.mu.Lock()
	defer a.mu.Unlock()

	alpha := a.config.Smoothing
	latencyMs := float64(s.ResponseTime.Milliseconds())
	if !a.primed {
		a.primed = true
		a.avgUsage = s.ConnectionUsage
		a.avgLatency = latencyMs
		a.avgErrors = s.ErrorRate
	} else {
		a.avgUsage = alpha*s.ConnectionUsage + (1-alpha)*a.avgUsage
		a.avgLatency = alpha*latencyMs + (1-alpha)*a.avgLatency
		a.avgErrors = alpha*s.ErrorRate + (1-alpha)*a.avgErrors
	}

	stressed := a.avgUsage > a.config.UsageThreshold ||
		a.avgLatency > float64(a.config.ResponseTimeThreshold.Milliseconds()) ||
		a.avgErrors > a.config.ErrorRateThreshold

	before := a.currentMax
	if stressed {
		a.currentMax = maxInt(a.config.MinRequests, a.currentMax*8/10)
	} else if a.currentMax < a.config.MaxRequests {
		step := maxInt(1, a.config.MaxRequests/10)
		a.currentMax = minInt(a.config.MaxRequests, a.currentMax+step)
	}

	if a.currentMax != before {
		a.log.Info("adjusted effective limit", logger.Fields(
			"from", before,
			"to", a.currentMax,
			"usage", a.avgUsage,
			"latency_ms", a.avgLatency,
			"error_rate", a.avgErrors,
		))
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
