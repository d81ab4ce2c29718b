package config

import (
	"fmt"
	"time"

	"github.com/caskli/dbguard/admission"
	"github.com/caskli/dbguard/breaker"
	"github.com/caskli/dbguard/health"
	"github.com/caskli/dbguard/logger"
	"github.com/caskli/dbguard/ratelimit"
)

// Config is the top-level guard configuration. Zero values fall back
// to the component packages' defaults, so an empty file is valid.
type Config struct {
	Name        string        `yaml:"name" mapstructure:"name"`
	Environment string        `yaml:"environment" mapstructure:"environment"`
	Version     string        `yaml:"version" mapstructure:"version"`
	Debug       bool          `yaml:"debug" mapstructure:"debug"`
	Logging     logger.Config `yaml:"logging" mapstructure:"logging"`

	Breaker   BreakerSection   `yaml:"breaker" mapstructure:"breaker"`
	Queues    QueuesSection    `yaml:"queues" mapstructure:"queues"`
	RateLimit RateLimitSection `yaml:"rate_limit" mapstructure:"rate_limit"`
	Health    HealthSection    `yaml:"health" mapstructure:"health"`
}

// BreakerSection tunes the circuit breakers.
type BreakerSection struct {
	FailureThreshold int           `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold" mapstructure:"success_threshold"`
	Timeout          time.Duration `yaml:"timeout" mapstructure:"timeout"`
	MonitoringPeriod time.Duration `yaml:"monitoring_period" mapstructure:"monitoring_period"`
}

// QueueSection tunes one admission queue. Zero fields keep the
// class's built-in defaults.
type QueueSection struct {
	MaxConcurrent int           `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	MaxQueueSize  int           `yaml:"max_queue_size" mapstructure:"max_queue_size"`
	Timeout       time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// QueuesSection tunes the per-class admission queues.
type QueuesSection struct {
	Read     QueueSection `yaml:"read" mapstructure:"read"`
	Write    QueueSection `yaml:"write" mapstructure:"write"`
	Batch    QueueSection `yaml:"batch" mapstructure:"batch"`
	Critical QueueSection `yaml:"critical" mapstructure:"critical"`
}

// RedisSection configures the optional shared rate limit store.
type RedisSection struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
	Prefix   string `yaml:"prefix" mapstructure:"prefix"`
}

// RateLimitSection tunes the request rate limiter.
type RateLimitSection struct {
	Window      time.Duration `yaml:"window" mapstructure:"window"`
	MaxRequests int           `yaml:"max_requests" mapstructure:"max_requests"`

	Adaptive              bool          `yaml:"adaptive" mapstructure:"adaptive"`
	MinRequests           int           `yaml:"min_requests" mapstructure:"min_requests"`
	UsageThreshold        float64       `yaml:"usage_threshold" mapstructure:"usage_threshold"`
	ResponseTimeThreshold time.Duration `yaml:"response_time_threshold" mapstructure:"response_time_threshold"`
	ErrorRateThreshold    float64       `yaml:"error_rate_threshold" mapstructure:"error_rate_threshold"`
	Smoothing             float64       `yaml:"smoothing" mapstructure:"smoothing"`

	Redis RedisSection `yaml:"redis" mapstructure:"redis"`
}

// HealthSection tunes the health aggregator.
type HealthSection struct {
	CacheTTL                   time.Duration `yaml:"cache_ttl" mapstructure:"cache_ttl"`
	CheckTimeout               time.Duration `yaml:"check_timeout" mapstructure:"check_timeout"`
	DependencyLatencyThreshold time.Duration `yaml:"dependency_latency_threshold" mapstructure:"dependency_latency_threshold"`
	CacheLatencyThreshold      time.Duration `yaml:"cache_latency_threshold" mapstructure:"cache_latency_threshold"`
	QueueBacklogThreshold      int           `yaml:"queue_backlog_threshold" mapstructure:"queue_backlog_threshold"`
}

// ApplyDefaults fills in default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Name == "" {
		c.Name = "dbguard"
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.Environment == "development" {
		c.Debug = true
	}
	c.Logging.ApplyDefaults()
	if c.Debug && c.Logging.Level == "info" {
		c.Logging.Level = "debug"
	}
}

// Validate checks the configuration for values the components would
// reject. Zero values are allowed since they mean "use the default".
func (c *Config) Validate() error {
	validEnvs := []string{"development", "staging", "production"}
	found := false
	for _, v := range validEnvs {
		if c.Environment == v {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("environment must be one of [development, staging, production] (got: %s)", c.Environment)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if c.Breaker.FailureThreshold < 0 || c.Breaker.SuccessThreshold < 0 {
		return fmt.Errorf("breaker thresholds must not be negative")
	}
	if c.RateLimit.UsageThreshold < 0 || c.RateLimit.UsageThreshold > 1 {
		return fmt.Errorf("rate_limit.usage_threshold must be within [0, 1] (got: %v)", c.RateLimit.UsageThreshold)
	}
	if c.RateLimit.ErrorRateThreshold < 0 || c.RateLimit.ErrorRateThreshold > 1 {
		return fmt.Errorf("rate_limit.error_rate_threshold must be within [0, 1] (got: %v)", c.RateLimit.ErrorRateThreshold)
	}
	if c.RateLimit.Smoothing < 0 || c.RateLimit.Smoothing > 1 {
		return fmt.Errorf("rate_limit.smoothing must be within [0, 1] (got: %v)", c.RateLimit.Smoothing)
	}
	if c.RateLimit.Redis.Enabled && c.RateLimit.Redis.Addr == "" {
		return fmt.Errorf("rate_limit.redis.addr is required when redis is enabled")
	}
	return nil
}

// BreakerConfig builds a breaker config for the named dependency.
func (c *Config) BreakerConfig(name string) breaker.Config {
	out := breaker.DefaultConfig(name)
	if c.Breaker.FailureThreshold > 0 {
		out.FailureThreshold = c.Breaker.FailureThreshold
	}
	if c.Breaker.SuccessThreshold > 0 {
		out.SuccessThreshold = c.Breaker.SuccessThreshold
	}
	if c.Breaker.Timeout > 0 {
		out.Timeout = c.Breaker.Timeout
	}
	if c.Breaker.MonitoringPeriod > 0 {
		out.MonitoringPeriod = c.Breaker.MonitoringPeriod
	}
	return out
}

// ClassConfigs builds the per-class admission queue configs, starting
// from the built-in class defaults and overlaying any tuned fields.
func (c *Config) ClassConfigs() map[admission.Class]admission.Config {
	out := admission.DefaultClassConfigs()
	overlay := map[admission.Class]QueueSection{
		admission.ClassRead:     c.Queues.Read,
		admission.ClassWrite:    c.Queues.Write,
		admission.ClassBatch:    c.Queues.Batch,
		admission.ClassCritical: c.Queues.Critical,
	}
	for class, section := range overlay {
		cfg := out[class]
		if section.MaxConcurrent > 0 {
			cfg.MaxConcurrent = section.MaxConcurrent
		}
		if section.MaxQueueSize > 0 {
			cfg.MaxQueueSize = section.MaxQueueSize
		}
		if section.Timeout > 0 {
			cfg.Timeout = section.Timeout
		}
		out[class] = cfg
	}
	return out
}

// LimiterConfig builds a fixed-window limiter config.
func (c *Config) LimiterConfig(name string) ratelimit.Config {
	out := ratelimit.DefaultConfig(name)
	if c.RateLimit.Window > 0 {
		out.Window = c.RateLimit.Window
	}
	if c.RateLimit.MaxRequests > 0 {
		out.MaxRequests = c.RateLimit.MaxRequests
	}
	return out
}

// AdaptiveConfig builds an adaptive limiter config.
func (c *Config) AdaptiveConfig(name string) ratelimit.AdaptiveConfig {
	out := ratelimit.DefaultAdaptiveConfig(name)
	out.Config = c.LimiterConfig(name)
	if c.RateLimit.MinRequests > 0 {
		out.MinRequests = c.RateLimit.MinRequests
	}
	if c.RateLimit.UsageThreshold > 0 {
		out.UsageThreshold = c.RateLimit.UsageThreshold
	}
	if c.RateLimit.ResponseTimeThreshold > 0 {
		out.ResponseTimeThreshold = c.RateLimit.ResponseTimeThreshold
	}
	if c.RateLimit.ErrorRateThreshold > 0 {
		out.ErrorRateThreshold = c.RateLimit.ErrorRateThreshold
	}
	if c.RateLimit.Smoothing > 0 {
		out.Smoothing = c.RateLimit.Smoothing
	}
	return out
}

// HealthConfig builds the health aggregator config.
func (c *Config) HealthConfig() health.Config {
	out := health.DefaultConfig()
	if c.Health.CacheTTL > 0 {
		out.CacheTTL = c.Health.CacheTTL
	}
	if c.Health.CheckTimeout > 0 {
		out.CheckTimeout = c.Health.CheckTimeout
	}
	if c.Health.DependencyLatencyThreshold > 0 {
		out.DependencyLatencyThreshold = c.Health.DependencyLatencyThreshold
	}
	if c.Health.CacheLatencyThreshold > 0 {
		out.CacheLatencyThreshold = c.Health.CacheLatencyThreshold
	}
	if c.Health.QueueBacklogThreshold > 0 {
		out.QueueBacklogThreshold = c.Health.QueueBacklogThreshold
	}
	return out
}
