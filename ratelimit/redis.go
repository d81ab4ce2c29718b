package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/caskli/dbguard/logger"
)

// RedisLimiter is a fixed-window limiter whose per-key windows live in
// Redis, so replicas of the caller share one budget per key. Semantics
// match Limiter: INCR within the window, window TTL set when the key
// is first seen.
type RedisLimiter struct {
	config Config
	rdb    *redis.Client
	log    *logger.Logger
	prefix string
}

// RedisOption customizes a RedisLimiter.
type RedisOption func(*RedisLimiter)

// WithPrefix overrides the key prefix (default "dbguard:ratelimit").
func WithPrefix(prefix string) RedisOption {
	return func(r *RedisLimiter) { r.prefix = strings.Trim(prefix, ":") }
}

// NewRedis creates a Redis-backed fixed-window limiter.
func NewRedis(rdb *redis.Client, config Config, log *logger.Logger, opts ...RedisOption) *RedisLimiter {
	if config.Window <= 0 {
		config.Window = time.Minute
	}
	if config.MaxRequests <= 0 {
		config.MaxRequests = 100
	}

	r := &RedisLimiter{
		config: config,
		rdb:    rdb,
		log:    log.WithComponent("ratelimit").WithFields(map[string]interface{}{"limiter": config.Name, "store": "redis"}),
		prefix: "dbguard:ratelimit",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Check records a request for key and reports whether it is allowed.
// A Redis failure is returned to the caller; this limiter does not
// decide fail-open versus fail-closed on the caller's behalf.
func (r *RedisLimiter) Check(ctx context.Context, key string) (Result, error) {
	k := r.prefix + ":" + key

	pipe := r.rdb.TxPipeline()
	incr := pipe.Incr(ctx, k)
	ttlCmd := pipe.PTTL(ctx, k)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, fmt.Errorf("ratelimit redis check: %w", err)
	}

	count := incr.Val()
	ttl := ttlCmd.Val()
	if count == 1 || ttl < 0 {
		// First request of the window (or a key that lost its TTL):
		// arm the window expiry.
		if err := r.rdb.PExpire(ctx, k, r.config.Window).Err(); err != nil {
			return Result{}, fmt.Errorf("ratelimit redis expire: %w", err)
		}
		ttl = r.config.Window
	}

	limit := int64(r.config.MaxRequests)
	if count <= limit {
		return Result{Allowed: true, Remaining: int(limit - count)}, nil
	}

	if r.config.OnLimit != nil {
		r.config.OnLimit(r.config.Name, key)
	}
	r.log.Debug("request denied", logger.Fields("key", key, "retry_after_ms", ttl.Milliseconds()))

	return Result{Allowed: false, Remaining: 0, RetryAfter: ttl}, nil
}
