// Package ratelimit implements fixed-window rate limiting keyed by
// opaque caller-supplied identifiers (per-user, per-endpoint).
//
// Limiter counts requests per key in discrete, non-overlapping
// windows. AdaptiveLimiter layers load-signal feedback on top,
// shrinking the effective limit while the backing dependency shows
// stress and restoring it as signals normalize. RedisLimiter shares
// one window per key across replicas through Redis.
//
//	rl := ratelimit.New(ratelimit.Config{Window: time.Minute, MaxRequests: 60}, log)
//	res := rl.Check("user:1234")
//	if !res.Allowed {
//	    // tell the caller to retry after res.RetryAfter
//	}
package ratelimit
