package guard

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/caskli/dbguard/admission"
	"github.com/caskli/dbguard/breaker"
	"github.com/caskli/dbguard/classify"
	"github.com/caskli/dbguard/config"
	"github.com/caskli/dbguard/health"
	"github.com/caskli/dbguard/logger"
	"github.com/caskli/dbguard/observability"
	"github.com/caskli/dbguard/ratelimit"
)

// Priorities within a class queue. Classes separate workloads from
// each other; priorities order items inside one class.
const (
	PriorityNormal = 1
	PriorityHigh   = 2
)

// Option customizes a Guard.
type Option func(*Guard)

// WithMetrics exports guard activity through the given instruments.
func WithMetrics(m *observability.GuardMetrics) Option {
	return func(g *Guard) { g.metrics = m }
}

// WithRedisClient supplies the client for the shared rate limit
// window instead of dialing from config. The caller keeps ownership.
func WithRedisClient(rdb *redis.Client) Option {
	return func(g *Guard) {
		g.redis = rdb
		g.ownsRedis = false
	}
}

// WithDependency registers the guarded database's probe with the
// health aggregator.
func WithDependency(p health.Pinger) Option {
	return func(g *Guard) { g.dependency = p }
}

// WithCache registers the cache's probe with the health aggregator.
func WithCache(p health.Pinger) Option {
	return func(g *Guard) { g.cache = p }
}

// WithListener adds an extra breaker listener.
func WithListener(l breaker.Listener) Option {
	return func(g *Guard) { g.listeners = append(g.listeners, l) }
}

// Guard routes operations through the rate limiter, the per-class
// admission queues, and the circuit breaker, in that order.
type Guard struct {
	name string
	log  *logger.Logger

	breaker    *breaker.Breaker
	queues     *admission.ClassSet
	limiter    *ratelimit.Limiter
	adaptive   *ratelimit.AdaptiveLimiter
	shared     *ratelimit.RedisLimiter
	aggregator *health.Aggregator

	metrics    *observability.GuardMetrics
	redis      *redis.Client
	ownsRedis  bool
	dependency health.Pinger
	cache      health.Pinger
	listeners  []breaker.Listener
}

// New assembles a Guard from configuration. Call Start before
// submitting work and Stop on shutdown.
func New(cfg *config.Config, log *logger.Logger, opts ...Option) *Guard {
	g := &Guard{
		name: cfg.Name,
		log:  log.WithComponent("guard"),
	}
	for _, opt := range opts {
		opt(g)
	}

	g.breaker = breaker.New(cfg.BreakerConfig("database"), log)
	g.breaker.AddListener(breaker.NewLogListener(log))
	if g.metrics != nil {
		g.breaker.AddListener(observability.NewMeterListener(g.metrics))
	}
	for _, l := range g.listeners {
		g.breaker.AddListener(l)
	}

	classConfigs := cfg.ClassConfigs()
	if g.metrics != nil {
		for class, qc := range classConfigs {
			qc.OnReject = func(name string) {
				g.metrics.RecordRejection(context.Background(), name)
			}
			qc.OnComplete = func(name string, wait, exec time.Duration) {
				g.metrics.RecordAdmission(context.Background(), name, wait, exec)
			}
			classConfigs[class] = qc
		}
	}
	g.queues = admission.NewClassSet(classConfigs, log)

	limiterCfg := cfg.LimiterConfig("requests")
	if g.metrics != nil {
		limiterCfg.OnLimit = func(name, key string) {
			g.metrics.RecordLimitHit(context.Background(), name, key)
		}
	}
	if cfg.RateLimit.Adaptive {
		adaptiveCfg := cfg.AdaptiveConfig("requests")
		adaptiveCfg.Config = limiterCfg
		g.adaptive = ratelimit.NewAdaptive(adaptiveCfg, log)
	} else {
		g.limiter = ratelimit.New(limiterCfg, log)
	}

	if cfg.RateLimit.Redis.Enabled {
		if g.redis == nil {
			g.redis = redis.NewClient(&redis.Options{
				Addr:     cfg.RateLimit.Redis.Addr,
				Password: cfg.RateLimit.Redis.Password,
				DB:       cfg.RateLimit.Redis.DB,
			})
			g.ownsRedis = true
		}
		sharedCfg := cfg.LimiterConfig("requests")
		var redisOpts []ratelimit.RedisOption
		if cfg.RateLimit.Redis.Prefix != "" {
			redisOpts = append(redisOpts, ratelimit.WithPrefix(cfg.RateLimit.Redis.Prefix))
		}
		g.shared = ratelimit.NewRedis(g.redis, sharedCfg, log, redisOpts...)
	}

	g.aggregator = health.New(cfg.HealthConfig(), log)
	g.aggregator.AddBreaker(g.breaker)
	g.aggregator.SetQueues(g.queues)
	if g.dependency != nil {
		g.aggregator.SetDependency(g.dependency)
	}
	if g.cache != nil {
		g.aggregator.SetCache(g.cache)
	}

	return g
}

// Execute runs op through the full pipeline at normal priority.
func (g *Guard) Execute(ctx context.Context, class admission.Class, key string, op func(context.Context) error) error {
	return g.ExecutePriority(ctx, class, key, PriorityNormal, op)
}

// ExecutePriority runs op through the full pipeline at the given
// in-class priority.
func (g *Guard) ExecutePriority(ctx context.Context, class admission.Class, key string, priority int, op func(context.Context) error) error {
	if err := g.admit(ctx, key); err != nil {
		return err
	}
	q := g.queues.ForClass(class)
	return q.Enqueue(ctx, priority, func(ctx context.Context) error {
		return g.breaker.Execute(ctx, op)
	})
}

// ExecuteWithFallback runs op through the pipeline and serves
// fallback when the circuit is open or op fails.
func (g *Guard) ExecuteWithFallback(ctx context.Context, class admission.Class, key string, op, fallback func(context.Context) error) error {
	if err := g.admit(ctx, key); err != nil {
		return err
	}
	q := g.queues.ForClass(class)
	return q.Enqueue(ctx, PriorityNormal, func(ctx context.Context) error {
		return g.breaker.ExecuteWithFallback(ctx, op, fallback)
	})
}

// Query runs fn through the full pipeline and returns its result.
func Query[T any](g *Guard, ctx context.Context, class admission.Class, key string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := g.admit(ctx, key); err != nil {
		return zero, err
	}
	q := g.queues.ForClass(class)
	return admission.Submit(q, ctx, PriorityNormal, func(ctx context.Context) (T, error) {
		return breaker.Do(g.breaker, ctx, fn)
	})
}

// admit asks the rate limiters whether the caller may proceed. The
// shared window is consulted first when configured; if Redis is
// unreachable the guard falls back to the local window rather than
// blocking traffic on the limiter itself.
func (g *Guard) admit(ctx context.Context, key string) error {
	if g.shared != nil {
		res, err := g.shared.Check(ctx, key)
		if err == nil {
			if !res.Allowed {
				if g.metrics != nil {
					g.metrics.RecordLimitHit(ctx, "requests", key)
				}
				return res.Err(key)
			}
			return nil
		}
		g.log.Warn("shared rate limit check failed, using local window",
			logger.Fields(logger.FieldError, err.Error()))
	}

	var res ratelimit.Result
	if g.adaptive != nil {
		res = g.adaptive.Check(key)
	} else {
		res = g.limiter.Check(key)
	}
	if !res.Allowed {
		return res.Err(key)
	}
	return nil
}

// Adjust feeds load signals to the adaptive limiter. It is a no-op
// when adaptive limiting is disabled.
func (g *Guard) Adjust(s ratelimit.Signals) {
	if g.adaptive == nil {
		return
	}
	g.adaptive.Adjust(s)
	if g.metrics != nil {
		g.metrics.RecordAdaptiveLimit(context.Background(), "requests", g.adaptive.CurrentMax())
	}
}

// CurrentLimit returns the effective per-window request ceiling.
func (g *Guard) CurrentLimit() int {
	if g.adaptive != nil {
		return g.adaptive.CurrentMax()
	}
	return g.limiter.Max()
}

// Explain translates an error from Execute or Query into its
// user-facing classification.
func (g *Guard) Explain(err error) classify.Report {
	return classify.Classify(err)
}

// Breaker exposes the underlying circuit breaker.
func (g *Guard) Breaker() *breaker.Breaker { return g.breaker }

// Queues exposes the admission queues.
func (g *Guard) Queues() *admission.ClassSet { return g.queues }

// Health exposes the health aggregator, for mounting probe handlers.
func (g *Guard) Health() *health.Aggregator { return g.aggregator }

// Report produces the aggregated health view.
func (g *Guard) Report(ctx context.Context) *health.Report {
	return g.aggregator.Report(ctx)
}

// Name implements Component.
func (g *Guard) Name() string { return g.name }

// Start brings up the breaker sweep and the queue dispatch ticks, and
// verifies the shared limiter store when configured.
func (g *Guard) Start(ctx context.Context) error {
	if g.redis != nil {
		if err := g.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("shared rate limit store unreachable: %w", err)
		}
	}
	g.breaker.Start()
	g.queues.Start()
	g.log.Info("guard started", logger.Fields("name", g.name))
	return nil
}

// Stop shuts the guard down in reverse order of Start.
func (g *Guard) Stop(ctx context.Context) error {
	g.queues.Stop()
	g.breaker.Stop()
	if g.ownsRedis && g.redis != nil {
		if err := g.redis.Close(); err != nil {
			return fmt.Errorf("closing rate limit store: %w", err)
		}
	}
	g.log.Info("guard stopped", logger.Fields("name", g.name))
	return nil
}

// ComponentHealth implements Component by condensing the aggregated
// report into a single component view.
func (g *Guard) ComponentHealth(ctx context.Context) health.ComponentHealth {
	rep := g.aggregator.Report(ctx)

	status := rep.Overall
	msg := "all layers healthy"
	if rep.Degradation != nil {
		msg = rep.Degradation.Reason
	}
	return health.ComponentHealth{
		Name:      g.name,
		Status:    status,
		Message:   msg,
		CheckedAt: rep.GeneratedAt,
	}
}
