// Package breaker implements a per-dependency circuit breaker.
//
// A Breaker wraps a single fallible operation against a shared,
// capacity-constrained dependency. After enough failures it opens and
// rejects calls immediately for a cooldown period, then admits a
// single serial probe to test recovery.
//
// States:
//   - Closed: normal operation, calls pass through; a success decays
//     the failure count so transient blips recover on their own
//   - Open: calls are rejected with *OpenError until the retry
//     deadline elapses
//   - HalfOpen: one probe at a time is admitted; a failure reopens
//     the circuit, enough successes close it
//
// Breakers are process-lifetime singletons: construct one per guarded
// dependency at startup and inject it wherever the dependency is
// called.
//
//	cb := breaker.New(breaker.DefaultConfig("database"), log)
//	cb.Start()
//	defer cb.Stop()
//
//	err := cb.Execute(ctx, func(ctx context.Context) error {
//	    return db.Ping(ctx)
//	})
package breaker
