// Package health aggregates the state of the resilience layer
// (circuit breakers, admission queues, the guarded dependency and its
// cache) into one severity-ranked report.
//
// The Aggregator runs its checks concurrently, each with its own
// timeout, so one slow probe never blocks the rest; a failed or
// timed-out check degrades to a synthetic unhealthy component instead
// of aborting the report. Reports are cached for a configurable TTL
// because they back liveness probes that poll frequently.
//
// Report never returns an error: on total internal failure it still
// produces a best-effort critical report.
package health
