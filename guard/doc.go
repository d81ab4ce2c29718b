// Package guard composes the resilience layers into a single front
// door for database traffic. An operation submitted to the Guard is
// rate limited, admitted through its class's priority queue, and
// executed under the dependency's circuit breaker. The guard also
// owns the health aggregator and the lifecycle of its parts.
package guard
