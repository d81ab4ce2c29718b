// Package observability exports guard activity as OpenTelemetry
// metrics. It provides the meter provider setup, the guard's metric
// instruments, and a circuit breaker listener that records state
// transitions and call outcomes.
package observability
