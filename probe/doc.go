// Package probe exposes the health aggregator over HTTP. It provides
// gin handlers for liveness and readiness probes plus a diagnostics
// endpoint serving the full aggregated report.
package probe
