package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// GuardMetrics holds the metric instruments for guarded database
// traffic: call outcomes, breaker transitions, queue behavior, and
// rate limiter activity.
type GuardMetrics struct {
	operationTotal    metric.Int64Counter
	operationDuration metric.Float64Histogram
	breakerTransition metric.Int64Counter
	breakerOpen       metric.Int64UpDownCounter
	fallbackTotal     metric.Int64Counter
	queueWait         metric.Float64Histogram
	queueExec         metric.Float64Histogram
	queueRejected     metric.Int64Counter
	limitHits         metric.Int64Counter
	adaptiveLimit     metric.Int64Gauge
}

// NewGuardMetrics creates the guard's instruments on the given meter.
func NewGuardMetrics(meter metric.Meter) (*GuardMetrics, error) {
	operationTotal, err := meter.Int64Counter("guard.operation.total",
		metric.WithDescription("Total guarded operations by breaker and outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating guard.operation.total counter: %w", err)
	}

	operationDuration, err := meter.Float64Histogram("guard.operation.duration",
		metric.WithDescription("Duration of guarded operations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating guard.operation.duration histogram: %w", err)
	}

	breakerTransition, err := meter.Int64Counter("guard.breaker.transitions",
		metric.WithDescription("Circuit breaker state transitions"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating guard.breaker.transitions counter: %w", err)
	}

	breakerOpen, err := meter.Int64UpDownCounter("guard.breaker.open",
		metric.WithDescription("Number of breakers currently open"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating guard.breaker.open gauge: %w", err)
	}

	fallbackTotal, err := meter.Int64Counter("guard.breaker.fallbacks",
		metric.WithDescription("Fallback executions while a breaker is open"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating guard.breaker.fallbacks counter: %w", err)
	}

	queueWait, err := meter.Float64Histogram("guard.queue.wait",
		metric.WithDescription("Time operations spent waiting for admission in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating guard.queue.wait histogram: %w", err)
	}

	queueExec, err := meter.Float64Histogram("guard.queue.exec",
		metric.WithDescription("Execution time of admitted operations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating guard.queue.exec histogram: %w", err)
	}

	queueRejected, err := meter.Int64Counter("guard.queue.rejected",
		metric.WithDescription("Operations rejected because an admission queue was full"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating guard.queue.rejected counter: %w", err)
	}

	limitHits, err := meter.Int64Counter("guard.ratelimit.limited",
		metric.WithDescription("Requests rejected by the rate limiter"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating guard.ratelimit.limited counter: %w", err)
	}

	adaptiveLimit, err := meter.Int64Gauge("guard.ratelimit.current_max",
		metric.WithDescription("Current adaptive rate limit ceiling"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating guard.ratelimit.current_max gauge: %w", err)
	}

	return &GuardMetrics{
		operationTotal:    operationTotal,
		operationDuration: operationDuration,
		breakerTransition: breakerTransition,
		breakerOpen:       breakerOpen,
		fallbackTotal:     fallbackTotal,
		queueWait:         queueWait,
		queueExec:         queueExec,
		queueRejected:     queueRejected,
		limitHits:         limitHits,
		adaptiveLimit:     adaptiveLimit,
	}, nil
}

// RecordOperation records a completed guarded operation.
func (m *GuardMetrics) RecordOperation(ctx context.Context, breaker, status string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("breaker", breaker),
		attribute.String("status", status),
	)
	m.operationTotal.Add(ctx, 1, attrs)
	m.operationDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("breaker", breaker),
	))
}

// RecordTransition records a breaker state change and keeps the
// open-breaker gauge in step.
func (m *GuardMetrics) RecordTransition(ctx context.Context, breaker, from, to string) {
	m.breakerTransition.Add(ctx, 1, metric.WithAttributes(
		attribute.String("breaker", breaker),
		attribute.String("from", from),
		attribute.String("to", to),
	))
	if to == "open" {
		m.breakerOpen.Add(ctx, 1, metric.WithAttributes(attribute.String("breaker", breaker)))
	}
	if from == "open" {
		m.breakerOpen.Add(ctx, -1, metric.WithAttributes(attribute.String("breaker", breaker)))
	}
}

// RecordFallback records a fallback execution.
func (m *GuardMetrics) RecordFallback(ctx context.Context, breaker string) {
	m.fallbackTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("breaker", breaker)))
}

// RecordAdmission records an operation that made it through an
// admission queue.
func (m *GuardMetrics) RecordAdmission(ctx context.Context, queue string, wait, exec time.Duration) {
	attrs := metric.WithAttributes(attribute.String("queue", queue))
	m.queueWait.Record(ctx, wait.Seconds(), attrs)
	m.queueExec.Record(ctx, exec.Seconds(), attrs)
}

// RecordRejection records an operation turned away at the queue.
func (m *GuardMetrics) RecordRejection(ctx context.Context, queue string) {
	m.queueRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("queue", queue)))
}

// RecordLimitHit records a request the rate limiter refused.
func (m *GuardMetrics) RecordLimitHit(ctx context.Context, limiter, key string) {
	m.limitHits.Add(ctx, 1, metric.WithAttributes(
		attribute.String("limiter", limiter),
		attribute.String("key", key),
	))
}

// RecordAdaptiveLimit records the limiter's current ceiling.
func (m *GuardMetrics) RecordAdaptiveLimit(ctx context.Context, limiter string, max int) {
	m.adaptiveLimit.Record(ctx, int64(max), metric.WithAttributes(
		attribute.String("limiter", limiter),
	))
}
