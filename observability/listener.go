package observability

import (
	"context"
	"time"

	"github.com/caskli/dbguard/breaker"
)

// MeterListener is a breaker.Listener that exports breaker events as
// metrics. Instrument calls are non-blocking, which keeps it safe to
// run synchronously inside the breaker.
type MeterListener struct {
	metrics *GuardMetrics
}

// NewMeterListener creates a listener recording into metrics.
func NewMeterListener(metrics *GuardMetrics) *MeterListener {
	return &MeterListener{metrics: metrics}
}

func (l *MeterListener) OnStateChange(name string, from, to breaker.State) {
	l.metrics.RecordTransition(context.Background(), name, from.String(), to.String())
}

func (l *MeterListener) OnSuccess(name string, elapsed time.Duration) {
	l.metrics.RecordOperation(context.Background(), name, "success", elapsed)
}

func (l *MeterListener) OnFailure(name string, err error) {
	l.metrics.RecordOperation(context.Background(), name, "failure", 0)
}

func (l *MeterListener) OnFallback(name string) {
	l.metrics.RecordFallback(context.Background(), name)
}
