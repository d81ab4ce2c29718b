package breaker

import (
	"time"

	"github.com/caskli/dbguard/logger"
)

// Listener observes breaker events. Implementations are called
// synchronously while the breaker holds its lock and must be fast and
// must not call back into the breaker.
type Listener interface {
	OnStateChange(name string, from, to State)
	OnSuccess(name string, elapsed time.Duration)
	OnFailure(name string, err error)
	OnFallback(name string)
}

// NopListener implements Listener with no-ops. Embed it to observe a
// subset of events.
type NopListener struct{}

func (NopListener) OnStateChange(string, State, State) {}
func (NopListener) OnSuccess(string, time.Duration)    {}
func (NopListener) OnFailure(string, error)            {}
func (NopListener) OnFallback(string)                  {}

// LogListener logs breaker events through the structured logger.
// State changes log at warn, individual failures at debug.
type LogListener struct {
	log *logger.Logger
}

// NewLogListener creates a listener writing to log.
func NewLogListener(log *logger.Logger) *LogListener {
	return &LogListener{log: log.WithComponent("breaker-events")}
}

func (l *LogListener) OnStateChange(name string, from, to State) {
	l.log.Warn("circuit breaker state change",
		logger.Fields("breaker", name, "from", from.String(), "to", to.String()))
}

func (l *LogListener) OnSuccess(name string, elapsed time.Duration) {
	l.log.Debug("guarded call succeeded",
		logger.Fields("breaker", name, logger.FieldDuration, elapsed.Milliseconds()))
}

func (l *LogListener) OnFailure(name string, err error) {
	l.log.Debug("guarded call failed",
		logger.Fields("breaker", name, logger.FieldError, err.Error()))
}

func (l *LogListener) OnFallback(name string) {
	l.log.Info("fallback served", logger.Fields("breaker", name))
}
