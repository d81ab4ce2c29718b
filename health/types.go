package health

import (
	"context"
	"time"
)

// Status represents the health state of a component or the service.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
	StatusCritical  Status = "critical"
)

// rank orders statuses by severity.
func rank(s Status) int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	case StatusUnhealthy:
		return 2
	case StatusCritical:
		return 3
	default:
		return 2
	}
}

// Worse returns the more severe of two statuses.
func Worse(a, b Status) Status {
	if rank(b) > rank(a) {
		return b
	}
	return a
}

// ComponentHealth describes one checked component. Value object; not
// mutated after construction.
type ComponentHealth struct {
	Name         string         `json:"name"`
	Status       Status         `json:"status"`
	Message      string         `json:"message,omitempty"`
	ResponseTime time.Duration  `json:"response_time"`
	CheckedAt    time.Time      `json:"checked_at"`
	Details      map[string]any `json:"details,omitempty"`
}

// Alert is one non-healthy finding.
type Alert struct {
	Severity  Status    `json:"severity"`
	Component string    `json:"component"`
	Message   string    `json:"message"`
	At        time.Time `json:"at"`
}

// Degradation describes an active degraded period.
type Degradation struct {
	Active     bool      `json:"active"`
	Reason     string    `json:"reason"`
	Components []string  `json:"components"`
	Since      time.Time `json:"since"`
}

// Report is the aggregated health view.
type Report struct {
	Overall      Status            `json:"overall"`
	Components   []ComponentHealth `json:"components"`
	Alerts       []Alert           `json:"alerts"`
	Degradation  *Degradation      `json:"degradation,omitempty"`
	GeneratedAt  time.Time         `json:"generated_at"`
	ResponseTime time.Duration     `json:"response_time"`
	Cached       bool              `json:"cached"`
}

// SimpleStatus is the cheap boolean view for high-frequency
// load-balancer polling.
type SimpleStatus struct {
	Status string          `json:"status"`
	Checks map[string]bool `json:"checks"`
}

// Pinger is a cheap reachability probe for an external dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to the Pinger interface.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Checker produces a ComponentHealth for an additional named check.
type Checker func(ctx context.Context) ComponentHealth
