package classify

// Kind is the machine-readable failure category.
type Kind string

const (
	KindValidation     Kind = "VALIDATION"
	KindRateLimit      Kind = "RATE_LIMIT"
	KindConnection     Kind = "CONNECTION"
	KindCircuitBreaker Kind = "CIRCUIT_BREAKER"
	KindQueueFull      Kind = "QUEUE_FULL"
	KindDatabase       Kind = "DATABASE"
	KindAuthentication Kind = "AUTHENTICATION"
	KindAuthorization  Kind = "AUTHORIZATION"
	KindNotFound       Kind = "NOT_FOUND"
	KindConflict       Kind = "CONFLICT"
	KindInternal       Kind = "INTERNAL"
)

// Severity ranks how serious a failure is for the caller.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// String returns the severity name.
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Report is the structured, immutable description of a failure handed
// to the caller.
type Report struct {
	// Kind is the failure category.
	Kind Kind `json:"kind"`
	// Severity ranks the failure.
	Severity Severity `json:"severity"`
	// UserMessage is short and non-technical, safe to display.
	UserMessage string `json:"user_message"`
	// TechnicalMessage carries the underlying detail for logs.
	TechnicalMessage string `json:"technical_message"`
	// SuggestedActions is an ordered list of remediation steps.
	SuggestedActions []string `json:"suggested_actions"`
	// Retryable reports whether the caller can safely retry without
	// deduplication.
	Retryable bool `json:"retryable"`
	// RetryAfter is the whole seconds the caller should wait before
	// retrying. Zero means no specific wait.
	RetryAfter int `json:"retry_after,omitempty"`
	// DegradedMode signals the caller may substitute cached or
	// partial data instead of hard-failing.
	DegradedMode bool `json:"degraded_mode,omitempty"`
	// ContactSupport signals the failure is worth escalating.
	ContactSupport bool `json:"contact_support,omitempty"`
}
