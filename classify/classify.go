package classify

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/caskli/dbguard/admission"
	"github.com/caskli/dbguard/breaker"
	"github.com/caskli/dbguard/ratelimit"
)

// pattern maps a lowercase failure-message substring to a report
// template. Patterns are mutually exclusive substrings evaluated in
// slice order, first match wins.
type pattern struct {
	substr string
	report Report
}

var patterns = []pattern{
	{"rate limit", Report{
		Kind:             KindRateLimit,
		Severity:         SeverityMedium,
		UserMessage:      "You're sending requests a little too quickly.",
		SuggestedActions: []string{"Wait a moment before trying again", "Batch related changes into a single request"},
		Retryable:        true,
		RetryAfter:       30,
	}},
	{"queue full", Report{
		Kind:             KindQueueFull,
		Severity:         SeverityHigh,
		UserMessage:      "The service is very busy right now.",
		SuggestedActions: []string{"Try again in a few seconds", "Avoid resubmitting the same request repeatedly"},
		Retryable:        true,
		RetryAfter:       10,
		DegradedMode:     true,
	}},
	{"too many clients", Report{
		Kind:             KindDatabase,
		Severity:         SeverityHigh,
		UserMessage:      "The service is handling a lot of traffic.",
		SuggestedActions: []string{"Try again shortly"},
		Retryable:        true,
		RetryAfter:       15,
		DegradedMode:     true,
	}},
	{"connection terminated", Report{
		Kind:             KindConnection,
		Severity:         SeverityHigh,
		UserMessage:      "We lost the connection for a moment.",
		SuggestedActions: []string{"Try again", "Check your network connection"},
		Retryable:        true,
		RetryAfter:       5,
		DegradedMode:     true,
	}},
	{"connection refused", Report{
		Kind:             KindConnection,
		Severity:         SeverityHigh,
		UserMessage:      "We couldn't reach the service.",
		SuggestedActions: []string{"Try again in a minute", "Contact support if this keeps happening"},
		Retryable:        true,
		RetryAfter:       15,
		DegradedMode:     true,
	}},
	{"timeout", Report{
		Kind:             KindConnection,
		Severity:         SeverityMedium,
		UserMessage:      "The request took too long.",
		SuggestedActions: []string{"Try again", "Try a smaller request"},
		Retryable:        true,
		RetryAfter:       5,
	}},
	{"auth required", Report{
		Kind:             KindAuthentication,
		Severity:         SeverityMedium,
		UserMessage:      "You need to sign in to do that.",
		SuggestedActions: []string{"Sign in and try again"},
		Retryable:        false,
	}},
	{"jwt expired", Report{
		Kind:             KindAuthentication,
		Severity:         SeverityMedium,
		UserMessage:      "Your session has expired.",
		SuggestedActions: []string{"Sign in again"},
		Retryable:        false,
	}},
	{"invalid token", Report{
		Kind:             KindAuthentication,
		Severity:         SeverityMedium,
		UserMessage:      "Your session is no longer valid.",
		SuggestedActions: []string{"Sign out and sign in again"},
		Retryable:        false,
	}},
	{"permission denied", Report{
		Kind:             KindAuthorization,
		Severity:         SeverityMedium,
		UserMessage:      "You don't have permission to do that.",
		SuggestedActions: []string{"Check you're using the right account", "Ask an administrator for access"},
		Retryable:        false,
	}},
	{"not a member", Report{
		Kind:             KindAuthorization,
		Severity:         SeverityLow,
		UserMessage:      "You're not a member of this group.",
		SuggestedActions: []string{"Ask for an invitation to join"},
		Retryable:        false,
	}},
	{"already exists", Report{
		Kind:             KindConflict,
		Severity:         SeverityLow,
		UserMessage:      "That already exists.",
		SuggestedActions: []string{"Use a different name", "Open the existing item instead"},
		Retryable:        false,
	}},
	{"duplicate key", Report{
		Kind:             KindConflict,
		Severity:         SeverityLow,
		UserMessage:      "That already exists.",
		SuggestedActions: []string{"Refresh and check for an existing entry"},
		Retryable:        false,
	}},
	{"not found", Report{
		Kind:             KindNotFound,
		Severity:         SeverityLow,
		UserMessage:      "We couldn't find what you're looking for.",
		SuggestedActions: []string{"Check the link or identifier", "It may have been removed"},
		Retryable:        false,
	}},
}

// Classify normalizes any failure into a Report. It is total: nil and
// unrecognized errors still produce a valid report.
func Classify(err error) Report {
	if err == nil {
		return internalReport("unknown failure (nil error)")
	}

	// Typed errors from the resilience core carry precise state; they
	// win over message matching.
	var openErr *breaker.OpenError
	if errors.As(err, &openErr) {
		return breakerReport(openErr)
	}
	if errors.Is(err, breaker.ErrCircuitOpen) {
		return breakerReport(nil)
	}

	var limitErr *ratelimit.LimitError
	if errors.As(err, &limitErr) {
		r := templateFor(KindRateLimit)
		r.TechnicalMessage = err.Error()
		if limitErr.RetryAfter > 0 {
			r.RetryAfter = ceilSeconds(limitErr.RetryAfter)
		}
		return r
	}

	if errors.Is(err, admission.ErrQueueFull) {
		r := templateFor(KindQueueFull)
		r.TechnicalMessage = err.Error()
		return r
	}
	if errors.Is(err, admission.ErrQueueTimeout) {
		return Report{
			Kind:             KindConnection,
			Severity:         SeverityHigh,
			UserMessage:      "The request waited too long and was dropped.",
			TechnicalMessage: err.Error(),
			SuggestedActions: []string{"Try again", "The service may be under heavy load"},
			Retryable:        true,
			RetryAfter:       10,
			DegradedMode:     true,
		}
	}
	if errors.Is(err, admission.ErrQueueCleared) {
		return Report{
			Kind:             KindInternal,
			Severity:         SeverityMedium,
			UserMessage:      "Your request was cancelled during maintenance.",
			TechnicalMessage: err.Error(),
			SuggestedActions: []string{"Try again"},
			Retryable:        true,
			RetryAfter:       5,
		}
	}

	// Structured validation failures name the fields to fix.
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		return validationReport(verrs)
	}

	// Message lookup, first match wins in fixed order.
	msg := strings.ToLower(err.Error())
	for _, p := range patterns {
		if strings.Contains(msg, p.substr) {
			r := p.report
			r.TechnicalMessage = err.Error()
			return r
		}
	}

	return internalReport(err.Error())
}

func breakerReport(openErr *breaker.OpenError) Report {
	r := Report{
		Kind:        KindCircuitBreaker,
		Severity:    SeverityHigh,
		UserMessage: "This service is temporarily paused while it recovers.",
		SuggestedActions: []string{
			"Wait before retrying",
			"Recently loaded data may still be shown",
			"Contact support if the problem lasts more than a few minutes",
		},
		Retryable:      true,
		RetryAfter:     30,
		DegradedMode:   true,
		ContactSupport: true,
	}
	if openErr != nil {
		r.TechnicalMessage = openErr.Error()
		if openErr.RetryAfter > 0 {
			r.RetryAfter = ceilSeconds(openErr.RetryAfter)
		}
	} else {
		r.TechnicalMessage = breaker.ErrCircuitOpen.Error()
	}
	return r
}

func validationReport(verrs validator.ValidationErrors) Report {
	actions := make([]string, 0, len(verrs))
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field())
		actions = append(actions, fmt.Sprintf("Correct the %q field (%s)", fe.Field(), fe.Tag()))
	}
	if len(actions) == 0 {
		actions = []string{"Check the submitted values and try again"}
	}
	return Report{
		Kind:             KindValidation,
		Severity:         SeverityLow,
		UserMessage:      "Some of the submitted values need correcting.",
		TechnicalMessage: "validation failed on fields: " + strings.Join(fields, ", "),
		SuggestedActions: actions,
		Retryable:        false,
	}
}

func templateFor(kind Kind) Report {
	for _, p := range patterns {
		if p.report.Kind == kind {
			return p.report
		}
	}
	return internalReport(string(kind))
}

func internalReport(detail string) Report {
	return Report{
		Kind:             KindInternal,
		Severity:         SeverityHigh,
		UserMessage:      "Something went wrong on our side.",
		TechnicalMessage: detail,
		SuggestedActions: []string{"Try again", "Contact support if the problem persists"},
		Retryable:        true,
		ContactSupport:   true,
	}
}

// ceilSeconds converts a duration to whole seconds, rounding up so
// callers never retry early.
func ceilSeconds(d time.Duration) int {
	s := int(d / time.Second)
	if d%time.Second != 0 {
		s++
	}
	if s < 1 {
		s = 1
	}
	return s
}
