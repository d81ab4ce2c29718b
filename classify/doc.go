// Package classify turns raw failures into structured, user-actionable
// reports at the boundary between the resilience core and its caller.
//
// Classify is a total function: any input, including nil and errors
// with unrecognized messages, yields a well-formed Report with a
// non-technical user message and suggested actions. It performs no
// I/O, holds no state, and never panics.
//
// Classification order: typed errors from this module's packages
// first (circuit breaker rejections, queue errors, rate limit
// denials), then structured validation errors, then a fixed-order
// substring table, then a generic internal fallback.
package classify
