// Package logger provides structured logging for dbguard components
// using zerolog.
//
// Every guard component (breaker, admission queue, rate limiter,
// health aggregator) accepts a *Logger; passing nil disables logging
// without nil checks at call sites.
//
// # Usage
//
//	log := logger.NewDefault("dbguard")
//	log.WithComponent("breaker").Info("state changed", logger.Fields("from", "closed", "to", "open"))
package logger
