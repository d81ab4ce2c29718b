package guard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/caskli/dbguard/health"
	"github.com/caskli/dbguard/logger"
)

// Component is a lifecycle-managed part of the service: the guard
// itself, the database pool behind it, a probe server.
type Component interface {
	// Name returns the unique name of the component for registration.
	Name() string

	// Start initializes and starts the component.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the component and releases resources.
	Stop(ctx context.Context) error

	// ComponentHealth returns the current health of the component.
	ComponentHealth(ctx context.Context) health.ComponentHealth
}

type componentEntry struct {
	component Component
	started   bool
}

// Registry manages component lifecycle with deterministic ordering.
// Components are started in registration order and stopped in reverse
// order.
type Registry struct {
	log     *logger.Logger
	entries []*componentEntry
	lookup  map[string]*componentEntry
	mu      sync.RWMutex
}

// NewRegistry creates a new component registry.
func NewRegistry(log *logger.Logger) *Registry {
	return &Registry{
		log:    log.WithComponent("registry"),
		lookup: make(map[string]*componentEntry),
	}
}

// Register adds a component. Components are started in the order they
// are registered, so register dependencies first.
func (r *Registry) Register(c Component) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := c.Name()
	if _, exists := r.lookup[name]; exists {
		return fmt.Errorf("component %s already registered", name)
	}

	entry := &componentEntry{component: c}
	r.entries = append(r.entries, entry)
	r.lookup[name] = entry

	r.log.Debug("component registered", logger.Fields("component", name))
	return nil
}

// StartAll starts all components in registration order. The first
// failure aborts the startup; already started components stay up so
// StopAll can unwind them.
func (r *Registry) StartAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, entry := range r.entries {
		name := entry.component.Name()
		if err := entry.component.Start(ctx); err != nil {
			r.log.Error("component start failed",
				logger.Fields("component", name, logger.FieldError, err.Error()))
			return fmt.Errorf("failed to start %s: %w", name, err)
		}
		entry.started = true
		r.log.Debug("component started", logger.Fields("component", name))
	}

	r.log.Info("all components started", logger.Fields("count", len(r.entries)))
	return nil
}

// StopAll stops started components in reverse registration order,
// continuing past individual failures.
func (r *Registry) StopAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for i := len(r.entries) - 1; i >= 0; i-- {
		entry := r.entries[i]
		if !entry.started {
			continue
		}
		name := entry.component.Name()

		stopCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := entry.component.Stop(stopCtx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop %s: %w", name, err))
			r.log.Error("component stop failed",
				logger.Fields("component", name, logger.FieldError, err.Error()))
		} else {
			r.log.Debug("component stopped", logger.Fields("component", name))
		}
		entry.started = false
		cancel()
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// HealthAll returns the health of all registered components.
func (r *Registry) HealthAll(ctx context.Context) []health.ComponentHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()

	results := make([]health.ComponentHealth, 0, len(r.entries))
	for _, entry := range r.entries {
		results = append(results, entry.component.ComponentHealth(ctx))
	}
	return results
}

// Get returns a registered component by name, or nil if not found.
func (r *Registry) Get(name string) Component {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if entry, exists := r.lookup[name]; exists {
		return entry.component
	}
	return nil
}

// All returns all registered components in registration order.
func (r *Registry) All() []Component {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Component, 0, len(r.entries))
	for _, entry := range r.entries {
		result = append(result, entry.component)
	}
	return result
}
