package admission

import (
	"time"

	"github.com/caskli/dbguard/logger"
)

// Class names an operation class with its own admission-control
// domain. There is no ordering guarantee across classes.
type Class string

const (
	// ClassRead covers list/detail queries.
	ClassRead Class = "read"
	// ClassWrite covers inserts and updates.
	ClassWrite Class = "write"
	// ClassBatch covers bulk jobs and exports.
	ClassBatch Class = "batch"
	// ClassCritical covers health checks and operational probes,
	// isolated from bulk traffic.
	ClassCritical Class = "critical"
)

// Classes lists all operation classes in a stable order.
var Classes = []Class{ClassRead, ClassWrite, ClassBatch, ClassCritical}

// DefaultClassConfigs returns per-class tuning. Writes and batch jobs
// are throttled harder than reads; the critical queue keeps dedicated
// low-latency slots.
func DefaultClassConfigs() map[Class]Config {
	return map[Class]Config{
		ClassRead: {
			Name:           string(ClassRead),
			MaxConcurrent:  8,
			MaxQueueSize:   100,
			Timeout:        10 * time.Second,
			PriorityLevels: 4,
		},
		ClassWrite: {
			Name:           string(ClassWrite),
			MaxConcurrent:  3,
			MaxQueueSize:   50,
			Timeout:        15 * time.Second,
			PriorityLevels: 4,
		},
		ClassBatch: {
			Name:           string(ClassBatch),
			MaxConcurrent:  2,
			MaxQueueSize:   25,
			Timeout:        60 * time.Second,
			PriorityLevels: 4,
		},
		ClassCritical: {
			Name:           string(ClassCritical),
			MaxConcurrent:  2,
			MaxQueueSize:   20,
			Timeout:        5 * time.Second,
			PriorityLevels: 4,
		},
	}
}

// ClassSet holds the four named admission queues. Construct one per
// guarded dependency at process start.
type ClassSet struct {
	queues map[Class]*Queue
}

// NewClassSet builds a queue per class. Missing classes fall back to
// DefaultClassConfigs.
func NewClassSet(configs map[Class]Config, log *logger.Logger) *ClassSet {
	defaults := DefaultClassConfigs()
	queues := make(map[Class]*Queue, len(Classes))
	for _, class := range Classes {
		cfg, ok := configs[class]
		if !ok {
			cfg = defaults[class]
		}
		if cfg.Name == "" {
			cfg.Name = string(class)
		}
		queues[class] = New(cfg, log)
	}
	return &ClassSet{queues: queues}
}

// ForClass returns the queue for a class, defaulting unknown classes
// to the read queue.
func (cs *ClassSet) ForClass(class Class) *Queue {
	if q, ok := cs.queues[class]; ok {
		return q
	}
	return cs.queues[ClassRead]
}

// Start starts all queues.
func (cs *ClassSet) Start() {
	for _, class := range Classes {
		cs.queues[class].Start()
	}
}

// Stop stops all queues.
func (cs *ClassSet) Stop() {
	for _, class := range Classes {
		cs.queues[class].Stop()
	}
}

// Stats returns per-class snapshots.
func (cs *ClassSet) Stats() map[Class]Stats {
	out := make(map[Class]Stats, len(cs.queues))
	for class, q := range cs.queues {
		out[class] = q.Stats()
	}
	return out
}

// Healthy reports whether every class queue is healthy.
func (cs *ClassSet) Healthy() bool {
	for _, q := range cs.queues {
		if !q.Healthy() {
			return false
		}
	}
	return true
}
