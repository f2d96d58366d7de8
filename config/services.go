package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeWorker runs the task workers (fan-out and shard pages).
	ServiceModeWorker ServiceMode = "worker"
	// ServiceModeReaper runs the task reaper for lease recovery and cleanup.
	ServiceModeReaper ServiceMode = "reaper"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeWorker,
		ServiceModeReaper,
	}
}

// ParseServices turns the comma-delimited SERVICES value into the set of
// enabled modes. Unknown names fail outright so a typo cannot silently
// disable a component.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	valid := make(map[ServiceMode]bool, len(ValidServiceModes()))
	for _, mode := range ValidServiceModes() {
		valid[mode] = true
	}

	enabled := make(map[ServiceMode]bool)
	for _, part := range strings.Split(servicesStr, ",") {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}
		mode := ServiceMode(name)
		if !valid[mode] {
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: worker, reaper)",
				name,
			)
		}
		enabled[mode] = true
	}

	if len(enabled) == 0 {
		return nil, errors.New("at least one service must be specified")
	}
	return enabled, nil
}

// WorkerConfig contains task worker configuration.
type WorkerConfig struct {
	// FanOutConcurrency is the number of worker goroutines reserving fan-out tasks.
	FanOutConcurrency int `env:"WORKER_FANOUT_CONCURRENCY" envDefault:"1"`

	// ShardPageConcurrency is the number of worker goroutines reserving shard page tasks.
	ShardPageConcurrency int `env:"WORKER_SHARD_PAGE_CONCURRENCY" envDefault:"4"`

	// TaskLease is the duration a reserved task is leased to a worker.
	TaskLease time.Duration `env:"WORKER_TASK_LEASE" envDefault:"30s"`

	// PageSize is the number of recipients processed per shard page.
	PageSize int `env:"WORKER_PAGE_SIZE" envDefault:"100"`
}

// Sanitize applies guardrails to worker configuration values.
func (w *WorkerConfig) Sanitize() {
	w.FanOutConcurrency = max(w.FanOutConcurrency, 1)
	w.ShardPageConcurrency = max(w.ShardPageConcurrency, 1)
	w.TaskLease = max(w.TaskLease, 5*time.Second)
	w.PageSize = max(w.PageSize, 1)
}

// ReaperConfig contains task reaper service configuration.
type ReaperConfig struct {
	// Interval is the reaper tick interval.
	Interval time.Duration `env:"REAPER_INTERVAL" envDefault:"1m"`

	// CompletedMaxAge is the maximum age for completed tasks before deletion.
	CompletedMaxAge time.Duration `env:"REAPER_COMPLETED_MAX_AGE" envDefault:"168h"` // 7 days

	// FailedMaxAge is the maximum age for failed tasks before deletion. Failed
	// tasks are kept longer than completed ones so their last_error survives
	// for diagnosis.
	FailedMaxAge time.Duration `env:"REAPER_FAILED_MAX_AGE" envDefault:"720h"` // 30 days

	// BatchSize is the maximum number of rows to delete per operation.
	// Batching prevents long locks and I/O spikes on large tables.
	BatchSize int `env:"REAPER_BATCH_SIZE" envDefault:"1000"`
}

// Sanitize applies guardrails to reaper configuration values.
func (r *ReaperConfig) Sanitize() {
	r.Interval = max(r.Interval, 10*time.Second)
	r.CompletedMaxAge = max(r.CompletedMaxAge, time.Hour)
	r.FailedMaxAge = max(r.FailedMaxAge, time.Hour)
	r.BatchSize = min(max(r.BatchSize, 1), 10000)
}
