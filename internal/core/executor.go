// Package core provides the ports and service contracts for the postpilot job system.
package core

import (
	"context"
	"time"
)

// JobExecutor defines the interface for the executor service.
type JobExecutor interface {
	// Tick runs one executor cycle: reload from storage when due, expire
	// overdue jobs, recover stuck ones, and dispatch at most one ready job.
	// Returns the number of jobs dispatched.
	Tick(ctx context.Context, now time.Time) (int, error)
}

// ExecutorConfig holds configuration for the job executor.
type ExecutorConfig struct {
	CheckInterval       time.Duration `json:"check_interval"`
	ReloadInterval      time.Duration `json:"reload_interval"`
	ReloadCheckDelay    time.Duration `json:"reload_check_delay"`
	MaxRunningAge       time.Duration `json:"max_running_age"`
	PostProcessingDelay time.Duration `json:"post_processing_delay"`
	MaxRetries          int           `json:"max_retries"`
	OverdueThreshold    time.Duration `json:"overdue_threshold"`
}

// DefaultExecutorConfig returns an ExecutorConfig with sensible defaults.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		CheckInterval:       10 * time.Second,
		ReloadInterval:      30 * time.Second,
		ReloadCheckDelay:    2 * time.Second,
		MaxRunningAge:       30 * time.Minute,
		PostProcessingDelay: 4 * time.Second,
		MaxRetries:          3,
		OverdueThreshold:    0,
	}
}
