package config

import "time"

// QueueConfig controls the §4.D Job Manager's worker pool.
type QueueConfig struct {
	// WorkerCount is N, the number of parallel test-execution workers.
	// Zero means "use runtime.NumCPU()" (resolved by the caller, since
	// config has no business importing runtime for a display default).
	WorkerCount int `yaml:"worker_count"`

	// TaskQueueSize is parsed and merged with defaults, but the Job
	// Manager does not read it: its test-task channel buffer is fixed at
	// 4096 by jobs.NewManager.
	TaskQueueSize int `yaml:"task_queue_size"`

	// GracefulShutdownTimeout bounds the HTTP server's Shutdown in
	// cmd/agentcheck. The Job Manager's Stop() does not use it and waits
	// for in-flight tasks with no time limit.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`
}

// DefaultQueueConfig returns the built-in worker-pool defaults.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		WorkerCount:             0,
		TaskQueueSize:           4096,
		GracefulShutdownTimeout: 30 * time.Second,
	}
}
