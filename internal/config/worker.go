package config

import (
	"fmt"
	"time"
)

// WorkerConfig holds configuration for the job-processing loop.
type WorkerConfig struct {
	// WorkerID identifies this worker in locks and execution logs. Empty
	// generates a host_pid_random id at startup.
	WorkerID string `env:"CHRONOS_WORKER_ID"`

	// Concurrency is the maximum number of jobs executing at once.
	Concurrency int `env:"CHRONOS_CONCURRENCY" default:"5"`

	// PollInterval is how often the worker asks the store for due jobs.
	PollInterval time.Duration `env:"CHRONOS_POLL_INTERVAL" default:"5s"`

	// LockTimeout is the default stale-lock threshold for jobs that do not
	// set their own.
	LockTimeout time.Duration `env:"CHRONOS_LOCK_TIMEOUT" default:"5m"`

	// StaleCheckInterval is how often the worker sweeps for stale locks.
	StaleCheckInterval time.Duration `env:"CHRONOS_STALE_CHECK_INTERVAL" default:"1m"`

	// DrainTimeout bounds how long Stop waits for in-flight jobs.
	DrainTimeout time.Duration `env:"CHRONOS_DRAIN_TIMEOUT" default:"30s"`
}

// Validate checks the worker configuration.
func (c WorkerConfig) Validate() error {
	if c.Concurrency <= 0 {
		return fmt.Errorf("CHRONOS_CONCURRENCY must be positive")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("CHRONOS_POLL_INTERVAL must be positive")
	}
	if c.LockTimeout <= 0 {
		return fmt.Errorf("CHRONOS_LOCK_TIMEOUT must be positive")
	}
	return nil
}

// RetryConfig holds the engine-wide retry defaults applied to jobs that do
// not carry their own policy.
type RetryConfig struct {
	MaxRetries    int           `env:"CHRONOS_MAX_RETRIES" default:"3"`
	BaseDelay     time.Duration `env:"CHRONOS_BASE_RETRY_DELAY" default:"1m"`
	MaxDelay      time.Duration `env:"CHRONOS_MAX_RETRY_DELAY" default:"1h"`
	Strategy      string        `env:"CHRONOS_RETRY_STRATEGY" default:"exponential"`
	JitterEnabled bool          `env:"CHRONOS_JITTER_ENABLED" default:"true"`
	JitterFactor  float64       `env:"CHRONOS_JITTER_FACTOR" default:"0.2"`
}

// Validate checks the retry configuration.
func (c RetryConfig) Validate() error {
	if c.MaxRetries < 0 {
		return fmt.Errorf("CHRONOS_MAX_RETRIES must not be negative")
	}
	switch c.Strategy {
	case "fixed", "exponential", "linear", "fibonacci":
	default:
		return fmt.Errorf("unknown CHRONOS_RETRY_STRATEGY: %s", c.Strategy)
	}
	if c.JitterFactor < 0 || c.JitterFactor > 1 {
		return fmt.Errorf("CHRONOS_JITTER_FACTOR must be between 0 and 1")
	}
	return nil
}
