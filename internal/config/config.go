// Package config loads the engine configuration from CHRONOS_ environment
// variables.
package config

import (
	"fmt"

	"github.com/chronoshq/chronos/internal/env"
)

// Config is the root configuration shared by the server and worker binaries.
type Config struct {
	Storage       StorageConfig
	Server        ServerConfig
	Worker        WorkerConfig
	Retry         RetryConfig
	Observability ObservabilityConfig
}

// Load parses environment variables into a Config and validates it.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Load(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}
