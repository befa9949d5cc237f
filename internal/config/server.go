package config

import (
	"fmt"
	"time"
)

// ServerConfig holds configuration for the HTTP API binary.
type ServerConfig struct {
	// HTTPAddr is the listen address of the JSON API.
	HTTPAddr string `env:"CHRONOS_HTTP_ADDR" default:":8080"`

	// DisableWorker runs the server API-only, without an embedded worker.
	DisableWorker bool `env:"CHRONOS_DISABLE_WORKER" default:"false"`

	// ShutdownTimeout bounds graceful shutdown of the HTTP server and the
	// embedded worker's drain.
	ShutdownTimeout time.Duration `env:"CHRONOS_SHUTDOWN_TIMEOUT" default:"30s"`

	// MaxBodyBytes limits request body size.
	MaxBodyBytes int64 `env:"CHRONOS_MAX_BODY_BYTES" default:"1048576"`
}

// Validate checks the server configuration.
func (c ServerConfig) Validate() error {
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("CHRONOS_SHUTDOWN_TIMEOUT must be positive")
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("CHRONOS_MAX_BODY_BYTES must be positive")
	}
	return nil
}
