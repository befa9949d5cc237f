package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StorageSQLite, cfg.Storage.Type)
	assert.Equal(t, "./chronos.db", cfg.Storage.SQLitePath)
	assert.Equal(t, ":8080", cfg.Server.HTTPAddr)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 5, cfg.Worker.Concurrency)
	assert.Equal(t, 5*time.Second, cfg.Worker.PollInterval)
	assert.Equal(t, 5*time.Minute, cfg.Worker.LockTimeout)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, "exponential", cfg.Retry.Strategy)
	assert.InDelta(t, 0.2, cfg.Retry.JitterFactor, 1e-9)
	assert.False(t, cfg.Observability.OTelEnabled)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("CHRONOS_STORAGE_TYPE", "postgres")
	t.Setenv("CHRONOS_POSTGRES_URL", "postgres://localhost/chronos")
	t.Setenv("CHRONOS_CONCURRENCY", "12")
	t.Setenv("CHRONOS_POLL_INTERVAL", "500ms")
	t.Setenv("CHRONOS_DISABLE_WORKER", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StoragePostgres, cfg.Storage.Type)
	assert.Equal(t, 12, cfg.Worker.Concurrency)
	assert.Equal(t, 500*time.Millisecond, cfg.Worker.PollInterval)
	assert.True(t, cfg.Server.DisableWorker)
}

func TestLoadRejectsMissingPostgresURL(t *testing.T) {
	t.Setenv("CHRONOS_STORAGE_TYPE", "postgres")
	t.Setenv("CHRONOS_POSTGRES_URL", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CHRONOS_POSTGRES_URL")
}

func TestLoadRejectsBadStrategy(t *testing.T) {
	t.Setenv("CHRONOS_RETRY_STRATEGY", "quadratic")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CHRONOS_RETRY_STRATEGY")
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("CHRONOS_POLL_INTERVAL", "soon")

	_, err := Load()
	require.Error(t, err)
}
