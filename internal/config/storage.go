package config

import "fmt"

// Storage backend names.
const (
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	// Type is one of sqlite, postgres or memory. The memory backend is for
	// local experiments only; it loses everything on restart.
	Type string `env:"CHRONOS_STORAGE_TYPE" default:"sqlite"`

	PostgresURL string `env:"CHRONOS_POSTGRES_URL"`
	SQLitePath  string `env:"CHRONOS_SQLITE_PATH" default:"./chronos.db"`
}

// Validate checks that the selected backend has what it needs.
func (c StorageConfig) Validate() error {
	switch c.Type {
	case StorageSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("CHRONOS_SQLITE_PATH is required when CHRONOS_STORAGE_TYPE is %q", StorageSQLite)
		}
	case StoragePostgres:
		if c.PostgresURL == "" {
			return fmt.Errorf("CHRONOS_POSTGRES_URL is required when CHRONOS_STORAGE_TYPE is %q", StoragePostgres)
		}
	case StorageMemory:
	default:
		return fmt.Errorf("unknown CHRONOS_STORAGE_TYPE: %s", c.Type)
	}
	return nil
}
