package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chronoshq/chronos/internal/storage"
	"github.com/chronoshq/chronos/internal/storage/compliance"
)

// TestCompliance needs a real database. Point CHRONOS_TEST_POSTGRES_URL at
// a disposable instance; each run truncates all tables between subtests.
func TestCompliance(t *testing.T) {
	dsn := os.Getenv("CHRONOS_TEST_POSTGRES_URL")
	if dsn == "" {
		t.Skip("CHRONOS_TEST_POSTGRES_URL not set")
	}

	ctx := context.Background()
	store, err := Connect(ctx, dsn)
	require.NoError(t, err)
	defer store.Close()

	compliance.Run(t, func(t *testing.T) (storage.Store, func()) {
		_, err := store.Pool().Exec(ctx,
			`TRUNCATE jobs, execution_logs, locks, counters`)
		require.NoError(t, err)
		return store, func() {}
	})
}
