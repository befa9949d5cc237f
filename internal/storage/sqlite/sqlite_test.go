package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chronoshq/chronos/internal/storage"
	"github.com/chronoshq/chronos/internal/storage/compliance"
)

func TestCompliance(t *testing.T) {
	compliance.Run(t, func(t *testing.T) (storage.Store, func()) {
		path := filepath.Join(t.TempDir(), "chronos.db")
		store, err := Open(context.Background(), path)
		require.NoError(t, err)
		return store, func() { store.Close() }
	})
}
