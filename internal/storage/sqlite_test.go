package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestSQLiteStore(t *testing.T) {
	logger := zaptest.NewLogger(t)
	store, err := NewSQLiteStore(logger, filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()

	t.Run("Missing key", func(t *testing.T) {
		_, err := store.Load(ctx, KeyActiveIncidents)
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Save overwrites", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, KeyAlertHistory, []byte(`[{"id":"a"}]`)))
		require.NoError(t, store.Save(ctx, KeyAlertHistory, []byte(`[]`)))

		value, err := store.Load(ctx, KeyAlertHistory)
		require.NoError(t, err)
		assert.Equal(t, `[]`, string(value))
	})
}

func TestSQLiteStore_Reopen(t *testing.T) {
	logger := zaptest.NewLogger(t)
	path := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(logger, path)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, KeyHealthCheckHistory, []byte(`[1,2,3]`)))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(logger, path)
	require.NoError(t, err)
	defer reopened.Close()

	value, err := reopened.Load(ctx, KeyHealthCheckHistory)
	require.NoError(t, err)
	assert.Equal(t, `[1,2,3]`, string(value))
}

func TestMemoryStore_CopiesValues(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	buf := []byte(`[]`)
	require.NoError(t, store.Save(ctx, KeyActiveIncidents, buf))
	buf[0] = 'x'

	value, err := store.Load(ctx, KeyActiveIncidents)
	require.NoError(t, err)
	assert.Equal(t, `[]`, string(value))
}
