package storage

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutAndGet(t *testing.T) {
	s := setupTestStore(t)

	require.NoError(t, s.Put("settings", `{"autoSuspend":true}`))

	got, ok, err := s.Get("settings")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"autoSuspend":true}`, got)
}

func TestGetMissingKey(t *testing.T) {
	s := setupTestStore(t)

	_, ok, err := s.Get("nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPutOverwrites(t *testing.T) {
	s := setupTestStore(t)

	require.NoError(t, s.Put("k", "v1"))
	require.NoError(t, s.Put("k", "v2"))

	got, ok, err := s.Get("k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v2", got)
}

func TestDelete(t *testing.T) {
	s := setupTestStore(t)

	require.NoError(t, s.Put("k", "v"))
	require.NoError(t, s.Delete("k"))

	_, ok, err := s.Get("k")
	require.NoError(t, err)
	assert.False(t, ok)

	// Deleting again is a no-op.
	require.NoError(t, s.Delete("k"))
}

func TestMigrateIdempotent(t *testing.T) {
	s := setupTestStore(t)
	require.NoError(t, s.migrate())
	require.NoError(t, s.migrate())
}
