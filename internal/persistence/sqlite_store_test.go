package persistence

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStore_ScopeRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := NewSQLiteStore(filepath.Join(dir, "memory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()

	got, err := store.GetScope(ctx, "unknown")
	require.NoError(t, err)
	assert.Nil(t, got)

	payload := []byte(`{"en:zh:p:m:sig":{"translated":"译文"}}`)
	require.NoError(t, store.PutScope(ctx, "scope-a", payload))

	got, err = store.GetScope(ctx, "scope-a")
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestSQLiteStore_PutScopeOverwrites(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := NewSQLiteStore(filepath.Join(dir, "memory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	require.NoError(t, store.PutScope(ctx, "s", []byte(`{"a":1}`)))
	require.NoError(t, store.PutScope(ctx, "s", []byte(`{"b":2}`)))

	got, err := store.GetScope(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"b":2}`), got)
}

func TestSQLiteStore_ScopesAreIsolated(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := NewSQLiteStore(filepath.Join(dir, "memory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	require.NoError(t, store.PutScope(ctx, "a", []byte(`{"v":"a"}`)))
	require.NoError(t, store.PutScope(ctx, "b", []byte(`{"v":"b"}`)))

	a, err := store.GetScope(ctx, "a")
	require.NoError(t, err)
	b, err := store.GetScope(ctx, "b")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestSQLiteStore_ReopenKeepsData(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "memory.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, store.PutScope(ctx, "s", []byte(`{"keep":true}`)))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	got, err := reopened.GetScope(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"keep":true}`), got)
}

func TestSQLiteStore_EmptyPathRejected(t *testing.T) {
	t.Parallel()

	_, err := NewSQLiteStore("  ")
	require.Error(t, err)
}
