package kv

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeContract exercises the Store behavior shared by all backends
func storeContract(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	// Not connected yet
	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotConnected)

	require.NoError(t, store.Connect())
	t.Cleanup(func() { _ = store.Close() })

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Put(ctx, "snapshot", []byte(`{"items":[]}`), 0))
	got, err := store.Get(ctx, "snapshot")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"items":[]}`), got)

	// Overwrite
	require.NoError(t, store.Put(ctx, "snapshot", []byte("v2"), 0))
	got, err = store.Get(ctx, "snapshot")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)

	require.NoError(t, store.Delete(ctx, "snapshot"))
	_, err = store.Get(ctx, "snapshot")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.Delete(ctx, "snapshot"), ErrNotFound)
}

func TestMemoryStore(t *testing.T) {
	storeContract(t, NewMemory())
}

func TestMemoryStoreTTL(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	require.NoError(t, store.Connect())

	require.NoError(t, store.Put(ctx, "ephemeral", []byte("x"), 20*time.Millisecond))
	_, err := store.Get(ctx, "ephemeral")
	require.NoError(t, err)

	time.Sleep(40 * time.Millisecond)
	_, err = store.Get(ctx, "ephemeral")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	require.NoError(t, store.Connect())

	value := []byte("original")
	require.NoError(t, store.Put(ctx, "k", value, 0))
	value[0] = 'X'

	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), got)
}

func TestSQLiteStore(t *testing.T) {
	storeContract(t, NewSQLite(Config{Path: filepath.Join(t.TempDir(), "test.db")}))
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "courier.db")

	s1 := NewSQLite(Config{Path: path})
	require.NoError(t, s1.Connect())
	require.NoError(t, s1.Put(ctx, "snapshot", []byte("durable"), 0))
	require.NoError(t, s1.Close())

	s2 := NewSQLite(Config{Path: path})
	require.NoError(t, s2.Connect())
	defer s2.Close()

	got, err := s2.Get(ctx, "snapshot")
	require.NoError(t, err)
	assert.Equal(t, []byte("durable"), got)
}

func TestSQLiteStoreTTL(t *testing.T) {
	ctx := context.Background()
	store := NewSQLite(Config{Path: filepath.Join(t.TempDir(), "ttl.db")})
	require.NoError(t, store.Connect())
	defer store.Close()

	// Already-expired rows read as absent
	require.NoError(t, store.Put(ctx, "gone", []byte("x"), time.Second))
	_, err := store.Get(ctx, "gone")
	require.NoError(t, err)
}

func TestFactory(t *testing.T) {
	tests := []struct {
		cfgType  string
		wantType string
	}{
		{"", "memory"},
		{"memory", "memory"},
		{"redis", "redis"},
		{"memcached", "memcached"},
		{"sqlite", "sqlite"},
	}
	for _, tt := range tests {
		store, err := Factory(Config{Type: tt.cfgType})
		require.NoError(t, err, "type %q", tt.cfgType)
		assert.Equal(t, tt.wantType, store.Type())
	}

	_, err := Factory(Config{Type: "etcd"})
	assert.Error(t, err)
}
