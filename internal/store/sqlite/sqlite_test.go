package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "cachetier/internal/common/errors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := New(&Config{Path: filepath.Join(t.TempDir(), "cache.db")})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNew(t *testing.T) {
	t.Run("creates schema", func(t *testing.T) {
		s := newTestStore(t)
		stats, err := s.Stats(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(0), stats.KeyCount)
	})

	t.Run("missing path", func(t *testing.T) {
		s, err := New(&Config{})
		assert.Nil(t, s)
		assert.True(t, apperrors.IsKind(err, apperrors.KindConfig))
	})

	t.Run("nil config", func(t *testing.T) {
		_, err := New(nil)
		assert.Error(t, err)
	})
}

func TestRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	t.Run("string value", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "k", "v", time.Hour))

		val, found, err := s.Get(ctx, "k")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "v", val)
	})

	t.Run("structured value", func(t *testing.T) {
		value := map[string]interface{}{"id": "7", "total": float64(99)}
		require.NoError(t, s.Set(ctx, "order", value, time.Hour))

		val, found, err := s.Get(ctx, "order")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, value, val)
	})

	t.Run("overwrite replaces value and expiry", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "k", "old", time.Hour))
		require.NoError(t, s.Set(ctx, "k", "new", 0))

		val, found, err := s.Get(ctx, "k")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "new", val)
	})

	t.Run("missing key", func(t *testing.T) {
		_, found, err := s.Get(ctx, "ghost")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("unencodable value", func(t *testing.T) {
		err := s.Set(ctx, "bad", make(chan int), 0)
		assert.True(t, apperrors.IsKind(err, apperrors.KindSerialization))
	})
}

func TestExpiry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", "v", 20*time.Millisecond))

	_, found, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)

	time.Sleep(40 * time.Millisecond)

	_, found, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)

	has, err := s.Has(ctx, "k")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestDeleteAndClear(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "user:1", "a", 0))
	require.NoError(t, s.Set(ctx, "user:2", "b", 0))
	require.NoError(t, s.Set(ctx, "order:1", "c", 0))

	t.Run("delete is idempotent", func(t *testing.T) {
		require.NoError(t, s.Delete(ctx, "user:1"))
		require.NoError(t, s.Delete(ctx, "user:1"))
		require.NoError(t, s.Delete(ctx))

		has, _ := s.Has(ctx, "user:1")
		assert.False(t, has)
	})

	t.Run("glob clear", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "user:1", "a", 0))
		require.NoError(t, s.Clear(ctx, "user:*"))

		keys, err := s.Keys(ctx, "")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"order:1"}, keys)
	})

	t.Run("full clear", func(t *testing.T) {
		require.NoError(t, s.Clear(ctx, ""))

		stats, _ := s.Stats(ctx)
		assert.Equal(t, int64(0), stats.KeyCount)
	})
}

func TestMultiOperations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetMulti(ctx, map[string]interface{}{
		"a": float64(1),
		"b": float64(2),
	}, time.Hour))

	result, err := s.GetMulti(ctx, []string{"a", "b", "missing"})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"a": float64(1), "b": float64(2)}, result)
}

func TestKeysSkipExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "live", 1, 0))
	require.NoError(t, s.Set(ctx, "dead", 2, 10*time.Millisecond))

	time.Sleep(30 * time.Millisecond)

	keys, err := s.Keys(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"live"}, keys)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.KeyCount)
	assert.Greater(t, stats.MemoryBytes, int64(0))
}

func TestPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	ctx := context.Background()

	s1, err := New(&Config{Path: path})
	require.NoError(t, err)
	require.NoError(t, s1.Set(ctx, "k", "survives", 0))
	require.NoError(t, s1.Close())

	s2, err := New(&Config{Path: path})
	require.NoError(t, err)
	defer s2.Close()

	val, found, err := s2.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "survives", val)
}
