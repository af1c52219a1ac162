package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, cfg Config) *Store {
	t.Helper()
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = -1 // no janitor unless the test wants one
	}
	s := New(cfg)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRoundTrip(t *testing.T) {
	s := newTestStore(t, Config{})
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", "v", time.Hour))

	val, found, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v", val)

	has, err := s.Has(ctx, "k")
	require.NoError(t, err)
	assert.True(t, has)
}

func TestExpiry(t *testing.T) {
	s := newTestStore(t, Config{})
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", "v", 30*time.Millisecond))

	_, found, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)

	time.Sleep(50 * time.Millisecond)

	_, found, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)

	has, err := s.Has(ctx, "k")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestNoTTLNeverExpires(t *testing.T) {
	s := newTestStore(t, Config{})
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", "v", 0))
	time.Sleep(20 * time.Millisecond)

	_, found, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestCapacityEviction(t *testing.T) {
	ctx := context.Background()

	t.Run("evicts oldest insertion", func(t *testing.T) {
		s := newTestStore(t, Config{MaxEntries: 2})

		require.NoError(t, s.Set(ctx, "a", 1, 0))
		require.NoError(t, s.Set(ctx, "b", 2, 0))
		require.NoError(t, s.Set(ctx, "c", 3, 0))

		hasA, _ := s.Has(ctx, "a")
		hasB, _ := s.Has(ctx, "b")
		hasC, _ := s.Has(ctx, "c")
		assert.False(t, hasA)
		assert.True(t, hasB)
		assert.True(t, hasC)
	})

	t.Run("reads do not protect an entry", func(t *testing.T) {
		s := newTestStore(t, Config{MaxEntries: 2})

		require.NoError(t, s.Set(ctx, "a", 1, 0))
		require.NoError(t, s.Set(ctx, "b", 2, 0))

		// Touch "a" repeatedly; it is still the oldest insertion.
		for i := 0; i < 5; i++ {
			_, _, err := s.Get(ctx, "a")
			require.NoError(t, err)
		}

		require.NoError(t, s.Set(ctx, "c", 3, 0))

		hasA, _ := s.Has(ctx, "a")
		assert.False(t, hasA)
	})

	t.Run("overwrite counts as fresh insertion", func(t *testing.T) {
		s := newTestStore(t, Config{MaxEntries: 2})

		require.NoError(t, s.Set(ctx, "a", 1, 0))
		require.NoError(t, s.Set(ctx, "b", 2, 0))
		require.NoError(t, s.Set(ctx, "a", 10, 0)) // re-inserted at the back
		require.NoError(t, s.Set(ctx, "c", 3, 0))  // evicts b, now oldest

		hasA, _ := s.Has(ctx, "a")
		hasB, _ := s.Has(ctx, "b")
		assert.True(t, hasA)
		assert.False(t, hasB)

		val, _, _ := s.Get(ctx, "a")
		assert.Equal(t, 10, val)
	})

	t.Run("never exceeds capacity", func(t *testing.T) {
		s := newTestStore(t, Config{MaxEntries: 3})

		for i := 0; i < 50; i++ {
			require.NoError(t, s.Set(ctx, fmt.Sprintf("k%d", i), i, 0))
		}

		stats, err := s.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), stats.KeyCount)
	})
}

func TestByteBoundEviction(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, Config{MaxEntries: 100, MaxBytes: 3 * 200})

	for i := 0; i < 10; i++ {
		require.NoError(t, s.Set(ctx, fmt.Sprintf("k%d", i), "some value", 0))
	}

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.LessOrEqual(t, stats.MemoryBytes, int64(3*200))
	assert.Greater(t, stats.KeyCount, int64(0))
}

func TestDelete(t *testing.T) {
	s := newTestStore(t, Config{})
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", "v", 0))
	require.NoError(t, s.Delete(ctx, "k"))

	has, _ := s.Has(ctx, "k")
	assert.False(t, has)

	// Deleting an absent key is a no-op.
	assert.NoError(t, s.Delete(ctx, "ghost"))
}

func TestClear(t *testing.T) {
	ctx := context.Background()

	t.Run("clear everything", func(t *testing.T) {
		s := newTestStore(t, Config{})
		require.NoError(t, s.Set(ctx, "a", 1, 0))
		require.NoError(t, s.Set(ctx, "b", 2, 0))

		require.NoError(t, s.Clear(ctx, ""))

		stats, _ := s.Stats(ctx)
		assert.Equal(t, int64(0), stats.KeyCount)
		assert.Equal(t, int64(0), stats.MemoryBytes)
	})

	t.Run("glob clear removes exactly the matches", func(t *testing.T) {
		s := newTestStore(t, Config{})
		require.NoError(t, s.Set(ctx, "user:1", "a", 0))
		require.NoError(t, s.Set(ctx, "user:2", "b", 0))
		require.NoError(t, s.Set(ctx, "order:1", "c", 0))

		require.NoError(t, s.Clear(ctx, "user:*"))

		hasU1, _ := s.Has(ctx, "user:1")
		hasU2, _ := s.Has(ctx, "user:2")
		hasO1, _ := s.Has(ctx, "order:1")
		assert.False(t, hasU1)
		assert.False(t, hasU2)
		assert.True(t, hasO1)
	})
}

func TestGetMulti(t *testing.T) {
	s := newTestStore(t, Config{})
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "a", 1, 0))
	require.NoError(t, s.Set(ctx, "b", 2, 30*time.Millisecond))

	time.Sleep(50 * time.Millisecond)

	result, err := s.GetMulti(ctx, []string{"a", "b", "missing"})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"a": 1}, result)
}

func TestSetMulti(t *testing.T) {
	s := newTestStore(t, Config{})
	ctx := context.Background()

	require.NoError(t, s.SetMulti(ctx, map[string]interface{}{"a": 1, "b": 2}, time.Hour))

	result, err := s.GetMulti(ctx, []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, result, 2)
}

func TestKeys(t *testing.T) {
	s := newTestStore(t, Config{})
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "user:1", 1, 0))
	require.NoError(t, s.Set(ctx, "user:2", 2, 0))
	require.NoError(t, s.Set(ctx, "order:1", 3, 0))
	require.NoError(t, s.Set(ctx, "expired", 4, 10*time.Millisecond))

	time.Sleep(30 * time.Millisecond)

	all, err := s.Keys(ctx, "")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"user:1", "user:2", "order:1"}, all)

	users, err := s.Keys(ctx, "user:*")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"user:1", "user:2"}, users)
}

func TestStats(t *testing.T) {
	s := newTestStore(t, Config{})
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", "v", 0))

	s.Get(ctx, "k")       // hit
	s.Get(ctx, "missing") // miss
	s.Has(ctx, "k")       // hit

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.KeyCount)
	assert.Greater(t, stats.MemoryBytes, int64(0))
}

func TestSweep(t *testing.T) {
	ctx := context.Background()

	t.Run("removes expired entries without access", func(t *testing.T) {
		s := newTestStore(t, Config{SweepBatch: 2})

		for i := 0; i < 10; i++ {
			require.NoError(t, s.Set(ctx, fmt.Sprintf("dead%d", i), i, 10*time.Millisecond))
		}
		require.NoError(t, s.Set(ctx, "alive", 1, 0))

		time.Sleep(30 * time.Millisecond)

		removed := s.Sweep()
		assert.Equal(t, 10, removed)

		stats, _ := s.Stats(ctx)
		assert.Equal(t, int64(1), stats.KeyCount)
	})

	t.Run("janitor sweeps on its interval", func(t *testing.T) {
		s := New(Config{SweepInterval: 20 * time.Millisecond})
		defer s.Close()

		require.NoError(t, s.Set(ctx, "dead", 1, 10*time.Millisecond))

		assert.Eventually(t, func() bool {
			stats, _ := s.Stats(ctx)
			return stats.KeyCount == 0
		}, time.Second, 10*time.Millisecond)
	})
}

func TestConcurrentAccess(t *testing.T) {
	s := newTestStore(t, Config{MaxEntries: 128})
	ctx := context.Background()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				key := fmt.Sprintf("k%d", i%32)
				switch i % 4 {
				case 0:
					s.Set(ctx, key, i, time.Minute)
				case 1:
					s.Get(ctx, key)
				case 2:
					s.Delete(ctx, key)
				default:
					s.Keys(ctx, "k*")
				}
			}
		}(g)
	}
	wg.Wait()

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.LessOrEqual(t, stats.KeyCount, int64(128))
}
