// Package tiered composes a hot and a cold storage adapter.
//
// The hot tier is a low-latency, capacity-bounded read cache; the cold
// tier is the durable source of truth for the keyspace. The two tiers are
// kept loosely consistent: reads backfill the hot tier asynchronously,
// writes go to both tiers without rollback on partial failure, and
// momentary divergence between tiers is accepted rather than corrected.
package tiered

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"cachetier/internal/common/logging"
	"cachetier/internal/store"
)

// Config holds tiered store configuration
type Config struct {
	// HotTTL is the hot tier's default entry lifetime (default 1 minute)
	HotTTL time.Duration
	// ColdTTL is the cold tier's default entry lifetime (default 30 minutes)
	ColdTTL time.Duration
	// Logger receives backfill diagnostics; defaults to the global logger
	Logger logging.Logger
}

func (c *Config) withDefaults() Config {
	cfg := *c
	if cfg.HotTTL == 0 {
		cfg.HotTTL = time.Minute
	}
	if cfg.ColdTTL == 0 {
		cfg.ColdTTL = 30 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.GetGlobalLogger()
	}
	return cfg
}

// Store composes a hot and a cold adapter.
type Store struct {
	hot  store.Adapter
	cold store.Adapter
	cfg  Config

	// tasks tracks fire-and-forget backfills so Close can drain them
	tasks sync.WaitGroup
}

var _ store.Adapter = (*Store)(nil)

// New creates a tiered store over the given hot and cold adapters.
func New(hot, cold store.Adapter, cfg Config) *Store {
	return &Store{hot: hot, cold: cold, cfg: cfg.withDefaults()}
}

// Get checks the hot tier first. On a hot miss the cold tier is queried
// and, on a hit, the hot tier is backfilled asynchronously; backfill
// failure is logged, never propagated to the reader.
func (s *Store) Get(ctx context.Context, key string) (interface{}, bool, error) {
	val, found, err := s.hot.Get(ctx, key)
	if err != nil {
		// The hot tier is never authoritative; a failing hot tier
		// degrades to a miss so the cold tier can still serve.
		s.cfg.Logger.Warn("hot tier read failed", logging.Field{Key: "key", Value: key}, logging.Err(err))
	} else if found {
		return val, true, nil
	}

	val, found, err = s.cold.Get(ctx, key)
	if err != nil || !found {
		return nil, false, err
	}

	s.backfill(key, val)
	return val, true, nil
}

// Set writes both tiers concurrently. The effective TTL per tier is the
// explicit argument when given, else that tier's default. A failure on
// either tier is surfaced without rolling back the tier that succeeded.
func (s *Store) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return s.both(
		func() error { return s.hot.Set(ctx, key, value, s.tierTTL(ttl, s.cfg.HotTTL)) },
		func() error { return s.cold.Set(ctx, key, value, s.tierTTL(ttl, s.cfg.ColdTTL)) },
	)
}

// Delete removes the keys from both tiers concurrently.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	return s.both(
		func() error { return s.hot.Delete(ctx, keys...) },
		func() error { return s.cold.Delete(ctx, keys...) },
	)
}

// Clear without a pattern empties both tiers. A pattern clear needs
// keyspace enumeration and is delegated to the cold tier only; hot
// entries age out on their short TTL.
func (s *Store) Clear(ctx context.Context, pattern string) error {
	if pattern == "" {
		return s.both(
			func() error { return s.hot.Clear(ctx, "") },
			func() error { return s.cold.Clear(ctx, "") },
		)
	}
	return s.cold.Clear(ctx, pattern)
}

// Has is consistent with Get: hot first, then cold.
func (s *Store) Has(ctx context.Context, key string) (bool, error) {
	found, err := s.hot.Has(ctx, key)
	if err != nil {
		s.cfg.Logger.Warn("hot tier lookup failed", logging.Field{Key: "key", Value: key}, logging.Err(err))
	} else if found {
		return true, nil
	}
	return s.cold.Has(ctx, key)
}

// GetMulti resolves as many keys as possible from the hot tier, fetches
// the remainder from the cold tier, asynchronously backfills exactly
// those, and merges with cold-resolved values taking precedence.
func (s *Store) GetMulti(ctx context.Context, keys []string) (map[string]interface{}, error) {
	fromHot, err := s.hot.GetMulti(ctx, keys)
	if err != nil {
		s.cfg.Logger.Warn("hot tier multi-read failed", logging.Err(err))
		fromHot = map[string]interface{}{}
	}

	var missing []string
	for _, key := range keys {
		if _, ok := fromHot[key]; !ok {
			missing = append(missing, key)
		}
	}

	result := make(map[string]interface{}, len(keys))
	for key, val := range fromHot {
		result[key] = val
	}
	if len(missing) == 0 {
		return result, nil
	}

	fromCold, err := s.cold.GetMulti(ctx, missing)
	if err != nil {
		return nil, err
	}
	for key, val := range fromCold {
		result[key] = val
	}

	if len(fromCold) > 0 {
		s.backfillMulti(fromCold)
	}
	return result, nil
}

// SetMulti writes both tiers concurrently with per-tier TTL defaulting.
func (s *Store) SetMulti(ctx context.Context, entries map[string]interface{}, ttl time.Duration) error {
	return s.both(
		func() error { return s.hot.SetMulti(ctx, entries, s.tierTTL(ttl, s.cfg.HotTTL)) },
		func() error { return s.cold.SetMulti(ctx, entries, s.tierTTL(ttl, s.cfg.ColdTTL)) },
	)
}

// Keys enumerates the cold tier, the keyspace source of truth.
func (s *Store) Keys(ctx context.Context, pattern string) ([]string, error) {
	return s.cold.Keys(ctx, pattern)
}

// Stats merges both tiers: hits are summed, misses take the maximum so a
// cold miss following a hot miss is not counted twice, the key count
// comes from the cold tier and memory is summed.
func (s *Store) Stats(ctx context.Context) (store.Stats, error) {
	hotStats, err := s.hot.Stats(ctx)
	if err != nil {
		return store.Stats{}, err
	}
	coldStats, err := s.cold.Stats(ctx)
	if err != nil {
		return store.Stats{}, err
	}

	misses := hotStats.Misses
	if coldStats.Misses > misses {
		misses = coldStats.Misses
	}
	uptime := hotStats.UptimeMillis
	if coldStats.UptimeMillis > uptime {
		uptime = coldStats.UptimeMillis
	}

	return store.Stats{
		Hits:         hotStats.Hits + coldStats.Hits,
		Misses:       misses,
		KeyCount:     coldStats.KeyCount,
		MemoryBytes:  hotStats.MemoryBytes + coldStats.MemoryBytes,
		UptimeMillis: uptime,
	}, nil
}

// Close drains outstanding backfills, then closes both tiers.
func (s *Store) Close() error {
	s.tasks.Wait()
	return s.both(
		func() error { return s.hot.Close() },
		func() error { return s.cold.Close() },
	)
}

// tierTTL resolves the effective TTL for one tier.
func (s *Store) tierTTL(explicit, tierDefault time.Duration) time.Duration {
	switch {
	case explicit > 0:
		return explicit
	case explicit == store.NoExpiry:
		return store.NoExpiry
	default:
		return tierDefault
	}
}

// both runs two tier operations concurrently and aggregates failures.
func (s *Store) both(hotOp, coldOp func() error) error {
	var wg sync.WaitGroup
	var hotErr, coldErr error

	wg.Add(2)
	go func() {
		defer wg.Done()
		hotErr = hotOp()
	}()
	go func() {
		defer wg.Done()
		coldErr = coldOp()
	}()
	wg.Wait()

	var result *multierror.Error
	result = multierror.Append(result, hotErr, coldErr)
	return result.ErrorOrNil()
}

func (s *Store) backfill(key string, value interface{}) {
	s.tasks.Add(1)
	go func() {
		defer s.tasks.Done()
		// Detached from the caller's context: the read that triggered
		// this backfill must not wait for it or be failed by it.
		if err := s.hot.Set(context.Background(), key, value, s.cfg.HotTTL); err != nil {
			s.cfg.Logger.Warn("hot tier backfill failed",
				logging.Field{Key: "key", Value: key}, logging.Err(err))
		}
	}()
}

func (s *Store) backfillMulti(entries map[string]interface{}) {
	s.tasks.Add(1)
	go func() {
		defer s.tasks.Done()
		if err := s.hot.SetMulti(context.Background(), entries, s.cfg.HotTTL); err != nil {
			s.cfg.Logger.Warn("hot tier backfill failed",
				logging.Field{Key: "count", Value: len(entries)}, logging.Err(err))
		}
	}()
}
