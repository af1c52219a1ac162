// Package store defines the uniform contract every cache backend
// implements: bounded in-process memory, remote redis, durable sqlite, and
// the tiered composition of a hot and a cold adapter.
package store

import (
	"context"
	"time"
)

// NoExpiry requests storage without expiry from layers that would
// otherwise substitute a default TTL for a zero value. Leaf adapters
// treat any ttl <= 0 as no expiry.
const NoExpiry time.Duration = -1

// Adapter is the uniform storage contract.
//
// Get/Has/GetMulti never treat a missing key as an error; an expired entry
// is indistinguishable from an absent one. Delete on an absent key is a
// no-op. A ttl <= 0 on Set/SetMulti stores the entry without expiry at this
// layer. Clear and Keys accept an anchored glob pattern where '*' matches
// any run of characters and the pattern must match the whole key; the
// empty pattern means everything.
type Adapter interface {
	Get(ctx context.Context, key string) (interface{}, bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Clear(ctx context.Context, pattern string) error
	Has(ctx context.Context, key string) (bool, error)
	GetMulti(ctx context.Context, keys []string) (map[string]interface{}, error)
	SetMulti(ctx context.Context, entries map[string]interface{}, ttl time.Duration) error
	Keys(ctx context.Context, pattern string) ([]string, error)
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// Stats is a point-in-time snapshot of adapter counters. It is not
// transactionally consistent with concurrent mutators.
type Stats struct {
	Hits         uint64 `json:"hits"`
	Misses       uint64 `json:"misses"`
	KeyCount     int64  `json:"key_count"`
	MemoryBytes  int64  `json:"approx_memory_bytes"`
	UptimeMillis int64  `json:"uptime_millis"`
}

// Add merges two snapshots field-wise (used by the tiered composition).
func (s Stats) Add(other Stats) Stats {
	return Stats{
		Hits:         s.Hits + other.Hits,
		Misses:       s.Misses + other.Misses,
		KeyCount:     s.KeyCount + other.KeyCount,
		MemoryBytes:  s.MemoryBytes + other.MemoryBytes,
		UptimeMillis: maxInt64(s.UptimeMillis, other.UptimeMillis),
	}
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
