// Package redis adapts a remote Redis service to the storage contract.
//
// Values are stored as JSON. Keyspace enumeration (Keys, Clear with a
// pattern) relies on SCAN and can be disabled for backends where a full
// keyspace walk is prohibitively expensive; callers then receive a
// capability-unsupported failure and must tolerate the degraded behavior.
package redis

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"

	goredis "github.com/go-redis/redis/v8"

	apperrors "cachetier/internal/common/errors"
	"cachetier/internal/store"
)

// Config holds redis adapter configuration
type Config struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`

	// DisableScan makes Keys and pattern Clear return a
	// capability-unsupported failure instead of walking the keyspace
	DisableScan bool `json:"disable_scan"`

	// ScanCount is the SCAN page size (default 100)
	ScanCount int64 `json:"scan_count"`
}

func (c *Config) withDefaults() Config {
	cfg := *c
	if cfg.Address == "" {
		cfg.Address = "localhost:6379"
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = 10
	}
	if cfg.ScanCount == 0 {
		cfg.ScanCount = 100
	}
	return cfg
}

// Store is a storage adapter backed by a remote Redis service.
type Store struct {
	client *goredis.Client
	cfg    Config
	hits   uint64
	misses uint64
	start  time.Time
}

var _ store.Adapter = (*Store)(nil)

// New dials the remote service and verifies connectivity before returning;
// a failed ping never leaves a partially initialized adapter behind.
func New(cfg *Config) (*Store, error) {
	if cfg == nil {
		return nil, apperrors.ConfigError("redis config is required")
	}
	resolved := cfg.withDefaults()

	client := goredis.NewClient(&goredis.Options{
		Addr:     resolved.Address,
		Password: resolved.Password,
		DB:       resolved.DB,
		PoolSize: resolved.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, apperrors.ConnectionError("failed to connect to redis", err)
	}

	return &Store{client: client, cfg: resolved, start: time.Now()}, nil
}

// NewWithClient wraps an existing client (shared pools, tests).
func NewWithClient(client *goredis.Client, cfg Config) *Store {
	return &Store{client: client, cfg: cfg.withDefaults(), start: time.Now()}
}

// Get returns the decoded value for key, or absent on miss or expiry.
func (s *Store) Get(ctx context.Context, key string) (interface{}, bool, error) {
	raw, err := s.client.Get(ctx, key).Result()
	if err == goredis.Nil {
		atomic.AddUint64(&s.misses, 1)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperrors.ConnectionError("redis get failed", err).WithContext("key", key)
	}
	atomic.AddUint64(&s.hits, 1)
	return decode(raw), true, nil
}

// Set stores value under key; the contract's TTL is handed to the remote
// service in its native unit by the client library.
func (s *Store) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return apperrors.SerializationError("value is not JSON encodable", err).WithContext("key", key)
	}
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return apperrors.ConnectionError("redis set failed", err).WithContext("key", key)
	}
	return nil
}

// Delete removes the given keys; absent keys are ignored.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return apperrors.ConnectionError("redis delete failed", err)
	}
	return nil
}

// Clear removes matching entries. An empty pattern flushes the logical
// database; a glob pattern requires SCAN and respects DisableScan.
func (s *Store) Clear(ctx context.Context, pattern string) error {
	if pattern == "" {
		if err := s.client.FlushDB(ctx).Err(); err != nil {
			return apperrors.ConnectionError("redis flush failed", err)
		}
		return nil
	}

	if s.cfg.DisableScan {
		return apperrors.UnsupportedError("clear by pattern")
	}

	keys, err := s.scan(ctx, pattern)
	if err != nil {
		return err
	}
	return s.Delete(ctx, keys...)
}

// Has reports whether key exists, consistent with Get regarding expiry.
func (s *Store) Has(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, apperrors.ConnectionError("redis exists failed", err).WithContext("key", key)
	}
	if n == 0 {
		atomic.AddUint64(&s.misses, 1)
		return false, nil
	}
	atomic.AddUint64(&s.hits, 1)
	return true, nil
}

// GetMulti returns a mapping of only the present keys. There is no
// atomicity across keys.
func (s *Store) GetMulti(ctx context.Context, keys []string) (map[string]interface{}, error) {
	if len(keys) == 0 {
		return map[string]interface{}{}, nil
	}

	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, apperrors.ConnectionError("redis mget failed", err)
	}

	result := make(map[string]interface{}, len(keys))
	for i, val := range vals {
		if val == nil {
			atomic.AddUint64(&s.misses, 1)
			continue
		}
		atomic.AddUint64(&s.hits, 1)
		if raw, ok := val.(string); ok {
			result[keys[i]] = decode(raw)
		}
	}
	return result, nil
}

// SetMulti applies per-key Set semantics through one pipeline round trip.
func (s *Store) SetMulti(ctx context.Context, entries map[string]interface{}, ttl time.Duration) error {
	if len(entries) == 0 {
		return nil
	}
	if ttl < 0 {
		ttl = 0
	}

	pipe := s.client.Pipeline()
	for key, value := range entries {
		data, err := json.Marshal(value)
		if err != nil {
			return apperrors.SerializationError("value is not JSON encodable", err).WithContext("key", key)
		}
		pipe.Set(ctx, key, data, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return apperrors.ConnectionError("redis pipelined set failed", err)
	}
	return nil
}

// Keys lists keys matching the anchored glob pattern ("" = all); requires
// SCAN and respects DisableScan.
func (s *Store) Keys(ctx context.Context, pattern string) ([]string, error) {
	if s.cfg.DisableScan {
		return nil, apperrors.UnsupportedError("listKeys")
	}
	if pattern == "" {
		pattern = "*"
	}
	return s.scan(ctx, pattern)
}

// Stats returns locally tracked hit/miss counters plus the remote key
// count. Remote memory usage is not introspected and reports zero.
func (s *Store) Stats(ctx context.Context) (store.Stats, error) {
	keyCount, err := s.client.DBSize(ctx).Result()
	if err != nil {
		return store.Stats{}, apperrors.ConnectionError("redis dbsize failed", err)
	}
	return store.Stats{
		Hits:         atomic.LoadUint64(&s.hits),
		Misses:       atomic.LoadUint64(&s.misses),
		KeyCount:     keyCount,
		UptimeMillis: time.Since(s.start).Milliseconds(),
	}, nil
}

// Close releases the client connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

// Health pings the remote service.
func (s *Store) Health(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return apperrors.ConnectionError("redis ping failed", err)
	}
	return nil
}

func (s *Store) scan(ctx context.Context, pattern string) ([]string, error) {
	iter := s.client.Scan(ctx, 0, translateGlob(pattern), s.cfg.ScanCount).Iterator()

	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, apperrors.ConnectionError("redis scan failed", err)
	}
	return keys, nil
}

// translateGlob maps the contract's glob (only '*' is special) onto the
// MATCH syntax, escaping characters MATCH would otherwise interpret.
func translateGlob(pattern string) string {
	replacer := strings.NewReplacer(
		`\`, `\\`,
		`?`, `\?`,
		`[`, `\[`,
		`]`, `\]`,
	)
	return replacer.Replace(pattern)
}

// decode unmarshals a stored JSON payload; values written by other
// clients that are not JSON come back as raw strings.
func decode(raw string) interface{} {
	var result interface{}
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return raw
	}
	return result
}
