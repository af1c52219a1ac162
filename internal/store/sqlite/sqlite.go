// Package sqlite implements a durable cold-tier adapter on SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"

	apperrors "cachetier/internal/common/errors"
	"cachetier/internal/store"
)

// purgeEvery is the number of writes between opportunistic purges of
// expired rows; lazy removal on read handles the rest.
const purgeEvery = 128

// Config holds sqlite adapter configuration
type Config struct {
	// Path is the database file path
	Path string `json:"path"`
}

// Store is a storage adapter persisting entries in a SQLite database.
type Store struct {
	db     *sql.DB
	hits   uint64
	misses uint64
	writes uint64
	start  time.Time
}

var _ store.Adapter = (*Store)(nil)

// New opens the database, verifies connectivity and runs the schema
// migration; a failure never leaves a partially initialized adapter.
func New(cfg *Config) (*Store, error) {
	if cfg == nil || cfg.Path == "" {
		return nil, apperrors.ConfigError("sqlite path is required")
	}

	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, apperrors.AdapterError("failed to open sqlite database", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, apperrors.AdapterError("failed to ping sqlite database", err)
	}

	s := &Store{db: db, start: time.Now()}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS cache_entries (
		key        TEXT PRIMARY KEY,
		value      BLOB NOT NULL,
		expires_at INTEGER
	)`)
	if err != nil {
		return apperrors.AdapterError("failed to migrate cache schema", err)
	}
	return nil
}

// Get returns the live value for key, lazily deleting an expired row.
func (s *Store) Get(ctx context.Context, key string) (interface{}, bool, error) {
	var raw []byte
	var expiresAt sql.NullInt64

	err := s.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM cache_entries WHERE key = ?`, key).
		Scan(&raw, &expiresAt)
	if err == sql.ErrNoRows {
		atomic.AddUint64(&s.misses, 1)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperrors.AdapterError("sqlite get failed", err).WithContext("key", key)
	}

	if rowExpired(expiresAt) {
		s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key)
		atomic.AddUint64(&s.misses, 1)
		return nil, false, nil
	}

	atomic.AddUint64(&s.hits, 1)
	return decode(raw), true, nil
}

// Set stores value under key, overwriting any existing row.
func (s *Store) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return apperrors.SerializationError("value is not JSON encodable", err).WithContext("key", key)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO cache_entries (key, value, expires_at) VALUES (?, ?, ?)`,
		key, data, expiryArg(ttl))
	if err != nil {
		return apperrors.AdapterError("sqlite set failed", err).WithContext("key", key)
	}

	s.maybePurge(ctx)
	return nil
}

// Delete removes the given keys; absent keys are ignored.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	args := make([]interface{}, len(keys))
	for i, key := range keys {
		args[i] = key
	}

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE key IN (`+placeholders+`)`, args...)
	if err != nil {
		return apperrors.AdapterError("sqlite delete failed", err)
	}
	return nil
}

// Clear removes every entry matching the anchored glob pattern, or all
// entries when the pattern is empty.
func (s *Store) Clear(ctx context.Context, pattern string) error {
	if pattern == "" {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries`); err != nil {
			return apperrors.AdapterError("sqlite clear failed", err)
		}
		return nil
	}

	keys, err := s.Keys(ctx, pattern)
	if err != nil {
		return err
	}
	return s.Delete(ctx, keys...)
}

// Has reports whether key holds a live row, consistent with Get.
func (s *Store) Has(ctx context.Context, key string) (bool, error) {
	var expiresAt sql.NullInt64

	err := s.db.QueryRowContext(ctx,
		`SELECT expires_at FROM cache_entries WHERE key = ?`, key).
		Scan(&expiresAt)
	if err == sql.ErrNoRows {
		atomic.AddUint64(&s.misses, 1)
		return false, nil
	}
	if err != nil {
		return false, apperrors.AdapterError("sqlite has failed", err).WithContext("key", key)
	}

	if rowExpired(expiresAt) {
		s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key)
		atomic.AddUint64(&s.misses, 1)
		return false, nil
	}

	atomic.AddUint64(&s.hits, 1)
	return true, nil
}

// GetMulti returns a mapping of only the present keys.
func (s *Store) GetMulti(ctx context.Context, keys []string) (map[string]interface{}, error) {
	result := make(map[string]interface{}, len(keys))
	if len(keys) == 0 {
		return result, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	args := make([]interface{}, len(keys))
	for i, key := range keys {
		args[i] = key
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value, expires_at FROM cache_entries WHERE key IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, apperrors.AdapterError("sqlite multi-get failed", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var raw []byte
		var expiresAt sql.NullInt64
		if err := rows.Scan(&key, &raw, &expiresAt); err != nil {
			return nil, apperrors.AdapterError("sqlite row scan failed", err)
		}
		if rowExpired(expiresAt) {
			continue
		}
		result[key] = decode(raw)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.AdapterError("sqlite multi-get failed", err)
	}

	atomic.AddUint64(&s.hits, uint64(len(result)))
	atomic.AddUint64(&s.misses, uint64(len(keys)-len(result)))
	return result, nil
}

// SetMulti applies per-key Set semantics in one transaction.
func (s *Store) SetMulti(ctx context.Context, entries map[string]interface{}, ttl time.Duration) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.AdapterError("sqlite transaction begin failed", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO cache_entries (key, value, expires_at) VALUES (?, ?, ?)`)
	if err != nil {
		return apperrors.AdapterError("sqlite prepare failed", err)
	}
	defer stmt.Close()

	expiry := expiryArg(ttl)
	for key, value := range entries {
		data, err := json.Marshal(value)
		if err != nil {
			return apperrors.SerializationError("value is not JSON encodable", err).WithContext("key", key)
		}
		if _, err := stmt.ExecContext(ctx, key, data, expiry); err != nil {
			return apperrors.AdapterError("sqlite set failed", err).WithContext("key", key)
		}
	}

	if err := tx.Commit(); err != nil {
		return apperrors.AdapterError("sqlite transaction commit failed", err)
	}

	s.maybePurge(ctx)
	return nil
}

// Keys lists live keys matching the anchored glob pattern ("" = all).
func (s *Store) Keys(ctx context.Context, pattern string) ([]string, error) {
	var matcher func(string) bool = func(string) bool { return true }
	if pattern != "" {
		re, err := store.CompilePattern(pattern)
		if err != nil {
			return nil, err
		}
		matcher = re.MatchString
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM cache_entries WHERE expires_at IS NULL OR expires_at > ?`,
		time.Now().UnixMilli())
	if err != nil {
		return nil, apperrors.AdapterError("sqlite key listing failed", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, apperrors.AdapterError("sqlite row scan failed", err)
		}
		if matcher(key) {
			keys = append(keys, key)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.AdapterError("sqlite key listing failed", err)
	}
	return keys, nil
}

// Stats reports live row count and the stored byte size of keys and values.
func (s *Store) Stats(ctx context.Context) (store.Stats, error) {
	var keyCount, byteSize int64

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(LENGTH(key) + LENGTH(value)), 0)
		 FROM cache_entries WHERE expires_at IS NULL OR expires_at > ?`,
		time.Now().UnixMilli()).
		Scan(&keyCount, &byteSize)
	if err != nil {
		return store.Stats{}, apperrors.AdapterError("sqlite stats failed", err)
	}

	return store.Stats{
		Hits:         atomic.LoadUint64(&s.hits),
		Misses:       atomic.LoadUint64(&s.misses),
		KeyCount:     keyCount,
		MemoryBytes:  byteSize,
		UptimeMillis: time.Since(s.start).Milliseconds(),
	}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// maybePurge drops expired rows every purgeEvery writes.
func (s *Store) maybePurge(ctx context.Context) {
	if atomic.AddUint64(&s.writes, 1)%purgeEvery != 0 {
		return
	}
	s.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE expires_at IS NOT NULL AND expires_at <= ?`,
		time.Now().UnixMilli())
}

func rowExpired(expiresAt sql.NullInt64) bool {
	return expiresAt.Valid && expiresAt.Int64 <= time.Now().UnixMilli()
}

func expiryArg(ttl time.Duration) interface{} {
	if ttl <= 0 {
		return nil
	}
	return time.Now().Add(ttl).UnixMilli()
}

func decode(raw []byte) interface{} {
	var result interface{}
	if err := json.Unmarshal(raw, &result); err != nil {
		return string(raw)
	}
	return result
}
