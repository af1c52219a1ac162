// Package memory implements a capacity- and TTL-bounded in-process store.
//
// Eviction is insertion-ordered: inserting beyond capacity removes the
// single oldest-inserted surviving entry, and reading a key does not
// protect it. This is deliberately weaker than access-order LRU;
// overwriting a key counts as a fresh insertion and moves it to the back.
package memory

import (
	"container/list"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"cachetier/internal/common/logging"
	"cachetier/internal/store"
)

// entryOverhead approximates per-entry bookkeeping (map bucket, list
// element, entry struct) for the best-effort memory estimate.
const entryOverhead = 112

// Config holds memory store configuration
type Config struct {
	// MaxEntries bounds the number of live entries (default 10000)
	MaxEntries int
	// MaxBytes optionally bounds estimated memory; 0 disables the bound
	MaxBytes int64
	// SweepInterval is the period of the background expiry sweep
	// (default 1 minute; negative disables the janitor)
	SweepInterval time.Duration
	// SweepBatch is the number of keys examined per lock acquisition
	// during a sweep (default 256)
	SweepBatch int
	// Logger receives janitor diagnostics; defaults to the global logger
	Logger logging.Logger
}

func (c *Config) withDefaults() Config {
	cfg := *c
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 10000
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = 256
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.GetGlobalLogger()
	}
	return cfg
}

type entry struct {
	key       string
	value     interface{}
	expiresAt time.Time // zero means no expiry
	size      int64
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Store is a bounded in-memory adapter. All operations are safe for
// concurrent use; each mutation is atomic with respect to the internal
// structures, with no cross-call serializability guarantee.
type Store struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	order      *list.List // front = oldest insertion
	totalBytes int64
	hits       uint64
	misses     uint64

	cfg   Config
	start time.Time

	stopJanitor chan struct{}
	stopOnce    sync.Once
}

var _ store.Adapter = (*Store)(nil)

// New creates a memory store and starts its expiry janitor.
func New(cfg Config) *Store {
	s := &Store{
		entries:     make(map[string]*list.Element),
		order:       list.New(),
		cfg:         cfg.withDefaults(),
		start:       time.Now(),
		stopJanitor: make(chan struct{}),
	}
	if s.cfg.SweepInterval > 0 {
		go s.janitor()
	}
	return s
}

// Get returns the live value for key, or absent on miss or expiry.
func (s *Store) Get(ctx context.Context, key string) (interface{}, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookupLocked(key, time.Now())
	if e == nil {
		s.misses++
		return nil, false, nil
	}
	s.hits++
	return e.value, true, nil
}

// Set stores value under key, evicting the oldest entry first when the
// insertion would exceed capacity.
func (s *Store) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(key, value, ttl)
	return nil
}

func (s *Store) setLocked(key string, value interface{}, ttl time.Duration) {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	size := estimateSize(key, value)

	if elem, ok := s.entries[key]; ok {
		// Overwrite counts as a fresh insertion.
		e := elem.Value.(*entry)
		s.totalBytes += size - e.size
		e.value = value
		e.expiresAt = expiresAt
		e.size = size
		s.order.MoveToBack(elem)
	} else {
		if len(s.entries) >= s.cfg.MaxEntries {
			s.evictOldestLocked()
		}
		elem := s.order.PushBack(&entry{key: key, value: value, expiresAt: expiresAt, size: size})
		s.entries[key] = elem
		s.totalBytes += size
	}

	if s.cfg.MaxBytes > 0 {
		for s.totalBytes > s.cfg.MaxBytes && s.order.Len() > 1 {
			s.evictOldestLocked()
		}
	}
}

// Delete removes the given keys; absent keys are ignored.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		if elem, ok := s.entries[key]; ok {
			s.removeLocked(elem)
		}
	}
	return nil
}

// Clear removes every entry matching the anchored glob pattern, or all
// entries when the pattern is empty.
func (s *Store) Clear(ctx context.Context, pattern string) error {
	if pattern == "" {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.entries = make(map[string]*list.Element)
		s.order.Init()
		s.totalBytes = 0
		return nil
	}

	re, err := store.CompilePattern(pattern)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for key, elem := range s.entries {
		if re.MatchString(key) {
			s.removeLocked(elem)
		}
	}
	return nil
}

// Has reports whether key holds a live entry, consistent with Get.
func (s *Store) Has(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lookupLocked(key, time.Now()) == nil {
		s.misses++
		return false, nil
	}
	s.hits++
	return true, nil
}

// GetMulti returns a mapping of only the present keys.
func (s *Store) GetMulti(ctx context.Context, keys []string) (map[string]interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	result := make(map[string]interface{}, len(keys))
	for _, key := range keys {
		if e := s.lookupLocked(key, now); e != nil {
			result[key] = e.value
			s.hits++
		} else {
			s.misses++
		}
	}
	return result, nil
}

// SetMulti applies per-key Set semantics with no cross-key atomicity.
func (s *Store) SetMulti(ctx context.Context, entries map[string]interface{}, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, value := range entries {
		s.setLocked(key, value, ttl)
	}
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

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	keys := make([]string, 0, len(s.entries))
	for key, elem := range s.entries {
		if elem.Value.(*entry).expired(now) {
			s.removeLocked(elem)
			continue
		}
		if matcher(key) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// Stats returns a best-effort snapshot; memory is the serialized size of
// keys and values plus a fixed per-entry overhead, not a measurement.
func (s *Store) Stats(ctx context.Context) (store.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return store.Stats{
		Hits:         s.hits,
		Misses:       s.misses,
		KeyCount:     int64(len(s.entries)),
		MemoryBytes:  s.totalBytes,
		UptimeMillis: time.Since(s.start).Milliseconds(),
	}, nil
}

// Close stops the background janitor. The store remains usable.
func (s *Store) Close() error {
	s.stopOnce.Do(func() { close(s.stopJanitor) })
	return nil
}

// lookupLocked returns the live entry for key, lazily removing it when
// expired. Reads never promote the entry in the eviction order.
func (s *Store) lookupLocked(key string, now time.Time) *entry {
	elem, ok := s.entries[key]
	if !ok {
		return nil
	}
	e := elem.Value.(*entry)
	if e.expired(now) {
		s.removeLocked(elem)
		return nil
	}
	return e
}

func (s *Store) removeLocked(elem *list.Element) {
	e := elem.Value.(*entry)
	delete(s.entries, e.key)
	s.order.Remove(elem)
	s.totalBytes -= e.size
}

func (s *Store) evictOldestLocked() {
	if front := s.order.Front(); front != nil {
		s.removeLocked(front)
	}
}

// janitor periodically removes expired entries regardless of access,
// bounding memory held by dead keys.
func (s *Store) janitor() {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			removed := s.Sweep()
			if removed > 0 {
				s.cfg.Logger.Debug("expiry sweep completed",
					logging.Field{Key: "removed", Value: removed})
			}
		case <-s.stopJanitor:
			return
		}
	}
}

// Sweep removes all entries past expiry, scanning in bounded batches so
// concurrent reads and writes are never blocked for a full scan.
func (s *Store) Sweep() int {
	s.mu.Lock()
	keys := make([]string, 0, len(s.entries))
	for key := range s.entries {
		keys = append(keys, key)
	}
	s.mu.Unlock()

	removed := 0
	for start := 0; start < len(keys); start += s.cfg.SweepBatch {
		end := start + s.cfg.SweepBatch
		if end > len(keys) {
			end = len(keys)
		}

		s.mu.Lock()
		now := time.Now()
		for _, key := range keys[start:end] {
			if elem, ok := s.entries[key]; ok && elem.Value.(*entry).expired(now) {
				s.removeLocked(elem)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// estimateSize approximates the footprint of one entry.
func estimateSize(key string, value interface{}) int64 {
	size := int64(len(key)) + entryOverhead
	if data, err := json.Marshal(value); err == nil {
		size += int64(len(data))
	} else {
		size += int64(len(fmt.Sprintf("%v", value)))
	}
	return size
}
