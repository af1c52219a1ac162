// Package cache provides the orchestration facade over a storage adapter:
// key namespacing, default TTL substitution, batch fan-out and the
// fetch-or-compute primitive.
package cache

import (
	"context"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"cachetier/internal/common/logging"
	"cachetier/internal/store"
)

// Options configures an Orchestrator. The orchestrator is immutable after
// construction.
type Options struct {
	// Namespace prefixes every key as "<namespace>:<key>"; empty means
	// no prefixing
	Namespace string
	// DefaultTTL is substituted when Set/SetMulti receive a zero TTL
	// (default 5 minutes); pass store.NoExpiry to a call to opt out
	DefaultTTL time.Duration
	// Logger receives best-effort write diagnostics
	Logger logging.Logger
}

// Orchestrator wraps a storage adapter with namespacing and defaults.
type Orchestrator struct {
	adapter    store.Adapter
	namespace  string
	defaultTTL time.Duration
	logger     logging.Logger
	flight     singleflight.Group
}

// New creates an orchestrator over the given adapter.
func New(adapter store.Adapter, opts Options) *Orchestrator {
	if opts.DefaultTTL == 0 {
		opts.DefaultTTL = 5 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = logging.GetGlobalLogger()
	}
	return &Orchestrator{
		adapter:    adapter,
		namespace:  opts.Namespace,
		defaultTTL: opts.DefaultTTL,
		logger:     opts.Logger,
	}
}

// Namespace returns the configured key namespace.
func (o *Orchestrator) Namespace() string {
	return o.namespace
}

func (o *Orchestrator) qualify(key string) string {
	if o.namespace == "" {
		return key
	}
	return o.namespace + ":" + key
}

func (o *Orchestrator) strip(key string) string {
	if o.namespace == "" {
		return key
	}
	return strings.TrimPrefix(key, o.namespace+":")
}

func (o *Orchestrator) resolveTTL(ttl time.Duration) time.Duration {
	if ttl == 0 {
		return o.defaultTTL
	}
	return ttl
}

// Get returns the value stored under key within the namespace.
func (o *Orchestrator) Get(ctx context.Context, key string) (interface{}, bool, error) {
	return o.adapter.Get(ctx, o.qualify(key))
}

// Set stores value under key, substituting the default TTL when ttl is
// zero; use store.NoExpiry for an entry without expiry.
func (o *Orchestrator) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return o.adapter.Set(ctx, o.qualify(key), value, o.resolveTTL(ttl))
}

// Delete removes the given keys within the namespace.
func (o *Orchestrator) Delete(ctx context.Context, keys ...string) error {
	qualified := make([]string, len(keys))
	for i, key := range keys {
		qualified[i] = o.qualify(key)
	}
	return o.adapter.Delete(ctx, qualified...)
}

// Clear removes namespace entries matching the pattern; an empty pattern
// clears the whole namespace (and only the namespace).
func (o *Orchestrator) Clear(ctx context.Context, pattern string) error {
	if o.namespace == "" {
		return o.adapter.Clear(ctx, pattern)
	}
	if pattern == "" {
		pattern = "*"
	}
	return o.adapter.Clear(ctx, o.qualify(pattern))
}

// Has reports whether key holds a live entry within the namespace.
func (o *Orchestrator) Has(ctx context.Context, key string) (bool, error) {
	return o.adapter.Has(ctx, o.qualify(key))
}

// GetMulti returns a mapping of only the present keys, unprefixed.
func (o *Orchestrator) GetMulti(ctx context.Context, keys []string) (map[string]interface{}, error) {
	qualified := make([]string, len(keys))
	for i, key := range keys {
		qualified[i] = o.qualify(key)
	}

	found, err := o.adapter.GetMulti(ctx, qualified)
	if err != nil {
		return nil, err
	}

	result := make(map[string]interface{}, len(found))
	for key, val := range found {
		result[o.strip(key)] = val
	}
	return result, nil
}

// SetMulti stores all entries with per-key Set semantics and default TTL
// substitution.
func (o *Orchestrator) SetMulti(ctx context.Context, entries map[string]interface{}, ttl time.Duration) error {
	qualified := make(map[string]interface{}, len(entries))
	for key, value := range entries {
		qualified[o.qualify(key)] = value
	}
	return o.adapter.SetMulti(ctx, qualified, o.resolveTTL(ttl))
}

// Keys lists namespace keys matching the pattern ("" = all), unprefixed.
func (o *Orchestrator) Keys(ctx context.Context, pattern string) ([]string, error) {
	if pattern == "" {
		pattern = "*"
	}

	keys, err := o.adapter.Keys(ctx, o.qualify(pattern))
	if err != nil {
		return nil, err
	}

	stripped := make([]string, len(keys))
	for i, key := range keys {
		stripped[i] = o.strip(key)
	}
	return stripped, nil
}

// Stats returns the underlying adapter's snapshot.
func (o *Orchestrator) Stats(ctx context.Context) (store.Stats, error) {
	return o.adapter.Stats(ctx)
}

// Close releases the underlying adapter.
func (o *Orchestrator) Close() error {
	return o.adapter.Close()
}

// FetchOptions configures a FetchOrCompute call.
type FetchOptions struct {
	// TTL for the stored result; zero means the orchestrator default
	TTL time.Duration
	// Condition gates storing the computed value; nil means always store
	Condition func(value interface{}) bool
	// Fallback handles a compute failure; nil propagates it unchanged
	Fallback func(err error) (interface{}, error)
	// SingleFlight dedupes concurrent computes racing the same key;
	// off by default, every caller computes independently
	SingleFlight bool
}

// FetchOrCompute returns the cached value under key, computing and
// storing it on a miss. A failure inside the cache layer is logged and
// treated as a miss; it never masks a successful compute result. A
// compute failure goes to Fallback when configured, else propagates.
func (o *Orchestrator) FetchOrCompute(ctx context.Context, key string, compute func(context.Context) (interface{}, error), opts *FetchOptions) (interface{}, error) {
	if opts == nil {
		opts = &FetchOptions{}
	}

	val, found, err := o.Get(ctx, key)
	if err != nil {
		o.logger.Warn("cache read failed, computing instead",
			logging.Field{Key: "key", Value: key}, logging.Err(err))
	} else if found {
		return val, nil
	}

	do := func() (interface{}, error) {
		value, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		if opts.Condition == nil || opts.Condition(value) {
			if err := o.Set(ctx, key, value, opts.TTL); err != nil {
				o.logger.Warn("failed to store computed value",
					logging.Field{Key: "key", Value: key}, logging.Err(err))
			}
		}
		return value, nil
	}

	var value interface{}
	if opts.SingleFlight {
		value, err, _ = o.flight.Do(o.qualify(key), do)
	} else {
		value, err = do()
	}

	if err != nil {
		if opts.Fallback != nil {
			return opts.Fallback(err)
		}
		return nil, err
	}
	return value, nil
}
