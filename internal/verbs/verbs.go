// Package verbs implements the three caching verbs as explicit wrappers
// around a cache orchestrator: cache-aside fetch (Cacheable), write-through
// update (CachePut) and invalidation (CacheEvict). Wrappers take the
// orchestrator explicitly; a single opt-in process-wide default exists for
// call sites that cannot thread one through.
package verbs

import (
	"context"
	"sync"
	"time"

	"cachetier/internal/cache"
	"cachetier/internal/common/errors"
	"cachetier/internal/common/logging"
	"cachetier/internal/keyexpr"
)

// Fn is the shape of a wrapped operation.
type Fn func(ctx context.Context, args ...interface{}) (interface{}, error)

// DefaultMetadataField is the map field carrying hit annotation metadata.
const DefaultMetadataField = "__cache__"

var (
	defaultMu   sync.RWMutex
	defaultOrch *cache.Orchestrator
)

// SetDefault installs the process-wide fallback orchestrator used when a
// verb is constructed with a nil orchestrator. Global state; pair with
// ResetDefault in teardown.
func SetDefault(c *cache.Orchestrator) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultOrch = c
}

// Default returns the process-wide fallback orchestrator, or nil.
func Default() *cache.Orchestrator {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultOrch
}

// ResetDefault clears the process-wide fallback orchestrator.
func ResetDefault() {
	SetDefault(nil)
}

func resolve(c *cache.Orchestrator) (*cache.Orchestrator, error) {
	if c != nil {
		return c, nil
	}
	if d := Default(); d != nil {
		return d, nil
	}
	return nil, errors.ConfigError("no cache orchestrator: pass one explicitly or call verbs.SetDefault")
}

// compileKey parses the key expression at wrap time so malformed patterns
// fail construction, not the call path. An empty expression selects the
// content-hash default derivation.
func compileKey(expr string) (*keyexpr.Pattern, error) {
	if expr == "" {
		return nil, nil
	}
	pattern, err := keyexpr.Parse(expr)
	if err != nil {
		return nil, errors.ConfigError("invalid key expression: " + err.Error())
	}
	return pattern, nil
}

func deriveKey(pattern *keyexpr.Pattern, method string, args []interface{}, result interface{}) string {
	if pattern == nil {
		return keyexpr.DeriveDefault(method, args)
	}
	return pattern.Derive(args, result)
}

func storeAsync(orch *cache.Orchestrator, key string, value interface{}, ttl time.Duration) {
	go func() {
		if err := orch.Set(context.Background(), key, value, ttl); err != nil {
			logging.Warn("background cache write failed",
				logging.Field{Key: "key", Value: key}, logging.Err(err))
		}
	}()
}

// annotate attaches {hit, key, timestamp} metadata under field. Map results
// are copied, not mutated; anything else is wrapped as {value, <field>}.
func annotate(result interface{}, field, key string, hit bool) interface{} {
	meta := map[string]interface{}{
		"hit":       hit,
		"key":       key,
		"timestamp": time.Now().UnixMilli(),
	}
	if m, ok := result.(map[string]interface{}); ok {
		annotated := make(map[string]interface{}, len(m)+1)
		for k, v := range m {
			annotated[k] = v
		}
		annotated[field] = meta
		return annotated
	}
	return map[string]interface{}{"value": result, field: meta}
}

// CacheableOptions configures a fetch-or-cache wrapper.
type CacheableOptions struct {
	// Key is the derivation expression; empty hashes Method + args.
	// Result selectors are rejected, no result exists before the call.
	Key string
	// Method names the operation for default key derivation
	Method string
	// TTL for stored results; zero means the orchestrator default
	TTL time.Duration
	// Unless vetoes caching when it returns true; checked before Condition
	Unless func(result interface{}, args []interface{}) bool
	// Condition allows caching when it returns true; nil means always
	Condition func(result interface{}, args []interface{}) bool
	// Fallback handles a wrapped-operation failure; nil propagates it
	Fallback func(err error) (interface{}, error)
	// Annotate attaches hit metadata to returned values
	Annotate bool
	// MetadataField overrides DefaultMetadataField for annotation
	MetadataField string
}

// Cacheable wraps fn with cache-aside semantics: hit returns the cached
// value without invoking fn; miss invokes fn and stores an eligible result
// in the background. Cache-layer failures degrade to a miss and never mask
// fn's result.
func Cacheable(c *cache.Orchestrator, opts CacheableOptions, fn Fn) (Fn, error) {
	pattern, err := compileKey(opts.Key)
	if err != nil {
		return nil, err
	}
	if pattern != nil && pattern.HasResultSelector() {
		return nil, errors.ConfigError("cacheable key expression cannot reference result")
	}
	field := opts.MetadataField
	if field == "" {
		field = DefaultMetadataField
	}

	return func(ctx context.Context, args ...interface{}) (interface{}, error) {
		orch, err := resolve(c)
		if err != nil {
			return nil, err
		}
		key := deriveKey(pattern, opts.Method, args, nil)

		val, found, err := orch.Get(ctx, key)
		if err != nil {
			logging.Warn("cache read failed, invoking operation",
				logging.Field{Key: "key", Value: key}, logging.Err(err))
		} else if found {
			if opts.Annotate {
				return annotate(val, field, key, true), nil
			}
			return val, nil
		}

		result, err := fn(ctx, args...)
		if err != nil {
			if opts.Fallback != nil {
				return opts.Fallback(err)
			}
			return nil, err
		}

		if (opts.Unless == nil || !opts.Unless(result, args)) &&
			(opts.Condition == nil || opts.Condition(result, args)) {
			storeAsync(orch, key, result, opts.TTL)
		}

		if opts.Annotate {
			return annotate(result, field, key, false), nil
		}
		return result, nil
	}, nil
}

// PutOptions configures a write-through wrapper.
type PutOptions struct {
	// Key may use result selectors; the operation's result is available
	Key string
	// Method names the operation for default key derivation
	Method string
	TTL    time.Duration
	// Condition gates the store; nil means always
	Condition func(result interface{}, args []interface{}) bool
}

// CachePut wraps fn with write-through semantics: fn always runs and its
// return value and error pass through untouched; an eligible result is
// stored in the background under a key derived with the result in scope.
func CachePut(c *cache.Orchestrator, opts PutOptions, fn Fn) (Fn, error) {
	pattern, err := compileKey(opts.Key)
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context, args ...interface{}) (interface{}, error) {
		orch, err := resolve(c)
		if err != nil {
			return nil, err
		}

		result, err := fn(ctx, args...)
		if err != nil {
			return nil, err
		}

		if opts.Condition == nil || opts.Condition(result, args) {
			key := deriveKey(pattern, opts.Method, args, result)
			storeAsync(orch, key, result, opts.TTL)
		}
		return result, nil
	}, nil
}

// EvictOptions configures an invalidation wrapper.
type EvictOptions struct {
	// Key derives the single key to evict; ignored when AllEntries is set
	Key string
	// Method names the operation for default key derivation
	Method string
	// AllEntries clears the namespace (or Pattern) instead of one key
	AllEntries bool
	// Pattern narrows an AllEntries clear to a glob
	Pattern string
	// Before evicts ahead of the wrapped call; default is after
	Before bool
	// Condition gates eviction on the result; after timing only
	Condition func(result interface{}, args []interface{}) bool
}

// CacheEvict wraps fn with invalidation. Before timing evicts first and a
// failed eviction aborts the call. After timing (the default) runs fn
// first; fn failure skips eviction entirely, and an eviction failure
// surfaces alongside fn's already-produced result.
func CacheEvict(c *cache.Orchestrator, opts EvictOptions, fn Fn) (Fn, error) {
	pattern, err := compileKey(opts.Key)
	if err != nil {
		return nil, err
	}
	if opts.Condition != nil && opts.Before {
		return nil, errors.ConfigError("eviction condition requires after timing: no result exists before the call")
	}

	evict := func(ctx context.Context, orch *cache.Orchestrator, args []interface{}, result interface{}) error {
		if opts.AllEntries {
			return orch.Clear(ctx, opts.Pattern)
		}
		return orch.Delete(ctx, deriveKey(pattern, opts.Method, args, result))
	}

	return func(ctx context.Context, args ...interface{}) (interface{}, error) {
		orch, err := resolve(c)
		if err != nil {
			return nil, err
		}

		if opts.Before {
			if err := evict(ctx, orch, args, nil); err != nil {
				return nil, err
			}
			return fn(ctx, args...)
		}

		result, err := fn(ctx, args...)
		if err != nil {
			return nil, err
		}
		if opts.Condition == nil || opts.Condition(result, args) {
			if err := evict(ctx, orch, args, result); err != nil {
				return result, err
			}
		}
		return result, nil
	}, nil
}
