// Package breaker wraps a storage adapter in a circuit breaker so a
// failing remote backend fails fast instead of absorbing every request's
// connection timeout.
package breaker

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	apperrors "cachetier/internal/common/errors"
	"cachetier/internal/common/logging"
	"cachetier/internal/store"
)

// Config holds circuit breaker configuration
type Config struct {
	// Name identifies the breaker in logs
	Name string
	// MaxFailures is the consecutive-failure count that opens the circuit
	MaxFailures int
	// Timeout is how long the circuit stays open before half-open probing
	Timeout time.Duration
	// MaxRequests is the number of probe requests allowed while half-open
	MaxRequests int
	// Logger receives state-change events; defaults to the global logger
	Logger logging.Logger
}

func (c *Config) withDefaults() Config {
	cfg := *c
	if cfg.Name == "" {
		cfg.Name = "cache-store"
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.GetGlobalLogger()
	}
	return cfg
}

// Store is a storage adapter guarded by a circuit breaker. While the
// circuit is open every operation short-circuits to a connection failure
// without touching the inner adapter.
type Store struct {
	inner store.Adapter
	cb    *gobreaker.CircuitBreaker
	name  string
}

var _ store.Adapter = (*Store)(nil)

// Wrap guards the given adapter. Only connection and adapter failures
// count against the breaker; misses, serialization problems and
// unsupported capabilities are not backend outages.
func Wrap(inner store.Adapter, cfg Config) *Store {
	resolved := cfg.withDefaults()

	settings := gobreaker.Settings{
		Name:        resolved.Name,
		MaxRequests: uint32(resolved.MaxRequests),
		Interval:    time.Minute,
		Timeout:     resolved.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(resolved.MaxFailures)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			resolved.Logger.Info("circuit breaker state changed",
				logging.Field{Key: "breaker", Value: name},
				logging.Field{Key: "from", Value: from.String()},
				logging.Field{Key: "to", Value: to.String()},
			)
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			switch apperrors.GetKind(err) {
			case apperrors.KindConnection, apperrors.KindAdapter:
				return false
			}
			return true
		},
	}

	return &Store{
		inner: inner,
		cb:    gobreaker.NewCircuitBreaker(settings),
		name:  resolved.Name,
	}
}

// IsOpen reports whether the circuit is currently open.
func (s *Store) IsOpen() bool {
	return s.cb.State() == gobreaker.StateOpen
}

func (s *Store) execute(op func() (interface{}, error)) (interface{}, error) {
	result, err := s.cb.Execute(op)
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return nil, apperrors.ConnectionError("circuit breaker "+s.name+" is open", err)
	}
	return result, err
}

type getResult struct {
	value interface{}
	found bool
}

func (s *Store) Get(ctx context.Context, key string) (interface{}, bool, error) {
	result, err := s.execute(func() (interface{}, error) {
		val, found, err := s.inner.Get(ctx, key)
		return getResult{val, found}, err
	})
	if err != nil {
		return nil, false, err
	}
	r := result.(getResult)
	return r.value, r.found, nil
}

func (s *Store) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	_, err := s.execute(func() (interface{}, error) {
		return nil, s.inner.Set(ctx, key, value, ttl)
	})
	return err
}

func (s *Store) Delete(ctx context.Context, keys ...string) error {
	_, err := s.execute(func() (interface{}, error) {
		return nil, s.inner.Delete(ctx, keys...)
	})
	return err
}

func (s *Store) Clear(ctx context.Context, pattern string) error {
	_, err := s.execute(func() (interface{}, error) {
		return nil, s.inner.Clear(ctx, pattern)
	})
	return err
}

func (s *Store) Has(ctx context.Context, key string) (bool, error) {
	result, err := s.execute(func() (interface{}, error) {
		found, err := s.inner.Has(ctx, key)
		return found, err
	})
	if err != nil {
		return false, err
	}
	return result.(bool), nil
}

func (s *Store) GetMulti(ctx context.Context, keys []string) (map[string]interface{}, error) {
	result, err := s.execute(func() (interface{}, error) {
		return s.inner.GetMulti(ctx, keys)
	})
	if err != nil {
		return nil, err
	}
	return result.(map[string]interface{}), nil
}

func (s *Store) SetMulti(ctx context.Context, entries map[string]interface{}, ttl time.Duration) error {
	_, err := s.execute(func() (interface{}, error) {
		return nil, s.inner.SetMulti(ctx, entries, ttl)
	})
	return err
}

func (s *Store) Keys(ctx context.Context, pattern string) ([]string, error) {
	result, err := s.execute(func() (interface{}, error) {
		return s.inner.Keys(ctx, pattern)
	})
	if err != nil {
		return nil, err
	}
	return result.([]string), nil
}

func (s *Store) Stats(ctx context.Context) (store.Stats, error) {
	result, err := s.execute(func() (interface{}, error) {
		return s.inner.Stats(ctx)
	})
	if err != nil {
		return store.Stats{}, err
	}
	return result.(store.Stats), nil
}

func (s *Store) Close() error {
	return s.inner.Close()
}
