package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCacheError_Error(t *testing.T) {
	tests := []struct {
		name     string
		cacheErr *CacheError
		want     string
	}{
		{
			name: "basic error",
			cacheErr: &CacheError{
				Kind:    KindConfig,
				Message: "namespace is invalid",
			},
			want: "config: namespace is invalid",
		},
		{
			name: "error with cause",
			cacheErr: &CacheError{
				Kind:    KindConnection,
				Message: "redis unreachable",
				Cause:   errors.New("dial tcp: connection refused"),
			},
			want: "connection: redis unreachable: cause=dial tcp: connection refused",
		},
		{
			name: "error with context",
			cacheErr: &CacheError{
				Kind:    KindSerialization,
				Message: "value is not JSON encodable",
				Context: map[string]interface{}{
					"key": "user:42",
				},
			},
			want: "serialization: value is not JSON encodable: context={key=user:42}",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cacheErr.Error())
		})
	}
}

func TestConstructors(t *testing.T) {
	cause := errors.New("boom")

	t.Run("connection error", func(t *testing.T) {
		err := ConnectionError("store down", cause)
		assert.Equal(t, KindConnection, err.Kind)
		assert.Equal(t, cause, err.Cause)
	})

	t.Run("serialization error", func(t *testing.T) {
		err := SerializationError("bad value", cause)
		assert.Equal(t, KindSerialization, err.Kind)
	})

	t.Run("adapter error", func(t *testing.T) {
		err := AdapterError("sweep failed", cause)
		assert.Equal(t, KindAdapter, err.Kind)
	})

	t.Run("unsupported error", func(t *testing.T) {
		err := UnsupportedError("listKeys")
		assert.Equal(t, KindUnsupported, err.Kind)
		assert.Contains(t, err.Error(), "listKeys is not supported")
	})
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := AdapterError("wrapper", cause)

	assert.True(t, errors.Is(err, cause))

	// Kind matching survives further wrapping with %w
	wrapped := fmt.Errorf("outer layer: %w", err)
	assert.True(t, IsKind(wrapped, KindAdapter))
}

func TestIsKind(t *testing.T) {
	t.Run("matching kind", func(t *testing.T) {
		err := ConnectionError("down", nil)
		assert.True(t, IsKind(err, KindConnection))
		assert.False(t, IsKind(err, KindSerialization))
	})

	t.Run("plain error", func(t *testing.T) {
		assert.False(t, IsKind(errors.New("plain"), KindConnection))
	})

	t.Run("nil error", func(t *testing.T) {
		assert.False(t, IsKind(nil, KindConnection))
	})
}

func TestGetKind(t *testing.T) {
	assert.Equal(t, Kind(""), GetKind(nil))
	assert.Equal(t, KindAdapter, GetKind(errors.New("plain")))
	assert.Equal(t, KindUnsupported, GetKind(UnsupportedError("clear")))
}

func TestWithContext(t *testing.T) {
	err := AdapterError("failed", nil).
		WithContext("key", "user:1").
		WithContext("tier", "hot")

	assert.Equal(t, "user:1", err.Context["key"])
	assert.Equal(t, "hot", err.Context["tier"])
}
