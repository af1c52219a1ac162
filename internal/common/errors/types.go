package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a cache failure
type Kind string

const (
	// KindConnection represents failures reaching a remote backing store
	KindConnection Kind = "connection"
	// KindSerialization represents value encode/decode failures
	KindSerialization Kind = "serialization"
	// KindAdapter represents failures internal to a storage adapter
	KindAdapter Kind = "adapter"
	// KindUnsupported represents operations a backend cannot serve
	KindUnsupported Kind = "capability_unsupported"
	// KindConfig represents invalid configuration
	KindConfig Kind = "config"
)

// CacheError is the structured error type surfaced by every storage adapter
// and by the orchestration layer above them.
type CacheError struct {
	Kind    Kind                   `json:"kind"`
	Message string                 `json:"message"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *CacheError) Error() string {
	parts := []string{string(e.Kind), e.Message}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause=%v", e.Cause))
	}

	if len(e.Context) > 0 {
		contextParts := make([]string, 0, len(e.Context))
		for k, v := range e.Context {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, v))
		}
		parts = append(parts, fmt.Sprintf("context={%s}", strings.Join(contextParts, ", ")))
	}

	return strings.Join(parts, ": ")
}

// Unwrap returns the underlying cause
func (e *CacheError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *CacheError) WithContext(key string, value interface{}) *CacheError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// ConnectionError creates a new connection failure
func ConnectionError(msg string, cause error) *CacheError {
	return &CacheError{
		Kind:    KindConnection,
		Message: msg,
		Cause:   cause,
	}
}

// SerializationError creates a new serialization failure
func SerializationError(msg string, cause error) *CacheError {
	return &CacheError{
		Kind:    KindSerialization,
		Message: msg,
		Cause:   cause,
	}
}

// AdapterError creates a new adapter-internal failure
func AdapterError(msg string, cause error) *CacheError {
	return &CacheError{
		Kind:    KindAdapter,
		Message: msg,
		Cause:   cause,
	}
}

// UnsupportedError creates a failure for an operation the backend cannot serve
func UnsupportedError(operation string) *CacheError {
	return &CacheError{
		Kind:    KindUnsupported,
		Message: fmt.Sprintf("%s is not supported by this backend", operation),
	}
}

// ConfigError creates a new configuration failure
func ConfigError(msg string) *CacheError {
	return &CacheError{
		Kind:    KindConfig,
		Message: msg,
	}
}

// IsKind checks if an error (or anything it wraps) is of a specific kind
func IsKind(err error, kind Kind) bool {
	var cacheErr *CacheError
	if !errors.As(err, &cacheErr) {
		return false
	}
	return cacheErr.Kind == kind
}

// GetKind returns the error kind if it's a CacheError, otherwise KindAdapter
func GetKind(err error) Kind {
	if err == nil {
		return ""
	}

	var cacheErr *CacheError
	if !errors.As(err, &cacheErr) {
		return KindAdapter
	}

	return cacheErr.Kind
}
