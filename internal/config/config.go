// Package config provides configuration management for the cachetier daemon.
// It handles loading configuration from environment variables with sensible
// defaults and validates the configuration so the daemon starts safely.
//
// Environment Variables:
//
// Application Settings:
//   - PORT: Server port (default: 8080)
//   - LOG_LEVEL: Logging level (default: info)
//
// Cache Settings:
//   - CACHE_BACKEND: Storage backend - "memory", "redis", "sqlite" or "tiered" (default: memory)
//   - CACHE_NAMESPACE: Key namespace prefix (default: none)
//   - CACHE_DEFAULT_TTL: Default entry TTL (default: 5m)
//
// Memory Store:
//   - MEMORY_MAX_ENTRIES: Capacity bound (default: 10000)
//   - MEMORY_MAX_BYTES: Approximate byte bound, 0 disables (default: 0)
//   - MEMORY_SWEEP_INTERVAL: Janitor sweep interval (default: 1m)
//
// Redis (remote store, and cold tier of "tiered"):
//   - REDIS_ADDRESS: Redis server address (default: localhost:6379)
//   - REDIS_PASSWORD: Redis password
//   - REDIS_DB: Redis database number 0-15 (default: 0)
//   - REDIS_POOL_SIZE: Redis connection pool size (default: 10)
//   - REDIS_DISABLE_SCAN: Refuse pattern operations instead of scanning (default: false)
//
// SQLite (durable cold store):
//   - SQLITE_PATH: Database file path (default: ./cachetier.db)
//
// Tiered backend:
//   - HOT_TTL: Hot tier default TTL (default: 1m)
//   - COLD_TTL: Cold tier default TTL (default: 30m)
//   - COLD_BACKEND: Cold tier adapter - "redis" or "sqlite" (default: redis)
//   - BREAKER_ENABLED: Wrap the remote cold tier in a circuit breaker (default: true)
//
// Maintenance:
//   - MAINTENANCE_CRON: Cron spec for the stats report and deep sweep, empty disables (default: "")
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration values for the cachetier daemon. Load it
// with Load() and validate with Validate() before use.
type Config struct {
	// Application settings
	Port     string // Server port number
	LogLevel string // Logging level (debug, info, warn, error)

	// Cache settings
	CacheBackend    string        // Storage backend: memory, redis, sqlite, tiered
	CacheNamespace  string        // Key namespace prefix, empty for none
	CacheDefaultTTL time.Duration // Default TTL substituted when a write omits one

	// Memory store bounds
	MemoryMaxEntries    int           // Capacity bound on entry count
	MemoryMaxBytes      int64         // Approximate byte bound, 0 disables
	MemorySweepInterval time.Duration // Janitor sweep interval

	// Redis configuration
	RedisAddress     string // Redis server address (host:port)
	RedisPassword    string // Redis authentication password
	RedisDB          int    // Redis database number (0-15)
	RedisPoolSize    int    // Redis connection pool size
	RedisDisableScan bool   // Refuse pattern operations instead of scanning

	// SQLite configuration
	SQLitePath string // Path to the SQLite cache file

	// Tiered backend
	HotTTL         time.Duration // Hot tier default TTL
	ColdTTL        time.Duration // Cold tier default TTL
	ColdBackend    string        // Cold tier adapter: redis or sqlite
	BreakerEnabled bool          // Circuit-break the remote cold tier

	// Maintenance
	MaintenanceCron string // Cron spec for periodic stats + deep sweep, empty disables
}

// Load creates a new Config instance with values loaded from environment
// variables. Unset variables fall back to the documented defaults.
//
// This function does not validate the configuration - call Validate() on
// the returned Config before use.
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		CacheBackend:    getEnv("CACHE_BACKEND", "memory"),
		CacheNamespace:  getEnv("CACHE_NAMESPACE", ""),
		CacheDefaultTTL: getDurationEnv("CACHE_DEFAULT_TTL", 5*time.Minute),

		MemoryMaxEntries:    getIntEnv("MEMORY_MAX_ENTRIES", 10000),
		MemoryMaxBytes:      int64(getIntEnv("MEMORY_MAX_BYTES", 0)),
		MemorySweepInterval: getDurationEnv("MEMORY_SWEEP_INTERVAL", time.Minute),

		RedisAddress:     getEnv("REDIS_ADDRESS", "localhost:6379"),
		RedisPassword:    getEnv("REDIS_PASSWORD", ""),
		RedisDB:          getIntEnv("REDIS_DB", 0),
		RedisPoolSize:    getIntEnv("REDIS_POOL_SIZE", 10),
		RedisDisableScan: getBoolEnv("REDIS_DISABLE_SCAN", false),

		SQLitePath: getEnv("SQLITE_PATH", "./cachetier.db"),

		HotTTL:         getDurationEnv("HOT_TTL", time.Minute),
		ColdTTL:        getDurationEnv("COLD_TTL", 30*time.Minute),
		ColdBackend:    getEnv("COLD_BACKEND", "redis"),
		BreakerEnabled: getBoolEnv("BREAKER_ENABLED", true),

		MaintenanceCron: getEnv("MAINTENANCE_CRON", ""),
	}
}

// getEnv retrieves an environment variable value or returns a default value
// if not set.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getBoolEnv retrieves a boolean environment variable, accepting the forms
// strconv.ParseBool accepts; anything else yields the default.
func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getIntEnv retrieves an integer environment variable or the default on a
// missing or unparseable value.
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getDurationEnv retrieves a duration environment variable ("90s", "5m") or
// the default on a missing or unparseable value.
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// Validate performs validation on the configuration: field formats, value
// ranges and cross-field dependencies between the backend selection and the
// settings it requires.
func (c *Config) Validate() error {
	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a valid port number between 1 and 65535")
	}

	switch c.CacheBackend {
	case "memory", "redis", "sqlite", "tiered":
	default:
		return fmt.Errorf("CACHE_BACKEND must be 'memory', 'redis', 'sqlite' or 'tiered'")
	}

	if c.CacheDefaultTTL <= 0 {
		return fmt.Errorf("CACHE_DEFAULT_TTL must be positive")
	}

	if c.MemoryMaxEntries < 1 {
		return fmt.Errorf("MEMORY_MAX_ENTRIES must be at least 1")
	}
	if c.MemoryMaxBytes < 0 {
		return fmt.Errorf("MEMORY_MAX_BYTES must not be negative")
	}

	if c.CacheBackend == "redis" || (c.CacheBackend == "tiered" && c.ColdBackend == "redis") {
		if c.RedisAddress == "" {
			return fmt.Errorf("REDIS_ADDRESS is required when using the redis backend")
		}
		if c.RedisDB < 0 || c.RedisDB > 15 {
			return fmt.Errorf("REDIS_DB must be between 0 and 15")
		}
		if c.RedisPoolSize < 1 {
			return fmt.Errorf("REDIS_POOL_SIZE must be at least 1")
		}
	}

	if c.CacheBackend == "sqlite" || (c.CacheBackend == "tiered" && c.ColdBackend == "sqlite") {
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required when using the sqlite backend")
		}
	}

	if c.CacheBackend == "tiered" {
		switch c.ColdBackend {
		case "redis", "sqlite":
		default:
			return fmt.Errorf("COLD_BACKEND must be 'redis' or 'sqlite'")
		}
		if c.HotTTL <= 0 {
			return fmt.Errorf("HOT_TTL must be positive")
		}
		if c.ColdTTL <= 0 {
			return fmt.Errorf("COLD_TTL must be positive")
		}
	}

	return nil
}
