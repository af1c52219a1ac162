package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"cachetier/internal/breaker"
	"cachetier/internal/cache"
	"cachetier/internal/common/logging"
	"cachetier/internal/config"
	"cachetier/internal/handlers"
	"cachetier/internal/server"
	"cachetier/internal/store"
	"cachetier/internal/store/memory"
	"cachetier/internal/store/redis"
	"cachetier/internal/store/sqlite"
	"cachetier/internal/store/tiered"
)

func main() {
	// .env is optional, environment variables win
	_ = godotenv.Load()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, err := logging.NewZapLogger(logging.LogConfig{
		Level:  logging.ParseLevel(cfg.LogLevel),
		Output: os.Stdout,
		Prefix: "cachetier",
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logging.SetGlobalLogger(logger)

	adapter, err := buildAdapter(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize storage backend", err,
			logging.Field{Key: "backend", Value: cfg.CacheBackend})
		os.Exit(1)
	}

	orch := cache.New(adapter, cache.Options{
		Namespace:  cfg.CacheNamespace,
		DefaultTTL: cfg.CacheDefaultTTL,
		Logger:     logger,
	})

	var maintenance *cron.Cron
	if cfg.MaintenanceCron != "" {
		maintenance = cron.New()
		_, err := maintenance.AddFunc(cfg.MaintenanceCron, func() {
			runMaintenance(orch, adapter, logger)
		})
		if err != nil {
			logger.Error("invalid MAINTENANCE_CRON spec", err,
				logging.Field{Key: "spec", Value: cfg.MaintenanceCron})
			os.Exit(1)
		}
		maintenance.Start()
		logger.Info("maintenance schedule enabled", logging.Field{Key: "spec", Value: cfg.MaintenanceCron})
	}

	h := handlers.New(orch, logger)
	srv := server.New(h.Router(), cfg.Port, logger)
	srvErr := srv.Start()
	logger.Info("cachetier started",
		logging.Field{Key: "backend", Value: cfg.CacheBackend},
		logging.Field{Key: "port", Value: cfg.Port})

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info("shutting down", logging.Field{Key: "signal", Value: sig.String()})
	case err := <-srvErr:
		logger.Error("http server failed", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", err)
	}

	if maintenance != nil {
		<-maintenance.Stop().Done()
	}
	if err := orch.Close(); err != nil {
		logger.Error("failed to close storage backend", err)
	}
	logger.Info("shutdown complete")
}

// buildAdapter assembles the storage backend selected by CACHE_BACKEND.
func buildAdapter(cfg *config.Config, logger logging.Logger) (store.Adapter, error) {
	switch cfg.CacheBackend {
	case "memory":
		return newMemory(cfg, logger), nil
	case "redis":
		return newRedis(cfg)
	case "sqlite":
		return sqlite.New(&sqlite.Config{Path: cfg.SQLitePath})
	case "tiered":
		hot := newMemory(cfg, logger)
		var cold store.Adapter
		var err error
		if cfg.ColdBackend == "sqlite" {
			cold, err = sqlite.New(&sqlite.Config{Path: cfg.SQLitePath})
		} else {
			cold, err = newRedis(cfg)
			if err == nil && cfg.BreakerEnabled {
				cold = breaker.Wrap(cold, breaker.Config{Name: "cold-tier", Logger: logger})
			}
		}
		if err != nil {
			hot.Close()
			return nil, err
		}
		return tiered.New(hot, cold, tiered.Config{
			HotTTL:  cfg.HotTTL,
			ColdTTL: cfg.ColdTTL,
			Logger:  logger,
		}), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.CacheBackend)
	}
}

func newMemory(cfg *config.Config, logger logging.Logger) *memory.Store {
	return memory.New(memory.Config{
		MaxEntries:    cfg.MemoryMaxEntries,
		MaxBytes:      cfg.MemoryMaxBytes,
		SweepInterval: cfg.MemorySweepInterval,
		Logger:        logger,
	})
}

func newRedis(cfg *config.Config) (store.Adapter, error) {
	return redis.New(&redis.Config{
		Address:     cfg.RedisAddress,
		Password:    cfg.RedisPassword,
		DB:          cfg.RedisDB,
		PoolSize:    cfg.RedisPoolSize,
		DisableScan: cfg.RedisDisableScan,
	})
}

// runMaintenance reports a stats snapshot and, for backends that expose a
// deep sweep, reclaims expired entries eagerly.
func runMaintenance(orch *cache.Orchestrator, adapter store.Adapter, logger logging.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	stats, err := orch.Stats(ctx)
	if err != nil {
		logger.Warn("maintenance stats snapshot failed", logging.Err(err))
	} else {
		logger.Info("cache stats",
			logging.Field{Key: "hits", Value: stats.Hits},
			logging.Field{Key: "misses", Value: stats.Misses},
			logging.Field{Key: "keys", Value: stats.KeyCount},
			logging.Field{Key: "approx_bytes", Value: stats.MemoryBytes})
	}

	type sweeper interface{ Sweep() int }
	if s, ok := adapter.(sweeper); ok {
		if removed := s.Sweep(); removed > 0 {
			logger.Info("sweep reclaimed expired entries", logging.Field{Key: "removed", Value: removed})
		}
	}
}
