package bootstrap

import (
	"context"
	"fmt"
	"time"

	"bookguard/api"
	"bookguard/config"
	"bookguard/core"
	"bookguard/csrf"
	"bookguard/store"

	"github.com/facebookgo/clock"
	"go.uber.org/zap"
)

// Token store backends
const (
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

// pingRetryDelays spaces the startup connection attempts to Redis
var pingRetryDelays = []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second}

// StorageComponents holds the CSRF token store and what it is built from.
type StorageComponents struct {
	TokenStore csrf.TokenStore
	Redis      *core.RedisCache
	Breaker    *core.CircuitBreaker
	Memory     *store.MemoryTokenStore
	redisStore *store.RedisTokenStore
}

// Pinger returns the store as a health probe, or nil for the in-process store
func (s *StorageComponents) Pinger() api.Pinger {
	if s.redisStore == nil {
		return nil
	}
	return s.redisStore
}

// Close releases the Redis connection pool or drops the in-process records
func (s *StorageComponents) Close() error {
	if s.redisStore != nil {
		return s.redisStore.Close()
	}
	if s.Memory != nil {
		return s.Memory.Close()
	}
	return nil
}

// InitTokenStore builds the backend selected by csrf.store. An unreachable Redis is
// reported but does not stop startup: the guard fails open until Redis comes back.
func InitTokenStore(ctx context.Context, cfg *config.Config, clk clock.Clock, sugar *zap.SugaredLogger) (*StorageComponents, error) {
	switch cfg.CSRF.Store {
	case StoreMemory:
		mem := store.NewMemoryTokenStore(cfg.CSRF.MemoryCapacity, cfg.CSRF.StoreTTL(), clk)
		sugar.Infow("Using in-process CSRF token store",
			"capacity", cfg.CSRF.MemoryCapacity,
			"note", "tokens are not shared between gateway instances")
		return &StorageComponents{TokenStore: mem, Memory: mem}, nil

	case StoreRedis, "":
		breaker, err := core.NewCircuitBreaker("csrf-token-store", cfg.CircuitBreaker, clk)
		if err != nil {
			return nil, fmt.Errorf("failed to create token store circuit breaker: %w", err)
		}
		cache := core.NewRedisCache(cfg.Redis, sugar)
		redisStore := store.NewRedisTokenStore(cache, breaker, sugar)

		if err := pingWithRetry(ctx, redisStore, sugar); err != nil {
			sugar.Errorw("Redis token store unreachable at startup, CSRF validation will fail open",
				"addr", cfg.Redis.Addr,
				"error", err)
			sugar.Warn(ClassifyConnectionError(err, cfg.Redis.Addr))
		} else {
			sugar.Infow("Connected to Redis token store", "addr", cfg.Redis.Addr)
		}

		return &StorageComponents{
			TokenStore: redisStore,
			Redis:      cache,
			Breaker:    breaker,
			redisStore: redisStore,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported csrf token store: %q", cfg.CSRF.Store)
	}
}

func pingWithRetry(ctx context.Context, s *store.RedisTokenStore, sugar *zap.SugaredLogger) error {
	var lastErr error
	for attempt := 0; attempt <= len(pingRetryDelays); attempt++ {
		if attempt > 0 {
			delay := pingRetryDelays[attempt-1]
			sugar.Infow("Retrying Redis connection",
				"attempt", attempt,
				"max_retries", len(pingRetryDelays),
				"delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if lastErr = s.Ping(ctx); lastErr == nil {
			return nil
		}
		sugar.Warnw("Redis connection attempt failed",
			"attempt", attempt+1,
			"error", lastErr)
	}
	return lastErr
}
