package store

import (
	"context"
	"errors"
	"time"

	"bookguard/core"
	"bookguard/csrf"
	"bookguard/metrics"

	"go.uber.org/zap"
)

// RedisTokenStore keeps token records in Redis behind a circuit breaker, so
// an unreachable Redis costs one fast failure per request instead of a timeout.
type RedisTokenStore struct {
	cache   *core.RedisCache
	breaker *core.CircuitBreaker
	logger  *zap.SugaredLogger
}

// NewRedisTokenStore creates a Redis-backed token store
func NewRedisTokenStore(cache *core.RedisCache, breaker *core.CircuitBreaker, logger *zap.SugaredLogger) *RedisTokenStore {
	return &RedisTokenStore{cache: cache, breaker: breaker, logger: logger}
}

// do runs fn behind the breaker. A caller whose context is already done never
// reaches Redis, and an error seen after the caller gave up is not held
// against Redis; only the store's own op timeout counts as a failure.
func (s *RedisTokenStore) do(ctx context.Context, op string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.breaker.ExecuteClassified(fn, func(err error) core.Outcome {
		switch {
		case err == nil:
			return core.OutcomeSuccess
		case ctx.Err() != nil:
			return core.OutcomeNeutral
		default:
			return core.OutcomeFailure
		}
	})
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		s.logger.Debugw("Redis token store operation abandoned by caller", "op", op, "error", err)
		return err
	}
	if errors.Is(err, core.ErrCircuitBreakerOpen) || errors.Is(err, core.ErrTooManyRequests) {
		metrics.TokenStoreErrors.WithLabelValues("redis", "circuit_open").Inc()
		return err
	}
	s.logger.Debugw("Redis token store operation failed", "op", op, "error", err)
	return err
}

// Get returns the record for key, or nil when absent
func (s *RedisTokenStore) Get(ctx context.Context, key string) (*csrf.TokenRecord, error) {
	var rec csrf.TokenRecord
	var found bool
	err := s.do(ctx, "get", func() error {
		var err error
		found, err = s.cache.Get(ctx, key, &rec)
		return err
	})
	if err != nil || !found {
		return nil, err
	}
	return &rec, nil
}

// Set stores rec under key for ttl
func (s *RedisTokenStore) Set(ctx context.Context, key string, rec csrf.TokenRecord, ttl time.Duration) error {
	return s.do(ctx, "set", func() error {
		return s.cache.Set(ctx, key, rec, ttl)
	})
}

// Delete removes key
func (s *RedisTokenStore) Delete(ctx context.Context, key string) error {
	return s.do(ctx, "delete", func() error {
		return s.cache.Delete(ctx, key)
	})
}

// TTL reports the remaining lifetime of key, for the inspect command
func (s *RedisTokenStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	return s.cache.TTL(ctx, key)
}

// Ping checks Redis connectivity, for health reporting
func (s *RedisTokenStore) Ping(ctx context.Context) error {
	return s.cache.Ping(ctx)
}

// Close releases the Redis connection pool
func (s *RedisTokenStore) Close() error {
	return s.cache.Close()
}
