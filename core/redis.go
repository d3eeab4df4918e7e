package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bookguard/metrics"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// maxValueSize bounds a single cached value; CSRF records are a few hundred bytes
const maxValueSize = 64 * 1024

// RedisOptions configures the Redis connection
type RedisOptions struct {
	Addr      string        `mapstructure:"addr" yaml:"addr" validate:"required"`
	Password  string        `mapstructure:"password" yaml:"password"`
	DB        int           `mapstructure:"db" yaml:"db" validate:"gte=0"`
	PoolSize  int           `mapstructure:"pool_size" yaml:"pool_size" validate:"gt=0"`
	OpTimeout time.Duration `mapstructure:"op_timeout" yaml:"op_timeout" validate:"gt=0"`
	KeyPrefix string        `mapstructure:"key_prefix" yaml:"key_prefix"`
}

// RedisCache stores JSON values in Redis with a per-operation deadline
type RedisCache struct {
	client    redis.UniversalClient
	logger    *zap.SugaredLogger
	opTimeout time.Duration
	keyPrefix string
}

// NewRedisCache creates a new Redis cache instance
func NewRedisCache(opts RedisOptions, logger *zap.SugaredLogger) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		DialTimeout:  opts.OpTimeout,
		ReadTimeout:  opts.OpTimeout,
		WriteTimeout: opts.OpTimeout,
	})
	return NewRedisCacheWithClient(client, opts.OpTimeout, opts.KeyPrefix, logger)
}

// NewRedisCacheWithClient wraps an existing client
func NewRedisCacheWithClient(client redis.UniversalClient, opTimeout time.Duration, keyPrefix string, logger *zap.SugaredLogger) *RedisCache {
	if opTimeout <= 0 {
		opTimeout = 250 * time.Millisecond
	}
	return &RedisCache{
		client:    client,
		logger:    logger,
		opTimeout: opTimeout,
		keyPrefix: keyPrefix,
	}
}

func (rc *RedisCache) key(k string) string {
	return rc.keyPrefix + k
}

func (rc *RedisCache) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, rc.opTimeout)
}

// Ping tests the Redis connection
func (rc *RedisCache) Ping(ctx context.Context) error {
	ctx, cancel := rc.withTimeout(ctx)
	defer cancel()
	return rc.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (rc *RedisCache) Close() error {
	return rc.client.Close()
}

// Set stores a value as JSON with expiration
func (rc *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		metrics.TokenStoreErrors.WithLabelValues("redis", "marshal").Inc()
		return fmt.Errorf("failed to marshal value for key %s: %w", key, err)
	}

	if len(data) > maxValueSize {
		metrics.TokenStoreErrors.WithLabelValues("redis", "size_limit").Inc()
		return fmt.Errorf("cache value size %d bytes exceeds maximum allowed size %d bytes", len(data), maxValueSize)
	}

	ctx, cancel := rc.withTimeout(ctx)
	defer cancel()
	if err := rc.client.Set(ctx, rc.key(key), data, expiration).Err(); err != nil {
		metrics.TokenStoreErrors.WithLabelValues("redis", "set").Inc()
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Get decodes the value stored under key into dest. It reports false with a
// nil error when the key does not exist.
func (rc *RedisCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	ctx, cancel := rc.withTimeout(ctx)
	defer cancel()

	data, err := rc.client.Get(ctx, rc.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		metrics.TokenStoreErrors.WithLabelValues("redis", "get").Inc()
		return false, fmt.Errorf("redis get %s: %w", key, err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		rc.logger.Warnw("Discarding undecodable cache value", "key", key, "error", err)
		metrics.TokenStoreErrors.WithLabelValues("redis", "unmarshal").Inc()
		return false, fmt.Errorf("failed to unmarshal value for key %s: %w", key, err)
	}
	return true, nil
}

// Delete removes a key from the cache
func (rc *RedisCache) Delete(ctx context.Context, key string) error {
	ctx, cancel := rc.withTimeout(ctx)
	defer cancel()
	if err := rc.client.Del(ctx, rc.key(key)).Err(); err != nil {
		metrics.TokenStoreErrors.WithLabelValues("redis", "delete").Inc()
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// TTL returns the remaining time to live of a key, or a negative duration
// when the key is missing or has no expiry.
func (rc *RedisCache) TTL(ctx context.Context, key string) (time.Duration, error) {
	ctx, cancel := rc.withTimeout(ctx)
	defer cancel()
	return rc.client.TTL(ctx, rc.key(key)).Result()
}
