package cache

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/skinsight/internal/logging"
)

// RedisCache is a concrete implementation backed by go-redis. Transient
// failures are retried with exponential backoff.
type RedisCache struct {
	client         *redis.Client
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewRedisCache constructs a new Redis-backed cache adapter.
func NewRedisCache(client *redis.Client, logger *zap.Logger) *RedisCache {
	return &RedisCache{
		client:         client,
		logger:         logger.Named("redis_cache"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// Get retrieves a cached value from Redis.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := c.withRetry(ctx, "cache.get", func() error {
		v, err := c.client.Get(ctx, key).Bytes()
		if err != nil {
			return err
		}
		value = v
		return nil
	})
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	return value, err
}

// Set writes a value to Redis.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.withRetry(ctx, "cache.set", func() error {
		return c.client.Set(ctx, key, value, ttl).Err()
	})
}

func (c *RedisCache) withRetry(ctx context.Context, operation string, fn func() error) error {
	backoff := c.initialBackoff
	opLogger := logging.WithOperation(c.logger, operation, "")
	var err error
	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, "", "", ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= c.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}
		if errors.Is(err, redis.Nil) {
			return err
		}

		if !isTransientError(err) || attempt == c.retryAttempts-1 {
			opLogger.Error("redis operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, "", "", err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, "", "", err)
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
