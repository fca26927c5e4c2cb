package lock

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"github.com/medflow/pharmacy-ledger/pkg/config"
	"github.com/medflow/pharmacy-ledger/pkg/logger"
)

const redisKeyPrefix = "pharmacy:lock:"

// RedisLocker is a Locker backed by redislock, shared by every instance
// that talks to the same redis.
type RedisLocker struct {
	client  *redislock.Client
	ttl     time.Duration
	retries int
	backoff time.Duration
	logger  *logger.Logger
}

// NewRedisLocker builds a locker on an existing redis client
func NewRedisLocker(rdb redis.UniversalClient, cfg config.LockConfig, log *logger.Logger) *RedisLocker {
	return &RedisLocker{
		client:  redislock.New(rdb),
		ttl:     cfg.TTL,
		retries: cfg.RetryCount,
		backoff: cfg.RetryBackoff,
		logger:  log,
	}
}

// Connect dials redis, pings it and returns the locker plus the client so
// the caller can close it on shutdown.
func Connect(ctx context.Context, cfg config.LockConfig, log *logger.Logger) (*RedisLocker, *redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, err
	}
	return NewRedisLocker(rdb, cfg, log), rdb, nil
}

// Acquire implements Locker
func (r *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	opts := &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(r.backoff), r.retries),
	}

	l, err := r.client.Obtain(ctx, redisKeyPrefix+key, r.ttl, opts)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrNotAcquired
	} else if err != nil {
		return nil, err
	}

	return func() {
		// Release with a fresh context so a cancelled request still frees the key
		releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := l.Release(releaseCtx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			r.logger.Warn().Err(err).Str("key", key).Msg("failed to release redis lock")
		}
	}, nil
}
