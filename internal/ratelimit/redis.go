package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alphabot-ai/trickbook/internal/logger"
)

// RedisLimiter is a fixed-window counter shared by every instance. Redis
// failures fail open.
type RedisLimiter struct {
	rdb    *redis.Client
	prefix string
	log    *logger.Logger
}

func NewRedisLimiter(rdb *redis.Client, log *logger.Logger) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, prefix: "ratelimit:", log: log.With("service", "RedisLimiter")}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) bool {
	k := l.prefix + key
	var incr *redis.IntCmd
	_, err := l.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, k)
		pipe.ExpireNX(ctx, k, window)
		return nil
	})
	if err != nil {
		l.log.Warn("rate limit check failed (allowing)", "key", key, "error", err)
		return true
	}
	return incr.Val() <= int64(limit)
}

func (l *RedisLimiter) Remaining(ctx context.Context, key string, limit int, _ time.Duration) int {
	n, err := l.rdb.Get(ctx, l.prefix+key).Int()
	if errors.Is(err, redis.Nil) {
		return limit
	}
	if err != nil {
		return limit
	}
	if n >= limit {
		return 0
	}
	return limit - n
}

func (l *RedisLimiter) RetryAfter(ctx context.Context, key string, _ time.Duration) time.Duration {
	ttl, err := l.rdb.PTTL(ctx, l.prefix+key).Result()
	if err != nil || ttl < 0 {
		return 0
	}
	return ttl
}

var _ Limiter = (*RedisLimiter)(nil)
