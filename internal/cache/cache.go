// Package cache is a Redis cache-aside layer. A nil client disables it and
// every operation becomes a no-op miss.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alphabot-ai/trickbook/internal/logger"
)

// Connect returns a client for redisURL, or nil when the URL is empty or the
// server does not answer.
func Connect(ctx context.Context, redisURL string, log *logger.Logger) *redis.Client {
	if redisURL == "" {
		log.Info("redis: no URL configured, caching disabled")
		return nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Warn("redis: invalid URL, caching disabled", "error", err)
		return nil
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn("redis: connection failed, caching disabled", "error", err)
		rdb.Close()
		return nil
	}
	log.Info("redis: connected, caching enabled", "addr", opts.Addr)
	return rdb
}

type Cache struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

func New(rdb *redis.Client, prefix string, ttl time.Duration) *Cache {
	return &Cache{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (c *Cache) Enabled() bool {
	return c != nil && c.rdb != nil
}

// Get decodes the cached value for key into dst and reports whether it was
// present.
func (c *Cache) Get(ctx context.Context, key string, dst any) (bool, error) {
	if !c.Enabled() {
		return false, nil
	}
	data, err := c.rdb.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Cache) Set(ctx context.Context, key string, v any) error {
	if !c.Enabled() {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, c.prefix+key, b, c.ttl).Err()
}

// Fill runs load and caches its result, unless Delete touched key after
// Fill started. A concurrent Delete makes the write fail with
// redis.TxFailedErr and leaves the key empty. Errors from load are returned
// unchanged.
func (c *Cache) Fill(ctx context.Context, key string, load func() (any, error)) error {
	if !c.Enabled() {
		_, err := load()
		return err
	}
	return c.rdb.Watch(ctx, func(tx *redis.Tx) error {
		v, err := load()
		if err != nil {
			return err
		}
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, c.prefix+key, b, c.ttl)
			return nil
		})
		return err
	}, c.versionKey(key))
}

// Delete drops keys and bumps their versions so in-flight fills are
// discarded.
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if !c.Enabled() || len(keys) == 0 {
		return nil
	}
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, k := range keys {
			pipe.Incr(ctx, c.versionKey(k))
			pipe.Expire(ctx, c.versionKey(k), versionTTL)
			pipe.Del(ctx, c.prefix+k)
		}
		return nil
	})
	return err
}

// versionTTL outlives any fill in flight.
const versionTTL = 24 * time.Hour

func (c *Cache) versionKey(key string) string {
	return c.prefix + "v:" + key
}
