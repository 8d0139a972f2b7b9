package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/isometry/virtual-ldap/internal/ldap"
)

// RedisCache stores envelopes as plain string keys. Keys carry no Redis TTL;
// expiry is read from the envelope like the file backend.
type RedisCache struct {
	rdb    *redis.Client
	prefix string
	logger ldap.Logger
	now    func() time.Time
}

// NewRedisCache creates a Redis-backed cache. The connection is established lazily.
func NewRedisCache(cfg RedisConfig, logger ldap.Logger) *RedisCache {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisCacheFromClient(rdb, cfg.Prefix, logger)
}

// NewRedisCacheFromClient wraps an existing client.
func NewRedisCacheFromClient(rdb *redis.Client, prefix string, logger ldap.Logger) *RedisCache {
	if logger == nil {
		logger = ldap.NewNullLogger()
	}
	return &RedisCache{rdb: rdb, prefix: prefix, logger: logger, now: time.Now}
}

func (c *RedisCache) Save(ctx context.Context, name string, value any, ttl time.Duration) error {
	raw, err := encode(value, ttl, c.now())
	if err != nil {
		return err
	}
	if err := c.rdb.Set(ctx, c.prefix+name, raw, 0).Err(); err != nil {
		return fmt.Errorf("set %s: %w", c.prefix+name, err)
	}
	return nil
}

func (c *RedisCache) Load(ctx context.Context, name string, dst any) (bool, error) {
	raw, err := c.rdb.Get(ctx, c.prefix+name).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s: %w", c.prefix+name, err)
	}

	hit, err := decode(name, raw, dst, c.now())
	var corrupt *CacheCorruptionError
	if errors.As(err, &corrupt) {
		c.logger.Warn("Invalid cache, ignoring", map[string]any{"name": name, "error": err.Error()})
		return false, nil
	}
	return hit, err
}

func (c *RedisCache) Close() error {
	return c.rdb.Close()
}
