package credential

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	fieldPassword  = "password"
	fieldOTPSecret = "otpsecret"
)

// RedisStore keeps each record in a hash at <prefix><uid>. HSET gives merge
// semantics for free: fields not in the update keep their value.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", cfg.Addr, err)
	}
	return NewRedisStoreFromClient(rdb, cfg.Prefix), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(rdb *redis.Client, prefix string) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) key(uid string) string {
	return s.prefix + uid
}

func (s *RedisStore) Get(ctx context.Context, uid string) (Record, error) {
	fields, err := s.rdb.HGetAll(ctx, s.key(uid)).Result()
	if err != nil {
		return Record{}, fmt.Errorf("hgetall %s: %w", s.key(uid), err)
	}

	var rec Record
	if v, ok := fields[fieldPassword]; ok {
		rec.Password = &v
	}
	if v, ok := fields[fieldOTPSecret]; ok {
		rec.OTPSecret = &v
	}
	return rec, nil
}

func (s *RedisStore) Put(ctx context.Context, uid string, update Record) error {
	values := make(map[string]any, 2)
	if update.Password != nil {
		values[fieldPassword] = *update.Password
	}
	if update.OTPSecret != nil {
		values[fieldOTPSecret] = *update.OTPSecret
	}
	if len(values) == 0 {
		return nil
	}

	if err := s.rdb.HSet(ctx, s.key(uid), values).Err(); err != nil {
		return fmt.Errorf("hset %s: %w", s.key(uid), err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
