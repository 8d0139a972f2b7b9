// Package cache is a small expiring key-value store for roster fetch results.
//
// Values are stored as a JSON envelope {"expires": <RFC 3339>, "data": ...}.
// Expiry is wall-clock and checked on load; stale values are ignored but never
// deleted. Unparseable contents are logged and treated as a miss.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/isometry/virtual-ldap/internal/ldap"
)

// Cache saves and loads named values.
type Cache interface {
	// Save stores value under name for ttl.
	Save(ctx context.Context, name string, value any, ttl time.Duration) error
	// Load decodes the value stored under name into dst. It reports false on
	// a miss, an expired value or corrupt contents.
	Load(ctx context.Context, name string, dst any) (bool, error)
}

// Backend types accepted by New.
const (
	TypeFile  = "file"
	TypeRedis = "redis"
	TypeNone  = "none"
)

// Config selects and configures a cache backend.
type Config struct {
	Type  string      `yaml:"type" default:"file"`
	Dir   string      `yaml:"dir" default:"cache"`
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	Addr     string `yaml:"addr" default:"127.0.0.1:6379"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix" default:"vldap:cache:"`
}

// New creates the configured cache.
func New(cfg Config, logger ldap.Logger) (Cache, error) {
	switch strings.ToLower(cfg.Type) {
	case "", TypeFile:
		return NewFileCache(cfg.Dir, logger)
	case TypeRedis:
		return NewRedisCache(cfg.Redis, logger), nil
	case TypeNone:
		return Noop{}, nil
	default:
		return nil, fmt.Errorf("unknown cache type %q", cfg.Type)
	}
}

// CacheCorruptionError reports unparseable cache contents.
type CacheCorruptionError struct {
	Name  string
	Cause error
}

func (e *CacheCorruptionError) Error() string {
	return fmt.Sprintf("corrupt cache entry %q: %v", e.Name, e.Cause)
}

func (e *CacheCorruptionError) Unwrap() error {
	return e.Cause
}

type envelope struct {
	Expires time.Time       `json:"expires"`
	Data    json.RawMessage `json:"data"`
}

func encode(value any, ttl time.Duration, now time.Time) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode cache value: %w", err)
	}
	return json.Marshal(envelope{Expires: now.Add(ttl).UTC(), Data: data})
}

// decode returns (false, nil) for an expired envelope and a
// *CacheCorruptionError for anything unparseable.
func decode(name string, raw []byte, dst any, now time.Time) (bool, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return false, &CacheCorruptionError{Name: name, Cause: err}
	}
	if env.Expires.IsZero() || len(env.Data) == 0 || string(env.Data) == "null" {
		return false, &CacheCorruptionError{Name: name, Cause: fmt.Errorf("missing expires or data")}
	}
	if !now.Before(env.Expires) {
		return false, nil
	}
	if err := json.Unmarshal(env.Data, dst); err != nil {
		return false, &CacheCorruptionError{Name: name, Cause: err}
	}
	return true, nil
}

// Noop never stores anything.
type Noop struct{}

func (Noop) Save(context.Context, string, any, time.Duration) error { return nil }

func (Noop) Load(context.Context, string, any) (bool, error) { return false, nil }
