// Package credential stores the per-user password and OTP secret that
// override what the roster provides.
package credential

import (
	"context"
	"fmt"
	"strings"
)

// Record is the locally owned credential state of one user. A nil field is
// absent: Get returns nil for values never stored, Put leaves nil fields
// untouched.
type Record struct {
	Password  *string `json:"password,omitempty"`
	OTPSecret *string `json:"otpsecret,omitempty"`
}

// Merge returns r with every non-nil field of update applied.
func (r Record) Merge(update Record) Record {
	if update.Password != nil {
		r.Password = update.Password
	}
	if update.OTPSecret != nil {
		r.OTPSecret = update.OTPSecret
	}
	return r
}

// Store is a credential backend keyed by the user's stable external id.
type Store interface {
	// Get returns the stored record, or an empty Record if none exists.
	Get(ctx context.Context, uid string) (Record, error)
	// Put inserts a record or merges update into the existing one.
	Put(ctx context.Context, uid string, update Record) error
	Close() error
}

// Backend types accepted by New.
const (
	TypeMemory   = "memory"
	TypeMySQL    = "mysql"
	TypeSQLite   = "sqlite"
	TypePostgres = "postgres"
	TypeRedis    = "redis"
)

// Config selects and configures a credential backend.
type Config struct {
	Type    string      `yaml:"type" default:"memory"`
	DSN     string      `yaml:"dsn"`
	Migrate bool        `yaml:"migrate" default:"true"`
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	Addr     string `yaml:"addr" default:"127.0.0.1:6379"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix" default:"vldap:credential:"`
}

// New opens the configured backend and wraps it with per-user write
// serialization.
func New(ctx context.Context, cfg Config) (Store, error) {
	var (
		store Store
		err   error
	)

	switch strings.ToLower(cfg.Type) {
	case "", TypeMemory:
		store = NewMemoryStore()
	case TypeMySQL, TypeSQLite, TypePostgres:
		store, err = OpenSQLStore(ctx, strings.ToLower(cfg.Type), cfg.DSN, cfg.Migrate)
	case TypeRedis:
		store, err = NewRedisStore(ctx, cfg.Redis)
	default:
		return nil, fmt.Errorf("unknown credential store type %q", cfg.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s credential store: %w", cfg.Type, err)
	}

	return Serialize(store), nil
}
