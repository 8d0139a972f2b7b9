// Package config loads the service configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strings"

	"github.com/creasty/defaults"
	"github.com/hashicorp/go-hclog"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/isometry/virtual-ldap/internal/cache"
	"github.com/isometry/virtual-ldap/internal/credential"
	"github.com/isometry/virtual-ldap/internal/ldap"
	"github.com/isometry/virtual-ldap/internal/roster"
	"github.com/isometry/virtual-ldap/internal/server"
)

// DefaultPath is used when no -config flag is given.
const DefaultPath = "config.yaml"

// EnvFile is loaded, if present, before the configuration is expanded.
const EnvFile = ".env"

// Config is the complete service configuration.
type Config struct {
	LDAP         LDAPConfig         `yaml:"ldap"`
	Provider     roster.Options     `yaml:"provider"`
	Cache        cache.Config       `yaml:"cache"`
	Database     credential.Config  `yaml:"database"`
	CustomGroups []ldap.CustomGroup `yaml:"customGroups"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Log          LogConfig          `yaml:"log"`
}

// LDAPConfig combines the listener and the directory layout.
type LDAPConfig struct {
	server.Config        `yaml:",inline"`
	ldap.DirectoryConfig `yaml:",inline"`
}

// MetricsConfig configures the /metrics and /healthz listener. An empty
// Listen disables it.
type MetricsConfig struct {
	Listen string `yaml:"listen" default:":9389"`
}

// LogConfig configures the root logger.
type LogConfig struct {
	Level  string `yaml:"level" default:"info"`
	Format string `yaml:"format" default:"text"`
}

// Load reads the configuration at path.
//
// A .env file in the working directory is loaded into the environment first
// (existing variables win), then ${VAR} references in the file are expanded.
// Defaults are applied before decoding, so explicit zero values in the file
// are kept.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", EnvFile, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	return Parse([]byte(os.ExpandEnv(string(data))))
}

// Parse decodes and validates an already expanded configuration document.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Directory returns the directory layout settings. Custom groups may be
// given at the top level or under ldap; both are used.
func (c *Config) Directory() ldap.DirectoryConfig {
	dir := c.LDAP.DirectoryConfig
	dir.CustomGroups = slices.Concat(dir.CustomGroups, c.CustomGroups)
	return dir
}

// LoggerOptions returns the root logger options.
func (c *Config) LoggerOptions() ldap.LoggerOptions {
	return ldap.LoggerOptions{
		Level: c.Log.Level,
		JSON:  strings.EqualFold(c.Log.Format, "json"),
	}
}

// Validate checks the configuration for errors that would only surface
// later at runtime.
func (c *Config) Validate() error {
	if c.LDAP.Listen == "" {
		return fmt.Errorf("ldap: listen address is required")
	}
	if c.LDAP.RequestTimeout <= 0 {
		return fmt.Errorf("ldap: requestTimeout must be positive")
	}
	if _, err := ldap.NewLayout(c.Directory()); err != nil {
		return fmt.Errorf("ldap: %w", err)
	}

	if err := validateProvider(c.Provider); err != nil {
		return fmt.Errorf("provider: %w", err)
	}

	switch strings.ToLower(c.Cache.Type) {
	case cache.TypeFile:
		if c.Cache.Dir == "" {
			return fmt.Errorf("cache: dir is required for the file cache")
		}
	case cache.TypeRedis, cache.TypeNone:
	default:
		return fmt.Errorf("cache: unknown type %q", c.Cache.Type)
	}

	switch strings.ToLower(c.Database.Type) {
	case credential.TypeMemory, credential.TypeRedis:
	case credential.TypeMySQL, credential.TypeSQLite, credential.TypePostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database: dsn is required for %s", c.Database.Type)
		}
	default:
		return fmt.Errorf("database: unknown type %q", c.Database.Type)
	}

	if hclog.LevelFromString(c.Log.Level) == hclog.NoLevel {
		return fmt.Errorf("log: unknown level %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log: unknown format %q", c.Log.Format)
	}

	return nil
}

func validateProvider(opts roster.Options) error {
	switch {
	case opts.Name == "":
		return fmt.Errorf("name is required")
	case opts.RefreshInterval < 0:
		return fmt.Errorf("refreshInterval must not be negative")
	case opts.CacheTTL < 0:
		return fmt.Errorf("cacheTTL must not be negative")
	case opts.RequestsPerSecond <= 0:
		return fmt.Errorf("requestsPerSecond must be positive")
	case opts.Concurrency < 1:
		return fmt.Errorf("concurrency must be at least 1")
	case opts.Timeout <= 0:
		return fmt.Errorf("timeout must be positive")
	}
	return nil
}
