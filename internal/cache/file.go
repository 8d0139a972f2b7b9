package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/isometry/virtual-ldap/internal/ldap"
)

// FileCache keeps one JSON file per name in a directory.
type FileCache struct {
	dir    string
	logger ldap.Logger
	now    func() time.Time
}

// NewFileCache creates dir if needed.
func NewFileCache(dir string, logger ldap.Logger) (*FileCache, error) {
	if logger == nil {
		logger = ldap.NewNullLogger()
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create cache directory %s: %w", dir, err)
	}
	return &FileCache{dir: dir, logger: logger, now: time.Now}, nil
}

func (c *FileCache) path(name string) string {
	return filepath.Join(c.dir, filepath.Base(name))
}

// Save writes through a temporary file and rename so a concurrent Load never
// reads a partial file.
func (c *FileCache) Save(_ context.Context, name string, value any, ttl time.Duration) error {
	raw, err := encode(value, ttl, c.now())
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(c.dir, filepath.Base(name)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create cache file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close cache file: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path(name)); err != nil {
		return fmt.Errorf("replace cache file: %w", err)
	}
	return nil
}

func (c *FileCache) Load(_ context.Context, name string, dst any) (bool, error) {
	raw, err := os.ReadFile(c.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read cache file: %w", err)
	}

	hit, err := decode(name, raw, dst, c.now())
	var corrupt *CacheCorruptionError
	if errors.As(err, &corrupt) {
		c.logger.Warn("Invalid cache, ignoring", map[string]any{"name": name, "error": err.Error()})
		return false, nil
	}
	return hit, err
}
