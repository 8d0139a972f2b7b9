package apiclient

import (
	"context"
	"sync"
	"time"
)

// refreshMargin renews a token this long before the platform expires it.
const refreshMargin = 5 * time.Minute

// TokenFunc exchanges app credentials for an access token.
type TokenFunc func(ctx context.Context) (token string, expiresIn time.Duration, err error)

// TokenCache holds an access token and refreshes it when it nears expiry.
type TokenCache struct {
	mu      sync.Mutex
	fetch   TokenFunc
	token   string
	expires time.Time
	now     func() time.Time
}

func NewTokenCache(fetch TokenFunc) *TokenCache {
	return &TokenCache{fetch: fetch, now: time.Now}
}

// Token returns a valid access token, fetching a new one if needed.
func (t *TokenCache) Token(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.token != "" && t.now().Before(t.expires.Add(-refreshMargin)) {
		return t.token, nil
	}

	token, expiresIn, err := t.fetch(ctx)
	if err != nil {
		return "", err
	}
	t.token = token
	t.expires = t.now().Add(expiresIn)
	return token, nil
}

// Invalidate forces the next Token call to fetch.
func (t *TokenCache) Invalidate() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.token = ""
	t.expires = time.Time{}
}
