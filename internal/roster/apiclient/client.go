// Package apiclient is the HTTP transport shared by the IM platform roster
// providers: retries with backoff, client-side rate limiting, and the
// {"errcode": 0, "errmsg": "ok"} response envelope both platforms use.
package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"

	"github.com/isometry/virtual-ldap/internal/ldap"
)

// Config configures a Client.
type Config struct {
	BaseURL           string
	RequestsPerSecond float64 // <= 0 disables rate limiting
	Timeout           time.Duration
	RetryMax          int
	Logger            ldap.Logger
}

// Client issues JSON API calls against one platform.
type Client struct {
	http    *retryablehttp.Client
	limiter *rate.Limiter
	baseURL *url.URL
	logger  ldap.Logger
}

// APIError is a response whose envelope carries a non-zero errcode.
type APIError struct {
	Path    string
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: errcode %d: %s", e.Path, e.Code, e.Message)
}

type envelope struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid API base URL %q", cfg.BaseURL)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = ldap.NewNullLogger()
	}

	httpClient := cleanhttp.DefaultPooledClient()
	if cfg.Timeout > 0 {
		httpClient.Timeout = cfg.Timeout
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = httpClient
	rc.RetryMax = cfg.RetryMax
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	rc.Logger = leveledLogger{logger: logger}
	rc.ErrorHandler = giveUp

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &Client{
		http:    rc,
		limiter: rate.NewLimiter(limit, 1),
		baseURL: base,
		logger:  logger,
	}, nil
}

// Get calls path with query parameters and decodes the response into out.
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, query, out)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	endpoint := c.baseURL.JoinPath(path)
	endpoint.RawQuery = query.Encode()

	req, err := retryablehttp.NewRequestWithContext(ctx, method, endpoint.String(), nil)
	if err != nil {
		return fmt.Errorf("build request for %s: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", path, stripURL(err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("call %s: unexpected status %s", path, resp.Status)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	if env.ErrCode != 0 {
		return &APIError{Path: path, Code: env.ErrCode, Message: env.ErrMsg}
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode %s response: %w", path, err)
		}
	}
	return nil
}

// giveUp replaces the default retry exhaustion error, which quotes the
// request URL and with it the appsecret or access_token.
func giveUp(resp *http.Response, err error, attempts int) (*http.Response, error) {
	if resp != nil {
		resp.Body.Close()
		if err == nil {
			return nil, fmt.Errorf("giving up after %d attempt(s): unexpected status %s", attempts, resp.Status)
		}
	}
	if err == nil {
		return nil, fmt.Errorf("giving up after %d attempt(s)", attempts)
	}
	return nil, fmt.Errorf("giving up after %d attempt(s): %w", attempts, stripURL(err))
}

// stripURL unwraps a *url.Error so its URL does not reach the message.
func stripURL(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Err
	}
	return err
}

// leveledLogger adapts the field-map Logger to retryablehttp.LeveledLogger.
type leveledLogger struct {
	logger ldap.Logger
}

func (l leveledLogger) fields(kv []any) map[string]any {
	fields := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key := fmt.Sprint(kv[i])
		value := kv[i+1]
		if s, ok := value.(string); ok {
			value = redactQuery(s)
		}
		fields[key] = value
	}
	return fields
}

func (l leveledLogger) Error(msg string, kv ...any) { l.logger.Error(msg, l.fields(kv)) }
func (l leveledLogger) Info(msg string, kv ...any)  { l.logger.Debug(msg, l.fields(kv)) }
func (l leveledLogger) Debug(msg string, kv ...any) { l.logger.Trace(msg, l.fields(kv)) }
func (l leveledLogger) Warn(msg string, kv ...any)  { l.logger.Warn(msg, l.fields(kv)) }

// redactQuery strips query strings from logged URLs; they carry tokens and secrets.
func redactQuery(s string) string {
	if i := strings.IndexByte(s, '?'); i >= 0 && strings.Contains(s, "://") {
		return s[:i] + "?[REDACTED]"
	}
	return s
}
