package apiclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(Config{BaseURL: srv.URL + "/api", RetryMax: 2, Timeout: 5 * time.Second})
	require.NoError(t, err)
	return c
}

func TestClient_Get(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/department/list", r.URL.Path)
		assert.Equal(t, "tok", r.URL.Query().Get("access_token"))
		_, _ = w.Write([]byte(`{"errcode":0,"errmsg":"ok","department":[{"id":2,"name":"Engineering"}]}`))
	})

	var out struct {
		Department []struct {
			ID   int64  `json:"id"`
			Name string `json:"name"`
		} `json:"department"`
	}
	require.NoError(t, c.Get(context.Background(), "department/list", url.Values{"access_token": {"tok"}}, &out))
	require.Len(t, out.Department, 1)
	assert.Equal(t, "Engineering", out.Department[0].Name)
}

func TestClient_APIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"errcode":40014,"errmsg":"invalid access_token"}`))
	})

	err := c.Get(context.Background(), "user/list", nil, nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 40014, apiErr.Code)
	assert.Equal(t, "user/list", apiErr.Path)
	assert.Contains(t, err.Error(), "invalid access_token")
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"errcode":0}`))
	})

	require.NoError(t, c.Get(context.Background(), "gettoken", nil, nil))
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_ErrorsOmitQuery(t *testing.T) {
	query := url.Values{"appkey": {"key"}, "appsecret": {"s3cr3t"}, "access_token": {"tok3n"}}

	unavailable := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	closed := httptest.NewServer(http.NotFoundHandler())
	closed.Close()
	unreachable, err := New(Config{BaseURL: closed.URL, RetryMax: 1, Timeout: time.Second})
	require.NoError(t, err)

	tests := []struct {
		name     string
		client   *Client
		contains string
	}{
		{name: "retries exhausted on 503", client: unavailable, contains: "503"},
		{name: "connection refused", client: unreachable, contains: "giving up after 2 attempt(s)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.client.Get(context.Background(), "gettoken", query, nil)
			require.Error(t, err)

			msg := err.Error()
			assert.Contains(t, msg, "call gettoken")
			assert.Contains(t, msg, tt.contains)
			for _, leaked := range []string{"appsecret=", "access_token=", "s3cr3t", "tok3n"} {
				assert.NotContains(t, msg, leaked)
			}
		})
	}
}

func TestClient_UnexpectedStatus(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	})

	err := c.Get(context.Background(), "missing", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status")
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_MalformedResponse(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>`))
	})

	err := c.Get(context.Background(), "gettoken", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode gettoken response")
}

func TestClient_CanceledContext(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"errcode":0}`))
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, c.Get(ctx, "gettoken", nil, nil), context.Canceled)
}

func TestNew_InvalidBaseURL(t *testing.T) {
	for _, base := range []string{"", "not a url", "/relative"} {
		_, err := New(Config{BaseURL: base})
		assert.Error(t, err, base)
	}
}

func TestRedactQuery(t *testing.T) {
	assert.Equal(t, "https://oapi.dingtalk.com/gettoken?[REDACTED]", redactQuery("https://oapi.dingtalk.com/gettoken?appkey=k&appsecret=s"))
	assert.Equal(t, "https://oapi.dingtalk.com/gettoken", redactQuery("https://oapi.dingtalk.com/gettoken"))
	assert.Equal(t, "what?", redactQuery("what?"))
}

func TestTokenCache(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	fetches := 0

	tc := NewTokenCache(func(context.Context) (string, time.Duration, error) {
		fetches++
		return "token-" + string(rune('0'+fetches)), 2 * time.Hour, nil
	})
	tc.now = func() time.Time { return now }

	ctx := context.Background()

	token, err := tc.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "token-1", token)

	now = now.Add(time.Hour)
	token, err = tc.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "token-1", token)

	// Inside the refresh margin.
	now = now.Add(56 * time.Minute)
	token, err = tc.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "token-2", token)

	tc.Invalidate()
	token, err = tc.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "token-3", token)
	assert.Equal(t, 3, fetches)
}

func TestTokenCache_FetchError(t *testing.T) {
	boom := errors.New("bad credentials")
	tc := NewTokenCache(func(context.Context) (string, time.Duration, error) {
		return "", 0, boom
	})

	_, err := tc.Token(context.Background())
	assert.ErrorIs(t, err, boom)
}
