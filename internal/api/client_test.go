package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"go-pixiv-download/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	cfg := models.Config{BaseURL: server.URL, Lang: "zh"}
	return NewClient("PHPSESSID=abc", server.Client(), cfg), server
}

// TestNewClient tests the API client creation
func TestNewClient(t *testing.T) {
	client := NewClient("PHPSESSID=abc", nil, models.Config{})

	require.NotNil(t, client.HttpClient)
	assert.Equal(t, 30*time.Second, client.HttpClient.Timeout)
	assert.Equal(t, PixivBaseUrl, client.baseURL)
	assert.Equal(t, DefaultReferer, client.referer)
	assert.Equal(t, DefaultUserAgent, client.userAgent)
	assert.Equal(t, DefaultCategories, client.categories)
	assert.Nil(t, client.limiter, "limiter should be off unless RequestsPerSecond is set")
}

func TestNewClient_ConfigOverrides(t *testing.T) {
	cfg := models.Config{
		APIClientTimeoutSec: 5,
		Referer:             "https://example.test/",
		UserAgent:           "agent/1.0",
		Categories:          []string{"novels"},
		RequestsPerSecond:   2,
	}
	client := NewClient("c", nil, cfg)

	assert.Equal(t, 5*time.Second, client.HttpClient.Timeout)
	assert.Equal(t, "https://example.test/", client.referer)
	assert.Equal(t, "agent/1.0", client.userAgent)
	assert.Equal(t, []string{"novels"}, client.categories)
	assert.NotNil(t, client.limiter)
}

func TestGet_SendsIdentityHeaders(t *testing.T) {
	var got http.Header
	client, server := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("short and stout"))
	})

	resp, err := client.Get(context.Background(), server.URL+"/anything")
	require.NoError(t, err)

	assert.Equal(t, http.StatusTeapot, resp.StatusCode, "transport must not interpret status codes")
	assert.Equal(t, "short and stout", string(resp.Body))
	assert.Equal(t, DefaultUserAgent, got.Get("User-Agent"))
	assert.Equal(t, DefaultReferer, got.Get("Referer"))
	assert.Equal(t, "PHPSESSID=abc", got.Get("Cookie"))
}

func TestGet_NetworkErrorIsWrapped(t *testing.T) {
	client, server := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	server.Close()

	_, err := client.Get(context.Background(), server.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHTTPRequest)
}

func TestGet_CancelledContext(t *testing.T) {
	client, server := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Get(ctx, server.URL)
	assert.ErrorIs(t, err, ErrHTTPRequest)
}

func TestCheckStatus(t *testing.T) {
	assert.NoError(t, CheckStatus(&Response{StatusCode: 200}, "u"))
	assert.NoError(t, CheckStatus(&Response{StatusCode: 204}, "u"))

	err := CheckStatus(&Response{StatusCode: http.StatusTooManyRequests}, "u")
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.NotErrorIs(t, err, ErrUpstream)

	err = CheckStatus(&Response{StatusCode: 500}, "u")
	assert.ErrorIs(t, err, ErrUpstream)
	assert.NotErrorIs(t, err, ErrRateLimited)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 500, se.StatusCode)
}

func TestLoggingTransport_RedactsCookie(t *testing.T) {
	var seenCookie atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenCookie.Store(r.Header.Get("Cookie"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"error":false,"body":{}}`))
	}))
	defer server.Close()

	logPath := filepath.Join(t.TempDir(), "api.log")
	lt, err := NewLoggingTransport(http.DefaultTransport, logPath)
	require.NoError(t, err)

	client := NewClient("PHPSESSID=secret", &http.Client{Transport: lt}, models.Config{BaseURL: server.URL})
	resp, err := client.Get(context.Background(), server.URL+"/ajax/illust/1")
	require.NoError(t, err)
	require.NoError(t, lt.Close())

	assert.Equal(t, `{"error":false,"body":{}}`, string(resp.Body), "body must still be readable after logging")
	assert.Equal(t, "PHPSESSID=secret", seenCookie.Load(), "server must receive the real cookie")

	logged, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.NotContains(t, string(logged), "secret")
	assert.Contains(t, string(logged), redacted)
	assert.Contains(t, string(logged), `{"error":false,"body":{}}`)
}

func TestGet_ProactiveThrottle(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	t.Cleanup(server.Close)
	client := NewClient("", server.Client(), models.Config{RequestsPerSecond: 20})

	start := time.Now()
	for range 3 {
		_, err := client.Get(context.Background(), server.URL)
		require.NoError(t, err)
	}
	// Burst of one, then one token every 50ms.
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestGet_ThrottleHonoursContext(t *testing.T) {
	client := NewClient("", nil, models.Config{RequestsPerSecond: 0.001})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Get(ctx, "http://127.0.0.1:1/")
	assert.ErrorIs(t, err, ErrHTTPRequest)
}

func TestWithHTTPClient_SharesIdentityAndLimiter(t *testing.T) {
	client := NewClient("PHPSESSID=abc", nil, models.Config{RequestsPerSecond: 2})
	other := &http.Client{}

	clone := client.WithHTTPClient(other)

	assert.Same(t, other, clone.HttpClient)
	assert.Same(t, client.limiter, clone.limiter, "both clients draw from one limiter")
	assert.Equal(t, client.cookie, clone.cookie)
	assert.Equal(t, 30*time.Second, client.HttpClient.Timeout, "original client is untouched")
}
