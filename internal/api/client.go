package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go-pixiv-download/internal/models"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	PixivBaseUrl     = "https://www.pixiv.net"
	DefaultReferer   = "https://www.pixiv.net/"
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"
)

// Response is the raw result of one GET.
type Response struct {
	Header     http.Header
	Body       []byte
	StatusCode int
}

// Client struct for interacting with the Pixiv AJAX API
type Client struct {
	HttpClient *http.Client
	limiter    *rate.Limiter
	cookie     string
	baseURL    string
	referer    string
	userAgent  string
	lang       string
	categories []string
}

// NewClient creates a new API client. The cookie is sent on every request
// and never changes afterwards, so one Client is safe to share between workers.
func NewClient(cookie string, httpClient *http.Client, cfg models.Config) *Client {
	if httpClient == nil {
		timeout := 30 * time.Second
		if cfg.APIClientTimeoutSec > 0 {
			timeout = time.Duration(cfg.APIClientTimeoutSec) * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	c := &Client{
		HttpClient: httpClient,
		cookie:     cookie,
		baseURL:    valueOr(cfg.BaseURL, PixivBaseUrl),
		referer:    valueOr(cfg.Referer, DefaultReferer),
		userAgent:  valueOr(cfg.UserAgent, DefaultUserAgent),
		lang:       cfg.Lang,
		categories: cfg.Categories,
	}
	if len(c.categories) == 0 {
		c.categories = DefaultCategories
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
		log.Debugf("Proactive throttling enabled at %.2f req/s", cfg.RequestsPerSecond)
	}
	return c
}

// Get issues a single decorated GET and returns status and body untouched.
func (c *Client) Get(ctx context.Context, url string) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: waiting for rate limiter: %w", ErrHTTPRequest, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: creating request for %s: %w", ErrHTTPRequest, url, err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Referer", c.referer)
	if c.cookie != "" {
		req.Header.Set("Cookie", c.cookie)
	}

	resp, err := c.HttpClient.Do(req)
	if err != nil {
		log.WithError(err).Debugf("Request to %s failed", url)
		return nil, fmt.Errorf("%w: performing request for %s: %w", ErrHTTPRequest, url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response body from %s: %w", ErrHTTPRequest, url, err)
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// WithHTTPClient returns a copy of c that sends through httpClient. The copy
// keeps the cookie, headers and rate limiter of c.
func (c *Client) WithHTTPClient(httpClient *http.Client) *Client {
	clone := *c
	clone.HttpClient = httpClient
	return &clone
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
