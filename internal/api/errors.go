package api

import (
	"errors"
	"fmt"
	"net/http"
)

// Custom Error Types
var (
	ErrRateLimited = errors.New("API rate limit exceeded")
	ErrUpstream    = errors.New("upstream request failed")
	ErrParse       = errors.New("unexpected response body")
	ErrHTTPRequest = errors.New("HTTP request creation/execution error")
)

// StatusError is returned for non-success statuses other than 429.
type StatusError struct {
	URL        string
	Message    string // API message when the body carried one
	StatusCode int
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s returned %d: %s", ErrUpstream, e.URL, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s returned %d", ErrUpstream, e.URL, e.StatusCode)
}

// Is lets errors.Is(err, ErrUpstream) match any StatusError.
func (e *StatusError) Is(target error) bool {
	return target == ErrUpstream
}

// CheckStatus maps an HTTP status onto the package's error taxonomy.
func CheckStatus(resp *Response, url string) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w (status 429 from %s)", ErrRateLimited, url)
	default:
		return &StatusError{URL: url, StatusCode: resp.StatusCode}
	}
}
