package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"slices"
	"strings"

	log "github.com/sirupsen/logrus"
)

// DefaultCategories are the profile sections whose keys are artwork IDs.
var DefaultCategories = []string{"illusts", "manga"}

// envelope is the wrapper every AJAX endpoint answers with.
type envelope struct {
	Message string          `json:"message"`
	Body    json.RawMessage `json:"body"`
	Error   bool            `json:"error"`
}

// decodeEnvelope unwraps the AJAX envelope and returns its body object.
func decodeEnvelope(data []byte, reqURL string) (json.RawMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Debugf("Response body causing unmarshal error: %s", truncate(data, 200))
		return nil, fmt.Errorf("%w: decoding %s: %w", ErrParse, reqURL, err)
	}
	if env.Error {
		return nil, fmt.Errorf("%w: %s reported an error: %s", ErrUpstream, reqURL, env.Message)
	}
	if !isJSONObject(env.Body) {
		return nil, fmt.Errorf("%w: %s: body is not an object", ErrParse, reqURL)
	}
	return env.Body, nil
}

// ListingURL builds the profile listing endpoint for an account.
func (c *Client) ListingURL(accountID string) string {
	u := fmt.Sprintf("%s/ajax/user/%s/profile/all", c.baseURL, url.PathEscape(accountID))
	if c.lang != "" {
		u += "?lang=" + url.QueryEscape(c.lang)
	}
	return u
}

// ResolveAllItemIDs returns every artwork ID of the account across the
// configured categories, without duplicates and in ascending order.
func (c *Client) ResolveAllItemIDs(ctx context.Context, accountID string) ([]string, error) {
	reqURL := c.ListingURL(accountID)
	log.Infof("Fetching all artwork IDs: %s", reqURL)

	resp, err := c.Get(ctx, reqURL)
	if err != nil {
		return nil, err
	}
	// The listing is not retried, so any failed status, 429 included, is upstream.
	if err := CheckStatus(resp, reqURL); err != nil {
		return nil, &StatusError{URL: reqURL, StatusCode: resp.StatusCode}
	}

	return ParseListing(resp.Body, c.categories)
}

// ParseListing extracts the union of item IDs from a profile listing body.
// A category present as an array or null (the API's empty form) adds nothing.
func ParseListing(data []byte, categories []string) ([]string, error) {
	body, err := decodeEnvelope(data, "listing")
	if err != nil {
		return nil, err
	}

	var sections map[string]json.RawMessage
	if err := json.Unmarshal(body, &sections); err != nil {
		return nil, fmt.Errorf("%w: decoding listing body: %w", ErrParse, err)
	}

	seen := make(map[string]struct{})
	for _, category := range categories {
		raw, ok := sections[category]
		if !ok || !isJSONObject(raw) {
			log.Debugf("Listing category %q has no entries", category)
			continue
		}
		var works map[string]json.RawMessage
		if err := json.Unmarshal(raw, &works); err != nil {
			return nil, fmt.Errorf("%w: decoding listing category %q: %w", ErrParse, category, err)
		}
		for id := range works {
			seen[id] = struct{}{}
		}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, compareIDs)
	return ids, nil
}

// compareIDs orders numeric IDs by value and everything else lexically.
func compareIDs(a, b string) int {
	if isDigits(a) && isDigits(b) && len(a) != len(b) {
		return len(a) - len(b)
	}
	return strings.Compare(a, b)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func isJSONObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
