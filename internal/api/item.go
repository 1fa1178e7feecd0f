package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"go-pixiv-download/internal/models"

	log "github.com/sirupsen/logrus"
)

// xRestrictR18 is the restriction code the API uses for R-18 works.
const xRestrictR18 = 1

const untitled = "untitled"

// MaxPageCount bounds the page count accepted from an artwork document.
const MaxPageCount = 1000

// itemBody mirrors the fields of /ajax/illust/<id> the pipeline reads.
// Pointers distinguish absent fields from zero values.
type itemBody struct {
	Title     *string `json:"title"`
	PageCount *int    `json:"pageCount"`
	XRestrict *int    `json:"xRestrict"`
	URLs      struct {
		Original *string `json:"original"`
	} `json:"urls"`
}

// ItemURL builds the metadata endpoint for one artwork.
func (c *Client) ItemURL(itemID string) string {
	return fmt.Sprintf("%s/ajax/illust/%s", c.baseURL, url.PathEscape(itemID))
}

// FetchMetadata retrieves one artwork document. A 429 comes back as
// ErrRateLimited so the caller can back off; other failures are terminal.
func (c *Client) FetchMetadata(ctx context.Context, itemID string) (models.ItemMetadata, error) {
	reqURL := c.ItemURL(itemID)

	resp, err := c.Get(ctx, reqURL)
	if err != nil {
		return models.ItemMetadata{}, err
	}
	if err := CheckStatus(resp, reqURL); err != nil {
		return models.ItemMetadata{}, err
	}

	meta, err := ParseItemMetadata(resp.Body)
	if err != nil {
		return models.ItemMetadata{}, fmt.Errorf("artwork %s: %w", itemID, err)
	}
	log.WithField("item", itemID).Debugf("Parsed metadata: title=%q pages=%d r18=%t", meta.Title, meta.AssetCount, meta.IsRestricted)
	return meta, nil
}

// ParseItemMetadata decodes an artwork document, applying defaults for
// missing title, page count and restriction code.
func ParseItemMetadata(data []byte) (models.ItemMetadata, error) {
	body, err := decodeEnvelope(data, "artwork")
	if err != nil {
		return models.ItemMetadata{}, err
	}

	var ib itemBody
	if err := json.Unmarshal(body, &ib); err != nil {
		return models.ItemMetadata{}, fmt.Errorf("%w: decoding artwork body: %w", ErrParse, err)
	}

	if ib.URLs.Original == nil || strings.TrimSpace(*ib.URLs.Original) == "" {
		return models.ItemMetadata{}, fmt.Errorf("%w: artwork has no original image URL", ErrParse)
	}

	meta := models.ItemMetadata{
		Title:            untitled,
		AssetCount:       1,
		AssetURLTemplate: *ib.URLs.Original,
	}
	if ib.Title != nil && *ib.Title != "" {
		meta.Title = *ib.Title
	}
	if ib.PageCount != nil && *ib.PageCount > MaxPageCount {
		return models.ItemMetadata{}, fmt.Errorf("%w: page count %d exceeds %d", ErrParse, *ib.PageCount, MaxPageCount)
	}
	if ib.PageCount != nil && *ib.PageCount > 1 {
		meta.AssetCount = *ib.PageCount
	}
	if ib.XRestrict != nil && *ib.XRestrict == xRestrictR18 {
		meta.IsRestricted = true
	}
	return meta, nil
}
