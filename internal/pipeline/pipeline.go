// Package pipeline turns item ids into downloaded files: metadata, page
// descriptors and sequential page downloads per item, retried as one unit and
// fanned out over a bounded pool.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go-pixiv-download/internal/api"
	"go-pixiv-download/internal/models"
	"go-pixiv-download/internal/paths"
	"go-pixiv-download/internal/retry"

	log "github.com/sirupsen/logrus"
)

// ErrSetup marks failures that stop a run before any item is processed.
var ErrSetup = errors.New("setup failed")

// MetadataFetcher retrieves the metadata of one item.
type MetadataFetcher interface {
	FetchMetadata(ctx context.Context, itemID string) (models.ItemMetadata, error)
}

// AssetDownloader saves one page.
type AssetDownloader interface {
	DownloadAsset(ctx context.Context, asset models.AssetDescriptor) (models.AssetResult, error)
}

// Lister resolves every item id of an account.
type Lister interface {
	ResolveAllItemIDs(ctx context.Context, accountID string) ([]string, error)
}

// IsRetryable reports whether err is a rate limit response. Nothing else is retried.
func IsRetryable(err error) bool {
	return errors.Is(err, api.ErrRateLimited)
}

// ResolveItems lists the account's items. Any failure is a setup failure.
func ResolveItems(ctx context.Context, lister Lister, accountID string) ([]string, error) {
	log.Info("Fetching all artwork IDs...")
	ids, err := lister.ResolveAllItemIDs(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("%w: resolving items of account %s: %w", ErrSetup, accountID, err)
	}
	log.Infof("Total artworks found: %d", len(ids))
	return ids, nil
}

// Pipeline processes single items.
type Pipeline struct {
	fetcher    MetadataFetcher
	downloader AssetDownloader
	controller *retry.Controller
	savePath   string
}

// New creates a Pipeline saving below savePath.
func New(fetcher MetadataFetcher, downloader AssetDownloader, controller *retry.Controller, savePath string) *Pipeline {
	return &Pipeline{
		fetcher:    fetcher,
		downloader: downloader,
		controller: controller,
		savePath:   savePath,
	}
}

// ProcessItem runs one item to a terminal outcome. A rate limit anywhere in
// the item restarts it from the metadata request; pages that made it to disk
// are skipped on the next attempt.
func (p *Pipeline) ProcessItem(ctx context.Context, itemID string) models.DownloadOutcome {
	outcome := models.DownloadOutcome{ItemID: itemID}

	res := p.controller.Run(ctx, itemID, func(ctx context.Context, n int) error {
		outcome.Downloaded, outcome.Skipped = 0, 0
		log.WithField("item", itemID).Infof("Fetching artwork %s (Attempt %d)", itemID, n)

		meta, err := p.fetcher.FetchMetadata(ctx, itemID)
		if err != nil {
			return err
		}
		assets, err := paths.AssetDescriptors(p.savePath, meta)
		if err != nil {
			return err
		}
		for _, asset := range assets {
			result, err := p.downloader.DownloadAsset(ctx, asset)
			if err != nil {
				return err
			}
			switch result.Status {
			case models.AssetDownloaded:
				outcome.Downloaded++
			case models.AssetSkipped:
				outcome.Skipped++
			}
		}
		return nil
	})

	outcome.Attempts = res.Attempts
	if res.Err != nil {
		outcome.Reason = res.Err.Error()
		return outcome
	}
	outcome.Success = true
	return outcome
}
