package downloader

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go-pixiv-download/internal/api"
	"go-pixiv-download/internal/models"

	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"
	"github.com/zeebo/blake3"
)

// Custom Downloader Errors
var (
	ErrFileSystem = errors.New("filesystem error") // Covers stat, mkdir, create, write, rename
)

// Getter is the transport the downloader fetches asset bytes with.
type Getter interface {
	Get(ctx context.Context, url string) (*api.Response, error)
}

// Downloader saves asset bytes to their destination, skipping files that already exist.
type Downloader struct {
	client Getter
}

// NewDownloader creates a new Downloader instance.
func NewDownloader(client Getter) *Downloader {
	return &Downloader{client: client}
}

// exists reports whether something is already at path.
func exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("%w: checking %s: %w", ErrFileSystem, path, err)
}

// DownloadAsset fetches one asset unless its destination already exists.
// The body is written to a temporary file next to the destination and
// renamed into place, so an interrupted write never leaves a file that
// looks complete.
func (d *Downloader) DownloadAsset(ctx context.Context, asset models.AssetDescriptor) (models.AssetResult, error) {
	filename := filepath.Base(asset.DestinationPath)

	found, err := exists(asset.DestinationPath)
	if err != nil {
		return models.AssetResult{}, err
	}
	if found {
		log.Infof("File already exists, skipping: %s", filename)
		return models.AssetResult{Status: models.AssetSkipped, Path: asset.DestinationPath}, nil
	}

	log.Infof("Downloading: %s", asset.SourceURL)
	resp, err := d.client.Get(ctx, asset.SourceURL)
	if err != nil {
		return models.AssetResult{}, err
	}
	if err := api.CheckStatus(resp, asset.SourceURL); err != nil {
		return models.AssetResult{}, err
	}

	if err := writeAtomically(asset.DestinationPath, resp.Body); err != nil {
		return models.AssetResult{}, err
	}

	sum := blake3.Sum256(resp.Body)
	result := models.AssetResult{
		Status: models.AssetDownloaded,
		Path:   asset.DestinationPath,
		Size:   int64(len(resp.Body)),
		Digest: hex.EncodeToString(sum[:]),
	}
	log.Infof("Successfully downloaded: %s (%s)", filename, humanize.Bytes(uint64(result.Size)))
	log.Debugf("BLAKE3 %s  %s", result.Digest, result.Path)
	return result, nil
}

// writeAtomically writes data to a temp file in the target directory and renames it into place.
func writeAtomically(targetPath string, data []byte) error {
	targetDir := filepath.Dir(targetPath)
	if err := os.MkdirAll(targetDir, 0750); err != nil {
		return fmt.Errorf("%w: creating directory %s: %w", ErrFileSystem, targetDir, err)
	}

	tempFile, err := os.CreateTemp(targetDir, filepath.Base(targetPath)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: creating temporary file for %s: %w", ErrFileSystem, targetPath, err)
	}

	shouldCleanupTemp := true
	defer func() {
		if shouldCleanupTemp {
			if removeErr := os.Remove(tempFile.Name()); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
				log.WithError(removeErr).Warnf("Failed to remove temporary file %s", tempFile.Name())
			}
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("%w: writing temporary file %s: %w", ErrFileSystem, tempFile.Name(), err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("%w: closing temporary file %s: %w", ErrFileSystem, tempFile.Name(), err)
	}
	if err := os.Rename(tempFile.Name(), targetPath); err != nil {
		return fmt.Errorf("%w: renaming %s to %s: %w", ErrFileSystem, tempFile.Name(), targetPath, err)
	}

	shouldCleanupTemp = false
	return nil
}
