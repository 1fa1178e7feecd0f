package paths

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"go-pixiv-download/internal/api"
	"go-pixiv-download/internal/models"
)

// ErrNoPageMarker is returned when a multi-page template has no "_p0" to substitute.
var ErrNoPageMarker = fmt.Errorf("%w: multi-page URL template has no _p0 marker", api.ErrParse)

const pageMarker = "_p0"

// Characters that are unsafe in a file name on at least one common filesystem.
var unsafeNameChars = strings.NewReplacer(
	"/", "_", "\\", "_", ":", "_", "*", "_", "?", "_",
	"\"", "_", "<", "_", ">", "_", "|", "_", "\x00", "_",
)

// SanitizeName makes a title usable as part of a file name.
func SanitizeName(name string) string {
	cleaned := strings.TrimSpace(unsafeNameChars.Replace(name))
	cleaned = strings.Trim(cleaned, ".")
	if cleaned == "" {
		return "untitled"
	}
	return cleaned
}

// PageURL returns the source URL of page index within an item.
func PageURL(template string, assetCount, index int) (string, error) {
	if assetCount <= 1 {
		return template, nil
	}
	i := strings.LastIndex(template, pageMarker)
	if i < 0 {
		return "", ErrNoPageMarker
	}
	return template[:i] + fmt.Sprintf("_p%d", index) + template[i+len(pageMarker):], nil
}

// FilenameFromURL returns the last path segment of an asset URL, without query.
func FilenameFromURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: asset URL %q: %w", api.ErrParse, rawURL, err)
	}
	base := path.Base(u.Path)
	if base == "." || base == "/" || base == "" {
		return "", fmt.Errorf("%w: asset URL %q has no file name", api.ErrParse, rawURL)
	}
	return base, nil
}

// AssetDescriptors derives one descriptor per page of an item. The result
// depends only on its inputs, so rerunning over the same item yields the same
// destination paths.
func AssetDescriptors(saveRoot string, meta models.ItemMetadata) ([]models.AssetDescriptor, error) {
	if meta.AssetCount < 1 {
		return nil, errors.New("asset count must be at least 1")
	}

	dir := filepath.Join(saveRoot, meta.Folder())
	prefix := SanitizeName(meta.Title)

	var descriptors []models.AssetDescriptor
	for i := 0; i < meta.AssetCount; i++ {
		src, err := PageURL(meta.AssetURLTemplate, meta.AssetCount, i)
		if err != nil {
			return nil, err
		}
		name, err := FilenameFromURL(src)
		if err != nil {
			return nil, err
		}
		descriptors = append(descriptors, models.AssetDescriptor{
			SourceURL:       src,
			DestinationPath: filepath.Join(dir, prefix+"_"+SanitizeName(name)),
		})
	}
	return descriptors, nil
}
