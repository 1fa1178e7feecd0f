package models

import "fmt"

type (
	// Config holds the application's configuration settings.
	Config struct {
		SavePath            string   `toml:"SavePath" json:"SavePath"`
		CookieFile          string   `toml:"CookieFile" json:"CookieFile"`
		Cookie              string   `toml:"Cookie,omitempty" json:"-"` // Never echoed by debug show-config
		UserID              string   `toml:"UserID" json:"UserID"`
		LogLevel            string   `toml:"LogLevel" json:"LogLevel"`
		LogFormat           string   `toml:"LogFormat" json:"LogFormat"`
		BaseURL             string   `toml:"BaseURL" json:"BaseURL"`
		Referer             string   `toml:"Referer" json:"Referer"`
		UserAgent           string   `toml:"UserAgent" json:"UserAgent"`
		Lang                string   `toml:"Lang" json:"Lang"`
		Categories          []string `toml:"Categories" json:"Categories"`
		APIClientTimeoutSec int      `toml:"ApiClientTimeoutSec" json:"ApiClientTimeoutSec"`
		Concurrency         int      `toml:"Concurrency" json:"Concurrency"`
		MaxRetries          int      `toml:"MaxRetries" json:"MaxRetries"`
		InitialRetryDelayMs int      `toml:"InitialRetryDelayMs" json:"InitialRetryDelayMs"`
		CooldownMs          int      `toml:"CooldownMs" json:"CooldownMs"`
		RequestsPerSecond   float64  `toml:"RequestsPerSecond" json:"RequestsPerSecond"`
		LogApiRequests      bool     `toml:"LogApiRequests" json:"LogApiRequests"`
	}

	// ItemMetadata is the subset of an artwork document the pipeline needs.
	ItemMetadata struct {
		Title            string
		AssetURLTemplate string
		AssetCount       int
		IsRestricted     bool
	}

	// AssetDescriptor pairs one page URL with the local path it is saved to.
	AssetDescriptor struct {
		SourceURL       string
		DestinationPath string
	}

	// AssetResult describes what DownloadAsset did for one descriptor.
	AssetResult struct {
		Path   string
		Digest string // BLAKE3, hex; empty when skipped
		Size   int64
		Status AssetStatus
	}

	// DownloadOutcome is the terminal result of one item pipeline.
	DownloadOutcome struct {
		ItemID     string
		Reason     string
		Attempts   int
		Downloaded int
		Skipped    int
		Success    bool
	}

	// Summary aggregates every outcome of a scheduler run.
	Summary struct {
		Failures     []DownloadOutcome
		SuccessCount int
		TotalCount   int
	}
)

// AssetStatus reports whether an asset was fetched or already present.
type AssetStatus int

const (
	AssetSkipped AssetStatus = iota
	AssetDownloaded
)

func (s AssetStatus) String() string {
	switch s {
	case AssetSkipped:
		return "Skipped"
	case AssetDownloaded:
		return "Downloaded"
	default:
		return fmt.Sprintf("AssetStatus(%d)", int(s))
	}
}

// Folder names under SavePath.
const (
	FolderAll = "All"
	FolderR18 = "R18"
)

// Folder returns the category folder the item's assets belong in.
func (m ItemMetadata) Folder() string {
	if m.IsRestricted {
		return FolderR18
	}
	return FolderAll
}

// SummaryLine renders the final console line of a run.
func (s Summary) SummaryLine() string {
	return fmt.Sprintf("Successfully downloaded %d out of %d.", s.SuccessCount, s.TotalCount)
}
