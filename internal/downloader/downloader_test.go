package downloader

import (
	"context"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"go-pixiv-download/internal/api"
	"go-pixiv-download/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/blake3"
)

type countingServer struct {
	*httptest.Server
	hits atomic.Int32
}

func newCountingServer(t *testing.T, status int, body []byte) *countingServer {
	t.Helper()
	cs := &countingServer{}
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cs.hits.Add(1)
		w.WriteHeader(status)
		w.Write(body)
	}))
	t.Cleanup(cs.Close)
	return cs
}

func newTestDownloader(server *httptest.Server) *Downloader {
	return NewDownloader(api.NewClient("PHPSESSID=x", server.Client(), models.Config{BaseURL: server.URL}))
}

// TestDownloadAsset_Success tests a fresh download into a missing category folder
func TestDownloadAsset_Success(t *testing.T) {
	payload := []byte("\x89PNG fake image bytes")
	server := newCountingServer(t, http.StatusOK, payload)

	dest := filepath.Join(t.TempDir(), "All", "Foo_1_p0.png")
	d := newTestDownloader(server.Server)

	result, err := d.DownloadAsset(context.Background(), models.AssetDescriptor{SourceURL: server.URL + "/1_p0.png", DestinationPath: dest})
	require.NoError(t, err)

	assert.Equal(t, models.AssetDownloaded, result.Status)
	assert.Equal(t, int64(len(payload)), result.Size)
	sum := blake3.Sum256(payload)
	assert.Equal(t, hex.EncodeToString(sum[:]), result.Digest)

	written, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, payload, written)

	entries, err := os.ReadDir(filepath.Dir(dest))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files should remain")
}

// TestDownloadAsset_Idempotent tests that a second run skips without a request
func TestDownloadAsset_Idempotent(t *testing.T) {
	server := newCountingServer(t, http.StatusOK, []byte("data"))
	dest := filepath.Join(t.TempDir(), "All", "Foo_1_p0.png")
	d := newTestDownloader(server.Server)
	asset := models.AssetDescriptor{SourceURL: server.URL + "/1_p0.png", DestinationPath: dest}

	first, err := d.DownloadAsset(context.Background(), asset)
	require.NoError(t, err)
	require.Equal(t, models.AssetDownloaded, first.Status)

	second, err := d.DownloadAsset(context.Background(), asset)
	require.NoError(t, err)
	assert.Equal(t, models.AssetSkipped, second.Status)
	assert.Empty(t, second.Digest)
	assert.Equal(t, int32(1), server.hits.Load(), "second run must not issue a request")
}

func TestDownloadAsset_StatusErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"rate limited", http.StatusTooManyRequests, api.ErrRateLimited},
		{"not found", http.StatusNotFound, api.ErrUpstream},
		{"server error", http.StatusInternalServerError, api.ErrUpstream},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newCountingServer(t, tt.status, []byte("nope"))
			dest := filepath.Join(t.TempDir(), "All", "x.png")

			_, err := newTestDownloader(server.Server).DownloadAsset(context.Background(), models.AssetDescriptor{SourceURL: server.URL + "/x.png", DestinationPath: dest})
			assert.ErrorIs(t, err, tt.want)

			_, statErr := os.Stat(dest)
			assert.True(t, os.IsNotExist(statErr), "nothing should be written on failure")
		})
	}
}

func TestDownloadAsset_FileSystemError(t *testing.T) {
	server := newCountingServer(t, http.StatusOK, []byte("data"))
	root := t.TempDir()
	// A regular file where the category directory should be.
	blocker := filepath.Join(root, "All")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0600))

	_, err := newTestDownloader(server.Server).DownloadAsset(context.Background(), models.AssetDescriptor{
		SourceURL:       server.URL + "/x.png",
		DestinationPath: filepath.Join(blocker, "x.png"),
	})
	assert.ErrorIs(t, err, ErrFileSystem)
}

func TestWriteAtomically_CreatesParentDirs(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "sub", "file.bin")

	require.NoError(t, writeAtomically(target, []byte("abc")))
	got, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}
