package main_test

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newFakePixiv serves user 7 with one good artwork and one that always
// answers 429.
func newFakePixiv(t *testing.T) *httptest.Server {
	t.Helper()
	var server *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/ajax/user/7/profile/all", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":false,"body":{"illusts":{"10":null},"manga":{"11":null}}}`)
	})
	mux.HandleFunc("/ajax/illust/10", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"body":{"title":"Ten","pageCount":1,"xRestrict":0,"urls":{"original":"%s/img/10_p0.png"}}}`, server.URL)
	})
	mux.HandleFunc("/ajax/illust/11", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	mux.HandleFunc("/img/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("png"))
	})
	server = httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

// TestDownload_EndToEnd runs the binary against a fake API
func TestDownload_EndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	server := newFakePixiv(t)
	workDir := t.TempDir()
	cfgPath := createTempConfig(t, fmt.Sprintf("BaseURL = %q\n", server.URL))
	env := []string{"PIXIV_COOKIE=abc"}
	args := []string{"--config", cfgPath, "-u", "7", "--retry-delay", "1", "--max-retries", "2", "--cooldown", "0"}

	stdout, _, err := runCommand(t, workDir, env, "", args...)
	require.NoError(t, err, "per-artwork failures must not fail the run")
	assert.Contains(t, stdout, "Successfully downloaded 1 out of 2.")

	data, err := os.ReadFile(filepath.Join(workDir, "downloads", "All", "Ten_10_p0.png"))
	require.NoError(t, err)
	assert.Equal(t, "png", string(data))

	// The download subcommand behaves like the root command.
	stdout, _, err = runCommand(t, workDir, env, "", append([]string{"download"}, args...)...)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Successfully downloaded 1 out of 2.")
}

// TestDownload_SetupFailureExitsNonZero verifies a failed listing stops the run
func TestDownload_SetupFailureExitsNonZero(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	t.Cleanup(server.Close)
	cfgPath := createTempConfig(t, fmt.Sprintf("BaseURL = %q\n", server.URL))

	stdout, stderr, err := runCommand(t, t.TempDir(), []string{"PIXIV_COOKIE=abc"}, "", "--config", cfgPath, "-u", "7")
	require.Error(t, err)

	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 1, exitErr.ExitCode())
	assert.Contains(t, stderr, "setup failed")
	assert.NotContains(t, stdout, "Successfully downloaded")
}

// TestDownload_PromptsForCookie verifies the interactive cookie prompt and
// that the answer is saved to the cookie file
func TestDownload_PromptsForCookie(t *testing.T) {
	server := newFakePixiv(t)
	workDir := t.TempDir()
	cfgPath := createTempConfig(t, fmt.Sprintf("BaseURL = %q\nCooldownMs = 0\nInitialRetryDelayMs = 1\nMaxRetries = 1\n", server.URL))

	stdout, _, err := runCommand(t, workDir, nil, "sessionvalue\n7\n", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, stdout, "PHPSESSID")
	assert.Contains(t, stdout, "Successfully downloaded 1 out of 2.")

	saved, err := os.ReadFile(filepath.Join(workDir, "pixiv_cookie.txt"))
	require.NoError(t, err)
	assert.Equal(t, "PHPSESSID=sessionvalue\n", string(saved))
}
