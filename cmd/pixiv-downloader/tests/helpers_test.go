package main_test

import (
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"go-pixiv-download/internal/models"

	"github.com/stretchr/testify/require"
)

// runCommand executes the downloader binary in workDir with a private HOME
// so no user configuration leaks in. env entries are KEY=VALUE pairs.
func runCommand(t *testing.T, workDir string, env []string, stdin string, args ...string) (string, string, error) {
	t.Helper()
	cmd := exec.Command(binaryPath, args...)
	cmd.Dir = workDir
	cmd.Env = append(filteredEnv(), "HOME="+t.TempDir())
	cmd.Env = append(cmd.Env, env...)
	cmd.Stdin = strings.NewReader(stdin)

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		t.Logf("Command failed with error: %v\nStderr:\n%s", err, stderr.String())
	}
	return stdout.String(), stderr.String(), err
}

// filteredEnv drops PIXIV_* variables from the test process environment.
func filteredEnv() []string {
	var env []string
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "PIXIV_") || strings.HasPrefix(kv, "HOME=") {
			continue
		}
		env = append(env, kv)
	}
	return env
}

// createTempConfig creates a temporary TOML config file
func createTempConfig(t *testing.T, content string) string {
	t.Helper()
	tempFile := filepath.Join(t.TempDir(), "temp_config.toml")
	require.NoError(t, os.WriteFile(tempFile, []byte(content), 0600), "Failed to write temporary config file")
	return tempFile
}

// parseShowConfigOutput parses the JSON output of 'debug show-config'
func parseShowConfigOutput(t *testing.T, output string) models.Config {
	t.Helper()
	var cfg models.Config
	err := json.Unmarshal([]byte(output), &cfg)
	if err != nil {
		t.Logf("Failed to unmarshal JSON output:\n%s", output)
	}
	require.NoError(t, err, "Failed to parse JSON output from debug show-config")
	return cfg
}
