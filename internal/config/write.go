package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go-pixiv-download/internal/models"

	"github.com/BurntSushi/toml"
)

// ErrConfigExists is returned by WriteDefault when it would overwrite a file.
var ErrConfigExists = errors.New("config file already exists")

const defaultHeader = `# pixiv-downloader configuration.
# Every key can also be set through a PIXIV_<KEY> environment variable
# (e.g. PIXIV_COOKIE, PIXIV_SAVEPATH); command line flags win over both.
# Cookie is left out on purpose: it lives in CookieFile.

`

// Encode renders cfg as TOML. The cookie is never written.
func Encode(cfg models.Config) ([]byte, error) {
	cfg.Cookie = ""
	var buf bytes.Buffer
	buf.WriteString(defaultHeader)
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteDefault writes the default configuration to path, creating parent
// directories. An existing file is left alone unless overwrite is set.
func WriteDefault(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrConfigExists, path)
		}
	}
	data, err := Encode(Defaults())
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
