// Package credentials supplies the session cookie sent with every request.
package credentials

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"golang.org/x/term"
)

var (
	ErrNoCredential = errors.New("no credential available")
	ErrCredentialIO = errors.New("credential storage error")
)

// DefaultCookieFile is read first and written after an interactive prompt.
const DefaultCookieFile = "pixiv_cookie.txt"

const sessionKey = "PHPSESSID="

// Provider yields the cookie string.
type Provider interface {
	Credential(ctx context.Context) (string, error)
}

// Store persists a cookie for later runs.
type Store interface {
	Save(cookie string) error
}

// Normalize trims the value and adds the session key to a bare session id.
func Normalize(raw string) string {
	cookie := strings.TrimSpace(raw)
	if cookie == "" || strings.Contains(cookie, "=") {
		return cookie
	}
	return sessionKey + cookie
}

// Static returns a fixed cookie, e.g. one taken from config or env.
type Static string

func (s Static) Credential(context.Context) (string, error) {
	if c := Normalize(string(s)); c != "" {
		return c, nil
	}
	return "", ErrNoCredential
}

// FileProvider reads the cookie from the first non-empty line of a file.
type FileProvider struct {
	Path string
}

func (f FileProvider) Credential(context.Context) (string, error) {
	file, err := os.Open(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%w: %s not found", ErrNoCredential, f.Path)
	}
	if err != nil {
		return "", fmt.Errorf("%w: opening %s: %w", ErrCredentialIO, f.Path, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if cookie := Normalize(scanner.Text()); cookie != "" {
			log.Infof("Read cookie from %s", f.Path)
			return cookie, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("%w: reading %s: %w", ErrCredentialIO, f.Path, err)
	}
	return "", fmt.Errorf("%w: %s is empty", ErrNoCredential, f.Path)
}

// Save writes the cookie to the file, readable by the owner only.
func (f FileProvider) Save(cookie string) error {
	if dir := filepath.Dir(f.Path); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("%w: creating %s: %w", ErrCredentialIO, dir, err)
		}
	}
	if err := os.WriteFile(f.Path, []byte(cookie+"\n"), 0600); err != nil {
		return fmt.Errorf("%w: writing %s: %w", ErrCredentialIO, f.Path, err)
	}
	log.Infof("Cookie saved to %s", f.Path)
	return nil
}

// Instructions explain how to copy the session cookie out of a browser.
const Instructions = `Pixiv login involves a captcha, so the session cookie has to be copied by hand:
  1. Open https://www.pixiv.net/ in a browser and log in
  2. Press F12 to open the developer tools
  3. Switch to the Storage (Application) tab
  4. Open Cookies and select https://www.pixiv.net
  5. Find the PHPSESSID entry
  6. Copy its value (a "PHPSESSID=" prefix is added if missing)
`

// PromptProvider asks the user for the cookie and hands it to Store.
type PromptProvider struct {
	In  *bufio.Reader
	Out io.Writer
	// Terminal enables hidden input when it is an interactive terminal.
	Terminal *os.File
	Store    Store
}

func (p PromptProvider) Credential(context.Context) (string, error) {
	fmt.Fprint(p.Out, Instructions)
	fmt.Fprint(p.Out, "\nPaste the cookie value: ")

	raw, err := p.read()
	if err != nil {
		return "", fmt.Errorf("%w: reading cookie: %w", ErrNoCredential, err)
	}
	cookie := Normalize(raw)
	if cookie == "" {
		return "", fmt.Errorf("%w: empty input", ErrNoCredential)
	}

	if p.Store != nil {
		if err := p.Store.Save(cookie); err != nil {
			// The cookie still works for this run.
			log.WithError(err).Warn("Failed to persist cookie")
		}
	}
	return cookie, nil
}

func (p PromptProvider) read() (string, error) {
	if p.Terminal != nil && term.IsTerminal(int(p.Terminal.Fd())) {
		secret, err := term.ReadPassword(int(p.Terminal.Fd()))
		fmt.Fprintln(p.Out)
		if err == nil {
			return string(secret), nil
		}
		log.WithError(err).Debug("Hidden input unavailable, falling back to plain read")
	}
	if p.In == nil {
		return "", io.EOF
	}
	line, err := p.In.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return line, nil
}

// Chain tries each provider in turn. Only ErrNoCredential moves on to the
// next one; any other error stops the chain.
func Chain(providers ...Provider) Provider {
	return chain(providers)
}

type chain []Provider

func (c chain) Credential(ctx context.Context) (string, error) {
	errs := make([]error, 0, len(c))
	for _, p := range c {
		cookie, err := p.Credential(ctx)
		if err == nil {
			return cookie, nil
		}
		if !errors.Is(err, ErrNoCredential) {
			return "", err
		}
		log.WithError(err).Debug("Credential provider had nothing")
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return "", ErrNoCredential
	}
	return "", errors.Join(errs...)
}
