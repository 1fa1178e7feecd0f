package config

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"go-pixiv-download/internal/api"
	"go-pixiv-download/internal/credentials"
	"go-pixiv-download/internal/models"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Default values for configuration
const (
	DefaultSavePath            = "downloads"
	DefaultCookieFile          = credentials.DefaultCookieFile
	DefaultLogApiRequests      = false
	DefaultAPIClientTimeoutSec = 30 // seconds
	DefaultConcurrency         = 5
	DefaultMaxRetries          = 5
	DefaultInitialRetryDelayMs = 1000 // milliseconds, doubled per rate-limited attempt
	DefaultCooldownMs          = 500  // milliseconds, after every successful item
	DefaultRequestsPerSecond   = 0.0  // 0 disables proactive throttling
	DefaultLang                = "zh"
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "text"
	DefaultConfigFileName      = "config.toml"
	EnvPrefix                  = "PIXIV"
	APILogFileName             = "api.log"
)

// CliFlags carries command line overrides. A nil field means "not set".
type CliFlags struct {
	// Global/Persistent Flags
	ConfigFilePath      *string
	LogLevel            *string // --log-level
	LogFormat           *string // --log-format
	LogApiRequests      *bool   // --log-api
	SavePath            *string // --save-path
	APIClientTimeoutSec *int    // --api-timeout

	Download *CliDownloadFlags
}

type CliDownloadFlags struct {
	UserID              *string  // -u
	CookieFile          *string  // --cookie-file
	Concurrency         *int     // -c
	MaxRetries          *int     // --max-retries
	InitialRetryDelayMs *int     // --retry-delay
	CooldownMs          *int     // --cooldown
	RequestsPerSecond   *float64 // --rate
}

// Defaults returns the configuration used when nothing overrides it.
func Defaults() models.Config {
	return models.Config{
		SavePath:            DefaultSavePath,
		CookieFile:          DefaultCookieFile,
		LogLevel:            DefaultLogLevel,
		LogFormat:           DefaultLogFormat,
		BaseURL:             api.PixivBaseUrl,
		Referer:             api.DefaultReferer,
		UserAgent:           api.DefaultUserAgent,
		Lang:                DefaultLang,
		Categories:          append([]string(nil), api.DefaultCategories...),
		APIClientTimeoutSec: DefaultAPIClientTimeoutSec,
		Concurrency:         DefaultConcurrency,
		MaxRetries:          DefaultMaxRetries,
		InitialRetryDelayMs: DefaultInitialRetryDelayMs,
		CooldownMs:          DefaultCooldownMs,
		RequestsPerSecond:   DefaultRequestsPerSecond,
		LogApiRequests:      DefaultLogApiRequests,
	}
}

// setViperDefaults configures Viper with the application's default values.
func setViperDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("savepath", d.SavePath)
	v.SetDefault("cookiefile", d.CookieFile)
	v.SetDefault("cookie", "")
	v.SetDefault("userid", "")
	v.SetDefault("loglevel", d.LogLevel)
	v.SetDefault("logformat", d.LogFormat)
	v.SetDefault("baseurl", d.BaseURL)
	v.SetDefault("referer", d.Referer)
	v.SetDefault("useragent", d.UserAgent)
	v.SetDefault("lang", d.Lang)
	v.SetDefault("categories", d.Categories)
	v.SetDefault("apiclienttimeoutsec", d.APIClientTimeoutSec)
	v.SetDefault("concurrency", d.Concurrency)
	v.SetDefault("maxretries", d.MaxRetries)
	v.SetDefault("initialretrydelayms", d.InitialRetryDelayMs)
	v.SetDefault("cooldownms", d.CooldownMs)
	v.SetDefault("requestspersecond", d.RequestsPerSecond)
	v.SetDefault("logapirequests", d.LogApiRequests)
}

// SearchDirs lists where config.toml is looked for when --config is not given.
func SearchDirs() []string {
	dirs := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".config", "pixiv-downloader"))
	}
	return dirs
}

// Initialize merges defaults, config file, PIXIV_* environment variables and
// CLI flags, in that order of precedence, validates the result and builds the
// HTTP transport (wrapped for request logging when enabled).
func Initialize(flags CliFlags) (models.Config, http.RoundTripper, error) {
	finalCfg := Defaults()

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setViperDefaults(v)

	if flags.ConfigFilePath != nil && *flags.ConfigFilePath != "" {
		log.Debugf("[Initialize] Using config file path from CLI flag: %s", *flags.ConfigFilePath)
		v.SetConfigFile(*flags.ConfigFilePath)
	} else {
		v.SetConfigName(strings.TrimSuffix(DefaultConfigFileName, filepath.Ext(DefaultConfigFileName)))
		v.SetConfigType("toml")
		for _, dir := range SearchDirs() {
			v.AddConfigPath(dir)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			log.Debug("[Initialize] No config file found, using defaults, environment and flags.")
		} else {
			return models.Config{}, nil, fmt.Errorf("reading config file %s: %w", v.ConfigFileUsed(), err)
		}
	} else {
		log.Infof("Using config file: %s", v.ConfigFileUsed())
	}

	if err := v.Unmarshal(&finalCfg); err != nil {
		return models.Config{}, nil, fmt.Errorf("failed to unmarshal config from viper: %w", err)
	}

	applyFlags(&finalCfg, flags)

	if err := Validate(&finalCfg, v.ConfigFileUsed()); err != nil {
		return models.Config{}, nil, err
	}

	transport := buildTransport(finalCfg)
	log.Debug("Configuration initialized successfully.")
	return finalCfg, transport, nil
}

func applyFlags(cfg *models.Config, flags CliFlags) {
	if flags.LogLevel != nil {
		cfg.LogLevel = *flags.LogLevel
	}
	if flags.LogFormat != nil {
		cfg.LogFormat = *flags.LogFormat
	}
	if flags.LogApiRequests != nil {
		cfg.LogApiRequests = *flags.LogApiRequests
	}
	if flags.SavePath != nil {
		log.Debugf("[Initialize] Overriding SavePath from flag: '%s'", *flags.SavePath)
		cfg.SavePath = *flags.SavePath
	}
	if flags.APIClientTimeoutSec != nil {
		cfg.APIClientTimeoutSec = *flags.APIClientTimeoutSec
	}

	d := flags.Download
	if d == nil {
		return
	}
	if d.UserID != nil {
		cfg.UserID = *d.UserID
	}
	if d.CookieFile != nil {
		cfg.CookieFile = *d.CookieFile
	}
	if d.Concurrency != nil {
		cfg.Concurrency = *d.Concurrency
	}
	if d.MaxRetries != nil {
		cfg.MaxRetries = *d.MaxRetries
	}
	if d.InitialRetryDelayMs != nil {
		cfg.InitialRetryDelayMs = *d.InitialRetryDelayMs
	}
	if d.CooldownMs != nil {
		cfg.CooldownMs = *d.CooldownMs
	}
	if d.RequestsPerSecond != nil {
		cfg.RequestsPerSecond = *d.RequestsPerSecond
	}
}

// Validate collects every problem with cfg into one *ConfigError.
func Validate(cfg *models.Config, path string) error {
	cerr := &ConfigError{Path: path}

	if strings.TrimSpace(cfg.SavePath) == "" {
		cerr.Errors = append(cerr.Errors, "SavePath cannot be empty (set via --save-path flag or SavePath in config)")
	}
	if cfg.Concurrency < 1 {
		cerr.Errors = append(cerr.Errors, fmt.Sprintf("Concurrency must be at least 1, got %d", cfg.Concurrency))
	}
	if cfg.MaxRetries < 1 {
		cerr.Errors = append(cerr.Errors, fmt.Sprintf("MaxRetries must be at least 1, got %d", cfg.MaxRetries))
	}
	if cfg.InitialRetryDelayMs < 0 {
		cerr.Errors = append(cerr.Errors, fmt.Sprintf("InitialRetryDelayMs cannot be negative, got %d", cfg.InitialRetryDelayMs))
	}
	if cfg.CooldownMs < 0 {
		cerr.Errors = append(cerr.Errors, fmt.Sprintf("CooldownMs cannot be negative, got %d", cfg.CooldownMs))
	}
	if cfg.RequestsPerSecond < 0 {
		cerr.Errors = append(cerr.Errors, fmt.Sprintf("RequestsPerSecond cannot be negative, got %g", cfg.RequestsPerSecond))
	}
	if cfg.APIClientTimeoutSec < 0 {
		cerr.Errors = append(cerr.Errors, fmt.Sprintf("ApiClientTimeoutSec cannot be negative, got %d", cfg.APIClientTimeoutSec))
	}
	if _, err := log.ParseLevel(cfg.LogLevel); err != nil {
		cerr.Errors = append(cerr.Errors, fmt.Sprintf("LogLevel %q is not a valid level", cfg.LogLevel))
	}
	if f := strings.ToLower(cfg.LogFormat); f != "text" && f != "json" {
		cerr.Errors = append(cerr.Errors, fmt.Sprintf("LogFormat must be text or json, got %q", cfg.LogFormat))
	}
	if u, err := url.Parse(cfg.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		cerr.Errors = append(cerr.Errors, fmt.Sprintf("BaseURL %q is not an absolute URL", cfg.BaseURL))
	}
	if len(cfg.Categories) == 0 {
		cerr.Errors = append(cerr.Errors, "Categories cannot be empty")
	}

	if cerr.HasErrors() {
		return cerr
	}
	return nil
}

// buildTransport wraps the default transport with request logging when enabled.
// The log goes to SavePath/api.log if SavePath exists, else the working directory.
func buildTransport(cfg models.Config) http.RoundTripper {
	baseTransport := http.DefaultTransport
	if !cfg.LogApiRequests {
		return baseTransport
	}

	logFilePath := APILogFileName
	if _, statErr := os.Stat(cfg.SavePath); statErr == nil {
		logFilePath = filepath.Join(cfg.SavePath, APILogFileName)
	} else {
		log.Warnf("SavePath '%s' not found, saving %s to current directory.", cfg.SavePath, APILogFileName)
	}
	log.Infof("API logging to file: %s", logFilePath)

	loggingTransport, err := api.NewLoggingTransport(baseTransport, logFilePath)
	if err != nil {
		log.WithError(err).Error("Failed to initialize API logging transport, logging disabled.")
		return baseTransport
	}
	return loggingTransport
}
