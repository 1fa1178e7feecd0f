package cmd

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"go-pixiv-download/internal/config"
	"go-pixiv-download/internal/models"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// cfgFile holds the path to the config file specified by the user
var cfgFile string

// logLevel and logFormat hold the values of the logging flags
var (
	logLevel  string
	logFormat string
)

// logApiFlag holds the value of the --log-api flag
var logApiFlag bool

// savePathFlag holds the value of the --save-path flag
var savePathFlag string

// apiTimeoutFlag holds the value of the --api-timeout flag
var apiTimeoutFlag int

// globalConfig holds the loaded configuration
var globalConfig models.Config

// globalHttpTransport holds the globally configured HTTP transport (base or logging-wrapped)
var globalHttpTransport http.RoundTripper

// rootCmd downloads when called without a subcommand, like the download command.
var rootCmd = &cobra.Command{
	Use:   "pixiv-downloader",
	Short: "Download every artwork of a Pixiv user",
	Long: `Pixiv Downloader lists all illustrations and manga of a Pixiv account and
saves every page into <save-path>/All or <save-path>/R18, skipping files that
already exist. Rate limited requests are retried with exponential backoff.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadGlobalConfig, // Load config before any command runs
	RunE:              runDownload,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Configuration file path (default is ./config.toml or ~/.config/pixiv-downloader/config.toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", config.DefaultLogLevel, "Logging level (trace, debug, info, warn, error, fatal, panic)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", config.DefaultLogFormat, "Logging format (text, json)")
	rootCmd.PersistentFlags().BoolVar(&logApiFlag, "log-api", false, "Log API requests/responses to api.log (overrides config)")
	rootCmd.PersistentFlags().StringVar(&savePathFlag, "save-path", "", "Directory to save artworks (overrides config)")
	rootCmd.PersistentFlags().IntVar(&apiTimeoutFlag, "api-timeout", 0, "Timeout for API HTTP client in seconds (overrides config)")

	addDownloadFlags(rootCmd)
}

// initLogging configures the package-level logrus logger.
func initLogging(level, format string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	log.SetLevel(lvl)

	switch strings.ToLower(format) {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "text", "":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("invalid log format %q (want text or json)", format)
	}
	log.SetOutput(os.Stderr)
	return nil
}

// cliFlags collects the flags the user actually set on cmd.
func cliFlags(cmd *cobra.Command) config.CliFlags {
	flags := cmd.Flags()
	var cf config.CliFlags

	if flags.Changed("config") {
		cf.ConfigFilePath = &cfgFile
	}
	if flags.Changed("log-level") {
		cf.LogLevel = &logLevel
	}
	if flags.Changed("log-format") {
		cf.LogFormat = &logFormat
	}
	if flags.Changed("log-api") {
		cf.LogApiRequests = &logApiFlag
	}
	if flags.Changed("save-path") {
		cf.SavePath = &savePathFlag
	}
	if flags.Changed("api-timeout") {
		cf.APIClientTimeoutSec = &apiTimeoutFlag
	}
	cf.Download = downloadCliFlags(cmd)
	return cf
}

// loadGlobalConfig loads the configuration, applies flag overrides and sets
// up logging and the shared HTTP transport.
func loadGlobalConfig(cmd *cobra.Command, args []string) error {
	// Flags first so config loading itself logs at the requested level.
	if err := initLogging(logLevel, logFormat); err != nil {
		return err
	}

	cfg, transport, err := config.Initialize(cliFlags(cmd))
	if err != nil {
		return err
	}
	if err := initLogging(cfg.LogLevel, cfg.LogFormat); err != nil {
		return err
	}

	globalConfig = cfg
	globalHttpTransport = transport
	log.Debugf("Loaded configuration: save path %s, concurrency %d, max retries %d", cfg.SavePath, cfg.Concurrency, cfg.MaxRetries)
	return nil
}
