package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go-pixiv-download/internal/api"
	"go-pixiv-download/internal/config"
	"go-pixiv-download/internal/credentials"
	"go-pixiv-download/internal/downloader"
	"go-pixiv-download/internal/models"
	"go-pixiv-download/internal/pipeline"
	"go-pixiv-download/internal/retry"

	"github.com/gosuri/uilive"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// --- Package Level Variables for Download Flags ---
var (
	downloadUserIDFlag      string
	downloadCookieFileFlag  string
	downloadConcurrencyFlag int
	downloadMaxRetriesFlag  int
	downloadRetryDelayFlag  int
	downloadCooldownFlag    int
	downloadRateFlag        float64
)

// downloadCmd represents the download command
var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download every artwork of a Pixiv user",
	Long: `Fetches the artwork list of a user, then downloads the pages of every artwork
with a bounded number of artworks in flight. Existing files are skipped, so an
interrupted run can simply be started again.`,
	RunE: runDownload,
}

func init() {
	rootCmd.AddCommand(downloadCmd)
	addDownloadFlags(downloadCmd)
}

// addDownloadFlags registers the download flags on c. Root and download share
// the same variables.
func addDownloadFlags(c *cobra.Command) {
	c.Flags().StringVarP(&downloadUserIDFlag, "user-id", "u", "", "Pixiv user ID whose artworks are downloaded (prompted if empty)")
	c.Flags().StringVar(&downloadCookieFileFlag, "cookie-file", "", "File holding the PHPSESSID cookie (overrides config)")
	c.Flags().IntVarP(&downloadConcurrencyFlag, "concurrency", "c", 0, "Number of artworks processed at once (overrides config)")
	c.Flags().IntVar(&downloadMaxRetriesFlag, "max-retries", 0, "Attempts per artwork when rate limited (overrides config)")
	c.Flags().IntVar(&downloadRetryDelayFlag, "retry-delay", 0, "First backoff delay in ms, doubled per retry (overrides config)")
	c.Flags().IntVar(&downloadCooldownFlag, "cooldown", 0, "Pause in ms after each successful artwork (overrides config)")
	c.Flags().Float64Var(&downloadRateFlag, "rate", 0, "Proactive request limit in requests per second, 0 disables (overrides config)")
}

func downloadCliFlags(cmd *cobra.Command) *config.CliDownloadFlags {
	flags := cmd.Flags()
	d := &config.CliDownloadFlags{}
	if flags.Changed("user-id") {
		d.UserID = &downloadUserIDFlag
	}
	if flags.Changed("cookie-file") {
		d.CookieFile = &downloadCookieFileFlag
	}
	if flags.Changed("concurrency") {
		d.Concurrency = &downloadConcurrencyFlag
	}
	if flags.Changed("max-retries") {
		d.MaxRetries = &downloadMaxRetriesFlag
	}
	if flags.Changed("retry-delay") {
		d.InitialRetryDelayMs = &downloadRetryDelayFlag
	}
	if flags.Changed("cooldown") {
		d.CooldownMs = &downloadCooldownFlag
	}
	if flags.Changed("rate") {
		d.RequestsPerSecond = &downloadRateFlag
	}
	return d
}

// credentialProvider tries the configured cookie, then the cookie file, then
// asks the user and saves the answer to the cookie file. terminal may be nil.
func credentialProvider(cfg models.Config, in *bufio.Reader, out io.Writer, terminal *os.File) credentials.Provider {
	file := credentials.FileProvider{Path: cfg.CookieFile}
	return credentials.Chain(
		credentials.Static(cfg.Cookie),
		file,
		credentials.PromptProvider{In: in, Out: out, Terminal: terminal, Store: file},
	)
}

func promptUserID(in *bufio.Reader, out io.Writer) (string, error) {
	fmt.Fprint(out, "Enter the Pixiv user ID: ")
	line, err := in.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading user ID: %w", err)
	}
	id := strings.TrimSpace(line)
	if id == "" {
		return "", fmt.Errorf("user ID cannot be empty")
	}
	return id, nil
}

func retryPolicy(cfg models.Config) retry.Policy {
	return retry.Policy{
		IsRetryable:  pipeline.IsRetryable,
		MaxAttempts:  cfg.MaxRetries,
		InitialDelay: time.Duration(cfg.InitialRetryDelayMs) * time.Millisecond,
		Cooldown:     time.Duration(cfg.CooldownMs) * time.Millisecond,
	}
}

// runDownload is the main execution function for the download command.
// Only setup failures return an error; per-artwork failures end up in the summary.
func runDownload(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := globalConfig
	if closer, ok := globalHttpTransport.(io.Closer); ok {
		defer closer.Close()
	}

	s := session{
		in:      bufio.NewReader(cmd.InOrStdin()),
		out:     cmd.OutOrStdout(),
		sleeper: retry.RealSleeper{},
	}
	if cmd.InOrStdin() == os.Stdin {
		s.terminal = os.Stdin
	}

	summary, err := s.download(ctx, cfg, globalHttpTransport)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), summary.SummaryLine())
	return nil
}

// session holds the console and timing dependencies of one download run.
type session struct {
	in       *bufio.Reader
	out      io.Writer
	terminal *os.File // enables hidden cookie input; nil when not interactive
	sleeper  retry.Sleeper
}

// download runs one complete session: credential, account, listing, scheduler.
func (s session) download(ctx context.Context, cfg models.Config, transport http.RoundTripper) (models.Summary, error) {
	cookie, err := credentialProvider(cfg, s.in, s.out, s.terminal).Credential(ctx)
	if err != nil {
		return models.Summary{}, fmt.Errorf("%w: %w", pipeline.ErrSetup, err)
	}
	log.Debugf("Cookie length: %d", len(cookie))

	userID := cfg.UserID
	if userID == "" {
		if userID, err = promptUserID(s.in, s.out); err != nil {
			return models.Summary{}, fmt.Errorf("%w: %w", pipeline.ErrSetup, err)
		}
	}

	if err := os.MkdirAll(cfg.SavePath, 0750); err != nil {
		return models.Summary{}, fmt.Errorf("%w: creating %s: %w", pipeline.ErrSetup, cfg.SavePath, err)
	}

	httpClient := &http.Client{
		Timeout:   time.Duration(cfg.APIClientTimeoutSec) * time.Second,
		Transport: transport,
	}
	client := api.NewClient(cookie, httpClient, cfg)

	ids, err := pipeline.ResolveItems(ctx, client, userID)
	if err != nil {
		return models.Summary{}, err
	}

	// Image bodies can stream for longer than the API timeout; ctx bounds them.
	assetClient := client.WithHTTPClient(&http.Client{
		Timeout:   0,
		Transport: transport,
	})

	controller := retry.NewController(retryPolicy(cfg), s.sleeper)
	p := pipeline.New(client, downloader.NewDownloader(assetClient), controller, cfg.SavePath)
	scheduler := pipeline.NewScheduler(p, cfg.Concurrency)

	writer := uilive.New()
	writer.Out = s.out
	writer.Start()
	failed := 0
	scheduler.OnOutcome = func(done, total int, outcome models.DownloadOutcome) {
		if !outcome.Success {
			failed++
		}
		fmt.Fprintf(writer, "Progress: %d / %d artworks finished (%d failed)\n", done, total, failed)
	}

	log.Infof("Starting %d workers for %d artworks...", cfg.Concurrency, len(ids))
	summary := scheduler.RunAll(ctx, ids)
	writer.Stop()

	for _, f := range summary.Failures {
		log.WithField("item", f.ItemID).Debugf("Failed after %d attempt(s): %s", f.Attempts, f.Reason)
	}
	return summary, nil
}
