// Command dnspause pauses and resumes DNS-filtering profiles on a remote
// control-plane service, from the command line or through a small local
// HTTP control server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/lmittmann/tint"

	"github.com/dnspause/dnspause"
	"github.com/dnspause/dnspause/api"
	"github.com/dnspause/dnspause/backup"
	"github.com/dnspause/dnspause/cache"
	"github.com/dnspause/dnspause/credentials"
	"github.com/dnspause/dnspause/credentials/execprovider"
	"github.com/dnspause/dnspause/notify"
	"github.com/dnspause/dnspause/retry"
	"github.com/dnspause/dnspause/server"
	"github.com/dnspause/dnspause/state"
	"github.com/dnspause/dnspause/telemetry"
	"github.com/dnspause/dnspause/toggle"
)

var version = "dev"

type globals struct {
	APIToken        string        `help:"Control-plane API token." env:"DNSPAUSE_API_TOKEN"`
	CredentialsFile string        `help:"Credentials template file." env:"DNSPAUSE_CREDENTIALS" type:"path"`
	BaseURL         string        `help:"Control-plane API base URL." env:"DNSPAUSE_BASE_URL" default:"${base_url}"`
	Profile         string        `help:"Profile ID to operate on; defaults to the last-used profile." env:"DNSPAUSE_PROFILE"`
	StateFile       string        `help:"Path to the local state database." env:"DNSPAUSE_STATE" type:"path"`
	CacheTTL        time.Duration `help:"How long the profile list is cached." default:"5m"`
	NoVerify        bool          `help:"Skip the post-toggle verification re-fetch."`
	RetryPreset     string        `help:"Retry preset for API calls." enum:"default,aggressive,conservative" default:"default"`
	LogLevel        string        `help:"Log level." enum:"debug,info,warn,error" default:"info"`
	LogFormat       string        `help:"Log format." enum:"text,json" default:"text"`
}

type CLI struct {
	globals

	Status   statusCmd   `cmd:"" help:"Show the selected profile and whether filtering is paused."`
	Pause    pauseCmd    `cmd:"" help:"Pause filtering for a while."`
	Resume   resumeCmd   `cmd:"" help:"Resume filtering immediately."`
	Toggle   toggleCmd   `cmd:"" help:"Flip between paused and enabled."`
	Profiles profilesCmd `cmd:"" help:"List all profiles on the account."`
	History  historyCmd  `cmd:"" help:"Show recent toggle operations."`
	Serve    serveCmd    `cmd:"" help:"Run the local HTTP control server."`
	Backup   backupCmd   `cmd:"" help:"Snapshot or restore the local state database."`

	Version kong.VersionFlag `help:"Print version and exit."`
}

// app holds the wired-up components commands run against.
type app struct {
	globals globals
	logger  *slog.Logger
	toggler *toggle.Service
	store   *state.Store

	serverToken string
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("dnspause"),
		kong.Description("Pause and resume DNS-filtering profiles."),
		kong.UsageOnError(),
		kong.Vars{
			"version":  version,
			"base_url": api.DefaultBaseURL,
		},
	)

	logger, err := buildLogger(cli.globals)
	kctx.FatalIfErrorf(err)

	a, err := buildApp(cli.globals, logger)
	kctx.FatalIfErrorf(err)
	defer func() {
		if a.store != nil {
			_ = a.store.Close()
		}
	}()

	kctx.FatalIfErrorf(kctx.Run(a))
}

func buildLogger(g globals) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(g.LogLevel)); err != nil {
		return nil, fmt.Errorf("invalid log level: %s", g.LogLevel)
	}

	var handler slog.Handler
	switch g.LogFormat {
	case "text":
		handler = tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	default:
		return nil, fmt.Errorf("invalid log format: %s", g.LogFormat)
	}
	return slog.New(handler), nil
}

// resolveCredentials applies the precedence: explicit token flag or
// environment first, then the credentials template file, then the secret
// stores (environment variables, local vault file).
func resolveCredentials(ctx context.Context, g globals, logger *slog.Logger) (*credentials.Credentials, error) {
	if g.APIToken != "" {
		if err := dnspause.ValidateToken(g.APIToken); err != nil {
			return nil, err
		}
		return &credentials.Credentials{APIToken: g.APIToken}, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("locating home directory: %w", err)
	}

	path := g.CredentialsFile
	if path == "" {
		path = filepath.Join(home, ".dnspause", "credentials.json")
	}

	if _, err := os.Stat(path); err == nil || g.CredentialsFile != "" {
		resolver := credentials.NewResolver(
			credentials.WithLogger(logger.With("component", "credentials")),
			execprovider.WithCommand("keychain", "security", "find-generic-password", "-w", "-s"),
			execprovider.WithCommand("pass", "pass", "show"),
		)
		creds, err := resolver.ResolveFile(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("resolving credentials from %s: %w", path, err)
		}
		return creds, nil
	}

	return credentialsFromStores(ctx,
		credentials.NewEnvStore("DNSPAUSE"),
		credentials.NewFileStore(filepath.Join(home, ".dnspause", "secrets.json")),
	)
}

// credentialsFromStores assembles credentials from the first store that
// holds each key.
func credentialsFromStores(ctx context.Context, stores ...credentials.Store) (*credentials.Credentials, error) {
	lookup := func(key string) string {
		for _, store := range stores {
			if val, err := store.Get(ctx, key); err == nil {
				return val
			}
		}
		return ""
	}

	creds := &credentials.Credentials{
		APIToken:    lookup(credentials.KeyAPIToken),
		WebhookURL:  lookup(credentials.KeyWebhookURL),
		ServerToken: lookup(credentials.KeyServerToken),
	}
	if err := dnspause.ValidateToken(creds.APIToken); err != nil {
		return nil, fmt.Errorf("no usable credentials found: %w", err)
	}
	return creds, nil
}

func buildApp(g globals, logger *slog.Logger) (*app, error) {
	ctx := context.Background()

	creds, err := resolveCredentials(ctx, g, logger)
	if err != nil {
		return nil, err
	}

	client := api.New(
		api.WithBaseURL(g.BaseURL),
		api.WithToken(creds.APIToken),
		api.WithLogger(logger.With("component", "api")),
		api.WithHTTPClient(&http.Client{
			Timeout:   api.DefaultTimeout,
			Transport: telemetry.NewInstrumentedTransport(nil),
		}),
	)

	statePath := g.StateFile
	if statePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("locating home directory: %w", err)
		}
		statePath = filepath.Join(home, ".dnspause", "state.db")
	}
	if err := os.MkdirAll(filepath.Dir(statePath), 0o700); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	store := state.New(state.WithLogger(logger.With("component", "state")))
	if err := store.Open(statePath); err != nil {
		return nil, err
	}

	notifiers := notify.Multi{notify.NewLogNotifier(logger.With("component", "notify"))}
	if creds.WebhookURL != "" {
		notifiers = append(notifiers, notify.NewWebhookNotifier(creds.WebhookURL))
	}

	pauseDuration := toggle.DefaultPauseDuration
	if d, err := store.PauseDuration(ctx); err == nil && d > 0 {
		pauseDuration = d
	}

	var policy retry.Policy
	switch g.RetryPreset {
	case "aggressive":
		policy = retry.Aggressive()
	case "conservative":
		policy = retry.Conservative()
	default:
		policy = retry.Default()
	}
	policy.Retryable = api.IsRetryable

	toggler := toggle.New(client,
		toggle.WithRetryPolicy(policy),
		toggle.WithCache(cache.New[[]dnspause.Profile](cache.WithDefaultTTL(g.CacheTTL))),
		toggle.WithNotifier(notifiers),
		toggle.WithHistory(store),
		toggle.WithLogger(logger.With("component", "toggle")),
		toggle.WithPauseDuration(pauseDuration),
		toggle.WithVerify(!g.NoVerify),
	)

	return &app{
		globals:     g,
		logger:      logger,
		toggler:     toggler,
		store:       store,
		serverToken: creds.ServerToken,
	}, nil
}

type statusCmd struct{}

func (c *statusCmd) Run(a *app) error {
	profile, status, err := a.toggler.Status(context.Background(), a.globals.Profile)
	if err != nil {
		return err
	}

	fmt.Printf("%s (%s): %s\n", profile.Name, profile.ID, status)
	if status == dnspause.StatusPaused {
		fmt.Printf("  resumes %s (%s)\n",
			profile.DisableUntil.Local().Format(time.RFC1123),
			time.Until(profile.DisableUntil).Round(time.Second))
	}
	return nil
}

type pauseCmd struct {
	For time.Duration `help:"How long to pause filtering." default:"1h"`
}

func (c *pauseCmd) Run(a *app) error {
	ctx := context.Background()

	result, err := a.toggler.Pause(ctx, a.globals.Profile, c.For)
	if err != nil {
		return err
	}
	printResult(result)

	// Remember the duration so bare toggles reuse it.
	if c.For > 0 {
		if err := a.store.SetPauseDuration(ctx, c.For); err != nil {
			a.logger.Warn("remembering pause duration failed", "error", err)
		}
	}
	return nil
}

type resumeCmd struct{}

func (c *resumeCmd) Run(a *app) error {
	result, err := a.toggler.Resume(context.Background(), a.globals.Profile)
	if err != nil {
		return err
	}
	printResult(result)
	return nil
}

type toggleCmd struct{}

func (c *toggleCmd) Run(a *app) error {
	result, err := a.toggler.Toggle(context.Background(), a.globals.Profile)
	if err != nil {
		return err
	}
	printResult(result)
	return nil
}

func printResult(result *toggle.Result) {
	fmt.Printf("%s (%s): %s -> %s\n", result.Profile.Name, result.Profile.ID, result.Previous, result.Current)
	if !result.Until.IsZero() {
		fmt.Printf("  resumes %s\n", result.Until.Local().Format(time.RFC1123))
	}
	if result.VerifyErr != nil {
		fmt.Printf("  warning: %v\n", result.VerifyErr)
	}
}

type profilesCmd struct {
	Refresh bool `help:"Bypass the cached profile list."`
}

func (c *profilesCmd) Run(a *app) error {
	profiles, err := a.toggler.Profiles(context.Background(), c.Refresh)
	if err != nil {
		return err
	}

	now := time.Now()
	for _, p := range profiles {
		status := p.StatusAt(now)
		line := fmt.Sprintf("%s  %s  %s", p.ID, p.Name, status)
		if status == dnspause.StatusPaused {
			line += fmt.Sprintf("  (resumes %s)", p.DisableUntil.Local().Format(time.RFC1123))
		}
		fmt.Println(line)
	}
	return nil
}

type historyCmd struct {
	Limit int `help:"Maximum records to show." default:"20"`
}

func (c *historyCmd) Run(a *app) error {
	records, err := a.store.History(context.Background(), c.Limit)
	if err != nil {
		return err
	}

	for _, rec := range records {
		line := fmt.Sprintf("%s  %s  %s", rec.At.Local().Format(time.RFC3339), rec.Action, rec.ProfileName)
		if !rec.Until.IsZero() {
			line += fmt.Sprintf("  until %s", rec.Until.Local().Format(time.RFC3339))
		}
		fmt.Println(line)
	}
	return nil
}

type serveCmd struct {
	Address      string `help:"Address to listen on." default:"127.0.0.1:8053"`
	OTLPEndpoint string `help:"OTLP gRPC endpoint for metrics export." env:"DNSPAUSE_OTLP_ENDPOINT"`
	Prometheus   bool   `help:"Expose Prometheus metrics on /metrics."`
}

func (c *serveCmd) Run(a *app) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownMetrics, err := telemetry.InitMetrics(ctx, telemetry.MetricsConfig{
		ServiceName:      "dnspause",
		ServiceVersion:   version,
		OTLPEndpoint:     c.OTLPEndpoint,
		EnablePrometheus: c.Prometheus,
	})
	if err != nil {
		return fmt.Errorf("initialising metrics: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = shutdownMetrics(shutdownCtx)
	}()

	srv := server.New(server.Config{
		Address:   c.Address,
		AuthToken: a.serverToken,
		Logger:    a.logger.With("component", "server"),
	}, a.toggler, a.store)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		a.logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	a.logger.Info("control server started", "address", srv.Address())

	select {
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

type backupCmd struct {
	Dir     string `help:"Snapshot directory." type:"path"`
	Keep    int    `help:"How many snapshots to retain after writing." default:"10"`
	Restore string `help:"Restore from this snapshot instead of writing one; 'latest' picks the newest." type:"path"`
}

func (c *backupCmd) Run(a *app) error {
	ctx := context.Background()

	dir := c.Dir
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("locating home directory: %w", err)
		}
		dir = filepath.Join(home, ".dnspause", "backups")
	}

	writer := backup.NewWriter(dir, backup.WithLogger(a.logger.With("component", "backup")))

	if c.Restore != "" {
		path := c.Restore
		if filepath.Base(path) == "latest" {
			latest, err := writer.Latest()
			if err != nil {
				return err
			}
			if latest == "" {
				return fmt.Errorf("no snapshots in %s", dir)
			}
			path = latest
		}

		snap, err := backup.Read(path)
		if err != nil {
			return err
		}
		if err := a.store.Restore(ctx, snap); err != nil {
			return err
		}
		fmt.Printf("restored %d records from %s\n", len(snap.History), path)
		return nil
	}

	snap, err := a.store.Export(ctx)
	if err != nil {
		return err
	}

	path, err := writer.Write(snap)
	if err != nil {
		return err
	}
	fmt.Printf("wrote %s (%d records)\n", path, len(snap.History))

	if _, err := writer.Prune(c.Keep); err != nil {
		return err
	}
	return nil
}
