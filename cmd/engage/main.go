// Command engage runs the content engagement scheduler: it scans configured
// sources on a fixed cycle, generates replies for fresh candidates, and
// sends at most a handful per day through one authenticated browser session.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/engage/internal/config"
	"github.com/hazyhaar/engage/internal/content"
	"github.com/hazyhaar/engage/internal/dispatch"
	"github.com/hazyhaar/engage/internal/engine"
	"github.com/hazyhaar/engage/internal/feed"
	"github.com/hazyhaar/engage/internal/generate"
	"github.com/hazyhaar/engage/internal/scan"
	"github.com/hazyhaar/engage/internal/session"
	"github.com/hazyhaar/engage/internal/status"
	"github.com/hazyhaar/engage/internal/store"
)

func main() {
	var (
		configPath   = flag.String("config", "engage.yaml", "path to the YAML configuration")
		once         = flag.Bool("once", false, "run one cycle and exit")
		source       = flag.String("source", "", "scan one source and print reply previews without sending, then exit")
		showStats    = flag.Bool("stats", false, "print stored stats and exit")
		clearHistory = flag.Bool("clear-history", false, "wipe the processed-item history and exit")
		clearSession = flag.Bool("clear-session", false, "wipe the saved browser session and exit")
		login        = flag.Bool("login", false, "open a headful browser for interactive login and exit")
		dryRun       = flag.Bool("dry-run", false, "walk the reply flow but never submit")
		logLevel     = flag.String("log-level", "info", "debug | info | warn | error")
	)
	flag.Parse()

	logger := newLogger(*logLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, options{
		configPath:   *configPath,
		once:         *once,
		source:       *source,
		showStats:    *showStats,
		clearHistory: *clearHistory,
		clearSession: *clearSession,
		login:        *login,
		dryRun:       *dryRun,
	}, logger); err != nil {
		logger.Error("engage: fatal", "error", err)
		os.Exit(1)
	}
}

type options struct {
	configPath   string
	once         bool
	source       string
	showStats    bool
	clearHistory bool
	clearSession bool
	login        bool
	dryRun       bool
}

func run(ctx context.Context, opts options, logger *slog.Logger) error {
	cfg, err := config.LoadFile(opts.configPath)
	if err != nil {
		return err
	}
	if opts.dryRun {
		cfg.DryRun = true
	}
	if opts.source != "" && !hasSource(cfg, opts.source) {
		return fmt.Errorf("engage: unknown source %q", opts.source)
	}

	st, err := store.Open(filepath.Join(cfg.DataDir, "engage.db"))
	if err != nil {
		return err
	}
	defer st.Close()

	switch {
	case opts.showStats:
		return printStats(ctx, st)
	case opts.clearHistory:
		if err := st.ClearProcessed(ctx); err != nil {
			return err
		}
		logger.Info("engage: processed-item history cleared")
		return nil
	case opts.clearSession:
		if err := st.ClearSessionState(ctx); err != nil {
			return err
		}
		logger.Info("engage: saved browser session cleared")
		return nil
	}

	sessions := session.NewManager(session.Config{
		BaseURL:     cfg.BaseURL,
		Remote:      cfg.Browser.Remote,
		Headful:     cfg.Browser.Headful || opts.login,
		CacheWindow: cfg.Browser.VerifyCacheWindow,
		NavTimeout:  cfg.Browser.NavTimeout,
		States:      st,
		Probe:       feed.AuthSignals,
		Logger:      logger,
	})
	defer sessions.Close()

	if opts.login {
		if err := sessions.WaitForLogin(ctx, ""); err != nil {
			return err
		}
		logger.Info("engage: login complete, session saved")
		return nil
	}

	ledger, err := st.LoadLedger(ctx)
	if err != nil {
		return err
	}

	fd := feed.New(sessions, feed.Config{
		BaseURL: cfg.BaseURL,
		DryRun:  cfg.DryRun,
		Logger:  logger,
	})

	gen := generate.NewClient(generate.Config{
		URL:          cfg.Generator.URL,
		APIKey:       os.Getenv(cfg.Generator.APIKeyEnv),
		Model:        cfg.Generator.Model,
		SystemPrompt: cfg.Generator.SystemPrompt,
		Timeout:      cfg.Generator.Timeout,
		Logger:       logger,
	}, nil)

	scanner := scan.New(scan.Config{
		Source: fd,
		Dedup:  st,
		Ledger: ledger,
		Filter: scan.NewFilter(scan.FilterConfig{
			MinLen:   cfg.Filter.MinLen,
			MaxLen:   cfg.Filter.MaxLen,
			MinWords: cfg.Filter.MinWords,
			Reject:   cfg.Filter.Reject,
			Allow:    cfg.Filter.Allow,
		}),
		Strategies: cfg.Strategies,
		MaxItems:   cfg.Limits.MaxItemsPerSource,
		OnAuthLost: sessions.MarkAuthLost,
		Logger:     logger,
	})

	if opts.source != "" {
		if err := sessions.EnsureSession(ctx, true); err != nil {
			return loginHint(logger, err)
		}
		return previewSource(ctx, os.Stdout, opts.source, cfg.AudienceMap()[opts.source], scanner, gen)
	}

	dispatcher := dispatch.New(dispatch.Config{
		Generator: gen,
		Sender:    fd,
		Records:   st,
		Ledger:    ledger,
		Threshold: cfg.Limits.ConfidenceThreshold,
		Audiences: cfg.AudienceMap(),
		Logger:    logger,
	})

	eng := engine.New(engine.Config{
		Sessions:    sessions,
		Scanner:     scanner,
		Dispatcher:  dispatcher,
		Persister:   st,
		Ledger:      ledger,
		Sources:     cfg.SourceIDs(),
		Interval:    cfg.Limits.CycleInterval,
		MaxPerCycle: cfg.Limits.MaxPerCycle,
		MaxDaily:    cfg.Limits.MaxDaily,
		OverFetch:   cfg.Limits.OverFetch,
		Retention:   cfg.Limits.Retention,
		SourcePause: cfg.Limits.SourcePause,
		Logger:      logger,
	})

	if cfg.Status.Addr != "" {
		srv := status.New(status.Config{
			Addr:   cfg.Status.Addr,
			Ledger: ledger,
			Store:  st,
			Logger: logger,
		})
		go func() {
			if err := srv.Run(ctx); err != nil {
				logger.Error("engage: status server", "error", err)
			}
		}()
	}

	logger.Info("engage: starting",
		"sources", len(cfg.Sources), "dry_run", cfg.DryRun,
		"interval", cfg.Limits.CycleInterval, "max_daily", cfg.Limits.MaxDaily)

	if opts.once {
		if err := sessions.EnsureSession(ctx, true); err != nil {
			return loginHint(logger, err)
		}
		sent, err := eng.RunCycle(ctx)
		if err != nil {
			return err
		}
		logger.Info("engage: single cycle complete", "sent", sent)
		return nil
	}

	err = eng.Run(ctx)
	switch {
	case errors.Is(err, context.Canceled):
		logger.Info("engage: shutting down")
		return nil
	case errors.Is(err, session.ErrNotAuthenticated):
		return loginHint(logger, err)
	}
	return err
}

// loginHint points the operator at the interactive login flow when the
// saved session is missing or expired.
func loginHint(logger *slog.Logger, err error) error {
	if errors.Is(err, session.ErrNotAuthenticated) {
		logger.Error("engage: no authenticated session; run with -login to sign in interactively")
	}
	return err
}

func hasSource(cfg *config.Config, id string) bool {
	for _, s := range cfg.Sources {
		if s.ID == id {
			return true
		}
	}
	return false
}

// previewer is the candidate producer previewSource scans with.
type previewer interface {
	ScanSource(ctx context.Context, sourceID string) ([]content.Item, error)
}

// previewSource scans one source and prints a generated reply preview per
// candidate. Nothing is sent and nothing is marked processed: the mode
// exists to inspect what the scheduler would say before letting it post.
func previewSource(ctx context.Context, w io.Writer, sourceID, audience string, scanner previewer, gen generate.Generator) error {
	items, err := scanner.ScanSource(ctx, sourceID)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Fprintf(w, "no candidates found for %s\n", sourceID)
		return nil
	}

	for i, item := range items {
		style := generate.ClassifyStyle(item.Text)
		fmt.Fprintf(w, "[%d] %s\n  item: %s\n", i+1, item.ID, item.Text)

		reply, err := gen.Generate(ctx, generate.Request{
			Text:     item.Text,
			Style:    style,
			Audience: audience,
		})
		if err != nil {
			fmt.Fprintf(w, "  preview failed: %v\n", err)
			continue
		}
		fmt.Fprintf(w, "  style: %s  confidence: %.2f\n  reply: %s\n", style, reply.Confidence, reply.Text)
	}
	return nil
}

func printStats(ctx context.Context, st *store.Store) error {
	ledger, err := st.LoadLedger(ctx)
	if err != nil {
		return err
	}
	dedup, err := st.CountProcessed(ctx)
	if err != nil {
		return err
	}

	payload := map[string]any{
		"daily":      ledger.Daily(),
		"sources":    ledger.Sources(),
		"dedup_size": dedup,
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
