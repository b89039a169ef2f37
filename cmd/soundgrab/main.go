package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/use-agent/soundgrab/api"
	"github.com/use-agent/soundgrab/assembler"
	"github.com/use-agent/soundgrab/cache"
	"github.com/use-agent/soundgrab/config"
	"github.com/use-agent/soundgrab/credentials"
	"github.com/use-agent/soundgrab/engine"
	"github.com/use-agent/soundgrab/extractor"
	"github.com/use-agent/soundgrab/metrics"
	"github.com/use-agent/soundgrab/orchestrator"
	"github.com/use-agent/soundgrab/scope"
	"github.com/use-agent/soundgrab/strategy"
	"github.com/use-agent/soundgrab/webhook"
)

func main() {
	// ── 1. Load configuration ───────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	// ── 2. Initialise structured logging ────────────────────────────
	initLogger(cfg.Log)
	slog.Info("soundgrab starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"mode", cfg.Server.Mode,
		"maxConcurrent", cfg.Extractor.MaxConcurrent,
		"codec", cfg.Audio.Codec,
	)

	codec, err := extractor.LookupCodec(cfg.Audio.Codec)
	if err != nil {
		slog.Error("invalid audio codec", "codec", cfg.Audio.Codec, "error", err)
		os.Exit(1)
	}

	// ── 3. Strategy catalog ─────────────────────────────────────────
	catalog, err := loadCatalog(cfg)
	if err != nil {
		slog.Error("failed to load strategy catalog", "error", err)
		os.Exit(1)
	}
	slog.Info("strategy catalog loaded", "strategies", catalog.Names())

	// ── 4. Engines ──────────────────────────────────────────────────
	ytdlp := engine.NewYtDlpEngine(
		engine.WithYtDlpBinary(cfg.Extractor.YtDlpBin),
		engine.WithFFmpegLocation(cfg.Extractor.FFmpegLocation),
	)
	verifyCtx, verifyCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if version, err := ytdlp.VerifyInstalled(verifyCtx); err != nil {
		slog.Warn("yt-dlp not usable, downloads will fail until it is installed", "bin", cfg.Extractor.YtDlpBin, "error", err)
	} else {
		slog.Info("yt-dlp found", "version", version)
	}
	verifyCancel()

	engines := []engine.Engine{ytdlp, engine.NewHTTPEngine()}
	if cfg.Browser.Enabled {
		browser := engine.NewBrowserEngine(engine.BrowserOptions{
			Bin:       cfg.Browser.BrowserBin,
			NoSandbox: cfg.Browser.NoSandbox,
		})
		defer browser.Close()
		engines = append(engines, browser)
	}
	client := extractor.NewClient(engines, codec, cfg.Audio.Bitrate)

	// ── 5. Scratch space and credentials ────────────────────────────
	lifecycle, err := scope.New(cfg.Extractor.ScratchDir, 0)
	if err != nil {
		slog.Error("failed to prepare scratch directory", "dir", cfg.Extractor.ScratchDir, "error", err)
		os.Exit(1)
	}
	// This process owns the scratch directory; anything in it is left over
	// from a previous run.
	if n := lifecycle.Sweep(0); n > 0 {
		slog.Info("removed stale scratch entries", "count", n)
	}

	creds := credentials.NewStore(cfg.Extractor.CookiesFile, lifecycle.Base())
	if !creds.Configured() {
		slog.Warn("no cookie file configured, credentialed strategies are disabled")
	}

	// ── 6. Metrics and alerting ─────────────────────────────────────
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	opts := orchestrator.Options{
		MaxConcurrent:   cfg.Extractor.MaxConcurrent,
		AttemptTimeout:  cfg.Extractor.AttemptTimeout,
		MetadataTimeout: cfg.Extractor.MetadataTimeout,
		Observer:        m,
	}
	if alerter := webhook.NewAlerter(cfg.Alert.WebhookURL, cfg.Alert.Secret, cfg.Alert.Interval); alerter != nil {
		opts.Notifier = alerter
	}

	orch := orchestrator.New(catalog, client, creds, lifecycle, opts)

	// ── 7. Setup router ─────────────────────────────────────────────
	cc := cache.New(cfg.Cache.MaxEntries, cfg.Cache.TTL)
	defer cc.Close()

	asm := assembler.New(codec.Ext, cfg.Audio.DefaultFilename, codec.MimeType)
	startTime := time.Now()
	router := api.NewRouter(orch, asm, cc, reg, cfg, startTime)

	// ── 8. Start HTTP server ────────────────────────────────────────
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	// Request contexts derive from baseCtx so a forced shutdown cancels
	// running attempts and kills their yt-dlp processes.
	baseCtx, cancelRequests := context.WithCancel(context.Background())
	defer cancelRequests()
	srv := &http.Server{
		Addr:        addr,
		Handler:     router,
		BaseContext: func(net.Listener) context.Context { return baseCtx },
	}

	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// ── 9. Graceful shutdown ────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("shutdown signal received", "signal", sig.String())

	// Downloads can take a while; give in-flight requests one attempt's worth.
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Extractor.AttemptTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("HTTP server forced shutdown, cancelling in-flight requests", "error", err)
		cancelRequests()
	} else {
		slog.Info("HTTP server drained gracefully")
	}

	// Shutdown does not wait for hijacked or timed-out handlers; scope
	// cleanup runs in their defers, so wait for the orchestrator to go idle.
	waitCtx, waitCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer waitCancel()
	if err := waitIdle(waitCtx, func() int { return orch.Stats().InFlight }, 50*time.Millisecond); err != nil {
		slog.Error("in-flight requests did not finish", "in_flight", orch.Stats().InFlight, "error", err)
	}
	if n := lifecycle.Sweep(0); n > 0 {
		slog.Warn("removed scratch entries left at shutdown", "count", n)
	}

	// browser.Close() runs via defer.
	slog.Info("soundgrab stopped")
}

// waitIdle polls inFlight until it reports zero or ctx ends.
func waitIdle(ctx context.Context, inFlight func() int, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for inFlight() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// loadCatalog returns the configured catalog, minus strategies whose engine
// is not running.
func loadCatalog(cfg *config.Config) (*strategy.Catalog, error) {
	catalog := strategy.Default()
	if cfg.Extractor.StrategiesFile != "" {
		loaded, err := strategy.LoadFile(cfg.Extractor.StrategiesFile)
		if err != nil {
			return nil, err
		}
		catalog = loaded
	}
	if !cfg.Browser.Enabled {
		return catalog.Without(strategy.EngineBrowser)
	}
	return catalog, nil
}

// initLogger configures slog based on the LogConfig.
func initLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
