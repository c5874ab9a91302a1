// Command ambient listens on the default microphone for a wake phrase and
// logs the commands spoken after it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/ambient/internal/app"
	"github.com/MrWong99/ambient/internal/config"
	"github.com/MrWong99/ambient/internal/observe"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	envPath := flag.String("env", ".env", "optional dotenv file loaded before the configuration")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	if err := config.LoadEnv(*envPath); err != nil {
		fmt.Fprintf(os.Stderr, "ambient: %v\n", err)
		return 1
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "ambient: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "ambient: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("ambient starting",
		"version", version,
		"config", *configPath,
		"mode", cfg.Ambient.EffectiveMode(),
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	promReg := prometheus.NewRegistry()
	mp, shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
		Attributes:     []attribute.KeyValue{attribute.String("ambient.config", *configPath)},
		Registerer:     promReg,
		RuntimeMetrics: true,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Engines ───────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	build := func(c *config.Config) (*app.Engines, error) { return buildEngines(c, reg) }

	engines, err := build(cfg)
	if err != nil {
		slog.Error("failed to build engines", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, engines,
		app.WithMetrics(metrics),
		app.WithEngineBuilder(build),
		app.WithLevelVar(level),
	)
	if err != nil {
		_ = engines.Close()
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Hot reload ────────────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(next *config.Config, _ config.ConfigDiff) error {
		return application.Reload(next)
	})
	if err != nil {
		slog.Error("failed to watch config", "err", err)
		return 1
	}

	// ── Run ───────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return application.Run(gctx) })
	g.Go(func() error { return watcher.Run(gctx) })
	g.Go(func() error {
		handleLifecycleSignals(gctx, application)
		return nil
	})
	if addr := cfg.Server.ListenAddr; addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           application.Handler(promReg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error { return serveHTTP(gctx, srv, cfg.Server.TLS) })
	}

	slog.Info("ambient ready, press Ctrl+C to shut down")

	runErr := g.Wait()
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping")
	watcher.Stop()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// handleLifecycleSignals maps host signals onto the app's lifecycle hooks:
// SIGUSR1 suspends, SIGUSR2 resumes, SIGHUP reports a device change.
func handleLifecycleSignals(ctx context.Context, a *app.App) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGUSR1, syscall.SIGUSR2, syscall.SIGHUP)
	defer signal.Stop(sigs)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigs:
			switch sig {
			case syscall.SIGUSR1:
				a.OnSuspend()
			case syscall.SIGUSR2:
				a.OnResume()
			case syscall.SIGHUP:
				a.OnDeviceChanged()
			}
		}
	}
}

// serveHTTP runs srv until ctx is done.
func serveHTTP(ctx context.Context, srv *http.Server, tls *config.TLSConfig) error {
	errc := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr, "tls", tls != nil)
		var err error
		if tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errc <- err
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("http server: shutdown: %w", err)
	}
	return <-errc
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	phrases := cfg.Ambient.Phrases()
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         ambient: startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Mode", string(cfg.Ambient.EffectiveMode()))
	printRow("Wake phrase", phrases.WakePhrase)
	printRow("End phrase", phrases.EndPhrase)
	printRow("Cancel phrase", phrases.CancelPhrase)
	printRow("Locale", phrases.Locale)
	if cfg.Ambient.EffectiveMode() == config.ModeStreaming {
		printProvider("STT", cfg.Providers.STT, len(cfg.Providers.STTFallbacks))
	} else {
		printProvider("Transcriber", cfg.Providers.Transcriber, len(cfg.Providers.TranscriberFallbacks))
	}
	if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind string, e config.ProviderEntry, fallbacks int) {
	value := e.Name
	if value == "" {
		value = "(not configured)"
	} else if e.Model != "" {
		value = e.Name + " / " + e.Model
	}
	printRow(kind, value)
	if fallbacks > 0 {
		printRow("  fallbacks", fmt.Sprint(fallbacks))
	}
}

func printRow(label, value string) {
	if len([]rune(value)) > 19 {
		value = string([]rune(value)[:18]) + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", label, value)
}
