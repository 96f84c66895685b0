// Command fairwayd runs the article processing service: a managed Chrome
// session for rendering, the identity registry and asset store on a
// shared data root, and an HTTP API for submitting batches and
// inspecting state.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fairwaylabs/fairway/acquire"
	"github.com/fairwaylabs/fairway/browser"
	"github.com/fairwaylabs/fairway/extract"
	"github.com/fairwaylabs/fairway/pipeline"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	var lvl slog.Level
	switch cfg.LogLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	mgr := browser.NewManager(browser.Config{
		RemoteURL:       cfg.Browser.Remote,
		RecycleInterval: cfg.Browser.RecycleInterval,
		NavigateTimeout: cfg.Browser.NavigateTimeout,
		Logger:          logger,
	})
	if err := mgr.Start(ctx); err != nil {
		logger.Error("browser start", "error", err)
		os.Exit(1)
	}
	defer mgr.Close()

	svc, err := pipeline.New(pipeline.Config{
		DataDir:     cfg.DataDir,
		HistoryPath: cfg.History,
		Acquire: acquire.Config{
			Attempts:   cfg.Acquire.Attempts,
			RetryPause: cfg.Acquire.RetryPause,
			Logger:     logger,
		},
		Logger: logger,
	}, pipeline.NewBrowserRenderer(mgr), extract.New())
	if err != nil {
		logger.Error("service init", "error", err)
		os.Exit(1)
	}
	defer svc.Close()

	r := chi.NewRouter()
	svc.RegisterHTTP(r)

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("fairwayd listening", "addr", cfg.Listen, "data_dir", cfg.DataDir)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
}
