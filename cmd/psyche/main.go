// Psyche Sync Server
//
// Live-data synchronization layer between a browser front end and a
// peer-to-peer file-sharing daemon:
// - Per-key poll schedulers with adaptive backoff
// - Flattened, grouped, sortable result views
// - Last-good result cache with cross-session persistence
// - Prometheus metrics & structured logging (zap)
package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/sjf/psyche-search/internal/api"
	"github.com/sjf/psyche-search/internal/config"
	"github.com/sjf/psyche-search/internal/logging"
	"github.com/sjf/psyche-search/internal/metrics"
	"github.com/sjf/psyche-search/pkg/backoff"
	"github.com/sjf/psyche-search/pkg/daemon"
	"github.com/sjf/psyche-search/pkg/resultcache"
	syncpkg "github.com/sjf/psyche-search/pkg/sync"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	// Initialize structured logging
	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("Psyche Sync Server starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr),
		zap.String("daemon", cfg.DaemonURL))

	ctx, cancel := signal.NotifyContext(
		context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := daemon.New(daemon.Config{
		BaseURL: cfg.DaemonURL,
		Timeout: cfg.DaemonTimeout,
	})

	var store resultcache.Store
	if cfg.CacheFile != "" {
		fs, err := resultcache.NewFileStore(cfg.CacheFile)
		if err != nil {
			logging.Fatal("cache store init failed", zap.Error(err))
		}
		store = fs
		logging.Info("result cache persistence enabled", zap.String("path", fs.Path()))
	}

	engine := syncpkg.NewEngine(ctx, syncpkg.Options{
		Client: client,
		Store:  store,
		Policy: backoff.Config{
			InitialWait: cfg.BackoffInitial,
			MaxWait:     cfg.BackoffMax,
			Multiplier:  cfg.BackoffFactor,
			MaxAttempts: cfg.MaxPollAttempts,
		},
		DownloadsInterval: cfg.DownloadsInterval,
		Logger:            logging.L(),
	})
	engine.RestoreCache()

	// The transfer queue is always on screen; keep it polling from the
	// start.
	engine.OpenDownloads()

	// Start metrics server
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Error("metrics server error", zap.Error(err))
		}
	}()

	// Start the local API server
	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: api.NewServer(engine).Handler(),
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		logging.Info("shutting down...")
		engine.Close()
		httpServer.Close()
		metricsServer.Close()
	}()

	logging.Info("server listening", zap.String("addr", cfg.ListenAddr))
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logging.Fatal("server error", zap.Error(err))
	}
}
