// reportsync-service is the HTTP API server that prepares report artifacts
// and uploads them to a data archive.
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

	"reportsync/internal/api"
	"reportsync/internal/archive"
	"reportsync/internal/backend"
	"reportsync/internal/config"
	"reportsync/internal/dispatcher"
	"reportsync/internal/download"
	"reportsync/internal/health"
	"reportsync/internal/notify"
	"reportsync/internal/observability"
	"reportsync/internal/upload"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	configPath := flag.String("config", os.Getenv("REPORTSYNC_CONFIG"), "path to YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("Service failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx := context.Background()

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	artifacts, err := cfg.DownloadArtifacts()
	if err != nil {
		return err
	}

	// Setup metrics
	metrics, metricsHandler, err := observability.NewMetrics(ctx)
	if err != nil {
		return err
	}

	// Report backend and download manager
	backendClient, err := backend.New(cfg.BackendClient())
	if err != nil {
		return err
	}
	downloads := download.NewManager(backendClient, download.NewStore(artifacts...), cfg.DownloadManager(), metrics)

	// Archive
	source := archive.NewSource(&http.Client{Timeout: cfg.ADRClient().Timeout}, backendClient)
	store, err := archive.Open(cfg.ArchiveBackend(), source)
	if err != nil {
		return err
	}
	slog.Info("Archive configured", "type", cfg.Archive.Type)

	// Event sinks
	eventDispatcher := dispatcher.NewMemory(cfg.DispatcherMemory(), metrics)
	healthChecker := health.NewChecker(backendClient)

	var sinks []notify.Sink
	if cfg.Notify.Webhook.URL != "" {
		webhook, err := notify.NewWebhookSink(eventDispatcher, cfg.Notify.Webhook.URL, cfg.Notify.Webhook.SigningKey)
		if err != nil {
			return err
		}
		sinks = append(sinks, webhook)
	}
	var redisSink *notify.RedisSink
	if cfg.Notify.Redis.URL != "" {
		redisSink, err = notify.NewRedisSink(cfg.RedisSink())
		if err != nil {
			return err
		}
		sinks = append(sinks, redisSink)
		healthChecker.AddOptional("redis", health.CheckFunc(redisSink.Ping))
	}
	notifier := notify.New(cfg.Notifier(), sinks, metrics)
	unwatch := notifier.Watch(downloads.Store())
	slog.Info("Event sinks configured", "count", len(sinks))

	// Upload sessions
	tracker, err := upload.NewTracker(cfg.Upload.SessionCacheSize)
	if err != nil {
		return err
	}
	uploads := upload.NewService(upload.ServiceConfig{
		Coordinator: upload.NewCoordinator(store, metrics),
		Planner:     upload.NewPlanner(downloads),
		Tracker:     tracker,
		States:      downloads.Store().Snapshot,
		OnFinish:    notifier.UploadFinished,
	})

	// Create API router
	handler := api.NewHandler(api.HandlerConfig{
		Downloads:     downloads,
		Results:       backendClient,
		Uploads:       uploads,
		Archive:       store,
		HealthChecker: healthChecker,
	})
	router := api.NewRouter(api.RouterConfig{
		Handler: handler,
		Metrics: metrics,
		APIKey:  cfg.Service.APIKey,
	})

	if cfg.Service.APIKey != "" {
		slog.Info("API authentication enabled")
	} else {
		slog.Warn("API authentication disabled - no API_KEY configured")
	}

	// Create API server
	apiServer := &http.Server{
		Addr:         ":" + cfg.Service.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // results are streamed through
		IdleTimeout:  60 * time.Second,
	}

	// Create metrics server
	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", metricsHandler)
	metricsServer := &http.Server{
		Addr:         ":" + cfg.Service.MetricsPort,
		Handler:      metricsMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)

	go func() {
		slog.Info("Starting API server", "port", cfg.Service.Port)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	go func() {
		slog.Info("Starting metrics server", "port", cfg.Service.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// shutdown closes both servers gracefully
	shutdown := func(timeout time.Duration) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		handler.Close()
		if err := apiServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("API server shutdown error", "error", err)
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server shutdown error", "error", err)
		}
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("Received shutdown signal", "signal", sig)
	case err := <-serverErr:
		slog.Error("Server failed to start", "error", err)
		shutdown(5 * time.Second)
		return err
	}

	// Phase 1: Mark service as unhealthy for load balancer draining
	healthChecker.SetShuttingDown()

	if wait := cfg.Service.ShutdownDrainWait.Duration; wait > 0 {
		slog.Info("Waiting for traffic to drain", "duration", wait)
		time.Sleep(wait)
	}

	// Phase 2: Stop accepting requests and close state streams
	slog.Info("Starting graceful shutdown")
	shutdown(25 * time.Second)

	// Phase 3: Cancel upload sessions, then polls
	slog.Info("Stopping uploads and polls")
	uploads.Close()
	downloads.Close()
	unwatch()

	// Phase 4: Flush events
	slog.Info("Draining event sinks")
	drainCtx, drainCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer drainCancel()
	if err := notifier.Close(drainCtx); err != nil {
		slog.Warn("Notifier shutdown error", "error", err)
	}
	if err := eventDispatcher.Close(drainCtx); err != nil {
		slog.Warn("Dispatcher shutdown error", "error", err)
	}
	if redisSink != nil {
		if err := redisSink.Close(); err != nil {
			slog.Warn("Redis sink close error", "error", err)
		}
	}

	stats := eventDispatcher.Stats()
	slog.Info("Dispatcher stats",
		"delivered", stats.Delivered,
		"failed", stats.Failed,
		"dropped", stats.Dropped,
		"requeued", stats.Requeued,
		"parked", stats.Parked,
		"openHosts", stats.OpenHosts,
	)

	slog.Info("Shutdown complete")
	return nil
}
