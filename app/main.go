package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/skyline-data/flight-board/app/api"
	"github.com/skyline-data/flight-board/app/cache"
	"github.com/skyline-data/flight-board/app/cfg"
	"github.com/skyline-data/flight-board/app/database"
	"github.com/skyline-data/flight-board/app/flights"
	"github.com/skyline-data/flight-board/app/sources"
	"github.com/skyline-data/flight-board/app/storage"
	"github.com/skyline-data/flight-board/app/tasks"
)

func main() {
	appCfg, err := cfg.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}
	if appCfg == nil {
		// Help was shown, exit gracefully
		return
	}

	logLevel := slog.LevelInfo
	if appCfg.Debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	slog.Info("Starting Flight Board server", "version", appCfg.Version)

	db, err := database.NewConnection(
		appCfg.DBHost, appCfg.DBPort, appCfg.DBUser,
		appCfg.DBPassword, appCfg.DBName)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	version, dirty, err := database.RunMigrations(db)
	if err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("Database ready", "schema_version", version, "dirty", dirty)

	sourcesCache := sources.NewCache(appCfg.SourcesDir)
	if err := sourcesCache.Run(); err != nil {
		slog.Error("Failed to load source configurations", "dir", appCfg.SourcesDir, "error", err)
		os.Exit(1)
	}
	slog.Info("Loaded source configurations",
		"total", len(sourcesCache.GetConfigs()),
		"enabled", len(sourcesCache.GetEnabledConfigs()))

	flightRepo := database.NewFlightRepository(db)
	batchRepo := database.NewBatchRepository(db)

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	stager, err := storage.NewStager(startupCtx, storage.Config{
		Bucket:         appCfg.S3Bucket,
		Region:         appCfg.S3Region,
		Endpoint:       appCfg.S3Endpoint,
		ForcePathStyle: appCfg.S3ForcePathStyle,
	})
	startupCancel()
	if err != nil {
		slog.Error("Failed to initialize raw batch storage", "bucket", appCfg.S3Bucket, "error", err)
		os.Exit(1)
	}
	slog.Info("Raw batch storage ready", "bucket", appCfg.S3Bucket)

	var responseCache api.ResponseCache
	if appCfg.RedisAddr != "" {
		redisCache, err := cache.NewCache(appCfg.RedisAddr)
		if err != nil {
			slog.Warn("Redis unavailable, continuing without response cache",
				"addr", appCfg.RedisAddr, "error", err)
		} else {
			defer redisCache.Close()
			responseCache = redisCache
		}
	}

	httpClient := &http.Client{Timeout: 60 * time.Second}
	normalizer := flights.NewNormalizer()

	scheduler := tasks.NewScheduler(sourcesCache, flightRepo, batchRepo, stager,
		httpClient, normalizer, appCfg.UserAgent,
		time.Duration(appCfg.SchedulerInterval)*time.Second, appCfg.WorkerCount)
	scheduler.Start()
	defer scheduler.Stop()
	slog.Info("Background scheduler started", "workers", appCfg.WorkerCount,
		"interval", (time.Duration(appCfg.SchedulerInterval) * time.Second).String())

	apiHandler := api.NewHandler(flightRepo, batchRepo, sourcesCache, scheduler, responseCache)
	server := api.NewServer(apiHandler, appCfg.APIAccessKey, appCfg.Debug)

	httpServer := &http.Server{
		Addr:         ":" + appCfg.Port,
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "port", appCfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("Received shutdown signal", "signal", sig.String())
	case err := <-serverErrChan:
		slog.Error("Server error", "error", err)
	}

	slog.Info("Shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	// Scheduler is stopped via defer
	slog.Info("Shutdown complete")
}
