package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/edulab/proctor-bridge/internal/config"
	"github.com/edulab/proctor-bridge/internal/database"
	"github.com/edulab/proctor-bridge/internal/handler"
	"github.com/edulab/proctor-bridge/internal/logger"
	"github.com/edulab/proctor-bridge/internal/remote"
	"github.com/edulab/proctor-bridge/internal/repository"
	"github.com/edulab/proctor-bridge/internal/router"
	"github.com/edulab/proctor-bridge/internal/service"
	"github.com/edulab/proctor-bridge/internal/validator"
	"github.com/edulab/proctor-bridge/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Msg("Starting Proctor Bridge")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize Repositories ───────────────────────────────────────
	entryRepo := repository.NewEntryRepository(pool)
	recordRepo := repository.NewSyncRecordRepository(pool)
	platformRepo := repository.NewPlatformRepository(pool)

	// ─── Initialize Services ──────────────────────────────────────────
	remoteClient := remote.NewClient(cfg, log)
	policy := service.NewEligibilityPolicy(platformRepo)
	lifecycle := service.NewEntryLifecycle(entryRepo, recordRepo, platformRepo, remoteClient, cfg.PlatformBaseURL, log)
	snapshotter := service.NewSnapshotter(cfg.RemoteAccountID, cfg.RemoteAccountName, cfg.SendUserEmails, cfg.PublicBaseURL)
	scheduler := service.NewSyncScheduler(recordRepo, platformRepo, platformRepo, lifecycle, policy, snapshotter, remoteClient, log)

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())

	syncWorker := worker.NewSyncWorker(scheduler, rdb, cfg.SyncInterval, log)
	go syncWorker.Start(workerCtx)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Event:    handler.NewEventHandler(lifecycle, platformRepo, policy),
		Entry:    handler.NewEntryHandler(entryRepo, lifecycle, platformRepo, syncWorker),
		Callback: handler.NewCallbackHandler(lifecycle),
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(remoteClient, handlers, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop the sync worker and let the in-flight unit finish.
	workerCancel()
	time.Sleep(2 * time.Second) // Allow the worker to drain.

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
