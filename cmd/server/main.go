package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/cleslab/cles-backend/internal/config"
	"github.com/cleslab/cles-backend/internal/database"
	"github.com/cleslab/cles-backend/internal/handler"
	"github.com/cleslab/cles-backend/internal/logger"
	"github.com/cleslab/cles-backend/internal/middleware"
	"github.com/cleslab/cles-backend/internal/outbox"
	"github.com/cleslab/cles-backend/internal/repository"
	"github.com/cleslab/cles-backend/internal/router"
	"github.com/cleslab/cles-backend/internal/schedule"
	"github.com/cleslab/cles-backend/internal/session"
	sigproc "github.com/cleslab/cles-backend/internal/signal"
	"github.com/cleslab/cles-backend/internal/validator"
	"github.com/cleslab/cles-backend/internal/worker"
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
		Msg("Starting CLES Backend")

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
	questionRepo := repository.NewQuestionRepository(pool)
	sessionRepo := repository.NewSessionRepository(pool)
	responseRepo := repository.NewResponseRepository(pool)
	eventRepo := repository.NewEventRepository(pool)

	// ─── Signal Processor Plumbing ─────────────────────────────────────
	signalClient := sigproc.NewClient(cfg.SignalBaseURL, log)
	dispatcher := sigproc.NewDispatcher(signalClient, log)
	attention := sigproc.NewAttentionPoller(cfg.AttentionURL,
		time.Duration(cfg.AttentionPollSeconds)*time.Second, log)

	go dispatcher.Start(ctx)
	go attention.Start(ctx)

	// ─── Session Engine Registry ───────────────────────────────────────
	ob := outbox.NewRedisOutbox(rdb, log)
	manager := session.NewManager(
		questionRepo, sessionRepo, ob, dispatcher, attention,
		nil, schedule.Default(), log,
	)

	// ─── Initialize Handlers ───────────────────────────────────────────
	tokens := middleware.NewTokenService(cfg.JWTSecret, cfg.JWTExpiry)
	handlers := &router.Handlers{
		Session: handler.NewSessionHandler(manager, tokens, log),
		Report:  handler.NewReportHandler(sessionRepo, responseRepo, eventRepo, log),
		WS:      handler.NewWSHandler(manager, log, cfg.AllowedOrigins),
	}

	// ─── Start Background Workers ──────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())

	responseWorker := worker.NewResponseWorker(responseRepo, rdb, log)
	eventWorker := worker.NewEventWorker(eventRepo, rdb, log)
	scoreWorker := worker.NewScoreWorker(sessionRepo, rdb, log)

	go responseWorker.Start(workerCtx)
	go eventWorker.Start(workerCtx)
	go scoreWorker.Start(workerCtx)

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(tokens, handlers, cfg)

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

	// 2. Finalize live sessions so their scores and end events are queued.
	manager.Shutdown(shutdownCtx)

	// 3. Stop background workers and wait for queues to drain.
	workerCancel()
	time.Sleep(2 * time.Second) // Allow workers to drain.

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
