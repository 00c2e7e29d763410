package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"smartmint/internal/app"
	"smartmint/internal/config"
	"smartmint/internal/idempotency"
	"smartmint/internal/logging"
	"smartmint/internal/metrics"
	"smartmint/internal/server"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger, err := logging.New(logging.Options{Level: cfg.Log.Level, File: cfg.Log.File, Console: true})
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	if envErr != nil {
		logger.Info("no .env file found, using environment variables")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := idempotency.Open(ctx, cfg.Service.IdempotencyStore, cfg.Service.IdempotencyStorePath, cfg.Service.PostgresDSN)
	if err != nil {
		logger.Fatal("idempotency store error", zap.Error(err))
	}
	if closer, ok := store.(interface{ Close() error }); ok {
		defer func() { _ = closer.Close() }()
	}

	m := metrics.New()
	deps, err := app.New(ctx, cfg, logger, m)
	if err != nil {
		logger.Fatal("startup error", zap.Error(err))
	}
	defer deps.Close()
	if err := cfg.RequireBundler(); err != nil {
		logger.Warn("minting disabled", zap.Error(err))
	}

	sessions := server.NewSessions(func() *server.Tab {
		s := deps.NewSession()
		return &server.Tab{Session: s, Workflow: deps.NewWorkflow(s)}
	})
	apiServer := server.NewServer(cfg, server.Deps{
		Sessions:  sessions,
		Store:     store,
		Reader:    deps.Reader,
		Inspector: deps.NFT,
		Resolver:  deps.Resolver,
		Links:     deps.Links,
		Metrics:   m,
		Logger:    logger.Named("http"),
		RPCHealth: deps.Ping,
	})

	go func() {
		if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("forced shutdown", zap.Error(err))
	}
}
