package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/b3trbeach/storefront/service/beat"
	"github.com/b3trbeach/storefront/service/checkout"
	"github.com/b3trbeach/storefront/service/config"
	"github.com/b3trbeach/storefront/service/db"
	"github.com/b3trbeach/storefront/service/governor"
	"github.com/b3trbeach/storefront/service/mail"
	"github.com/b3trbeach/storefront/service/metrics"
	natspkg "github.com/b3trbeach/storefront/service/nats"
	"github.com/b3trbeach/storefront/service/server"
	"github.com/b3trbeach/storefront/service/thor"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	// Load and validate configuration from environment.
	// This fails fast if any required config is missing or invalid.
	cfg := config.MustLoad()

	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"log_level", cfg.LogLevel,
		"network", cfg.Network,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database connection pool
	dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	if err := dbPool.Ping(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	store := db.NewStore(dbPool)

	// Prometheus metrics
	m := metrics.NewMetrics(prometheus.DefaultRegisterer)

	// Chain node client and remote transaction signer
	chain := thor.NewClient(cfg.NodeURL, cfg.TokenAddress, cfg.TokenDecimals, m, logger)
	signer := thor.NewRemoteSigner(cfg.SignerURL, nil, logger)
	logger.Info("initialized chain client",
		"node_url", cfg.NodeURL,
		"token", cfg.TokenAddress.Hex(),
	)

	// Block event subscriber, reconnecting in the background
	beats := beat.NewSubscriber(cfg.NodeURL, m, logger)
	go func() {
		if err := beats.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("block event subscriber stopped", "error", err)
		}
	}()

	// Shared refetch governor
	gov := governor.New(cfg.RefetchCooldown, nil, m, logger)

	// NATS purchase event publisher
	publisher, err := natspkg.NewPublisher(cfg.NATSURL, logger)
	if err != nil {
		logger.Error("failed to initialize NATS publisher", "error", err)
		os.Exit(1)
	}
	defer publisher.Close()

	// Order confirmation email client
	mailer := mail.NewClient(cfg.EmailBaseURL, cfg.EmailServiceID, cfg.EmailTemplateID, cfg.EmailPublicKey, logger)

	// Checkout lifecycle tracker
	tracker := checkout.NewTracker(chain, beats, gov, store, mailer, publisher, cfg.RecipientAddress, m, logger)

	// SSE purchase stream, fed from NATS
	ssePublisher, err := server.NewSSEPublisher(cfg.NATSURL, logger)
	if err != nil {
		logger.Warn("failed to initialize SSE publisher, streaming disabled", "error", err)
		ssePublisher = nil
	}

	httpServer := server.New(cfg.ServerAddr, cfg, store, tracker, signer, ssePublisher, m, logger)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		logger.Info("server shutdown complete")
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
