package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/solrelay/service/auth"
	"github.com/brojonat/solrelay/service/balance"
	"github.com/brojonat/solrelay/service/config"
	"github.com/brojonat/solrelay/service/db"
	"github.com/brojonat/solrelay/service/idempotency"
	"github.com/brojonat/solrelay/service/metrics"
	natspkg "github.com/brojonat/solrelay/service/nats"
	"github.com/brojonat/solrelay/service/server"
	"github.com/brojonat/solrelay/service/solana"
	"github.com/brojonat/solrelay/service/temporal"
	"github.com/brojonat/solrelay/service/transfer"
)

func main() {
	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"log_level", cfg.LogLevel,
		"environment", cfg.Environment,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.NewMetrics(nil) // nil uses default registry
	}

	// The RPC client is built once and shared read-only by every request.
	rpcURL, err := solana.SelectRandomEndpoint(cfg.RPCEndpoints())
	if err != nil {
		logger.Error("failed to select RPC endpoint", "error", err)
		os.Exit(1)
	}
	endpoint := solana.EndpointLabel(rpcURL)
	solanaClient := solana.NewClient(solana.NewRPCClient(rpcURL), solana.Options{
		Endpoint:       endpoint,
		Commitment:     solana.ConfirmationStatus(cfg.Commitment),
		ConfirmTimeout: cfg.ConfirmationTimeout,
		PollInterval:   cfg.ConfirmationPollInterval,
		ReadRetries:    cfg.RPCReadRetries,
		RetryBackoff:   cfg.RPCRetryBackoff,
	}, m, logger)
	logger.Info("initialized solana RPC client",
		"endpoint", endpoint,
		"total_endpoints", len(cfg.RPCEndpoints()),
		"commitment", cfg.Commitment,
	)

	deps := server.Deps{
		Gate:     auth.NewGate([]byte(cfg.AuthTokenSecret), cfg.AuthTokenIssuer),
		Balances: balance.NewService(solanaClient, logger),
		Executor: transfer.NewExecutor(solanaClient, transfer.Options{VerifySender: cfg.VerifySenderKey}, m, logger),
		Metrics:  m,
		Logger:   logger,
	}

	if cfg.DatabaseURL != "" {
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		store := db.NewStore(pool, m)
		if err := store.Migrate(ctx); err != nil {
			logger.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}
		deps.Store = store
		logger.Info("connected to database, transfer history enabled")
	}

	if cfg.NATSURL != "" {
		publisher, err := natspkg.NewPublisher(cfg.NATSURL, m, logger)
		if err != nil {
			logger.Error("failed to create NATS publisher", "error", err)
			os.Exit(1)
		}
		defer publisher.Close()
		deps.Publisher = publisher

		stream, err := server.NewTransferStream(cfg.NATSURL, logger)
		if err != nil {
			logger.Error("failed to create transfer stream", "error", err)
			os.Exit(1)
		}
		deps.Stream = stream
		logger.Info("connected to NATS", "url", cfg.NATSURL)
	}

	if cfg.RedisURL != "" {
		guard, err := idempotency.NewRedisGuard(ctx, cfg.RedisURL, cfg.IdempotencyTTL, logger)
		if err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer guard.Close()
		deps.Guard = guard
		logger.Info("idempotency keys enabled", "ttl", cfg.IdempotencyTTL)
	}

	if cfg.ReconciliationEnabled() {
		temporalClient, err := temporal.NewClient(cfg.TemporalHost, cfg.TemporalNamespace, cfg.TemporalTaskQueue, logger)
		if err != nil {
			logger.Error("failed to create temporal client", "error", err)
			os.Exit(1)
		}
		defer temporalClient.Close()
		deps.Reconciler = temporalClient
		logger.Info("connected to temporal, reconciliation enabled",
			"host", cfg.TemporalHost,
			"namespace", cfg.TemporalNamespace,
			"task_queue", cfg.TemporalTaskQueue,
		)
	}

	httpServer := server.New(cfg.ServerAddr, cfg, deps)

	logger.Info("server initialized, all dependencies ready",
		"history", deps.Store != nil,
		"events", deps.Publisher != nil,
		"idempotency", cfg.RedisURL != "",
		"reconciliation", deps.Reconciler != nil,
	)

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

		// In-flight transfers may still be waiting on confirmation.
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ConfirmationTimeout+10*time.Second)
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

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
