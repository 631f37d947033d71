package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/solrelay/service/auth"
	"github.com/brojonat/solrelay/service/balance"
	"github.com/brojonat/solrelay/service/config"
	"github.com/brojonat/solrelay/service/idempotency"
	"github.com/brojonat/solrelay/service/metrics"
	"github.com/brojonat/solrelay/service/temporal"
	"github.com/brojonat/solrelay/service/transfer"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps are the collaborators the HTTP surface is built from. Gate, Balances
// and Executor are required; the rest are optional.
type Deps struct {
	Gate       *auth.Gate
	Balances   *balance.Service
	Executor   *transfer.Executor
	Store      TransferStore
	Publisher  TransferPublisher
	Guard      idempotency.Guard
	Reconciler temporal.Reconciler
	Stream     *TransferStream
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// Server represents the HTTP server for the relay.
type Server struct {
	addr    string
	cfg     *config.Config
	deps    Deps
	limiter *subjectLimiter
	logger  *slog.Logger
	server  *http.Server
}

// New creates a new HTTP server with the given dependencies.
func New(addr string, cfg *config.Config, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Guard == nil {
		deps.Guard = idempotency.NopGuard{}
	}
	return &Server{
		addr:    addr,
		cfg:     cfg,
		deps:    deps,
		limiter: newSubjectLimiter(cfg.TransferRateLimitRPS, cfg.TransferRateLimitBurst),
		logger:  deps.Logger.With("component", "http"),
	}
}

// Handler builds the route table. Every /api route passes through the auth
// gate before its handler runs.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	gated := auth.Middleware(s.deps.Gate, s.deps.Metrics, s.logger)
	route := func(pattern, name string, h http.Handler) {
		mux.Handle(pattern, metrics.HTTPMetricsMiddleware(s.deps.Metrics, name)(gated(h)))
	}

	balanceHandler := handleBalance(s.deps.Balances, s.logger)
	route("GET /api/v1/balance/{address}", "balance", balanceHandler)
	route("GET /api/v1/wallets/{address}/balance", "balance", balanceHandler)

	route("POST /api/v1/transfers", "transfers", &transferHandler{
		executor:   s.deps.Executor,
		limiter:    s.limiter,
		guard:      s.deps.Guard,
		store:      s.deps.Store,
		publisher:  s.deps.Publisher,
		reconciler: s.deps.Reconciler,
		metrics:    s.deps.Metrics,
		logger:     s.logger,
		now:        time.Now,
	})

	route("GET /api/v1/transactions", "transactions", handleListTransactions(s.deps.Store, s.logger))
	route("GET /api/v1/dashboard", "dashboard", handleDashboard())

	if s.deps.Stream != nil {
		route("GET /api/v1/stream/transfers/{address}", "stream", handleStreamTransfers(s.deps.Stream, s.logger))
		s.logger.Info("SSE streaming endpoint enabled")
	}

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	if s.deps.Metrics != nil && s.cfg.MetricsEnabled {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	return corsMiddleware(s.cfg.CORSAllowedOrigin)(mux)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:        s.addr,
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		// Long enough for a full confirmation wait plus bookkeeping.
		WriteTimeout: s.cfg.ConfirmationTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	if s.deps.Stream != nil {
		// Event streams hold the connection open.
		s.server.WriteTimeout = 0
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if s.deps.Stream != nil {
		s.deps.Stream.Close()
	}

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers for the configured origin and answers
// OPTIONS preflight requests.
func corsMiddleware(origin string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin != "" {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				if origin != "*" {
					w.Header().Set("Access-Control-Allow-Credentials", "true")
					w.Header().Add("Vary", "Origin")
				}
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Idempotency-Key")
			w.Header().Set("Access-Control-Max-Age", "3600")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
