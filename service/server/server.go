package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/b3trbeach/storefront/service/checkout"
	"github.com/b3trbeach/storefront/service/config"
	"github.com/b3trbeach/storefront/service/db"
	"github.com/b3trbeach/storefront/service/metrics"
	"github.com/b3trbeach/storefront/service/thor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server represents the HTTP server for the storefront service.
type Server struct {
	addr         string
	cfg          *config.Config
	store        *db.Store
	tracker      *checkout.Tracker
	signer       thor.Signer
	ssePublisher *SSEPublisher
	metrics      *metrics.Metrics
	logger       *slog.Logger
	server       *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The ssePublisher is optional - if nil, SSE endpoints won't be available.
// The metrics is optional - if nil, the metrics endpoint won't be available.
func New(addr string, cfg *config.Config, store *db.Store, tracker *checkout.Tracker, signer thor.Signer, ssePublisher *SSEPublisher, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{
		addr:         addr,
		cfg:          cfg,
		store:        store,
		tracker:      tracker,
		signer:       signer,
		ssePublisher: ssePublisher,
		metrics:      m,
		logger:       logger,
	}
}

// Start starts the HTTP server and blocks until it exits.
func (s *Server) Start() error {
	mux := http.NewServeMux()

	// Catalog routes
	mux.Handle("POST /api/v1/products", handleCreateProduct(s.store, s.cfg.TokenDecimals, s.logger))
	mux.Handle("GET /api/v1/products", handleListProducts(s.store, s.logger))
	mux.Handle("GET /api/v1/products/{id}", handleGetProduct(s.store, s.logger))
	mux.Handle("PUT /api/v1/products/{id}", handleUpdateProduct(s.store, s.cfg.TokenDecimals, s.logger))
	mux.Handle("DELETE /api/v1/products/{id}", handleDeleteProduct(s.store, s.logger))

	// Checkout routes
	mux.Handle("POST /api/v1/checkout", handleSubmitCheckout(s.tracker, s.store, s.signer, s.logger))
	mux.Handle("GET /api/v1/checkout", handleCheckoutStatus(s.tracker, s.logger))
	mux.Handle("DELETE /api/v1/checkout", handleAbandonCheckout(s.tracker, s.logger))

	// Purchase history routes
	mux.Handle("GET /api/v1/purchases", handleListPurchases(s.store, s.logger))
	mux.Handle("GET /api/v1/purchases/{tx_id}", handleGetPurchase(s.store, s.logger))

	// Event registration routes
	mux.Handle("POST /api/v1/registrations", handleCreateRegistration(s.store, s.logger))
	mux.Handle("GET /api/v1/registrations", handleListRegistrations(s.store, s.logger))

	// Account balance route, served from the tracker so it shares the
	// refetch governor and snapshot cache with the checkout path.
	mux.Handle("GET /api/v1/balance/{address}", handleGetBalance(s.tracker, s.logger))

	// SSE streaming endpoints (if SSE publisher is configured)
	if s.ssePublisher != nil {
		mux.Handle("GET /api/v1/stream/purchases/{address}", handleStreamPurchases(s.ssePublisher, s.logger))
		mux.Handle("GET /api/v1/stream/purchases", handleStreamPurchases(s.ssePublisher, s.logger))
		s.logger.Info("SSE streaming endpoints enabled")
	} else {
		s.logger.Warn("SSE publisher not configured, streaming endpoints disabled")
	}

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
		s.logger.Info("Prometheus metrics endpoint enabled")
	}

	var handler http.Handler = mux
	if s.metrics != nil {
		handler = metrics.HTTPMetricsMiddleware(s.metrics, "api")(handler)
	}
	handler = corsMiddleware(handler)

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE connections are long-lived
		IdleTimeout:  60 * time.Second,
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

	// Close SSE publisher first (disconnects all clients)
	if s.ssePublisher != nil {
		s.ssePublisher.Close()
	}

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
