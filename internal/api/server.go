// Package api exposes the wallet core over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/lockbox-wallet/lockbox/internal/app"
	"github.com/lockbox-wallet/lockbox/internal/chain"
	"github.com/lockbox-wallet/lockbox/internal/config"
	"github.com/lockbox-wallet/lockbox/internal/engine"
	"github.com/lockbox-wallet/lockbox/internal/logger"
	"github.com/lockbox-wallet/lockbox/internal/middleware"
	"github.com/lockbox-wallet/lockbox/internal/session"
	"github.com/lockbox-wallet/lockbox/internal/storage"
	"github.com/lockbox-wallet/lockbox/internal/swap"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server represents the HTTP server
type Server struct {
	config      *config.Config
	wallets     *app.WalletService
	assets      *app.AssetService
	backups     *app.BackupService
	session     *session.Session
	engine      *engine.Engine
	swaps       *swap.Engine
	chain       *chain.Client
	store       *storage.Store
	rateLimiter *middleware.RateLimiter
	httpServer  *http.Server
}

// NewServer creates a new API server
func NewServer(
	cfg *config.Config,
	wallets *app.WalletService,
	assets *app.AssetService,
	backups *app.BackupService,
	sess *session.Session,
	eng *engine.Engine,
	swaps *swap.Engine,
	chainClient *chain.Client,
	store *storage.Store,
) *Server {
	return &Server{
		config:      cfg,
		wallets:     wallets,
		assets:      assets,
		backups:     backups,
		session:     sess,
		engine:      eng,
		swaps:       swaps,
		chain:       chainClient,
		store:       store,
		rateLimiter: middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, cfg.RateLimitEnabled),
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	mux := http.NewServeMux()

	// Operational endpoints, outside the rate limit
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	limited := s.rateLimiter.Limit

	// Wallet collection
	mux.Handle("/v1/wallets", limited(http.HandlerFunc(s.handleWallets)))
	mux.Handle("/v1/wallets/", limited(http.HandlerFunc(s.handleWalletOperations)))
	mux.Handle("/v1/password", limited(http.HandlerFunc(s.handleChangePassword)))

	// Unlock session
	mux.Handle("/v1/session", limited(http.HandlerFunc(s.handleSession)))
	mux.Handle("/v1/session/", limited(http.HandlerFunc(s.handleSessionOperations)))

	// Balances and transactions
	mux.Handle("/v1/balances", limited(http.HandlerFunc(s.handleBalances)))
	mux.Handle("/v1/transactions", limited(http.HandlerFunc(s.handleTransactions)))
	mux.Handle("/v1/transactions/", limited(http.HandlerFunc(s.handleTransactionOperations)))

	// Swap
	mux.Handle("/v1/swap/", limited(http.HandlerFunc(s.handleSwapOperations)))

	// Backup reminders
	mux.Handle("/v1/backup", limited(http.HandlerFunc(s.handleBackupStatus)))
	mux.Handle("/v1/backup/", limited(http.HandlerFunc(s.handleBackupOperations)))

	s.httpServer = &http.Server{
		Addr: fmt.Sprintf(":%d", s.config.Port),
		// Chain: RequestID -> Logging -> LimitBody -> Routes
		Handler:      middleware.RequestID(middleware.Logging(middleware.LimitBody(mux))),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.Component("api").Info("starting server", "port", s.config.Port)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "detail": "database unreachable"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
