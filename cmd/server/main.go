package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lockbox-wallet/lockbox/internal/api"
	"github.com/lockbox-wallet/lockbox/internal/app"
	"github.com/lockbox-wallet/lockbox/internal/chain"
	"github.com/lockbox-wallet/lockbox/internal/config"
	"github.com/lockbox-wallet/lockbox/internal/engine"
	"github.com/lockbox-wallet/lockbox/internal/gas"
	"github.com/lockbox-wallet/lockbox/internal/logger"
	"github.com/lockbox-wallet/lockbox/internal/session"
	"github.com/lockbox-wallet/lockbox/internal/storage"
	"github.com/lockbox-wallet/lockbox/internal/swap"
	"github.com/lockbox-wallet/lockbox/internal/vault"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := logger.Init(); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	// Initialize database
	store, err := storage.New(cfg.PostgresDSN)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	slog.Info("connected to database")

	// Repositories
	walletRepo := storage.NewWalletRepository(store)
	backupRepo := storage.NewBackupRepository(store)
	txRepo := storage.NewTransactionRepository(store)

	// Ensure the wallet collection exists and runs the current schema version
	if _, err := walletRepo.EnsureCollection(context.Background()); err != nil {
		slog.Error("failed to prepare wallet collection", "error", err)
		os.Exit(1)
	}

	// Connect to the chain node
	chainClient, err := chain.NewClient(cfg.EthRPCURL)
	if err != nil {
		slog.Error("failed to connect to chain RPC", "error", err)
		os.Exit(1)
	}
	defer chainClient.Close()

	slog.Info("connected to chain", "chain_id", chainClient.ChainID())

	// Core components
	keyVault := vault.New()
	sess := session.New(keyVault, walletRepo, cfg.IdleLockTimeout)
	estimator := gas.New(chainClient, cfg.GasSafetyMultiplier, cfg.EstimateTTL)

	txEngine := engine.New(chainClient, sess, estimator, txRepo, engine.Config{
		ChainID:        chainClient.ChainID(),
		Confirmations:  cfg.Confirmations,
		PollInterval:   cfg.PollInterval,
		MonitorTimeout: cfg.MonitorTimeout,
	})

	quoter := swap.NewContractQuoter(chainClient, common.HexToAddress(cfg.SwapQuoterAddress))
	swapEngine := swap.New(quoter, chainClient, txEngine, sess, swap.Config{
		Router:          common.HexToAddress(cfg.SwapRouterAddress),
		QuoteTTL:        cfg.QuoteTTL,
		ImpactCeiling:   cfg.PriceImpactCeiling,
		DefaultSlippage: cfg.DefaultSlippagePct,
	})

	// Application services
	walletService := app.NewWalletService(walletRepo, backupRepo, keyVault, sess)
	assetService := app.NewAssetService(chainClient, txRepo)
	backupService := app.NewBackupService(backupRepo, sess)

	// Initialize API server
	server := api.NewServer(cfg, walletService, assetService, backupService, sess, txEngine, swapEngine, chainClient, store)

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Start()
	}()

	// Setup signal handling for graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Wait for either server error or shutdown signal
	select {
	case err := <-serverErrors:
		slog.Error("server error", "error", err)
		os.Exit(1)

	case sig := <-shutdown:
		slog.Info("received shutdown signal", "signal", sig.String())

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			slog.Error("error during shutdown", "error", err)
			slog.Warn("forcing shutdown")
		}

		// Shutting down drops in-memory secrets
		sess.Lock()

		slog.Info("server stopped")
	}
}
