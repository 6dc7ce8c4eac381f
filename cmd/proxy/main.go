package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/robfig/cron/v3"

	"github.com/scroll-tech/rpc-auth-proxy/internal/config"
	"github.com/scroll-tech/rpc-auth-proxy/internal/repos"
	"github.com/scroll-tech/rpc-auth-proxy/internal/router"
	"github.com/scroll-tech/rpc-auth-proxy/internal/services"
	"github.com/scroll-tech/rpc-auth-proxy/pkg/blockchain"
	"github.com/scroll-tech/rpc-auth-proxy/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger.Init(cfg.LogLevel)

	ring, err := services.NewKeyRing(cfg.SignerKeys(), cfg.DefaultKID, cfg.Expiry())
	if err != nil {
		logger.Fatal("Invalid signing key configuration", "error", err)
	}

	chain, err := blockchain.Dial(cfg.L2RPCURL)
	if err != nil {
		logger.Fatal("Failed to dial L2 RPC", "error", err, "url", cfg.L2RPCURL)
	}
	defer chain.Close()

	nonceRepo := repos.NewNonceRepository(repos.DefaultNonceTTL)
	verifier := services.NewSignatureVerifier(chain)
	siweService := services.NewSIWEService(nonceRepo, verifier, ring, cfg.SIWEDomain)
	proxyService := services.NewProxyService(cfg.UpstreamURL, services.DefaultUpstreamTimeout)

	// Periodic sweep keeps the nonce set bounded even when challenges are
	// issued and abandoned.
	sweeper := cron.New()
	if _, err := sweeper.AddFunc("@every 1m", func() {
		if purged := nonceRepo.PurgeExpired(context.Background()); purged > 0 {
			logger.Debug("Purged expired nonces", "count", purged)
		}
	}); err != nil {
		logger.Fatal("Failed to schedule nonce sweeper", "error", err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName:               "RPC Auth Proxy",
		ErrorHandler:          router.CustomErrorHandler,
		ReadTimeout:           time.Second * 30,
		WriteTimeout:          time.Second * 30,
		IdleTimeout:           time.Second * 30,
		DisableStartupMessage: true,
	})

	router.SetupRoutes(app, cfg, ring, siweService, proxyService)

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		logger.Info("Shutting down proxy...")
		if err := app.Shutdown(); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
	}()

	// Start server
	logger.Info("Starting proxy",
		"bind_address", cfg.BindAddress,
		"upstream_url", cfg.UpstreamURL,
		"l2_rpc_url", cfg.L2RPCURL,
	)
	if err := app.Listen(cfg.BindAddress); err != nil {
		logger.Fatal("Failed to start server", "error", err)
	}
}
