package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/wallet_ledger/internal/config"
	"github.com/congo-pay/wallet_ledger/internal/infra"
	"github.com/congo-pay/wallet_ledger/internal/ledger"
	"github.com/congo-pay/wallet_ledger/internal/logging"
	"github.com/congo-pay/wallet_ledger/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.AppName, cfg.LogLevel, cfg.LogFormat)

	ctx := context.Background()

	backends, err := infra.OpenBackends(ctx, cfg, logger)
	if err != nil {
		logger.Error("open ledger store", "backend", cfg.StoreBackend, "error", err)
		os.Exit(1)
	}
	defer backends.Close(logger)

	if cfg.VerifyOnStart {
		n, err := ledger.VerifyAll(ctx, backends.Store)
		if err != nil {
			logger.Error("ledger verification failed", "error", err)
			backends.Close(logger)
			os.Exit(1)
		}
		logger.Info("ledger verified", "wallets", n)
	}

	var cache *redis.Client
	if cfg.RedisURL != "" {
		cache, err = infra.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("connect redis", "error", err)
			backends.Close(logger)
			os.Exit(1)
		}
		defer func() {
			if err := cache.Close(); err != nil {
				logger.Warn("close redis", "error", err)
			}
		}()
	}

	srv, err := server.New(cfg, backends, cache, logger)
	if err != nil {
		logger.Error("build server", "error", err)
		backends.Close(logger)
		os.Exit(1)
	}

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Listen()
	}()
	logger.Info("wallet ledger listening", "addr", cfg.Address(), "store", cfg.StoreBackend)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-srvErrCh:
		if err != nil {
			logger.Error("server error", "error", err)
			backends.Close(logger)
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()

	// In-flight mutations finish before the store is closed by the deferred
	// backends.Close.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("server exited cleanly")
}
