// Package main provides the lightweight entry point for the MRI screening server.
// This version requires no external databases - uses in-memory caching and SQLite.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/mri-screening-server/internal/app"
	"github.com/mri-screening-server/internal/cache"
	"github.com/mri-screening-server/internal/config"
	"github.com/mri-screening-server/internal/litestore"
	"github.com/mri-screening-server/internal/setup"
)

func main() {
	// Load lightweight configuration
	liteConfig := config.LoadLiteConfig()
	cfg := liteConfig.ToConfig()

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	if err := liteConfig.EnsureDataDir(); err != nil {
		logger.WithError(err).Fatal("Failed to create data directory")
	}

	store, err := litestore.Open(liteConfig.DBPath(), logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open database")
	}
	defer store.Close()

	backend := app.Backend{
		Name:        "sqlite",
		Predictions: store,
		Users:       store,
		DB:          store,
	}
	if liteConfig.CacheMaxItems > 0 {
		backend.Cache = cache.NewMemoryCache(liteConfig.CacheMaxItems, liteConfig.CacheTTL)
	}

	application, err := app.New(cfg, backend, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize server")
	}

	// Setup graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Check for setup subcommand
	if len(os.Args) > 1 && os.Args[1] == "setup" {
		cli := setup.NewCLI("lite", store, application.Users, cfg)
		if err := cli.Run(ctx, os.Args[2:]); err != nil {
			logger.WithError(err).Fatal("Setup failed")
		}
		return
	}

	logger.WithFields(logrus.Fields{
		"port":     cfg.Server.Port,
		"data_dir": liteConfig.DataDir,
	}).Info("Starting MRI screening server (lite)")

	if err := application.Run(ctx); err != nil {
		logger.WithError(err).Fatal("Server failed")
	}

	logger.Info("MRI screening server (lite) stopped")
}
