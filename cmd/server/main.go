// Package main is the entry point for the MRI screening server backed by
// PostgreSQL and Redis.
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
	"github.com/mri-screening-server/internal/database"
	"github.com/mri-screening-server/internal/repository"
	"github.com/mri-screening-server/internal/setup"
)

func main() {
	// Load configuration
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Validate configuration
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	cfg := configManager.GetConfig()

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	// Setup graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.Database.RunMigrations {
		if err := database.Migrate(ctx, configManager.GetDatabaseURL(), logger); err != nil {
			logger.WithError(err).Fatal("Failed to run migrations")
		}
	}

	db, err := database.NewConnection(ctx, database.ConfigFrom(cfg.Database), logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	store := repository.NewStore(db.Pool, logger)
	backend := app.Backend{
		Name:        "postgres",
		Predictions: store,
		Users:       store,
		DB:          store,
	}

	if cfg.Cache.Enabled {
		redisCache, err := cache.NewRedisCache(ctx, cfg.Cache)
		if err != nil {
			// Inference still works without the cache
			logger.WithError(err).Warn("Redis unavailable; inference results will not be cached")
		} else {
			defer redisCache.Close()
			backend.Cache = redisCache
			backend.Redis = redisCache.Client()
		}
	}

	application, err := app.New(cfg, backend, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize server")
	}

	// Check for setup subcommand
	if len(os.Args) > 1 && os.Args[1] == "setup" {
		cli := setup.NewCLI("full", store, application.Users, cfg)
		if err := cli.Run(ctx, os.Args[2:]); err != nil {
			logger.WithError(err).Fatal("Setup failed")
		}
		return
	}

	logger.WithFields(logrus.Fields{
		"host":        cfg.Server.Host,
		"port":        cfg.Server.Port,
		"environment": cfg.Environment,
	}).Info("Starting MRI screening server")

	if err := application.Run(ctx); err != nil {
		logger.WithError(err).Fatal("Server failed")
	}

	logger.Info("Server stopped")
}
