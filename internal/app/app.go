// Package app assembles the services and HTTP server for either storage backend.
package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/mri-screening-server/internal/api"
	"github.com/mri-screening-server/internal/auth"
	"github.com/mri-screening-server/internal/blob"
	"github.com/mri-screening-server/internal/domain"
	"github.com/mri-screening-server/internal/health"
	"github.com/mri-screening-server/internal/inference"
	"github.com/mri-screening-server/internal/service"
)

// Backend is the storage a deployment runs on.
type Backend struct {
	Name        string
	Predictions domain.PredictionStore
	Users       domain.UserStore
	DB          health.Pinger
	// Cache may be nil; inference then always calls the model server.
	Cache inference.ResultCache
	// Redis is probed by the health endpoint when set.
	Redis *redis.Client
}

// App is a fully wired server.
type App struct {
	Config      *domain.Config
	Users       *service.UserService
	Predictions *service.PredictionService
	Health      *health.HealthChecker
	Server      *api.Server
	logger      *logrus.Logger
}

// New wires services, health checks and the HTTP server on top of backend.
func New(cfg *domain.Config, backend Backend, logger *logrus.Logger) (*App, error) {
	tokens, err := auth.NewTokenIssuer(cfg.Auth)
	if err != nil {
		return nil, err
	}

	blobs, err := blob.New(cfg.Storage.UploadDir)
	if err != nil {
		return nil, err
	}

	model := inference.NewModelServerClient(inference.ModelServerConfig{
		BaseURL:   cfg.Inference.ModelURL,
		ModelName: cfg.Inference.ModelName,
		Version:   cfg.Inference.ModelVersion,
		Timeout:   cfg.Inference.Timeout,
		RateLimit: cfg.Inference.RateLimit,
		Burst:     cfg.Inference.Burst,
	}, logger)
	engine := inference.NewEngine(model, backend.Cache, cfg.Inference, cfg.Storage, logger)

	users := service.NewUserService(backend.Users, tokens, cfg.Auth.BcryptCost, logger)
	predictions := service.NewPredictionService(backend.Predictions, backend.Users, engine, blobs, cfg.Storage, cfg.Inference, logger)

	checker := health.NewHealthChecker(health.HealthConfig{Version: cfg.Inference.ModelVersion}, logger)
	checker.RegisterCheck(health.NewDatabaseHealthCheck(backend.DB, backend.Name))
	if backend.Redis != nil {
		checker.RegisterCheck(health.NewRedisHealthCheck(backend.Redis))
	}
	checker.RegisterCheck(health.NewModelServerHealthCheck(model))
	checker.RegisterCheck(health.NewStorageHealthCheck(blobs.Dir(), blobs.Writable))

	server := api.NewServer(cfg, api.Dependencies{
		Users:       users,
		Predictions: predictions,
		Health:      checker,
	}, logger)

	return &App{
		Config:      cfg,
		Users:       users,
		Predictions: predictions,
		Health:      checker,
		Server:      server,
		logger:      logger,
	}, nil
}

// Bootstrap creates the configured administrator account if it is missing.
func (a *App) Bootstrap(ctx context.Context) error {
	b := a.Config.Bootstrap
	if b.AdminPassword == "" {
		a.logger.Warn("No bootstrap admin password configured; skipping admin creation")
		return nil
	}
	if _, err := a.Users.EnsureAdmin(ctx, b.AdminEmail, b.AdminPassword); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	return nil
}

// Run bootstraps, starts background health checks and serves until ctx ends.
func (a *App) Run(ctx context.Context) error {
	if err := a.Bootstrap(ctx); err != nil {
		return err
	}

	a.Health.Start()
	defer a.Health.Stop()

	return a.Server.Start(ctx)
}
