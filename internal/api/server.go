// Package api exposes the screening backend over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/mri-screening-server/internal/domain"
	"github.com/mri-screening-server/internal/health"
	"github.com/mri-screening-server/internal/middleware"
	"github.com/mri-screening-server/internal/service"
)

// Dependencies are the services the HTTP layer dispatches to.
type Dependencies struct {
	Users       *service.UserService
	Predictions *service.PredictionService
	Health      *health.HealthChecker
}

// Server represents the HTTP server
type Server struct {
	config *domain.Config
	deps   Dependencies
	router *gin.Engine
	server *http.Server
	logger *logrus.Logger
}

// NewServer creates a new HTTP server instance
func NewServer(config *domain.Config, deps Dependencies, logger *logrus.Logger) *Server {
	// Set Gin mode based on environment
	if config.Logging.Level == "debug" && !config.IsProduction() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	// Multipart parts above this spill to temp files
	router.MaxMultipartMemory = 32 << 20

	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.AuditLogger(logger))
	router.Use(middleware.SecurityHeaders(config.IsProduction()))
	router.Use(middleware.CORS(config.Server.AllowedOrigins))
	router.Use(middleware.Metrics())
	router.Use(middleware.RequestTimeout(config.Server.RequestTimeout))

	server := &Server{
		config: config,
		deps:   deps,
		router: router,
		logger: logger,
	}

	server.setupRoutes()

	return server
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.config.Server
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithFields(logrus.Fields{"addr": addr, "tls": cfg.TLSEnabled}).Info("HTTP server listening")
		var err error
		if cfg.TLSEnabled {
			err = s.server.ListenAndServeTLS(cfg.CertFile, cfg.KeyFile)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.logger.Info("Shutting down HTTP server")
	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.router.Group("/api")
	api.GET("/health", s.handleHealth)

	requireAuth := middleware.RequireAuth(s.deps.Users, s.logger)

	authGroup := api.Group("/auth")
	{
		authGroup.POST("/login", s.handleLogin)
		authGroup.POST("/signup", s.handleSignup)
		authGroup.POST("/verify-token", requireAuth, s.handleVerifyToken)
	}

	users := api.Group("/users", requireAuth)
	{
		users.GET("/me", s.handleGetMe)
		users.PUT("/me", s.handleUpdateMe)
	}

	admin := api.Group("/admin", requireAuth)
	{
		admin.GET("/users", s.handleListUsers)
		admin.POST("/doctors", s.handleCreateDoctor)
		admin.POST("/doctors/:id/approve", s.handleApproveDoctor)
		admin.PUT("/users/:id/active", s.handleSetActive)
	}

	ml := api.Group("/ml", requireAuth)
	{
		ml.POST("/predict", s.handlePredict)
		ml.POST("/batch-predict", s.handleBatchPredict)
		ml.GET("/predictions", s.handleListPredictions)
		ml.GET("/predictions/queue", s.handleQueue)
		ml.GET("/predictions/:id", s.handleGetPrediction)
		ml.PUT("/predictions/:id/review", s.handleReview)
		ml.PUT("/predictions/:id/doctor", s.handleAssignDoctor)
		ml.GET("/predictions/:id/image", s.handleImage)
		ml.GET("/statistics", s.handleStatistics)
		ml.GET("/model-info", s.handleModelInfo)
	}
}

// handleHealth reports component status; 503 when a component is down.
func (s *Server) handleHealth(c *gin.Context) {
	if s.deps.Health == nil {
		c.JSON(http.StatusOK, gin.H{"status": health.HealthStateHealthy, "timestamp": time.Now().UTC()})
		return
	}

	status := s.deps.Health.Check(c.Request.Context())
	code := http.StatusOK
	if status.Overall == health.HealthStateUnhealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

// fail writes err using the shared error mapping.
func (s *Server) fail(c *gin.Context, err error) {
	middleware.RespondError(c, s.logger, err)
}

// invalidBody answers a malformed JSON body.
func (s *Server) invalidBody(c *gin.Context, err error) {
	s.logger.WithFields(logrus.Fields{
		"correlation_id": c.GetString(middleware.CorrelationIDKey),
		"error":          err,
	}).Debug("Malformed request body")
	c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
}
