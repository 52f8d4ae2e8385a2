// Package config provides configuration management for the screening server.
// This file contains the lightweight configuration for single-node operation.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mri-screening-server/internal/domain"
	"github.com/mri-screening-server/internal/imaging"
)

// LiteConfig is a simplified configuration for single-node operation.
// It requires no external databases: records live in SQLite and inference
// results are cached in memory.
type LiteConfig struct {
	// Data storage
	DataDir string // Base directory for the database and uploads

	// Cache settings
	CacheMaxItems int           // Maximum items in memory cache
	CacheTTL      time.Duration // Default cache TTL

	// Model server
	ModelURL          string
	ModelName         string
	ModelVersion      string
	InconclusiveBelow float64

	// Auth
	JWTSecret     string
	AdminEmail    string
	AdminPassword string

	// HTTP
	HTTPPort       int
	AllowedOrigins []string

	// Logging
	LogLevel  string // Log level: debug, info, warn, error
	LogFormat string // Log format: json, text
}

// DefaultLiteConfig returns a configuration with sensible defaults.
func DefaultLiteConfig() *LiteConfig {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".mri-screening")

	return &LiteConfig{
		DataDir:           dataDir,
		CacheMaxItems:     1000,
		CacheTTL:          24 * time.Hour,
		ModelURL:          "http://localhost:8501",
		ModelName:         "brain_tumor",
		ModelVersion:      "1.0",
		InconclusiveBelow: 0.6,
		AdminEmail:        "admin@healthcare.com",
		HTTPPort:          5001,
		AllowedOrigins:    []string{"http://localhost:3000", "http://127.0.0.1:3000"},
		LogLevel:          "info",
		LogFormat:         "json",
	}
}

// LoadLiteConfig loads configuration from environment variables.
// Falls back to defaults if not set.
func LoadLiteConfig() *LiteConfig {
	cfg := DefaultLiteConfig()

	if v := os.Getenv("MRI_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	// Cache settings
	if v := os.Getenv("MRI_CACHE_MAX_ITEMS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.CacheMaxItems = n
		}
	}
	if v := os.Getenv("MRI_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.CacheTTL = d
		}
	}

	// Model server
	if v := os.Getenv("MRI_MODEL_URL"); v != "" {
		cfg.ModelURL = v
	}
	if v := os.Getenv("MRI_MODEL_NAME"); v != "" {
		cfg.ModelName = v
	}
	if v := os.Getenv("MRI_MODEL_VERSION"); v != "" {
		cfg.ModelVersion = v
	}
	if v := os.Getenv("MRI_INCONCLUSIVE_BELOW"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f <= 1 {
			cfg.InconclusiveBelow = f
		}
	}

	// Auth
	cfg.JWTSecret = os.Getenv("MRI_JWT_SECRET")
	if v := os.Getenv("MRI_ADMIN_EMAIL"); v != "" {
		cfg.AdminEmail = v
	}
	cfg.AdminPassword = os.Getenv("MRI_ADMIN_PASSWORD")

	// HTTP
	if v := os.Getenv("MRI_HTTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.HTTPPort = n
		}
	}
	if v := os.Getenv("MRI_ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = strings.Split(v, ",")
	}

	// Logging
	if v := os.Getenv("MRI_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("MRI_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}

	return cfg
}

// DBPath returns the path to the SQLite database.
func (c *LiteConfig) DBPath() string {
	return filepath.Join(c.DataDir, "screening.db")
}

// UploadDir returns the directory uploaded scans are written to.
func (c *LiteConfig) UploadDir() string {
	return filepath.Join(c.DataDir, "uploads")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *LiteConfig) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return err
	}
	return os.MkdirAll(c.UploadDir(), 0755)
}

// ToConfig expands the lite settings into a full Config so the service layer
// can be built the same way in both modes. Sections the lite mode has no use
// for (database, redis) are left at their zero value.
func (c *LiteConfig) ToConfig() *domain.Config {
	return &domain.Config{
		Environment: "lite",
		Server: domain.ServerConfig{
			Host:           "0.0.0.0",
			Port:           c.HTTPPort,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   60 * time.Second,
			IdleTimeout:    120 * time.Second,
			RequestTimeout: 90 * time.Second,
			AllowedOrigins: c.AllowedOrigins,
		},
		Cache: domain.CacheConfig{
			Enabled:    c.CacheMaxItems > 0,
			DefaultTTL: c.CacheTTL,
		},
		Logging: domain.LoggingConfig{
			Level:  c.LogLevel,
			Format: c.LogFormat,
			Output: "stdout",
		},
		Auth: domain.AuthConfig{
			JWTSecret:  c.JWTSecret,
			Issuer:     "mri-screening-server",
			TokenTTL:   24 * time.Hour,
			BcryptCost: 12,
		},
		Storage: domain.StorageConfig{
			UploadDir:         c.UploadDir(),
			MaxFileSize:       DefaultMaxFileSize,
			AllowedExtensions: DefaultAllowedExtensions,
			MaxBatchSize:      10,
		},
		Inference: domain.InferenceConfig{
			ModelURL:          c.ModelURL,
			ModelName:         c.ModelName,
			ModelVersion:      c.ModelVersion,
			InputSize:         224,
			Timeout:           30 * time.Second,
			RateLimit:         20,
			Burst:             10,
			InconclusiveBelow: c.InconclusiveBelow,
			MaxConcurrency:    4,
			MaxPixels:         imaging.DefaultMaxPixels,
		},
		Bootstrap: domain.BootstrapConfig{
			AdminEmail:    c.AdminEmail,
			AdminPassword: c.AdminPassword,
		},
	}
}
