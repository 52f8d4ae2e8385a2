package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/viper"

	"github.com/mri-screening-server/internal/domain"
	"github.com/mri-screening-server/internal/imaging"
)

// Manager loads and validates configuration using Viper
type Manager struct {
	v      *viper.Viper
	config *domain.Config
}

// NewManager creates a new configuration manager
func NewManager() (*Manager, error) {
	m := &Manager{v: viper.New()}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// loadConfig loads configuration from various sources
func (m *Manager) loadConfig() error {
	v := m.v

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/mri-screening/")

	// MRI_DATABASE_HOST overrides database.host and so on
	v.SetEnvPrefix("MRI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Config file is optional; defaults and environment variables are enough
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &domain.Config{}
	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.config = config
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 5001)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.request_timeout", "90s")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000", "http://127.0.0.1:3000"})
	v.SetDefault("server.tls_enabled", false)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "healthcare_system")
	v.SetDefault("database.username", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("database.conn_max_idle_time", "30m")
	v.SetDefault("database.run_migrations", true)

	// Cache defaults
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.redis_url", "redis://localhost:6379")
	v.SetDefault("cache.default_ttl", "24h")
	v.SetDefault("cache.max_retries", 3)
	v.SetDefault("cache.pool_size", 10)
	v.SetDefault("cache.pool_timeout", "4s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// Auth defaults
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "mri-screening-server")
	v.SetDefault("auth.token_ttl", "24h")
	v.SetDefault("auth.bcrypt_cost", 12)

	// Storage defaults
	v.SetDefault("storage.upload_dir", "uploads/mri_images")
	v.SetDefault("storage.max_file_size", DefaultMaxFileSize)
	v.SetDefault("storage.allowed_extensions", DefaultAllowedExtensions)
	v.SetDefault("storage.max_batch_size", 10)

	// Inference defaults
	v.SetDefault("inference.model_url", "http://localhost:8501")
	v.SetDefault("inference.model_name", "brain_tumor")
	v.SetDefault("inference.model_version", "1.0")
	v.SetDefault("inference.input_size", 224)
	v.SetDefault("inference.timeout", "30s")
	v.SetDefault("inference.rate_limit", 20)
	v.SetDefault("inference.burst", 10)
	v.SetDefault("inference.inconclusive_below", 0.6)
	v.SetDefault("inference.max_concurrency", 4)
	v.SetDefault("inference.max_pixels", imaging.DefaultMaxPixels)

	// Bootstrap defaults
	v.SetDefault("bootstrap.admin_email", "admin@healthcare.com")
	v.SetDefault("bootstrap.admin_password", "")
}

// DefaultMaxFileSize is the upload limit for a single image (16 MiB).
const DefaultMaxFileSize int64 = 16 * 1024 * 1024

// DefaultAllowedExtensions lists the accepted image formats.
var DefaultAllowedExtensions = []string{"png", "jpg", "jpeg", "gif", "bmp", "tiff"}

// GetConfig returns the complete configuration
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// Validate validates the configuration
func (m *Manager) Validate() error {
	return Validate(m.config)
}

// Validate checks a configuration regardless of where it was loaded from.
func Validate(config *domain.Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if config.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}
	if config.Database.Username == "" {
		return fmt.Errorf("database username is required")
	}

	if config.Cache.Enabled && config.Cache.RedisURL == "" {
		return fmt.Errorf("Redis URL is required when the cache is enabled")
	}

	if len(config.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 characters")
	}
	if config.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be positive")
	}

	if config.Storage.UploadDir == "" {
		return fmt.Errorf("storage.upload_dir is required")
	}
	if config.Storage.MaxFileSize <= 0 {
		return fmt.Errorf("storage.max_file_size must be positive")
	}
	if len(config.Storage.AllowedExtensions) == 0 {
		return fmt.Errorf("storage.allowed_extensions must not be empty")
	}
	if config.Storage.MaxBatchSize <= 0 {
		return fmt.Errorf("storage.max_batch_size must be positive")
	}

	if config.Inference.ModelURL == "" {
		return fmt.Errorf("inference.model_url is required")
	}
	if config.Inference.InputSize <= 0 {
		return fmt.Errorf("inference.input_size must be positive")
	}
	if config.Inference.InconclusiveBelow < 0 || config.Inference.InconclusiveBelow > 1 {
		return fmt.Errorf("inference.inconclusive_below must be within [0, 1]")
	}
	if config.Inference.MaxPixels <= 0 {
		return fmt.Errorf("inference.max_pixels must be positive")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}

	return nil
}

// GetDatabaseURL returns the database as a URL, the form golang-migrate expects
func (m *Manager) GetDatabaseURL() string {
	db := m.config.Database
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(db.Username, db.Password),
		Host:     fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:     "/" + db.Database,
		RawQuery: "sslmode=" + db.SSLMode,
	}
	return u.String()
}
