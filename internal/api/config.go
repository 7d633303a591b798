// Package api provides the HTTP surface for job submission, monitoring, and
// quality inspection.
package api

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ingestor-io/ingestor/internal/config"
)

const (
	defaultPort           = 8080
	maxPort               = 65535
	defaultHost           = "0.0.0.0"
	defaultCORSMaxAge     = 86400
	defaultTimeout        = 30 * time.Second
	defaultMaxRequestSize = 1 << 20 // 1 MB
)

// Configuration validation errors.
var (
	// ErrInvalidPort indicates the port is outside 1-65535.
	ErrInvalidPort = errors.New("invalid port")

	// ErrEmptyHost indicates the host is empty.
	ErrEmptyHost = errors.New("host cannot be empty")

	// ErrInvalidTimeout indicates a zero or negative timeout.
	ErrInvalidTimeout = errors.New("timeout must be positive")

	// ErrInvalidMaxRequestSize indicates a zero or negative request size cap.
	ErrInvalidMaxRequestSize = errors.New("max request size must be positive")
)

type (
	// ServerConfig holds pure HTTP server configuration. Runtime dependencies
	// (stores, engines) are injected into NewServer separately.
	ServerConfig struct {
		Port               int
		Host               string
		ReadTimeout        time.Duration
		WriteTimeout       time.Duration
		ShutdownTimeout    time.Duration
		LogLevel           slog.Level
		MaxRequestSize     int64
		CORSAllowedOrigins []string
		CORSAllowedMethods []string
		CORSAllowedHeaders []string
		CORSMaxAge         int
	}

	// CORSConfig implements middleware.CORSConfig.
	CORSConfig struct {
		AllowedOrigins []string
		AllowedMethods []string
		AllowedHeaders []string
		MaxAge         int
	}
)

// LoadServerConfig reads server configuration from the environment.
func LoadServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:            config.GetEnvInt("INGESTOR_SERVER_PORT", defaultPort),
		Host:            config.GetEnvStr("INGESTOR_SERVER_HOST", defaultHost),
		ReadTimeout:     config.GetEnvDuration("INGESTOR_SERVER_READ_TIMEOUT", defaultTimeout),
		WriteTimeout:    config.GetEnvDuration("INGESTOR_SERVER_WRITE_TIMEOUT", defaultTimeout),
		ShutdownTimeout: config.GetEnvDuration("INGESTOR_SERVER_SHUTDOWN_TIMEOUT", defaultTimeout),
		LogLevel:        config.GetEnvLogLevel("INGESTOR_SERVER_LOG_LEVEL", slog.LevelInfo),
		MaxRequestSize:  config.GetEnvInt64("INGESTOR_MAX_REQUEST_SIZE", defaultMaxRequestSize),
		CORSAllowedOrigins: config.ParseCommaSeparatedList(
			config.GetEnvStr("INGESTOR_CORS_ALLOWED_ORIGINS", "*"),
		),
		CORSAllowedMethods: config.ParseCommaSeparatedList(
			config.GetEnvStr("INGESTOR_CORS_ALLOWED_METHODS", "GET,POST,OPTIONS"),
		),
		CORSAllowedHeaders: config.ParseCommaSeparatedList(
			config.GetEnvStr("INGESTOR_CORS_ALLOWED_HEADERS",
				"Content-Type,Authorization,X-Correlation-ID,X-Api-Key"),
		),
		CORSMaxAge: config.GetEnvInt("INGESTOR_CORS_MAX_AGE", defaultCORSMaxAge),
	}
}

// Address returns host:port.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ToCORSConfig converts the server config's CORS fields.
func (c *ServerConfig) ToCORSConfig() *CORSConfig {
	return &CORSConfig{
		AllowedOrigins: c.CORSAllowedOrigins,
		AllowedMethods: c.CORSAllowedMethods,
		AllowedHeaders: c.CORSAllowedHeaders,
		MaxAge:         c.CORSMaxAge,
	}
}

// GetAllowedOrigins implements middleware.CORSConfig.
func (c *CORSConfig) GetAllowedOrigins() []string { return c.AllowedOrigins }

// GetAllowedMethods implements middleware.CORSConfig.
func (c *CORSConfig) GetAllowedMethods() []string { return c.AllowedMethods }

// GetAllowedHeaders implements middleware.CORSConfig.
func (c *CORSConfig) GetAllowedHeaders() []string { return c.AllowedHeaders }

// GetMaxAge implements middleware.CORSConfig.
func (c *CORSConfig) GetMaxAge() int { return c.MaxAge }

// Validate checks the configuration.
func (c *ServerConfig) Validate() error {
	if c.Port <= 0 || c.Port > maxPort {
		return fmt.Errorf("%w: %d, must be between 1 and %d", ErrInvalidPort, c.Port, maxPort)
	}

	if c.Host == "" {
		return ErrEmptyHost
	}

	if c.ReadTimeout <= 0 || c.WriteTimeout <= 0 || c.ShutdownTimeout <= 0 {
		return fmt.Errorf("%w: read=%v write=%v shutdown=%v",
			ErrInvalidTimeout, c.ReadTimeout, c.WriteTimeout, c.ShutdownTimeout)
	}

	if c.MaxRequestSize <= 0 {
		return fmt.Errorf("%w: got %d bytes", ErrInvalidMaxRequestSize, c.MaxRequestSize)
	}

	return nil
}
