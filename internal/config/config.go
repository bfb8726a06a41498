package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"

	"github.com/osa911/fastcaddy/internal/logging"
)

// Config holds all configuration for the CLI
type Config struct {
	Environment string `env:"ENV" envDefault:"development"`

	// Caddy admin API
	CaddyAdminAPI  string        `env:"CADDY_ADMIN_API" envDefault:"http://localhost:2019"`
	ServerName     string        `env:"CADDY_SERVER_NAME" envDefault:"srv0"`
	RequestTimeout time.Duration `env:"CADDY_REQUEST_TIMEOUT" envDefault:"10s"`
	RateLimit      float64       `env:"CADDY_RATE_LIMIT" envDefault:"20"`
	RateBurst      int           `env:"CADDY_RATE_BURST" envDefault:"5"`

	// Safe operations
	SettleDelay    time.Duration `env:"CADDY_SETTLE_DELAY" envDefault:"100ms"`
	VerifyAttempts int           `env:"CADDY_VERIFY_ATTEMPTS" envDefault:"3"`

	// Cloudflare token for the ACME DNS challenge during setup
	CloudflareToken string `env:"CADDY_CF_TOKEN"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogFile  string `env:"LOG_FILE"`

	// Telemetry Configuration
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// Load loads the configuration from environment variables and .env files
func Load() (*Config, error) {
	// Try multiple locations for .env file; the first one found wins.
	// godotenv never overrides variables that are already set.
	envLocations := []string{".env"}
	if home, err := os.UserHomeDir(); err == nil {
		envLocations = append(envLocations, filepath.Join(home, ".fastcaddy", ".env"))
	}

	if envName := os.Getenv("ENV"); envName != "" {
		envLocations = append([]string{fmt.Sprintf(".env.%s", envName)}, envLocations...)
	}

	for _, loc := range envLocations {
		if err := godotenv.Load(loc); err == nil {
			break
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	if cfg.LogFile == "" {
		cfg.LogFile = logging.DefaultConfig().File
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects settings the client cannot work with.
func (c *Config) Validate() error {
	if c.CaddyAdminAPI == "" {
		return fmt.Errorf("%w: CADDY_ADMIN_API must not be empty", logging.ErrInvalidConfig)
	}
	if c.ServerName == "" {
		return fmt.Errorf("%w: CADDY_SERVER_NAME must not be empty", logging.ErrInvalidConfig)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("%w: CADDY_REQUEST_TIMEOUT must be positive", logging.ErrInvalidConfig)
	}
	if c.VerifyAttempts < 1 {
		return fmt.Errorf("%w: CADDY_VERIFY_ATTEMPTS must be at least 1", logging.ErrInvalidConfig)
	}
	if c.SettleDelay < 0 {
		return fmt.Errorf("%w: CADDY_SETTLE_DELAY must not be negative", logging.ErrInvalidConfig)
	}
	return nil
}

// Logging returns the logger settings derived from this config.
func (c *Config) Logging() *logging.Config {
	lc := logging.DefaultConfig()
	lc.Level = c.LogLevel
	lc.File = c.LogFile
	return lc
}
