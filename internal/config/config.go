package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v9"
	"github.com/sirupsen/logrus"

	"github.com/bcnelson/aws-org-manager/internal/provisioning"
)

// Config holds all configuration for the application.
type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	AWS          AWSConfig
	Reconcile    ReconcileConfig
	Provisioning ProvisioningConfig
	Log          LogConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `env:"SERVER_HOST" envDefault:"0.0.0.0"`
	Port int    `env:"SERVER_PORT" envDefault:"8080"`
	// APIKey is accepted as an execute-scoped key until the first key is created.
	APIKey string `env:"API_KEY"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Driver string `env:"DB_DRIVER" envDefault:"sqlite3"`
	DSN    string `env:"DB_DSN" envDefault:"data/org-manager.db"`
}

// AWSConfig holds AWS Organizations API configuration.
type AWSConfig struct {
	Region   string  `env:"AWS_REGION" envDefault:"us-east-1"`
	Profile  string  `env:"AWS_PROFILE"`
	FileShim string  `env:"ORG_FILE_SHIM"` // Path to file for testing shim (disables real API)
	Rate     float64 `env:"ORG_API_RATE" envDefault:"2"`
	Burst    int     `env:"ORG_API_BURST" envDefault:"4"`
}

// ReconcileConfig holds reconciliation behavior configuration.
type ReconcileConfig struct {
	SpecFile      string        `env:"SPEC_FILE"`
	AutoReconcile bool          `env:"AUTO_RECONCILE" envDefault:"false"`
	Debounce      time.Duration `env:"RECONCILE_DEBOUNCE" envDefault:"30s"`
}

// ProvisioningConfig holds account creation timing.
type ProvisioningConfig struct {
	SubmitAttempts int           `env:"PROVISION_SUBMIT_ATTEMPTS" envDefault:"5"`
	SubmitDelay    time.Duration `env:"PROVISION_SUBMIT_DELAY" envDefault:"5s"`
	PollInterval   time.Duration `env:"PROVISION_POLL_INTERVAL" envDefault:"10s"`
	MaxPolls       int           `env:"PROVISION_MAX_POLLS" envDefault:"30"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"text"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(&cfg.Server); err != nil {
		return nil, fmt.Errorf("parsing server config: %w", err)
	}
	if err := env.Parse(&cfg.Database); err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}
	if err := env.Parse(&cfg.AWS); err != nil {
		return nil, fmt.Errorf("parsing aws config: %w", err)
	}
	if err := env.Parse(&cfg.Reconcile); err != nil {
		return nil, fmt.Errorf("parsing reconcile config: %w", err)
	}
	if err := env.Parse(&cfg.Provisioning); err != nil {
		return nil, fmt.Errorf("parsing provisioning config: %w", err)
	}
	if err := env.Parse(&cfg.Log); err != nil {
		return nil, fmt.Errorf("parsing log config: %w", err)
	}

	return cfg, nil
}

// Addr returns the server address in host:port format.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.AWS.FileShim == "" && c.AWS.Region == "" {
		return fmt.Errorf("AWS_REGION is required (or set ORG_FILE_SHIM for testing)")
	}
	if c.AWS.Rate <= 0 {
		return fmt.Errorf("ORG_API_RATE must be positive")
	}
	if c.AWS.Burst < 1 {
		return fmt.Errorf("ORG_API_BURST must be at least 1")
	}
	if c.Reconcile.AutoReconcile && c.Reconcile.SpecFile == "" {
		return fmt.Errorf("SPEC_FILE is required when AUTO_RECONCILE is enabled")
	}
	if c.Provisioning.SubmitAttempts < 1 || c.Provisioning.MaxPolls < 1 {
		return fmt.Errorf("PROVISION_SUBMIT_ATTEMPTS and PROVISION_MAX_POLLS must be at least 1")
	}
	if c.Provisioning.SubmitDelay <= 0 || c.Provisioning.PollInterval <= 0 {
		return fmt.Errorf("PROVISION_SUBMIT_DELAY and PROVISION_POLL_INTERVAL must be positive")
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.Log.Format)
	}
	switch c.Database.Driver {
	case "sqlite3", "postgres", "memory":
	default:
		return fmt.Errorf("DB_DRIVER must be sqlite3, postgres or memory, got %q", c.Database.Driver)
	}
	return nil
}

// UseFileShim returns true if the file shim should be used instead of the real API.
func (c *Config) UseFileShim() bool {
	return c.AWS.FileShim != ""
}

// ProvisionerConfig converts the provisioning settings.
func (c *Config) ProvisionerConfig() provisioning.Config {
	return provisioning.Config{
		SubmitAttempts: c.Provisioning.SubmitAttempts,
		SubmitDelay:    c.Provisioning.SubmitDelay,
		PollInterval:   c.Provisioning.PollInterval,
		MaxPolls:       c.Provisioning.MaxPolls,
	}
}
