// Package config loads the keygate YAML configuration file. Environment
// variables referenced as ${VAR_NAME} are expanded before parsing, which is
// how the token secrets are normally injected.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level keygate configuration file.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Licenses LicenseConfig  `yaml:"licenses"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig controls the HTTP server behavior.
type ServerConfig struct {
	Host            string     `yaml:"host"`
	Port            int        `yaml:"port"`
	ShutdownTimeout string     `yaml:"shutdown_timeout"`
	RatePerMinute   int        `yaml:"rate_per_minute"`
	CORS            CORSConfig `yaml:"cors"`
}

// CORSConfig controls cross-origin resource sharing settings.
type CORSConfig struct {
	Origins []string `yaml:"origins"`
}

// DatabaseConfig selects and configures the backing store.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// AuthConfig holds the two independent signing secrets.
type AuthConfig struct {
	SessionSecret    string `yaml:"session_secret"`
	ActivationSecret string `yaml:"activation_secret"`
}

// LicenseConfig tunes activation token lifetimes, in days.
type LicenseConfig struct {
	DefaultTokenTTLDays int `yaml:"default_token_ttl_days"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a Config pre-filled with development defaults. Secrets are
// intentionally empty; the server refuses to start without them.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: "30s",
			RatePerMinute:   60,
			CORS:            CORSConfig{Origins: []string{"*"}},
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "keygate.db",
		},
		Licenses: LicenseConfig{
			DefaultTokenTTLDays: 30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads and parses a YAML configuration file over the defaults.
// Environment variables referenced as ${VAR_NAME} are expanded first.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	content := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// ShutdownTimeoutDuration parses the configured shutdown timeout, falling
// back to 30s on a missing or malformed value.
func (c *ServerConfig) ShutdownTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.ShutdownTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}
