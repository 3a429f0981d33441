package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/viper"

	"github.com/keygatehq/keygate/internal/config"
	"github.com/keygatehq/keygate/internal/service"
	"github.com/keygatehq/keygate/internal/store"
	"github.com/keygatehq/keygate/internal/token"
)

// loadConfig builds the effective configuration: the YAML file (when one was
// found), overlaid with KEYGATE_* environment variables via viper.
func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	if path := viper.ConfigFileUsed(); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	// Environment overrides for the values most often injected at deploy
	// time.
	if v := viper.GetString("database.driver"); v != "" {
		cfg.Database.Driver = v
	}
	if v := viper.GetString("database.dsn"); v != "" {
		cfg.Database.DSN = v
	}
	if v := viper.GetString("auth.session_secret"); v != "" {
		cfg.Auth.SessionSecret = v
	}
	if v := viper.GetString("auth.activation_secret"); v != "" {
		cfg.Auth.ActivationSecret = v
	}
	if v := viper.GetInt("server.port"); v != 0 {
		cfg.Server.Port = v
	}
	return cfg, nil
}

// newLogger builds the process logger from the logging config.
func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// stack bundles the wired services for CLI commands that talk straight to
// the database.
type stack struct {
	store     *store.Store
	catalog   *service.Catalog
	licensing *service.Licensing
	auth      *service.Auth
	logger    *slog.Logger
}

// openStack opens the store and wires the services. The caller must Close.
func openStack(cfg *config.Config) (*stack, error) {
	if cfg.Auth.SessionSecret == "" || cfg.Auth.ActivationSecret == "" {
		return nil, fmt.Errorf("auth.session_secret and auth.activation_secret must be set (min %d bytes each)", token.MinSecretLen)
	}

	sessCodec, err := token.NewSessionCodec(cfg.Auth.SessionSecret)
	if err != nil {
		return nil, fmt.Errorf("session secret: %w", err)
	}
	actCodec, err := token.NewActivationCodec(cfg.Auth.ActivationSecret)
	if err != nil {
		return nil, fmt.Errorf("activation secret: %w", err)
	}

	logger := newLogger(cfg)
	st, err := store.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}

	catalog := service.NewCatalog(st, logger)
	return &stack{
		store:     st,
		catalog:   catalog,
		licensing: service.NewLicensing(st, catalog, actCodec, cfg.Licenses.DefaultTokenTTLDays, logger),
		auth:      service.NewAuth(st, sessCodec, logger),
		logger:    logger,
	}, nil
}

func (s *stack) Close() {
	s.store.Close()
}
