package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadExpandsEnvAndOverridesDefaults(t *testing.T) {
	t.Setenv("KEYGATE_TEST_SECRET", "0123456789abcdef0123456789abcdef")

	path := filepath.Join(t.TempDir(), "keygate.yaml")
	body := `
server:
  port: 9090
database:
  driver: postgres
  dsn: postgres://localhost/keygate
auth:
  session_secret: ${KEYGATE_TEST_SECRET}
  activation_secret: ${KEYGATE_TEST_SECRET}
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
	// Unset fields keep their defaults.
	if cfg.Server.Host != "0.0.0.0" || cfg.Server.RatePerMinute != 60 {
		t.Errorf("defaults lost: %+v", cfg.Server)
	}
	if cfg.Database.Driver != "postgres" {
		t.Errorf("driver = %q", cfg.Database.Driver)
	}
	if cfg.Auth.SessionSecret != "0123456789abcdef0123456789abcdef" {
		t.Errorf("env var not expanded: %q", cfg.Auth.SessionSecret)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/does/not/exist.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestShutdownTimeoutFallback(t *testing.T) {
	c := ServerConfig{ShutdownTimeout: "garbage"}
	if got := c.ShutdownTimeoutDuration(); got.Seconds() != 30 {
		t.Errorf("fallback = %v, want 30s", got)
	}
	c.ShutdownTimeout = "5s"
	if got := c.ShutdownTimeoutDuration(); got.Seconds() != 5 {
		t.Errorf("parsed = %v, want 5s", got)
	}
}
