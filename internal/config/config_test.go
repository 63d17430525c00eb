package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAppliesDefaultsAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	base := `
server:
  port: "9000"
jwt:
  secret: "${JWT_SECRET}"
runner:
  interval: 30s
`
	if err := os.WriteFile(filepath.Join(dir, "base.yaml"), []byte(base), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("CONFIG_DIR", dir)
	t.Setenv("CONFIG_ENV", "test")
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("STORE_DRIVER", StoreDriverMemory)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != "9000" {
		t.Fatalf("port = %q", cfg.Server.Port)
	}
	if cfg.JWT.Secret != "from-env" {
		t.Fatalf("secret = %q", cfg.JWT.Secret)
	}
	if cfg.Store.Driver != StoreDriverMemory {
		t.Fatalf("driver = %q", cfg.Store.Driver)
	}
	if cfg.Runner.Interval != 30*time.Second {
		t.Fatalf("interval = %v", cfg.Runner.Interval)
	}
	if cfg.Worker.MaxRetries != 5 || cfg.Worker.DispatchBatch != 100 || cfg.Cache.TTL != 30*time.Second {
		t.Fatalf("defaults lost: %+v %+v", cfg.Worker, cfg.Cache)
	}
}

func TestValidate(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected missing secret to fail")
	}
	cfg.JWT.Secret = "x"
	cfg.Store.Driver = "sqlite"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected unknown driver to fail")
	}
	cfg.Store.Driver = StoreDriverMemory
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
