package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Addr != ":8787" {
		t.Fatalf("Addr = %q, want :8787", cfg.Addr)
	}
	if cfg.StoreDriver != DriverPostgres {
		t.Fatalf("StoreDriver = %q, want postgres", cfg.StoreDriver)
	}
	if cfg.ContentCacheTTL() != 300*time.Second {
		t.Fatalf("ContentCacheTTL() = %s, want 5m", cfg.ContentCacheTTL())
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	file := "STORE_DRIVER=memory\nAPI_ADDR=:9000\nOTEL_SAMPLER_RATIO=0.5\n"
	if err := os.WriteFile(filepath.Join(dir, "app.env"), []byte(file), 0o600); err != nil {
		t.Fatalf("write app.env: %v", err)
	}
	t.Setenv("API_ADDR", ":9100")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.StoreDriver != DriverMemory {
		t.Fatalf("StoreDriver = %q, want memory", cfg.StoreDriver)
	}
	if cfg.Addr != ":9100" {
		t.Fatalf("Addr = %q, want env value :9100", cfg.Addr)
	}
	if cfg.OtelSamplerRatio != 0.5 {
		t.Fatalf("OtelSamplerRatio = %v, want 0.5", cfg.OtelSamplerRatio)
	}
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("STORE_DRIVER", "sqlite")
	if _, err := Load(t.TempDir()); err == nil {
		t.Fatal("Load() error = nil, want invalid driver error")
	}
}
