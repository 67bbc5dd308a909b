package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg != Default() {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("storage_dir: /tmp/ws\nbusy_timeout_ms: 9000\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.StorageDir != "/tmp/ws" {
		t.Errorf("StorageDir = %q, want /tmp/ws", cfg.StorageDir)
	}
	if cfg.BusyTimeoutMs != 9000 {
		t.Errorf("BusyTimeoutMs = %d, want 9000", cfg.BusyTimeoutMs)
	}
	if cfg.MaxBusyRetries != Default().MaxBusyRetries {
		t.Errorf("MaxBusyRetries should keep default when unset")
	}
}

func TestDBPath(t *testing.T) {
	cfg := Store{StorageDir: "/data/ws1"}
	if got, want := cfg.DBPath(), "/data/ws1/branchmind_rust.db"; got != want {
		t.Errorf("DBPath() = %q, want %q", got, want)
	}
}
