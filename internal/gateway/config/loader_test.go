package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesEnvironmentOverrides(t *testing.T) {
	t.Setenv("DEFAULT_TENANT_ID", "tenant-from-env")
	t.Setenv("DEFAULT_USER_ID", "user-from-env")
	t.Setenv("MCP_DEV_MODE", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DefaultTenantID != "tenant-from-env" {
		t.Errorf("DefaultTenantID = %q", cfg.DefaultTenantID)
	}
	if !cfg.DevMode {
		t.Error("expected DevMode to be enabled")
	}
	if !cfg.AutoRegisterTenants {
		t.Error("expected dev mode to imply AutoRegisterTenants")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"logLevel":"debug","healthAddr":":9090"}`), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.HealthAddr != ":9090" {
		t.Errorf("HealthAddr = %q, want :9090", cfg.HealthAddr)
	}
}

func TestLoadMissingFileReturnsErrConfigFileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if !errors.Is(err, ErrConfigFileNotFound) {
		t.Fatalf("Load() error = %v, want ErrConfigFileNotFound", err)
	}
}

func TestValidateRequiresSomeTenantResolution(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != ErrNoTenantResolutionConfigured {
		t.Fatalf("Validate() error = %v, want ErrNoTenantResolutionConfigured", err)
	}

	cfg.AutoRegisterTenants = true
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v, want nil", err)
	}
}
