package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Load loads configuration from a file path and applies environment
// variable overrides. Validation is deferred so a caller can apply CLI
// flag overrides first, exactly as the teacher's Load defers validation
// for the same reason.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		fileConfig, err := loadFromFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
		cfg = fileConfig
	}

	applyEnvironmentOverrides(cfg)
	return cfg, nil
}

func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigFileNotFound
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfigFormat, err)
	}
	return cfg, nil
}

// applyEnvironmentOverrides layers environment variables over whatever the
// config file (or DefaultConfig) already set.
func applyEnvironmentOverrides(cfg *Config) {
	if v := os.Getenv("DEFAULT_TENANT_ID"); v != "" {
		cfg.DefaultTenantID = v
	}
	if v := os.Getenv("DEFAULT_USER_ID"); v != "" {
		cfg.DefaultUserID = v
	}
	if v := os.Getenv("MCP_AUTO_REGISTER_TENANTS"); v == "true" || v == "1" {
		cfg.AutoRegisterTenants = true
	}
	if v := os.Getenv("MCP_DEV_MODE"); v == "true" || v == "1" {
		cfg.DevMode = true
		cfg.AutoRegisterTenants = true
	}
	if v := os.Getenv("MCP_DEBUG"); v == "true" || v == "1" {
		cfg.Debug = true
	}
	if v := os.Getenv("MCP_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("MCP_POSTGRES_URL"); v != "" {
		cfg.PostgresURL = v
	}
	if v := os.Getenv("MCP_HEALTH_ADDR"); v != "" {
		cfg.HealthAddr = v
	}
}

// LoadFromEnvironment builds a Config from defaults plus environment
// variables alone, useful for containerized deployments where no config
// file is mounted.
func LoadFromEnvironment() (*Config, error) {
	cfg := DefaultConfig()
	applyEnvironmentOverrides(cfg)
	return cfg, nil
}
