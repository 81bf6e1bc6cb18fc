// Package config holds gateway configuration, loaded from an optional JSON
// file with environment variable overrides applied on top — the same
// two-layer shape as the teacher's internal/mcpserver/config package,
// adapted from OAuth client settings to this gateway's tenant-default and
// backend-wiring settings.
package config

import "time"

// Config holds every setting the gateway needs before it starts serving.
type Config struct {
	// DefaultTenantID/DefaultUserID resolve a principal for envelopes that
	// carry neither tenantId/userId nor a sessionToken; leave both empty to
	// require an explicit principal on every request.
	DefaultTenantID string `json:"defaultTenantId"`
	DefaultUserID   string `json:"defaultUserId"`

	// AutoRegisterTenants lets an unknown tenantId materialize an
	// Admin-role context on first use instead of failing closed.
	AutoRegisterTenants bool `json:"autoRegisterTenants"`

	// PostgresURL, when set, backs the tenant directory with a durable
	// pgtenant.Store instead of the in-memory default.
	PostgresURL string `json:"postgresUrl"`

	// HealthAddr is the listen address for the side HTTP mux serving
	// /healthz and /metricsz. Empty disables it.
	HealthAddr string `json:"healthAddr"`

	DevMode  bool   `json:"devMode"`
	Debug    bool   `json:"debug"`
	LogLevel string `json:"logLevel"`

	SessionSweepInterval    time.Duration `json:"-"`
	RateLimitSweepInterval  time.Duration `json:"-"`
	HealthCheckSweepInterval time.Duration `json:"-"`
}

// DefaultConfig returns a configuration with sensible defaults, matching
// the teacher's DefaultConfig's role as the base every loaded config
// starts from before file and environment overrides apply.
func DefaultConfig() *Config {
	return &Config{
		AutoRegisterTenants:      false,
		DevMode:                  false,
		Debug:                    false,
		LogLevel:                 "info",
		HealthAddr:               ":8089",
		SessionSweepInterval:     5 * time.Minute,
		RateLimitSweepInterval:   10 * time.Minute,
		HealthCheckSweepInterval: 30 * time.Second,
	}
}

// Validate checks invariants that CLI flags/env vars must have resolved by
// the time the gateway starts serving.
func (c *Config) Validate() error {
	if !c.DevMode && c.DefaultTenantID == "" && !c.AutoRegisterTenants && c.PostgresURL == "" {
		return ErrNoTenantResolutionConfigured
	}
	return nil
}
