package config

import "errors"

var (
	// ErrConfigFileNotFound indicates that the config file was not found.
	ErrConfigFileNotFound = errors.New("configuration file not found")

	// ErrInvalidConfigFormat indicates that the config file has invalid JSON.
	ErrInvalidConfigFormat = errors.New("invalid configuration file format")

	// ErrNoTenantResolutionConfigured indicates that the gateway has no way
	// to resolve a principal for requests without an explicit tenantId: no
	// default identity, no auto-register, and no durable tenant store.
	ErrNoTenantResolutionConfigured = errors.New(
		"no default tenant identity, autoRegisterTenants, or postgresUrl configured")
)
