package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/erauner/mcp-tenant-gateway/internal/gateway/backend"
	"github.com/erauner/mcp-tenant-gateway/internal/gateway/backend/pgtenant"
	"github.com/erauner/mcp-tenant-gateway/internal/gateway/config"
	"github.com/erauner/mcp-tenant-gateway/internal/gateway/handlers"
	"github.com/erauner/mcp-tenant-gateway/internal/gateway/healthsrv"
	"github.com/erauner/mcp-tenant-gateway/internal/gateway/ratelimit"
	"github.com/erauner/mcp-tenant-gateway/internal/gateway/router"
	"github.com/erauner/mcp-tenant-gateway/internal/gateway/stdio"
	"github.com/erauner/mcp-tenant-gateway/internal/gateway/subserver"
	"github.com/erauner/mcp-tenant-gateway/internal/gateway/tenant"
)

const version = "0.1.0"

var (
	configPath  = flag.String("config", "", "Path to configuration file (JSON)")
	showVersion = flag.Bool("version", false, "Show version information")
	devMode     = flag.Bool("dev", false, "Enable development mode (auto-registers unknown tenants)")
	debug       = flag.Bool("debug", false, "Enable debug logging")
	logLevel    = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("mcp-gateway version %s\n", version)
		os.Exit(0)
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	setupLogging(cfg)

	log.Info().
		Str("version", version).
		Bool("devMode", cfg.DevMode).
		Bool("autoRegisterTenants", cfg.AutoRegisterTenants).
		Msg("starting mcp-tenant-gateway")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	exitCode, err := run(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("mcp-tenant-gateway failed")
		os.Exit(1)
	}
	os.Exit(exitCode)
}

func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error

	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else {
		cfg, err = config.LoadFromEnvironment()
	}
	if err != nil {
		return nil, err
	}

	if *devMode {
		cfg.DevMode = true
		cfg.AutoRegisterTenants = true
	}
	if *debug {
		cfg.Debug = true
		if *logLevel == "info" {
			cfg.LogLevel = "debug"
		}
	}
	if *logLevel != "info" {
		cfg.LogLevel = *logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func setupLogging(cfg *config.Config) {
	zerolog.SetGlobalLevel(parseLogLevel(cfg.LogLevel))

	if cfg.Debug {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
		log.Logger = log.Logger.With().Caller().Logger()
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}

func parseLogLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// run wires every package into a Router, starts the sweep goroutines and
// the side health mux, then drives the stdio loop until its input ends or
// fails. A signal cancels ctx, which shuts the health mux down; the stdio
// loop does not watch ctx and keeps reading until end of input.
// The int return is the process exit code the stdio loop decided on.
func run(ctx context.Context, cfg *config.Config) (int, error) {
	store := backend.NewInMemory()

	directory := tenant.New(cfg.AutoRegisterTenants)
	if cfg.DevMode {
		directory.Register(tenant.Context{
			TenantID:       "dev-tenant",
			UserID:         "dev-user",
			Role:           tenant.RoleAdmin,
			Permissions:    map[tenant.Permission]struct{}{tenant.PermAdmin: {}},
			ResourceLimits: tenant.DefaultResourceLimits(),
		})
	}

	if cfg.PostgresURL != "" {
		pool, err := pgtenant.Open(ctx, cfg.PostgresURL)
		if err != nil {
			return 1, fmt.Errorf("failed to connect to postgres tenant store: %w", err)
		}
		defer pool.Close()
		directory.WithConfigSource(pgtenant.New(pool))
		log.Info().Msg("tenant directory backed by postgres")
	}

	limiter := ratelimit.New(nil)

	registry := handlers.NewRegistry()
	handlers.RegisterKV(registry, store)
	handlers.RegisterBlob(registry, store)
	handlers.RegisterEvents(registry, store)
	handlers.RegisterSecrets(registry, store)

	supervisor := subserver.New(subserver.NewCredentialSource(store))
	handlers.RegisterIntegrationTools(registry, supervisor)

	directory.StartSweep(cfg.SessionSweepInterval)
	defer directory.Stop()
	limiter.StartSweep(cfg.RateLimitSweepInterval)
	defer limiter.Stop()
	supervisor.StartHealthChecks()

	r := &router.Router{
		Directory:       directory,
		Limiter:         limiter,
		Handlers:        registry,
		Supervisor:      supervisor,
		DefaultTenantID: cfg.DefaultTenantID,
		DefaultUserID:   cfg.DefaultUserID,
	}

	if cfg.HealthAddr != "" {
		mux := healthsrv.New(healthsrv.Metrics{Directory: directory, Supervisor: supervisor})
		healthServer := &http.Server{Addr: cfg.HealthAddr, Handler: mux}
		go func() {
			if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("health server failed")
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = healthServer.Shutdown(shutdownCtx)
		}()
		log.Info().Str("addr", cfg.HealthAddr).Msg("health/metrics endpoint listening")
	}

	loop := &stdio.Loop{
		Router:     r,
		Directory:  directory,
		Supervisor: supervisor,
		Logger:     log.Logger,
		In:         os.Stdin,
		Out:        os.Stdout,
	}

	return loop.Run(ctx), nil
}
