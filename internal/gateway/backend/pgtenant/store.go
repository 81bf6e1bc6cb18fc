// Package pgtenant is a pgx-backed tenant.ConfigSource: durable storage for
// tenant directory policy (role, permissions, resource limits, region),
// distinct from session state. Grounded on internal/db/pg.go's pool setup
// and context-scoped query style.
package pgtenant

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/erauner/mcp-tenant-gateway/internal/gateway/tenant"
)

// Open creates a new PostgreSQL connection pool sized for the tenant
// directory's read-mostly, low-volume access pattern.
func Open(ctx context.Context, url string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}

	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute
	cfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	log.Info().
		Int32("max_conns", cfg.MaxConns).
		Int32("min_conns", cfg.MinConns).
		Msg("tenant directory postgres pool created")

	return pool, nil
}

// Store is a tenant.ConfigSource backed by a `tenant_contexts` table. The
// schema is a single JSONB policy blob per tenant, keyed by tenant_id,
// since the directory only ever needs whole-record reads.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an already-opened pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

type policyRow struct {
	UserID      string                          `json:"userId"`
	Role        tenant.Role                     `json:"role"`
	Permissions []tenant.Permission             `json:"permissions"`
	Region      string                          `json:"region"`
	Limits      tenant.ResourceLimits           `json:"resourceLimits"`
	OrgID       string                          `json:"orgId,omitempty"`
	OrgName     string                          `json:"orgName,omitempty"`
}

// Lookup implements tenant.ConfigSource.
func (s *Store) Lookup(tenantID string) (tenant.Context, bool, error) {
	ctx := context.Background()

	var policy []byte
	err := s.pool.QueryRow(ctx,
		`SELECT policy FROM tenant_contexts WHERE tenant_id = $1`, tenantID,
	).Scan(&policy)
	if err == pgx.ErrNoRows {
		return tenant.Context{}, false, nil
	}
	if err != nil {
		return tenant.Context{}, false, err
	}

	var row policyRow
	if err := json.Unmarshal(policy, &row); err != nil {
		return tenant.Context{}, false, err
	}

	perms := make(map[tenant.Permission]struct{}, len(row.Permissions))
	for _, p := range row.Permissions {
		perms[p] = struct{}{}
	}

	contextType := tenant.ContextType{Kind: tenant.ContextPersonal}
	if row.OrgID != "" {
		contextType = tenant.ContextType{Kind: tenant.ContextOrganization, OrgID: row.OrgID, OrgName: row.OrgName}
	}

	return tenant.Context{
		TenantID:       tenantID,
		UserID:         row.UserID,
		ContextType:    contextType,
		Role:           row.Role,
		Permissions:    perms,
		Region:         row.Region,
		ResourceLimits: row.Limits,
	}, true, nil
}

// Upsert writes or replaces a tenant's policy record.
func (s *Store) Upsert(ctx context.Context, c tenant.Context) error {
	row := policyRow{
		UserID: c.UserID,
		Role:   c.Role,
		Region: c.Region,
		Limits: c.ResourceLimits,
	}
	if c.ContextType.Kind == tenant.ContextOrganization {
		row.OrgID = c.ContextType.OrgID
		row.OrgName = c.ContextType.OrgName
	}
	for p := range c.Permissions {
		row.Permissions = append(row.Permissions, p)
	}

	policy, err := json.Marshal(row)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO tenant_contexts (tenant_id, policy)
		VALUES ($1, $2)
		ON CONFLICT (tenant_id) DO UPDATE SET policy = EXCLUDED.policy
	`, c.TenantID, policy)
	return err
}
