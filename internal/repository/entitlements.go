package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/modelgate/modelgate/internal/domain"
	"github.com/modelgate/modelgate/internal/entitlement"
)

// PostgresEntitlementSource resolves plan limits from an entitlements table
// keyed by user, falling back to a tenant-wide row when the user has none.
type PostgresEntitlementSource struct {
	db *sql.DB
}

func NewPostgresEntitlementSource(db *sql.DB) *PostgresEntitlementSource {
	return &PostgresEntitlementSource{db: db}
}

func (s *PostgresEntitlementSource) Lookup(ctx context.Context, caller domain.Caller) (entitlement.Entitlement, error) {
	ent, err := s.lookupBy(ctx, "user_id", caller.UserID)
	if err == nil {
		return ent, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return entitlement.Entitlement{}, err
	}
	if caller.TenantID == "" {
		return entitlement.Entitlement{}, domain.ErrKeyNotFound
	}

	ent, err = s.lookupBy(ctx, "tenant_id", caller.TenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return entitlement.Entitlement{}, domain.ErrKeyNotFound
	}
	if err != nil {
		return entitlement.Entitlement{}, err
	}
	return ent, nil
}

func (s *PostgresEntitlementSource) lookupBy(ctx context.Context, column, value string) (entitlement.Entitlement, error) {
	query := fmt.Sprintf(`
		SELECT tier, requests_per_window, window_seconds, monthly_token_limit, monthly_budget_usd
		FROM entitlements
		WHERE %s = $1
	`, column)

	var ent entitlement.Entitlement
	var tier string
	var windowSeconds int64
	err := s.db.QueryRowContext(ctx, query, value).Scan(
		&tier,
		&ent.RequestsPerWindow,
		&windowSeconds,
		&ent.MonthlyTokenLimit,
		&ent.MonthlyBudgetUSD,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return entitlement.Entitlement{}, err
	}
	if err != nil {
		return entitlement.Entitlement{}, fmt.Errorf("lookup entitlement: %w", err)
	}

	ent.Tier = entitlement.Tier(tier)
	ent.Window = time.Duration(windowSeconds) * time.Second
	return ent, nil
}
