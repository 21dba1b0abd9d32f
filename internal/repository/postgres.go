package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/modelgate/modelgate/internal/domain"
)

// uniqueViolation is the Postgres error code for duplicate keys.
const uniqueViolation = "23505"

type PostgresKeyStore struct {
	db *sql.DB
}

func NewPostgresKeyStore(db *sql.DB) *PostgresKeyStore {
	return &PostgresKeyStore{db: db}
}

const keyColumns = `id, user_id, tenant_id, provider, encrypted_secret, usage_count, usage_limit, expires_at, created_at`

func scanKey(row interface{ Scan(...any) error }) (*domain.APIKeyRecord, error) {
	var rec domain.APIKeyRecord
	var tenantID sql.NullString
	var usageLimit sql.NullInt64
	var expiresAt sql.NullTime

	err := row.Scan(
		&rec.ID,
		&rec.UserID,
		&tenantID,
		&rec.Provider,
		&rec.EncryptedSecret,
		&rec.UsageCount,
		&usageLimit,
		&expiresAt,
		&rec.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan api key: %w", err)
	}

	if tenantID.Valid {
		rec.TenantID = tenantID.String
	}
	if usageLimit.Valid {
		rec.UsageLimit = usageLimit.Int64
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		rec.ExpiresAt = &t
	}
	return &rec, nil
}

func (s *PostgresKeyStore) GetByUserProvider(ctx context.Context, userID, provider string) (*domain.APIKeyRecord, error) {
	query := `
		SELECT ` + keyColumns + `
		FROM api_keys
		WHERE user_id = $1 AND provider = $2
	`
	return scanKey(s.db.QueryRowContext(ctx, query, userID, provider))
}

func (s *PostgresKeyStore) GetByID(ctx context.Context, id string) (*domain.APIKeyRecord, error) {
	query := `
		SELECT ` + keyColumns + `
		FROM api_keys
		WHERE id = $1
	`
	return scanKey(s.db.QueryRowContext(ctx, query, id))
}

func (s *PostgresKeyStore) Create(ctx context.Context, rec *domain.APIKeyRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO api_keys (id, user_id, tenant_id, provider, encrypted_secret, usage_count, usage_limit, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.UserID,
		sql.NullString{String: rec.TenantID, Valid: rec.TenantID != ""},
		rec.Provider,
		rec.EncryptedSecret,
		rec.UsageCount,
		sql.NullInt64{Int64: rec.UsageLimit, Valid: rec.UsageLimit > 0},
		rec.ExpiresAt,
		rec.CreatedAt,
	)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("api key for user %q provider %q already exists: %w", rec.UserID, rec.Provider, err)
	}
	if err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}

func (s *PostgresKeyStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return domain.ErrKeyNotFound
	}
	return nil
}

func (s *PostgresKeyStore) IncrementUsage(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE api_keys SET usage_count = usage_count + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("increment key usage: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return domain.ErrKeyNotFound
	}
	return nil
}
