package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/modelgate/modelgate/internal/domain"
	"github.com/modelgate/modelgate/internal/usage"
)

// PostgresTracker implements usage.Tracker on a usage_records table.
type PostgresTracker struct {
	db *sql.DB
}

func NewPostgresTracker(db *sql.DB) *PostgresTracker {
	return &PostgresTracker{db: db}
}

func (t *PostgresTracker) Record(ctx context.Context, rec usage.Record) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO usage_records (
			request_id, user_id, tenant_id, provider, model, operation,
			prompt_tokens, completion_tokens, cost_usd, latency_ms, cached, error, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := t.db.ExecContext(ctx, query,
		rec.RequestID,
		rec.UserID,
		sql.NullString{String: rec.TenantID, Valid: rec.TenantID != ""},
		rec.Provider,
		rec.Model,
		string(rec.Operation),
		rec.PromptTokens,
		rec.CompletionTokens,
		rec.CostUSD,
		rec.LatencyMs,
		rec.Cached,
		sql.NullString{String: rec.Error, Valid: rec.Error != ""},
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

func (t *PostgresTracker) Range(ctx context.Context, userID string, from, to time.Time) ([]usage.Record, error) {
	query := `
		SELECT request_id, user_id, tenant_id, provider, model, operation,
		       prompt_tokens, completion_tokens, cost_usd, latency_ms, cached, error, created_at
		FROM usage_records
		WHERE user_id = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at
	`
	rows, err := t.db.QueryContext(ctx, query, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("query usage records: %w", err)
	}
	defer rows.Close()

	var out []usage.Record
	for rows.Next() {
		var rec usage.Record
		var tenantID, errCode sql.NullString
		var op string
		if err := rows.Scan(
			&rec.RequestID,
			&rec.UserID,
			&tenantID,
			&rec.Provider,
			&rec.Model,
			&op,
			&rec.PromptTokens,
			&rec.CompletionTokens,
			&rec.CostUSD,
			&rec.LatencyMs,
			&rec.Cached,
			&errCode,
			&rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan usage record: %w", err)
		}
		rec.Operation = domain.Operation(op)
		if tenantID.Valid {
			rec.TenantID = tenantID.String
		}
		if errCode.Valid {
			rec.Error = errCode.String
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate usage records: %w", err)
	}
	return out, nil
}

func (t *PostgresTracker) TotalCost(ctx context.Context, userID string, from, to time.Time) (float64, error) {
	query := `
		SELECT COALESCE(SUM(cost_usd), 0)
		FROM usage_records
		WHERE user_id = $1 AND created_at >= $2 AND created_at < $3
	`
	var total float64
	if err := t.db.QueryRowContext(ctx, query, userID, from, to).Scan(&total); err != nil {
		return 0, fmt.Errorf("sum usage cost: %w", err)
	}
	return total, nil
}

func (t *PostgresTracker) TotalTokens(ctx context.Context, userID string, from, to time.Time) (int64, error) {
	query := `
		SELECT COALESCE(SUM(prompt_tokens + completion_tokens), 0)
		FROM usage_records
		WHERE user_id = $1 AND created_at >= $2 AND created_at < $3
	`
	var total int64
	if err := t.db.QueryRowContext(ctx, query, userID, from, to).Scan(&total); err != nil {
		return 0, fmt.Errorf("sum usage tokens: %w", err)
	}
	return total, nil
}
