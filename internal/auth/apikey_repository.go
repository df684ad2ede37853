package auth

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const apiKeyColumns = `id, account_id, label, prefix, key_hash, expires_at,
	is_active, last_used_at, usage_count, created_at`

// APIKeyRepository implements APIKeyStore on Postgres.
type APIKeyRepository struct {
	db *sql.DB
}

func NewAPIKeyRepository(db *sql.DB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

func (r *APIKeyRepository) Create(ctx context.Context, rec APIKeyRecord) error {
	var expiresAt any
	if rec.ExpiresAt != nil {
		expiresAt = rec.ExpiresAt.UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO api_keys
			(id, account_id, label, prefix, key_hash, expires_at, is_active, usage_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8)
	`, rec.ID, rec.AccountID, rec.Label, rec.Prefix, rec.KeyHash, expiresAt, rec.Active, rec.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}

func (r *APIKeyRepository) FindActiveByPrefix(ctx context.Context, prefix string) ([]APIKeyRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+apiKeyColumns+`
		FROM api_keys
		WHERE prefix = $1 AND is_active
	`, prefix)
	if err != nil {
		return nil, fmt.Errorf("query api keys by prefix: %w", err)
	}
	defer rows.Close()
	return collectAPIKeys(rows)
}

func (r *APIKeyRepository) FindByID(ctx context.Context, id string) (*APIKeyRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+apiKeyColumns+`
		FROM api_keys
		WHERE id = $1
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query api key: %w", err)
	}
	defer rows.Close()

	records, err := collectAPIKeys(rows)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

func (r *APIKeyRepository) ListForAccount(ctx context.Context, accountID string) ([]APIKeyRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+apiKeyColumns+`
		FROM api_keys
		WHERE account_id = $1
		ORDER BY created_at DESC
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("query api keys for account: %w", err)
	}
	defer rows.Close()
	return collectAPIKeys(rows)
}

func (r *APIKeyRepository) Deactivate(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE api_keys
		SET is_active = FALSE
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("deactivate api key: %w", err)
	}
	return nil
}

// TouchUsage is an atomic increment; callers treat failures as best-effort.
func (r *APIKeyRepository) TouchUsage(ctx context.Context, id string, usedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE api_keys
		SET last_used_at = $2, usage_count = usage_count + 1
		WHERE id = $1
	`, id, usedAt.UTC())
	if err != nil {
		return fmt.Errorf("touch api key usage: %w", err)
	}
	return nil
}

func collectAPIKeys(rows *sql.Rows) ([]APIKeyRecord, error) {
	records := make([]APIKeyRecord, 0, 1)
	for rows.Next() {
		var rec APIKeyRecord
		var expiresAt, lastUsedAt sql.NullTime
		err := rows.Scan(&rec.ID, &rec.AccountID, &rec.Label, &rec.Prefix, &rec.KeyHash,
			&expiresAt, &rec.Active, &lastUsedAt, &rec.UsageCount, &rec.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		if expiresAt.Valid {
			value := expiresAt.Time.UTC()
			rec.ExpiresAt = &value
		}
		if lastUsedAt.Valid {
			value := lastUsedAt.Time.UTC()
			rec.LastUsedAt = &value
		}
		rec.CreatedAt = rec.CreatedAt.UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate api keys: %w", err)
	}
	return records, nil
}
