package auth

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type CleanupResult struct {
	DeletedRefreshTokens int64 `json:"deleted_refresh_tokens"`
	ClearedResetTokens   int64 `json:"cleared_reset_tokens"`
	DeactivatedAPIKeys   int64 `json:"deactivated_api_keys"`
}

// CleanupRepository removes credential debris: refresh tokens past retention,
// expired reset tokens, and API keys past their expiry.
type CleanupRepository struct {
	db *sql.DB
}

func NewCleanupRepository(db *sql.DB) *CleanupRepository {
	return &CleanupRepository{db: db}
}

func (r *CleanupRepository) CleanupStaleAuthData(ctx context.Context, refreshRetention time.Duration, batchSize int) (CleanupResult, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	if refreshRetention <= 0 {
		refreshRetention = 14 * 24 * time.Hour
	}

	now := time.Now().UTC()
	deletedTokens, err := r.deleteStaleRefreshTokens(ctx, now.Add(-refreshRetention), batchSize)
	if err != nil {
		return CleanupResult{}, err
	}
	clearedResets, err := r.clearExpiredResetTokens(ctx, now)
	if err != nil {
		return CleanupResult{}, err
	}
	deactivatedKeys, err := r.deactivateExpiredAPIKeys(ctx, now)
	if err != nil {
		return CleanupResult{}, err
	}

	return CleanupResult{
		DeletedRefreshTokens: deletedTokens,
		ClearedResetTokens:   clearedResets,
		DeactivatedAPIKeys:   deactivatedKeys,
	}, nil
}

func (r *CleanupRepository) deleteStaleRefreshTokens(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT id
			FROM auth_refresh_tokens
			WHERE expires_at < NOW() OR (revoked_at IS NOT NULL AND revoked_at < $1)
			ORDER BY created_at ASC
			LIMIT $2
		)
		DELETE FROM auth_refresh_tokens t
		USING stale
		WHERE t.id = stale.id
	`, cutoff, batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete stale refresh tokens: %w", err)
	}
	return rowsAffected(res, "stale refresh tokens")
}

func (r *CleanupRepository) clearExpiredResetTokens(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE accounts
		SET reset_token_digest = NULL, reset_token_expires_at = NULL
		WHERE reset_token_expires_at IS NOT NULL AND reset_token_expires_at < $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("clear expired reset tokens: %w", err)
	}
	return rowsAffected(res, "expired reset tokens")
}

func (r *CleanupRepository) deactivateExpiredAPIKeys(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE api_keys
		SET is_active = FALSE
		WHERE is_active AND expires_at IS NOT NULL AND expires_at < $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("deactivate expired api keys: %w", err)
	}
	return rowsAffected(res, "expired api keys")
}

func rowsAffected(res sql.Result, what string) (int64, error) {
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s rows affected: %w", what, err)
	}
	return affected, nil
}
