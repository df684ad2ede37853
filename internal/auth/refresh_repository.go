package auth

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// RefreshTokenRepository implements RefreshTokenStore on Postgres.
type RefreshTokenRepository struct {
	db *sql.DB
}

func NewRefreshTokenRepository(db *sql.DB) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

func (r *RefreshTokenRepository) Create(ctx context.Context, rec RefreshTokenRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO auth_refresh_tokens
			(id, account_id, lookup_digest, token_hash, issued_ip, user_agent, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, rec.ID, rec.AccountID, rec.LookupDigest, rec.TokenHash, rec.IssuedIP,
		rec.UserAgent, rec.ExpiresAt.UTC(), rec.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return nil
}

func (r *RefreshTokenRepository) FindByDigest(ctx context.Context, digest string) ([]RefreshTokenRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, account_id, lookup_digest, token_hash, issued_ip, user_agent,
			expires_at, revoked_at, replaced_by, created_at
		FROM auth_refresh_tokens
		WHERE lookup_digest = $1
	`, digest)
	if err != nil {
		return nil, fmt.Errorf("query refresh tokens by digest: %w", err)
	}
	defer rows.Close()

	records := make([]RefreshTokenRecord, 0, 1)
	for rows.Next() {
		rec, err := scanRefreshToken(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate refresh tokens: %w", err)
	}
	return records, nil
}

// Rotate revokes the old record and inserts the replacement in one
// transaction. The revoked_at IS NULL guard means a concurrently replayed
// token observes zero affected rows and loses.
func (r *RefreshTokenRepository) Rotate(ctx context.Context, oldID string, replacement RefreshTokenRecord) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin rotation tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE auth_refresh_tokens
		SET revoked_at = $2, replaced_by = $3
		WHERE id = $1 AND revoked_at IS NULL
	`, oldID, time.Now().UTC(), replacement.ID)
	if err != nil {
		return false, fmt.Errorf("revoke rotated token: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rotation rows affected: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO auth_refresh_tokens
			(id, account_id, lookup_digest, token_hash, issued_ip, user_agent, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, replacement.ID, replacement.AccountID, replacement.LookupDigest, replacement.TokenHash,
		replacement.IssuedIP, replacement.UserAgent, replacement.ExpiresAt.UTC(), replacement.CreatedAt.UTC())
	if err != nil {
		return false, fmt.Errorf("insert replacement token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit rotation tx: %w", err)
	}
	return true, nil
}

func (r *RefreshTokenRepository) RevokeByID(ctx context.Context, id string, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE auth_refresh_tokens
		SET revoked_at = COALESCE(revoked_at, $2)
		WHERE id = $1
	`, id, now.UTC())
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

func (r *RefreshTokenRepository) RevokeAllForAccount(ctx context.Context, accountID string, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE auth_refresh_tokens
		SET revoked_at = $2
		WHERE account_id = $1 AND revoked_at IS NULL
	`, accountID, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("revoke refresh tokens for account: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("revoke-all rows affected: %w", err)
	}
	return affected, nil
}

func scanRefreshToken(rows *sql.Rows) (RefreshTokenRecord, error) {
	var rec RefreshTokenRecord
	var revokedAt sql.NullTime
	var replacedBy sql.NullString
	err := rows.Scan(&rec.ID, &rec.AccountID, &rec.LookupDigest, &rec.TokenHash,
		&rec.IssuedIP, &rec.UserAgent, &rec.ExpiresAt, &revokedAt, &replacedBy, &rec.CreatedAt)
	if err != nil {
		return RefreshTokenRecord{}, fmt.Errorf("scan refresh token: %w", err)
	}
	if revokedAt.Valid {
		value := revokedAt.Time.UTC()
		rec.RevokedAt = &value
	}
	if replacedBy.Valid {
		rec.ReplacedBy = replacedBy.String
	}
	rec.ExpiresAt = rec.ExpiresAt.UTC()
	rec.CreatedAt = rec.CreatedAt.UTC()
	return rec, nil
}
