package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const accountColumns = `id, username, email, password_hash, role, is_active,
	failed_attempts, locked_until, reset_token_digest, reset_token_expires_at,
	last_login_at, created_at, updated_at`

// AccountRepository implements AccountStore on Postgres.
type AccountRepository struct {
	db *sql.DB
}

func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) FindByUsername(ctx context.Context, username string) (*Account, error) {
	return r.findOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE username = $1`, username)
}

func (r *AccountRepository) FindByEmailAndRole(ctx context.Context, email, role string) (*Account, error) {
	return r.findOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = $1 AND role = $2`, email, role)
}

func (r *AccountRepository) FindByEmail(ctx context.Context, email string) (*Account, error) {
	return r.findOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = $1 ORDER BY created_at ASC LIMIT 1`, email)
}

func (r *AccountRepository) FindByID(ctx context.Context, id string) (*Account, error) {
	return r.findOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
}

func (r *AccountRepository) FindByResetDigest(ctx context.Context, digest string) (*Account, error) {
	return r.findOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE reset_token_digest = $1`, digest)
}

func (r *AccountRepository) findOne(ctx context.Context, query string, args ...any) (*Account, error) {
	var (
		acct              Account
		lockedUntil       sql.NullTime
		resetDigest       sql.NullString
		resetTokenExpires sql.NullTime
		lastLoginAt       sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&acct.ID, &acct.Username, &acct.Email, &acct.PasswordHash, &acct.Role,
		&acct.Active, &acct.FailedAttempts, &lockedUntil, &resetDigest,
		&resetTokenExpires, &lastLoginAt, &acct.CreatedAt, &acct.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query account: %w", err)
	}
	if lockedUntil.Valid {
		value := lockedUntil.Time.UTC()
		acct.LockedUntil = &value
	}
	if resetDigest.Valid {
		acct.ResetTokenDigest = resetDigest.String
	}
	if resetTokenExpires.Valid {
		value := resetTokenExpires.Time.UTC()
		acct.ResetTokenExpires = &value
	}
	if lastLoginAt.Valid {
		value := lastLoginAt.Time.UTC()
		acct.LastLoginAt = &value
	}
	return &acct, nil
}

// RecordFailure runs the lockout state machine under a row lock so concurrent
// failed attempts cannot exceed the attempt budget through lost updates. The
// increment commits before the caller's login decision is returned.
func (r *AccountRepository) RecordFailure(ctx context.Context, accountID string, maxAttempts int, lockFor time.Duration, now time.Time) (*time.Time, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin lockout tx: %w", err)
	}
	defer tx.Rollback()

	var failed int
	var lockedUntil sql.NullTime
	err = tx.QueryRowContext(ctx, `
		SELECT failed_attempts, locked_until
		FROM accounts
		WHERE id = $1
		FOR UPDATE
	`, accountID).Scan(&failed, &lockedUntil)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("lock account row: %w", err)
	}

	now = now.UTC()
	if lockedUntil.Valid && now.Before(lockedUntil.Time) {
		until := lockedUntil.Time.UTC()
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit lockout tx: %w", err)
		}
		return &until, nil
	}
	if lockedUntil.Valid {
		// Expired lock: the attempt re-enters the unlocked state.
		failed = 0
	}

	failed++
	var nextLock *time.Time
	var nextLockValue any
	if failed >= maxAttempts {
		until := now.Add(lockFor)
		nextLock = &until
		nextLockValue = until
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE accounts
		SET failed_attempts = $2, locked_until = $3, updated_at = $4
		WHERE id = $1
	`, accountID, failed, nextLockValue, now)
	if err != nil {
		return nil, fmt.Errorf("record failed attempt: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit lockout tx: %w", err)
	}
	return nextLock, nil
}

func (r *AccountRepository) RecordSuccess(ctx context.Context, accountID string, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE accounts
		SET failed_attempts = 0, locked_until = NULL, last_login_at = $2, updated_at = $2
		WHERE id = $1
	`, accountID, now.UTC())
	if err != nil {
		return fmt.Errorf("record successful login: %w", err)
	}
	return nil
}

func (r *AccountRepository) SetResetToken(ctx context.Context, accountID, digest string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE accounts
		SET reset_token_digest = $2, reset_token_expires_at = $3, updated_at = NOW()
		WHERE id = $1
	`, accountID, digest, expiresAt.UTC())
	if err != nil {
		return fmt.Errorf("store reset token: %w", err)
	}
	return nil
}

func (r *AccountRepository) UpdatePassword(ctx context.Context, accountID, passwordHash string, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE accounts
		SET password_hash = $2,
			reset_token_digest = NULL,
			reset_token_expires_at = NULL,
			failed_attempts = 0,
			locked_until = NULL,
			updated_at = $3
		WHERE id = $1
	`, accountID, passwordHash, now.UTC())
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}
