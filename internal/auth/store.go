package auth

import (
	"context"
	"time"
)

// Store interfaces consumed by the service and ledgers. The Postgres
// implementations live in this package; tests substitute in-memory fakes.
// Lookup methods return (nil, nil) when no row matches.

type AccountStore interface {
	FindByUsername(ctx context.Context, username string) (*Account, error)
	FindByEmailAndRole(ctx context.Context, email, role string) (*Account, error)

	// FindByEmail returns the oldest account carrying the address. Emails are
	// unique per role, not globally; password reset targets the primary
	// account.
	FindByEmail(ctx context.Context, email string) (*Account, error)

	FindByID(ctx context.Context, id string) (*Account, error)

	// RecordFailure increments the failure counter under a row lock and, when
	// the budget is exhausted, sets the lock expiry. The mutation is committed
	// before the result is returned, even though the surrounding login fails.
	RecordFailure(ctx context.Context, accountID string, maxAttempts int, lockFor time.Duration, now time.Time) (lockedUntil *time.Time, err error)

	// RecordSuccess resets the failure counter, clears any expired lock and
	// stamps the last successful login.
	RecordSuccess(ctx context.Context, accountID string, now time.Time) error

	SetResetToken(ctx context.Context, accountID, digest string, expiresAt time.Time) error
	FindByResetDigest(ctx context.Context, digest string) (*Account, error)

	// UpdatePassword stores the new hash, clears the reset token and the
	// lockout state in one statement.
	UpdatePassword(ctx context.Context, accountID, passwordHash string, now time.Time) error
}

type RefreshTokenStore interface {
	Create(ctx context.Context, rec RefreshTokenRecord) error

	// FindByDigest returns every record sharing the lookup digest regardless
	// of state; the ledger distinguishes revoked and expired matches itself.
	FindByDigest(ctx context.Context, digest string) ([]RefreshTokenRecord, error)

	// Rotate revokes the old record and inserts its replacement atomically.
	// It returns false without inserting when the old record was already
	// revoked, which is how a concurrently replayed token loses the race.
	Rotate(ctx context.Context, oldID string, replacement RefreshTokenRecord) (bool, error)

	RevokeByID(ctx context.Context, id string, now time.Time) error
	RevokeAllForAccount(ctx context.Context, accountID string, now time.Time) (int64, error)
}

type APIKeyStore interface {
	Create(ctx context.Context, rec APIKeyRecord) error
	FindActiveByPrefix(ctx context.Context, prefix string) ([]APIKeyRecord, error)
	FindByID(ctx context.Context, id string) (*APIKeyRecord, error)
	ListForAccount(ctx context.Context, accountID string) ([]APIKeyRecord, error)
	Deactivate(ctx context.Context, id string) error
	TouchUsage(ctx context.Context, id string, usedAt time.Time) error
}
