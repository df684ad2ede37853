package auth

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// lookupDigestLen truncates the sha256 of the cleartext to a short, non-secret
// discriminator. It narrows lookup to a handful of candidates; possession of
// the digest alone never authorizes anything because the bcrypt compare still
// has to pass.
const lookupDigestLen = 16

func refreshLookupDigest(cleartext string) string {
	sum := sha256.Sum256([]byte(cleartext))
	return hex.EncodeToString(sum[:])[:lookupDigestLen]
}

// hashRefreshToken pre-digests the cleartext before bcrypt because refresh
// tokens exceed bcrypt's 72-byte input limit.
func hashRefreshToken(cleartext string, cost int) (string, error) {
	sum := sha256.Sum256([]byte(cleartext))
	hash, err := bcrypt.GenerateFromPassword([]byte(base64.RawStdEncoding.EncodeToString(sum[:])), cost)
	if err != nil {
		return "", fmt.Errorf("hash refresh token: %w", err)
	}
	return string(hash), nil
}

func refreshTokenMatches(cleartext, hash string) bool {
	sum := sha256.Sum256([]byte(cleartext))
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(base64.RawStdEncoding.EncodeToString(sum[:]))) == nil
}

// RefreshLedger owns the persistence rules for refresh tokens: cleartext is
// hashed before storage, lookup goes through the digest, and rotation is
// single-use.
type RefreshLedger struct {
	store    RefreshTokenStore
	hashCost int
}

func NewRefreshLedger(store RefreshTokenStore, hashCost int) *RefreshLedger {
	if hashCost <= 0 {
		hashCost = bcrypt.DefaultCost
	}
	return &RefreshLedger{store: store, hashCost: hashCost}
}

func (l *RefreshLedger) Issue(ctx context.Context, accountID, cleartext string, expiresAt time.Time, meta RequestContext) (RefreshTokenRecord, error) {
	rec, err := l.buildRecord(accountID, cleartext, expiresAt, meta)
	if err != nil {
		return RefreshTokenRecord{}, err
	}
	if err := l.store.Create(ctx, rec); err != nil {
		return RefreshTokenRecord{}, fmt.Errorf("persist refresh token: %w", err)
	}
	return rec, nil
}

// ValidateAndRotate exchanges a presented token for a fresh one. The matched
// record is revoked and replaced in one atomic store operation; when two
// requests race on the same cleartext, exactly one wins and the other sees
// ErrRefreshRevoked.
func (l *RefreshLedger) ValidateAndRotate(
	ctx context.Context,
	cleartext string,
	mint func(accountID string) (newCleartext string, expiresAt time.Time, err error),
	meta RequestContext,
) (accountID, newCleartext string, err error) {
	rec, err := l.findMatch(ctx, cleartext)
	if err != nil {
		return "", "", err
	}
	if rec.Revoked() {
		return "", "", ErrRefreshRevoked
	}
	if rec.Expired(time.Now().UTC()) {
		return "", "", ErrRefreshExpired
	}

	newCleartext, expiresAt, err := mint(rec.AccountID)
	if err != nil {
		return "", "", fmt.Errorf("mint replacement token: %w", err)
	}
	replacement, err := l.buildRecord(rec.AccountID, newCleartext, expiresAt, meta)
	if err != nil {
		return "", "", err
	}

	rotated, err := l.store.Rotate(ctx, rec.ID, replacement)
	if err != nil {
		return "", "", fmt.Errorf("rotate refresh token: %w", err)
	}
	if !rotated {
		return "", "", ErrRefreshRevoked
	}
	return rec.AccountID, newCleartext, nil
}

// Revoke marks the matching record revoked. An unknown token is a successful
// no-op so logout stays idempotent.
func (l *RefreshLedger) Revoke(ctx context.Context, cleartext string) (bool, error) {
	rec, err := l.findMatch(ctx, cleartext)
	if err != nil {
		if errors.Is(err, ErrRefreshNotFound) {
			return false, nil
		}
		return false, err
	}
	if rec.Revoked() {
		return true, nil
	}
	if err := l.store.RevokeByID(ctx, rec.ID, time.Now().UTC()); err != nil {
		return false, fmt.Errorf("revoke refresh token: %w", err)
	}
	return true, nil
}

func (l *RefreshLedger) RevokeAll(ctx context.Context, accountID string) error {
	if _, err := l.store.RevokeAllForAccount(ctx, accountID, time.Now().UTC()); err != nil {
		return fmt.Errorf("revoke refresh tokens for account: %w", err)
	}
	return nil
}

func (l *RefreshLedger) findMatch(ctx context.Context, cleartext string) (RefreshTokenRecord, error) {
	if cleartext == "" {
		return RefreshTokenRecord{}, ErrRefreshNotFound
	}
	candidates, err := l.store.FindByDigest(ctx, refreshLookupDigest(cleartext))
	if err != nil {
		return RefreshTokenRecord{}, fmt.Errorf("lookup refresh token: %w", err)
	}
	for _, rec := range candidates {
		if refreshTokenMatches(cleartext, rec.TokenHash) {
			return rec, nil
		}
	}
	return RefreshTokenRecord{}, ErrRefreshNotFound
}

func (l *RefreshLedger) buildRecord(accountID, cleartext string, expiresAt time.Time, meta RequestContext) (RefreshTokenRecord, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return RefreshTokenRecord{}, fmt.Errorf("generate refresh token id: %w", err)
	}
	hash, err := hashRefreshToken(cleartext, l.hashCost)
	if err != nil {
		return RefreshTokenRecord{}, err
	}
	return RefreshTokenRecord{
		ID:           id.String(),
		AccountID:    accountID,
		LookupDigest: refreshLookupDigest(cleartext),
		TokenHash:    hash,
		IssuedIP:     meta.IP,
		UserAgent:    meta.UserAgent,
		ExpiresAt:    expiresAt.UTC(),
		CreatedAt:    time.Now().UTC(),
	}, nil
}
