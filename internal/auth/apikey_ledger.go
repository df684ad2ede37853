package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"practicecore/internal/observability"
)

const (
	// APIKeyPrefix makes keys recognizable in support tickets and scrubbers.
	APIKeyPrefix = "pmk_"

	apiKeyRandomBytes = 32
	// apiKeyPrefixLen is how much cleartext is kept for display and for
	// narrowing validation to a small candidate set.
	apiKeyPrefixLen = 12
)

// APIKeyLedger issues and validates long-lived machine credentials. The full
// key is returned exactly once at creation; storage keeps a bcrypt hash plus
// the display prefix.
type APIKeyLedger struct {
	store    APIKeyStore
	accounts AccountStore
	logger   *observability.Logger
	hashCost int
}

func NewAPIKeyLedger(store APIKeyStore, accounts AccountStore, logger *observability.Logger, hashCost int) *APIKeyLedger {
	if hashCost <= 0 {
		hashCost = bcrypt.DefaultCost
	}
	return &APIKeyLedger{store: store, accounts: accounts, logger: logger, hashCost: hashCost}
}

func generateAPIKey() (string, error) {
	raw := make([]byte, apiKeyRandomBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return APIKeyPrefix + base64.RawURLEncoding.EncodeToString(raw), nil
}

func (l *APIKeyLedger) Issue(ctx context.Context, accountID, label string, expiresAt *time.Time) (string, APIKeyRecord, error) {
	cleartext, err := generateAPIKey()
	if err != nil {
		return "", APIKeyRecord{}, err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return "", APIKeyRecord{}, fmt.Errorf("generate api key id: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(cleartext), l.hashCost)
	if err != nil {
		return "", APIKeyRecord{}, fmt.Errorf("hash api key: %w", err)
	}

	rec := APIKeyRecord{
		ID:        id.String(),
		AccountID: accountID,
		Label:     strings.TrimSpace(label),
		Prefix:    cleartext[:apiKeyPrefixLen],
		KeyHash:   string(hash),
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if expiresAt != nil {
		utc := expiresAt.UTC()
		rec.ExpiresAt = &utc
	}

	if err := l.store.Create(ctx, rec); err != nil {
		return "", APIKeyRecord{}, fmt.Errorf("persist api key: %w", err)
	}
	return cleartext, rec, nil
}

// Validate resolves a presented key to its owning account. Usage bookkeeping
// is best-effort: a failed touch is logged, never surfaced.
func (l *APIKeyLedger) Validate(ctx context.Context, cleartext string) (*Account, error) {
	if len(cleartext) < apiKeyPrefixLen || !strings.HasPrefix(cleartext, APIKeyPrefix) {
		return nil, ErrAPIKeyInvalid
	}

	candidates, err := l.store.FindActiveByPrefix(ctx, cleartext[:apiKeyPrefixLen])
	if err != nil {
		return nil, fmt.Errorf("lookup api key: %w", err)
	}

	var matched *APIKeyRecord
	for i := range candidates {
		if bcrypt.CompareHashAndPassword([]byte(candidates[i].KeyHash), []byte(cleartext)) == nil {
			matched = &candidates[i]
			break
		}
	}
	if matched == nil {
		return nil, ErrAPIKeyInvalid
	}
	if matched.ExpiresAt != nil && time.Now().UTC().After(*matched.ExpiresAt) {
		return nil, ErrAPIKeyExpired
	}

	owner, err := l.accounts.FindByID(ctx, matched.AccountID)
	if err != nil {
		return nil, fmt.Errorf("load api key owner: %w", err)
	}
	if owner == nil || !owner.Active {
		return nil, ErrAPIKeyOwnerInactive
	}

	if err := l.store.TouchUsage(ctx, matched.ID, time.Now().UTC()); err != nil {
		l.logger.Error("api_key_usage_touch_failed", map[string]any{
			"key_id": matched.ID,
			"error":  err.Error(),
		})
	}
	return owner, nil
}

// Revoke soft-deactivates a key. Ownership is enforced here so a caller can
// only revoke keys it owns.
func (l *APIKeyLedger) Revoke(ctx context.Context, id, ownerAccountID string) error {
	rec, err := l.store.FindByID(ctx, id)
	if err != nil {
		return fmt.Errorf("load api key: %w", err)
	}
	if rec == nil || rec.AccountID != ownerAccountID {
		return ErrAPIKeyNotFound
	}
	if err := l.store.Deactivate(ctx, rec.ID); err != nil {
		return fmt.Errorf("deactivate api key: %w", err)
	}
	return nil
}

func (l *APIKeyLedger) List(ctx context.Context, accountID string) ([]APIKeySummary, error) {
	records, err := l.store.ListForAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	summaries := make([]APIKeySummary, 0, len(records))
	for _, rec := range records {
		summaries = append(summaries, rec.Summary())
	}
	return summaries, nil
}
