package auth

import (
	"context"
	"sync"
	"time"
)

// In-memory store fakes mirroring the Postgres repositories' semantics,
// including the lockout state machine and the single-use rotation guard.

type fakeAccountStore struct {
	mu       sync.Mutex
	accounts map[string]*Account
}

func newFakeAccountStore() *fakeAccountStore {
	return &fakeAccountStore{accounts: make(map[string]*Account)}
}

func (f *fakeAccountStore) put(acct *Account) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[acct.ID] = acct
}

func (f *fakeAccountStore) get(id string) *Account {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accounts[id]
}

func (f *fakeAccountStore) FindByUsername(_ context.Context, username string) (*Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, acct := range f.accounts {
		if acct.Username == username {
			return acct, nil
		}
	}
	return nil, nil
}

func (f *fakeAccountStore) FindByEmailAndRole(_ context.Context, email, role string) (*Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, acct := range f.accounts {
		if acct.Email == email && acct.Role == role {
			return acct, nil
		}
	}
	return nil, nil
}

func (f *fakeAccountStore) FindByEmail(_ context.Context, email string) (*Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, acct := range f.accounts {
		if acct.Email == email {
			return acct, nil
		}
	}
	return nil, nil
}

func (f *fakeAccountStore) FindByID(_ context.Context, id string) (*Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accounts[id], nil
}

func (f *fakeAccountStore) FindByResetDigest(_ context.Context, digest string) (*Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, acct := range f.accounts {
		if acct.ResetTokenDigest != "" && acct.ResetTokenDigest == digest {
			return acct, nil
		}
	}
	return nil, nil
}

func (f *fakeAccountStore) RecordFailure(_ context.Context, accountID string, maxAttempts int, lockFor time.Duration, now time.Time) (*time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	acct := f.accounts[accountID]
	if acct == nil {
		return nil, nil
	}

	now = now.UTC()
	if acct.LockedUntil != nil && now.Before(*acct.LockedUntil) {
		until := *acct.LockedUntil
		return &until, nil
	}
	if acct.LockedUntil != nil {
		acct.FailedAttempts = 0
	}

	acct.FailedAttempts++
	acct.LockedUntil = nil
	if acct.FailedAttempts >= maxAttempts {
		until := now.Add(lockFor)
		acct.LockedUntil = &until
		return &until, nil
	}
	return nil, nil
}

func (f *fakeAccountStore) RecordSuccess(_ context.Context, accountID string, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if acct := f.accounts[accountID]; acct != nil {
		acct.FailedAttempts = 0
		acct.LockedUntil = nil
		stamp := now.UTC()
		acct.LastLoginAt = &stamp
	}
	return nil
}

func (f *fakeAccountStore) SetResetToken(_ context.Context, accountID, digest string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if acct := f.accounts[accountID]; acct != nil {
		acct.ResetTokenDigest = digest
		utc := expiresAt.UTC()
		acct.ResetTokenExpires = &utc
	}
	return nil
}

func (f *fakeAccountStore) UpdatePassword(_ context.Context, accountID, passwordHash string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if acct := f.accounts[accountID]; acct != nil {
		acct.PasswordHash = passwordHash
		acct.ResetTokenDigest = ""
		acct.ResetTokenExpires = nil
		acct.FailedAttempts = 0
		acct.LockedUntil = nil
	}
	return nil
}

type fakeRefreshStore struct {
	mu      sync.Mutex
	records map[string]*RefreshTokenRecord
}

func newFakeRefreshStore() *fakeRefreshStore {
	return &fakeRefreshStore{records: make(map[string]*RefreshTokenRecord)}
}

func (f *fakeRefreshStore) Create(_ context.Context, rec RefreshTokenRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := rec
	f.records[rec.ID] = &stored
	return nil
}

func (f *fakeRefreshStore) FindByDigest(_ context.Context, digest string) ([]RefreshTokenRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	matches := make([]RefreshTokenRecord, 0, 1)
	for _, rec := range f.records {
		if rec.LookupDigest == digest {
			matches = append(matches, *rec)
		}
	}
	return matches, nil
}

func (f *fakeRefreshStore) Rotate(_ context.Context, oldID string, replacement RefreshTokenRecord) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	old := f.records[oldID]
	if old == nil || old.RevokedAt != nil {
		return false, nil
	}
	now := time.Now().UTC()
	old.RevokedAt = &now
	old.ReplacedBy = replacement.ID

	stored := replacement
	f.records[replacement.ID] = &stored
	return true, nil
}

func (f *fakeRefreshStore) RevokeByID(_ context.Context, id string, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec := f.records[id]; rec != nil && rec.RevokedAt == nil {
		utc := now.UTC()
		rec.RevokedAt = &utc
	}
	return nil
}

func (f *fakeRefreshStore) RevokeAllForAccount(_ context.Context, accountID string, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var revoked int64
	for _, rec := range f.records {
		if rec.AccountID == accountID && rec.RevokedAt == nil {
			utc := now.UTC()
			rec.RevokedAt = &utc
			revoked++
		}
	}
	return revoked, nil
}

func (f *fakeRefreshStore) liveCount(accountID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, rec := range f.records {
		if rec.AccountID == accountID && rec.RevokedAt == nil {
			count++
		}
	}
	return count
}

type fakeAPIKeyStore struct {
	mu      sync.Mutex
	records map[string]*APIKeyRecord
}

func newFakeAPIKeyStore() *fakeAPIKeyStore {
	return &fakeAPIKeyStore{records: make(map[string]*APIKeyRecord)}
}

func (f *fakeAPIKeyStore) Create(_ context.Context, rec APIKeyRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := rec
	f.records[rec.ID] = &stored
	return nil
}

func (f *fakeAPIKeyStore) FindActiveByPrefix(_ context.Context, prefix string) ([]APIKeyRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	matches := make([]APIKeyRecord, 0, 1)
	for _, rec := range f.records {
		if rec.Active && rec.Prefix == prefix {
			matches = append(matches, *rec)
		}
	}
	return matches, nil
}

func (f *fakeAPIKeyStore) FindByID(_ context.Context, id string) (*APIKeyRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec := f.records[id]
	if rec == nil {
		return nil, nil
	}
	copied := *rec
	return &copied, nil
}

func (f *fakeAPIKeyStore) ListForAccount(_ context.Context, accountID string) ([]APIKeyRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	matches := make([]APIKeyRecord, 0, 1)
	for _, rec := range f.records {
		if rec.AccountID == accountID {
			matches = append(matches, *rec)
		}
	}
	return matches, nil
}

func (f *fakeAPIKeyStore) Deactivate(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec := f.records[id]; rec != nil {
		rec.Active = false
	}
	return nil
}

func (f *fakeAPIKeyStore) TouchUsage(_ context.Context, id string, usedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec := f.records[id]; rec != nil {
		utc := usedAt.UTC()
		rec.LastUsedAt = &utc
		rec.UsageCount++
	}
	return nil
}

type sentNotice struct {
	to, subject, body string
}

type fakeNotifier struct {
	mu    sync.Mutex
	sends []sentNotice
}

func (f *fakeNotifier) Send(to, subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, sentNotice{to: to, subject: subject, body: body})
	return nil
}

func (f *fakeNotifier) sent() []sentNotice {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentNotice, len(f.sends))
	copy(out, f.sends)
	return out
}
