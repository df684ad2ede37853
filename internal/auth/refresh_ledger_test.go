package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func staticMint(cleartext string, expiresAt time.Time) func(string) (string, time.Time, error) {
	return func(string) (string, time.Time, error) {
		return cleartext, expiresAt, nil
	}
}

func TestRefreshLedgerIssueStoresHashNotCleartext(t *testing.T) {
	store := newFakeRefreshStore()
	ledger := NewRefreshLedger(store, bcrypt.MinCost)

	rec, err := ledger.Issue(context.Background(), "acct-1", "the-cleartext", time.Now().UTC().Add(time.Hour), RequestContext{IP: "10.0.0.1", UserAgent: "test"})
	require.NoError(t, err)

	assert.NotEqual(t, "the-cleartext", rec.TokenHash)
	assert.Len(t, rec.LookupDigest, lookupDigestLen)
	assert.Equal(t, refreshLookupDigest("the-cleartext"), rec.LookupDigest)
	assert.True(t, refreshTokenMatches("the-cleartext", rec.TokenHash))
	assert.False(t, refreshTokenMatches("other-cleartext", rec.TokenHash))
	assert.Equal(t, "10.0.0.1", rec.IssuedIP)
}

func TestRefreshLedgerRotateMarksPredecessor(t *testing.T) {
	store := newFakeRefreshStore()
	ledger := NewRefreshLedger(store, bcrypt.MinCost)
	ctx := context.Background()

	old, err := ledger.Issue(ctx, "acct-1", "old-token", time.Now().UTC().Add(time.Hour), RequestContext{})
	require.NoError(t, err)

	accountID, newCleartext, err := ledger.ValidateAndRotate(ctx, "old-token", staticMint("new-token", time.Now().UTC().Add(time.Hour)), RequestContext{})
	require.NoError(t, err)
	assert.Equal(t, "acct-1", accountID)
	assert.Equal(t, "new-token", newCleartext)

	rotated := store.records[old.ID]
	require.NotNil(t, rotated.RevokedAt)
	assert.NotEmpty(t, rotated.ReplacedBy)

	// The losing side of a replay sees a revocation, not a not-found.
	_, _, err = ledger.ValidateAndRotate(ctx, "old-token", staticMint("another", time.Now().UTC().Add(time.Hour)), RequestContext{})
	assert.ErrorIs(t, err, ErrRefreshRevoked)
}

func TestRefreshLedgerExpiredToken(t *testing.T) {
	store := newFakeRefreshStore()
	ledger := NewRefreshLedger(store, bcrypt.MinCost)
	ctx := context.Background()

	_, err := ledger.Issue(ctx, "acct-1", "stale-token", time.Now().UTC().Add(-time.Minute), RequestContext{})
	require.NoError(t, err)

	_, _, err = ledger.ValidateAndRotate(ctx, "stale-token", staticMint("new", time.Now().UTC().Add(time.Hour)), RequestContext{})
	assert.ErrorIs(t, err, ErrRefreshExpired)
}

func TestRefreshLedgerUnknownToken(t *testing.T) {
	ledger := NewRefreshLedger(newFakeRefreshStore(), bcrypt.MinCost)
	ctx := context.Background()

	_, _, err := ledger.ValidateAndRotate(ctx, "never-issued", staticMint("new", time.Now().UTC().Add(time.Hour)), RequestContext{})
	assert.ErrorIs(t, err, ErrRefreshNotFound)

	matched, err := ledger.Revoke(ctx, "never-issued")
	require.NoError(t, err)
	assert.False(t, matched)
}

func TestRefreshLedgerDigestCollisionsDisambiguated(t *testing.T) {
	store := newFakeRefreshStore()
	ledger := NewRefreshLedger(store, bcrypt.MinCost)
	ctx := context.Background()

	// Force two records onto the same lookup digest; the bcrypt compare must
	// still pick the right one.
	recA, err := ledger.Issue(ctx, "acct-a", "token-a", time.Now().UTC().Add(time.Hour), RequestContext{})
	require.NoError(t, err)
	recB, err := ledger.Issue(ctx, "acct-b", "token-b", time.Now().UTC().Add(time.Hour), RequestContext{})
	require.NoError(t, err)
	store.records[recB.ID].LookupDigest = recA.LookupDigest

	accountID, _, err := ledger.ValidateAndRotate(ctx, "token-a", staticMint("new", time.Now().UTC().Add(time.Hour)), RequestContext{})
	require.NoError(t, err)
	assert.Equal(t, "acct-a", accountID)
}
