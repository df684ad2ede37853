package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"practicecore/internal/audit"
	"practicecore/internal/metrics"
	"practicecore/internal/notify"
	"practicecore/internal/observability"
	"practicecore/internal/password"
	"practicecore/internal/roles"
	"practicecore/internal/token"
)

const (
	defaultMaxAttempts   = 5
	defaultLockDuration  = 30 * time.Minute
	defaultResetTokenTTL = time.Hour
)

type Config struct {
	MaxAttempts         int
	LockDuration        time.Duration
	ResetTokenTTL       time.Duration
	RememberMeAccessTTL time.Duration
	PasswordCost        int
}

func (c *Config) applyDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.LockDuration <= 0 {
		c.LockDuration = defaultLockDuration
	}
	if c.ResetTokenTTL <= 0 {
		c.ResetTokenTTL = defaultResetTokenTTL
	}
	if c.PasswordCost <= 0 {
		c.PasswordCost = password.DefaultCost
	}
}

// Service composes the credential verifier, token codec, lockout tracking and
// the two ledgers into the business-visible session operations.
type Service struct {
	accounts AccountStore
	refresh  *RefreshLedger
	apiKeys  *APIKeyLedger
	codec    *token.Codec
	notifier notify.Sender
	auditor  audit.Recorder
	logger   *observability.Logger
	cfg      Config
}

func NewService(
	accounts AccountStore,
	refresh *RefreshLedger,
	apiKeys *APIKeyLedger,
	codec *token.Codec,
	notifier notify.Sender,
	auditor audit.Recorder,
	logger *observability.Logger,
	cfg Config,
) *Service {
	cfg.applyDefaults()
	return &Service{
		accounts: accounts,
		refresh:  refresh,
		apiKeys:  apiKeys,
		codec:    codec,
		notifier: notifier,
		auditor:  auditor,
		logger:   logger,
		cfg:      cfg,
	}
}

type LoginResult struct {
	Account AccountSummary `json:"account"`
	Tokens  TokenPair      `json:"tokens"`
}

// Login resolves the identifier, enforces lockout before the expensive hash
// compare, verifies the secret and issues a token pair. The refresh cleartext
// in the result is surfaced to the caller exactly once.
func (s *Service) Login(ctx context.Context, identifier, secret string, rememberMe bool, meta RequestContext) (*LoginResult, error) {
	identifier = strings.TrimSpace(strings.ToLower(identifier))
	if identifier == "" || secret == "" {
		metrics.LoginAttempts.WithLabelValues("invalid").Inc()
		return nil, ErrInvalidCredentials
	}

	acct, err := s.resolveIdentifier(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		// Unknown subject: same error as a wrong password so callers cannot
		// probe which accounts exist.
		metrics.LoginAttempts.WithLabelValues("invalid").Inc()
		return nil, ErrInvalidCredentials
	}

	now := time.Now().UTC()
	if acct.LockedUntil != nil && now.Before(*acct.LockedUntil) {
		metrics.LoginAttempts.WithLabelValues("locked").Inc()
		return nil, AccountLockedError{Until: *acct.LockedUntil}
	}
	if !acct.Active {
		metrics.LoginAttempts.WithLabelValues("inactive").Inc()
		return nil, ErrAccountInactive
	}

	if !password.Verify(secret, acct.PasswordHash) {
		lockedUntil, regErr := s.accounts.RecordFailure(ctx, acct.ID, s.cfg.MaxAttempts, s.cfg.LockDuration, now)
		if regErr != nil {
			return nil, regErr
		}
		if lockedUntil != nil {
			metrics.LoginAttempts.WithLabelValues("locked").Inc()
			metrics.Lockouts.Inc()
			s.auditor.Record(ctx, "account_locked", map[string]any{
				"account_id": acct.ID,
				"until":      lockedUntil.Format(time.RFC3339),
				"ip":         meta.IP,
			})
			return nil, AccountLockedError{Until: *lockedUntil}
		}
		metrics.LoginAttempts.WithLabelValues("invalid").Inc()
		return nil, ErrInvalidCredentials
	}

	if err := s.accounts.RecordSuccess(ctx, acct.ID, now); err != nil {
		return nil, err
	}

	pair, err := s.issuePair(ctx, acct, rememberMe, meta)
	if err != nil {
		return nil, err
	}

	metrics.LoginAttempts.WithLabelValues("success").Inc()
	s.auditor.Record(ctx, "login", map[string]any{
		"account_id": acct.ID,
		"role":       acct.Role,
		"ip":         meta.IP,
		"user_agent": meta.UserAgent,
	})

	return &LoginResult{Account: acct.Summary(), Tokens: pair}, nil
}

// resolveIdentifier treats anything with an @ as a patient email; every other
// subject class logs in by username.
func (s *Service) resolveIdentifier(ctx context.Context, identifier string) (*Account, error) {
	if strings.Contains(identifier, "@") {
		return s.accounts.FindByEmailAndRole(ctx, identifier, roles.Patient)
	}
	return s.accounts.FindByUsername(ctx, identifier)
}

func (s *Service) issuePair(ctx context.Context, acct *Account, rememberMe bool, meta RequestContext) (TokenPair, error) {
	accessTTL := time.Duration(0)
	if rememberMe && s.cfg.RememberMeAccessTTL > 0 {
		accessTTL = s.cfg.RememberMeAccessTTL
	}

	access, err := s.codec.MintAccess(acct.ID, acct.Role, roles.Permissions(acct.Role), accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refreshCleartext, err := s.codec.MintRefresh(acct.ID, 0)
	if err != nil {
		return TokenPair{}, err
	}
	expiresAt := time.Now().UTC().Add(s.codec.RefreshTTL())
	if _, err := s.refresh.Issue(ctx, acct.ID, refreshCleartext, expiresAt, meta); err != nil {
		return TokenPair{}, err
	}

	effectiveTTL := s.codec.AccessTTL()
	if accessTTL > 0 {
		effectiveTTL = accessTTL
	}
	return TokenPair{
		AccessToken:  access,
		RefreshToken: refreshCleartext,
		TokenType:    "Bearer",
		ExpiresIn:    int64(effectiveTTL.Seconds()),
	}, nil
}

// Refresh exchanges a refresh token for a new pair. Ledger failures keep their
// specific kind so callers can tell "log in again" from "retry".
func (s *Service) Refresh(ctx context.Context, refreshToken string, meta RequestContext) (TokenPair, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if _, err := s.codec.Verify(refreshToken, token.ClassRefresh); err != nil {
		metrics.RefreshRotations.WithLabelValues("rejected").Inc()
		return TokenPair{}, err
	}

	mint := func(accountID string) (string, time.Time, error) {
		cleartext, err := s.codec.MintRefresh(accountID, 0)
		if err != nil {
			return "", time.Time{}, err
		}
		return cleartext, time.Now().UTC().Add(s.codec.RefreshTTL()), nil
	}

	accountID, newCleartext, err := s.refresh.ValidateAndRotate(ctx, refreshToken, mint, meta)
	if err != nil {
		metrics.RefreshRotations.WithLabelValues("rejected").Inc()
		return TokenPair{}, err
	}

	acct, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return TokenPair{}, err
	}
	if acct == nil || !acct.Active {
		metrics.RefreshRotations.WithLabelValues("rejected").Inc()
		return TokenPair{}, ErrAccountInactive
	}

	access, err := s.codec.MintAccess(acct.ID, acct.Role, roles.Permissions(acct.Role), 0)
	if err != nil {
		return TokenPair{}, err
	}

	metrics.RefreshRotations.WithLabelValues("success").Inc()
	return TokenPair{
		AccessToken:  access,
		RefreshToken: newCleartext,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.codec.AccessTTL().Seconds()),
	}, nil
}

// Logout revokes the matching refresh record. An unknown or already-revoked
// token is still a success; from the client's perspective logout is
// idempotent.
func (s *Service) Logout(ctx context.Context, refreshToken string, meta RequestContext) error {
	matched, err := s.refresh.Revoke(ctx, strings.TrimSpace(refreshToken))
	if err != nil {
		return err
	}
	if matched {
		s.auditor.Record(ctx, "logout", map[string]any{"ip": meta.IP})
	}
	return nil
}

// RequestPasswordReset always reports success. The matching branch runs in the
// background so callers observe the same response and timing whether or not
// the email belongs to an account.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return nil
	}

	bg := context.WithoutCancel(ctx)
	go func() {
		if err := s.beginPasswordReset(bg, email); err != nil {
			s.logger.Error("password_reset_request_failed", map[string]any{"error": err.Error()})
		}
	}()
	return nil
}

func (s *Service) beginPasswordReset(ctx context.Context, email string) error {
	acct, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		return err
	}
	if acct == nil || !acct.Active {
		return nil
	}

	cleartext, err := randomOpaqueToken(32)
	if err != nil {
		return err
	}
	expiresAt := time.Now().UTC().Add(s.cfg.ResetTokenTTL)
	if err := s.accounts.SetResetToken(ctx, acct.ID, resetTokenDigest(cleartext), expiresAt); err != nil {
		return err
	}

	s.auditor.Record(ctx, "password_reset_requested", map[string]any{"account_id": acct.ID})
	if err := s.notifier.Send(acct.Email, "Password reset",
		fmt.Sprintf("Use this code to reset your password: %s\nIt expires in %d minutes.",
			cleartext, int(s.cfg.ResetTokenTTL.Minutes()))); err != nil {
		s.logger.Error("password_reset_notice_failed", map[string]any{
			"account_id": acct.ID,
			"error":      err.Error(),
		})
	}
	return nil
}

// ResetPassword consumes a reset token: rehashes the secret, clears the token
// and the lockout state, and revokes every refresh token so all sessions must
// re-authenticate.
func (s *Service) ResetPassword(ctx context.Context, resetToken, newSecret string) error {
	resetToken = strings.TrimSpace(resetToken)
	if resetToken == "" {
		return ErrResetTokenInvalid
	}
	if result := password.CheckStrength(newSecret); !result.Valid {
		return WeakPasswordError{Violations: result.Violations}
	}

	acct, err := s.accounts.FindByResetDigest(ctx, resetTokenDigest(resetToken))
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if acct == nil || acct.ResetTokenExpires == nil || now.After(*acct.ResetTokenExpires) {
		return ErrResetTokenInvalid
	}

	hash, err := password.Hash(newSecret, s.cfg.PasswordCost)
	if err != nil {
		return err
	}
	if err := s.accounts.UpdatePassword(ctx, acct.ID, hash, now); err != nil {
		return err
	}
	if err := s.refresh.RevokeAll(ctx, acct.ID); err != nil {
		return err
	}

	s.auditor.Record(ctx, "password_reset", map[string]any{"account_id": acct.ID})
	return nil
}

func (s *Service) IssueAPIKey(ctx context.Context, accountID, label string, expiresAt *time.Time) (string, APIKeySummary, error) {
	cleartext, rec, err := s.apiKeys.Issue(ctx, accountID, label, expiresAt)
	if err != nil {
		return "", APIKeySummary{}, err
	}

	s.auditor.Record(ctx, "api_key_created", map[string]any{
		"account_id": accountID,
		"key_id":     rec.ID,
		"label":      rec.Label,
	})
	if acct, err := s.accounts.FindByID(ctx, accountID); err == nil && acct != nil {
		if err := s.notifier.Send(acct.Email, "New API key created",
			fmt.Sprintf("An API key labelled %q (prefix %s…) was created on your account.", rec.Label, rec.Prefix)); err != nil {
			s.logger.Error("api_key_notice_failed", map[string]any{"account_id": accountID, "error": err.Error()})
		}
	}
	return cleartext, rec.Summary(), nil
}

func (s *Service) ListAPIKeys(ctx context.Context, accountID string) ([]APIKeySummary, error) {
	return s.apiKeys.List(ctx, accountID)
}

func (s *Service) RevokeAPIKey(ctx context.Context, keyID, ownerAccountID string) error {
	if err := s.apiKeys.Revoke(ctx, keyID, ownerAccountID); err != nil {
		return err
	}
	s.auditor.Record(ctx, "api_key_revoked", map[string]any{
		"account_id": ownerAccountID,
		"key_id":     keyID,
	})
	return nil
}

// ValidateAPIKey authenticates a machine caller and updates usage bookkeeping.
func (s *Service) ValidateAPIKey(ctx context.Context, cleartext string) (*Account, error) {
	acct, err := s.apiKeys.Validate(ctx, cleartext)
	if err != nil {
		metrics.APIKeyValidations.WithLabelValues("rejected").Inc()
		return nil, err
	}
	metrics.APIKeyValidations.WithLabelValues("success").Inc()
	return acct, nil
}

func randomOpaqueToken(nBytes int) (string, error) {
	raw := make([]byte, nBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate opaque token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func resetTokenDigest(cleartext string) string {
	sum := sha256.Sum256([]byte(cleartext))
	return hex.EncodeToString(sum[:])
}
