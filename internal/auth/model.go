package auth

import "time"

type Account struct {
	ID                string
	Username          string
	Email             string
	PasswordHash      string
	Role              string
	Active            bool
	FailedAttempts    int
	LockedUntil       *time.Time
	ResetTokenDigest  string
	ResetTokenExpires *time.Time
	LastLoginAt       *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// RefreshTokenRecord persists an issued refresh token. Only the bcrypt hash of
// the cleartext is stored; LookupDigest is a short non-secret discriminator
// used to narrow candidates before the slow compare.
type RefreshTokenRecord struct {
	ID           string
	AccountID    string
	LookupDigest string
	TokenHash    string
	IssuedIP     string
	UserAgent    string
	ExpiresAt    time.Time
	RevokedAt    *time.Time
	ReplacedBy   string
	CreatedAt    time.Time
}

func (r RefreshTokenRecord) Revoked() bool { return r.RevokedAt != nil }

func (r RefreshTokenRecord) Expired(now time.Time) bool { return now.After(r.ExpiresAt) }

// APIKeyRecord persists a long-lived machine credential. Prefix is a cleartext
// fragment kept for display and candidate narrowing; the full key exists only
// in the caller's hands.
type APIKeyRecord struct {
	ID         string
	AccountID  string
	Label      string
	Prefix     string
	KeyHash    string
	ExpiresAt  *time.Time
	Active     bool
	LastUsedAt *time.Time
	UsageCount int64
	CreatedAt  time.Time
}

// APIKeySummary is the list view of a key; it never carries hash material.
type APIKeySummary struct {
	ID         string     `json:"id"`
	Label      string     `json:"label"`
	Prefix     string     `json:"prefix"`
	Active     bool       `json:"active"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	UsageCount int64      `json:"usage_count"`
	CreatedAt  time.Time  `json:"created_at"`
}

func (k APIKeyRecord) Summary() APIKeySummary {
	return APIKeySummary{
		ID:         k.ID,
		Label:      k.Label,
		Prefix:     k.Prefix,
		Active:     k.Active,
		ExpiresAt:  k.ExpiresAt,
		LastUsedAt: k.LastUsedAt,
		UsageCount: k.UsageCount,
		CreatedAt:  k.CreatedAt,
	}
}

// RequestContext carries forensic metadata attached to issued credentials.
type RequestContext struct {
	IP        string
	UserAgent string
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

type AccountSummary struct {
	ID          string     `json:"id"`
	Username    string     `json:"username"`
	Email       string     `json:"email"`
	Role        string     `json:"role"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

func (a *Account) Summary() AccountSummary {
	return AccountSummary{
		ID:          a.ID,
		Username:    a.Username,
		Email:       a.Email,
		Role:        a.Role,
		LastLoginAt: a.LastLoginAt,
	}
}
