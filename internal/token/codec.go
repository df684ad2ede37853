package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	ClassAccess  = "access"
	ClassRefresh = "refresh"

	DefaultAccessTTL  = 30 * time.Minute
	DefaultRefreshTTL = 30 * 24 * time.Hour

	minSecretBytes = 32
)

var (
	ErrTokenExpired    = errors.New("token expired")
	ErrTokenMalformed  = errors.New("token malformed")
	ErrTokenWrongClass = errors.New("token class mismatch")
)

// Claims is the signed payload carried by both token classes. Refresh tokens
// carry only the subject and class; access tokens add role and permissions.
type Claims struct {
	Class       string   `json:"typ"`
	Role        string   `json:"role,omitempty"`
	Permissions []string `json:"perms,omitempty"`
	jwt.RegisteredClaims
}

type Config struct {
	Issuer        string
	Audience      string
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

type Codec struct {
	cfg Config
}

// NewCodec validates the signing configuration up front so a misconfigured
// process refuses to start instead of failing per-request.
func NewCodec(cfg Config) (*Codec, error) {
	if cfg.Issuer == "" || cfg.Audience == "" {
		return nil, fmt.Errorf("token codec: issuer and audience are required")
	}
	if len(cfg.AccessSecret) < minSecretBytes {
		return nil, fmt.Errorf("token codec: access secret must be at least %d bytes", minSecretBytes)
	}
	if len(cfg.RefreshSecret) < minSecretBytes {
		return nil, fmt.Errorf("token codec: refresh secret must be at least %d bytes", minSecretBytes)
	}
	if string(cfg.AccessSecret) == string(cfg.RefreshSecret) {
		return nil, fmt.Errorf("token codec: access and refresh secrets must differ")
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	return &Codec{cfg: cfg}, nil
}

func (c *Codec) AccessTTL() time.Duration  { return c.cfg.AccessTTL }
func (c *Codec) RefreshTTL() time.Duration { return c.cfg.RefreshTTL }

// MintAccess signs a fresh access token. A zero ttl falls back to the
// configured default; callers extend it for remember-me sessions.
func (c *Codec) MintAccess(accountID, role string, permissions []string, ttl time.Duration) (string, error) {
	if ttl == 0 {
		ttl = c.cfg.AccessTTL
	}
	return c.mint(ClassAccess, accountID, role, permissions, ttl, c.cfg.AccessSecret)
}

func (c *Codec) MintRefresh(accountID string, ttl time.Duration) (string, error) {
	if ttl == 0 {
		ttl = c.cfg.RefreshTTL
	}
	return c.mint(ClassRefresh, accountID, "", nil, ttl, c.cfg.RefreshSecret)
}

func (c *Codec) mint(class, accountID, role string, permissions []string, ttl time.Duration, secret []byte) (string, error) {
	now := time.Now().UTC()
	claims := &Claims{
		Class:       class,
		Role:        role,
		Permissions: permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			// jti keeps tokens minted in the same second distinct; the
			// timestamp claims only have second resolution.
			ID:        uuid.NewString(),
			Subject:   accountID,
			Issuer:    c.cfg.Issuer,
			Audience:  jwt.ClaimStrings{c.cfg.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", class, err)
	}
	return signed, nil
}

// Verify checks signature, issuer, audience and expiry, then the class tag.
// The signing secret is chosen by the class the token itself declares, so a
// valid access token presented where a refresh token is expected fails with
// ErrTokenWrongClass instead of a signature error.
func (c *Codec) Verify(tokenString, expectedClass string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		inner, ok := t.Claims.(*Claims)
		if !ok {
			return nil, fmt.Errorf("unexpected claims type")
		}
		switch inner.Class {
		case ClassAccess:
			return c.cfg.AccessSecret, nil
		case ClassRefresh:
			return c.cfg.RefreshSecret, nil
		default:
			return nil, fmt.Errorf("unknown token class %q", inner.Class)
		}
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.cfg.Issuer),
		jwt.WithAudience(c.cfg.Audience),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenMalformed
	}
	if !parsed.Valid {
		return nil, ErrTokenMalformed
	}
	if claims.Class != expectedClass {
		return nil, ErrTokenWrongClass
	}
	return claims, nil
}
