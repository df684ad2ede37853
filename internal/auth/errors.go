package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Expected failures are tagged so callers branch with errors.Is/errors.As,
// never on message text.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountInactive    = errors.New("account inactive")

	ErrRefreshNotFound = errors.New("refresh token not found")
	ErrRefreshRevoked  = errors.New("refresh token revoked")
	ErrRefreshExpired  = errors.New("refresh token expired")

	ErrAPIKeyInvalid       = errors.New("api key invalid")
	ErrAPIKeyExpired       = errors.New("api key expired")
	ErrAPIKeyOwnerInactive = errors.New("api key owner inactive")
	ErrAPIKeyNotFound      = errors.New("api key not found")

	ErrResetTokenInvalid = errors.New("invalid or expired reset token")
)

// AccountLockedError is the one authentication failure that discloses detail:
// how long until the caller may retry.
type AccountLockedError struct {
	Until time.Time
}

func (e AccountLockedError) Error() string {
	return fmt.Sprintf("account locked, retry in %d minute(s)", e.RemainingMinutes())
}

func (e AccountLockedError) RemainingMinutes() int {
	remaining := int(time.Until(e.Until).Minutes()) + 1
	if remaining < 1 {
		remaining = 1
	}
	return remaining
}

type WeakPasswordError struct {
	Violations []string
}

func (e WeakPasswordError) Error() string {
	return "password too weak: " + strings.Join(e.Violations, ", ")
}
