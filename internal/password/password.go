package password

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultCost = 12
	MinLength   = 8
)

// symbols is the punctuation set accepted by the strength policy.
const symbols = "!@#$%^&*()-_=+[]{};:'\",.<>/?\\|`~"

func Hash(secret string, cost int) (string, error) {
	if cost <= 0 {
		cost = DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// Verify reports whether secret matches the stored hash. A malformed hash is
// treated as a mismatch, never an error.
func Verify(secret, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}

const (
	ViolationTooShort      = "too_short"
	ViolationMissingUpper  = "missing_upper"
	ViolationMissingLower  = "missing_lower"
	ViolationMissingDigit  = "missing_digit"
	ViolationMissingSymbol = "missing_symbol"
)

type StrengthResult struct {
	Valid      bool     `json:"valid"`
	Violations []string `json:"violations,omitempty"`
}

// CheckStrength collects every violated rule, not just the first.
func CheckStrength(secret string) StrengthResult {
	var violations []string
	if len([]rune(secret)) < MinLength {
		violations = append(violations, ViolationTooShort)
	}

	var hasUpper, hasLower, hasDigit, hasSymbol bool
	for _, r := range secret {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case strings.ContainsRune(symbols, r):
			hasSymbol = true
		}
	}
	if !hasUpper {
		violations = append(violations, ViolationMissingUpper)
	}
	if !hasLower {
		violations = append(violations, ViolationMissingLower)
	}
	if !hasDigit {
		violations = append(violations, ViolationMissingDigit)
	}
	if !hasSymbol {
		violations = append(violations, ViolationMissingSymbol)
	}

	return StrengthResult{Valid: len(violations) == 0, Violations: violations}
}
