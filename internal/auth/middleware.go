package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"practicecore/internal/token"
)

type contextKey string

const (
	accountIDKey   contextKey = "account_id"
	roleKey        contextKey = "role"
	permissionsKey contextKey = "permissions"
)

func AccountIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(accountIDKey).(string)
	return id, ok && id != ""
}

func RoleFromContext(ctx context.Context) (string, bool) {
	role, ok := ctx.Value(roleKey).(string)
	return role, ok && role != ""
}

func PermissionsFromContext(ctx context.Context) []string {
	perms, _ := ctx.Value(permissionsKey).([]string)
	return perms
}

// AccessTokenMiddleware authenticates interactive callers with a bearer
// access token and stashes the verified identity in the request context.
func AccessTokenMiddleware(codec *token.Codec, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bearer, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing or malformed authorization header")
			return
		}

		claims, err := codec.Verify(bearer, token.ClassAccess)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), accountIDKey, claims.Subject)
		ctx = context.WithValue(ctx, roleKey, claims.Role)
		ctx = context.WithValue(ctx, permissionsKey, claims.Permissions)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// APIKeyMiddleware authenticates machine callers with an X-API-Key header.
// Usage bookkeeping happens inside the validation.
func APIKeyMiddleware(service *Service, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get("X-API-Key"))
		if key == "" {
			writeError(w, http.StatusUnauthorized, "missing api key")
			return
		}

		acct, err := service.ValidateAPIKey(r.Context(), key)
		if err != nil {
			switch {
			case errors.Is(err, ErrAPIKeyInvalid), errors.Is(err, ErrAPIKeyExpired), errors.Is(err, ErrAPIKeyOwnerInactive):
				writeError(w, http.StatusUnauthorized, "invalid api key")
			default:
				writeError(w, http.StatusInternalServerError, "failed to validate api key")
			}
			return
		}

		ctx := context.WithValue(r.Context(), accountIDKey, acct.ID)
		ctx = context.WithValue(ctx, roleKey, acct.Role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	value := strings.TrimSpace(parts[1])
	return value, value != ""
}

func isTokenRejection(err error) bool {
	return errors.Is(err, token.ErrTokenExpired) ||
		errors.Is(err, token.ErrTokenMalformed) ||
		errors.Is(err, token.ErrTokenWrongClass)
}
