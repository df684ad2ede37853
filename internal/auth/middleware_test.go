package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"practicecore/internal/roles"
)

func TestAccessTokenMiddleware(t *testing.T) {
	codec := newTestCodec(t)

	var gotAccountID, gotRole string
	var gotPerms []string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAccountID, _ = AccountIDFromContext(r.Context())
		gotRole, _ = RoleFromContext(r.Context())
		gotPerms = PermissionsFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	handler := AccessTokenMiddleware(codec, next)

	access, err := codec.MintAccess("acct-1", roles.Admin, roles.Permissions(roles.Admin), 0)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+access)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "acct-1", gotAccountID)
	assert.Equal(t, roles.Admin, gotRole)
	assert.Equal(t, roles.Permissions(roles.Admin), gotPerms)
}

func TestAccessTokenMiddlewareRejections(t *testing.T) {
	codec := newTestCodec(t)
	handler := AccessTokenMiddleware(codec, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("next handler must not run")
	}))

	refresh, err := codec.MintRefresh("acct-1", 0)
	require.NoError(t, err)

	cases := []struct {
		name   string
		header string
	}{
		{name: "missing header", header: ""},
		{name: "not bearer", header: "Basic abc123"},
		{name: "garbage token", header: "Bearer not-a-token"},
		{name: "refresh token presented as access", header: "Bearer " + refresh},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/protected", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			assert.Equal(t, http.StatusUnauthorized, rr.Code)
		})
	}
}

func TestAPIKeyMiddleware(t *testing.T) {
	env := newTestEnv(t)
	env.seedAccount(t, "acct-1", "drsmith", "smith@example.com", roles.Practitioner, "Sup3r$ecret", true)

	cleartext, _, err := env.svc.IssueAPIKey(context.Background(), "acct-1", "reporting", nil)
	require.NoError(t, err)

	var gotAccountID string
	handler := APIKeyMiddleware(env.svc, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAccountID, _ = AccountIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/machine", nil)
	req.Header.Set("X-API-Key", cleartext)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "acct-1", gotAccountID)

	req = httptest.NewRequest(http.MethodGet, "/machine", nil)
	req.Header.Set("X-API-Key", APIKeyPrefix+"neverissued")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/machine", nil)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}
