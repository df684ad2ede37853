package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"

	"practicecore/internal/observability"
)

const maxJSONBodyBytes = 1 << 20

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type resetRequestBody struct {
	Email string `json:"email"`
}

type resetConfirmBody struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

type createAPIKeyRequest struct {
	Label         string `json:"label"`
	ExpiresInDays int    `json:"expires_in_days"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	result, err := h.service.Login(r.Context(), body.Identifier, body.Password, body.RememberMe, requestMeta(r))
	if err != nil {
		h.writeLoginError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) writeLoginError(w http.ResponseWriter, err error) {
	var lockedErr AccountLockedError
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid credentials")
	case errors.As(err, &lockedErr):
		retryAfter := int(time.Until(lockedErr.Until).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		writeError(w, http.StatusTooManyRequests, lockedErr.Error())
	case errors.Is(err, ErrAccountInactive):
		writeError(w, http.StatusForbidden, "account is inactive")
	default:
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to login")
	}
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var body refreshRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	pair, err := h.service.Refresh(r.Context(), body.RefreshToken, requestMeta(r))
	if err != nil {
		if isRefreshRejection(err) {
			writeError(w, http.StatusUnauthorized, "invalid refresh token")
			return
		}
		if errors.Is(err, ErrAccountInactive) {
			writeError(w, http.StatusForbidden, "account is inactive")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to refresh token")
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	var body logoutRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	if err := h.service.Logout(r.Context(), body.RefreshToken, requestMeta(r)); err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to logout")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var body resetRequestBody
	if !decodeJSON(w, r, &body) {
		return
	}

	if err := h.service.RequestPasswordReset(r.Context(), body.Email); err != nil {
		sentry.CaptureException(err)
	}
	// Same response whether or not the email matched an account.
	writeJSON(w, http.StatusAccepted, map[string]string{
		"message": "if the address is registered, a reset message has been sent",
	})
}

func (h *Handler) ConfirmPasswordReset(w http.ResponseWriter, r *http.Request) {
	var body resetConfirmBody
	if !decodeJSON(w, r, &body) {
		return
	}

	err := h.service.ResetPassword(r.Context(), body.Token, body.NewPassword)
	if err != nil {
		var weakErr WeakPasswordError
		switch {
		case errors.As(err, &weakErr):
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":      "password too weak",
				"violations": weakErr.Violations,
			})
		case errors.Is(err, ErrResetTokenInvalid):
			writeError(w, http.StatusBadRequest, "invalid or expired reset token")
		default:
			sentry.CaptureException(err)
			writeError(w, http.StatusInternalServerError, "failed to reset password")
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	accountID, ok := AccountIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing authentication")
		return
	}

	var body createAPIKeyRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.Label) == "" {
		writeError(w, http.StatusBadRequest, "label is required")
		return
	}

	var expiresAt *time.Time
	if body.ExpiresInDays > 0 {
		value := time.Now().UTC().Add(time.Duration(body.ExpiresInDays) * 24 * time.Hour)
		expiresAt = &value
	}

	cleartext, summary, err := h.service.IssueAPIKey(r.Context(), accountID, body.Label, expiresAt)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to create api key")
		return
	}

	// The full key is disclosed exactly once, here.
	writeJSON(w, http.StatusCreated, map[string]any{
		"key":    cleartext,
		"record": summary,
	})
}

// Introspect tells an authenticated caller who it is. Machine callers use it
// to verify a key before doing real work.
func (h *Handler) Introspect(w http.ResponseWriter, r *http.Request) {
	accountID, ok := AccountIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing authentication")
		return
	}
	role, _ := RoleFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"account_id": accountID,
		"role":       role,
	})
}

func (h *Handler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	accountID, ok := AccountIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing authentication")
		return
	}

	summaries, err := h.service.ListAPIKeys(r.Context(), accountID)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to list api keys")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"api_keys": summaries})
}

func (h *Handler) RevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	accountID, ok := AccountIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing authentication")
		return
	}

	keyID := strings.TrimSpace(r.PathValue("id"))
	if keyID == "" {
		writeError(w, http.StatusBadRequest, "key id is required")
		return
	}

	if err := h.service.RevokeAPIKey(r.Context(), keyID, accountID); err != nil {
		if errors.Is(err, ErrAPIKeyNotFound) {
			writeError(w, http.StatusNotFound, "api key not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to revoke api key")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func isRefreshRejection(err error) bool {
	return errors.Is(err, ErrRefreshNotFound) ||
		errors.Is(err, ErrRefreshRevoked) ||
		errors.Is(err, ErrRefreshExpired) ||
		isTokenRejection(err)
}

func requestMeta(r *http.Request) RequestContext {
	return RequestContext{
		IP:        observability.ClientIP(r),
		UserAgent: r.UserAgent(),
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, into any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
