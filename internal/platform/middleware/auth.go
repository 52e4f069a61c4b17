package middleware

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
)

// AccessValidator validates an access token and yields the user it asserts.
type AccessValidator interface {
	VerifyAccess(token string) (userID string, err error)
}

// CSRFSource resolves the CSRF token issued for the session identified by a
// refresh-token JTI.
type CSRFSource interface {
	FindCSRF(ctx context.Context, jti string) (string, error)
}

// RefreshInspector extracts the JTI from a refresh token without consuming
// it. The CSRF guard uses it to locate the session's expected token.
type RefreshInspector interface {
	InspectRefresh(token string) (jti string, err error)
}

type contextKeyUserID struct{}

// ContextKeyUserID is exported for use in handlers and tests.
var ContextKeyUserID = contextKeyUserID{}

// GetUserID retrieves the authenticated user ID from the context.
func GetUserID(ctx context.Context) string {
	userID, ok := ctx.Value(ContextKeyUserID).(string)
	if !ok {
		return ""
	}
	return userID
}

// CookieAccessToken is the cookie carrying the short-lived access token.
const CookieAccessToken = "accessToken"

// CookieRefreshToken is the cookie carrying the long-lived refresh token.
const CookieRefreshToken = "refreshToken"

// HeaderCSRFToken must accompany state-mutating requests.
const HeaderCSRFToken = "x-csrf-token"

// RequireAuth rejects requests without a valid access-token cookie and puts
// the asserted user ID on the context.
func RequireAuth(validator AccessValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(CookieAccessToken)
			if err != nil || cookie.Value == "" {
				unauthorized(w, r, logger, "missing access token")
				return
			}
			userID, err := validator.VerifyAccess(cookie.Value)
			if err != nil {
				unauthorized(w, r, logger, "invalid access token")
				return
			}
			ctx := context.WithValue(r.Context(), ContextKeyUserID, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CSRFGuard enforces the double-submit check on state-mutating requests: the
// x-csrf-token header must equal the token issued with the session's current
// refresh token. Safe methods pass through untouched. The guard defends
// against cross-site request forgery, not token theft; without a valid
// cookie pair the CSRF token is meaningless and RequireAuth rejects first.
func CSRFGuard(inspector RefreshInspector, source CSRFSource, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get(HeaderCSRFToken)
			cookie, err := r.Cookie(CookieRefreshToken)
			if header == "" || err != nil || cookie.Value == "" {
				forbidden(w, r, logger, "missing csrf token")
				return
			}

			jti, err := inspector.InspectRefresh(cookie.Value)
			if err != nil {
				forbidden(w, r, logger, "unresolvable session")
				return
			}
			expected, err := source.FindCSRF(r.Context(), jti)
			if err != nil || subtle.ConstantTimeCompare([]byte(expected), []byte(header)) != 1 {
				forbidden(w, r, logger, "csrf token mismatch")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter, r *http.Request, logger *slog.Logger, reason string) {
	logger.WarnContext(r.Context(), "unauthorized",
		"reason", reason,
		"path", r.URL.Path,
		"request_id", GetRequestID(r.Context()),
	)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"message":"Not authenticated"}`))
}

func forbidden(w http.ResponseWriter, r *http.Request, logger *slog.Logger, reason string) {
	logger.WarnContext(r.Context(), "forbidden",
		"reason", reason,
		"path", r.URL.Path,
		"request_id", GetRequestID(r.Context()),
	)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_, _ = w.Write([]byte(`{"message":"Invalid CSRF token"}`))
}
