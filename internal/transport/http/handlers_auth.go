package httptransport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/plecsi/reactom/internal/auth/models"
	"github.com/plecsi/reactom/internal/platform/metrics"
	"github.com/plecsi/reactom/internal/platform/middleware"
	dErrors "github.com/plecsi/reactom/pkg/domain-errors"
)

// AuthService is the slice of the auth service the gateway consumes.
type AuthService interface {
	Login(ctx context.Context, req *models.LoginRequest) (*models.LoginResult, error)
	Refresh(ctx context.Context, refreshToken string) (*models.LoginResult, error)
	Logout(ctx context.Context, refreshToken string)
	SetupTwoFactor(ctx context.Context, userID string) (*models.TwoFactorSetup, error)
	VerifyTwoFactor(ctx context.Context, userID, secret, code string) error
}

// AuthHandler exposes the session gateway endpoints: login, silent refresh,
// logout, and two-factor enrollment.
type AuthHandler struct {
	auth    AuthService
	access  middleware.AccessValidator
	refresh middleware.RefreshInspector
	csrf    middleware.CSRFSource
	cookies CookiePolicy
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewAuthHandler constructs the gateway handler.
func NewAuthHandler(
	auth AuthService,
	access middleware.AccessValidator,
	refresh middleware.RefreshInspector,
	csrf middleware.CSRFSource,
	cookies CookiePolicy,
	logger *slog.Logger,
	m *metrics.Metrics,
) *AuthHandler {
	return &AuthHandler{
		auth:    auth,
		access:  access,
		refresh: refresh,
		csrf:    csrf,
		cookies: cookies,
		logger:  logger,
		metrics: m,
	}
}

// Register wires the auth routes. The two-factor enrollment endpoints
// require an authenticated session and a valid CSRF header; the login,
// refresh, and logout endpoints cannot, by construction, carry either.
func (h *AuthHandler) Register(r chi.Router) {
	r.Post("/auth/login", h.handleLogin)
	r.Post("/auth/silent-refresh", h.handleSilentRefresh)
	r.Post("/auth/logout", h.handleLogout)

	r.Group(func(pr chi.Router) {
		pr.Use(middleware.RequireAuth(h.access, h.logger))
		pr.Use(middleware.CSRFGuard(h.refresh, h.csrf, h.logger))
		pr.Post("/auth/2fa/setup", h.handleTwoFactorSetup)
		pr.Post("/auth/2fa/verify", h.handleTwoFactorVerify)
	})
}

type loginResponse struct {
	CSRFToken string         `json:"csrfToken"`
	User      models.Summary `json:"user"`
}

func (h *AuthHandler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, h.logger, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	res, err := h.auth.Login(r.Context(), &req)
	if err != nil {
		outcome := loginOutcome(err)
		h.metrics.Logins.WithLabelValues(outcome).Inc()
		if outcome == metrics.OutcomeLocked {
			h.metrics.Lockouts.Inc()
		}
		writeError(w, r, h.logger, err)
		return
	}

	if res.TwoFactorRequired {
		// Partial success: the password step passed but no tokens exist yet.
		h.metrics.Logins.WithLabelValues(metrics.OutcomeSecondFactor).Inc()
		writeJSON(w, http.StatusPartialContent, map[string]bool{"twoFactorRequired": true})
		return
	}

	h.metrics.Logins.WithLabelValues(metrics.OutcomeSuccess).Inc()
	h.cookies.setTokenPair(w, res.AccessToken, res.RefreshToken)
	writeJSON(w, http.StatusOK, loginResponse{CSRFToken: res.CSRFToken, User: res.User})
}

type refreshUser struct {
	ID string `json:"id"`
}

type refreshResponse struct {
	CSRFToken string      `json:"csrfToken"`
	User      refreshUser `json:"user"`
}

func (h *AuthHandler) handleSilentRefresh(w http.ResponseWriter, r *http.Request) {
	var refreshToken string
	if cookie, err := r.Cookie(middleware.CookieRefreshToken); err == nil {
		refreshToken = cookie.Value
	}

	res, err := h.auth.Refresh(r.Context(), refreshToken)
	if err != nil {
		h.metrics.SilentRefreshes.WithLabelValues(refreshOutcome(err)).Inc()
		writeError(w, r, h.logger, err)
		return
	}

	h.metrics.SilentRefreshes.WithLabelValues(metrics.OutcomeSuccess).Inc()
	h.cookies.setTokenPair(w, res.AccessToken, res.RefreshToken)
	writeJSON(w, http.StatusOK, refreshResponse{
		CSRFToken: res.CSRFToken,
		User:      refreshUser{ID: res.User.ID},
	})
}

func (h *AuthHandler) handleLogout(w http.ResponseWriter, r *http.Request) {
	var refreshToken string
	if cookie, err := r.Cookie(middleware.CookieRefreshToken); err == nil {
		refreshToken = cookie.Value
	}

	// Revocation is best-effort; cookie clearing happens no matter what.
	h.auth.Logout(r.Context(), refreshToken)
	h.metrics.Logouts.Inc()

	h.cookies.clearTokenPair(w)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func loginOutcome(err error) string {
	switch dErrors.CodeOf(err) {
	case dErrors.CodeTooManyRequests:
		return metrics.OutcomeLocked
	default:
		return metrics.OutcomeInvalid
	}
}

func refreshOutcome(err error) string {
	switch dErrors.CodeOf(err) {
	case dErrors.CodeTokenExpired:
		return metrics.OutcomeTokenExpired
	case dErrors.CodeNoRefreshToken:
		return metrics.OutcomeNoRefreshToken
	default:
		return metrics.OutcomeTokenInvalid
	}
}
