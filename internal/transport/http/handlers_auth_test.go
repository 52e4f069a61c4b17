package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plecsi/reactom/internal/auth/models"
	"github.com/plecsi/reactom/internal/auth/service"
	"github.com/plecsi/reactom/internal/auth/store/lockout"
	refreshtoken "github.com/plecsi/reactom/internal/auth/store/refresh-token"
	userstore "github.com/plecsi/reactom/internal/auth/store/user"
	"github.com/plecsi/reactom/internal/auth/totp"
	jwttoken "github.com/plecsi/reactom/internal/jwt_token"
	"github.com/plecsi/reactom/internal/platform/metrics"
	"github.com/plecsi/reactom/internal/platform/middleware"
)

type gatewayEnv struct {
	router http.Handler
	svc    *service.Service
	users  *userstore.InMemoryStore
	user   *models.User
}

func newGatewayEnv(t *testing.T) *gatewayEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New(prometheus.NewRegistry())

	users := userstore.NewMemory()
	refresh := refreshtoken.NewMemory()
	tokens := jwttoken.NewService("test-access-key", "test-refresh-key", 15*time.Minute, 7*24*time.Hour, "reactom-test")

	svc := service.New(users, refresh, tokens, totp.NewManager("Reactom"), lockout.New(5, 5*time.Minute), logger, 2)

	user, err := svc.Register(context.Background(), "plecsi", "Plecsi", "kecske")
	require.NoError(t, err)

	handler := NewAuthHandler(svc, tokens, tokens, refresh, CookiePolicy{
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
	}, logger, m)

	return &gatewayEnv{
		router: NewRouter(handler, logger, m),
		svc:    svc,
		users:  users,
		user:   user,
	}
}

func (e *gatewayEnv) post(t *testing.T, path string, body any, prepare func(*http.Request)) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	if prepare != nil {
		prepare(req)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w.Result()
}

func decode(t *testing.T, res *http.Response) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	return body
}

func cookieByName(res *http.Response, name string) *http.Cookie {
	for _, c := range res.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func (e *gatewayEnv) login(t *testing.T, body map[string]string) *http.Response {
	t.Helper()
	return e.post(t, "/auth/login", body, nil)
}

func TestLogin_SuccessSetsCookies(t *testing.T) {
	env := newGatewayEnv(t)

	res := env.login(t, map[string]string{"username": "plecsi", "password": "kecske"})
	require.Equal(t, http.StatusOK, res.StatusCode)

	body := decode(t, res)
	assert.NotEmpty(t, body["csrfToken"])
	user := body["user"].(map[string]any)
	assert.Equal(t, env.user.ID, user["id"])
	assert.Equal(t, "Plecsi", user["name"])
	assert.Equal(t, false, user["twoFactorEnabled"])

	access := cookieByName(res, middleware.CookieAccessToken)
	require.NotNil(t, access)
	assert.True(t, access.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, access.SameSite)
	assert.Equal(t, int((15 * time.Minute).Seconds()), access.MaxAge)

	refresh := cookieByName(res, middleware.CookieRefreshToken)
	require.NotNil(t, refresh)
	assert.True(t, refresh.HttpOnly)
	assert.Equal(t, int((7 * 24 * time.Hour).Seconds()), refresh.MaxAge)
}

func TestLogin_WrongPassword(t *testing.T) {
	env := newGatewayEnv(t)

	res := env.login(t, map[string]string{"username": "plecsi", "password": "wrong"})
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "Invalid credentials", decode(t, res)["message"])
	assert.Empty(t, res.Cookies())
}

func TestLogin_UnknownUserSameMessage(t *testing.T) {
	env := newGatewayEnv(t)

	res := env.login(t, map[string]string{"username": "ghost", "password": "wrong"})
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "Invalid credentials", decode(t, res)["message"])
}

func enableTwoFactor(t *testing.T, env *gatewayEnv) string {
	t.Helper()
	ctx := context.Background()
	setup, err := env.svc.SetupTwoFactor(ctx, env.user.ID)
	require.NoError(t, err)
	code, err := totp.CodeAt(setup.SecretBase32, time.Now())
	require.NoError(t, err)
	require.NoError(t, env.svc.VerifyTwoFactor(ctx, env.user.ID, setup.SecretBase32, code))
	return setup.SecretBase32
}

func TestLogin_TwoFactorPartialSuccess(t *testing.T) {
	env := newGatewayEnv(t)
	enableTwoFactor(t, env)

	res := env.login(t, map[string]string{"username": "plecsi", "password": "kecske"})
	require.Equal(t, http.StatusPartialContent, res.StatusCode)
	assert.Equal(t, true, decode(t, res)["twoFactorRequired"])
	// Partial success must not issue cookies.
	assert.Empty(t, res.Cookies())
}

func TestLogin_TwoFactorFullFlow(t *testing.T) {
	env := newGatewayEnv(t)
	secret := enableTwoFactor(t, env)

	code, err := totp.CodeAt(secret, time.Now())
	require.NoError(t, err)

	res := env.login(t, map[string]string{"username": "plecsi", "password": "kecske", "totp": code})
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.NotNil(t, cookieByName(res, middleware.CookieAccessToken))

	res = env.login(t, map[string]string{"username": "plecsi", "password": "kecske", "totp": "000000"})
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "Invalid TOTP", decode(t, res)["message"])
}

func TestSilentRefresh_NoCookie(t *testing.T) {
	env := newGatewayEnv(t)

	res := env.post(t, "/auth/silent-refresh", nil, nil)
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "No refresh token", decode(t, res)["message"])
}

func TestSilentRefresh_RotatesSession(t *testing.T) {
	env := newGatewayEnv(t)

	loginRes := env.login(t, map[string]string{"username": "plecsi", "password": "kecske"})
	require.Equal(t, http.StatusOK, loginRes.StatusCode)
	loginCSRF := decode(t, loginRes)["csrfToken"].(string)
	refreshCookie := cookieByName(loginRes, middleware.CookieRefreshToken)
	require.NotNil(t, refreshCookie)

	res := env.post(t, "/auth/silent-refresh", nil, func(r *http.Request) {
		r.AddCookie(refreshCookie)
	})
	require.Equal(t, http.StatusOK, res.StatusCode)

	body := decode(t, res)
	assert.NotEmpty(t, body["csrfToken"])
	assert.NotEqual(t, loginCSRF, body["csrfToken"])
	assert.Equal(t, env.user.ID, body["user"].(map[string]any)["id"])

	rotated := cookieByName(res, middleware.CookieRefreshToken)
	require.NotNil(t, rotated)
	assert.NotEqual(t, refreshCookie.Value, rotated.Value)

	// The rotated-away cookie is now dead.
	res = env.post(t, "/auth/silent-refresh", nil, func(r *http.Request) {
		r.AddCookie(refreshCookie)
	})
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestSilentRefresh_TamperedToken(t *testing.T) {
	env := newGatewayEnv(t)

	res := env.post(t, "/auth/silent-refresh", nil, func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: middleware.CookieRefreshToken, Value: "tampered.token.value"})
	})
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestLogout_AlwaysClearsCookies(t *testing.T) {
	env := newGatewayEnv(t)

	// Even with no session at all, logout succeeds and clears cookies.
	res := env.post(t, "/auth/logout", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, true, decode(t, res)["ok"])

	for _, name := range []string{middleware.CookieAccessToken, middleware.CookieRefreshToken} {
		c := cookieByName(res, name)
		require.NotNil(t, c, "cookie %s must be cleared", name)
		assert.Less(t, c.MaxAge, 0)
		assert.Empty(t, c.Value)
	}
}

func TestLogout_RevokesRefreshToken(t *testing.T) {
	env := newGatewayEnv(t)

	loginRes := env.login(t, map[string]string{"username": "plecsi", "password": "kecske"})
	refreshCookie := cookieByName(loginRes, middleware.CookieRefreshToken)
	require.NotNil(t, refreshCookie)

	res := env.post(t, "/auth/logout", nil, func(r *http.Request) {
		r.AddCookie(refreshCookie)
	})
	require.Equal(t, http.StatusOK, res.StatusCode)

	res = env.post(t, "/auth/silent-refresh", nil, func(r *http.Request) {
		r.AddCookie(refreshCookie)
	})
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

// authedSession logs in and returns everything needed for protected calls.
func authedSession(t *testing.T, env *gatewayEnv) (cookies []*http.Cookie, csrf string) {
	t.Helper()
	res := env.login(t, map[string]string{"username": "plecsi", "password": "kecske"})
	require.Equal(t, http.StatusOK, res.StatusCode)
	return res.Cookies(), decode(t, res)["csrfToken"].(string)
}

func TestTwoFactorSetup_RequiresAuth(t *testing.T) {
	env := newGatewayEnv(t)

	res := env.post(t, "/auth/2fa/setup", map[string]string{"userId": env.user.ID}, nil)
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestTwoFactorSetup_RequiresCSRF(t *testing.T) {
	env := newGatewayEnv(t)
	cookies, _ := authedSession(t, env)

	res := env.post(t, "/auth/2fa/setup", map[string]string{"userId": env.user.ID}, func(r *http.Request) {
		for _, c := range cookies {
			r.AddCookie(c)
		}
		r.Header.Set(middleware.HeaderCSRFToken, "wrong")
	})
	require.Equal(t, http.StatusForbidden, res.StatusCode)
}

func TestTwoFactorEnrollmentRoundTrip(t *testing.T) {
	env := newGatewayEnv(t)
	cookies, csrf := authedSession(t, env)

	withSession := func(r *http.Request) {
		for _, c := range cookies {
			r.AddCookie(c)
		}
		r.Header.Set(middleware.HeaderCSRFToken, csrf)
	}

	res := env.post(t, "/auth/2fa/setup", map[string]string{"userId": env.user.ID}, withSession)
	require.Equal(t, http.StatusOK, res.StatusCode)
	setup := decode(t, res)
	secret := setup["secretBase32"].(string)
	require.NotEmpty(t, secret)
	assert.Contains(t, setup["qrDataUrl"].(string), "data:image/png;base64,")

	// Wrong code leaves the record unchanged.
	res = env.post(t, "/auth/2fa/verify", map[string]string{
		"userId": env.user.ID, "secret": secret, "token": "000000",
	}, withSession)
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
	stored, err := env.users.FindByID(context.Background(), env.user.ID)
	require.NoError(t, err)
	assert.False(t, stored.TwoFactorEnabled)

	// Correct code activates 2FA and persists the secret.
	code, err := totp.CodeAt(secret, time.Now())
	require.NoError(t, err)
	res = env.post(t, "/auth/2fa/verify", map[string]string{
		"userId": env.user.ID, "secret": secret, "token": code,
	}, withSession)
	require.Equal(t, http.StatusOK, res.StatusCode)

	stored, err = env.users.FindByID(context.Background(), env.user.ID)
	require.NoError(t, err)
	assert.True(t, stored.TwoFactorEnabled)
	assert.Equal(t, secret, stored.TOTPSecret)
}

func TestTwoFactorSetup_RejectsForeignUserID(t *testing.T) {
	env := newGatewayEnv(t)
	cookies, csrf := authedSession(t, env)

	res := env.post(t, "/auth/2fa/setup", map[string]string{"userId": "someone-else"}, func(r *http.Request) {
		for _, c := range cookies {
			r.AddCookie(c)
		}
		r.Header.Set(middleware.HeaderCSRFToken, csrf)
	})
	require.Equal(t, http.StatusForbidden, res.StatusCode)
}
