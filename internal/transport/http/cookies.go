package httptransport

import (
	"net/http"
	"time"

	"github.com/plecsi/reactom/internal/platform/middleware"
)

// CookiePolicy controls how the token cookies are emitted. Both cookies are
// HTTP-only and SameSite=Lax; Secure is flipped on in production.
type CookiePolicy struct {
	Secure     bool
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

func (p CookiePolicy) set(w http.ResponseWriter, name, value string, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   p.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// setTokenPair emits both session cookies.
func (p CookiePolicy) setTokenPair(w http.ResponseWriter, accessToken, refreshToken string) {
	p.set(w, middleware.CookieAccessToken, accessToken, p.AccessTTL)
	p.set(w, middleware.CookieRefreshToken, refreshToken, p.RefreshTTL)
}

// clearTokenPair expires both session cookies. Clearing must always succeed,
// even when the session was already invalid.
func (p CookiePolicy) clearTokenPair(w http.ResponseWriter) {
	for _, name := range []string{middleware.CookieAccessToken, middleware.CookieRefreshToken} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   p.Secure,
			SameSite: http.SameSiteLaxMode,
		})
	}
}
