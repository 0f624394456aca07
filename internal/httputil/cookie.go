package httputil

import (
	"net/http"
	"strings"
	"time"
)

const accessTokenCookie = "access_token"

// CookieConfig controls the access token cookie handed to web clients after
// a passed MFA challenge.
type CookieConfig struct {
	Domain   string
	Path     string
	Secure   bool // Set to true in production (HTTPS)
	SameSite http.SameSite
}

// DefaultCookieConfig returns default cookie configuration.
func DefaultCookieConfig() CookieConfig {
	return CookieConfig{
		Path:     "/",
		SameSite: http.SameSiteLaxMode,
	}
}

// ParseSameSite maps "strict", "lax" or "none" to its mode. Anything else
// falls back to lax.
func ParseSameSite(s string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

// SetAccessTokenCookie sets the HttpOnly access token cookie. The cookie
// lives exactly as long as the token.
func SetAccessTokenCookie(w http.ResponseWriter, token string, ttl time.Duration, cfg CookieConfig) {
	// Browsers reject SameSite=None without Secure.
	secure := cfg.Secure || cfg.SameSite == http.SameSiteNoneMode
	http.SetCookie(w, &http.Cookie{
		Name:     accessTokenCookie,
		Value:    token,
		Path:     cfg.Path,
		Domain:   cfg.Domain,
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: cfg.SameSite,
	})
}

// GetAccessTokenFromCookie returns the access token cookie, treating an
// empty value as absent.
func GetAccessTokenFromCookie(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(accessTokenCookie)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	return cookie.Value, true
}

// IsMobileClient reports whether the caller identified itself with
// X-Client-Type: mobile. Mobile clients get tokens in the body only.
func IsMobileClient(r *http.Request) bool {
	return r.Header.Get("X-Client-Type") == "mobile"
}
