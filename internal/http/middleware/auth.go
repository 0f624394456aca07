package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/tendant/simple-trustgate/internal/httputil"
	"github.com/tendant/simple-trustgate/pkg/auth"
	"github.com/tendant/simple-trustgate/pkg/domain"
)

type contextKey string

const (
	// SessionKey is the context key for the authenticated session.
	SessionKey contextKey = "session"
	// ClaimsKey is the context key for the access token claims.
	ClaimsKey contextKey = "claims"
)

// ChallengeTokenHeader carries an MFA challenge token for sessions that have
// not completed the second factor yet.
const ChallengeTokenHeader = "X-MFA-Challenge"

// Auth creates middleware that validates JWT access tokens.
// Checks Authorization header first, then falls back to cookie for web clients.
func Auth(tokens *auth.TokenService) func(http.Handler) http.Handler {
	return authenticate(tokens, false)
}

// AuthAllowPending is Auth that also accepts an MFA challenge token from the
// X-MFA-Challenge header. Such requests carry a session with MFAPending set,
// so the gate can route them to the challenge.
func AuthAllowPending(tokens *auth.TokenService) func(http.Handler) http.Handler {
	return authenticate(tokens, true)
}

func authenticate(tokens *auth.TokenService, allowPending bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tokenString := accessToken(r); tokenString != "" {
				claims, err := tokens.ValidateAccessToken(tokenString)
				if err != nil {
					httputil.Error(w, http.StatusUnauthorized, "invalid or expired token")
					return
				}
				session, err := claims.Session()
				if err != nil {
					httputil.Error(w, http.StatusUnauthorized, "invalid token subject")
					return
				}
				ctx := context.WithValue(r.Context(), SessionKey, session)
				ctx = context.WithValue(ctx, ClaimsKey, claims)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			challenge := r.Header.Get(ChallengeTokenHeader)
			if !allowPending || challenge == "" {
				httputil.Error(w, http.StatusUnauthorized, "missing authorization")
				return
			}
			claims, err := tokens.ValidateChallengeToken(challenge, auth.Fingerprint(r))
			if err != nil {
				httputil.Error(w, http.StatusUnauthorized, "invalid or expired challenge")
				return
			}
			session, err := claims.Session()
			if err != nil {
				httputil.Error(w, http.StatusUnauthorized, "invalid token subject")
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), SessionKey, session)))
		})
	}
}

func accessToken(r *http.Request) string {
	// Try Authorization header first (mobile clients and API calls)
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return parts[1]
		}
	}
	// Fall back to cookie (web clients)
	if token, ok := httputil.GetAccessTokenFromCookie(r); ok {
		return token
	}
	return ""
}

// GetSession extracts the session from the request context.
func GetSession(ctx context.Context) (*domain.Session, bool) {
	session, ok := ctx.Value(SessionKey).(*domain.Session)
	return session, ok
}

// GetClaims extracts the access token claims from the request context.
// Pending sessions have no access token claims.
func GetClaims(ctx context.Context) (*auth.AccessTokenClaims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*auth.AccessTokenClaims)
	return claims, ok
}
