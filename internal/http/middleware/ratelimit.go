package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/httprate"
	"github.com/tendant/simple-trustgate/internal/config"
	"github.com/tendant/simple-trustgate/internal/httputil"
)

// RateLimitConfig holds rate limiting configuration for a specific endpoint type.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
	Logger   *slog.Logger
	// PerSession keys the limit by authenticated user instead of client IP.
	PerSession bool
}

// RateLimit creates a rate limiter middleware with logging.
func RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	key := httprate.KeyByIP
	if cfg.PerSession {
		key = keyBySession
	}
	return httprate.Limit(
		cfg.Requests,
		cfg.Window,
		httprate.WithKeyFuncs(key),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Logger != nil {
				cfg.Logger.Warn("rate limit exceeded",
					"ip", r.RemoteAddr,
					"path", r.URL.Path,
					"method", r.Method,
					"user_agent", r.UserAgent(),
				)
			}
			httputil.Error(w, http.StatusTooManyRequests, "rate limit exceeded. please try again later")
		}),
	)
}

// keyBySession falls back to the client IP for unauthenticated requests.
func keyBySession(r *http.Request) (string, error) {
	if session, ok := GetSession(r.Context()); ok {
		return "user:" + session.UserID.String(), nil
	}
	return httprate.KeyByIP(r)
}

// NoRateLimit returns a no-op middleware when rate limiting is disabled.
func NoRateLimit() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return next
	}
}

// CreateRateLimiters creates rate limiting middleware functions based on configuration.
// Keys: "challenge" (MFA code submission, per IP), "enroll" and "profile"
// (authenticated, per user).
func CreateRateLimiters(cfg config.RateLimitConfig, logger *slog.Logger) map[string]func(http.Handler) http.Handler {
	if !cfg.Enabled {
		noOp := NoRateLimit()
		return map[string]func(http.Handler) http.Handler{
			"challenge": noOp,
			"enroll":    noOp,
			"profile":   noOp,
		}
	}

	return map[string]func(http.Handler) http.Handler{
		"challenge": RateLimit(RateLimitConfig{
			Requests: cfg.ChallengeRequestsPerMinute,
			Window:   time.Minute,
			Logger:   logger,
		}),
		"enroll": RateLimit(RateLimitConfig{
			Requests:   cfg.EnrollRequestsPerMinute,
			Window:     time.Minute,
			Logger:     logger,
			PerSession: true,
		}),
		"profile": RateLimit(RateLimitConfig{
			Requests:   cfg.ProfileRequestsPerMinute,
			Window:     time.Minute,
			Logger:     logger,
			PerSession: true,
		}),
	}
}
