package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tendant/simple-trustgate/internal/config"
	"github.com/tendant/simple-trustgate/internal/http/features/mfa"
	"github.com/tendant/simple-trustgate/internal/http/features/trust"
	"github.com/tendant/simple-trustgate/internal/http/middleware"
	"github.com/tendant/simple-trustgate/internal/httputil"
	"github.com/tendant/simple-trustgate/pkg/auth"
	"github.com/tendant/simple-trustgate/pkg/gate"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Logger             *slog.Logger
	Gate               *gate.Gate
	Notifier           gate.Notifier // nil disables push; streams poll
	TokenService       *auth.TokenService
	MFAService         mfa.Service
	SignInService      mfa.SignIn
	Cookies            httputil.CookieConfig
	RateLimit          config.RateLimitConfig
	SecurityHeaders    config.SecurityHeadersConfig
	MaxRequestBodySize int64
	// ServeMetrics mounts the Prometheus handler on /metrics.
	ServeMetrics bool
	// StreamContext, when set, closes open decision streams once done.
	StreamContext context.Context
}

// NewRouter creates a new HTTP router with all routes registered.
func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	r := chi.NewRouter()

	// Apply global middleware
	r.Use(chimw.RequestID)
	r.Use(middleware.Recover(cfg.Logger))
	r.Use(middleware.Logging(cfg.Logger))
	r.Use(middleware.SecurityHeaders(cfg.SecurityHeaders))
	r.Use(middleware.RequestSizeLimit(cfg.MaxRequestBodySize))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.ServeMetrics {
		r.Handle("/metrics", promhttp.Handler())
	}

	rateLimiters := middleware.CreateRateLimiters(cfg.RateLimit, cfg.Logger)

	// Gate decisions accept sessions that still owe an MFA challenge.
	trustHandler := trust.NewHandler(cfg.Logger, cfg.Gate, cfg.Notifier)
	if cfg.StreamContext != nil {
		trustHandler.SetStreamContext(cfg.StreamContext)
	}
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthAllowPending(cfg.TokenService))
		r.Use(rateLimiters["profile"])
		r.Get("/v1/me/gate", trustHandler.Gate)
		r.Get("/v1/me/gate/stream", trustHandler.Stream)
	})
	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(cfg.TokenService))
		r.Use(rateLimiters["profile"])
		r.Get("/v1/me/warnings", trustHandler.Warnings)
		r.Post("/v1/me/warnings/{id}/acknowledge", trustHandler.Acknowledge)
	})

	// MFA routes (if MFA service is configured)
	if cfg.MFAService != nil {
		mfaHandler := mfa.NewHandler(cfg.Logger, cfg.MFAService, cfg.SignInService, cfg.Cookies)

		// Authenticated MFA management. Banned users cannot change factors.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.TokenService))
			r.Use(rateLimiters["enroll"])
			r.Get("/v1/me/mfa/status", mfaHandler.Status)
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireTrust(cfg.Gate))
				r.Post("/v1/me/mfa/enroll", mfaHandler.Enroll)
				r.Post("/v1/me/mfa/enroll/confirm", mfaHandler.ConfirmEnroll)
				r.Post("/v1/me/mfa/enroll/cancel", mfaHandler.CancelEnroll)
				r.Post("/v1/me/mfa/backup-codes", mfaHandler.RegenerateBackupCodes)
				r.Post("/v1/me/mfa/disable", mfaHandler.Disable)
				r.Post("/v1/me/mfa/reset", mfaHandler.Reset)
			})
		})

		// Unauthenticated MFA challenge
		if cfg.SignInService != nil {
			r.Group(func(r chi.Router) {
				r.Use(rateLimiters["challenge"])
				r.Post("/v1/auth/mfa/challenge", mfaHandler.Challenge)
			})
		}
	}

	return r
}
