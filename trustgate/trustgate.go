// Package trustgate provides an embeddable access gate: ban and warning
// evaluation, TOTP multi-factor challenges with lockout, and a per-session
// decision stream for UI shells.
//
// Setup:
//
//  1. Run migrations from migrations/ folder using your preferred tool
//  2. Create a Trustgate instance and mount routes
//
// Basic usage:
//
//	db, _ := sql.Open("postgres", "postgres://localhost/myapp?sslmode=disable")
//
//	tg, err := trustgate.New(trustgate.Config{
//	    DB:               db,
//	    JWTSecret:        "your-secret-key-at-least-32-chars",
//	    MFAEncryptionKey: key, // 32 bytes
//	})
//	if err != nil {
//	    log.Fatal(err) // Will fail if migrations haven't been run
//	}
//
//	r := chi.NewRouter()
//	r.Mount("/", tg.Router())
//	r.With(tg.GateMiddleware()).Get("/feed", feedHandler)
//
// After your own primary sign-in succeeds, call StartSession. It returns an
// access token, or a challenge token when the user has MFA enabled.
package trustgate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/tendant/simple-trustgate/internal/config"
	httpserver "github.com/tendant/simple-trustgate/internal/http"
	"github.com/tendant/simple-trustgate/internal/http/middleware"
	"github.com/tendant/simple-trustgate/internal/httputil"
	"github.com/tendant/simple-trustgate/pkg/auth"
	"github.com/tendant/simple-trustgate/pkg/domain"
	"github.com/tendant/simple-trustgate/pkg/gate"
	"github.com/tendant/simple-trustgate/pkg/moderation"
	"github.com/tendant/simple-trustgate/pkg/repository"
)

// Config holds the configuration for the Trustgate library.
type Config struct {
	// DB is the database connection (required).
	DB *sql.DB

	// JWTSecret is the secret key for signing JWT tokens (required, min 32 chars).
	JWTSecret string

	// JWTIssuer is the issuer claim in JWT tokens (default: "trustgate").
	JWTIssuer string

	// AccessTokenTTL is the lifetime of access tokens (default: 15 minutes).
	AccessTokenTTL time.Duration

	// ChallengeTokenTTL is the lifetime of MFA challenge tokens (default: 5 minutes).
	ChallengeTokenTTL time.Duration

	// MFAEncryptionKey seals TOTP secrets at rest (required, 32 bytes).
	MFAEncryptionKey []byte

	// MFAIssuer is shown in authenticator apps (default: "Trustgate").
	MFAIssuer string

	// Lockout is the failed MFA attempt policy (default: 5 attempts per 15 minutes).
	Lockout auth.LockoutPolicy

	// Gate configures polling, timeouts, fail mode and redirect routes.
	Gate gate.Config

	// Notifier pushes trust changes to decision streams (optional).
	// Use repository.NewTrustListener for Postgres LISTEN/NOTIFY.
	Notifier gate.Notifier

	// Cookies configures the access token cookie for web clients.
	Cookies *httputil.CookieConfig

	// RateLimit configures per-endpoint request budgets (default: disabled).
	RateLimit config.RateLimitConfig

	// Logger is the structured logger (default: slog.Default()).
	Logger *slog.Logger
}

// Trustgate is the main access gate instance.
type Trustgate struct {
	config     Config
	db         *sql.DB
	gate       *gate.Gate
	tokens     *auth.TokenService
	mfa        *auth.MFAService
	signIn     *auth.SignInService
	moderation *moderation.Service

	streams     context.Context
	stopStreams context.CancelFunc
}

// New creates a new Trustgate instance with the given configuration.
// Returns an error if required database tables don't exist.
// Run migrations first - see migrations/ folder for SQL files.
func New(cfg Config) (*Trustgate, error) {
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)

	// Validate schema exists
	if err := validateSchema(cfg.DB); err != nil {
		return nil, err
	}

	// Initialize repositories
	bansRepo := repository.NewBansRepository(cfg.DB)
	warningsRepo := repository.NewWarningsRepository(cfg.DB)
	codesRepo := repository.NewMFABackupCodesRepository(cfg.DB)
	factorsRepo := repository.NewMFAFactorsRepository(cfg.DB, codesRepo)
	attemptsRepo := repository.NewMFAAttemptsRepository(cfg.DB)

	// Initialize services
	tokens := auth.NewTokenService(auth.TokenConfig{
		JWTSecret:         []byte(cfg.JWTSecret),
		Issuer:            cfg.JWTIssuer,
		AccessTokenTTL:    cfg.AccessTokenTTL,
		ChallengeTokenTTL: cfg.ChallengeTokenTTL,
	})
	mfaService := auth.NewMFAService(auth.MFAConfig{
		Issuer:        cfg.MFAIssuer,
		EncryptionKey: cfg.MFAEncryptionKey,
		Lockout:       cfg.Lockout,
	}, factorsRepo, codesRepo, attemptsRepo, cfg.Logger)

	streams, stopStreams := context.WithCancel(context.Background())
	return &Trustgate{
		config:      cfg,
		db:          cfg.DB,
		gate:        gate.New(cfg.Gate, bansRepo, warningsRepo, cfg.Logger),
		tokens:      tokens,
		mfa:         mfaService,
		signIn:      auth.NewSignInService(mfaService, tokens),
		moderation:  moderation.NewService(bansRepo, warningsRepo, cfg.Logger),
		streams:     streams,
		stopStreams: stopStreams,
	}, nil
}

// Router returns a chi router with all gate and MFA routes.
//
// Routes:
//
//	GET  /v1/me/gate                          - Decision for ?route= (access or challenge token)
//	GET  /v1/me/gate/stream                   - Websocket decision stream
//	GET  /v1/me/warnings                      - Pending warnings
//	POST /v1/me/warnings/{id}/acknowledge     - Acknowledge a warning
//	GET  /v1/me/mfa/status                    - MFA state, backup codes left, lockout
//	POST /v1/me/mfa/enroll                    - Start TOTP enrollment
//	POST /v1/me/mfa/enroll/confirm            - Confirm with the first code
//	POST /v1/me/mfa/enroll/cancel             - Discard an unfinished enrollment
//	POST /v1/me/mfa/backup-codes              - Regenerate backup codes
//	POST /v1/me/mfa/disable                   - Disable MFA
//	POST /v1/me/mfa/reset                     - Reset MFA with a backup code
//	POST /v1/auth/mfa/challenge               - Exchange a challenge token and code
func (t *Trustgate) Router() chi.Router {
	cookies := httputil.DefaultCookieConfig()
	if t.config.Cookies != nil {
		cookies = *t.config.Cookies
	}

	r := chi.NewRouter()
	r.Mount("/", httpserver.NewRouter(httpserver.RouterConfig{
		Logger:        t.config.Logger,
		Gate:          t.gate,
		Notifier:      t.config.Notifier,
		TokenService:  t.tokens,
		MFAService:    t.mfa,
		SignInService: t.signIn,
		Cookies:       cookies,
		RateLimit:     t.config.RateLimit,
		StreamContext: t.streams,
	}))
	return r
}

// CloseStreams ends every open decision stream with a going-away close
// frame. http.Server.Shutdown does not wait for hijacked connections, so
// register it with the server:
//
//	server.RegisterOnShutdown(tg.CloseStreams)
func (t *Trustgate) CloseStreams() {
	t.stopStreams()
}

// Handler returns an http.Handler for mounting with http.StripPrefix.
// This is useful when using standard library ServeMux:
//
//	mux := http.NewServeMux()
//	mux.Handle("/trust/", http.StripPrefix("/trust", tg.Handler()))
func (t *Trustgate) Handler() http.Handler {
	return t.Router()
}

// Routes registers all routes on an http.ServeMux with the given prefix.
func (t *Trustgate) Routes(mux *http.ServeMux, prefix string) {
	mux.Handle(prefix+"/", http.StripPrefix(prefix, t.Router()))
}

// AuthMiddleware returns middleware that validates access tokens.
func (t *Trustgate) AuthMiddleware() func(http.Handler) http.Handler {
	return middleware.Auth(t.tokens)
}

// GateMiddleware returns middleware that authenticates the request and only
// lets sessions the gate allows through. Refused requests get 403 with the
// decision, or 503 while the trust state is unavailable.
//
//	r.Group(func(r chi.Router) {
//	    r.Use(tg.GateMiddleware())
//	    r.Get("/feed", handler)
//	})
func (t *Trustgate) GateMiddleware() func(http.Handler) http.Handler {
	authMW := middleware.AuthAllowPending(t.tokens)
	trustMW := middleware.RequireTrust(t.gate)
	return func(next http.Handler) http.Handler {
		return authMW(trustMW(next))
	}
}

// StartSession is called after the primary credential of userID has been
// verified. Users with MFA enabled get a challenge token bound to the
// requesting device instead of an access token.
func (t *Trustgate) StartSession(ctx context.Context, r *http.Request, userID uuid.UUID, email string) (*domain.SignInResult, error) {
	return t.signIn.Start(ctx, userID, email, auth.Fingerprint(r))
}

// Decide returns the gate decision for session on route.
func (t *Trustgate) Decide(ctx context.Context, session *domain.Session, route string) domain.Decision {
	return t.gate.Decide(ctx, session, route)
}

// Watch starts a decision watcher for session. Close it on sign-out.
func (t *Trustgate) Watch(ctx context.Context, session domain.Session, route string) *gate.Watcher {
	return t.gate.Watch(ctx, session, route, t.config.Notifier)
}

// Gate returns the session gate for advanced usage.
func (t *Trustgate) Gate() *gate.Gate {
	return t.gate
}

// MFA returns the MFA service for advanced usage.
func (t *Trustgate) MFA() *auth.MFAService {
	return t.mfa
}

// Moderation returns the ban and warning write service.
func (t *Trustgate) Moderation() *moderation.Service {
	return t.moderation
}

// GetSession extracts the session from a request.
// Use after AuthMiddleware or GateMiddleware:
//
//	session, ok := trustgate.GetSession(r)
func GetSession(r *http.Request) (*domain.Session, bool) {
	return middleware.GetSession(r.Context())
}

func validateConfig(cfg *Config) error {
	if cfg.DB == nil {
		return errors.New("trustgate: DB is required")
	}
	if cfg.JWTSecret == "" {
		return errors.New("trustgate: JWTSecret is required")
	}
	if len(cfg.JWTSecret) < 32 {
		return errors.New("trustgate: JWTSecret must be at least 32 characters")
	}
	if len(cfg.MFAEncryptionKey) != 32 {
		return errors.New("trustgate: MFAEncryptionKey must be 32 bytes")
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.JWTIssuer == "" {
		cfg.JWTIssuer = "trustgate"
	}
	if cfg.MFAIssuer == "" {
		cfg.MFAIssuer = "Trustgate"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}
}

// validateSchema checks that required database tables exist.
func validateSchema(db *sql.DB) error {
	requiredTables := []string{
		"user_bans", "user_warnings", "mfa_factors",
		"mfa_backup_codes", "mfa_failed_attempts", "mfa_attempt_resets",
	}

	query := `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = 'public' AND table_name = $1
	`

	for _, table := range requiredTables {
		var name string
		err := db.QueryRow(query, table).Scan(&name)
		if err == sql.ErrNoRows {
			return fmt.Errorf("trustgate: missing table '%s' - run migrations first (see migrations/ folder)", table)
		}
		if err != nil {
			return fmt.Errorf("trustgate: failed to check schema: %w", err)
		}
	}

	return nil
}
