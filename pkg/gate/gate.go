// Package gate turns a user's trust state into access decisions.
package gate

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/tendant/simple-trustgate/internal/metrics"
	"github.com/tendant/simple-trustgate/pkg/domain"
)

// Config controls gate timing, failure mode and redirect targets.
type Config struct {
	// PollInterval bounds how long a decision may go without re-evaluation,
	// and how long last-known state may be served after a store failure.
	PollInterval time.Duration
	// EvalTimeout bounds one evaluation. A timed-out evaluation is Pending.
	EvalTimeout time.Duration
	// FailClosed turns store failures into Pending instead of Allow.
	FailClosed bool

	LandingRoute string
	BannedRoute  string
	WarningRoute string
	MFARoute     string
}

// DefaultConfig returns the default gate configuration.
func DefaultConfig() Config {
	return Config{
		PollInterval: 10 * time.Second,
		EvalTimeout:  3 * time.Second,
		LandingRoute: "/",
		BannedRoute:  "/banned",
		WarningRoute: "/warning",
		MFARoute:     "/mfa",
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.EvalTimeout <= 0 {
		c.EvalTimeout = d.EvalTimeout
	}
	if c.LandingRoute == "" {
		c.LandingRoute = d.LandingRoute
	}
	if c.BannedRoute == "" {
		c.BannedRoute = d.BannedRoute
	}
	if c.WarningRoute == "" {
		c.WarningRoute = d.WarningRoute
	}
	if c.MFARoute == "" {
		c.MFARoute = d.MFARoute
	}
	return c
}

// Gate composes the ban and warning evaluators into one decision per
// session and route. Precedence: ban, pending MFA, warnings, allow.
type Gate struct {
	config   Config
	bans     *BanEvaluator
	warnings *WarningEvaluator
	logger   *slog.Logger
}

// New creates a gate over the given stores.
func New(config Config, bans BanStore, warnings WarningStore, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	config = config.withDefaults()
	return &Gate{
		config:   config,
		bans:     NewBanEvaluator(bans, config.PollInterval, logger),
		warnings: NewWarningEvaluator(warnings, config.PollInterval, logger),
		logger:   logger,
	}
}

// Config returns the effective configuration.
func (g *Gate) Config() Config { return g.config }

// Bans returns the ban evaluator.
func (g *Gate) Bans() *BanEvaluator { return g.bans }

// Warnings returns the warning evaluator.
func (g *Gate) Warnings() *WarningEvaluator { return g.warnings }

// Decide produces exactly one decision for session on route. A nil session
// is unauthenticated and always allowed.
func (g *Gate) Decide(ctx context.Context, session *domain.Session, route string) domain.Decision {
	start := time.Now()
	d := g.decide(ctx, session, route)
	metrics.GateEvaluationDuration.Observe(time.Since(start).Seconds())
	metrics.GateDecisions.WithLabelValues(string(d.Kind), metrics.BoolLabel(d.Degraded)).Inc()
	return d
}

func (g *Gate) decide(ctx context.Context, session *domain.Session, route string) domain.Decision {
	if session == nil {
		return g.allow(route, false)
	}

	ctx, cancel := context.WithTimeout(ctx, g.config.EvalTimeout)
	defer cancel()

	degraded := false

	ban, err := g.bans.Evaluate(ctx, session.UserID)
	if err != nil {
		if d, stop := g.failure(ctx, session, "bans", err); stop {
			return d
		}
		degraded = true
	}
	degraded = degraded || ban.Stale
	if ban.IsBanned {
		return domain.Decision{
			Kind:      domain.DecisionRedirectBanned,
			Reason:    ban.Reason,
			ExpiresAt: ban.ExpiresAt,
			Redirect:  redirectUnlessOn(route, g.config.BannedRoute),
			Degraded:  degraded,
		}
	}

	if session.MFAPending {
		return domain.Decision{
			Kind:     domain.DecisionRedirectMFAChallenge,
			Redirect: redirectUnlessOn(route, g.config.MFARoute),
			Degraded: degraded,
		}
	}

	warnings, err := g.warnings.Evaluate(ctx, session.UserID)
	if err != nil {
		if d, stop := g.failure(ctx, session, "warnings", err); stop {
			return d
		}
		degraded = true
	}
	degraded = degraded || warnings.Stale
	if warnings.HasUnacknowledged {
		return domain.Decision{
			Kind:     domain.DecisionRedirectWarning,
			Warning:  warnings.Current(),
			Redirect: redirectUnlessOn(route, g.config.WarningRoute),
			Degraded: degraded,
		}
	}

	return g.allow(route, degraded)
}

// failure handles an evaluator error. It reports stop=true with the
// decision to return, or stop=false to continue as if unrestricted.
func (g *Gate) failure(ctx context.Context, session *domain.Session, store string, err error) (domain.Decision, bool) {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			metrics.GateEvaluationTimeouts.Inc()
			g.logger.Warn("gate evaluation timed out", "user_id", session.UserID, "store", store)
		}
		return domain.Decision{Kind: domain.DecisionPending}, true
	}
	if g.config.FailClosed {
		g.logger.Warn("trust store unavailable, failing closed", "user_id", session.UserID, "store", store)
		return domain.Decision{Kind: domain.DecisionPending, Degraded: true}, true
	}
	g.logger.Warn("trust store unavailable, failing open", "user_id", session.UserID, "store", store)
	return domain.Decision{}, false
}

// allow sends users parked on a sanction page back to the landing route.
func (g *Gate) allow(route string, degraded bool) domain.Decision {
	d := domain.Decision{Kind: domain.DecisionAllow, Degraded: degraded}
	if route == g.config.BannedRoute || route == g.config.WarningRoute {
		d.Redirect = g.config.LandingRoute
	}
	return d
}

func redirectUnlessOn(route, target string) string {
	if route == target {
		return ""
	}
	return target
}
