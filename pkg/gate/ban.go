package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-trustgate/internal/metrics"
	"github.com/tendant/simple-trustgate/pkg/domain"
)

// BanStore reads ban records.
type BanStore interface {
	// LatestActive returns the most recent unlifted, unexpired ban, or
	// ErrBanNotFound.
	LatestActive(ctx context.Context, userID uuid.UUID, now time.Time) (*domain.Ban, error)
}

// BanEvaluator derives a user's ban status. It is read-only and safe to
// call on a fixed interval.
type BanEvaluator struct {
	store  BanStore
	cache  *lastKnown[*domain.Ban]
	logger *slog.Logger
	now    func() time.Time
}

// NewBanEvaluator creates a ban evaluator whose last-known state is served
// for at most maxStale after a store failure.
func NewBanEvaluator(store BanStore, maxStale time.Duration, logger *slog.Logger) *BanEvaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &BanEvaluator{
		store:  store,
		cache:  newLastKnown[*domain.Ban](maxStale),
		logger: logger,
		now:    time.Now,
	}
}

// Evaluate returns the ban status of userID. The nil user is never banned.
// On a store failure the last-known record is re-evaluated against the
// current time; without one the error wraps ErrStoreUnavailable.
func (e *BanEvaluator) Evaluate(ctx context.Context, userID uuid.UUID) (domain.BanStatus, error) {
	if userID == uuid.Nil {
		return domain.BanStatus{}, nil
	}

	now := e.now()
	ban, err := e.store.LatestActive(ctx, userID, now)
	if errors.Is(err, domain.ErrBanNotFound) {
		ban, err = nil, nil
	}
	if err == nil {
		e.cache.put(userID, ban, now)
		return domain.BanStatusFrom(ban, now), nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return domain.BanStatus{}, ctxErr
	}

	cached, ok := e.cache.get(userID, now)
	metrics.StoreErrors.WithLabelValues("bans", metrics.BoolLabel(ok)).Inc()
	e.logger.Error("ban lookup failed", "user_id", userID, "served_from_cache", ok, "error", err)
	if !ok {
		return domain.BanStatus{}, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}

	status := domain.BanStatusFrom(cached, now)
	status.Stale = true
	return status, nil
}

// Forget drops the last-known state of userID.
func (e *BanEvaluator) Forget(userID uuid.UUID) {
	e.cache.forget(userID)
}
