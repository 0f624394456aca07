package gate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-trustgate/internal/metrics"
	"github.com/tendant/simple-trustgate/pkg/domain"
)

// WarningStore reads and acknowledges warning records.
type WarningStore interface {
	// ListUnacknowledged returns pending warnings, newest first.
	ListUnacknowledged(ctx context.Context, userID uuid.UUID) ([]*domain.Warning, error)
	// Acknowledge sets acknowledged_at on one pending warning owned by
	// userID. It reports false when nothing changed.
	Acknowledge(ctx context.Context, userID, warningID uuid.UUID, at time.Time) (bool, error)
}

// WarningEvaluator derives whether a user has warnings left to acknowledge.
type WarningEvaluator struct {
	store  WarningStore
	cache  *lastKnown[[]*domain.Warning]
	logger *slog.Logger
	now    func() time.Time
}

// NewWarningEvaluator creates a warning evaluator whose last-known state is
// served for at most maxStale after a store failure.
func NewWarningEvaluator(store WarningStore, maxStale time.Duration, logger *slog.Logger) *WarningEvaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &WarningEvaluator{
		store:  store,
		cache:  newLastKnown[[]*domain.Warning](maxStale),
		logger: logger,
		now:    time.Now,
	}
}

// Evaluate returns the pending warnings of userID in creation-descending order.
func (e *WarningEvaluator) Evaluate(ctx context.Context, userID uuid.UUID) (domain.WarningStatus, error) {
	if userID == uuid.Nil {
		return domain.WarningStatus{}, nil
	}

	now := e.now()
	warnings, err := e.store.ListUnacknowledged(ctx, userID)
	if err == nil {
		e.cache.put(userID, warnings, now)
		return warningStatus(warnings, false), nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return domain.WarningStatus{}, ctxErr
	}

	cached, ok := e.cache.get(userID, now)
	metrics.StoreErrors.WithLabelValues("warnings", metrics.BoolLabel(ok)).Inc()
	e.logger.Error("warning lookup failed", "user_id", userID, "served_from_cache", ok, "error", err)
	if !ok {
		return domain.WarningStatus{}, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	return warningStatus(cached, true), nil
}

// Acknowledge records the user's acknowledgement of one warning.
// Acknowledging an unknown, foreign or already acknowledged warning is a no-op.
func (e *WarningEvaluator) Acknowledge(ctx context.Context, userID, warningID uuid.UUID) error {
	changed, err := e.store.Acknowledge(ctx, userID, warningID, e.now())
	if err != nil {
		e.logger.Error("warning acknowledge failed", "user_id", userID, "warning_id", warningID, "error", err)
		return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	e.cache.forget(userID)
	if !changed {
		e.logger.Debug("warning already acknowledged or not found", "user_id", userID, "warning_id", warningID)
		return nil
	}
	e.logger.Info("warning acknowledged", "user_id", userID, "warning_id", warningID)
	return nil
}

// Forget drops the last-known state of userID.
func (e *WarningEvaluator) Forget(userID uuid.UUID) {
	e.cache.forget(userID)
}

func warningStatus(warnings []*domain.Warning, stale bool) domain.WarningStatus {
	if warnings == nil {
		warnings = []*domain.Warning{}
	}
	return domain.WarningStatus{
		HasUnacknowledged: len(warnings) > 0,
		Warnings:          warnings,
		Stale:             stale,
	}
}
