// Package moderation records bans and warnings issued by moderators.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-trustgate/pkg/domain"
)

// BanStore persists bans.
type BanStore interface {
	Create(ctx context.Context, ban *domain.Ban) error
	ListByUserID(ctx context.Context, userID uuid.UUID) ([]*domain.Ban, error)
	Lift(ctx context.Context, userID uuid.UUID, at time.Time) (int64, error)
}

// WarningStore persists warnings.
type WarningStore interface {
	Create(ctx context.Context, w *domain.Warning) error
	ListByUserID(ctx context.Context, userID uuid.UUID) ([]*domain.Warning, error)
}

// ErrInvalidDuration is returned for a negative ban duration.
var ErrInvalidDuration = errors.New("ban duration must not be negative")

// Service writes moderation records. Reads for gating live in the gate package.
type Service struct {
	bans     BanStore
	warnings WarningStore
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a new moderation service.
func NewService(bans BanStore, warnings WarningStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{bans: bans, warnings: warnings, logger: logger, now: time.Now}
}

// BanRequest describes a new ban. A zero Duration bans permanently.
type BanRequest struct {
	UserID   uuid.UUID
	BannedBy uuid.UUID
	Reason   string
	Duration time.Duration
}

// Ban records a ban.
func (s *Service) Ban(ctx context.Context, req BanRequest) (*domain.Ban, error) {
	if req.Duration < 0 {
		return nil, ErrInvalidDuration
	}
	reason := SanitizeReason(req.Reason)
	if err := ValidateStringLength("reason", reason, 0, MaxReasonLength); err != nil {
		return nil, err
	}

	now := s.now()
	ban := &domain.Ban{
		ID:       uuid.New(),
		UserID:   req.UserID,
		BannedBy: req.BannedBy,
		BannedAt: now,
	}
	if reason != "" {
		ban.Reason = &reason
	}
	if req.Duration > 0 {
		expires := now.Add(req.Duration)
		ban.ExpiresAt = &expires
	}

	if err := s.bans.Create(ctx, ban); err != nil {
		return nil, err
	}
	s.logger.Info("user banned", "user_id", ban.UserID, "banned_by", ban.BannedBy, "permanent", ban.IsPermanent())
	return ban, nil
}

// Unban lifts every active ban of a user. It returns ErrBanNotFound when
// nothing was lifted.
func (s *Service) Unban(ctx context.Context, userID uuid.UUID) error {
	n, err := s.bans.Lift(ctx, userID, s.now())
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrBanNotFound
	}
	s.logger.Info("user unbanned", "user_id", userID, "bans_lifted", n)
	return nil
}

// WarnRequest describes a new warning.
type WarnRequest struct {
	UserID   uuid.UUID
	WarnedBy uuid.UUID
	Reason   string
	Severity domain.Severity
}

// Warn records a pending warning.
func (s *Service) Warn(ctx context.Context, req WarnRequest) (*domain.Warning, error) {
	if _, err := domain.ParseSeverity(string(req.Severity)); err != nil {
		return nil, err
	}
	reason := SanitizeReason(req.Reason)
	if err := ValidateStringLength("reason", reason, 1, MaxReasonLength); err != nil {
		return nil, err
	}

	w := &domain.Warning{
		ID:        uuid.New(),
		UserID:    req.UserID,
		WarnedBy:  req.WarnedBy,
		Reason:    reason,
		Severity:  req.Severity,
		CreatedAt: s.now(),
	}
	if err := s.warnings.Create(ctx, w); err != nil {
		return nil, err
	}
	s.logger.Info("user warned", "user_id", w.UserID, "warned_by", w.WarnedBy, "severity", w.Severity)
	return w, nil
}

// History is the full moderation record of a user.
type History struct {
	Bans     []*domain.Ban
	Warnings []*domain.Warning
}

// History returns every ban and warning of a user, newest first.
func (s *Service) History(ctx context.Context, userID uuid.UUID) (*History, error) {
	bans, err := s.bans.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list bans: %w", err)
	}
	warnings, err := s.warnings.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list warnings: %w", err)
	}
	return &History{Bans: bans, Warnings: warnings}, nil
}
