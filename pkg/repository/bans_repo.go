package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-trustgate/pkg/domain"
)

// BansRepository handles database operations for user bans
type BansRepository struct {
	db *sql.DB
}

// NewBansRepository creates a new bans repository
func NewBansRepository(db *sql.DB) *BansRepository {
	return &BansRepository{db: db}
}

const banColumns = `id, user_id, banned_by, reason, banned_at, expires_at, unbanned_at`

func scanBan(row interface{ Scan(...any) error }) (*domain.Ban, error) {
	ban := &domain.Ban{}
	err := row.Scan(
		&ban.ID,
		&ban.UserID,
		&ban.BannedBy,
		&ban.Reason,
		&ban.BannedAt,
		&ban.ExpiresAt,
		&ban.UnbannedAt,
	)
	return ban, err
}

// Create inserts a new ban
func (r *BansRepository) Create(ctx context.Context, ban *domain.Ban) error {
	query := `
		INSERT INTO user_bans (id, user_id, banned_by, reason, banned_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.ExecContext(ctx, query,
		ban.ID,
		ban.UserID,
		ban.BannedBy,
		ban.Reason,
		ban.BannedAt,
		ban.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create ban: %w", err)
	}
	return nil
}

// LatestActive returns the most recent ban that is neither lifted nor
// expired at now. Returns domain.ErrBanNotFound when there is none.
func (r *BansRepository) LatestActive(ctx context.Context, userID uuid.UUID, now time.Time) (*domain.Ban, error) {
	query := `
		SELECT ` + banColumns + `
		FROM user_bans
		WHERE user_id = $1
		  AND unbanned_at IS NULL
		  AND (expires_at IS NULL OR expires_at > $2)
		ORDER BY banned_at DESC
		LIMIT 1
	`
	ban, err := scanBan(r.db.QueryRowContext(ctx, query, userID, now))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrBanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active ban: %w", err)
	}
	return ban, nil
}

// ListByUserID returns every ban for a user, newest first.
func (r *BansRepository) ListByUserID(ctx context.Context, userID uuid.UUID) ([]*domain.Ban, error) {
	query := `
		SELECT ` + banColumns + `
		FROM user_bans
		WHERE user_id = $1
		ORDER BY banned_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list bans: %w", err)
	}
	defer rows.Close()

	var bans []*domain.Ban
	for rows.Next() {
		ban, err := scanBan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ban: %w", err)
		}
		bans = append(bans, ban)
	}
	return bans, rows.Err()
}

// Lift sets unbanned_at on every ban of the user that is not yet lifted.
// Returns the number of bans lifted.
func (r *BansRepository) Lift(ctx context.Context, userID uuid.UUID, at time.Time) (int64, error) {
	query := `
		UPDATE user_bans
		SET unbanned_at = $2
		WHERE user_id = $1 AND unbanned_at IS NULL
	`
	result, err := r.db.ExecContext(ctx, query, userID, at)
	if err != nil {
		return 0, fmt.Errorf("failed to lift bans: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows, nil
}
