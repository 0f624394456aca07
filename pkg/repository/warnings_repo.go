package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-trustgate/pkg/domain"
)

// WarningsRepository handles database operations for user warnings
type WarningsRepository struct {
	db *sql.DB
}

// NewWarningsRepository creates a new warnings repository
func NewWarningsRepository(db *sql.DB) *WarningsRepository {
	return &WarningsRepository{db: db}
}

// Create inserts a new warning
func (r *WarningsRepository) Create(ctx context.Context, w *domain.Warning) error {
	query := `
		INSERT INTO user_warnings (id, user_id, warned_by, reason, severity, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.ExecContext(ctx, query,
		w.ID,
		w.UserID,
		w.WarnedBy,
		w.Reason,
		w.Severity,
		w.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create warning: %w", err)
	}
	return nil
}

// ListUnacknowledged returns the user's pending warnings, newest first.
func (r *WarningsRepository) ListUnacknowledged(ctx context.Context, userID uuid.UUID) ([]*domain.Warning, error) {
	return r.list(ctx, `
		SELECT id, user_id, warned_by, reason, severity, created_at, acknowledged_at
		FROM user_warnings
		WHERE user_id = $1 AND acknowledged_at IS NULL
		ORDER BY created_at DESC
	`, userID)
}

// ListByUserID returns all warnings of a user, newest first.
func (r *WarningsRepository) ListByUserID(ctx context.Context, userID uuid.UUID) ([]*domain.Warning, error) {
	return r.list(ctx, `
		SELECT id, user_id, warned_by, reason, severity, created_at, acknowledged_at
		FROM user_warnings
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
}

func (r *WarningsRepository) list(ctx context.Context, query string, userID uuid.UUID) ([]*domain.Warning, error) {
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list warnings: %w", err)
	}
	defer rows.Close()

	var warnings []*domain.Warning
	for rows.Next() {
		w := &domain.Warning{}
		if err := rows.Scan(
			&w.ID,
			&w.UserID,
			&w.WarnedBy,
			&w.Reason,
			&w.Severity,
			&w.CreatedAt,
			&w.AcknowledgedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan warning: %w", err)
		}
		warnings = append(warnings, w)
	}
	return warnings, rows.Err()
}

// Acknowledge sets acknowledged_at on one pending warning owned by userID.
// Returns false when nothing changed (unknown id, other owner, or already
// acknowledged).
func (r *WarningsRepository) Acknowledge(ctx context.Context, userID, warningID uuid.UUID, at time.Time) (bool, error) {
	query := `
		UPDATE user_warnings
		SET acknowledged_at = $3
		WHERE id = $1 AND user_id = $2 AND acknowledged_at IS NULL
	`
	result, err := r.db.ExecContext(ctx, query, warningID, userID, at)
	if err != nil {
		return false, fmt.Errorf("failed to acknowledge warning: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}
