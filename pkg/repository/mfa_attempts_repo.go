package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MFAAttemptsRepository is the append-only failed MFA attempt log.
type MFAAttemptsRepository struct {
	db *sql.DB
}

// NewMFAAttemptsRepository creates a new failed-attempt log repository
func NewMFAAttemptsRepository(db *sql.DB) *MFAAttemptsRepository {
	return &MFAAttemptsRepository{db: db}
}

// Record appends a failed attempt
func (r *MFAAttemptsRepository) Record(ctx context.Context, userID uuid.UUID, at time.Time) error {
	query := `INSERT INTO mfa_failed_attempts (user_id, attempted_at) VALUES ($1, $2)`
	if _, err := r.db.ExecContext(ctx, query, userID, at); err != nil {
		return fmt.Errorf("failed to record MFA attempt: %w", err)
	}
	return nil
}

// MarkReset makes attempts at or before at ignored by ListSince.
func (r *MFAAttemptsRepository) MarkReset(ctx context.Context, userID uuid.UUID, at time.Time) error {
	query := `
		INSERT INTO mfa_attempt_resets (user_id, reset_at) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET reset_at = GREATEST(mfa_attempt_resets.reset_at, EXCLUDED.reset_at)
	`
	if _, err := r.db.ExecContext(ctx, query, userID, at); err != nil {
		return fmt.Errorf("failed to reset MFA attempts: %w", err)
	}
	return nil
}

// ListSince returns attempt timestamps after since and after the user's
// last reset, newest first.
func (r *MFAAttemptsRepository) ListSince(ctx context.Context, userID uuid.UUID, since time.Time) ([]time.Time, error) {
	query := `
		SELECT attempted_at
		FROM mfa_failed_attempts
		WHERE user_id = $1
		  AND attempted_at > $2
		  AND attempted_at > COALESCE(
		      (SELECT reset_at FROM mfa_attempt_resets WHERE user_id = $1), '-infinity'::timestamptz)
		ORDER BY attempted_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query, userID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list MFA attempts: %w", err)
	}
	defer rows.Close()

	var attempts []time.Time
	for rows.Next() {
		var at time.Time
		if err := rows.Scan(&at); err != nil {
			return nil, fmt.Errorf("failed to scan MFA attempt: %w", err)
		}
		attempts = append(attempts, at)
	}
	return attempts, rows.Err()
}
