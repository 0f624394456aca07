package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-trustgate/pkg/domain"
)

// MFABackupCodesRepository handles database operations for MFA backup codes
type MFABackupCodesRepository struct {
	db *sql.DB
}

// NewMFABackupCodesRepository creates a new MFA backup codes repository
func NewMFABackupCodesRepository(db *sql.DB) *MFABackupCodesRepository {
	return &MFABackupCodesRepository{db: db}
}

// CreateBatchTx inserts codes using q
func (r *MFABackupCodesRepository) CreateBatchTx(ctx context.Context, q Querier, codes []*domain.BackupCode) error {
	query := `
		INSERT INTO mfa_backup_codes (id, user_id, code_hash, used_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	for _, code := range codes {
		_, err := q.ExecContext(ctx, query,
			code.ID,
			code.UserID,
			code.CodeHash,
			code.UsedAt,
			code.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert backup code: %w", err)
		}
	}
	return nil
}

// Replace swaps the user's whole batch for codes in a single transaction
func (r *MFABackupCodesRepository) Replace(ctx context.Context, userID uuid.UUID, codes []*domain.BackupCode) error {
	return Tx(ctx, r.db, func(tx *sql.Tx) error {
		if err := r.DeleteAllByUserIDTx(ctx, tx, userID); err != nil {
			return err
		}
		return r.CreateBatchTx(ctx, tx, codes)
	})
}

// ListUnused returns the user's unredeemed codes
func (r *MFABackupCodesRepository) ListUnused(ctx context.Context, userID uuid.UUID) ([]*domain.BackupCode, error) {
	query := `
		SELECT id, user_id, code_hash, used_at, created_at
		FROM mfa_backup_codes
		WHERE user_id = $1 AND used_at IS NULL
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list backup codes: %w", err)
	}
	defer rows.Close()

	var codes []*domain.BackupCode
	for rows.Next() {
		code := &domain.BackupCode{}
		if err := rows.Scan(
			&code.ID,
			&code.UserID,
			&code.CodeHash,
			&code.UsedAt,
			&code.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan backup code: %w", err)
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

// MarkUsed redeems a code. The update only matches unused rows, so a code
// can be consumed once; later calls return domain.ErrBackupCodeNotFound.
func (r *MFABackupCodesRepository) MarkUsed(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE mfa_backup_codes
		SET used_at = $2
		WHERE id = $1 AND used_at IS NULL
	`
	result, err := r.db.ExecContext(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("failed to mark backup code as used: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrBackupCodeNotFound
	}
	return nil
}

// CountUnused returns the number of unused backup codes for a user
func (r *MFABackupCodesRepository) CountUnused(ctx context.Context, userID uuid.UUID) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM mfa_backup_codes
		WHERE user_id = $1 AND used_at IS NULL
	`
	var count int
	if err := r.db.QueryRowContext(ctx, query, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count unused backup codes: %w", err)
	}
	return count, nil
}

// DeleteAllByUserIDTx removes all backup codes for a user using q
func (r *MFABackupCodesRepository) DeleteAllByUserIDTx(ctx context.Context, q Querier, userID uuid.UUID) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM mfa_backup_codes WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to delete backup codes: %w", err)
	}
	return nil
}
