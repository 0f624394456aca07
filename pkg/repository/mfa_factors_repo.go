package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/tendant/simple-trustgate/pkg/domain"
)

// MFAFactorsRepository handles database operations for MFA factors
type MFAFactorsRepository struct {
	db    *sql.DB
	codes *MFABackupCodesRepository
}

// NewMFAFactorsRepository creates a new MFA factors repository
func NewMFAFactorsRepository(db *sql.DB, codes *MFABackupCodesRepository) *MFAFactorsRepository {
	return &MFAFactorsRepository{db: db, codes: codes}
}

// Create inserts a new, unverified factor. A clash on (user_id,
// friendly_name) is reported as domain.ErrEnrollmentConflict.
func (r *MFAFactorsRepository) Create(ctx context.Context, f *domain.MFAFactor) error {
	query := `
		INSERT INTO mfa_factors (id, user_id, factor_type, secret_encrypted, friendly_name, verified, pending_code_hashes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.ExecContext(ctx, query,
		f.ID,
		f.UserID,
		f.Type,
		f.SecretEncrypted,
		f.FriendlyName,
		f.Verified,
		pq.Array(f.PendingCodeHashes),
		f.CreatedAt,
	)
	if isUniqueViolation(err) {
		return domain.ErrEnrollmentConflict
	}
	if err != nil {
		return fmt.Errorf("failed to create MFA factor: %w", err)
	}
	return nil
}

// ListByUserID returns all factors of a user, newest first.
func (r *MFAFactorsRepository) ListByUserID(ctx context.Context, userID uuid.UUID) ([]*domain.MFAFactor, error) {
	query := `
		SELECT id, user_id, factor_type, secret_encrypted, friendly_name, verified, pending_code_hashes, created_at, last_used_at
		FROM mfa_factors
		WHERE user_id = $1
		ORDER BY created_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list MFA factors: %w", err)
	}
	defer rows.Close()

	var factors []*domain.MFAFactor
	for rows.Next() {
		f := &domain.MFAFactor{}
		if err := rows.Scan(
			&f.ID,
			&f.UserID,
			&f.Type,
			&f.SecretEncrypted,
			&f.FriendlyName,
			&f.Verified,
			pq.Array(&f.PendingCodeHashes),
			&f.CreatedAt,
			&f.LastUsedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan MFA factor: %w", err)
		}
		factors = append(factors, f)
	}
	return factors, rows.Err()
}

// Confirm marks an unverified factor verified and installs its pending
// backup codes, replacing any previous batch, in one transaction.
// A second verified factor for the same user fails with ErrMFAAlreadyEnabled.
func (r *MFAFactorsRepository) Confirm(ctx context.Context, factor *domain.MFAFactor, codes []*domain.BackupCode) error {
	return Tx(ctx, r.db, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE mfa_factors
			SET verified = TRUE, pending_code_hashes = NULL, last_used_at = $2
			WHERE id = $1 AND verified = FALSE
		`, factor.ID, factor.LastUsedAt)
		if isUniqueViolation(err) {
			return domain.ErrMFAAlreadyEnabled
		}
		if err != nil {
			return fmt.Errorf("failed to verify MFA factor: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rows == 0 {
			return domain.ErrFactorNotFound
		}

		if err := r.codes.DeleteAllByUserIDTx(ctx, tx, factor.UserID); err != nil {
			return err
		}
		return r.codes.CreateBatchTx(ctx, tx, codes)
	})
}

// UpdateLastUsed records a successful challenge against a factor
func (r *MFAFactorsRepository) UpdateLastUsed(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE mfa_factors SET last_used_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("failed to update MFA factor last used: %w", err)
	}
	return nil
}

// Delete removes one factor owned by userID
func (r *MFAFactorsRepository) Delete(ctx context.Context, userID, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM mfa_factors WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete MFA factor: %w", err)
	}
	return nil
}

// DeleteInactive removes every factor of a user that is not active. A
// verified row without a name is inactive and would otherwise block the
// next confirmation on idx_mfa_factors_one_verified.
func (r *MFAFactorsRepository) DeleteInactive(ctx context.Context, userID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM mfa_factors WHERE user_id = $1 AND (verified = FALSE OR friendly_name IS NULL)`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete inactive MFA factors: %w", err)
	}
	return nil
}

// DeleteAllByUserID removes all factors and backup codes of a user
func (r *MFAFactorsRepository) DeleteAllByUserID(ctx context.Context, userID uuid.UUID) error {
	return Tx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM mfa_factors WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("failed to delete all MFA factors: %w", err)
		}
		return r.codes.DeleteAllByUserIDTx(ctx, tx, userID)
	})
}
