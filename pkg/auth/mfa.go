package auth

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image/png"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/tendant/simple-trustgate/internal/metrics"
	"github.com/tendant/simple-trustgate/pkg/domain"
)

const (
	// TOTP parameters
	totpPeriod = 30
	totpSkew   = 1 // Allow ±30 seconds clock drift

	qrCodeSize = 200
)

// ChallengeMethod identifies which credential satisfied a challenge.
type ChallengeMethod string

const (
	ChallengeMethodTOTP       ChallengeMethod = "totp"
	ChallengeMethodBackupCode ChallengeMethod = "backup_code"
)

// FactorStore persists MFA factors.
type FactorStore interface {
	Create(ctx context.Context, f *domain.MFAFactor) error
	ListByUserID(ctx context.Context, userID uuid.UUID) ([]*domain.MFAFactor, error)
	Confirm(ctx context.Context, f *domain.MFAFactor, codes []*domain.BackupCode) error
	UpdateLastUsed(ctx context.Context, id uuid.UUID, at time.Time) error
	// DeleteInactive removes every factor of a user that does not gate
	// sign-in, including a verified row that lost its name.
	DeleteInactive(ctx context.Context, userID uuid.UUID) error
	// DeleteAllByUserID removes every factor and backup code of a user.
	DeleteAllByUserID(ctx context.Context, userID uuid.UUID) error
}

// BackupCodeStore persists hashed backup codes.
type BackupCodeStore interface {
	Replace(ctx context.Context, userID uuid.UUID, codes []*domain.BackupCode) error
	ListUnused(ctx context.Context, userID uuid.UUID) ([]*domain.BackupCode, error)
	// MarkUsed fails with ErrBackupCodeNotFound when the code was already used.
	MarkUsed(ctx context.Context, id uuid.UUID, at time.Time) error
	CountUnused(ctx context.Context, userID uuid.UUID) (int, error)
}

// AttemptStore is the append-only failed attempt log.
type AttemptStore interface {
	Record(ctx context.Context, userID uuid.UUID, at time.Time) error
	ListSince(ctx context.Context, userID uuid.UUID, since time.Time) ([]time.Time, error)
	MarkReset(ctx context.Context, userID uuid.UUID, at time.Time) error
}

// MFAConfig contains configuration for the MFA service
type MFAConfig struct {
	Issuer        string // e.g., "Simple Trustgate"
	EncryptionKey []byte // 32 bytes for AES-256
	Lockout       LockoutPolicy
}

// ChallengeInput carries exactly one of a TOTP code or a backup code.
type ChallengeInput struct {
	Code       string
	BackupCode string
}

// ChallengeResult describes a successful challenge.
type ChallengeResult struct {
	Method               ChallengeMethod `json:"method"`
	BackupCodesRemaining int             `json:"backup_codes_remaining"`
}

// MFAService runs the enroll, challenge and reset lifecycle of a user's
// TOTP factor and backup codes.
type MFAService struct {
	config   MFAConfig
	factors  FactorStore
	codes    BackupCodeStore
	attempts AttemptStore
	logger   *slog.Logger
	now      func() time.Time
}

// NewMFAService creates a new MFA service
func NewMFAService(config MFAConfig, factors FactorStore, codes BackupCodeStore, attempts AttemptStore, logger *slog.Logger) *MFAService {
	if logger == nil {
		logger = slog.Default()
	}
	config.Lockout = config.Lockout.withDefaults()
	return &MFAService{
		config:   config,
		factors:  factors,
		codes:    codes,
		attempts: attempts,
		logger:   logger,
		now:      time.Now,
	}
}

// SetClock replaces the service clock.
func (s *MFAService) SetClock(now func() time.Time) {
	s.now = now
}

// BeginEnroll generates a TOTP secret and a pending batch of backup codes.
// Any earlier unfinished enrollment is discarded.
func (s *MFAService) BeginEnroll(ctx context.Context, userID uuid.UUID, accountName string) (*domain.MFAEnrollment, error) {
	factors, err := s.factors.ListByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if activeFactor(factors) != nil {
		return nil, domain.ErrMFAAlreadyEnabled
	}

	if accountName == "" {
		accountName = userID.String()
	}
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.config.Issuer,
		AccountName: accountName,
		Period:      totpPeriod,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate TOTP key: %w", err)
	}

	qrDataURI, err := qrCodeDataURI(key)
	if err != nil {
		return nil, err
	}

	batch, err := GenerateBackupCodes()
	if err != nil {
		return nil, err
	}

	sealed, err := sealSecret(s.config.EncryptionKey, key.Secret())
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt TOTP secret: %w", err)
	}

	name := s.factorName()
	factor := &domain.MFAFactor{
		ID:                uuid.New(),
		UserID:            userID,
		Type:              domain.MFAFactorTOTP,
		SecretEncrypted:   sealed,
		FriendlyName:      &name,
		PendingCodeHashes: batch.Hashes,
		CreatedAt:         s.now(),
	}

	if err := s.factors.DeleteInactive(ctx, userID); err != nil {
		return nil, err
	}
	err = s.factors.Create(ctx, factor)
	if errors.Is(err, domain.ErrEnrollmentConflict) {
		// A concurrent enroll left an unverified factor behind. Clear it and retry once.
		s.logger.Warn("mfa enrollment conflict, retrying", "user_id", userID)
		if err := s.factors.DeleteInactive(ctx, userID); err != nil {
			return nil, err
		}
		factor.ID = uuid.New()
		err = s.factors.Create(ctx, factor)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("mfa enrollment started", "user_id", userID, "factor_id", factor.ID)

	return &domain.MFAEnrollment{
		FactorID:        factor.ID,
		Secret:          key.Secret(),
		ProvisioningURI: key.URL(),
		QRCodeDataURI:   qrDataURI,
		BackupCodes:     batch.Plain,
	}, nil
}

// ConfirmEnroll verifies the first TOTP code against the pending factor and
// activates it together with its backup codes. Wrong codes count toward the
// same lockout as sign-in challenges, and while locked out it returns
// *LockoutError without reading the factor store.
func (s *MFAService) ConfirmEnroll(ctx context.Context, userID uuid.UUID, code string) error {
	code = strings.TrimSpace(code)
	if !validTOTPCode(code) {
		return domain.ErrInvalidCodeFormat
	}

	now := s.now()
	lock, err := s.lockout(ctx, userID, now)
	if err != nil {
		return err
	}
	if lock.Locked {
		metrics.MFAChallenges.WithLabelValues(string(ChallengeMethodTOTP), "locked").Inc()
		return &LockoutError{Until: *lock.Until}
	}

	factors, err := s.factors.ListByUserID(ctx, userID)
	if err != nil {
		return err
	}
	if activeFactor(factors) != nil {
		return domain.ErrMFAAlreadyEnabled
	}
	factor := pendingFactor(factors)
	if factor == nil {
		return domain.ErrFactorNotFound
	}

	ok, err := s.validateTOTP(factor, code, now)
	if err != nil {
		return err
	}
	if !ok {
		return s.recordFailure(ctx, userID, ChallengeMethodTOTP, now)
	}

	codes := make([]*domain.BackupCode, 0, len(factor.PendingCodeHashes))
	for _, hash := range factor.PendingCodeHashes {
		codes = append(codes, &domain.BackupCode{
			ID:        uuid.New(),
			UserID:    userID,
			CodeHash:  hash,
			CreatedAt: now,
		})
	}
	factor.LastUsedAt = &now
	if err := s.factors.Confirm(ctx, factor, codes); err != nil {
		return err
	}

	s.logger.Info("mfa enabled", "user_id", userID, "factor_id", factor.ID)
	return nil
}

// CancelEnroll discards an unfinished enrollment. It is a no-op when there is none.
func (s *MFAService) CancelEnroll(ctx context.Context, userID uuid.UUID) error {
	return s.factors.DeleteInactive(ctx, userID)
}

// Challenge verifies a TOTP or backup code for a user with MFA enabled.
// While locked out it returns *LockoutError without consulting the factor
// store or logging an attempt. A wrong code returns *CredentialError.
func (s *MFAService) Challenge(ctx context.Context, userID uuid.UUID, in ChallengeInput) (*ChallengeResult, error) {
	now := s.now()
	method := ChallengeMethodTOTP
	if in.BackupCode != "" {
		method = ChallengeMethodBackupCode
	}

	lock, err := s.lockout(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	if lock.Locked {
		metrics.MFAChallenges.WithLabelValues(string(method), "locked").Inc()
		return nil, &LockoutError{Until: *lock.Until}
	}

	factors, err := s.factors.ListByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	factor := activeFactor(factors)
	if factor == nil {
		return nil, domain.ErrMFANotEnabled
	}

	var ok bool
	switch method {
	case ChallengeMethodBackupCode:
		ok, err = s.redeemBackupCode(ctx, userID, in.BackupCode, now)
	default:
		code := strings.TrimSpace(in.Code)
		if validTOTPCode(code) {
			ok, err = s.validateTOTP(factor, code, now)
		}
	}
	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, s.recordFailure(ctx, userID, method, now)
	}

	if err := s.factors.UpdateLastUsed(ctx, factor.ID, now); err != nil {
		s.logger.Warn("failed to update mfa factor last used", "user_id", userID, "error", err)
	}
	if s.config.Lockout.ResetOnSuccess {
		if err := s.attempts.MarkReset(ctx, userID, now); err != nil {
			s.logger.Warn("failed to reset mfa attempts", "user_id", userID, "error", err)
		}
	}

	result := &ChallengeResult{Method: method}
	if result.BackupCodesRemaining, err = s.codes.CountUnused(ctx, userID); err != nil {
		s.logger.Warn("failed to count backup codes", "user_id", userID, "error", err)
	}
	metrics.MFAChallenges.WithLabelValues(string(method), "success").Inc()
	s.logger.Info("mfa challenge passed", "user_id", userID, "method", method)
	return result, nil
}

// recordFailure logs a failed attempt and reports the resulting lockout state.
func (s *MFAService) recordFailure(ctx context.Context, userID uuid.UUID, method ChallengeMethod, now time.Time) error {
	metrics.MFAChallenges.WithLabelValues(string(method), "invalid").Inc()

	if err := s.attempts.Record(ctx, userID, now); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	lock, err := s.lockout(ctx, userID, now)
	if err != nil {
		return err
	}

	credErr := &CredentialError{AttemptsRemaining: lock.AttemptsRemaining}
	if lock.Locked {
		credErr.LockedUntil = lock.Until
		metrics.MFALockouts.Inc()
		s.logger.Warn("mfa lockout started", "user_id", userID, "until", *lock.Until)
	} else {
		s.logger.Info("mfa challenge failed", "user_id", userID, "method", method, "attempts_remaining", lock.AttemptsRemaining)
	}
	return credErr
}

// redeemBackupCode consumes a matching unused code. A code consumed by a
// concurrent redemption counts as a miss.
func (s *MFAService) redeemBackupCode(ctx context.Context, userID uuid.UUID, code string, now time.Time) (bool, error) {
	code = NormalizeBackupCode(code)
	if !validBackupCode(code) {
		return false, nil
	}

	unused, err := s.codes.ListUnused(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, bc := range unused {
		if !VerifySecret(code, bc.CodeHash) {
			continue
		}
		err := s.codes.MarkUsed(ctx, bc.ID, now)
		if errors.Is(err, domain.ErrBackupCodeNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// Disable removes every factor and backup code of a user.
func (s *MFAService) Disable(ctx context.Context, userID uuid.UUID) error {
	if err := s.factors.DeleteAllByUserID(ctx, userID); err != nil {
		return err
	}
	s.logger.Info("mfa disabled", "user_id", userID)
	return nil
}

// Reset is the administrative form of Disable. The failed attempt log is kept.
func (s *MFAService) Reset(ctx context.Context, userID uuid.UUID) error {
	if err := s.factors.DeleteAllByUserID(ctx, userID); err != nil {
		return err
	}
	s.logger.Info("mfa reset", "user_id", userID)
	return nil
}

// RegenerateBackupCodes replaces the user's backup codes with a fresh batch.
func (s *MFAService) RegenerateBackupCodes(ctx context.Context, userID uuid.UUID) ([]string, error) {
	factors, err := s.factors.ListByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if activeFactor(factors) == nil {
		return nil, domain.ErrMFANotEnabled
	}

	batch, err := GenerateBackupCodes()
	if err != nil {
		return nil, err
	}
	now := s.now()
	codes := make([]*domain.BackupCode, len(batch.Hashes))
	for i, hash := range batch.Hashes {
		codes[i] = &domain.BackupCode{ID: uuid.New(), UserID: userID, CodeHash: hash, CreatedAt: now}
	}
	if err := s.codes.Replace(ctx, userID, codes); err != nil {
		return nil, err
	}

	s.logger.Info("mfa backup codes regenerated", "user_id", userID)
	return batch.Plain, nil
}

// Status reports the enrollment state, remaining backup codes and lockout.
func (s *MFAService) Status(ctx context.Context, userID uuid.UUID) (*domain.MFAStatus, error) {
	factors, err := s.factors.ListByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	status := &domain.MFAStatus{State: domain.MFAStateOf(factors)}
	if status.State == domain.MFAStateVerified {
		if status.BackupCodesRemaining, err = s.codes.CountUnused(ctx, userID); err != nil {
			return nil, err
		}
	}
	if status.Lockout, err = s.lockout(ctx, userID, s.now()); err != nil {
		return nil, err
	}
	return status, nil
}

// HasActiveFactor reports whether the user must pass a challenge to sign in.
func (s *MFAService) HasActiveFactor(ctx context.Context, userID uuid.UUID) (bool, error) {
	factors, err := s.factors.ListByUserID(ctx, userID)
	if err != nil {
		return false, err
	}
	return activeFactor(factors) != nil, nil
}

func (s *MFAService) lockout(ctx context.Context, userID uuid.UUID, now time.Time) (domain.Lockout, error) {
	policy := s.config.Lockout
	attempts, err := s.attempts.ListSince(ctx, userID, now.Add(-policy.Window))
	if err != nil {
		return domain.Lockout{}, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	return policy.evaluate(attempts, now), nil
}

func (s *MFAService) validateTOTP(factor *domain.MFAFactor, code string, at time.Time) (bool, error) {
	secret, err := openSecret(s.config.EncryptionKey, factor.SecretEncrypted)
	if err != nil {
		return false, fmt.Errorf("failed to decrypt TOTP secret: %w", err)
	}
	valid, err := totp.ValidateCustom(code, secret, at, totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      totpSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return false, nil
	}
	return valid, nil
}

func (s *MFAService) factorName() string {
	if s.config.Issuer == "" {
		return "Authenticator"
	}
	return s.config.Issuer + " Authenticator"
}

func activeFactor(factors []*domain.MFAFactor) *domain.MFAFactor {
	for _, f := range factors {
		if f.IsActive() {
			return f
		}
	}
	return nil
}

// pendingFactor returns the newest unverified factor. Factors are listed newest first.
func pendingFactor(factors []*domain.MFAFactor) *domain.MFAFactor {
	for _, f := range factors {
		if !f.Verified {
			return f
		}
	}
	return nil
}

func qrCodeDataURI(key *otp.Key) (string, error) {
	img, err := key.Image(qrCodeSize, qrCodeSize)
	if err != nil {
		return "", fmt.Errorf("failed to generate QR code image: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("failed to encode QR code: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
