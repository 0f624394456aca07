package mfa

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-trustgate/internal/http/middleware"
	"github.com/tendant/simple-trustgate/internal/httputil"
	"github.com/tendant/simple-trustgate/pkg/auth"
	"github.com/tendant/simple-trustgate/pkg/domain"
)

// Service is the part of *auth.MFAService the handler uses.
type Service interface {
	Status(ctx context.Context, userID uuid.UUID) (*domain.MFAStatus, error)
	BeginEnroll(ctx context.Context, userID uuid.UUID, accountName string) (*domain.MFAEnrollment, error)
	ConfirmEnroll(ctx context.Context, userID uuid.UUID, code string) error
	CancelEnroll(ctx context.Context, userID uuid.UUID) error
	Challenge(ctx context.Context, userID uuid.UUID, in auth.ChallengeInput) (*auth.ChallengeResult, error)
	RegenerateBackupCodes(ctx context.Context, userID uuid.UUID) ([]string, error)
	Disable(ctx context.Context, userID uuid.UUID) error
	Reset(ctx context.Context, userID uuid.UUID) error
}

// SignIn exchanges challenge tokens for access tokens.
type SignIn interface {
	Complete(ctx context.Context, challengeToken, fingerprint string, in auth.ChallengeInput) (*domain.TokenPair, *auth.ChallengeResult, error)
}

// Handler handles MFA-related HTTP requests
type Handler struct {
	logger  *slog.Logger
	mfa     Service
	signIn  SignIn
	cookies httputil.CookieConfig
	now     func() time.Time
}

// NewHandler creates a new MFA handler
func NewHandler(logger *slog.Logger, mfa Service, signIn SignIn, cookies httputil.CookieConfig) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:  logger,
		mfa:     mfa,
		signIn:  signIn,
		cookies: cookies,
		now:     time.Now,
	}
}

// CodeRequest carries a TOTP code or a backup code.
type CodeRequest struct {
	Code       string `json:"code"`
	BackupCode string `json:"backup_code"`
}

func (c CodeRequest) input() auth.ChallengeInput {
	return auth.ChallengeInput{Code: c.Code, BackupCode: c.BackupCode}
}

func (c CodeRequest) valid() bool {
	return (c.Code == "") != (c.BackupCode == "")
}

// ChallengeRequest represents the request body for completing sign-in.
type ChallengeRequest struct {
	ChallengeToken string `json:"challenge_token"`
	CodeRequest
}

// ChallengeResponse is returned when sign-in completes.
type ChallengeResponse struct {
	*domain.TokenPair
	Method               auth.ChallengeMethod `json:"method"`
	BackupCodesRemaining int                  `json:"backup_codes_remaining"`
}

// CredentialErrorResponse is returned for a wrong code.
type CredentialErrorResponse struct {
	Error             string     `json:"error"`
	AttemptsRemaining int        `json:"attempts_remaining"`
	LockedUntil       *time.Time `json:"locked_until,omitempty"`
}

// LockoutErrorResponse is returned while the user is locked out.
type LockoutErrorResponse struct {
	Error       string    `json:"error"`
	LockedUntil time.Time `json:"locked_until"`
	RetryAfter  int       `json:"retry_after"` // seconds
}

// EnrollResponse represents the response body for starting enrollment.
type EnrollResponse struct {
	FactorID        uuid.UUID `json:"factor_id"`
	Secret          string    `json:"secret"`
	ProvisioningURI string    `json:"provisioning_uri"`
	QRCode          string    `json:"qr_code"`
	BackupCodes     []string  `json:"backup_codes"`
}

// BackupCodesResponse carries a fresh batch of plaintext backup codes.
type BackupCodesResponse struct {
	BackupCodes []string `json:"backup_codes"`
}

// Challenge handles POST /v1/auth/mfa/challenge
func (h *Handler) Challenge(w http.ResponseWriter, r *http.Request) {
	var req ChallengeRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		if middleware.HandleMaxBytesError(w, err) {
			return
		}
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ChallengeToken == "" || !req.valid() {
		httputil.Error(w, http.StatusBadRequest, "challenge_token and exactly one of code or backup_code are required")
		return
	}

	tokens, result, err := h.signIn.Complete(r.Context(), req.ChallengeToken, auth.Fingerprint(r), req.input())
	if err != nil {
		h.challengeError(w, err)
		return
	}

	if !httputil.IsMobileClient(r) {
		httputil.SetAccessTokenCookie(w, tokens.AccessToken, time.Duration(tokens.ExpiresIn)*time.Second, h.cookies)
	}
	httputil.JSON(w, http.StatusOK, ChallengeResponse{
		TokenPair:            tokens,
		Method:               result.Method,
		BackupCodesRemaining: result.BackupCodesRemaining,
	})
}

// Status handles GET /v1/me/mfa/status
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.GetSession(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	status, err := h.mfa.Status(r.Context(), session.UserID)
	if err != nil {
		h.serviceError(w, "failed to get MFA status", err)
		return
	}
	httputil.JSON(w, http.StatusOK, status)
}

// Enroll handles POST /v1/me/mfa/enroll
func (h *Handler) Enroll(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.GetSession(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	accountName := session.Email
	if accountName == "" {
		accountName = session.UserID.String()
	}
	enrollment, err := h.mfa.BeginEnroll(r.Context(), session.UserID, accountName)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrMFAAlreadyEnabled):
			httputil.Error(w, http.StatusConflict, "MFA is already enabled")
		case errors.Is(err, domain.ErrEnrollmentConflict):
			httputil.Error(w, http.StatusConflict, "enrollment already in progress, please retry")
		default:
			h.serviceError(w, "failed to start MFA enrollment", err)
		}
		return
	}

	httputil.JSON(w, http.StatusOK, EnrollResponse{
		FactorID:        enrollment.FactorID,
		Secret:          enrollment.Secret,
		ProvisioningURI: enrollment.ProvisioningURI,
		QRCode:          enrollment.QRCodeDataURI,
		BackupCodes:     enrollment.BackupCodes,
	})
}

// ConfirmEnroll handles POST /v1/me/mfa/enroll/confirm
func (h *Handler) ConfirmEnroll(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.GetSession(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req CodeRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		if middleware.HandleMaxBytesError(w, err) {
			return
		}
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Code == "" {
		httputil.Error(w, http.StatusBadRequest, "code is required")
		return
	}

	if err := h.mfa.ConfirmEnroll(r.Context(), session.UserID, req.Code); err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidCodeFormat):
			httputil.Error(w, http.StatusBadRequest, "code must be 6 digits")
		case errors.Is(err, domain.ErrFactorNotFound):
			httputil.Error(w, http.StatusBadRequest, "MFA enrollment not started. Please call /enroll first")
		case errors.Is(err, domain.ErrMFAAlreadyEnabled):
			httputil.Error(w, http.StatusConflict, "MFA is already enabled")
		default:
			h.challengeError(w, err)
		}
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]string{
		"message": "MFA enabled successfully",
	})
}

// CancelEnroll handles POST /v1/me/mfa/enroll/cancel
func (h *Handler) CancelEnroll(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.GetSession(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if err := h.mfa.CancelEnroll(r.Context(), session.UserID); err != nil {
		h.serviceError(w, "failed to cancel MFA enrollment", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RegenerateBackupCodes handles POST /v1/me/mfa/backup-codes. A current
// TOTP code is required.
func (h *Handler) RegenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	session, ok := h.verifiedRequest(w, r, false)
	if !ok {
		return
	}

	codes, err := h.mfa.RegenerateBackupCodes(r.Context(), session.UserID)
	if err != nil {
		h.serviceError(w, "failed to regenerate backup codes", err)
		return
	}
	httputil.JSON(w, http.StatusOK, BackupCodesResponse{BackupCodes: codes})
}

// Disable handles POST /v1/me/mfa/disable. A TOTP code or a backup code is
// required.
func (h *Handler) Disable(w http.ResponseWriter, r *http.Request) {
	session, ok := h.verifiedRequest(w, r, true)
	if !ok {
		return
	}

	if err := h.mfa.Disable(r.Context(), session.UserID); err != nil {
		h.serviceError(w, "failed to disable MFA", err)
		return
	}
	httputil.JSON(w, http.StatusOK, map[string]string{
		"message": "MFA disabled successfully",
	})
}

// Reset handles POST /v1/me/mfa/reset for users who lost their
// authenticator. A backup code is required; the factor is removed so the
// user can enroll again.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.GetSession(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req CodeRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		if middleware.HandleMaxBytesError(w, err) {
			return
		}
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.BackupCode == "" || req.Code != "" {
		httputil.Error(w, http.StatusBadRequest, "backup_code is required")
		return
	}

	if _, err := h.mfa.Challenge(r.Context(), session.UserID, req.input()); err != nil {
		h.challengeError(w, err)
		return
	}
	if err := h.mfa.Reset(r.Context(), session.UserID); err != nil {
		h.serviceError(w, "failed to reset MFA", err)
		return
	}
	httputil.JSON(w, http.StatusOK, map[string]string{
		"message": "MFA reset successfully",
	})
}

// verifiedRequest decodes a CodeRequest and runs it through the challenge.
// Backup codes are accepted only when allowBackup is set.
func (h *Handler) verifiedRequest(w http.ResponseWriter, r *http.Request, allowBackup bool) (*domain.Session, bool) {
	session, ok := middleware.GetSession(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}

	var req CodeRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		if !middleware.HandleMaxBytesError(w, err) {
			httputil.Error(w, http.StatusBadRequest, "invalid request body")
		}
		return nil, false
	}
	if !req.valid() || (!allowBackup && req.BackupCode != "") {
		if allowBackup {
			httputil.Error(w, http.StatusBadRequest, "exactly one of code or backup_code is required")
		} else {
			httputil.Error(w, http.StatusBadRequest, "code is required")
		}
		return nil, false
	}

	if _, err := h.mfa.Challenge(r.Context(), session.UserID, req.input()); err != nil {
		h.challengeError(w, err)
		return nil, false
	}
	return session, true
}

// challengeError maps challenge failures to responses. Raw causes are logged,
// never returned.
func (h *Handler) challengeError(w http.ResponseWriter, err error) {
	var lockErr *auth.LockoutError
	var credErr *auth.CredentialError
	switch {
	case errors.As(err, &lockErr):
		retry := int(math.Ceil(lockErr.Remaining(h.now()).Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		httputil.JSON(w, http.StatusTooManyRequests, LockoutErrorResponse{
			Error:       "too many failed attempts",
			LockedUntil: lockErr.Until,
			RetryAfter:  retry,
		})
	case errors.As(err, &credErr):
		httputil.JSON(w, http.StatusUnauthorized, CredentialErrorResponse{
			Error:             "invalid MFA code",
			AttemptsRemaining: credErr.AttemptsRemaining,
			LockedUntil:       credErr.LockedUntil,
		})
	case errors.Is(err, domain.ErrMFAChallengeExpired):
		httputil.Error(w, http.StatusUnauthorized, "MFA challenge expired, please sign in again")
	case errors.Is(err, domain.ErrInvalidToken):
		httputil.Error(w, http.StatusUnauthorized, "invalid challenge token")
	case errors.Is(err, domain.ErrMFANotEnabled):
		httputil.Error(w, http.StatusBadRequest, "MFA is not enabled")
	default:
		h.serviceError(w, "failed to verify MFA code", err)
	}
}

func (h *Handler) serviceError(w http.ResponseWriter, msg string, err error) {
	if errors.Is(err, domain.ErrStoreUnavailable) {
		h.logger.Error(msg, "error", err)
		httputil.Error(w, http.StatusServiceUnavailable, "service temporarily unavailable")
		return
	}
	if errors.Is(err, domain.ErrMFANotEnabled) {
		httputil.Error(w, http.StatusBadRequest, "MFA is not enabled")
		return
	}
	h.logger.Error(msg, "error", err)
	httputil.Error(w, http.StatusInternalServerError, msg)
}
