package domain

import "errors"

// Store errors
var (
	ErrStoreUnavailable = errors.New("trust store unavailable")
)

// Moderation errors
var (
	ErrBanNotFound     = errors.New("ban not found")
	ErrWarningNotFound = errors.New("warning not found")
)

// Session errors
var (
	ErrInvalidToken        = errors.New("invalid token")
	ErrMFAChallengeExpired = errors.New("MFA challenge expired")
)

// MFA errors
var (
	ErrMFANotEnabled      = errors.New("MFA is not enabled for this account")
	ErrMFAAlreadyEnabled  = errors.New("MFA is already enabled")
	ErrFactorNotFound     = errors.New("MFA factor not found")
	ErrEnrollmentConflict = errors.New("MFA factor name conflict")
	ErrInvalidCredential  = errors.New("invalid code")
	ErrInvalidCodeFormat  = errors.New("invalid code format")
	ErrBackupCodeNotFound = errors.New("backup code not found")
	ErrLockedOut          = errors.New("too many failed attempts")
)
