package domain

import (
	"time"

	"github.com/google/uuid"
)

// MFAFactorType is the kind of second factor. Only TOTP is supported.
type MFAFactorType string

const (
	// MFAFactorTOTP represents Time-based One-Time Password authentication
	MFAFactorTOTP MFAFactorType = "totp"
)

// MFAFactor is an enrolled (or enrolling) second factor.
type MFAFactor struct {
	ID                uuid.UUID
	UserID            uuid.UUID
	Type              MFAFactorType
	SecretEncrypted   string   // AES-256-GCM sealed TOTP secret
	FriendlyName      *string  // nil is treated as unverified
	Verified          bool
	PendingCodeHashes []string // backup code hashes awaiting confirmation
	CreatedAt         time.Time
	LastUsedAt        *time.Time
}

// IsActive reports whether the factor gates sign-in.
func (f *MFAFactor) IsActive() bool {
	return f.Verified && f.FriendlyName != nil
}

// BackupCode is a hashed single-use MFA bypass credential.
type BackupCode struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	CodeHash  string // Argon2id hash
	UsedAt    *time.Time
	CreatedAt time.Time
}

// IsUsed returns true if the backup code has been redeemed
func (c *BackupCode) IsUsed() bool {
	return c.UsedAt != nil
}

// FailedMFAAttempt is one row of the append-only failure log.
type FailedMFAAttempt struct {
	UserID      uuid.UUID
	AttemptedAt time.Time
}

// MFAState is the enrollment state of a user.
type MFAState string

const (
	MFAStateUnenrolled MFAState = "unenrolled"
	MFAStateEnrolling  MFAState = "enrolling"
	MFAStateVerified   MFAState = "verified"
)

// MFAStateOf derives the enrollment state from a user's factors.
func MFAStateOf(factors []*MFAFactor) MFAState {
	state := MFAStateUnenrolled
	for _, f := range factors {
		if f.IsActive() {
			return MFAStateVerified
		}
		state = MFAStateEnrolling
	}
	return state
}

// Lockout describes the failed-attempt window for a user.
type Lockout struct {
	Locked            bool       `json:"locked"`
	Until             *time.Time `json:"until,omitempty"`
	AttemptsRemaining int        `json:"attempts_remaining"`
}

// Remaining returns how long the lockout still lasts at t.
func (l Lockout) Remaining(t time.Time) time.Duration {
	if !l.Locked || l.Until == nil || !l.Until.After(t) {
		return 0
	}
	return l.Until.Sub(t)
}

// MFAStatus summarizes a user's MFA state.
type MFAStatus struct {
	State                MFAState `json:"state"`
	BackupCodesRemaining int      `json:"backup_codes_remaining"`
	Lockout              Lockout  `json:"lockout"`
}

// MFAEnrollment is returned once when enrollment begins.
type MFAEnrollment struct {
	FactorID        uuid.UUID
	Secret          string   // Base32 TOTP secret (for manual entry)
	ProvisioningURI string   // otpauth:// URI
	QRCodeDataURI   string   // QR code as data:image/png;base64,...
	BackupCodes     []string // plaintext, shown once
}
