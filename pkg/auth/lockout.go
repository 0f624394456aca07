package auth

import (
	"fmt"
	"time"

	"github.com/tendant/simple-trustgate/pkg/domain"
)

// Default lockout policy: 5 failures inside a trailing 15 minute window.
const (
	DefaultMaxAttempts   = 5
	DefaultLockoutWindow = 15 * time.Minute
)

// LockoutPolicy configures windowed MFA lockout.
type LockoutPolicy struct {
	MaxAttempts int
	Window      time.Duration
	// ResetOnSuccess makes a successful challenge discard earlier failures
	// from the count. Off by default: lockout is purely time-windowed.
	ResetOnSuccess bool
}

func (p LockoutPolicy) withDefaults() LockoutPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.Window <= 0 {
		p.Window = DefaultLockoutWindow
	}
	return p
}

// evaluate computes the lockout from failure timestamps (newest first)
// already restricted to the trailing window.
func (p LockoutPolicy) evaluate(attempts []time.Time, now time.Time) domain.Lockout {
	count := 0
	for _, at := range attempts {
		if !at.After(now) && now.Sub(at) < p.Window {
			attempts[count] = at
			count++
		}
	}
	attempts = attempts[:count]

	remaining := p.MaxAttempts - count
	if remaining < 0 {
		remaining = 0
	}
	lock := domain.Lockout{AttemptsRemaining: remaining}
	if count < p.MaxAttempts {
		return lock
	}

	until := attempts[p.MaxAttempts-1].Add(p.Window)
	if until.After(now) {
		lock.Locked = true
		lock.Until = &until
	}
	return lock
}

// LockoutError is returned by Challenge while the user is locked out.
// No attempt is logged for a rejected challenge.
type LockoutError struct {
	Until time.Time
}

func (e *LockoutError) Error() string {
	return fmt.Sprintf("too many failed attempts, locked until %s", e.Until.UTC().Format(time.RFC3339))
}

func (e *LockoutError) Unwrap() error { return domain.ErrLockedOut }

// Remaining returns the lockout duration left at now.
func (e *LockoutError) Remaining(now time.Time) time.Duration {
	if d := e.Until.Sub(now); d > 0 {
		return d
	}
	return 0
}

// CredentialError is returned for a wrong TOTP or backup code.
type CredentialError struct {
	AttemptsRemaining int
	// LockedUntil is set when this failure started a lockout.
	LockedUntil *time.Time
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("invalid code, %d attempts remaining", e.AttemptsRemaining)
}

func (e *CredentialError) Unwrap() error { return domain.ErrInvalidCredential }
