package domain

import "time"

// DecisionKind enumerates gate outcomes.
type DecisionKind string

const (
	DecisionAllow                DecisionKind = "allow"
	DecisionRedirectBanned       DecisionKind = "redirect_banned"
	DecisionRedirectWarning      DecisionKind = "redirect_warning"
	DecisionRedirectMFAChallenge DecisionKind = "redirect_mfa_challenge"
	// DecisionPending means the trust state could not be established in
	// time. Navigation is denied while pending.
	DecisionPending DecisionKind = "pending"
)

// Decision is the derived access decision for a session and route.
type Decision struct {
	Kind      DecisionKind `json:"kind"`
	Reason    *string      `json:"reason,omitempty"`
	ExpiresAt *time.Time   `json:"expires_at,omitempty"`
	Warning   *Warning     `json:"warning,omitempty"`
	// Redirect is the route the shell should move to; empty means render in place.
	Redirect string `json:"redirect,omitempty"`
	// Degraded is set when the decision was made without a fresh store read.
	Degraded bool `json:"degraded,omitempty"`
}

// Allowed reports whether navigation may proceed.
func (d Decision) Allowed() bool {
	return d.Kind == DecisionAllow
}

// Equal reports whether two decisions would render the same way.
func (d Decision) Equal(o Decision) bool {
	if d.Kind != o.Kind || d.Redirect != o.Redirect || d.Degraded != o.Degraded {
		return false
	}
	if !equalStringPtr(d.Reason, o.Reason) || !equalTimePtr(d.ExpiresAt, o.ExpiresAt) {
		return false
	}
	switch {
	case d.Warning == nil && o.Warning == nil:
		return true
	case d.Warning == nil || o.Warning == nil:
		return false
	default:
		return d.Warning.ID == o.Warning.ID
	}
}

func equalStringPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalTimePtr(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
