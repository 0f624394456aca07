package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Severity of a moderation warning. Ordered low < medium < high < critical.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// ParseSeverity validates a severity string.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(s)
	if _, ok := severityRank[sev]; !ok {
		return "", fmt.Errorf("invalid severity %q", s)
	}
	return sev, nil
}

// Less reports whether s is less severe than other.
func (s Severity) Less(other Severity) bool {
	return severityRank[s] < severityRank[other]
}

// WarningState is the acknowledgement state of a warning.
// The only transition is Pending -> Acknowledged.
type WarningState string

const (
	WarningPending      WarningState = "pending"
	WarningAcknowledged WarningState = "acknowledged"
)

// Warning is a moderation record that requires explicit acknowledgement.
type Warning struct {
	ID             uuid.UUID  `json:"id"`
	UserID         uuid.UUID  `json:"-"`
	WarnedBy       uuid.UUID  `json:"-"`
	Reason         string     `json:"reason"`
	Severity       Severity   `json:"severity"`
	CreatedAt      time.Time  `json:"created_at"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
}

// State returns the acknowledgement state.
func (w *Warning) State() WarningState {
	if w.AcknowledgedAt != nil {
		return WarningAcknowledged
	}
	return WarningPending
}

// Acknowledge moves a pending warning to acknowledged. It returns false and
// leaves the record untouched if it was already acknowledged.
func (w *Warning) Acknowledge(at time.Time) bool {
	if w.State() == WarningAcknowledged {
		return false
	}
	w.AcknowledgedAt = &at
	return true
}

// WarningStatus is the result of evaluating a user's warnings.
type WarningStatus struct {
	HasUnacknowledged bool       `json:"has_unacknowledged"`
	Warnings          []*Warning `json:"warnings"` // newest first
	// Stale is set when the status came from the last-known cache.
	Stale bool `json:"stale,omitempty"`
}

// Current returns the warning the user must acknowledge next, or nil.
func (s WarningStatus) Current() *Warning {
	if len(s.Warnings) == 0 {
		return nil
	}
	return s.Warnings[0]
}
