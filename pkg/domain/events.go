package domain

import "github.com/google/uuid"

// TrustTable names a trust-state table that emits change notifications.
type TrustTable string

const (
	TableBans       TrustTable = "user_bans"
	TableWarnings   TrustTable = "user_warnings"
	TableMFAFactors TrustTable = "mfa_factors"
)

// TrustEvent is a push notification that a user's trust records changed.
type TrustEvent struct {
	Table  TrustTable `json:"table"`
	UserID uuid.UUID  `json:"user_id"`
}
