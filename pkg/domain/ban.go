package domain

import (
	"time"

	"github.com/google/uuid"
)

// Ban is a moderation record suspending a user's access.
type Ban struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	BannedBy   uuid.UUID
	Reason     *string
	BannedAt   time.Time
	ExpiresAt  *time.Time // nil = permanent
	UnbannedAt *time.Time // set when lifted manually
}

// IsPermanent reports whether the ban has no expiry.
func (b *Ban) IsPermanent() bool {
	return b.ExpiresAt == nil
}

// IsLifted reports whether a moderator lifted the ban.
func (b *Ban) IsLifted() bool {
	return b.UnbannedAt != nil
}

// IsExpiredAt reports whether the ban expired before t.
func (b *Ban) IsExpiredAt(t time.Time) bool {
	return b.ExpiresAt != nil && !b.ExpiresAt.After(t)
}

// IsActiveAt reports whether the ban restricts access at t.
func (b *Ban) IsActiveAt(t time.Time) bool {
	return !b.IsLifted() && !b.IsExpiredAt(t)
}

// BanStatus is the result of evaluating a user's bans.
type BanStatus struct {
	IsBanned  bool       `json:"is_banned"`
	Reason    *string    `json:"reason,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	// Stale is set when the status came from the last-known cache.
	Stale bool `json:"stale,omitempty"`
}

// BanStatusFrom derives the status for a single ban record at t.
// A nil ban means not banned.
func BanStatusFrom(b *Ban, t time.Time) BanStatus {
	if b == nil || !b.IsActiveAt(t) {
		return BanStatus{}
	}
	return BanStatus{
		IsBanned:  true,
		Reason:    b.Reason,
		ExpiresAt: b.ExpiresAt,
	}
}
