package domain

import (
	"time"

	"github.com/google/uuid"
)

// Session is the authenticated identity the gate evaluates.
type Session struct {
	UserID uuid.UUID
	Email  string
	// MFAPending is set while a verified factor still has to be challenged.
	MFAPending bool
	// ExpiresAt is when the presented token stops being valid. Zero means
	// no expiry is known.
	ExpiresAt time.Time
}

// TokenPair is returned when a session is established.
type TokenPair struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresIn   int       `json:"expires_in"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// SignInResult is the outcome of starting a session. Exactly one of Tokens
// and ChallengeToken is set.
type SignInResult struct {
	Tokens         *TokenPair `json:"tokens,omitempty"`
	ChallengeToken string     `json:"challenge_token,omitempty"`
	MFARequired    bool       `json:"mfa_required"`
}
