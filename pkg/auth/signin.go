package auth

import (
	"context"

	"github.com/google/uuid"
	"github.com/tendant/simple-trustgate/pkg/domain"
)

// SignInService establishes sessions for users whose primary credential has
// already been checked. A user with a verified factor gets a challenge token
// instead of an access token.
type SignInService struct {
	mfa    *MFAService
	tokens *TokenService
}

// NewSignInService creates a new sign-in service.
func NewSignInService(mfa *MFAService, tokens *TokenService) *SignInService {
	return &SignInService{mfa: mfa, tokens: tokens}
}

// Start begins a session for userID.
func (s *SignInService) Start(ctx context.Context, userID uuid.UUID, email, fingerprint string) (*domain.SignInResult, error) {
	required, err := s.mfa.HasActiveFactor(ctx, userID)
	if err != nil {
		return nil, err
	}

	if required {
		token, err := s.tokens.IssueChallengeToken(userID, email, fingerprint)
		if err != nil {
			return nil, err
		}
		return &domain.SignInResult{ChallengeToken: token, MFARequired: true}, nil
	}

	tokens, err := s.tokens.IssueAccessToken(userID, email, false)
	if err != nil {
		return nil, err
	}
	return &domain.SignInResult{Tokens: tokens}, nil
}

// Complete exchanges a challenge token plus a valid code for an access token.
func (s *SignInService) Complete(ctx context.Context, challengeToken, fingerprint string, in ChallengeInput) (*domain.TokenPair, *ChallengeResult, error) {
	claims, err := s.tokens.ValidateChallengeToken(challengeToken, fingerprint)
	if err != nil {
		return nil, nil, err
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, nil, domain.ErrInvalidToken
	}

	result, err := s.mfa.Challenge(ctx, userID, in)
	if err != nil {
		return nil, nil, err
	}

	tokens, err := s.tokens.IssueAccessToken(userID, claims.Email, true)
	if err != nil {
		return nil, nil, err
	}
	return tokens, result, nil
}
