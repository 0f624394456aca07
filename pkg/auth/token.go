package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/tendant/simple-trustgate/pkg/domain"
)

// Default token lifetimes
const (
	DefaultAccessTokenTTL    = 15 * time.Minute
	DefaultChallengeTokenTTL = 5 * time.Minute
)

// Token audiences keep a challenge token from being accepted as an access token.
const (
	audienceAccess    = "access"
	audienceChallenge = "mfa_challenge"
)

// TokenConfig holds signing configuration.
type TokenConfig struct {
	JWTSecret         []byte
	Issuer            string
	AccessTokenTTL    time.Duration
	ChallengeTokenTTL time.Duration
}

// TokenService issues and validates HS256 access and MFA challenge tokens.
type TokenService struct {
	config TokenConfig
	now    func() time.Time
}

// NewTokenService creates a new token service.
func NewTokenService(config TokenConfig) *TokenService {
	if config.AccessTokenTTL == 0 {
		config.AccessTokenTTL = DefaultAccessTokenTTL
	}
	if config.ChallengeTokenTTL == 0 {
		config.ChallengeTokenTTL = DefaultChallengeTokenTTL
	}
	return &TokenService{config: config, now: time.Now}
}

// AccessTokenClaims represents the claims in an access token.
type AccessTokenClaims struct {
	jwt.RegisteredClaims
	Email       string `json:"email,omitempty"`
	MFAVerified bool   `json:"mfa_verified,omitempty"`
}

// Session converts the claims into the identity the gate evaluates.
func (c *AccessTokenClaims) Session() (*domain.Session, error) {
	userID, err := uuid.Parse(c.Subject)
	if err != nil {
		return nil, domain.ErrInvalidToken
	}
	return &domain.Session{UserID: userID, Email: c.Email, ExpiresAt: expiry(c.RegisteredClaims)}, nil
}

// ChallengeClaims represents the claims in an MFA challenge token.
type ChallengeClaims struct {
	jwt.RegisteredClaims
	Email       string `json:"email,omitempty"`
	Fingerprint string `json:"fph,omitempty"`
}

// Session returns the half-established session a challenge token stands
// for. The gate routes it to the MFA challenge until it is exchanged.
func (c *ChallengeClaims) Session() (*domain.Session, error) {
	userID, err := uuid.Parse(c.Subject)
	if err != nil {
		return nil, domain.ErrInvalidToken
	}
	return &domain.Session{UserID: userID, Email: c.Email, MFAPending: true, ExpiresAt: expiry(c.RegisteredClaims)}, nil
}

func expiry(c jwt.RegisteredClaims) time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// IssueAccessToken signs an access token for a fully established session.
func (s *TokenService) IssueAccessToken(userID uuid.UUID, email string, mfaVerified bool) (*domain.TokenPair, error) {
	now := s.now()
	expiresAt := now.Add(s.config.AccessTokenTTL)
	claims := AccessTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			Audience:  jwt.ClaimStrings{audienceAccess},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			Issuer:    s.config.Issuer,
			ID:        uuid.NewString(),
		},
		Email:       email,
		MFAVerified: mfaVerified,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.config.JWTSecret)
	if err != nil {
		return nil, err
	}

	return &domain.TokenPair{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresIn:   int(s.config.AccessTokenTTL.Seconds()),
		ExpiresAt:   expiresAt,
	}, nil
}

// IssueChallengeToken signs a short-lived token that only the MFA challenge
// endpoint accepts.
func (s *TokenService) IssueChallengeToken(userID uuid.UUID, email, fingerprint string) (string, error) {
	now := s.now()
	claims := ChallengeClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			Audience:  jwt.ClaimStrings{audienceChallenge},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.config.ChallengeTokenTTL)),
			Issuer:    s.config.Issuer,
			ID:        uuid.NewString(),
		},
		Email:       email,
		Fingerprint: fingerprint,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.config.JWTSecret)
}

// ValidateAccessToken validates an access token and returns the claims.
func (s *TokenService) ValidateAccessToken(tokenString string) (*AccessTokenClaims, error) {
	claims := &AccessTokenClaims{}
	if _, err := s.parse(tokenString, claims, audienceAccess); err != nil {
		return nil, domain.ErrInvalidToken
	}
	return claims, nil
}

// ValidateChallengeToken validates a challenge token presented from the
// device with the given fingerprint.
func (s *TokenService) ValidateChallengeToken(tokenString, fingerprint string) (*ChallengeClaims, error) {
	claims := &ChallengeClaims{}
	if _, err := s.parse(tokenString, claims, audienceChallenge); err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, domain.ErrMFAChallengeExpired
		}
		return nil, domain.ErrInvalidToken
	}
	if claims.Fingerprint != "" && claims.Fingerprint != fingerprint {
		return nil, domain.ErrInvalidToken
	}
	if _, err := uuid.Parse(claims.Subject); err != nil {
		return nil, domain.ErrInvalidToken
	}
	return claims, nil
}

func (s *TokenService) parse(tokenString string, claims jwt.Claims, audience string) (*jwt.Token, error) {
	return jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, domain.ErrInvalidToken
		}
		return s.config.JWTSecret, nil
	},
		jwt.WithAudience(audience),
		jwt.WithTimeFunc(s.now),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
}
