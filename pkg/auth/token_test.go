package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/tendant/simple-trustgate/pkg/domain"
)

func newTestTokenService(clock *testClock) *TokenService {
	s := NewTokenService(TokenConfig{
		JWTSecret: []byte("test-secret-key-that-is-32-bytes!"),
		Issuer:    "trustgate-test",
	})
	s.now = clock.Now
	return s
}

func TestTokenService_AccessToken(t *testing.T) {
	clock := newTestClock()
	s := newTestTokenService(clock)
	userID := uuid.New()

	pair, err := s.IssueAccessToken(userID, "user@example.com", true)
	if err != nil {
		t.Fatalf("IssueAccessToken() error = %v", err)
	}
	if pair.TokenType != "Bearer" {
		t.Errorf("TokenType = %s, want Bearer", pair.TokenType)
	}
	if pair.ExpiresIn != int(DefaultAccessTokenTTL.Seconds()) {
		t.Errorf("ExpiresIn = %d, want %d", pair.ExpiresIn, int(DefaultAccessTokenTTL.Seconds()))
	}

	claims, err := s.ValidateAccessToken(pair.AccessToken)
	if err != nil {
		t.Fatalf("ValidateAccessToken() error = %v", err)
	}
	if claims.Email != "user@example.com" || !claims.MFAVerified {
		t.Errorf("unexpected claims: %+v", claims)
	}
	session, err := claims.Session()
	if err != nil {
		t.Fatalf("Session() error = %v", err)
	}
	if session.UserID != userID {
		t.Errorf("UserID = %s, want %s", session.UserID, userID)
	}
	if want := pair.ExpiresAt.Truncate(time.Second); !session.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", session.ExpiresAt, want)
	}

	clock.Advance(DefaultAccessTokenTTL + time.Second)
	if _, err := s.ValidateAccessToken(pair.AccessToken); !errors.Is(err, domain.ErrInvalidToken) {
		t.Errorf("expired token error = %v, want ErrInvalidToken", err)
	}
}

func TestTokenService_ChallengeToken(t *testing.T) {
	clock := newTestClock()
	s := newTestTokenService(clock)
	userID := uuid.New()

	token, err := s.IssueChallengeToken(userID, "user@example.com", "fp-1")
	if err != nil {
		t.Fatalf("IssueChallengeToken() error = %v", err)
	}

	claims, err := s.ValidateChallengeToken(token, "fp-1")
	if err != nil {
		t.Fatalf("ValidateChallengeToken() error = %v", err)
	}
	if claims.Subject != userID.String() {
		t.Errorf("Subject = %s, want %s", claims.Subject, userID)
	}
	session, err := claims.Session()
	if err != nil {
		t.Fatalf("Session() error = %v", err)
	}
	if !session.MFAPending || session.UserID != userID {
		t.Errorf("Session() = %+v, want pending session for %s", session, userID)
	}
	if want := clock.Now().Add(DefaultChallengeTokenTTL).Truncate(time.Second); !session.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", session.ExpiresAt, want)
	}

	if _, err := s.ValidateChallengeToken(token, "fp-2"); !errors.Is(err, domain.ErrInvalidToken) {
		t.Errorf("fingerprint mismatch error = %v, want ErrInvalidToken", err)
	}
	if _, err := s.ValidateAccessToken(token); !errors.Is(err, domain.ErrInvalidToken) {
		t.Errorf("challenge token accepted as access token: %v", err)
	}

	clock.Advance(DefaultChallengeTokenTTL + time.Second)
	if _, err := s.ValidateChallengeToken(token, "fp-1"); !errors.Is(err, domain.ErrMFAChallengeExpired) {
		t.Errorf("expired challenge error = %v, want ErrMFAChallengeExpired", err)
	}
}

func TestTokenService_AccessTokenRejectedAsChallenge(t *testing.T) {
	s := newTestTokenService(newTestClock())
	pair, err := s.IssueAccessToken(uuid.New(), "", false)
	if err != nil {
		t.Fatalf("IssueAccessToken() error = %v", err)
	}
	if _, err := s.ValidateChallengeToken(pair.AccessToken, ""); !errors.Is(err, domain.ErrInvalidToken) {
		t.Errorf("ValidateChallengeToken() error = %v, want ErrInvalidToken", err)
	}
}

func TestTokenService_RejectsForeignTokens(t *testing.T) {
	clock := newTestClock()
	s := newTestTokenService(clock)
	other := NewTokenService(TokenConfig{JWTSecret: []byte("another-secret-key-of-32-bytes!!")})
	other.now = clock.Now

	foreign, _ := other.IssueAccessToken(uuid.New(), "", false)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, AccessTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uuid.NewString(),
			Audience:  jwt.ClaimStrings{audienceAccess},
			ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Hour)),
		},
	})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty", token: ""},
		{name: "garbage", token: "not.a.jwt"},
		{name: "other secret", token: foreign.AccessToken},
		{name: "alg none", token: unsigned},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.ValidateAccessToken(tt.token); !errors.Is(err, domain.ErrInvalidToken) {
				t.Errorf("ValidateAccessToken() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}
