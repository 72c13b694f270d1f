package backend

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("session token is invalid")

// SessionClaims is the JWT payload of a session access token.
type SessionClaims struct {
	jwt.RegisteredClaims
	Email    string `json:"email"`
	Provider string `json:"provider,omitempty"`
}

// TokenSigner issues and verifies HS256 session tokens.
type TokenSigner struct {
	key    []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenSigner(key []byte, issuer string, ttl time.Duration) (*TokenSigner, error) {
	if len(key) == 0 {
		return nil, errors.New("session signing key is required")
	}
	return &TokenSigner{key: key, issuer: issuer, ttl: ttl, now: time.Now}, nil
}

func (s *TokenSigner) Issue(userID, email, provider string) (Session, error) {
	now := s.now().UTC()
	expiresAt := now.Add(s.ttl)

	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Email:    email,
		Provider: provider,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return Session{}, fmt.Errorf("sign session token: %w", err)
	}

	return Session{
		UserID:      userID,
		Email:       email,
		Provider:    provider,
		AccessToken: signed,
		ExpiresAt:   expiresAt,
	}, nil
}

// Verify checks the signature and expiry of token. The issuer is only checked
// when the signer has one.
func (s *TokenSigner) Verify(token string) (*SessionClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	var claims SessionClaims
	if _, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.key, nil
	}, opts...); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	return &claims, nil
}
