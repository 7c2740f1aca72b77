package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid or expired token")

const sessionIssuer = "playground-api"

// Identity is the owner a verified token belongs to.
type Identity struct {
	UserID string
	Email  string
}

// Verifier checks a bearer token.
type Verifier interface {
	Verify(tokenString string) (*Identity, error)
}

// SessionClaims are the claims of tokens issued by POST /api/login
type SessionClaims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

// SessionTokens issues and verifies HMAC-signed session tokens
type SessionTokens struct {
	secret []byte
	ttl    time.Duration
}

func NewSessionTokens(secret string, ttl time.Duration) *SessionTokens {
	return &SessionTokens{secret: []byte(secret), ttl: ttl}
}

// Issue signs a token for userID. A zero ttl yields a token without expiry.
func (s *SessionTokens) Issue(userID string) (string, time.Time, error) {
	now := time.Now()
	claims := SessionClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   sessionIssuer,
			Subject:  userID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	var expires time.Time
	if s.ttl > 0 {
		expires = now.Add(s.ttl)
		claims.ExpiresAt = jwt.NewNumericDate(expires)
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expires, nil
}

// Verify validates a session token using HMAC signing
func (s *SessionTokens) Verify(tokenString string) (*Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return &Identity{UserID: claims.UserID}, nil
}

// Chain tries each verifier in order and returns the first identity found.
type Chain []Verifier

func (c Chain) Verify(tokenString string) (*Identity, error) {
	for _, v := range c {
		if v == nil {
			continue
		}
		if id, err := v.Verify(tokenString); err == nil {
			return id, nil
		}
	}
	return nil, ErrInvalidToken
}
