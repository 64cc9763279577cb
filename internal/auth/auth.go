// Package auth issues and validates the bearer tokens accepted by the model
// API. Tokens are HS256 JWTs whose subject is the user id.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalidToken = errors.New("invalid token")

const (
	issuer   = "modelvideo"
	keyID    = "v1"
	tokenTTL = time.Hour
)

type Claims struct {
	jwt.RegisteredClaims
}

// UserID is the token subject.
func (c *Claims) UserID() string {
	return c.Subject
}

type Manager struct {
	signingKey []byte
	ttl        time.Duration
	now        func() time.Time
}

func NewManager(signingKey string) *Manager {
	return &Manager{signingKey: []byte(signingKey), ttl: tokenTTL, now: time.Now}
}

// Issue signs a token for userID. Used by operators and tests; the API only
// validates.
func (m *Manager) Issue(userID string) (string, error) {
	if userID == "" {
		return "", errors.New("token subject is empty")
	}
	now := m.now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = keyID

	return token.SignedString(m.signingKey)
}

func (m *Manager) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.signingKey, nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
