// Package tokens mints and validates short-lived HS256 pairing tokens
// for bench testing (cmd/tokendebug). The token shown to the companion
// app in a live session is minted by the backend and relayed by
// bridge.Client.IssueToken; the orchestrator does not call this
// package. Adapted from the teacher's access/refresh token
// manager: same HS256-with-kid scheme, collapsed to the single
// "pairing" token type the kiosk needs.
package tokens

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalidToken = errors.New("invalid token")

type TokenType string

const Pairing TokenType = "pairing"

type Claims struct {
	SessionID  string    `json:"session_id"`
	PlatformID string    `json:"platform_id"`
	TokenType  TokenType `json:"token_type"`
	jwt.RegisteredClaims
}

type Manager struct {
	signingKey []byte
}

func NewManager(signingKey string) *Manager {
	return &Manager{signingKey: []byte(signingKey)}
}

// GeneratePairingToken mints a token scoped to one capture session,
// valid for ttl (cmd/tokendebug passes its -ttl flag).
func (m *Manager) GeneratePairingToken(sessionID, platformID string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		SessionID:  sessionID,
		PlatformID: platformID,
		TokenType:  Pairing,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
			Subject:   sessionID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = "v1"

	return token.SignedString(m.signingKey)
}

func (m *Manager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.signingKey, nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		if claims.TokenType != Pairing {
			return nil, ErrInvalidToken
		}
		return claims, nil
	}

	return nil, ErrInvalidToken
}
