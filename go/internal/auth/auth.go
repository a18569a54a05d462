package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ConnectClaims is the token payload presented on the WebSocket handshake
type ConnectClaims struct {
	jwt.RegisteredClaims
	Platform string `json:"platform,omitempty"`
}

// Verifier validates connect tokens issued by the GameOn backend
type Verifier struct {
	secret []byte
}

// New creates a verifier over a shared HMAC secret
func New(secret string) *Verifier {
	return &Verifier{
		secret: []byte(secret),
	}
}

// IssueConnectToken signs a short-lived connect token. Used by the backend
// integration tests and local tooling; production tokens come from the
// auth service with the same secret.
func (v *Verifier) IssueConnectToken(userID, platform string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := ConnectClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Platform: platform,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign connect token: %w", err)
	}
	return signed, nil
}

// ValidateConnectToken parses and verifies a connect token, returning its claims
func (v *Verifier) ValidateConnectToken(tokenString string) (*ConnectClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &ConnectClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse connect token: %w", err)
	}

	if claims, ok := token.Claims.(*ConnectClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, fmt.Errorf("invalid connect token")
}
