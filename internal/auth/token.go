package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the caller identity extracted from a verified credential.
// Subject is the stable principal id; Role names the coarse access tier the
// policy engine keys off (for example "authenticated" or "service").
type Identity struct {
	Subject string
	Role    string
}

// ErrInvalidToken is returned for missing, malformed, expired, or
// wrongly-signed credentials.
var ErrInvalidToken = errors.New("auth: invalid token")

// Verifier validates bearer tokens presented at the WebSocket handshake.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a Verifier for HS256 tokens signed with secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses and validates a bearer token, returning the embedded
// identity. The "sub" claim is required; "role" defaults to
// "authenticated" when absent.
func (v *Verifier) Verify(tokenString string) (Identity, error) {
	if tokenString == "" {
		return Identity{}, ErrInvalidToken
	}
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return Identity{}, ErrInvalidToken
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, ErrInvalidToken
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return Identity{}, ErrInvalidToken
	}
	role, _ := claims["role"].(string)
	if role == "" {
		role = "authenticated"
	}
	return Identity{Subject: sub, Role: role}, nil
}

// Mint creates a signed HS256 token carrying subject and role. Used by the
// CLI and tests.
func Mint(secret, subject, role string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub":  subject,
		"role": role,
		"iat":  time.Now().Unix(),
		"exp":  time.Now().Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}
