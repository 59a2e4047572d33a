package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Minted describes a freshly generated capability token.
type Minted struct {
	Signed    string
	TokenID   string
	ExpiresAt time.Time
}

// Generator mints capability tokens with the key manager's active key.
type Generator struct {
	keys *KeyManager
}

// NewGenerator creates a generator bound to a key manager.
func NewGenerator(keys *KeyManager) *Generator {
	return &Generator{keys: keys}
}

// Generate mints a signed capability token binding operator → robot for
// the named session with the allowed action scope.
func (g *Generator) Generate(operatorID, robotID, sessionID string, allowedActions []string, ttl time.Duration) (*Minted, error) {
	now := time.Now()
	expiresAt := now.Add(ttl)
	tokenID := uuid.NewString()

	claims := jwt.MapClaims{
		"sub":   operatorID,
		"aud":   robotID,
		"sid":   sessionID,
		"scope": allowedActions,
		"iat":   now.Unix(),
		"exp":   expiresAt.Unix(),
		"jti":   tokenID,
		"nonce": uuid.NewString(),
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	tok.Header["kid"] = g.keys.KeyID()

	signed, err := tok.SignedString(g.keys.PrivateKey())
	if err != nil {
		return nil, fmt.Errorf("sign capability token: %w", err)
	}

	return &Minted{Signed: signed, TokenID: tokenID, ExpiresAt: expiresAt}, nil
}
