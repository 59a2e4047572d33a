// Package session owns the robot-side session lifecycle: capability token
// validation against the Gateway's published key, the session state
// machine, and the signaling client.
package session

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrTokenExpired      = errors.New("token expired")
	ErrInvalidSignature  = errors.New("invalid token signature")
	ErrSessionMismatch   = errors.New("token not bound to this session")
	ErrAudienceMismatch  = errors.New("token not addressed to this robot")
	ErrSessionTerminated = errors.New("session terminated")
	ErrSessionActive     = errors.New("another session is active")
)

// Info is the validated session grant the agent operates under.
type Info struct {
	SessionID   string
	OperatorDID string
	RobotID     string
	Scope       []string
	TokenID     string
	ExpiresAt   time.Time
}

// TokenValidator verifies capability tokens offline against the Gateway's
// signing key. Clock skew tolerance applies to exp and iat.
type TokenValidator struct {
	pub     ed25519.PublicKey
	robotID string
	skew    time.Duration
}

func NewTokenValidator(pub ed25519.PublicKey, robotID string, skew time.Duration) *TokenValidator {
	return &TokenValidator{pub: pub, robotID: robotID, skew: skew}
}

// Validate checks signature, expiry, audience and session binding, and
// returns the extracted grant.
func (v *TokenValidator) Validate(sessionID, tokenStr string) (*Info, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
		}
		return v.pub, nil
	}, jwt.WithLeeway(v.skew))
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrInvalidSignature
		default:
			return nil, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
		}
	}

	aud, _ := claims.GetAudience()
	if len(aud) != 1 || aud[0] != v.robotID {
		return nil, ErrAudienceMismatch
	}

	sid, _ := claims["sid"].(string)
	if sid != sessionID {
		return nil, ErrSessionMismatch
	}

	info := &Info{
		SessionID: sid,
		RobotID:   v.robotID,
	}
	info.OperatorDID, _ = claims["sub"].(string)
	info.TokenID, _ = claims["jti"].(string)
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		info.ExpiresAt = exp.Time
	}
	if raw, ok := claims["scope"].([]any); ok {
		for _, s := range raw {
			if scope, ok := s.(string); ok {
				info.Scope = append(info.Scope, scope)
			}
		}
	}
	return info, nil
}
