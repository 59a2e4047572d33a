package signaling

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/datapilot/chainkvm/internal/gateway/registry"
)

var (
	errTokenInvalid    = errors.New("capability token invalid")
	errSessionMismatch = errors.New("token not bound to session")
	errTokenRevoked    = errors.New("capability token revoked or expired")
	errUnknownSession  = errors.New("no grant for session")
	errRobotMismatch   = errors.New("robot id does not match session grant")
)

// RegistryAuthorizer admits peers using the Gateway signing key and the
// active-token registry. Operators present their capability token; robots
// are matched against the robot id recorded at mint time.
type RegistryAuthorizer struct {
	pub ed25519.PublicKey
	reg *registry.Registry
}

func NewRegistryAuthorizer(pub ed25519.PublicKey, reg *registry.Registry) *RegistryAuthorizer {
	return &RegistryAuthorizer{pub: pub, reg: reg}
}

func (a *RegistryAuthorizer) AuthorizeOperator(sessionID, token string) (string, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
		}
		return a.pub, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", errTokenInvalid, err)
	}

	sid, _ := claims["sid"].(string)
	if sid != sessionID {
		return "", errSessionMismatch
	}
	jti, _ := claims["jti"].(string)
	if jti == "" || !a.reg.IsValid(jti) {
		return "", errTokenRevoked
	}
	operatorID, _ := claims["sub"].(string)
	return operatorID, nil
}

func (a *RegistryAuthorizer) AuthorizeRobot(sessionID, robotID string) error {
	if robotID == "" {
		return errRobotMismatch
	}
	entries := a.reg.GetBySession(sessionID)
	if len(entries) == 0 {
		return errUnknownSession
	}
	for _, entry := range entries {
		if entry.RobotID == robotID {
			return nil
		}
	}
	return errRobotMismatch
}
