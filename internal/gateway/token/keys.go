// Package token mints and publishes the Gateway's capability tokens:
// short-lived EdDSA-signed envelopes binding one operator to one robot for
// one session with an allowed scope.
package token

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
)

// DefaultKeyID is the stable key id the robot agent looks up in the
// published key set.
const DefaultKeyID = "gateway-signing-key"

// JWK is one entry of the published verification key set.
type JWK struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	Use string `json:"use"`
}

// JWKS is the verification key set served at /v1/jwks.
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// KeyManager holds the Gateway's active ed25519 signing key. Production
// deployments load the key from secure storage; development bootstraps an
// ephemeral pair.
type KeyManager struct {
	kid  string
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// NewKeyManager wraps an existing signing key.
func NewKeyManager(kid string, priv ed25519.PrivateKey) *KeyManager {
	return &KeyManager{
		kid:  kid,
		priv: priv,
		pub:  priv.Public().(ed25519.PublicKey),
	}
}

// NewEphemeralKeyManager generates a fresh signing key with the default
// key id. Development bootstrap only.
func NewEphemeralKeyManager() (*KeyManager, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	return NewKeyManager(DefaultKeyID, priv), nil
}

// KeyID returns the active key id embedded in token headers.
func (km *KeyManager) KeyID() string { return km.kid }

// PrivateKey returns the signing key.
func (km *KeyManager) PrivateKey() ed25519.PrivateKey { return km.priv }

// PublicKey returns the verification key.
func (km *KeyManager) PublicKey() ed25519.PublicKey { return km.pub }

// JWKS returns the published verification key set for the active key.
func (km *KeyManager) JWKS() JWKS {
	return JWKS{Keys: []JWK{EncodeJWK(km.kid, km.pub)}}
}
