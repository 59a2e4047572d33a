// Package did resolves did:key identifiers to DID documents. Only the
// did:key method is supported; the document is a deterministic function of
// the encoded public key, so resolution never touches the network.
package did

import (
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

// Typed resolution failures.
var (
	ErrInvalidDID         = errors.New("invalid DID syntax")
	ErrUnsupportedMethod  = errors.New("unsupported DID method")
	ErrInvalidMultibase   = errors.New("invalid multibase encoding")
	ErrUnsupportedKeyType = errors.New("unsupported key type")
	ErrInvalidPublicKey   = errors.New("invalid public key")
)

// multicodec prefix for ed25519 public keys.
const multicodecEd25519 = 0xed

// VerificationMethod is a single key entry in a DID document.
type VerificationMethod struct {
	ID                 string `json:"id"`
	Type               string `json:"type"`
	Controller         string `json:"controller"`
	PublicKeyMultibase string `json:"publicKeyMultibase"`
}

// Document is a minimal DID document: one verification method referenced by
// both the authentication and assertion relationships.
type Document struct {
	ID                 string               `json:"id"`
	VerificationMethod []VerificationMethod `json:"verificationMethod"`
	Authentication     []string             `json:"authentication"`
	AssertionMethod    []string             `json:"assertionMethod"`
}

// Resolver resolves did:key identifiers with a TTL cache in front.
type Resolver struct {
	cache *documentCache
}

// NewResolver creates a resolver with the given cache parameters. Zero
// values select the defaults (60s TTL, 1000 entries).
func NewResolver(ttlSeconds int, maxSize int) *Resolver {
	return &Resolver{cache: newDocumentCache(ttlSeconds, maxSize)}
}

// Resolve returns the DID document for a did:key identifier. Successful
// resolutions are cached; failures are not.
func (r *Resolver) Resolve(didStr string) (*Document, error) {
	if doc, ok := r.cache.get(didStr); ok {
		return doc, nil
	}

	doc, err := resolveKey(didStr)
	if err != nil {
		return nil, err
	}

	r.cache.put(didStr, doc)
	return doc, nil
}

// PublicKey extracts the ed25519 public key from a resolved document.
func (r *Resolver) PublicKey(didStr string) (ed25519.PublicKey, error) {
	doc, err := r.Resolve(didStr)
	if err != nil {
		return nil, err
	}
	return decodeMultibaseKey(doc.VerificationMethod[0].PublicKeyMultibase)
}

// CacheStats reports cache hit/miss/size counters.
func (r *Resolver) CacheStats() CacheStats {
	return r.cache.stats()
}

func resolveKey(didStr string) (*Document, error) {
	parts := strings.Split(didStr, ":")
	if len(parts) != 3 || parts[0] != "did" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDID, didStr)
	}
	if parts[1] != "key" {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMethod, parts[1])
	}

	mb := parts[2]
	if _, err := decodeMultibaseKey(mb); err != nil {
		return nil, err
	}

	vmID := didStr + "#" + mb
	doc := &Document{
		ID: didStr,
		VerificationMethod: []VerificationMethod{{
			ID:                 vmID,
			Type:               "Ed25519VerificationKey2020",
			Controller:         didStr,
			PublicKeyMultibase: mb,
		}},
		Authentication:  []string{vmID},
		AssertionMethod: []string{vmID},
	}
	return doc, nil
}

// decodeMultibaseKey decodes a base58btc multibase string into an ed25519
// public key, validating the multicodec prefix and key length.
func decodeMultibaseKey(mb string) (ed25519.PublicKey, error) {
	if len(mb) < 2 || mb[0] != 'z' {
		return nil, fmt.Errorf("%w: expected base58btc ('z') prefix", ErrInvalidMultibase)
	}

	raw, err := base58.Decode(mb[1:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMultibase, err)
	}

	code, n := binary.Uvarint(raw)
	if n <= 0 {
		return nil, fmt.Errorf("%w: missing multicodec prefix", ErrInvalidMultibase)
	}
	if code != multicodecEd25519 {
		return nil, fmt.Errorf("%w: multicodec 0x%x", ErrUnsupportedKeyType, code)
	}

	key := raw[n:]
	if len(key) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidPublicKey, len(key), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(key), nil
}

// EncodeKey produces the did:key identifier for an ed25519 public key.
// Used by tests and development tooling to mint issuer identities.
func EncodeKey(pub ed25519.PublicKey) string {
	prefix := make([]byte, binary.MaxVarintLen64)
	n := binary.PutUvarint(prefix, multicodecEd25519)
	payload := append(prefix[:n], pub...)
	return "did:key:z" + base58.Encode(payload)
}
