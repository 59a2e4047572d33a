package vc

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/datapilot/chainkvm/internal/gateway/did"
)

// Typed verification failures.
var (
	ErrInvalidEnvelope        = errors.New("invalid credential envelope")
	ErrUnsupportedAlgorithm   = errors.New("unsupported signing algorithm")
	ErrUntrustedIssuer        = errors.New("issuer is not trusted")
	ErrIssuerResolutionFailed = errors.New("issuer key resolution failed")
	ErrSignatureInvalid       = errors.New("credential signature invalid")
	ErrExpired                = errors.New("credential expired")
	ErrNotYetValid            = errors.New("credential not yet valid")
	ErrMissingCredentialClaim = errors.New("credential claim missing")
)

// supportedAlgs are the signature algorithms the verifier accepts. The
// did:key resolver only yields ed25519 keys, so anything else is rejected
// up front with a typed error instead of failing signature verification.
var supportedAlgs = map[string]bool{
	"EdDSA": true, // ed25519
}

// Attributes is the extracted attribute set handed to policy evaluation.
type Attributes struct {
	Issuer  string
	Subject string
	Role    string
	// Claims carries every credential-subject field except id and role.
	Claims map[string]any
}

// Verifier checks credential envelopes against the trusted-issuer set and
// the issuer's resolved public key.
type Verifier struct {
	issuers  *TrustedIssuers
	resolver *did.Resolver
	skew     time.Duration
}

// NewVerifier creates a verifier. A zero skew selects the 60s default.
func NewVerifier(issuers *TrustedIssuers, resolver *did.Resolver, skew time.Duration) *Verifier {
	if skew == 0 {
		skew = 60 * time.Second
	}
	return &Verifier{issuers: issuers, resolver: resolver, skew: skew}
}

// Verify validates the envelope and returns the extracted attributes plus
// the credential's expiry and issuance times.
func (v *Verifier) Verify(envelope string) (*Attributes, time.Time, time.Time, error) {
	var zero time.Time

	// Decode without verification to read the issuer.
	unverified, _, err := jwt.NewParser().ParseUnverified(envelope, jwt.MapClaims{})
	if err != nil {
		return nil, zero, zero, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}

	issuer, err := unverified.Claims.GetIssuer()
	if err != nil || issuer == "" {
		return nil, zero, zero, fmt.Errorf("%w: no issuer", ErrInvalidEnvelope)
	}
	if !v.issuers.IsTrusted(issuer) {
		return nil, zero, zero, fmt.Errorf("%w: %s", ErrUntrustedIssuer, issuer)
	}

	alg := unverified.Method.Alg()
	if !supportedAlgs[alg] {
		return nil, zero, zero, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, alg)
	}

	key, err := v.resolver.PublicKey(issuer)
	if err != nil {
		return nil, zero, zero, fmt.Errorf("%w: %v", ErrIssuerResolutionFailed, err)
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"EdDSA"}),
		jwt.WithLeeway(v.skew),
	)
	token, err := parser.Parse(envelope, func(t *jwt.Token) (any, error) {
		return key, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, zero, zero, ErrExpired
		case errors.Is(err, jwt.ErrTokenNotValidYet):
			return nil, zero, zero, ErrNotYetValid
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, zero, zero, ErrSignatureInvalid
		default:
			return nil, zero, zero, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
		}
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, zero, zero, ErrInvalidEnvelope
	}

	attrs, err := extractAttributes(issuer, claims)
	if err != nil {
		return nil, zero, zero, err
	}

	var expiry, issuedAt time.Time
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		expiry = exp.Time
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		issuedAt = iat.Time
	}
	return attrs, expiry, issuedAt, nil
}

// ExtractForPolicy returns the attribute set without verifying the
// signature. Reserved for debugging and for callers that have already run
// Verify on the same envelope.
func (v *Verifier) ExtractForPolicy(envelope string) (*Attributes, error) {
	token, _, err := jwt.NewParser().ParseUnverified(envelope, jwt.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidEnvelope
	}
	issuer, _ := claims.GetIssuer()
	return extractAttributes(issuer, claims)
}

// extractAttributes pulls the credential-subject fields out of the vc
// sub-envelope. Subject precedence: top-level sub, then credentialSubject.id.
func extractAttributes(issuer string, claims jwt.MapClaims) (*Attributes, error) {
	vcClaim, ok := claims["vc"].(map[string]any)
	if !ok {
		return nil, ErrMissingCredentialClaim
	}
	subject, ok := vcClaim["credentialSubject"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: no credentialSubject", ErrMissingCredentialClaim)
	}

	attrs := &Attributes{
		Issuer: issuer,
		Claims: make(map[string]any),
	}

	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		attrs.Subject = sub
	} else if id, ok := subject["id"].(string); ok {
		attrs.Subject = id
	}

	for k, val := range subject {
		switch k {
		case "id":
			// identity, not an attribute
		case "role":
			if role, ok := val.(string); ok {
				attrs.Role = role
			}
		default:
			attrs.Claims[k] = val
		}
	}
	return attrs, nil
}
