// Package vc verifies externally issued verifiable credentials presented
// at session request time. Credentials are JWT envelopes signed by a
// trusted issuer; the package extracts the attribute set policy evaluation
// runs against but performs no policy evaluation itself.
package vc

import (
	"sync"
	"sync/atomic"
)

// TrustedIssuers is the mutable set of issuer DIDs the verifier accepts.
// Reads vastly outnumber writes, so lookups go against an immutable
// snapshot map swapped atomically on every write.
type TrustedIssuers struct {
	mu       sync.Mutex   // serializes writers
	snapshot atomic.Value // map[string]struct{}
}

// NewTrustedIssuers creates a set seeded with the given issuer DIDs.
func NewTrustedIssuers(issuers ...string) *TrustedIssuers {
	set := make(map[string]struct{}, len(issuers))
	for _, iss := range issuers {
		set[iss] = struct{}{}
	}
	t := &TrustedIssuers{}
	t.snapshot.Store(set)
	return t
}

// Add inserts an issuer.
func (t *TrustedIssuers) Add(issuer string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := t.copyCurrent(1)
	next[issuer] = struct{}{}
	t.snapshot.Store(next)
}

// Remove deletes an issuer.
func (t *TrustedIssuers) Remove(issuer string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := t.copyCurrent(0)
	delete(next, issuer)
	t.snapshot.Store(next)
}

// IsTrusted reports whether the issuer is in the set. Lock-free.
func (t *TrustedIssuers) IsTrusted(issuer string) bool {
	_, ok := t.current()[issuer]
	return ok
}

// List returns the current issuers.
func (t *TrustedIssuers) List() []string {
	cur := t.current()
	out := make([]string, 0, len(cur))
	for iss := range cur {
		out = append(out, iss)
	}
	return out
}

func (t *TrustedIssuers) current() map[string]struct{} {
	return t.snapshot.Load().(map[string]struct{})
}

// copyCurrent clones the snapshot for a writer. Called with t.mu held.
func (t *TrustedIssuers) copyCurrent(extra int) map[string]struct{} {
	cur := t.current()
	next := make(map[string]struct{}, len(cur)+extra)
	for iss := range cur {
		next[iss] = struct{}{}
	}
	return next
}
