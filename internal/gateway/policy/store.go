package policy

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

const defaultMaxPolicies = 10_000

// Store failures.
var (
	ErrAlreadyExists = errors.New("policy already exists")
	ErrNotFound      = errors.New("policy not found")
	ErrStoreFull     = errors.New("policy store at capacity")
)

// Store holds versioned policies. Updates produce a new version with an
// incremented number and a fresh content hash; prior versions are retained
// in history.
type Store struct {
	mu       sync.RWMutex
	policies map[string]*Policy   // id → current version
	history  map[string][]*Policy // id → prior versions, oldest first
	maxSize  int
}

// NewStore creates a store. A non-positive cap selects the 10 000 default.
func NewStore(maxSize int) *Store {
	if maxSize <= 0 {
		maxSize = defaultMaxPolicies
	}
	return &Store{
		policies: make(map[string]*Policy),
		history:  make(map[string][]*Policy),
		maxSize:  maxSize,
	}
}

// Create installs version 1 of a new policy.
func (s *Store) Create(id, name string, rules []Rule) (*Policy, error) {
	if err := validateRules(rules); err != nil {
		return nil, err
	}
	hash, err := ComputeHash(rules)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.policies[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, id)
	}
	if len(s.policies) >= s.maxSize {
		return nil, ErrStoreFull
	}

	now := time.Now().UTC()
	p := &Policy{
		ID:        id,
		Version:   1,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
		Hash:      hash,
		Rules:     rules,
	}
	s.policies[id] = p
	return clonePolicy(p), nil
}

// Update replaces the rule set, increments the version, and appends the
// prior version to history.
func (s *Store) Update(id string, rules []Rule) (*Policy, error) {
	if err := validateRules(rules); err != nil {
		return nil, err
	}
	hash, err := ComputeHash(rules)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, exists := s.policies[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	s.history[id] = append(s.history[id], cur)

	next := &Policy{
		ID:        id,
		Version:   cur.Version + 1,
		Name:      cur.Name,
		CreatedAt: cur.CreatedAt,
		UpdatedAt: time.Now().UTC(),
		Hash:      hash,
		Rules:     rules,
	}
	s.policies[id] = next
	return clonePolicy(next), nil
}

// Delete removes a policy and its history.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.policies[id]; !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.policies, id)
	delete(s.history, id)
	return nil
}

// Get returns the current version of a policy.
func (s *Store) Get(id string) (*Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.policies[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return clonePolicy(p), nil
}

// GetByVersion returns a specific version, current or historical.
func (s *Store) GetByVersion(id string, version int) (*Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if cur, exists := s.policies[id]; exists && cur.Version == version {
		return clonePolicy(cur), nil
	}
	for _, p := range s.history[id] {
		if p.Version == version {
			return clonePolicy(p), nil
		}
	}
	return nil, fmt.Errorf("%w: %s v%d", ErrNotFound, id, version)
}

// List returns the current version of every policy, ordered by id.
func (s *Store) List() []*Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Policy, 0, len(s.policies))
	for _, p := range s.policies {
		out = append(out, clonePolicy(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetVersionHistory returns prior versions, oldest first. The current
// version is not included.
func (s *Store) GetVersionHistory(id string) ([]*Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.policies[id]; !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	hist := s.history[id]
	out := make([]*Policy, len(hist))
	for i, p := range hist {
		out[i] = clonePolicy(p)
	}
	return out, nil
}

func validateRules(rules []Rule) error {
	for _, r := range rules {
		if r.ID == "" {
			return fmt.Errorf("rule without id")
		}
		if r.Effect != EffectAllow && r.Effect != EffectDeny {
			return fmt.Errorf("rule %s: invalid effect %q", r.ID, r.Effect)
		}
		if len(r.Actions) == 0 {
			return fmt.Errorf("rule %s: empty action set", r.ID)
		}
	}
	return nil
}

func clonePolicy(p *Policy) *Policy {
	cp := *p
	cp.Rules = make([]Rule, len(p.Rules))
	copy(cp.Rules, p.Rules)
	return &cp
}
