package registry

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrTokenNotFound is returned when a revocation names an unknown token.
var ErrTokenNotFound = errors.New("token not found in registry")

// Entry is one active capability token.
type Entry struct {
	TokenID    string
	SessionID  string
	OperatorID string
	RobotID    string
	ExpiresAt  time.Time
}

// Registry is the in-memory active-token index with secondary indexes on
// session and operator. Revocations move entries into the revocation cache
// and schedule a persistence append off the caller's path.
type Registry struct {
	mu         sync.RWMutex
	byToken    map[string]Entry
	bySession  map[string]map[string]struct{} // session id → token ids
	byOperator map[string]map[string]struct{} // operator id → token ids

	revoked *RevocationCache
	store   *FileStore // optional
	logger  *zap.Logger

	cleanupStop chan struct{}
	cleanupOnce sync.Once
}

// New creates a registry. store may be nil (no persistence).
func New(revoked *RevocationCache, store *FileStore, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		byToken:    make(map[string]Entry),
		bySession:  make(map[string]map[string]struct{}),
		byOperator: make(map[string]map[string]struct{}),
		revoked:    revoked,
		store:      store,
		logger:     logger,
	}
}

// Restore loads persisted revocations into the cache so bearers of revoked
// tokens are rejected immediately after a restart.
func (r *Registry) Restore() (int, error) {
	if r.store == nil {
		return 0, nil
	}
	entries, err := r.store.Load()
	if err != nil {
		return 0, err
	}
	for _, entry := range entries {
		r.revoked.Add(entry)
	}
	return len(entries), nil
}

// Register indexes a freshly minted token.
func (r *Registry) Register(entry Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byToken[entry.TokenID] = entry
	addIndex(r.bySession, entry.SessionID, entry.TokenID)
	addIndex(r.byOperator, entry.OperatorID, entry.TokenID)
}

// Revoke revokes a single token.
func (r *Registry) Revoke(tokenID, reason string) error {
	r.mu.Lock()
	entry, exists := r.byToken[tokenID]
	if exists {
		r.removeLocked(entry)
	}
	r.mu.Unlock()

	if !exists {
		return ErrTokenNotFound
	}
	r.cacheAndPersist(entry, reason)
	return nil
}

// RevokeBySession revokes every token minted for a session and returns the
// count revoked.
func (r *Registry) RevokeBySession(sessionID, reason string) int {
	r.mu.Lock()
	var revoked []Entry
	for tokenID := range r.bySession[sessionID] {
		if entry, ok := r.byToken[tokenID]; ok {
			r.removeLocked(entry)
			revoked = append(revoked, entry)
		}
	}
	r.mu.Unlock()

	for _, entry := range revoked {
		r.cacheAndPersist(entry, reason)
	}
	return len(revoked)
}

// RevokeByOperator revokes every token held by an operator and returns the
// distinct session ids affected.
func (r *Registry) RevokeByOperator(operatorID, reason string) []string {
	r.mu.Lock()
	var revoked []Entry
	sessions := make(map[string]struct{})
	for tokenID := range r.byOperator[operatorID] {
		if entry, ok := r.byToken[tokenID]; ok {
			r.removeLocked(entry)
			revoked = append(revoked, entry)
			sessions[entry.SessionID] = struct{}{}
		}
	}
	r.mu.Unlock()

	for _, entry := range revoked {
		r.cacheAndPersist(entry, reason)
	}

	out := make([]string, 0, len(sessions))
	for sid := range sessions {
		out = append(out, sid)
	}
	return out
}

// IsValid reports whether a token id is currently valid. The revocation
// cache is consulted first so revoked tokens are rejected even before the
// registry is reconstructed after a restart.
func (r *Registry) IsValid(tokenID string) bool {
	if r.revoked.IsRevoked(tokenID) {
		return false
	}

	r.mu.RLock()
	entry, exists := r.byToken[tokenID]
	r.mu.RUnlock()

	if !exists {
		return false
	}
	return time.Now().Before(entry.ExpiresAt)
}

// GetByToken returns the entry for a token id.
func (r *Registry) GetByToken(tokenID string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.byToken[tokenID]
	return entry, ok
}

// GetBySession returns every active entry for a session.
func (r *Registry) GetBySession(sessionID string) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collect(r.bySession[sessionID])
}

// GetByOperator returns every active entry for an operator.
func (r *Registry) GetByOperator(operatorID string) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collect(r.byOperator[operatorID])
}

// All returns a snapshot of every registered entry.
func (r *Registry) All() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.byToken))
	for _, entry := range r.byToken {
		out = append(out, entry)
	}
	return out
}

// Cleanup removes expired tokens and returns the count removed. A token
// whose expiry equals the current instant is removed.
func (r *Registry) Cleanup() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	removed := 0
	for _, entry := range r.byToken {
		if !now.Before(entry.ExpiresAt) {
			r.removeLocked(entry)
			removed++
		}
	}
	return removed
}

// StartCleanup launches the periodic expiry sweep.
func (r *Registry) StartCleanup(interval time.Duration) {
	r.mu.Lock()
	if r.cleanupStop != nil {
		r.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	r.cleanupStop = stop
	r.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if n := r.Cleanup(); n > 0 {
					r.logger.Debug("registry cleanup removed expired tokens", zap.Int("count", n))
				}
				if n := r.revoked.Cleanup(); n > 0 {
					r.logger.Debug("revocation cache pruned", zap.Int("count", n))
				}
			}
		}
	}()
}

// StopCleanup stops the periodic sweep.
func (r *Registry) StopCleanup() {
	r.mu.Lock()
	stop := r.cleanupStop
	r.mu.Unlock()
	if stop != nil {
		r.cleanupOnce.Do(func() { close(stop) })
	}
}

// cacheAndPersist records the revocation in the cache and appends to the
// file in a detached task. An append failure is logged, never surfaced:
// the in-memory revocation already holds.
func (r *Registry) cacheAndPersist(entry Entry, reason string) {
	rev := RevocationEntry{
		TokenID:   entry.TokenID,
		RevokedAt: time.Now().UTC(),
		ExpiresAt: entry.ExpiresAt,
		Reason:    reason,
	}
	r.revoked.Add(rev)

	if r.store == nil {
		return
	}
	go func() {
		if err := r.store.Append(rev); err != nil {
			r.logger.Error("failed to persist revocation",
				zap.String("token_id", rev.TokenID),
				zap.Error(err))
		}
	}()
}

// removeLocked drops an entry from all indexes. Called with the write lock
// held.
func (r *Registry) removeLocked(entry Entry) {
	delete(r.byToken, entry.TokenID)
	dropIndex(r.bySession, entry.SessionID, entry.TokenID)
	dropIndex(r.byOperator, entry.OperatorID, entry.TokenID)
}

func (r *Registry) collect(ids map[string]struct{}) []Entry {
	out := make([]Entry, 0, len(ids))
	for id := range ids {
		if entry, ok := r.byToken[id]; ok {
			out = append(out, entry)
		}
	}
	return out
}

func addIndex(idx map[string]map[string]struct{}, key, tokenID string) {
	set, ok := idx[key]
	if !ok {
		set = make(map[string]struct{})
		idx[key] = set
	}
	set[tokenID] = struct{}{}
}

func dropIndex(idx map[string]map[string]struct{}, key, tokenID string) {
	if set, ok := idx[key]; ok {
		delete(set, tokenID)
		if len(set) == 0 {
			delete(idx, key)
		}
	}
}
