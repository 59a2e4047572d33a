package session

import (
	"sync"
	"time"
)

// State is the session lifecycle state.
type State string

const (
	StatePending    State = "pending"
	StateValidating State = "validating"
	StateActive     State = "active"
	StateTerminated State = "terminated"
)

// Manager is the robot-side session state machine. One manager instance
// serves one session slot: validate → activate → terminate, with
// termination final. Validated tokens are cached so the hot path skips
// signature verification.
type Manager struct {
	robotID   string
	validator *TokenValidator

	mu       sync.Mutex
	state    State
	info     *Info
	cache    map[string]*Info // raw token → validated grant
	onChange func(State)
}

func NewManager(robotID string, validator *TokenValidator) *Manager {
	return &Manager{
		robotID:   robotID,
		validator: validator,
		state:     StatePending,
		cache:     make(map[string]*Info),
	}
}

// SetStateChangeCallback registers the transition callback. It fires once
// per transition, outside the manager lock.
func (m *Manager) SetStateChangeCallback(fn func(State)) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

// ValidateToken validates a capability token for the session. Repeat
// validations of the same token are served from cache. A terminated
// manager rejects everything.
func (m *Manager) ValidateToken(sessionID, token string) (*Info, error) {
	m.mu.Lock()
	if m.state == StateTerminated {
		m.mu.Unlock()
		return nil, ErrSessionTerminated
	}
	if cached, ok := m.cache[token]; ok {
		if cached.SessionID == sessionID && time.Now().Before(cached.ExpiresAt) {
			m.mu.Unlock()
			return cached, nil
		}
		delete(m.cache, token)
	}
	var fn func(State)
	if m.state == StatePending {
		m.state = StateValidating
		fn = m.onChange
	}
	m.mu.Unlock()

	if fn != nil {
		fn(StateValidating)
	}

	info, err := m.validator.Validate(sessionID, token)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.state == StateTerminated {
		m.mu.Unlock()
		return nil, ErrSessionTerminated
	}
	m.cache[token] = info
	m.mu.Unlock()
	return info, nil
}

// Activate binds the manager to a validated grant. Activation of an
// already-active manager fails closed; the caller revokes the first
// session before starting another.
func (m *Manager) Activate(info *Info) error {
	m.mu.Lock()
	switch m.state {
	case StateTerminated:
		m.mu.Unlock()
		return ErrSessionTerminated
	case StateActive:
		m.mu.Unlock()
		return ErrSessionActive
	}
	m.state = StateActive
	m.info = info
	fn := m.onChange
	m.mu.Unlock()

	if fn != nil {
		fn(StateActive)
	}
	return nil
}

// Terminate ends the session. Idempotent: the state callback fires once,
// the grant and the token cache are cleared.
func (m *Manager) Terminate() {
	m.mu.Lock()
	if m.state == StateTerminated {
		m.mu.Unlock()
		return
	}
	m.state = StateTerminated
	m.info = nil
	m.cache = make(map[string]*Info)
	fn := m.onChange
	m.mu.Unlock()

	if fn != nil {
		fn(StateTerminated)
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsActive reports whether a session is currently active.
func (m *Manager) IsActive() bool {
	return m.State() == StateActive
}

// Info returns the active grant, nil outside the active state.
func (m *Manager) Info() *Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.info
}

// HasScope reports whether the active grant carries the scope.
func (m *Manager) HasScope(scope string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateActive || m.info == nil {
		return false
	}
	for _, s := range m.info.Scope {
		if s == scope {
			return true
		}
	}
	return false
}
