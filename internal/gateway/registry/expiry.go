package registry

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultScanInterval  = 10 * time.Second
	defaultWarnThreshold = 60 * time.Second
)

// ExpiryWarning is emitted once per token approaching expiry.
type ExpiryWarning struct {
	TokenID     string
	SessionID   string
	ExpiresAt   time.Time
	RemainingMS int64
}

// NearExpiryMonitor periodically scans the registry for tokens expiring
// within the warning threshold and emits at most one warning per token id.
type NearExpiryMonitor struct {
	registry  *Registry
	threshold time.Duration
	interval  time.Duration
	onWarn    func(ExpiryWarning)
	logger    *zap.Logger

	mu     sync.Mutex
	warned map[string]struct{}
	stop   chan struct{}
}

// NewNearExpiryMonitor creates a monitor. Zero threshold/interval select
// the defaults (60s / 10s). onWarn may be nil; warnings are always logged.
func NewNearExpiryMonitor(reg *Registry, threshold, interval time.Duration, onWarn func(ExpiryWarning), logger *zap.Logger) *NearExpiryMonitor {
	if threshold <= 0 {
		threshold = defaultWarnThreshold
	}
	if interval <= 0 {
		interval = defaultScanInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NearExpiryMonitor{
		registry:  reg,
		threshold: threshold,
		interval:  interval,
		onWarn:    onWarn,
		logger:    logger,
		warned:    make(map[string]struct{}),
	}
}

// Start launches the periodic scan.
func (m *NearExpiryMonitor) Start() {
	m.mu.Lock()
	if m.stop != nil {
		m.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	m.stop = stop
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				m.Scan()
			}
		}
	}()
}

// Stop halts the periodic scan.
func (m *NearExpiryMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stop != nil {
		close(m.stop)
		m.stop = nil
	}
}

// Scan performs one pass: warn on tokens inside the threshold, and drop
// dedup entries for tokens no longer registered so the set stays bounded.
func (m *NearExpiryMonitor) Scan() {
	now := time.Now()
	entries := m.registry.All()

	live := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		live[entry.TokenID] = struct{}{}
	}

	m.mu.Lock()
	for id := range m.warned {
		if _, ok := live[id]; !ok {
			delete(m.warned, id)
		}
	}

	var warnings []ExpiryWarning
	for _, entry := range entries {
		remaining := entry.ExpiresAt.Sub(now)
		if remaining <= 0 || remaining > m.threshold {
			continue
		}
		if _, already := m.warned[entry.TokenID]; already {
			continue
		}
		m.warned[entry.TokenID] = struct{}{}
		warnings = append(warnings, ExpiryWarning{
			TokenID:     entry.TokenID,
			SessionID:   entry.SessionID,
			ExpiresAt:   entry.ExpiresAt,
			RemainingMS: remaining.Milliseconds(),
		})
	}
	m.mu.Unlock()

	for _, w := range warnings {
		m.logger.Warn("token approaching expiry",
			zap.String("token_id", w.TokenID),
			zap.String("session_id", w.SessionID),
			zap.Int64("remaining_ms", w.RemainingMS))
		if m.onWarn != nil {
			m.onWarn(w)
		}
	}
}
