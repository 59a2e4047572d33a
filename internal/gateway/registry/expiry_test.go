package registry

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type warnRecorder struct {
	mu       sync.Mutex
	warnings []ExpiryWarning
}

func (w *warnRecorder) record(warning ExpiryWarning) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.warnings = append(w.warnings, warning)
}

func (w *warnRecorder) all() []ExpiryWarning {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]ExpiryWarning(nil), w.warnings...)
}

func TestNearExpiryMonitor_WarnsOncePerToken(t *testing.T) {
	r := newTestRegistry()
	r.Register(testEntry("tok-soon", "sess-1", "op-1", 30*time.Second))
	r.Register(testEntry("tok-later", "sess-2", "op-1", time.Hour))

	rec := &warnRecorder{}
	m := NewNearExpiryMonitor(r, time.Minute, time.Second, rec.record, nil)

	m.Scan()
	m.Scan()
	m.Scan()

	warnings := rec.all()
	require.Len(t, warnings, 1)
	assert.Equal(t, "tok-soon", warnings[0].TokenID)
	assert.Equal(t, "sess-1", warnings[0].SessionID)
	assert.Greater(t, warnings[0].RemainingMS, int64(0))
}

func TestNearExpiryMonitor_IgnoresExpiredTokens(t *testing.T) {
	r := newTestRegistry()
	r.Register(testEntry("tok-gone", "sess-1", "op-1", -time.Second))

	rec := &warnRecorder{}
	m := NewNearExpiryMonitor(r, time.Minute, time.Second, rec.record, nil)
	m.Scan()

	assert.Empty(t, rec.all())
}

func TestNearExpiryMonitor_DedupSetPrunedAfterRemoval(t *testing.T) {
	r := newTestRegistry()
	r.Register(testEntry("tok-1", "sess-1", "op-1", 30*time.Second))

	rec := &warnRecorder{}
	m := NewNearExpiryMonitor(r, time.Minute, time.Second, rec.record, nil)
	m.Scan()
	require.Len(t, rec.all(), 1)

	require.NoError(t, r.Revoke("tok-1", "done"))
	m.Scan()

	m.mu.Lock()
	remaining := len(m.warned)
	m.mu.Unlock()
	assert.Zero(t, remaining, "dedup entries for unregistered tokens are dropped")
}

func TestNearExpiryMonitor_StartStop(t *testing.T) {
	r := newTestRegistry()
	r.Register(testEntry("tok-soon", "sess-1", "op-1", 30*time.Second))

	rec := &warnRecorder{}
	m := NewNearExpiryMonitor(r, time.Minute, 10*time.Millisecond, rec.record, nil)
	m.Start()
	defer m.Stop()

	require.Eventually(t, func() bool {
		return len(rec.all()) == 1
	}, time.Second, 5*time.Millisecond)
}
