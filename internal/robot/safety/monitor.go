// Package safety implements the robot-side safety monitor: four trigger
// sources funnel into one latch that orchestrates exactly one safe-stop
// transition per armed cycle.
package safety

import (
	"sync"
	"time"
)

// Trigger identifies why a safe-stop fired.
type Trigger string

const (
	TriggerRevoked     Trigger = "revoked"
	TriggerEStop       Trigger = "e_stop"
	TriggerControlLoss Trigger = "control_loss"
	TriggerInvalidCmds Trigger = "invalid_cmds"
)

// invalidCmdWindow is the sliding window for the invalid-command counter.
const invalidCmdWindow = 30 * time.Second

// DefaultInvalidCmdThreshold applies when the configured threshold is <= 0.
const DefaultInvalidCmdThreshold = 10

// Priority orders triggers; a higher value wins when causes race.
func (t Trigger) Priority() int {
	switch t {
	case TriggerRevoked:
		return 4
	case TriggerEStop:
		return 3
	case TriggerControlLoss:
		return 2
	case TriggerInvalidCmds:
		return 1
	default:
		return 0
	}
}

// IsRecoverable reports whether a fresh session may re-arm after this
// trigger. Revocation and explicit stop end the operator's authority;
// transient link conditions do not.
func (t Trigger) IsRecoverable() bool {
	switch t {
	case TriggerControlLoss, TriggerInvalidCmds:
		return true
	default:
		return false
	}
}

// TransitionResult reports one safe-stop orchestration. Error carries the
// hardware-stop failure, if any; it is never propagated to the trigger
// caller.
type TransitionResult struct {
	Trigger   Trigger
	Timestamp time.Time
	Duration  time.Duration
	Error     error
}

// Monitor latches the first trigger of an armed cycle and runs the
// caller-supplied onSafeStop exactly once. All trigger entry points are
// idempotent once the latch is set.
type Monitor struct {
	timeout    time.Duration
	threshold  int
	onSafeStop func(Trigger) TransitionResult

	mu          sync.Mutex
	triggered   bool
	lastTrigger Trigger
	lastResult  TransitionResult
	lastCommand time.Time
	invalidAt   []time.Time
}

// NewMonitor builds an armed monitor. timeout is the control-loss window;
// onSafeStop runs synchronously on the goroutine of the winning trigger.
func NewMonitor(timeout time.Duration, invalidCmdThreshold int, onSafeStop func(Trigger) TransitionResult) *Monitor {
	if invalidCmdThreshold <= 0 {
		invalidCmdThreshold = DefaultInvalidCmdThreshold
	}
	return &Monitor{
		timeout:     timeout,
		threshold:   invalidCmdThreshold,
		onSafeStop:  onSafeStop,
		lastCommand: time.Now(),
	}
}

// OnRevoked asserts the revocation trigger.
func (m *Monitor) OnRevoked() {
	m.fire(TriggerRevoked)
}

// OnEStop asserts the explicit operator stop.
func (m *Monitor) OnEStop() {
	m.fire(TriggerEStop)
}

// OnInvalidCommand records one malformed command. Crossing the threshold
// inside the sliding window asserts the InvalidCmds trigger.
func (m *Monitor) OnInvalidCommand() {
	m.mu.Lock()
	if m.triggered {
		m.mu.Unlock()
		return
	}
	now := time.Now()
	m.lastCommand = now

	cutoff := now.Add(-invalidCmdWindow)
	kept := m.invalidAt[:0]
	for _, at := range m.invalidAt {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	m.invalidAt = append(kept, now)
	over := len(m.invalidAt) >= m.threshold
	m.mu.Unlock()

	if over {
		m.fire(TriggerInvalidCmds)
	}
}

// OnValidCommand marks a successfully processed command: the invalid
// counter resets and the control-loss timer restarts.
func (m *Monitor) OnValidCommand() {
	m.mu.Lock()
	m.lastCommand = time.Now()
	m.invalidAt = m.invalidAt[:0]
	m.mu.Unlock()
}

// Touch restarts the control-loss timer without resetting the invalid
// counter. Any datachannel traffic counts as liveness.
func (m *Monitor) Touch() {
	m.mu.Lock()
	m.lastCommand = time.Now()
	m.mu.Unlock()
}

// CheckControlLoss asserts ControlLoss when no command has arrived within
// the timeout. Callers poll this only while a session is active.
func (m *Monitor) CheckControlLoss() {
	m.mu.Lock()
	stale := !m.triggered && time.Since(m.lastCommand) >= m.timeout
	m.mu.Unlock()

	if stale {
		m.fire(TriggerControlLoss)
	}
}

// Reset re-arms the monitor. Called only on session activation.
func (m *Monitor) Reset() {
	m.mu.Lock()
	m.triggered = false
	m.lastTrigger = ""
	m.lastResult = TransitionResult{}
	m.lastCommand = time.Now()
	m.invalidAt = m.invalidAt[:0]
	m.mu.Unlock()
}

// Triggered reports whether the latch is set.
func (m *Monitor) Triggered() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.triggered
}

// LastTrigger returns the trigger that latched the current cycle, or ""
// when armed.
func (m *Monitor) LastTrigger() Trigger {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastTrigger
}

// LastResult returns the transition result of the current cycle.
func (m *Monitor) LastResult() TransitionResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastResult
}

// fire latches the trigger and runs the safe-stop callback. The latch is
// taken under the lock; the callback runs outside it so it may read
// monitor state.
func (m *Monitor) fire(trigger Trigger) {
	m.mu.Lock()
	if m.triggered {
		m.mu.Unlock()
		return
	}
	m.triggered = true
	m.lastTrigger = trigger
	m.mu.Unlock()

	if m.onSafeStop == nil {
		return
	}
	result := m.onSafeStop(trigger)

	m.mu.Lock()
	m.lastResult = result
	m.mu.Unlock()
}
