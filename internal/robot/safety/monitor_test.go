package safety

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countingStop(calls *atomic.Int64, triggers *[]Trigger, mu *sync.Mutex) func(Trigger) TransitionResult {
	return func(trigger Trigger) TransitionResult {
		calls.Add(1)
		if triggers != nil {
			mu.Lock()
			*triggers = append(*triggers, trigger)
			mu.Unlock()
		}
		return TransitionResult{Trigger: trigger, Timestamp: time.Now()}
	}
}

func TestMonitor_RevokedFiresOnce(t *testing.T) {
	var calls atomic.Int64
	m := NewMonitor(500*time.Millisecond, 10, countingStop(&calls, nil, nil))

	m.OnRevoked()
	m.OnRevoked()
	m.OnRevoked()

	assert.Equal(t, int64(1), calls.Load())
	assert.True(t, m.Triggered())
	assert.Equal(t, TriggerRevoked, m.LastTrigger())
}

func TestMonitor_LatchBlocksLaterTriggers(t *testing.T) {
	var calls atomic.Int64
	var triggers []Trigger
	var mu sync.Mutex
	m := NewMonitor(500*time.Millisecond, 10, countingStop(&calls, &triggers, &mu))

	m.OnEStop()
	m.OnRevoked()
	m.CheckControlLoss()

	assert.Equal(t, int64(1), calls.Load())
	mu.Lock()
	require.Len(t, triggers, 1)
	assert.Equal(t, TriggerEStop, triggers[0])
	mu.Unlock()
}

func TestMonitor_ControlLoss(t *testing.T) {
	var calls atomic.Int64
	m := NewMonitor(20*time.Millisecond, 10, countingStop(&calls, nil, nil))

	m.CheckControlLoss()
	assert.Equal(t, int64(0), calls.Load(), "fresh monitor is within the window")

	time.Sleep(30 * time.Millisecond)
	m.CheckControlLoss()
	assert.Equal(t, int64(1), calls.Load())
	assert.Equal(t, TriggerControlLoss, m.LastTrigger())
}

func TestMonitor_TouchDefersControlLoss(t *testing.T) {
	var calls atomic.Int64
	m := NewMonitor(40*time.Millisecond, 10, countingStop(&calls, nil, nil))

	for it := 0; it < 3; it++ {
		time.Sleep(20 * time.Millisecond)
		m.Touch()
		m.CheckControlLoss()
	}
	assert.Equal(t, int64(0), calls.Load())

	time.Sleep(50 * time.Millisecond)
	m.CheckControlLoss()
	assert.Equal(t, int64(1), calls.Load())
}

func TestMonitor_InvalidCommandThreshold(t *testing.T) {
	var calls atomic.Int64
	m := NewMonitor(time.Second, 10, countingStop(&calls, nil, nil))

	for it := 0; it < 9; it++ {
		m.OnInvalidCommand()
	}
	assert.Equal(t, int64(0), calls.Load())
	assert.False(t, m.Triggered())

	m.OnInvalidCommand()
	assert.Equal(t, int64(1), calls.Load())
	assert.Equal(t, TriggerInvalidCmds, m.LastTrigger())
}

func TestMonitor_ValidCommandResetsCounter(t *testing.T) {
	var calls atomic.Int64
	m := NewMonitor(time.Second, 5, countingStop(&calls, nil, nil))

	for it := 0; it < 4; it++ {
		m.OnInvalidCommand()
	}
	m.OnValidCommand()
	for it := 0; it < 4; it++ {
		m.OnInvalidCommand()
	}
	assert.Equal(t, int64(0), calls.Load())

	m.OnInvalidCommand()
	assert.Equal(t, int64(1), calls.Load())
}

func TestMonitor_ResetReArms(t *testing.T) {
	var calls atomic.Int64
	m := NewMonitor(time.Second, 10, countingStop(&calls, nil, nil))

	m.OnEStop()
	require.Equal(t, int64(1), calls.Load())

	m.Reset()
	assert.False(t, m.Triggered())
	assert.Equal(t, Trigger(""), m.LastTrigger())

	m.OnRevoked()
	assert.Equal(t, int64(2), calls.Load())
}

func TestMonitor_ConcurrentTriggersFireOnce(t *testing.T) {
	var calls atomic.Int64
	m := NewMonitor(time.Second, 10, countingStop(&calls, nil, nil))

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			switch i % 4 {
			case 0:
				m.OnRevoked()
			case 1:
				m.OnEStop()
			case 2:
				m.OnInvalidCommand()
			default:
				m.CheckControlLoss()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), calls.Load())
	assert.True(t, m.Triggered())
}

func TestMonitor_CallbackErrorRecordedNotPropagated(t *testing.T) {
	hwErr := errors.New("actuator bus offline")
	m := NewMonitor(time.Second, 10, func(trigger Trigger) TransitionResult {
		return TransitionResult{Trigger: trigger, Timestamp: time.Now(), Error: hwErr}
	})

	m.OnEStop()

	result := m.LastResult()
	assert.Equal(t, TriggerEStop, result.Trigger)
	assert.ErrorIs(t, result.Error, hwErr)
}

func TestMonitor_DefaultThreshold(t *testing.T) {
	var calls atomic.Int64
	m := NewMonitor(time.Second, 0, countingStop(&calls, nil, nil))

	for it := 0; it < DefaultInvalidCmdThreshold; it++ {
		m.OnInvalidCommand()
	}
	assert.Equal(t, int64(1), calls.Load())
}

func TestTrigger_PriorityOrdering(t *testing.T) {
	assert.Greater(t, TriggerRevoked.Priority(), TriggerEStop.Priority())
	assert.Greater(t, TriggerEStop.Priority(), TriggerControlLoss.Priority())
	assert.Greater(t, TriggerControlLoss.Priority(), TriggerInvalidCmds.Priority())
}

func TestTrigger_Recoverability(t *testing.T) {
	assert.False(t, TriggerRevoked.IsRecoverable())
	assert.False(t, TriggerEStop.IsRecoverable())
	assert.True(t, TriggerControlLoss.IsRecoverable())
	assert.True(t, TriggerInvalidCmds.IsRecoverable())
}
