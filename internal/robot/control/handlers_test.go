package control

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datapilot/chainkvm/internal/metrics"
	"github.com/datapilot/chainkvm/internal/robot/safety"
	"github.com/datapilot/chainkvm/internal/robot/session"
	"github.com/datapilot/chainkvm/pkg/protocol"
)

type fakeSession struct {
	state  session.State
	info   *session.Info
	scopes map[string]bool
	valErr error
}

func (f *fakeSession) State() session.State { return f.state }
func (f *fakeSession) Info() *session.Info  { return f.info }
func (f *fakeSession) HasScope(s string) bool {
	return f.scopes[s]
}
func (f *fakeSession) ValidateToken(sessionID, token string) (*session.Info, error) {
	if f.valErr != nil {
		return nil, f.valErr
	}
	return f.info, nil
}

func activeSession() *fakeSession {
	return &fakeSession{
		state:  session.StateActive,
		info:   &session.Info{SessionID: "sess-1", RobotID: "robot-001"},
		scopes: map[string]bool{protocol.ScopeControl: true, protocol.ScopeView: true},
	}
}

type recordingRobot struct {
	mu     sync.Mutex
	drives [][2]float64
	keys   int
	mice   int
	estops int
	err    error
}

func (r *recordingRobot) Drive(v, w float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.drives = append(r.drives, [2]float64{v, w})
	return nil
}

func (r *recordingRobot) KeyEvent(string, string, []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys++
	return r.err
}

func (r *recordingRobot) MouseEvent(int, int, int, int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mice++
	return r.err
}

func (r *recordingRobot) EStop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.estops++
	return nil
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func driveMsg(t *testing.T, v, w float64) []byte {
	t.Helper()
	return mustJSON(t, protocol.DriveMessage{
		Type: protocol.TypeDrive, V: v, W: w, T: time.Now().UnixMilli(),
	})
}

func newTestHandler(t *testing.T, sess SessionManager) (*Handler, *recordingRobot, *safety.Monitor) {
	t.Helper()
	robot := &recordingRobot{}
	monitor := safety.NewMonitor(time.Second, 10, func(trigger safety.Trigger) safety.TransitionResult {
		return safety.TransitionResult{Trigger: trigger, Timestamp: time.Now()}
	})
	h := NewHandler(robot, monitor, sess, 200*time.Millisecond)
	return h, robot, monitor
}

func TestHandler_DriveDispatchedAndAcked(t *testing.T) {
	h, robot, _ := newTestHandler(t, activeSession())

	resp, err := h.HandleMessage(driveMsg(t, 0.5, -0.2))
	require.NoError(t, err)

	ackMsg, ok := resp.(protocol.AckMessage)
	require.True(t, ok, "expected ack, got %T: %+v", resp, resp)
	assert.Equal(t, protocol.TypeDrive, ackMsg.RefType)

	robot.mu.Lock()
	require.Len(t, robot.drives, 1)
	assert.Equal(t, [2]float64{0.5, -0.2}, robot.drives[0])
	robot.mu.Unlock()
}

func TestHandler_DriveWithoutActiveSession(t *testing.T) {
	h, robot, _ := newTestHandler(t, &fakeSession{state: session.StatePending})

	resp, err := h.HandleMessage(driveMsg(t, 1, 0))
	require.NoError(t, err)

	msg := asError(t, resp)
	assert.Equal(t, protocol.ErrCodeUnauthorized, msg.Code)
	assert.Empty(t, robot.drives)
}

func TestHandler_DriveAfterRevocation(t *testing.T) {
	h, _, _ := newTestHandler(t, &fakeSession{state: session.StateTerminated})

	resp, err := h.HandleMessage(driveMsg(t, 1, 0))
	require.NoError(t, err)
	assert.Equal(t, protocol.ErrCodeSessionRevoked, asError(t, resp).Code)
}

func TestHandler_DriveWithoutControlScope(t *testing.T) {
	sess := activeSession()
	sess.scopes = map[string]bool{protocol.ScopeView: true}
	h, robot, _ := newTestHandler(t, sess)

	resp, err := h.HandleMessage(driveMsg(t, 1, 0))
	require.NoError(t, err)
	assert.Equal(t, protocol.ErrCodeUnauthorized, asError(t, resp).Code)
	assert.Empty(t, robot.drives)
}

func TestHandler_StaleDriveRejected(t *testing.T) {
	h, robot, monitor := newTestHandler(t, activeSession())

	old := mustJSON(t, protocol.DriveMessage{
		Type: protocol.TypeDrive, V: 1,
		T: time.Now().Add(-500 * time.Millisecond).UnixMilli(),
	})
	resp, err := h.HandleMessage(old)
	require.NoError(t, err)

	msg := asError(t, resp)
	assert.Equal(t, protocol.ErrCodeStaleCommand, msg.Code)
	assert.Empty(t, robot.drives)
	assert.False(t, monitor.Triggered(), "staleness is not an invalid command")
}

func TestHandler_DriveRateLimited(t *testing.T) {
	robot := &recordingRobot{}
	monitor := safety.NewMonitor(time.Second, 3, func(trigger safety.Trigger) safety.TransitionResult {
		return safety.TransitionResult{Trigger: trigger}
	})
	h := NewHandlerWithLimits(robot, monitor, activeSession(), 200*time.Millisecond,
		RateLimitConfig{DriveHz: 2, KVMHz: 2})

	var limited int
	for it := 0; it < 10; it++ {
		resp, err := h.HandleMessage(driveMsg(t, 0.1, 0))
		require.NoError(t, err)
		if msg, ok := resp.(protocol.ErrorMessage); ok {
			require.Equal(t, protocol.ErrCodeRateLimited, msg.Code)
			limited++
		}
	}

	assert.GreaterOrEqual(t, limited, 8, "bucket of 2 admits at most 2 of a burst of 10")
	assert.False(t, monitor.Triggered(), "rate-limit rejections never feed the invalid counter")
}

func TestHandler_InvalidCommandThresholdTriggersSafeStop(t *testing.T) {
	var stops atomic.Int64
	robot := &recordingRobot{}
	monitor := safety.NewMonitor(time.Second, 10, func(trigger safety.Trigger) safety.TransitionResult {
		stops.Add(1)
		return safety.TransitionResult{Trigger: trigger}
	})
	h := NewHandler(robot, monitor, activeSession(), 200*time.Millisecond)

	for i := 0; i < 10; i++ {
		resp, err := h.HandleMessage([]byte(fmt.Sprintf(`{"garbage":%d`, i)))
		require.NoError(t, err)
		assert.Equal(t, protocol.ErrCodeInvalidMessage, asError(t, resp).Code)
	}

	assert.Equal(t, int64(1), stops.Load())
	assert.Equal(t, safety.TriggerInvalidCmds, monitor.LastTrigger())

	// Once safe-stopped, even well-formed commands are rejected.
	resp, err := h.HandleMessage(driveMsg(t, 0.2, 0))
	require.NoError(t, err)
	assert.Equal(t, protocol.ErrCodeSafeStopped, asError(t, resp).Code)
	assert.Empty(t, robot.drives)
}

func TestHandler_ValidCommandResetsInvalidCounter(t *testing.T) {
	h, _, monitor := newTestHandler(t, activeSession())

	for it := 0; it < 9; it++ {
		_, err := h.HandleMessage([]byte(`{"type":"bogus"}`))
		require.NoError(t, err)
	}
	_, err := h.HandleMessage(driveMsg(t, 0.1, 0))
	require.NoError(t, err)

	for it := 0; it < 9; it++ {
		_, err := h.HandleMessage([]byte(`{"type":"bogus"}`))
		require.NoError(t, err)
	}
	assert.False(t, monitor.Triggered())
}

func TestHandler_EStop(t *testing.T) {
	h, _, monitor := newTestHandler(t, activeSession())

	resp, err := h.HandleMessage(mustJSON(t, protocol.EStopMessage{
		Type: protocol.TypeEStop, T: time.Now().UnixMilli(),
	}))
	require.NoError(t, err)

	ackMsg, ok := resp.(protocol.AckMessage)
	require.True(t, ok)
	assert.Equal(t, protocol.TypeEStop, ackMsg.RefType)
	assert.True(t, monitor.Triggered())
	assert.Equal(t, safety.TriggerEStop, monitor.LastTrigger())
}

func TestHandler_KVMEvents(t *testing.T) {
	h, robot, _ := newTestHandler(t, activeSession())

	resp, err := h.HandleMessage(mustJSON(t, protocol.KVMKeyMessage{
		Type: protocol.TypeKVMKey, Key: "a", Action: "down", T: time.Now().UnixMilli(),
	}))
	require.NoError(t, err)
	require.IsType(t, protocol.AckMessage{}, resp)

	resp, err = h.HandleMessage(mustJSON(t, protocol.KVMMouseMessage{
		Type: protocol.TypeKVMMouse, DX: 3, DY: -1, T: time.Now().UnixMilli(),
	}))
	require.NoError(t, err)
	require.IsType(t, protocol.AckMessage{}, resp)

	robot.mu.Lock()
	assert.Equal(t, 1, robot.keys)
	assert.Equal(t, 1, robot.mice)
	robot.mu.Unlock()
}

func TestHandler_PingAnsweredWithPong(t *testing.T) {
	h, _, _ := newTestHandler(t, activeSession())

	resp, err := h.HandleMessage(mustJSON(t, protocol.PingMessage{
		Type: protocol.TypePing, Seq: 42, TMono: 123456,
	}))
	require.NoError(t, err)

	pong, ok := resp.(protocol.PongMessage)
	require.True(t, ok)
	assert.Equal(t, uint64(42), pong.Seq)
	assert.Equal(t, int64(123456), pong.TMono)
	assert.NotZero(t, pong.TRecv)
}

func TestHandler_PongFeedsRTTTracker(t *testing.T) {
	h, _, _ := newTestHandler(t, activeSession())
	tracker := metrics.NewRTTTracker(0)
	h.SetRTTTracker(tracker)

	seq := tracker.Ping()
	resp, err := h.HandleMessage(mustJSON(t, protocol.PongMessage{
		Type: protocol.TypePong, Seq: seq,
	}))
	require.NoError(t, err)
	assert.Nil(t, resp)
	assert.Equal(t, 1, tracker.Stats().Count)
}

func TestHandler_AuthValidToken(t *testing.T) {
	h, _, _ := newTestHandler(t, activeSession())

	resp, err := h.HandleMessage(mustJSON(t, protocol.AuthMessage{
		Type: protocol.TypeAuth, Token: "signed-token", T: time.Now().UnixMilli(),
	}))
	require.NoError(t, err)
	require.IsType(t, protocol.AckMessage{}, resp)
}

func TestHandler_AuthRejectedToken(t *testing.T) {
	sess := activeSession()
	sess.valErr = errors.New("signature mismatch")
	h, _, _ := newTestHandler(t, sess)

	resp, err := h.HandleMessage(mustJSON(t, protocol.AuthMessage{
		Type: protocol.TypeAuth, Token: "forged",
	}))
	require.NoError(t, err)
	assert.Equal(t, protocol.ErrCodeUnauthorized, asError(t, resp).Code)
}

func TestHandler_OperatorResponsesIgnored(t *testing.T) {
	h, _, monitor := newTestHandler(t, activeSession())

	for _, raw := range []string{
		`{"type":"ack","ref_type":"drive"}`,
		`{"type":"error","code":"RATE_LIMITED"}`,
		`{"type":"state","robot_state":"active"}`,
		`{"type":"frame_timestamp","frame_id":1}`,
	} {
		resp, err := h.HandleMessage([]byte(raw))
		require.NoError(t, err)
		assert.Nil(t, resp, "payload %s", raw)
	}
	assert.False(t, monitor.Triggered())
}

func TestHandler_RobotAPIAccessor(t *testing.T) {
	h, robot, _ := newTestHandler(t, activeSession())
	assert.Same(t, robot, h.RobotAPI())
}

func TestHandler_ThroughputUnderConcurrency(t *testing.T) {
	h, _, _ := newTestHandler(t, activeSession())

	const workers = 8
	const perWorker = 250
	start := time.Now()
	var wg sync.WaitGroup
	for it := 0; it < workers; it++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for it2 := 0; it2 < perWorker; it2++ {
				if _, err := h.HandleMessage(mustJSON(t, protocol.PingMessage{
					Type: protocol.TypePing, Seq: 1,
				})); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	elapsed := time.Since(start)
	assert.Less(t, elapsed, 2*time.Second, "2000 messages should clear well under 2s")
}
