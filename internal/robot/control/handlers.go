package control

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/datapilot/chainkvm/internal/metrics"
	"github.com/datapilot/chainkvm/internal/robot/safety"
	"github.com/datapilot/chainkvm/internal/robot/session"
	"github.com/datapilot/chainkvm/pkg/protocol"
)

// SessionManager is the slice of the session manager the control handler
// consults on every command.
type SessionManager interface {
	State() session.State
	Info() *session.Info
	HasScope(scope string) bool
	ValidateToken(sessionID, token string) (*session.Info, error)
}

// Handler gates and dispatches datachannel control traffic. Every command
// passes the safety latch, the session state, the scope check, and the
// channel rate limiter before it reaches the robot API.
type Handler struct {
	router         *Router
	robotAPI       RobotAPI
	safety         *safety.Monitor
	sessionMgr     SessionManager
	limits         *channelLimiters
	staleThreshold time.Duration
	rtt            *metrics.RTTTracker
	logger         *zap.Logger
}

func NewHandler(robotAPI RobotAPI, monitor *safety.Monitor, sessionMgr SessionManager, staleThreshold time.Duration) *Handler {
	return NewHandlerWithLimits(robotAPI, monitor, sessionMgr, staleThreshold, DefaultRateLimits())
}

func NewHandlerWithLimits(robotAPI RobotAPI, monitor *safety.Monitor, sessionMgr SessionManager, staleThreshold time.Duration, cfg RateLimitConfig) *Handler {
	h := &Handler{
		router:         NewRouter(),
		robotAPI:       robotAPI,
		safety:         monitor,
		sessionMgr:     sessionMgr,
		limits:         newChannelLimiters(cfg),
		staleThreshold: staleThreshold,
		logger:         zap.NewNop(),
	}
	h.router.Register(protocol.TypeAuth, h.handleAuth)
	h.router.Register(protocol.TypeDrive, h.handleDrive)
	h.router.Register(protocol.TypeKVMKey, h.handleKVMKey)
	h.router.Register(protocol.TypeKVMMouse, h.handleKVMMouse)
	h.router.Register(protocol.TypeEStop, h.handleEStop)
	h.router.Register(protocol.TypePing, h.handlePing)
	h.router.Register(protocol.TypePong, h.handlePong)
	h.router.Register(protocol.TypeAck, h.ignore)
	h.router.Register(protocol.TypeError, h.ignore)
	h.router.Register(protocol.TypeState, h.ignore)
	h.router.Register(protocol.TypeFrameTimestamp, h.ignore)
	return h
}

// SetLogger replaces the no-op logger.
func (h *Handler) SetLogger(logger *zap.Logger) {
	if logger != nil {
		h.logger = logger
	}
}

// SetRTTTracker wires the collector that matches outbound pings to their
// pongs.
func (h *Handler) SetRTTTracker(tracker *metrics.RTTTracker) {
	h.rtt = tracker
}

// RobotAPI exposes the hardware surface for the safe-stop orchestrator.
func (h *Handler) RobotAPI() RobotAPI {
	return h.robotAPI
}

// HandleMessage processes one raw datachannel payload. The returned value,
// when non-nil, is the response to send back (ack, pong, or error).
// Malformed and unroutable messages feed the safety monitor's
// invalid-command counter; rate-limit and staleness rejections do not.
func (h *Handler) HandleMessage(data []byte) (any, error) {
	if h.safety != nil {
		h.safety.Touch()
	}

	resp := h.router.Dispatch(data)

	if errMsg, ok := resp.(protocol.ErrorMessage); ok {
		switch errMsg.Code {
		case protocol.ErrCodeInvalidMessage, protocol.ErrCodeUnknownType:
			if h.safety != nil {
				h.safety.OnInvalidCommand()
			}
		}
	}
	return resp, nil
}

// gate runs the checks common to every control command. A nil return
// means the command may proceed.
func (h *Handler) gate(msgType string, needScope string) *protocol.ErrorMessage {
	if h.safety != nil && h.safety.Triggered() {
		return &protocol.ErrorMessage{
			Type: protocol.TypeError, Code: protocol.ErrCodeSafeStopped, RefType: msgType,
		}
	}
	switch h.sessionMgr.State() {
	case session.StateActive:
	case session.StateTerminated:
		return &protocol.ErrorMessage{
			Type: protocol.TypeError, Code: protocol.ErrCodeSessionRevoked, RefType: msgType,
		}
	default:
		return &protocol.ErrorMessage{
			Type: protocol.TypeError, Code: protocol.ErrCodeUnauthorized,
			Reason: "no active session", RefType: msgType,
		}
	}
	if needScope != "" && !h.sessionMgr.HasScope(needScope) {
		return &protocol.ErrorMessage{
			Type: protocol.TypeError, Code: protocol.ErrCodeUnauthorized,
			Reason: "missing scope " + needScope, RefType: msgType,
		}
	}
	return nil
}

func (h *Handler) stale(msgType string, t int64) *protocol.ErrorMessage {
	age := time.Duration(time.Now().UnixMilli()-t) * time.Millisecond
	if age <= h.staleThreshold {
		return nil
	}
	return &protocol.ErrorMessage{
		Type: protocol.TypeError, Code: protocol.ErrCodeStaleCommand,
		RefType: msgType, RefT: t,
	}
}

func ack(refType string, refT int64) protocol.AckMessage {
	return protocol.AckMessage{Type: protocol.TypeAck, RefType: refType, RefT: refT}
}

func (h *Handler) handleAuth(data []byte) (any, error) {
	var msg protocol.AuthMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}

	info := h.sessionMgr.Info()
	if info == nil {
		return protocol.ErrorMessage{
			Type: protocol.TypeError, Code: protocol.ErrCodeUnauthorized,
			Reason: "no active session", RefType: protocol.TypeAuth,
		}, nil
	}
	if _, err := h.sessionMgr.ValidateToken(info.SessionID, msg.Token); err != nil {
		return protocol.ErrorMessage{
			Type: protocol.TypeError, Code: protocol.ErrCodeUnauthorized,
			Reason: err.Error(), RefType: protocol.TypeAuth,
		}, nil
	}
	return ack(protocol.TypeAuth, msg.T), nil
}

func (h *Handler) handleDrive(data []byte) (any, error) {
	var msg protocol.DriveMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if rej := h.gate(protocol.TypeDrive, protocol.ScopeControl); rej != nil {
		return *rej, nil
	}
	if !h.limits.drive.Allow() {
		return protocol.ErrorMessage{
			Type: protocol.TypeError, Code: protocol.ErrCodeRateLimited,
			RefType: protocol.TypeDrive, RefT: msg.T,
		}, nil
	}
	if rej := h.stale(protocol.TypeDrive, msg.T); rej != nil {
		return *rej, nil
	}
	if err := h.robotAPI.Drive(msg.V, msg.W); err != nil {
		return nil, err
	}
	if h.safety != nil {
		h.safety.OnValidCommand()
	}
	return ack(protocol.TypeDrive, msg.T), nil
}

func (h *Handler) handleKVMKey(data []byte) (any, error) {
	var msg protocol.KVMKeyMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if rej := h.gate(protocol.TypeKVMKey, protocol.ScopeControl); rej != nil {
		return *rej, nil
	}
	if !h.limits.kvm.Allow() {
		return protocol.ErrorMessage{
			Type: protocol.TypeError, Code: protocol.ErrCodeRateLimited,
			RefType: protocol.TypeKVMKey, RefT: msg.T,
		}, nil
	}
	if rej := h.stale(protocol.TypeKVMKey, msg.T); rej != nil {
		return *rej, nil
	}
	if err := h.robotAPI.KeyEvent(msg.Key, msg.Action, msg.Modifiers); err != nil {
		return nil, err
	}
	if h.safety != nil {
		h.safety.OnValidCommand()
	}
	return ack(protocol.TypeKVMKey, msg.T), nil
}

func (h *Handler) handleKVMMouse(data []byte) (any, error) {
	var msg protocol.KVMMouseMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if rej := h.gate(protocol.TypeKVMMouse, protocol.ScopeControl); rej != nil {
		return *rej, nil
	}
	if !h.limits.kvm.Allow() {
		return protocol.ErrorMessage{
			Type: protocol.TypeError, Code: protocol.ErrCodeRateLimited,
			RefType: protocol.TypeKVMMouse, RefT: msg.T,
		}, nil
	}
	if rej := h.stale(protocol.TypeKVMMouse, msg.T); rej != nil {
		return *rej, nil
	}
	if err := h.robotAPI.MouseEvent(msg.DX, msg.DY, msg.Buttons, msg.Scroll); err != nil {
		return nil, err
	}
	if h.safety != nil {
		h.safety.OnValidCommand()
	}
	return ack(protocol.TypeKVMMouse, msg.T), nil
}

// handleEStop latches the safety monitor. The hardware stop itself runs
// inside the safe-stop orchestration, not here.
func (h *Handler) handleEStop(data []byte) (any, error) {
	var msg protocol.EStopMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if rej := h.gate(protocol.TypeEStop, ""); rej != nil {
		return *rej, nil
	}
	h.logger.Warn("operator e-stop received")
	if h.safety != nil {
		h.safety.OnEStop()
	}
	return ack(protocol.TypeEStop, msg.T), nil
}

func (h *Handler) handlePing(data []byte) (any, error) {
	var msg protocol.PingMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return protocol.PongMessage{
		Type:  protocol.TypePong,
		Seq:   msg.Seq,
		TMono: msg.TMono,
		TRecv: time.Now().UnixMilli(),
	}, nil
}

func (h *Handler) handlePong(data []byte) (any, error) {
	var msg protocol.PongMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if h.rtt != nil {
		if d, ok := h.rtt.Pong(msg.Seq); ok {
			h.logger.Debug("control rtt sample", zap.Duration("rtt", d))
		}
	}
	return nil, nil
}

func (h *Handler) ignore([]byte) (any, error) {
	return nil, nil
}
