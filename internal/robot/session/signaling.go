package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/datapilot/chainkvm/pkg/protocol"
)

const (
	reconnectBase = time.Second
	reconnectMax  = 30 * time.Second
)

// SignalingHandler receives signaling events from the Gateway.
type SignalingHandler interface {
	OnOffer(sessionID, token string, sdp []byte)
	OnAnswer(sessionID string, sdp []byte)
	OnICE(sessionID string, candidate []byte)
	OnBye(sessionID string)
	OnRevoked(sessionID, reason string)
}

// SignalingClient maintains the robot's websocket to the Gateway signaling
// hub, rejoining with backoff after connection loss. Session revocation
// rides this channel, so the agent treats a prolonged outage as loss of
// the revocation path.
type SignalingClient struct {
	url     string
	robotID string
	logger  *zap.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	handler SignalingHandler

	done      chan struct{}
	closeOnce sync.Once
}

func NewSignalingClient(url, robotID string, logger *zap.Logger) *SignalingClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SignalingClient{
		url:     url,
		robotID: robotID,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// SetHandler registers the event handler. Must be called before Connect.
func (c *SignalingClient) SetHandler(h SignalingHandler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

// Connect dials the hub and processes messages until the context is
// cancelled or Close is called. Connection loss triggers exponential
// backoff reconnects.
func (c *SignalingClient) Connect(ctx context.Context) error {
	backoff := reconnectBase
	for {
		select {
		case <-ctx.Done():
			c.Close()
			return ctx.Err()
		case <-c.done:
			return nil
		default:
		}

		err := c.runConnection(ctx)
		if err == nil {
			return nil
		}

		c.logger.Warn("signaling connection lost, reconnecting",
			zap.Duration("backoff", backoff),
			zap.Error(err))

		select {
		case <-ctx.Done():
			c.Close()
			return ctx.Err()
		case <-c.done:
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > reconnectMax {
			backoff = reconnectMax
		}
	}
}

func (c *SignalingClient) runConnection(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, c.url, nil)
	cancel()
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		conn.Close()
	}()

	c.logger.Info("signaling connected", zap.String("url", c.url))

	// Announce on every (re)connect so the hub can push grants.
	if err := c.Announce(); err != nil {
		c.logger.Warn("robot announce failed", zap.Error(err))
	}

	for {
		var msg protocol.SignalMessage
		if err := conn.ReadJSON(&msg); err != nil {
			select {
			case <-c.done:
				return nil
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		c.dispatch(msg)
	}
}

// Announce parks this robot in the hub lobby so grant notifications for
// its robot id reach it.
func (c *SignalingClient) Announce() error {
	return c.send(protocol.SignalMessage{
		Type:    protocol.SignalJoin,
		Role:    protocol.RoleRobot,
		RobotID: c.robotID,
	})
}

// Join enters the session room. Called when a grant names this robot.
func (c *SignalingClient) Join(sessionID string) error {
	return c.send(protocol.SignalMessage{
		Type:      protocol.SignalJoin,
		SessionID: sessionID,
		Role:      protocol.RoleRobot,
		RobotID:   c.robotID,
	})
}

// SendAnswer relays the SDP answer to the operator.
func (c *SignalingClient) SendAnswer(sessionID string, answer []byte) error {
	return c.send(protocol.SignalMessage{
		Type:      protocol.SignalAnswer,
		SessionID: sessionID,
		SDP:       string(answer),
	})
}

// SendICE relays a local ICE candidate to the operator.
func (c *SignalingClient) SendICE(sessionID string, candidate []byte) error {
	var cand protocol.ICECandidate
	if err := json.Unmarshal(candidate, &cand); err != nil {
		return err
	}
	return c.send(protocol.SignalMessage{
		Type:      protocol.SignalICE,
		SessionID: sessionID,
		Candidate: &cand,
	})
}

// Done closes when the client is shut down.
func (c *SignalingClient) Done() <-chan struct{} {
	return c.done
}

// Close shuts the client down. Safe to call multiple times.
func (c *SignalingClient) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		if c.conn != nil {
			c.conn.Close()
		}
		c.mu.Unlock()
	})
	return nil
}

func (c *SignalingClient) send(msg protocol.SignalMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return errors.New("signaling not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(msg)
}

func (c *SignalingClient) dispatch(msg protocol.SignalMessage) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h == nil {
		return
	}

	switch msg.Type {
	case protocol.SignalOffer:
		h.OnOffer(msg.SessionID, msg.Token, []byte(msg.SDP))
	case protocol.SignalAnswer:
		h.OnAnswer(msg.SessionID, []byte(msg.SDP))
	case protocol.SignalICE:
		if msg.Candidate == nil {
			return
		}
		data, err := json.Marshal(msg.Candidate)
		if err != nil {
			return
		}
		h.OnICE(msg.SessionID, data)
	case protocol.SignalLeave:
		h.OnBye(msg.SessionID)
	case protocol.SignalRevoked:
		h.OnRevoked(msg.SessionID, msg.Reason)
	case protocol.SignalSessionState:
		c.logger.Info("session state",
			zap.String("session_id", msg.SessionID),
			zap.String("state", msg.State))
		if msg.State == protocol.SessionStateGranted {
			if err := c.Join(msg.SessionID); err != nil {
				c.logger.Error("failed to join granted session",
					zap.String("session_id", msg.SessionID),
					zap.Error(err))
			}
		}
	case protocol.SignalError:
		c.logger.Warn("signaling error from gateway",
			zap.String("session_id", msg.SessionID),
			zap.String("message", msg.Message))
	}
}
