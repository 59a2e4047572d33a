// Package signaling relays WebRTC session negotiation between an operator
// and a robot. Each session id maps to a room of at most two peers; the
// Gateway never sees media or control traffic, only SDP and ICE.
package signaling

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/datapilot/chainkvm/pkg/protocol"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Authorizer decides whether a peer may join a session room.
type Authorizer interface {
	// AuthorizeOperator validates a capability token for the session and
	// returns the operator identity bound to it.
	AuthorizeOperator(sessionID, token string) (operatorID string, err error)
	// AuthorizeRobot checks that the robot id matches the session grant.
	AuthorizeRobot(sessionID, robotID string) error
}

type room struct {
	operator *peer
	robot    *peer
}

func (r *room) other(p *peer) *peer {
	if p.role == protocol.RoleOperator {
		return r.robot
	}
	return r.operator
}

func (r *room) full() bool {
	return r.operator != nil && r.robot != nil
}

func (r *room) empty() bool {
	return r.operator == nil && r.robot == nil
}

// Hub owns every signaling room. Join admission goes through the
// Authorizer; everything after admission is pure relay.
type Hub struct {
	auth   Authorizer
	logger *zap.Logger

	mu    sync.RWMutex
	rooms map[string]*room
	lobby map[string]*peer // announced robots awaiting a grant, by robot id
}

// HubStats is a point-in-time snapshot for the status endpoint.
type HubStats struct {
	Rooms      int `json:"rooms"`
	ReadyRooms int `json:"ready_rooms"`
	Peers      int `json:"peers"`
}

func NewHub(auth Authorizer, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		auth:   auth,
		logger: logger,
		rooms:  make(map[string]*room),
		lobby:  make(map[string]*peer),
	}
}

// HandleWS upgrades the connection and runs the peer pumps. The first
// message must be a join; everything before admission is rejected.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("signaling upgrade failed", zap.Error(err))
		return
	}

	p := newPeer(h, conn)
	go p.writePump()
	p.readPump()
}

// handleMessage processes one inbound message. Returning false tells the
// read pump to drop the connection.
func (h *Hub) handleMessage(p *peer, msg protocol.SignalMessage) bool {
	if msg.Type == protocol.SignalJoin {
		return h.join(p, msg)
	}

	if p.sessionID == "" {
		p.enqueue(errorMessage(msg.SessionID, "join required before signaling"))
		return false
	}

	switch msg.Type {
	case protocol.SignalOffer:
		if p.role != protocol.RoleOperator {
			p.enqueue(errorMessage(p.sessionID, "only the operator sends offers"))
			return true
		}
		h.relay(p, msg)
	case protocol.SignalAnswer:
		if p.role != protocol.RoleRobot {
			p.enqueue(errorMessage(p.sessionID, "only the robot sends answers"))
			return true
		}
		h.relay(p, msg)
	case protocol.SignalICE:
		h.relay(p, msg)
	case protocol.SignalLeave:
		// Dropping the connection runs detach, which sends the leave to
		// the other peer. Relaying here too would deliver it twice.
		return false
	default:
		p.enqueue(errorMessage(p.sessionID, "unknown signaling type: "+msg.Type))
	}
	return true
}

func (h *Hub) join(p *peer, msg protocol.SignalMessage) bool {
	if p.sessionID != "" {
		p.enqueue(errorMessage(p.sessionID, "already joined"))
		return true
	}
	if msg.SessionID == "" {
		// A robot with no session yet announces itself and waits in the
		// lobby for a grant notification.
		if msg.Role == protocol.RoleRobot && msg.RobotID != "" {
			return h.announce(p, msg.RobotID)
		}
		p.enqueue(errorMessage("", "join requires a session id"))
		return false
	}

	var remoteID string
	switch msg.Role {
	case protocol.RoleOperator:
		operatorID, err := h.auth.AuthorizeOperator(msg.SessionID, msg.Token)
		if err != nil {
			h.logger.Warn("operator join rejected",
				zap.String("session_id", msg.SessionID),
				zap.Error(err))
			p.enqueue(errorMessage(msg.SessionID, "unauthorized"))
			return false
		}
		remoteID = operatorID
	case protocol.RoleRobot:
		if err := h.auth.AuthorizeRobot(msg.SessionID, msg.RobotID); err != nil {
			h.logger.Warn("robot join rejected",
				zap.String("session_id", msg.SessionID),
				zap.String("robot_id", msg.RobotID),
				zap.Error(err))
			p.enqueue(errorMessage(msg.SessionID, "unauthorized"))
			return false
		}
		remoteID = msg.RobotID
	default:
		p.enqueue(errorMessage(msg.SessionID, "role must be operator or robot"))
		return false
	}

	h.mu.Lock()
	rm, ok := h.rooms[msg.SessionID]
	if !ok {
		rm = &room{}
		h.rooms[msg.SessionID] = rm
	}
	if (msg.Role == protocol.RoleOperator && rm.operator != nil) ||
		(msg.Role == protocol.RoleRobot && rm.robot != nil) {
		h.mu.Unlock()
		p.enqueue(errorMessage(msg.SessionID, "role already connected for session"))
		return false
	}

	p.role = msg.Role
	p.sessionID = msg.SessionID
	p.remoteID = remoteID
	if msg.Role == protocol.RoleOperator {
		p.token = msg.Token
	}
	if msg.Role == protocol.RoleOperator {
		rm.operator = p
	} else {
		rm.robot = p
	}
	ready := rm.full()
	h.mu.Unlock()

	h.logger.Info("peer joined signaling room",
		zap.String("session_id", msg.SessionID),
		zap.String("role", msg.Role))

	if ready {
		state := protocol.SignalMessage{
			Type:      protocol.SignalSessionState,
			SessionID: msg.SessionID,
			State:     protocol.SessionStateReady,
		}
		h.mu.RLock()
		op, rb := rm.operator, rm.robot
		h.mu.RUnlock()
		if op != nil {
			op.enqueue(state)
		}
		if rb != nil {
			rb.enqueue(state)
		}
	}
	return true
}

// announce parks a robot connection in the lobby. A later grant for this
// robot id triggers a notification; the session join then authorizes
// against the registry as usual.
func (h *Hub) announce(p *peer, robotID string) bool {
	h.mu.Lock()
	prev := h.lobby[robotID]
	p.remoteID = robotID
	h.lobby[robotID] = p
	h.mu.Unlock()

	// A reconnecting robot replaces its stale connection.
	if prev != nil && prev != p {
		prev.close()
	}

	h.logger.Info("robot announced", zap.String("robot_id", robotID))
	return true
}

// NotifyGrant tells an announced robot that a session names it. Returns
// false when the robot has no standing connection.
func (h *Hub) NotifyGrant(sessionID, robotID string) bool {
	h.mu.RLock()
	p := h.lobby[robotID]
	h.mu.RUnlock()
	if p == nil {
		return false
	}

	p.enqueue(protocol.SignalMessage{
		Type:      protocol.SignalSessionState,
		SessionID: sessionID,
		RobotID:   robotID,
		State:     protocol.SessionStateGranted,
	})
	return true
}

// relay forwards a message to the other side of the room, stamping the
// sender's session id so a peer cannot signal into another session.
func (h *Hub) relay(p *peer, msg protocol.SignalMessage) {
	msg.SessionID = p.sessionID
	msg.Role = p.role
	// The robot validates the capability token before answering, so the
	// offer carries the operator's admission token along.
	if msg.Type == protocol.SignalOffer {
		msg.Token = p.token
	}

	h.mu.RLock()
	rm := h.rooms[p.sessionID]
	var other *peer
	if rm != nil {
		other = rm.other(p)
	}
	h.mu.RUnlock()

	if other == nil {
		return
	}
	other.enqueue(msg)
}

// PushRevoked notifies every peer in the session room that the session was
// revoked, then tears the room down. Returns the number of peers notified.
func (h *Hub) PushRevoked(sessionID, reason string) int {
	h.mu.Lock()
	rm, ok := h.rooms[sessionID]
	if !ok {
		h.mu.Unlock()
		return 0
	}
	peers := make([]*peer, 0, 2)
	if rm.operator != nil {
		peers = append(peers, rm.operator)
	}
	if rm.robot != nil {
		peers = append(peers, rm.robot)
	}
	delete(h.rooms, sessionID)
	h.mu.Unlock()

	msg := protocol.SignalMessage{
		Type:      protocol.SignalRevoked,
		SessionID: sessionID,
		Reason:    reason,
	}
	for _, p := range peers {
		p.enqueue(msg)
	}

	h.logger.Info("revocation pushed to signaling room",
		zap.String("session_id", sessionID),
		zap.Int("peers", len(peers)))
	return len(peers)
}

// detach removes a peer from its room and the lobby; the last peer out
// removes the room. The peer left behind, whether by an explicit leave or
// an abrupt disconnect, is told via a leave message so it can tear the
// session down.
func (h *Hub) detach(p *peer) {
	h.mu.Lock()

	if p.remoteID != "" && h.lobby[p.remoteID] == p {
		delete(h.lobby, p.remoteID)
	}
	if p.sessionID == "" {
		h.mu.Unlock()
		return
	}

	rm, ok := h.rooms[p.sessionID]
	if !ok {
		h.mu.Unlock()
		return
	}
	var other *peer
	if rm.operator == p {
		rm.operator = nil
		other = rm.robot
	}
	if rm.robot == p {
		rm.robot = nil
		other = rm.operator
	}
	if rm.empty() {
		delete(h.rooms, p.sessionID)
	}
	h.mu.Unlock()

	if other != nil {
		other.enqueue(protocol.SignalMessage{
			Type:      protocol.SignalLeave,
			SessionID: p.sessionID,
			Role:      p.role,
		})
	}
}

// Stats reports room occupancy.
func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	stats := HubStats{Rooms: len(h.rooms)}
	for _, rm := range h.rooms {
		if rm.full() {
			stats.ReadyRooms++
		}
		if rm.operator != nil {
			stats.Peers++
		}
		if rm.robot != nil {
			stats.Peers++
		}
	}
	return stats
}
