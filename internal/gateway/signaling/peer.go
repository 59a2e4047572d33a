package signaling

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/datapilot/chainkvm/pkg/protocol"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	writeWait  = 10 * time.Second
	maxMsgSize = 64 * 1024
	sendBuffer = 64
)

// peer is one side of a signaling room. All writes go through the send
// channel into writePump, the only goroutine that touches conn for writes;
// readPump is the only reader.
type peer struct {
	hub       *Hub
	conn      *websocket.Conn
	role      string
	sessionID string
	remoteID  string // operator DID or robot id, set at join
	token     string // operator capability token, relayed with the offer

	send chan []byte
	done chan struct{}
	once sync.Once
}

func newPeer(hub *Hub, conn *websocket.Conn) *peer {
	return &peer{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

// enqueue hands a message to the write pump without blocking. A peer that
// cannot keep up loses messages rather than stalling the hub.
func (p *peer) enqueue(msg protocol.SignalMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case p.send <- data:
	default:
		p.hub.logger.Warn("signaling send buffer full, dropping message",
			zap.String("session_id", p.sessionID),
			zap.String("role", p.role),
			zap.String("type", msg.Type))
	}
}

// close signals shutdown. The connection itself is closed by writePump
// after it flushes what is already queued, so a rejection message enqueued
// just before close still reaches the peer.
func (p *peer) close() {
	p.once.Do(func() {
		close(p.done)
		p.hub.detach(p)
	})
}

func (p *peer) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		p.close()
		p.conn.Close()
	}()

	for {
		select {
		case data, ok := <-p.send:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				p.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

			// Drain whatever queued up behind this message.
			n := len(p.send)
			for i := 0; i < n; i++ {
				if err := p.conn.WriteMessage(websocket.TextMessage, <-p.send); err != nil {
					return
				}
			}

		case <-ticker.C:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-p.done:
			for {
				select {
				case data := <-p.send:
					p.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
						return
					}
				default:
					p.conn.SetWriteDeadline(time.Now().Add(writeWait))
					p.conn.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
			}
		}
	}
}

func (p *peer) readPump() {
	defer p.close()

	p.conn.SetReadLimit(maxMsgSize)
	p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		p.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, payload, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				p.hub.logger.Debug("signaling read error",
					zap.String("session_id", p.sessionID),
					zap.Error(err))
			}
			return
		}

		var msg protocol.SignalMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			p.enqueue(errorMessage("", "invalid signaling message"))
			continue
		}

		if !p.hub.handleMessage(p, msg) {
			return
		}
	}
}

func errorMessage(sessionID, reason string) protocol.SignalMessage {
	return protocol.SignalMessage{
		Type:      protocol.SignalError,
		SessionID: sessionID,
		Message:   reason,
	}
}
