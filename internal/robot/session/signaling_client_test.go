package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datapilot/chainkvm/internal/gateway/registry"
	"github.com/datapilot/chainkvm/internal/gateway/signaling"
	"github.com/datapilot/chainkvm/internal/gateway/token"
	"github.com/datapilot/chainkvm/pkg/protocol"
)

type recordingHandler struct {
	mu         sync.Mutex
	offers     []string
	ice        [][]byte
	byes       []string
	revoked    []string
	reasons    []string
	offerSDP   []byte
	offerToken string
}

func (h *recordingHandler) OnOffer(sessionID, token string, sdp []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.offers = append(h.offers, sessionID)
	h.offerToken = token
	h.offerSDP = sdp
}

func (h *recordingHandler) OnAnswer(string, []byte) {}

func (h *recordingHandler) OnICE(_ string, candidate []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ice = append(h.ice, candidate)
}

func (h *recordingHandler) OnBye(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.byes = append(h.byes, sessionID)
}

func (h *recordingHandler) OnRevoked(sessionID, reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.revoked = append(h.revoked, sessionID)
	h.reasons = append(h.reasons, reason)
}

type clientFixture struct {
	client   *SignalingClient
	handler  *recordingHandler
	hub      *signaling.Hub
	operator *websocket.Conn
	token    string
}

// newClientFixture stands up a real hub, joins the robot client and an
// operator into one session room, and waits for the room to become ready.
func newClientFixture(t *testing.T) *clientFixture {
	t.Helper()

	km, err := token.NewEphemeralKeyManager()
	require.NoError(t, err)
	reg := registry.New(registry.NewRevocationCache(0), nil, nil)
	hub := signaling.NewHub(signaling.NewRegistryAuthorizer(km.PublicKey(), reg), nil)

	server := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(server.Close)
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	minted, err := token.NewGenerator(km).Generate("did:key:operator", "robot-001", "sess-1", []string{"teleop:control"}, time.Minute)
	require.NoError(t, err)
	reg.Register(registry.Entry{
		TokenID:    minted.TokenID,
		SessionID:  "sess-1",
		OperatorID: "did:key:operator",
		RobotID:    "robot-001",
		ExpiresAt:  minted.ExpiresAt,
	})

	handler := &recordingHandler{}
	client := NewSignalingClient(wsURL, "robot-001", nil)
	client.SetHandler(handler)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go client.Connect(ctx)
	t.Cleanup(func() { client.Close() })

	// The client announces itself on connect; once the hub sees it, a
	// grant notification makes it join the session room on its own.
	require.Eventually(t, func() bool {
		return hub.NotifyGrant("sess-1", "robot-001")
	}, 2*time.Second, 10*time.Millisecond)

	operator, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { operator.Close() })
	require.NoError(t, operator.WriteJSON(protocol.SignalMessage{
		Type: protocol.SignalJoin, SessionID: "sess-1",
		Role: protocol.RoleOperator, Token: minted.Signed,
	}))

	// session_state ready confirms both peers are in the room.
	operator.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ready protocol.SignalMessage
	require.NoError(t, operator.ReadJSON(&ready))
	require.Equal(t, protocol.SignalSessionState, ready.Type)

	return &clientFixture{client: client, handler: handler, hub: hub, operator: operator, token: minted.Signed}
}

func TestSignalingClient_ReceivesOfferSendsAnswer(t *testing.T) {
	f := newClientFixture(t)

	require.NoError(t, f.operator.WriteJSON(protocol.SignalMessage{
		Type: protocol.SignalOffer, SDP: "v=0 offer",
	}))

	require.Eventually(t, func() bool {
		f.handler.mu.Lock()
		defer f.handler.mu.Unlock()
		return len(f.handler.offers) == 1
	}, 2*time.Second, 10*time.Millisecond)

	f.handler.mu.Lock()
	assert.Equal(t, "sess-1", f.handler.offers[0])
	assert.Equal(t, "v=0 offer", string(f.handler.offerSDP))
	assert.Equal(t, f.token, f.handler.offerToken, "offer carries the admission token")
	f.handler.mu.Unlock()

	require.NoError(t, f.client.SendAnswer("sess-1", []byte("v=0 answer")))

	f.operator.SetReadDeadline(time.Now().Add(2 * time.Second))
	var answer protocol.SignalMessage
	require.NoError(t, f.operator.ReadJSON(&answer))
	assert.Equal(t, protocol.SignalAnswer, answer.Type)
	assert.Equal(t, "v=0 answer", answer.SDP)
}

func TestSignalingClient_ICERoundTrip(t *testing.T) {
	f := newClientFixture(t)

	require.NoError(t, f.client.SendICE("sess-1", []byte(`{"candidate":"candidate:robot-1"}`)))

	f.operator.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ice protocol.SignalMessage
	require.NoError(t, f.operator.ReadJSON(&ice))
	require.Equal(t, protocol.SignalICE, ice.Type)
	require.NotNil(t, ice.Candidate)
	assert.Equal(t, "candidate:robot-1", ice.Candidate.Candidate)

	require.NoError(t, f.operator.WriteJSON(protocol.SignalMessage{
		Type:      protocol.SignalICE,
		Candidate: &protocol.ICECandidate{Candidate: "candidate:op-1"},
	}))

	require.Eventually(t, func() bool {
		f.handler.mu.Lock()
		defer f.handler.mu.Unlock()
		return len(f.handler.ice) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSignalingClient_RevocationDelivered(t *testing.T) {
	f := newClientFixture(t)

	f.hub.PushRevoked("sess-1", "operator credential revoked")

	require.Eventually(t, func() bool {
		f.handler.mu.Lock()
		defer f.handler.mu.Unlock()
		return len(f.handler.revoked) == 1
	}, 2*time.Second, 10*time.Millisecond)

	f.handler.mu.Lock()
	assert.Equal(t, "sess-1", f.handler.revoked[0])
	assert.Equal(t, "operator credential revoked", f.handler.reasons[0])
	f.handler.mu.Unlock()
}

func TestSignalingClient_SendBeforeConnect(t *testing.T) {
	client := NewSignalingClient("ws://127.0.0.1:1/ws", "robot-001", nil)
	assert.Error(t, client.SendAnswer("sess-1", []byte("v=0")))
}
