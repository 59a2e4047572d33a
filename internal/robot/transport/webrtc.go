// Package transport adapts the WebRTC peer connection for the robot side:
// the robot always answers, receives the operator's datachannel, and
// trickles ICE through the signaling client.
package transport

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// ICEConfig lists the STUN/TURN servers handed to the peer connection.
type ICEConfig struct {
	STUNServers []string
	TURNServers []string
}

// WebRTC wraps one peer connection at a time. Callbacks must be installed
// before HandleOffer; the datachannel is opened by the operator.
type WebRTC struct {
	ice    ICEConfig
	logger *zap.Logger

	mu            sync.Mutex
	pc            *webrtc.PeerConnection
	dc            *webrtc.DataChannel
	onICE         func([]byte)
	onData        func([]byte)
	onState       func(webrtc.PeerConnectionState)
	dataChanReady func()
}

func NewWebRTC(ice ICEConfig, logger *zap.Logger) *WebRTC {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebRTC{ice: ice, logger: logger}
}

// SetICECallback registers the sink for local ICE candidates, encoded as
// JSON candidate-init objects.
func (w *WebRTC) SetICECallback(fn func([]byte)) {
	w.mu.Lock()
	w.onICE = fn
	w.mu.Unlock()
}

// SetDataHandler registers the inbound datachannel message handler.
func (w *WebRTC) SetDataHandler(fn func([]byte)) {
	w.mu.Lock()
	w.onData = fn
	w.mu.Unlock()
}

// SetStateCallback registers the peer-connection state observer.
func (w *WebRTC) SetStateCallback(fn func(webrtc.PeerConnectionState)) {
	w.mu.Lock()
	w.onState = fn
	w.mu.Unlock()
}

// SetDataChannelReadyCallback fires once when the operator's datachannel
// opens.
func (w *WebRTC) SetDataChannelReadyCallback(fn func()) {
	w.mu.Lock()
	w.dataChanReady = fn
	w.mu.Unlock()
}

// CreatePeerConnection builds a fresh peer connection, replacing any
// previous one.
func (w *WebRTC) CreatePeerConnection() error {
	servers := make([]webrtc.ICEServer, 0, len(w.ice.STUNServers)+len(w.ice.TURNServers))
	for _, url := range w.ice.STUNServers {
		servers = append(servers, webrtc.ICEServer{URLs: []string{url}})
	}
	for _, url := range w.ice.TURNServers {
		servers = append(servers, webrtc.ICEServer{URLs: []string{url}})
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: servers})
	if err != nil {
		return err
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		data, err := json.Marshal(c.ToJSON())
		if err != nil {
			w.logger.Error("failed to encode ICE candidate", zap.Error(err))
			return
		}
		w.mu.Lock()
		fn := w.onICE
		w.mu.Unlock()
		if fn != nil {
			fn(data)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		w.logger.Info("peer connection state", zap.String("state", state.String()))
		w.mu.Lock()
		fn := w.onState
		w.mu.Unlock()
		if fn != nil {
			fn(state)
		}
	})

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		w.logger.Info("datachannel received", zap.String("label", dc.Label()))
		w.mu.Lock()
		w.dc = dc
		ready := w.dataChanReady
		w.mu.Unlock()

		dc.OnOpen(func() {
			w.logger.Info("datachannel open", zap.String("label", dc.Label()))
			if ready != nil {
				ready()
			}
		})
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			w.mu.Lock()
			fn := w.onData
			w.mu.Unlock()
			if fn != nil {
				fn(msg.Data)
			}
		})
	})

	w.mu.Lock()
	old := w.pc
	w.pc = pc
	w.dc = nil
	w.mu.Unlock()
	if old != nil {
		old.Close()
	}
	return nil
}

// HandleOffer applies the operator's SDP offer and returns the local
// answer. ICE trickles separately, so the answer is returned without
// waiting for gathering to finish.
func (w *WebRTC) HandleOffer(sdp []byte) ([]byte, error) {
	w.mu.Lock()
	pc := w.pc
	w.mu.Unlock()
	if pc == nil {
		return nil, errors.New("no peer connection")
	}

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: string(sdp)}
	if err := pc.SetRemoteDescription(offer); err != nil {
		return nil, err
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return nil, err
	}
	return []byte(answer.SDP), nil
}

// AddICECandidate applies a remote candidate encoded as a JSON
// candidate-init object.
func (w *WebRTC) AddICECandidate(data []byte) error {
	w.mu.Lock()
	pc := w.pc
	w.mu.Unlock()
	if pc == nil {
		return errors.New("no peer connection")
	}

	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(data, &init); err != nil {
		return err
	}
	return pc.AddICECandidate(init)
}

// SendData writes one message to the operator's datachannel.
func (w *WebRTC) SendData(data []byte) error {
	w.mu.Lock()
	dc := w.dc
	w.mu.Unlock()
	if dc == nil {
		return errors.New("datachannel not established")
	}
	if dc.ReadyState() != webrtc.DataChannelStateOpen {
		return errors.New("datachannel not open")
	}
	return dc.SendText(string(data))
}

// Close tears down the current peer connection. Safe to call repeatedly.
func (w *WebRTC) Close() error {
	w.mu.Lock()
	pc := w.pc
	w.pc = nil
	w.dc = nil
	w.mu.Unlock()
	if pc == nil {
		return nil
	}
	return pc.Close()
}
