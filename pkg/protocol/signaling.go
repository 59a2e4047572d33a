package protocol

// Signaling message types exchanged over the Gateway websocket.
const (
	SignalJoin         = "join"
	SignalOffer        = "offer"
	SignalAnswer       = "answer"
	SignalICE          = "ice"
	SignalLeave        = "leave"
	SignalSessionState = "session_state"
	SignalRevoked      = "revoked"
	SignalError        = "error"
)

// Peer roles inside a signaling room.
const (
	RoleOperator = "operator"
	RoleRobot    = "robot"
)

// SessionStateReady is pushed to both peers once the room is full and
// SDP/ICE exchange may begin.
const SessionStateReady = "ready"

// SessionStateGranted is pushed to an announced robot when a session names
// it; the robot responds by joining the session room.
const SessionStateGranted = "granted"

// ICECandidate mirrors the browser RTCIceCandidateInit dictionary.
type ICECandidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// SignalMessage is the envelope for every signaling exchange. Fields are
// populated according to Type; unused fields are omitted on the wire.
type SignalMessage struct {
	Type      string        `json:"type"`
	SessionID string        `json:"session_id,omitempty"`
	Role      string        `json:"role,omitempty"`
	Token     string        `json:"token,omitempty"`
	RobotID   string        `json:"robot_id,omitempty"`
	SDP       string        `json:"sdp,omitempty"`
	Candidate *ICECandidate `json:"candidate,omitempty"`
	State     string        `json:"state,omitempty"`
	Reason    string        `json:"reason,omitempty"`
	Code      string        `json:"code,omitempty"`
	Message   string        `json:"message,omitempty"`
}
