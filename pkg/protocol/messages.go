// Package protocol defines the wire formats shared by the Gateway, the
// Robot Agent, and the operator console: datachannel control messages,
// signaling envelopes, error codes, and observable state enums.
//
// All datachannel messages are JSON text. Fields named `t` carry Unix
// milliseconds; `t_mono` fields carry peer-local monotonic nanoseconds and
// are only meaningful to the peer that produced them (ping/pong pairing).
package protocol

import (
	"encoding/json"
	"fmt"
)

// Datachannel message types.
const (
	TypeAuth           = "auth"
	TypeDrive          = "drive"
	TypeKVMKey         = "kvm_key"
	TypeKVMMouse       = "kvm_mouse"
	TypeEStop          = "e_stop"
	TypePing           = "ping"
	TypePong           = "pong"
	TypeFrameTimestamp = "frame_timestamp"
	TypeAck            = "ack"
	TypeError          = "error"
	TypeState          = "state"
)

// KnownTypes lists every datachannel message type the router recognizes.
var KnownTypes = map[string]bool{
	TypeAuth:           true,
	TypeDrive:          true,
	TypeKVMKey:         true,
	TypeKVMMouse:       true,
	TypeEStop:          true,
	TypePing:           true,
	TypePong:           true,
	TypeFrameTimestamp: true,
	TypeAck:            true,
	TypeError:          true,
	TypeState:          true,
}

// Envelope is the minimal head decoded to demultiplex an inbound message.
type Envelope struct {
	Type string `json:"type"`
}

// DecodeType reads the message type from a raw datachannel payload.
func DecodeType(data []byte) (string, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("undecodable message head: %w", err)
	}
	if env.Type == "" {
		return "", fmt.Errorf("message has no type field")
	}
	return env.Type, nil
}

// AuthMessage presents the capability token on the datachannel before any
// control traffic is accepted.
type AuthMessage struct {
	Type  string `json:"type"`
	Token string `json:"token"`
	T     int64  `json:"t"`
}

// DriveMessage carries a differential-drive command.
type DriveMessage struct {
	Type string  `json:"type"`
	V    float64 `json:"v"` // linear velocity, m/s
	W    float64 `json:"w"` // angular velocity, rad/s
	T    int64   `json:"t"`
}

// KVMKeyMessage carries a keyboard event.
type KVMKeyMessage struct {
	Type      string   `json:"type"`
	Key       string   `json:"key"`
	Action    string   `json:"action"` // "down" or "up"
	Modifiers []string `json:"modifiers,omitempty"`
	T         int64    `json:"t"`
}

// KVMMouseMessage carries a relative mouse event.
type KVMMouseMessage struct {
	Type    string `json:"type"`
	DX      int    `json:"dx"`
	DY      int    `json:"dy"`
	Buttons int    `json:"buttons"`
	Scroll  int    `json:"scroll,omitempty"`
	T       int64  `json:"t"`
}

// EStopMessage is the explicit operator emergency stop.
type EStopMessage struct {
	Type string `json:"type"`
	T    int64  `json:"t"`
}

// PingMessage is sent by the robot to measure control-channel RTT. The
// monotonic timestamp is echoed back verbatim in the matching pong.
type PingMessage struct {
	Type  string `json:"type"`
	Seq   uint64 `json:"seq"`
	TMono int64  `json:"t_mono"`
}

// PongMessage echoes a ping.
type PongMessage struct {
	Type  string `json:"type"`
	Seq   uint64 `json:"seq"`
	TMono int64  `json:"t_mono"`
	TRecv int64  `json:"t_recv"`
}

// FrameTimestampMessage marks the capture time of every Nth video frame so
// the operator can correlate it with decoded-frame presentation time.
type FrameTimestampMessage struct {
	Type           string `json:"type"`
	Timestamp      int64  `json:"timestamp"` // capture time, Unix ms
	FrameID        uint64 `json:"frame_id"`
	SequenceNumber uint64 `json:"sequence_number"`
}

// AckMessage acknowledges a processed control command.
type AckMessage struct {
	Type    string `json:"type"`
	RefType string `json:"ref_type"`
	RefT    int64  `json:"ref_t"`
}

// ErrorMessage reports a protocol-level rejection to the sender.
type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Reason  string `json:"reason,omitempty"`
	RefType string `json:"ref_type,omitempty"`
	RefT    int64  `json:"ref_t,omitempty"`
}

// StateMessage notifies the operator of a robot/session state change.
type StateMessage struct {
	Type         string     `json:"type"`
	RobotState   RobotState `json:"robot_state"`
	SessionState string     `json:"session_state"`
	T            int64      `json:"t"`
}
