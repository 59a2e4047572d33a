// Package audit records session lifecycle and privileged-action events.
// Emission is asynchronous everywhere: an audit outage degrades the trail,
// never the control path.
package audit

import "time"

// EventType classifies an audit event.
type EventType string

const (
	EventSessionRequested        EventType = "SESSION_REQUESTED"
	EventSessionGranted          EventType = "SESSION_GRANTED"
	EventSessionStarted          EventType = "SESSION_STARTED"
	EventSessionEnded            EventType = "SESSION_ENDED"
	EventSessionRevoked          EventType = "SESSION_REVOKED"
	EventPrivilegedAction        EventType = "PRIVILEGED_ACTION"
	EventInvalidCommandThreshold EventType = "INVALID_COMMAND_THRESHOLD"
)

// Event is one audit record. Timestamp is always UTC.
type Event struct {
	EventType  EventType         `json:"event_type"`
	SessionID  string            `json:"session_id,omitempty"`
	RobotID    string            `json:"robot_id,omitempty"`
	OperatorID string            `json:"operator_id,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
	PolicyHash string            `json:"policy_hash,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}
