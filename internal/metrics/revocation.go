package metrics

import "time"

// RevocationTimestamps captures the revocation propagation sequence from
// the signaling message arriving at the robot to safe-stop completion.
type RevocationTimestamps struct {
	SessionID          string    `json:"session_id"`
	MessageReceived    time.Time `json:"message_received"`
	HandlerStarted     time.Time `json:"handler_started"`
	TransportClosed    time.Time `json:"transport_closed"`
	SessionTerminated  time.Time `json:"session_terminated"`
	SafeStopTriggered  time.Time `json:"safe_stop_triggered"`
	HardwareStopIssued time.Time `json:"hardware_stop_issued"`
	SafeStopCompleted  time.Time `json:"safe_stop_completed"`
}

// Total is the message-to-safe-stop duration.
func (ts RevocationTimestamps) Total() time.Duration {
	return ts.SafeStopCompleted.Sub(ts.MessageReceived)
}

// RevocationCollector records end-to-end revocation latencies.
type RevocationCollector struct {
	ring *Ring
}

func NewRevocationCollector(capacity int) *RevocationCollector {
	return &RevocationCollector{ring: NewRing(capacity)}
}

func (c *RevocationCollector) Record(ts RevocationTimestamps) {
	c.ring.Record(ts.Total())
}

func (c *RevocationCollector) Stats() Stats { return c.ring.Stats() }
