package metrics

import "time"

// SetupTimestamps captures the session establishment sequence at the robot.
type SetupTimestamps struct {
	SessionID             string    `json:"session_id"`
	OfferReceived         time.Time `json:"offer_received"`
	TokenValidated        time.Time `json:"token_validated"`
	PeerConnectionCreated time.Time `json:"peer_connection_created"`
	AnswerSent            time.Time `json:"answer_sent"`
	ConnectionEstablished time.Time `json:"connection_established"`
	SessionActivated      time.Time `json:"session_activated"`
	DataChannelReady      time.Time `json:"data_channel_ready"`
}

// Total is the offer-to-datachannel duration, the figure compared against
// the session setup target.
func (ts SetupTimestamps) Total() time.Duration {
	return ts.DataChannelReady.Sub(ts.OfferReceived)
}

// SetupCollector records session setup durations.
type SetupCollector struct {
	ring *Ring
}

func NewSetupCollector(capacity int) *SetupCollector {
	return &SetupCollector{ring: NewRing(capacity)}
}

func (c *SetupCollector) Record(ts SetupTimestamps) {
	c.ring.Record(ts.Total())
}

func (c *SetupCollector) Stats() Stats { return c.ring.Stats() }
