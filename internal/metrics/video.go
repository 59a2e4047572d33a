package metrics

import (
	"sync/atomic"
	"time"
)

// clockOffsetThreshold is the glass-to-glass latency magnitude beyond which
// a sample is treated as wall-clock skew between the two peers rather than
// a real pipeline delay.
const clockOffsetThreshold = 100 * time.Millisecond

// VideoCollector correlates frame capture timestamps emitted by the robot
// with presentation timestamps observed at the operator. Samples are
// wall-clock deltas across two hosts, so negative or implausibly large
// values flag clock offset instead of polluting the latency distribution.
type VideoCollector struct {
	ring          *Ring
	offsetFlagged atomic.Bool
	offsetSamples atomic.Int64
}

func NewVideoCollector(capacity int) *VideoCollector {
	return &VideoCollector{ring: NewRing(capacity)}
}

// Record adds one capture→presentation sample.
func (c *VideoCollector) Record(capturedAt, presentedAt time.Time) {
	latency := presentedAt.Sub(capturedAt)
	if latency < 0 || latency > time.Second+clockOffsetThreshold {
		c.offsetFlagged.Store(true)
		c.offsetSamples.Add(1)
		return
	}
	c.ring.Record(latency)
}

// ClockOffsetSuspected reports whether any sample looked like clock skew.
func (c *VideoCollector) ClockOffsetSuspected() bool {
	return c.offsetFlagged.Load()
}

// OffsetSamples returns the number of samples rejected as clock skew.
func (c *VideoCollector) OffsetSamples() int64 {
	return c.offsetSamples.Load()
}

func (c *VideoCollector) Stats() Stats { return c.ring.Stats() }
