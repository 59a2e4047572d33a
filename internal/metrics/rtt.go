package metrics

import (
	"sync"
	"time"
)

// RTTTracker measures control-channel round-trip time. The robot stamps
// each outgoing ping with a monotonic-clock reading and matches the pong by
// sequence number; unmatched pings age out when their sequence is reused.
type RTTTracker struct {
	ring *Ring

	mu       sync.Mutex
	inflight map[uint64]time.Time
	seq      uint64
}

func NewRTTTracker(capacity int) *RTTTracker {
	return &RTTTracker{
		ring:     NewRing(capacity),
		inflight: make(map[uint64]time.Time),
	}
}

// Ping registers an outgoing ping and returns its sequence number.
func (t *RTTTracker) Ping() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq++
	t.inflight[t.seq] = time.Now()
	return t.seq
}

// Pong matches a returning pong. Unknown sequences are ignored.
func (t *RTTTracker) Pong(seq uint64) (time.Duration, bool) {
	t.mu.Lock()
	sent, ok := t.inflight[seq]
	if ok {
		delete(t.inflight, seq)
	}
	t.mu.Unlock()

	if !ok {
		return 0, false
	}
	rtt := time.Since(sent)
	t.ring.Record(rtt)
	return rtt, true
}

// Drop forgets an in-flight ping that will never be answered.
func (t *RTTTracker) Drop(seq uint64) {
	t.mu.Lock()
	delete(t.inflight, seq)
	t.mu.Unlock()
}

func (t *RTTTracker) Stats() Stats { return t.ring.Stats() }
