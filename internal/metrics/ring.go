// Package metrics collects latency samples into bounded ring buffers and
// renders quantile reports for the four measured paths: session setup,
// control round-trip, video latency, revocation propagation.
package metrics

import (
	"sort"
	"sync"
	"time"
)

const defaultRingCapacity = 1000

// Stats summarizes the samples currently held in a ring.
type Stats struct {
	Count int           `json:"count"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
	P50   time.Duration `json:"p50"`
	P95   time.Duration `json:"p95"`
	Avg   time.Duration `json:"avg"`
}

// Ring is a thread-safe fixed-capacity sample buffer. Once full, new
// samples overwrite the oldest.
type Ring struct {
	mu      sync.Mutex
	samples []time.Duration
	next    int
	full    bool
}

// NewRing creates a ring. Capacity 0 (or negative) selects the default of
// 1000 samples.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = defaultRingCapacity
	}
	return &Ring{samples: make([]time.Duration, capacity)}
}

// Record adds one sample.
func (r *Ring) Record(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.samples[r.next] = d
	r.next++
	if r.next == len(r.samples) {
		r.next = 0
		r.full = true
	}
}

// Len returns the number of samples held.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return len(r.samples)
	}
	return r.next
}

// Stats computes count, min, max, p50, p95 and mean over the held samples.
// Quantiles are sort-based: pN is the value at index ⌈N/100·count⌉-1.
func (r *Ring) Stats() Stats {
	r.mu.Lock()
	n := r.next
	if r.full {
		n = len(r.samples)
	}
	sorted := make([]time.Duration, n)
	copy(sorted, r.samples[:n])
	r.mu.Unlock()

	if n == 0 {
		return Stats{}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}

	return Stats{
		Count: n,
		Min:   sorted[0],
		Max:   sorted[n-1],
		P50:   quantile(sorted, 50),
		P95:   quantile(sorted, 95),
		Avg:   sum / time.Duration(n),
	}
}

func quantile(sorted []time.Duration, pct int) time.Duration {
	idx := (pct*len(sorted) + 99) / 100
	if idx < 1 {
		idx = 1
	}
	return sorted[idx-1]
}
