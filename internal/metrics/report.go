package metrics

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Targets holds the p95 budgets the report compares against.
type Targets struct {
	SessionSetup      time.Duration `json:"session_setup"`
	ControlRTT        time.Duration `json:"control_rtt"`
	VideoLatency      time.Duration `json:"video_latency"`
	RevocationLatency time.Duration `json:"revocation_latency"`
}

// Target profiles for the two measured environments.
var (
	LANTargets = Targets{
		SessionSetup:      2 * time.Second,
		ControlRTT:        50 * time.Millisecond,
		VideoLatency:      200 * time.Millisecond,
		RevocationLatency: 200 * time.Millisecond,
	}
	WANTargets = Targets{
		SessionSetup:      5 * time.Second,
		ControlRTT:        150 * time.Millisecond,
		VideoLatency:      400 * time.Millisecond,
		RevocationLatency: 500 * time.Millisecond,
	}
)

// Section is one collector's contribution to the report.
type Section struct {
	Name        string        `json:"name"`
	Stats       Stats         `json:"stats"`
	Target      time.Duration `json:"target"`
	MeetsTarget bool          `json:"meets_target"`
}

// Report aggregates every collector against a target profile.
type Report struct {
	GeneratedAt         time.Time `json:"generated_at"`
	Sections            []Section `json:"sections"`
	ClockOffsetDetected bool      `json:"clock_offset_detected"`
}

// Reporter binds the four collectors for report generation. Any collector
// may be nil and is then omitted from the report.
type Reporter struct {
	Setup      *SetupCollector
	RTT        *RTTTracker
	Video      *VideoCollector
	Revocation *RevocationCollector
}

// Report renders the current samples against the given targets. A section
// with no samples trivially meets its target.
func (r *Reporter) Report(targets Targets) Report {
	report := Report{GeneratedAt: time.Now().UTC()}

	add := func(name string, stats Stats, target time.Duration) {
		report.Sections = append(report.Sections, Section{
			Name:        name,
			Stats:       stats,
			Target:      target,
			MeetsTarget: stats.Count == 0 || stats.P95 <= target,
		})
	}

	if r.Setup != nil {
		add("session_setup", r.Setup.Stats(), targets.SessionSetup)
	}
	if r.RTT != nil {
		add("control_rtt", r.RTT.Stats(), targets.ControlRTT)
	}
	if r.Video != nil {
		add("video_latency", r.Video.Stats(), targets.VideoLatency)
		report.ClockOffsetDetected = r.Video.ClockOffsetSuspected()
	}
	if r.Revocation != nil {
		add("revocation_latency", r.Revocation.Stats(), targets.RevocationLatency)
	}
	return report
}

// MeetsAll reports whether every section is within target.
func (rep Report) MeetsAll() bool {
	for _, s := range rep.Sections {
		if !s.MeetsTarget {
			return false
		}
	}
	return true
}

// JSON renders the report for machine consumption.
func (rep Report) JSON() ([]byte, error) {
	return json.MarshalIndent(rep, "", "  ")
}

// String renders the report for humans.
func (rep Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "latency report (%s)\n", rep.GeneratedAt.Format(time.RFC3339))
	for _, s := range rep.Sections {
		verdict := "OK"
		if !s.MeetsTarget {
			verdict = "MISS"
		}
		fmt.Fprintf(&b, "  %-20s n=%-5d p50=%-10s p95=%-10s avg=%-10s target=%-10s %s\n",
			s.Name, s.Stats.Count, s.Stats.P50, s.Stats.P95, s.Stats.Avg, s.Target, verdict)
	}
	if rep.ClockOffsetDetected {
		b.WriteString("  warning: wall-clock offset detected between peers, video latency undercounted\n")
	}
	return b.String()
}
