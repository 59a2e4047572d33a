package metrics

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testReporter() *Reporter {
	return &Reporter{
		Setup:      NewSetupCollector(0),
		RTT:        NewRTTTracker(0),
		Video:      NewVideoCollector(0),
		Revocation: NewRevocationCollector(0),
	}
}

func TestReport_EmptyCollectorsMeetTargets(t *testing.T) {
	rep := testReporter().Report(LANTargets)
	require.Len(t, rep.Sections, 4)
	assert.True(t, rep.MeetsAll())
}

func TestReport_MissedTargetFlagged(t *testing.T) {
	r := testReporter()
	start := time.Now()
	for i := 0; i < 20; i++ {
		r.Revocation.Record(RevocationTimestamps{
			MessageReceived:   start,
			SafeStopCompleted: start.Add(900 * time.Millisecond),
		})
	}

	rep := r.Report(LANTargets)
	assert.False(t, rep.MeetsAll())

	var revocation *Section
	for i := range rep.Sections {
		if rep.Sections[i].Name == "revocation_latency" {
			revocation = &rep.Sections[i]
		}
	}
	require.NotNil(t, revocation)
	assert.False(t, revocation.MeetsTarget)
	assert.Equal(t, 900*time.Millisecond, revocation.Stats.P95)
}

func TestReport_WANTargetsLooser(t *testing.T) {
	r := testReporter()
	start := time.Now()
	for i := 0; i < 20; i++ {
		r.Revocation.Record(RevocationTimestamps{
			MessageReceived:   start,
			SafeStopCompleted: start.Add(400 * time.Millisecond),
		})
	}

	assert.False(t, r.Report(LANTargets).MeetsAll())
	assert.True(t, r.Report(WANTargets).MeetsAll())
}

func TestReport_Renderings(t *testing.T) {
	r := testReporter()
	start := time.Now()
	r.Setup.Record(SetupTimestamps{OfferReceived: start, DataChannelReady: start.Add(time.Second)})
	r.Video.Record(start, start.Add(-500*time.Millisecond))

	rep := r.Report(LANTargets)
	assert.True(t, rep.ClockOffsetDetected)

	data, err := rep.JSON()
	require.NoError(t, err)
	var decoded Report
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Len(t, decoded.Sections, 4)

	human := rep.String()
	assert.Contains(t, human, "session_setup")
	assert.Contains(t, human, "clock offset")
}
