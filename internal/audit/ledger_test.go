package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLedger_AppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit-ledger.jsonl")
	ledger, err := OpenFileLedger(path)
	require.NoError(t, err)

	require.NoError(t, ledger.Write(Event{
		EventType: EventSessionGranted,
		SessionID: "sess-1",
		RobotID:   "robot-001",
		Timestamp: time.Now().UTC(),
	}))
	require.NoError(t, ledger.Write(Event{
		EventType: EventSessionEnded,
		SessionID: "sess-1",
		Timestamp: time.Now().UTC(),
	}))
	require.NoError(t, ledger.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var event Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &event))
		events = append(events, event)
	}
	require.NoError(t, scanner.Err())

	require.Len(t, events, 2)
	assert.Equal(t, EventSessionGranted, events[0].EventType)
	assert.Equal(t, "robot-001", events[0].RobotID)
	assert.Equal(t, EventSessionEnded, events[1].EventType)
}

func TestFileLedger_ConcurrentWritesDoNotInterleave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit-ledger.jsonl")
	ledger, err := OpenFileLedger(path)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = ledger.Write(Event{
					EventType: EventPrivilegedAction,
					SessionID: "sess-1",
					Timestamp: time.Now().UTC(),
					Metadata:  map[string]string{"action": "teleop:estop"},
				})
			}
		}()
	}
	wg.Wait()
	require.NoError(t, ledger.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	lines := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var event Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &event), "every line is standalone JSON")
		lines++
	}
	assert.Equal(t, 500, lines)
}

func TestMemorySink(t *testing.T) {
	sink := NewMemorySink()
	require.NoError(t, sink.Write(Event{EventType: EventSessionRequested}))
	require.NoError(t, sink.Write(Event{EventType: EventSessionGranted}))

	events := sink.Events()
	require.Len(t, events, 2)
	assert.Equal(t, EventSessionRequested, events[0].EventType)
}
