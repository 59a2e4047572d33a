package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// Sink receives audit events at the Gateway.
type Sink interface {
	Write(Event) error
}

// FileLedger appends events to a JSONL file, one event per line. Lines are
// written under a mutex so concurrent events never interleave.
type FileLedger struct {
	mu   sync.Mutex
	file *os.File
}

// OpenFileLedger opens (or creates) the ledger file for appending.
func OpenFileLedger(path string) (*FileLedger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open audit ledger: %w", err)
	}
	return &FileLedger{file: f}, nil
}

func (l *FileLedger) Write(event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.file.Write(data); err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

// Close flushes and closes the ledger file.
func (l *FileLedger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// MemorySink collects events in memory. Test and development use.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func NewMemorySink() *MemorySink { return &MemorySink{} }

func (s *MemorySink) Write(event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// Events returns a snapshot of everything written so far.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}
