package audit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	defaultQueueSize   = 256
	defaultPostTimeout = 5 * time.Second
)

// Publisher ships audit events from the robot agent to the Gateway audit
// endpoint. Publish never blocks: events go into a bounded queue drained by
// a single worker, and when the queue is full the newest event is dropped
// and counted.
type Publisher struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger

	queue   chan Event
	dropped atomic.Int64

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewPublisher creates a publisher posting to endpoint (the full audit URL,
// e.g. https://gateway/v1/audit). A non-positive queueSize selects the
// default.
func NewPublisher(endpoint string, queueSize int, logger *zap.Logger) *Publisher {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Publisher{
		endpoint: endpoint,
		client:   &http.Client{Timeout: defaultPostTimeout},
		logger:   logger,
		queue:    make(chan Event, queueSize),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go p.worker()
	return p
}

// Publish enqueues an event. Full queue drops the event, never blocks.
// After Close, events are dropped and counted rather than enqueued.
func (p *Publisher) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	select {
	case <-p.stop:
		p.dropped.Add(1)
		p.logger.Warn("audit publisher closed, dropping event",
			zap.String("event_type", string(event.EventType)),
			zap.String("session_id", event.SessionID))
		return
	default:
	}
	select {
	case p.queue <- event:
	default:
		p.dropped.Add(1)
		p.logger.Warn("audit queue full, dropping event",
			zap.String("event_type", string(event.EventType)),
			zap.String("session_id", event.SessionID))
	}
}

// Dropped returns the number of events lost to queue overflow.
func (p *Publisher) Dropped() int64 {
	return p.dropped.Load()
}

// Close stops the worker after draining what is already queued. The queue
// channel is never closed, so a Publish racing past shutdown drops its
// event instead of panicking.
func (p *Publisher) Close() {
	p.stopOnce.Do(func() {
		close(p.stop)
		<-p.done
	})
}

func (p *Publisher) worker() {
	defer close(p.done)
	for {
		select {
		case event := <-p.queue:
			p.deliver(event)
		case <-p.stop:
			// Drain whatever was enqueued before the stop.
			for {
				select {
				case event := <-p.queue:
					p.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (p *Publisher) deliver(event Event) {
	if err := p.post(event); err != nil {
		p.logger.Warn("audit delivery failed",
			zap.String("event_type", string(event.EventType)),
			zap.String("session_id", event.SessionID),
			zap.Error(err))
	}
}

func (p *Publisher) post(event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	resp, err := p.client.Post(p.endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("audit endpoint returned %d", resp.StatusCode)
	}
	return nil
}
