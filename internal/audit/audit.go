// Package audit records credential lifecycle events for compliance review.
// Events are fire-and-forget from the caller's perspective; the publisher
// buffers and a worker drains to the configured sink.
package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Actions recorded by the credential chain.
const (
	ActionIssued             = "credential.issued"
	ActionAmended            = "credential.amended"
	ActionVerificationFailed = "verification.failed"
)

// Event is one audit record. Detail is flat string metadata; never put
// claim values in it.
type Event struct {
	Action       string            `json:"action"`
	CredentialID string            `json:"credential_id,omitempty"`
	Subject      string            `json:"subject,omitempty"`
	At           time.Time         `json:"at"`
	Detail       map[string]string `json:"detail,omitempty"`
}

// Sink receives encoded events. Implementations: KafkaSink, MemorySink.
type Sink interface {
	Write(ctx context.Context, event Event) error
	Close() error
}

// Publisher decouples emitters from the sink with a bounded buffer. A full
// buffer drops the event rather than blocking a credential operation.
type Publisher struct {
	sink Sink

	ch     chan Event
	wg     sync.WaitGroup
	closed sync.Once
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithBuffer sets the async buffer size (default 256).
func WithBuffer(size int) PublisherOption {
	return func(p *Publisher) {
		if size > 0 {
			p.ch = make(chan Event, size)
		}
	}
}

func NewPublisher(sink Sink, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		sink: sink,
		ch:   make(chan Event, 256),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	p.wg.Add(1)
	go p.drain()
	return p
}

// Emit queues an event. Returns false when the buffer is full and the event
// was dropped.
func (p *Publisher) Emit(event Event) bool {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	select {
	case p.ch <- event:
		return true
	default:
		return false
	}
}

// Close stops accepting events, drains the buffer, and closes the sink.
func (p *Publisher) Close() error {
	p.closed.Do(func() { close(p.ch) })
	p.wg.Wait()
	return p.sink.Close()
}

func (p *Publisher) drain() {
	defer p.wg.Done()
	for event := range p.ch {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = p.sink.Write(ctx, event)
		cancel()
	}
}

// MemorySink collects events in memory for tests and no-Kafka deployments.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Write(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *MemorySink) Close() error { return nil }

// Events returns a copy of everything written so far.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

func encode(event Event) ([]byte, error) {
	return json.Marshal(event)
}
