// Package events carries the typed progress stream consumed by CLI/UI
// collaborators. The producer is the orchestrator; any number of subscribers
// receive every event. Delivery is at-least-once and consumers are expected
// to be idempotent.
package events

import (
	"sync"
	"time"

	"github.com/lvonguyen/intelforge/internal/intel"
)

// Type enumerates the progress events an investigation emits.
type Type string

const (
	TaskStarted               Type = "task_started"
	TaskRetried               Type = "task_retried"
	TaskFailed                Type = "task_failed"
	TaskSucceeded             Type = "task_succeeded"
	CorrelationCompleted      Type = "correlation_completed"
	InvestigationStateChanged Type = "investigation_state_changed"
)

// Event is one progress notification.
type Event struct {
	Type            Type                     `json:"type"`
	InvestigationID string                   `json:"investigation_id"`
	SourceID        string                   `json:"source_id,omitempty"`
	TaskID          string                   `json:"task_id,omitempty"`
	State           intel.InvestigationState `json:"state,omitempty"`
	Attempt         int                      `json:"attempt,omitempty"`
	Detail          string                   `json:"detail,omitempty"`
	Time            time.Time                `json:"time"`
}

// Bus fans events out to subscribers. Publish blocks until every subscriber
// has taken delivery, which is what makes the stream at-least-once rather
// than best-effort; subscribers are expected to drain promptly.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]*subscriber
	next int
}

// subscriber pairs the delivery channel with a done signal so an unsubscribe
// can interrupt an in-flight send instead of closing the channel underneath
// it. The wait group counts in-flight publishers; the channel is only closed
// once the count drains to zero.
type subscriber struct {
	ch      chan Event
	done    chan struct{}
	senders sync.WaitGroup
	once    sync.Once
}

// shutdown wakes in-flight publishers, waits for them to back out, then
// closes the channel. Buffered events stay readable.
func (s *subscriber) shutdown() {
	s.once.Do(func() {
		close(s.done)
		s.senders.Wait()
		close(s.ch)
	})
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]*subscriber)}
}

// Subscribe registers a consumer. The returned cancel function must be
// called when the consumer is done; it closes the channel. Cancelling is
// safe at any time, including while a publish is delivering.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	sub := &subscriber{
		ch:   make(chan Event, buffer),
		done: make(chan struct{}),
	}

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = sub
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		sub.shutdown()
	}
	return sub.ch, cancel
}

// Publish delivers the event to every current subscriber, stamping the time
// if unset. A subscriber that unsubscribes mid-delivery forfeits the event.
func (b *Bus) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}

	b.mu.RLock()
	subs := make([]*subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		sub.senders.Add(1)
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.ch <- ev:
		case <-sub.done:
		}
		sub.senders.Done()
	}
}

// Close unsubscribes everyone.
func (b *Bus) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[int]*subscriber)
	b.mu.Unlock()
	for _, sub := range subs {
		sub.shutdown()
	}
}
