package events

import (
	"encoding/json"
	"sync"
	"time"
)

// Event types published during scans and deletions.
const (
	EventScanStarted    = "scan.started"
	EventScanRepository = "scan.repository"
	EventScanCompleted  = "scan.completed"
	EventScanFailed     = "scan.failed"
	EventTagDeleted     = "tag.deleted"

	// Wildcard subscribers receive every event.
	Wildcard = "*"
)

// subscriberBuffer is the per-subscriber queue; slow readers drop events.
const subscriberBuffer = 100

// Event is one published notification.
type Event struct {
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload"`
}

// New builds an event stamped with the current time.
func New(eventType string, payload map[string]any) Event {
	return Event{Type: eventType, Timestamp: time.Now().UTC(), Payload: payload}
}

// Subscriber is a channel that receives events.
type Subscriber chan Event

// Bus fans events out to subscribers without blocking publishers.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]Subscriber
	closed      bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[string][]Subscriber),
	}
}

// Subscribe registers for eventType (or Wildcard). The returned function
// unsubscribes and closes the channel; calling it twice is safe.
func (b *Bus) Subscribe(eventType string) (Subscriber, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(Subscriber, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subscribers[eventType] = append(b.subscribers[eventType], ch)

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.remove(eventType, ch)
		})
	}
	return ch, unsubscribe
}

// must hold b.mu
func (b *Bus) remove(eventType string, ch Subscriber) {
	subs := b.subscribers[eventType]
	for i, sub := range subs {
		if sub == ch {
			b.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
			close(ch)
			return
		}
	}
}

// Publish delivers event to its type's subscribers and to wildcard
// subscribers. A nil bus discards the event.
func (b *Bus) Publish(event Event) {
	if b == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers[event.Type] {
		select {
		case ch <- event:
		default:
		}
	}
	if event.Type == Wildcard {
		return
	}
	for _, ch := range b.subscribers[Wildcard] {
		select {
		case ch <- event:
		default:
		}
	}
}

// SubscriberCount returns the number of live subscriptions for eventType.
func (b *Bus) SubscriberCount(eventType string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[eventType])
}

// Close closes every subscriber channel. Later subscriptions get a closed
// channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for eventType, subs := range b.subscribers {
		for _, ch := range subs {
			close(ch)
		}
		delete(b.subscribers, eventType)
	}
}

// MarshalEvent converts an event to JSON.
func MarshalEvent(event Event) ([]byte, error) {
	return json.Marshal(event)
}
