package events

import (
	"sync"
	"time"
)

// EventType identifies a system event on the bus.
type EventType string

const (
	EventSignalGenerated EventType = "SIGNAL_GENERATED"
	EventCycleRejected   EventType = "CYCLE_REJECTED"
	EventTradeOpened     EventType = "TRADE_OPENED"
	EventTradeClosed     EventType = "TRADE_CLOSED"
	EventBreakerTripped  EventType = "BREAKER_TRIPPED"
	EventBreakerReset    EventType = "BREAKER_RESET"
	EventFeedStale       EventType = "FEED_STALE"
	EventFeedReconnected EventType = "FEED_RECONNECTED"
	EventNewsGateActive  EventType = "NEWS_GATE_ACTIVE"
	EventNewsGateCleared EventType = "NEWS_GATE_CLEARED"
	EventTaskStarted     EventType = "TASK_STARTED"
	EventTaskStopped     EventType = "TASK_STOPPED"
	EventTaskError       EventType = "TASK_ERROR"
)

// Event is a single bus message.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// Bus fans events out to subscribers. Handlers run on the publisher's
// goroutine and must not block.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
}

// NewBus creates a new event bus
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[EventType][]Subscriber),
	}
}

// Subscribe registers a subscriber for a specific event type
func (b *Bus) Subscribe(eventType EventType, subscriber Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (b *Bus) SubscribeAll(subscriber Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allSubs = append(b.allSubs, subscriber)
}

// Publish delivers an event to matching subscribers.
func (b *Bus) Publish(eventType EventType, data map[string]interface{}) {
	event := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	b.mu.RLock()
	subs := b.subscribers[eventType]
	all := b.allSubs
	b.mu.RUnlock()

	for _, sub := range subs {
		sub(event)
	}
	for _, sub := range all {
		sub(event)
	}
}
