// Package events provides a centralized event bus for the piece engine and
// the task scheduler. It implements pub/sub with backpressure control and
// priority channels.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	Timestamp() time.Time
	TaskName() string
}

// BaseEvent provides common fields for all events.
type BaseEvent struct {
	Type string    `json:"type"`
	Time time.Time `json:"timestamp"`
	Task string    `json:"task,omitempty"`
}

func (e BaseEvent) EventType() string    { return e.Type }
func (e BaseEvent) Timestamp() time.Time { return e.Time }
func (e BaseEvent) TaskName() string     { return e.Task }

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType, task string) BaseEvent {
	return BaseEvent{
		Type: eventType,
		Time: time.Now(),
		Task: task,
	}
}

// Subscriber represents an event subscription.
type Subscriber struct {
	ch       chan Event
	types    map[string]bool // Empty means all types
	task     string          // Empty means no task filtering (receives all)
	priority bool
}

// Bus provides pub/sub with backpressure control.
type Bus struct {
	mu           sync.RWMutex
	subscribers  []*Subscriber
	prioritySubs []*Subscriber
	bufferSize   int
	droppedCount int64
	closed       bool
}

// New creates a new Bus with the specified buffer size.
func New(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Bus{
		subscribers:  make([]*Subscriber, 0),
		prioritySubs: make([]*Subscriber, 0),
		bufferSize:   bufferSize,
	}
}

// Subscribe creates a subscription for specific event types.
// If no types are specified, subscribes to all events.
func (b *Bus) Subscribe(types ...string) <-chan Event {
	return b.SubscribeForTask("", types...)
}

// SubscribeForTask creates a subscription filtered to a single task.
// If task is empty, all events are received (equivalent to Subscribe).
func (b *Bus) SubscribeForTask(task string, types ...string) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	sub := &Subscriber{
		ch:    make(chan Event, b.bufferSize),
		types: make(map[string]bool),
		task:  task,
	}
	for _, t := range types {
		sub.types[t] = true
	}
	b.subscribers = append(b.subscribers, sub)
	return sub.ch
}

// SubscribePriority creates a priority subscription that never drops events.
// Use for terminal events like piece:complete and piece:abort.
func (b *Bus) SubscribePriority(types ...string) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	sub := &Subscriber{
		ch:       make(chan Event, 50), // Smaller buffer, blocking send
		types:    make(map[string]bool),
		priority: true,
	}
	for _, t := range types {
		sub.types[t] = true
	}
	b.prioritySubs = append(b.prioritySubs, sub)
	return sub.ch
}

// Unsubscribe removes a subscription.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subscribers = removeSubscriber(b.subscribers, ch)
	b.prioritySubs = removeSubscriber(b.prioritySubs, ch)
}

func removeSubscriber(subs []*Subscriber, ch <-chan Event) []*Subscriber {
	result := make([]*Subscriber, 0, len(subs))
	for _, sub := range subs {
		if sub.ch != ch {
			result = append(result, sub)
		} else {
			close(sub.ch)
		}
	}
	return result
}

// Publish sends an event to all matching subscribers.
// Non-priority subscribers may drop events if their buffer is full
// (ring buffer behavior).
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, sub := range b.subscribers {
		if !shouldDeliver(sub, event) {
			continue
		}
		b.deliverWithRingBuffer(sub, event)
	}
}

// PublishPriority sends an event to priority subscribers with blocking
// behavior. Use for terminal events that must never be dropped.
func (b *Bus) PublishPriority(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, sub := range b.subscribers {
		if !shouldDeliver(sub, event) {
			continue
		}
		b.deliverWithRingBuffer(sub, event)
	}

	for _, sub := range b.prioritySubs {
		if !shouldDeliver(sub, event) {
			continue
		}
		sub.ch <- event
	}
}

func shouldDeliver(sub *Subscriber, event Event) bool {
	if sub.task != "" && event.TaskName() != sub.task {
		return false
	}
	if len(sub.types) > 0 && !sub.types[event.EventType()] {
		return false
	}
	return true
}

// deliverWithRingBuffer attempts to send an event to a subscriber. If the
// channel is full, it drops the oldest event and tries again.
func (b *Bus) deliverWithRingBuffer(sub *Subscriber, event Event) {
	select {
	case sub.ch <- event:
	default:
		select {
		case <-sub.ch: // Drop oldest
			atomic.AddInt64(&b.droppedCount, 1)
		default:
		}
		select {
		case sub.ch <- event:
		default:
			atomic.AddInt64(&b.droppedCount, 1)
		}
	}
}

// DroppedCount returns the total number of dropped events.
func (b *Bus) DroppedCount() int64 {
	return atomic.LoadInt64(&b.droppedCount)
}

// Close closes the bus and all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for _, sub := range b.subscribers {
		close(sub.ch)
	}
	for _, sub := range b.prioritySubs {
		close(sub.ch)
	}
	b.subscribers = nil
	b.prioritySubs = nil
}
