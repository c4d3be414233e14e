// Package events carries backend change notifications and local operator
// actions between components.
package events

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// EventType names what an Event is about.
type EventType string

// Pushed by the backend over the live channel.
const (
	EventTaskStatusChanged     EventType = "task_status_changed"
	EventProcessStarted        EventType = "process_started"
	EventProcessCompleted      EventType = "process_completed"
	EventQueueStatusChanged    EventType = "queue_status_changed"
	EventRateLimitNotified     EventType = "rate_limit_notified"
	EventExecutionStateChanged EventType = "execution_state_changed"
)

// Published locally.
const (
	// EventConnectionChanged is published when the live channel opens or drops.
	EventConnectionChanged EventType = "connection_changed"
	// EventSeekApplied and EventResetApplied follow a confirmed operator override.
	EventSeekApplied  EventType = "seek_applied"
	EventResetApplied EventType = "reset_applied"
	// EventProfileSaved follows a successful profile save.
	EventProfileSaved EventType = "profile_saved"
)

// PushTypes lists the event types the backend may push.
var PushTypes = []EventType{
	EventTaskStatusChanged,
	EventProcessStarted,
	EventProcessCompleted,
	EventQueueStatusChanged,
	EventRateLimitNotified,
	EventExecutionStateChanged,
}

func IsPushType(t EventType) bool {
	return slices.Contains(PushTypes, t)
}

// Event is one notification. TaskID and EntityID name the entity the event
// is about when there is one.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	TaskID    string         `json:"task_id,omitempty"`
	EntityID  string         `json:"entity_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Subscriber receives events on its own goroutine, one at a time, in publish
// order.
type Subscriber func(Event)

type subscription struct {
	ch    chan Event
	types map[EventType]bool // nil accepts every type
}

func (s *subscription) wants(t EventType) bool {
	return s.types == nil || s.types[t]
}

// Bus fans events out to subscribers without ever blocking the publisher.
// A subscriber whose buffer is full misses the event; Dropped counts those.
type Bus struct {
	mu         sync.RWMutex
	subs       []*subscription
	bufferSize int
	closed     bool
	dropped    atomic.Int64
}

// NewBus creates a bus whose subscribers each buffer bufferSize events.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Bus{bufferSize: bufferSize}
}

// Subscribe delivers events of the given types to fn, or every event when no
// type is given. The returned function unsubscribes and may be called more
// than once.
func (b *Bus) Subscribe(fn Subscriber, types ...EventType) func() {
	sub := &subscription{ch: make(chan Event, b.bufferSize)}
	if len(types) > 0 {
		sub.types = make(map[EventType]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return func() {}
	}
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	go deliver(sub.ch, fn)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if i := slices.Index(b.subs, sub); i >= 0 {
			b.subs = slices.Delete(b.subs, i, i+1)
			close(sub.ch)
		}
	}
}

func deliver(ch <-chan Event, fn Subscriber) {
	for e := range ch {
		func() {
			defer func() { _ = recover() }()
			fn(e)
		}()
	}
}

// Publish stamps e if it has no timestamp and hands it to every interested
// subscriber.
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs {
		if !sub.wants(e.Type) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped reports how many deliveries were skipped because a subscriber was
// behind.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Close ends every subscription. Later publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, sub := range b.subs {
		close(sub.ch)
	}
	b.subs = nil
}
