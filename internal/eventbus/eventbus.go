package eventbus

import (
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Names of events the service itself publishes. Any other name may be
// published by callers of EventService or the webhook endpoint.
const (
	WorkflowChanged     = "workflow.changed"
	ExecutionRecorded   = "execution.recorded"
	NotificationCreated = "notification.created"
)

// IsInternal reports whether name is one the service publishes itself.
// Internal events are never matched against event triggers.
func IsInternal(name string) bool {
	switch name {
	case WorkflowChanged, ExecutionRecorded, NotificationCreated:
		return true
	}
	return false
}

type Event struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]chan *Event
}

func New() *Bus {
	return &Bus{
		subscribers: make(map[string]chan *Event),
	}
}

func (b *Bus) Subscribe(bufSize int) (string, <-chan *Event) {
	id := ulid.Make().String()
	ch := make(chan *Event, bufSize)
	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()
	return id, ch
}

func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
}

// Publish never blocks. A subscriber whose buffer is full misses the event,
// so the bus only feeds observers such as event streams and push delivery.
func (b *Bus) Publish(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			slog.Warn("event dropped, subscriber buffer full", "subscriber", id, "event", event.Name)
		}
	}
}

// PublishNew stamps and publishes a new event. The payload is copied so the
// caller may keep mutating its map.
func (b *Bus) PublishNew(name string, payload map[string]any) *Event {
	event := &Event{
		ID:        ulid.Make().String(),
		Name:      name,
		Payload:   maps.Clone(payload),
		CreatedAt: time.Now(),
	}
	b.Publish(event)
	return event
}
