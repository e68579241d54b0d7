package events

import (
	"sync"
	"time"
)

// Event is a relayed hub event as seen by in-process observers.
type Event struct {
	Name       string
	Envelope   Envelope
	ConnID     string // originating connection; empty for server-emitted events
	WorkerID   string // identified worker of the originating connection
	OccurredAt time.Time
}

// Handler reacts to an event.
type Handler func(event Event) error

// Bus provides in-process pub/sub for relayed events.
type Bus struct {
	subscribers map[string][]Handler
	onError     func(Event, error)
	mu          sync.RWMutex
}

// NewBus constructs an empty bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[string][]Handler)}
}

// OnError sets a callback for handler failures.
func (b *Bus) OnError(fn func(Event, error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onError = fn
}

// Subscribe registers a handler for a relayed event name.
func (b *Bus) Subscribe(name string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[name] = append(b.subscribers[name], handler)
}

// Publish notifies subscribers of the event name.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.subscribers[event.Name]...)
	onError := b.onError
	b.mu.RUnlock()

	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}

	// Handlers run synchronously on the publishing goroutine.
	for _, handler := range handlers {
		if err := handler(event); err != nil && onError != nil {
			onError(event, err)
		}
	}
}
