package loom

import "sync"

// Domain event types emitted on session/message mutations.
const (
	EventTypeSessionCreated = "session.created"
	EventTypeSessionUpdated = "session.updated"
	EventTypeSessionRevert  = "session.revert"
	EventTypeMessageCreated = "message.created"
	EventTypePartCreated    = "message.part.created"
)

// BusEvent is a domain event describing an externally observable mutation.
type BusEvent struct {
	Type       string
	SessionID  string
	MessageID  string
	Properties map[string]any
}

// Bus fans domain events out to subscribers. Delivery is best-effort and
// asynchronous: a slow subscriber drops events rather than blocking the
// mutation that produced them. The bus is an explicit injected handle, not
// a package-level global, so tests can assert emitted events.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]chan BusEvent
	next int
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan BusEvent)}
}

// Subscribe registers a subscriber with the given channel buffer and returns
// the receive channel plus a cancel function. Cancel closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan BusEvent, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan BusEvent, buffer)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers evt to every subscriber without blocking. Events to full
// subscriber buffers are dropped. Publish on a nil bus is a no-op so event
// emission never becomes a correctness dependency.
func (b *Bus) Publish(evt BusEvent) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}
