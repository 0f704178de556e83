package events

import (
	"sync"

	"github.com/linkdex/linkdex/internal/logger"
)

const subscriberBuffer = 64

// Hub is an in-process fan-out Sink. Subscribers receive events on buffered
// channels; a subscriber that falls behind drops events rather than blocking
// the emitter.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[uint64]chan Event
	nextID      uint64
	closed      bool
	log         logger.Logger
}

// NewHub creates an event hub.
func NewHub(log logger.Logger) *Hub {
	return &Hub{
		subscribers: make(map[uint64]chan Event),
		log:         log,
	}
}

// Emit delivers the event to every subscriber without blocking.
func (h *Hub) Emit(event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return
	}
	for id, ch := range h.subscribers {
		select {
		case ch <- event:
		default:
			h.log.Warn("event subscriber falling behind, dropping event",
				logger.Uint("subscriber", uint(id)),
				logger.String("event", string(event.Type)),
			)
		}
	}
}

// Subscribe registers a new subscriber and returns its channel plus an
// unsubscribe function. The channel is closed on unsubscribe.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan Event, subscriberBuffer)
	h.subscribers[id] = ch

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub, ok := h.subscribers[id]; ok {
			delete(h.subscribers, id)
			close(sub)
		}
	}
}

// Close drops all subscribers and closes their channels.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subscribers {
		delete(h.subscribers, id)
		close(ch)
	}
}
