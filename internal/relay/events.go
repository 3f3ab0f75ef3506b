package relay

import (
	"sync"
	"time"
)

// EventType names a viewer notification.
type EventType string

const (
	// EventState is published on every lifecycle transition.
	EventState EventType = "state"
	// EventReady is published once, when playback is first ready.
	EventReady EventType = "ready"
)

// Event is a notification for the viewer.
type Event struct {
	Type       EventType `json:"type"`
	PipelineID string    `json:"pipeline_id"`
	State      State     `json:"state,omitempty"`
	From       State     `json:"from,omitempty"`
	At         time.Time `json:"at"`
}

// DefaultHubBuffer is the per-subscriber event buffer.
const DefaultHubBuffer = 16

// Hub fans events out to subscribers. Publish never blocks; a subscriber
// whose buffer is full misses the event.
type Hub struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	next   int
	buffer int
}

// NewHub returns a hub with the given per-subscriber buffer.
// If buffer <= 0, DefaultHubBuffer is used.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultHubBuffer
	}
	return &Hub{subs: make(map[int]chan Event), buffer: buffer}
}

// Subscribe registers a subscriber. The returned cancel func unregisters it
// and closes the channel; it is safe to call more than once.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.next
	h.next++
	ch := make(chan Event, h.buffer)
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs, id)
			close(ch)
		})
	}
}

// Publish delivers e to every subscriber with room in its buffer.
func (h *Hub) Publish(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribers returns the number of registered subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
