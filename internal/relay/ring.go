package relay

import "sync"

// FrameRing is the FIFO of decoded playables used by the fallback player.
type FrameRing struct {
	mu     sync.Mutex
	items  []Playable
	signal chan struct{}
}

// NewFrameRing returns an empty ring.
func NewFrameRing() *FrameRing {
	return &FrameRing{signal: make(chan struct{}, 1)}
}

// Push appends p to the ring.
func (r *FrameRing) Push(p Playable) {
	r.mu.Lock()
	r.items = append(r.items, p)
	r.mu.Unlock()

	select {
	case r.signal <- struct{}{}:
	default:
	}
}

// Pop removes the oldest playable.
func (r *FrameRing) Pop() (Playable, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.items) == 0 {
		return nil, false
	}
	p := r.items[0]
	r.items[0] = nil
	r.items = r.items[1:]
	return p, true
}

// Len returns the number of buffered playables.
func (r *FrameRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// Signal receives a value after a push.
func (r *FrameRing) Signal() <-chan struct{} {
	return r.signal
}

// Clear releases and removes every buffered playable.
func (r *FrameRing) Clear() int {
	r.mu.Lock()
	items := r.items
	r.items = nil
	r.mu.Unlock()

	for _, p := range items {
		p.Release()
	}
	return len(items)
}
