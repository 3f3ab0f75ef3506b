package relay

// Store is the queue abstraction behind each SegmentStore lane.
// Implementations are not required to be safe for concurrent use; SegmentStore
// serializes access.
type Store interface {
	Push(seg Segment)
	Pop() (Segment, bool)
	Peek() (Segment, bool)
	Len() int
	// Clear empties the store and returns what it held, oldest first.
	Clear() []Segment
}

// InMemoryStore is a slice-backed FIFO implementation of Store.
type InMemoryStore struct {
	segments []Segment
}

// NewInMemoryStore returns a new empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

// Push implements Store.Push.
func (s *InMemoryStore) Push(seg Segment) {
	s.segments = append(s.segments, seg)
}

// Pop implements Store.Pop.
func (s *InMemoryStore) Pop() (Segment, bool) {
	if len(s.segments) == 0 {
		return Segment{}, false
	}
	seg := s.segments[0]
	s.segments[0] = Segment{}
	s.segments = s.segments[1:]
	return seg, true
}

// Peek implements Store.Peek.
func (s *InMemoryStore) Peek() (Segment, bool) {
	if len(s.segments) == 0 {
		return Segment{}, false
	}
	return s.segments[0], true
}

// Len implements Store.Len.
func (s *InMemoryStore) Len() int {
	return len(s.segments)
}

// Clear implements Store.Clear.
func (s *InMemoryStore) Clear() []Segment {
	out := s.segments
	s.segments = nil
	return out
}
