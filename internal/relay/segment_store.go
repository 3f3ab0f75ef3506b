package relay

import (
	"errors"
	"sync"
)

var (
	// ErrOutOfOrder is returned when a segment would be queued behind a
	// segment with the same or a later timestamp.
	ErrOutOfOrder = errors.New("segment out of order")

	// ErrStoreClosed is returned by pushes after the store was released.
	ErrStoreClosed = errors.New("segment store closed")
)

// Lane names one of the two queues held by a SegmentStore.
type Lane string

const (
	LaneRaw        Lane = "raw"
	LaneTranscoded Lane = "transcoded"
)

// SegmentStore holds the raw and transcoded queues that link the pipeline
// stages. It is safe for concurrent use. Each lane enforces strictly
// increasing timestamps so a run never reorders or duplicates a segment.
type SegmentStore struct {
	mu     sync.Mutex
	lanes  map[Lane]*lane
	closed bool
}

type lane struct {
	store   Store
	last    int64
	hasLast bool
	signal  chan struct{}
}

// NewSegmentStore constructs a store with in-memory lanes.
func NewSegmentStore() *SegmentStore {
	return NewSegmentStoreWithStores(NewInMemoryStore(), NewInMemoryStore())
}

// NewSegmentStoreWithStores constructs a store over the given lane stores.
func NewSegmentStoreWithStores(raw, transcoded Store) *SegmentStore {
	return &SegmentStore{
		lanes: map[Lane]*lane{
			LaneRaw:        {store: raw, signal: make(chan struct{}, 1)},
			LaneTranscoded: {store: transcoded, signal: make(chan struct{}, 1)},
		},
	}
}

// PushRaw queues a fetched segment.
func (s *SegmentStore) PushRaw(seg Segment) error {
	return s.push(LaneRaw, seg)
}

// PopRaw dequeues the oldest raw segment.
func (s *SegmentStore) PopRaw() (Segment, bool) {
	return s.pop(LaneRaw)
}

// PushTranscoded queues a transcoded segment.
func (s *SegmentStore) PushTranscoded(seg Segment) error {
	return s.push(LaneTranscoded, seg)
}

// PopTranscoded dequeues the oldest transcoded segment.
func (s *SegmentStore) PopTranscoded() (Segment, bool) {
	return s.pop(LaneTranscoded)
}

// Peek returns the oldest segment of the lane without removing it.
func (s *SegmentStore) Peek(l Lane) (Segment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lanes[l].store.Peek()
}

// Len returns the number of queued segments in the lane.
func (s *SegmentStore) Len(l Lane) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lanes[l].store.Len()
}

// Signal returns a channel that receives a value after a push to the lane.
// A single pending notification is kept; consumers must recheck Len.
func (s *SegmentStore) Signal(l Lane) <-chan struct{} {
	return s.lanes[l].signal
}

// Clear empties both lanes and returns how many segments were discarded.
func (s *SegmentStore) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ln := range s.lanes {
		n += len(ln.store.Clear())
	}
	return n
}

// Close clears both lanes and rejects later pushes. It is idempotent.
func (s *SegmentStore) Close() int {
	n := s.Clear()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return n
}

func (s *SegmentStore) push(l Lane, seg Segment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	ln := s.lanes[l]
	if ln.hasLast && seg.TimestampMs <= ln.last {
		return ErrOutOfOrder
	}
	ln.store.Push(seg)
	ln.last = seg.TimestampMs
	ln.hasLast = true

	select {
	case ln.signal <- struct{}{}:
	default:
	}
	return nil
}

func (s *SegmentStore) pop(l Lane) (Segment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lanes[l].store.Pop()
}
