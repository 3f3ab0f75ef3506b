package relay

import (
	"testing"
)

func TestInMemoryStore_PushPop(t *testing.T) {
	store := NewInMemoryStore()

	if _, ok := store.Pop(); ok {
		t.Error("expected empty pop on new store")
	}

	store.Push(Segment{TimestampMs: 1000})
	store.Push(Segment{TimestampMs: 2000})

	if got := store.Len(); got != 2 {
		t.Fatalf("Len: got %d want 2", got)
	}

	peek, ok := store.Peek()
	if !ok || peek.TimestampMs != 1000 {
		t.Errorf("Peek: ok=%v ts=%d", ok, peek.TimestampMs)
	}
	if store.Len() != 2 {
		t.Error("Peek must not remove the segment")
	}

	for _, want := range []int64{1000, 2000} {
		seg, ok := store.Pop()
		if !ok || seg.TimestampMs != want {
			t.Errorf("Pop: ok=%v ts=%d want %d", ok, seg.TimestampMs, want)
		}
	}
	if _, ok := store.Peek(); ok {
		t.Error("expected empty peek after draining")
	}
}

func TestInMemoryStore_Clear(t *testing.T) {
	store := NewInMemoryStore()
	store.Push(Segment{TimestampMs: 1})
	store.Push(Segment{TimestampMs: 2})

	cleared := store.Clear()
	if len(cleared) != 2 || cleared[0].TimestampMs != 1 {
		t.Errorf("Clear returned %v", cleared)
	}
	if store.Len() != 0 {
		t.Errorf("Len after Clear: %d", store.Len())
	}
}
