package relay

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pushTranscodedSegments(t *testing.T, s *SegmentStore, timestamps ...int64) {
	t.Helper()
	for _, ts := range timestamps {
		require.NoError(t, s.PushTranscoded(Segment{TimestampMs: ts, Payload: []byte(fmt.Sprintf("frag-%d", ts))}))
	}
}

func TestFeeder_Run_appends_in_order(t *testing.T) {
	store := NewSegmentStore()
	pushTranscodedSegments(t, store, 1000, 2000, 3000)
	sink := &recordingSink{}

	f := NewFeeder(store, sink, fastConfig(), newFakeClock(), testLog, nil)
	assert.Equal(t, int64(-1), f.LastFedMs())
	f.Run(context.Background(), func() bool { return store.Len(LaneTranscoded) > 0 })

	assert.Equal(t, []string{"frag-1000", "frag-2000", "frag-3000"}, sink.Payloads())
	assert.Equal(t, int64(3000), f.LastFedMs())
}

func TestFeeder_Run_append_failure_drops_segment(t *testing.T) {
	store := NewSegmentStore()
	pushTranscodedSegments(t, store, 1000, 2000, 3000)
	sink := &recordingSink{failOn: map[int]bool{2: true}}

	f := NewFeeder(store, sink, fastConfig(), newFakeClock(), testLog, nil)
	f.Run(context.Background(), func() bool { return store.Len(LaneTranscoded) > 0 })

	assert.Equal(t, []string{"frag-1000", "frag-3000"}, sink.Payloads())
	assert.Equal(t, 3, sink.Calls())
}

func TestFeeder_Run_waits_for_open_sink(t *testing.T) {
	store := NewSegmentStore()
	pushTranscodedSegments(t, store, 1000)
	sink := &recordingSink{closed: true}
	clock := newFakeClock()

	f := NewFeeder(store, sink, fastConfig(), clock, testLog, nil)
	polls := 0
	f.Run(context.Background(), func() bool {
		polls++
		if polls == 3 {
			sink.mu.Lock()
			sink.closed = false
			sink.mu.Unlock()
		}
		return store.Len(LaneTranscoded) > 0
	})

	assert.Equal(t, []string{"frag-1000"}, sink.Payloads())
	sinkPoll := fastConfig().SinkPollInterval
	assert.Equal(t, []time.Duration{sinkPoll, sinkPoll}, clock.Waits())
}

func TestFeeder_Run_backpressure(t *testing.T) {
	store := NewSegmentStore()
	sink := &recordingSink{block: make(chan struct{})}

	var running atomic.Bool
	running.Store(true)
	done := make(chan struct{})
	f := NewFeeder(store, sink, fastConfig(), SystemClock{}, testLog, nil)
	go func() {
		defer close(done)
		f.Run(context.Background(), running.Load)
	}()

	pushTranscodedSegments(t, store, 1000)
	require.Eventually(t, func() bool { return sink.Calls() == 1 }, time.Second, time.Millisecond)

	pushTranscodedSegments(t, store, 2000, 3000, 4000)
	time.Sleep(30 * time.Millisecond)

	assert.Equal(t, 1, sink.Calls(), "feeder must not dequeue while an append is pending")
	assert.Equal(t, 3, store.Len(LaneTranscoded))

	running.Store(false)
	close(sink.block)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("feeder did not exit")
	}
	assert.Equal(t, 3, store.Len(LaneTranscoded))
}
