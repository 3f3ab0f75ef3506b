package relay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storeTimestamps(s *SegmentStore, l Lane) []int64 {
	var out []int64
	pop := s.PopRaw
	if l == LaneTranscoded {
		pop = s.PopTranscoded
	}
	for {
		seg, ok := pop()
		if !ok {
			return out
		}
		out = append(out, seg.TimestampMs)
	}
}

func TestFetcher_Run_retries_without_skipping(t *testing.T) {
	const t0 = int64(100_000)
	src := liveSource(t0)
	src.failAttempts = map[int]bool{2: true}
	store := NewSegmentStore()
	clock := newFakeClock()

	f := NewFetcher(src, store, fastConfig(), t0, clock, testLog, nil)
	f.Run(context.Background(), func() bool { return src.GetCalls() < 5 })

	assert.Equal(t, []int64{t0, t0 + 1000, t0 + 1000, t0 + 2000, t0 + 3000}, src.Requested())
	if diff := cmp.Diff([]int64{t0, t0 + 1000, t0 + 2000, t0 + 3000}, storeTimestamps(store, LaneRaw)); diff != "" {
		t.Errorf("queued timestamps (-want +got):\n%s", diff)
	}
	assert.Equal(t, t0+4000, f.Cursor())

	cfg := fastConfig()
	want := []time.Duration{cfg.FetchInterval, cfg.FetchRetryBackoff, cfg.FetchInterval, cfg.FetchInterval, cfg.FetchInterval}
	assert.Equal(t, want, clock.Waits())
}

func TestFetcher_Run_strips_header(t *testing.T) {
	src := liveSource(0)
	store := NewSegmentStore()

	f := NewFetcher(src, store, fastConfig(), 4000, newFakeClock(), testLog, nil)
	f.Run(context.Background(), func() bool { return src.GetCalls() < 1 })

	seg, ok := store.PopRaw()
	require.True(t, ok)
	assert.Equal(t, "seg-4000", string(seg.Payload))
	assert.Equal(t, int64(4000), seg.TimestampMs)
}

func TestFetcher_Run_short_payload_is_failure(t *testing.T) {
	src := liveSource(0)
	src.shortAttempts = map[int]bool{1: true}
	store := NewSegmentStore()
	clock := newFakeClock()

	f := NewFetcher(src, store, fastConfig(), 1000, clock, testLog, nil)
	f.Run(context.Background(), func() bool { return src.GetCalls() < 2 })

	assert.Equal(t, []int64{1000, 1000}, src.Requested())
	assert.Equal(t, []int64{1000}, storeTimestamps(store, LaneRaw))
	assert.Equal(t, fastConfig().FetchRetryBackoff, clock.Waits()[0])
}

type failingRawSink struct{ calls int }

func (s *failingRawSink) PushRaw(Segment) error {
	s.calls++
	return errors.New("queue unavailable")
}

func TestFetcher_Run_push_failure_keeps_cursor(t *testing.T) {
	src := liveSource(0)
	sink := &failingRawSink{}

	f := NewFetcher(src, sink, fastConfig(), 8000, newFakeClock(), testLog, nil)
	f.Run(context.Background(), func() bool { return sink.calls < 3 })

	assert.Equal(t, int64(8000), f.Cursor())
	assert.Equal(t, []int64{8000, 8000, 8000}, src.Requested())
}

func TestFetcher_Run_stops_when_not_running(t *testing.T) {
	src := liveSource(0)
	f := NewFetcher(src, NewSegmentStore(), fastConfig(), 0, newFakeClock(), testLog, nil)
	f.Run(context.Background(), func() bool { return false })
	assert.Zero(t, src.GetCalls())
}
