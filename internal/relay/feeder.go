package relay

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"live-relay/internal/platform/metrics"
)

// Feeder appends transcoded segments to the streaming sink in dequeue order.
// It dequeues the next segment only after the previous append returned, which
// makes it the backpressure point of the pipeline.
type Feeder struct {
	store     *SegmentStore
	sink      StreamingBufferSink
	poll      time.Duration
	sinkPoll  time.Duration
	clock     Clock
	log       *slog.Logger
	metrics   *metrics.Metrics
	lastFedMs atomic.Int64
}

// NewFeeder returns a feeder reading the transcoded lane of store.
func NewFeeder(store *SegmentStore, sink StreamingBufferSink, cfg Config, clock Clock, log *slog.Logger, m *metrics.Metrics) *Feeder {
	cfg = cfg.WithDefaults()
	if clock == nil {
		clock = SystemClock{}
	}
	if log == nil {
		log = slog.Default()
	}
	f := &Feeder{
		store:    store,
		sink:     sink,
		poll:     cfg.FeedPollInterval,
		sinkPoll: cfg.SinkPollInterval,
		clock:    clock,
		log:      log,
		metrics:  m,
	}
	f.lastFedMs.Store(-1)
	return f
}

// LastFedMs returns the timestamp of the last appended segment, or -1.
func (f *Feeder) LastFedMs() int64 {
	return f.lastFedMs.Load()
}

// Run feeds the sink until running reports false or ctx is done.
func (f *Feeder) Run(ctx context.Context, running func() bool) {
	for running() {
		if f.store.Len(LaneTranscoded) == 0 {
			if !wait(ctx, f.clock, f.poll, f.store.Signal(LaneTranscoded)) {
				return
			}
			continue
		}

		if !f.sink.IsOpen() || f.sink.Updating() {
			if !wait(ctx, f.clock, f.sinkPoll, nil) {
				return
			}
			continue
		}

		seg, ok := f.store.PopTranscoded()
		if !ok {
			continue
		}

		// Append failures drop the segment; the loop keeps going.
		if err := f.sink.Append(seg.Payload); err != nil {
			f.metrics.IncSegmentsDropped(string(LaneTranscoded))
			f.log.Warn("segment dropped by sink",
				slog.Int64("timestamp_ms", seg.TimestampMs),
				slog.String("error", err.Error()))
			continue
		}

		f.lastFedMs.Store(seg.TimestampMs)
		f.metrics.IncSegmentsAppended()
		f.log.Debug("segment appended",
			slog.Int64("timestamp_ms", seg.TimestampMs),
			slog.Int("bytes", seg.Size()))
	}
}
