package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"live-relay/internal/platform/metrics"
)

// ErrShortPayload is returned for source responses that carry no media after
// the signature header.
var ErrShortPayload = errors.New("payload shorter than signature header")

// RawSink receives fetched segments in fetch order.
type RawSink interface {
	PushRaw(seg Segment) error
}

// Fetcher pulls raw segments from the source with an advancing cursor.
// The cursor is owned by the fetcher and only moves after a successful push.
type Fetcher struct {
	source    SegmentSource
	sink      RawSink
	stepMs    int64
	headerLen int
	interval  time.Duration
	backoff   time.Duration
	clock     Clock
	log       *slog.Logger
	metrics   *metrics.Metrics

	cursor atomic.Int64
}

// NewFetcher returns a fetcher that starts at startMs.
func NewFetcher(source SegmentSource, sink RawSink, cfg Config, startMs int64, clock Clock, log *slog.Logger, m *metrics.Metrics) *Fetcher {
	cfg = cfg.WithDefaults()
	if clock == nil {
		clock = SystemClock{}
	}
	if log == nil {
		log = slog.Default()
	}
	f := &Fetcher{
		source:    source,
		sink:      sink,
		stepMs:    cfg.SegmentDurationMs(),
		headerLen: cfg.HeaderLength,
		interval:  cfg.FetchInterval,
		backoff:   cfg.FetchRetryBackoff,
		clock:     clock,
		log:       log,
		metrics:   m,
	}
	f.cursor.Store(startMs)
	return f
}

// Cursor returns the timestamp of the next segment to request.
func (f *Fetcher) Cursor() int64 {
	return f.cursor.Load()
}

// Run fetches until running reports false or ctx is done. Every iteration is
// one complete fetch; failures keep the cursor and back off.
func (f *Fetcher) Run(ctx context.Context, running func() bool) {
	for running() {
		delay := f.interval
		if err := f.fetchOnce(ctx); err != nil {
			f.metrics.IncFetchFailures()
			f.log.Warn("segment fetch failed",
				slog.Int64("cursor_ms", f.Cursor()),
				slog.String("error", err.Error()))
			delay = f.backoff
		}
		if !wait(ctx, f.clock, delay, nil) {
			return
		}
	}
}

func (f *Fetcher) fetchOnce(ctx context.Context) error {
	cursor := f.cursor.Load()

	data, err := f.source.GetSegment(context.WithoutCancel(ctx), cursor)
	if err != nil {
		return fmt.Errorf("get segment %d: %w", cursor, err)
	}
	if len(data) <= f.headerLen {
		return fmt.Errorf("segment %d: %w (%d bytes)", cursor, ErrShortPayload, len(data))
	}

	payload := make([]byte, len(data)-f.headerLen)
	copy(payload, data[f.headerLen:])

	seg := Segment{TimestampMs: cursor, Payload: payload, FetchedAt: f.clock.Now()}
	if err := f.sink.PushRaw(seg); err != nil {
		return fmt.Errorf("queue segment %d: %w", cursor, err)
	}

	f.cursor.Store(cursor + f.stepMs)
	f.metrics.IncSegmentsFetched()
	f.log.Debug("segment fetched",
		slog.Int64("timestamp_ms", cursor),
		slog.Int("bytes", len(payload)))
	return nil
}
