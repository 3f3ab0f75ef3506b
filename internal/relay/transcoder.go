package relay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"live-relay/internal/platform/metrics"
)

var (
	// ErrCaptureFailed wraps any failure of the decode/re-encode round trip.
	ErrCaptureFailed = errors.New("capture failed")

	// ErrEmptyCapture is returned when a capture ended without output.
	ErrEmptyCapture = errors.New("capture produced no output")
)

// Transcoder re-encodes raw segments one at a time through a CaptureFacility.
// The facility is a single decode surface: a capture must fully stop before
// the next one starts.
type Transcoder struct {
	store   *SegmentStore
	capture CaptureFacility
	poll    time.Duration
	clock   Clock
	log     *slog.Logger
	metrics *metrics.Metrics

	surface sync.Mutex
}

// NewTranscoder returns a transcoder reading the raw lane of store.
func NewTranscoder(store *SegmentStore, capture CaptureFacility, cfg Config, clock Clock, log *slog.Logger, m *metrics.Metrics) *Transcoder {
	cfg = cfg.WithDefaults()
	if clock == nil {
		clock = SystemClock{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Transcoder{
		store:   store,
		capture: capture,
		poll:    cfg.TranscodePollInterval,
		clock:   clock,
		log:     log,
		metrics: m,
	}
}

// Run transcodes queued raw segments until running reports false or ctx is
// done. A segment that fails to transcode is dropped.
func (t *Transcoder) Run(ctx context.Context, running func() bool) {
	for running() {
		seg, ok := t.store.PopRaw()
		if !ok {
			if !wait(ctx, t.clock, t.poll, t.store.Signal(LaneRaw)) {
				return
			}
			continue
		}

		start := t.clock.Now()
		out, err := t.transcode(ctx, seg)
		if err == nil {
			err = t.store.PushTranscoded(out)
		}
		if err != nil {
			t.metrics.IncSegmentsDropped(string(LaneRaw))
			t.log.Warn("segment dropped by transcoder",
				slog.Int64("timestamp_ms", seg.TimestampMs),
				slog.String("error", err.Error()))
			continue
		}

		t.metrics.IncSegmentsTranscoded()
		t.metrics.ObserveTranscodeDuration(t.clock.Now().Sub(start))
		t.log.Debug("segment transcoded",
			slog.Int64("timestamp_ms", seg.TimestampMs),
			slog.Int("bytes_in", seg.Size()),
			slog.Int("bytes_out", out.Size()))
	}
}

// transcode runs one segment through the capture facility and concatenates
// the captured chunks.
func (t *Transcoder) transcode(ctx context.Context, seg Segment) (out Segment, err error) {
	t.surface.Lock()
	defer t.surface.Unlock()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: segment %d: panic: %v", ErrCaptureFailed, seg.TimestampMs, r)
		}
	}()

	sess, err := t.capture.Capture(context.WithoutCancel(ctx), seg)
	if err != nil {
		return Segment{}, fmt.Errorf("%w: segment %d: %v", ErrCaptureFailed, seg.TimestampMs, err)
	}
	defer sess.Close()

	var buf bytes.Buffer
	for chunk := range sess.Chunks() {
		buf.Write(chunk)
	}
	if err := sess.Err(); err != nil {
		return Segment{}, fmt.Errorf("%w: segment %d: %v", ErrCaptureFailed, seg.TimestampMs, err)
	}
	if buf.Len() == 0 {
		return Segment{}, fmt.Errorf("segment %d: %w", seg.TimestampMs, ErrEmptyCapture)
	}

	return Segment{TimestampMs: seg.TimestampMs, Payload: buf.Bytes(), FetchedAt: seg.FetchedAt}, nil
}
