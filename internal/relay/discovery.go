package relay

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrNoChannels is logged when the source answered with an empty channel list.
var ErrNoChannels = errors.New("no channels published")

// StartPoint is where the fetcher begins once discovery succeeded.
type StartPoint struct {
	Channel  ChannelInfo
	CursorMs int64
}

// Discoverer polls the source until it publishes at least one channel.
type Discoverer struct {
	source   SegmentSource
	backoff  time.Duration
	lookback time.Duration
	clock    Clock
	log      *slog.Logger
}

// NewDiscoverer returns a Discoverer that starts lookback behind the live edge.
func NewDiscoverer(source SegmentSource, backoff, lookback time.Duration, clock Clock, log *slog.Logger) *Discoverer {
	if clock == nil {
		clock = SystemClock{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Discoverer{source: source, backoff: backoff, lookback: lookback, clock: clock, log: log}
}

// Discover blocks until the source reports a channel. Listing failures and
// empty lists are retried forever after the fixed backoff; the only error
// returned is the context's.
func (d *Discoverer) Discover(ctx context.Context) (StartPoint, error) {
	for attempt := 1; ; attempt++ {
		channels, err := d.source.ListChannels(context.WithoutCancel(ctx))
		if err == nil && len(channels) == 0 {
			err = ErrNoChannels
		}
		if err == nil {
			ch := channels[0]
			sp := StartPoint{Channel: ch, CursorMs: ch.LastTimestampMs - d.lookback.Milliseconds()}
			d.log.Info("channel discovered",
				slog.Int("channel", ch.Channel),
				slog.Int64("last_timestamp_ms", ch.LastTimestampMs),
				slog.Int64("start_cursor_ms", sp.CursorMs),
				slog.Int("attempts", attempt))
			return sp, nil
		}

		d.log.Debug("discovery retry",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))
		if !wait(ctx, d.clock, d.backoff, nil) {
			return StartPoint{}, ctx.Err()
		}
	}
}
