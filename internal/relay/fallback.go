package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"live-relay/internal/platform/metrics"

	"golang.org/x/sync/errgroup"
)

// FallbackPlayer plays whole decoded segments on two alternating surfaces.
// It is used when the host cannot append incrementally to a playback buffer.
// Playback starts only after the ring holds the prefill count; every hand-off
// between surfaces consumes exactly one playable from the ring.
type FallbackPlayer struct {
	cfg       Config
	decoder   Decoder
	primary   PlaybackSurface
	secondary PlaybackSurface
	ring      *FrameRing
	clock     Clock
	log       *slog.Logger
	metrics   *metrics.Metrics

	mu        sync.Mutex
	onPlaying func()
	decodeCtx context.Context
	fetcher   *Fetcher

	playing  atomic.Bool
	visible  atomic.Value // string
	handoffs atomic.Int64
}

// NewFallbackPlayer returns a player over the two surfaces.
func NewFallbackPlayer(cfg Config, decoder Decoder, primary, secondary PlaybackSurface, clock Clock, log *slog.Logger, m *metrics.Metrics) *FallbackPlayer {
	cfg = cfg.WithDefaults()
	if clock == nil {
		clock = SystemClock{}
	}
	if log == nil {
		log = slog.Default()
	}
	p := &FallbackPlayer{
		cfg:       cfg,
		decoder:   decoder,
		primary:   primary,
		secondary: secondary,
		ring:      NewFrameRing(),
		clock:     clock,
		log:       log,
		metrics:   m,
		decodeCtx: context.Background(),
	}
	p.visible.Store("")
	return p
}

// OnPlaying registers fn to run once when playback first starts.
func (p *FallbackPlayer) OnPlaying(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onPlaying = fn
}

// Playing reports whether the prefill gate opened.
func (p *FallbackPlayer) Playing() bool { return p.playing.Load() }

// RingLen returns the number of decoded playables waiting.
func (p *FallbackPlayer) RingLen() int { return p.ring.Len() }

// VisibleSlot returns the name of the surface currently shown.
func (p *FallbackPlayer) VisibleSlot() string { return p.visible.Load().(string) }

// Handoffs returns how many surface hand-offs happened.
func (p *FallbackPlayer) Handoffs() int64 { return p.handoffs.Load() }

// Cursor returns the fetch cursor, or -1 before Run.
func (p *FallbackPlayer) Cursor() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fetcher == nil {
		return -1
	}
	return p.fetcher.Cursor()
}

// PushRaw decodes seg and buffers the playable. Decode failures drop the
// segment without failing the fetch.
func (p *FallbackPlayer) PushRaw(seg Segment) error {
	p.mu.Lock()
	ctx := p.decodeCtx
	p.mu.Unlock()

	playable, err := p.decoder.Decode(ctx, seg)
	if err != nil {
		p.metrics.IncSegmentsDropped("decode")
		p.log.Warn("segment dropped by decoder",
			slog.Int64("timestamp_ms", seg.TimestampMs),
			slog.String("error", err.Error()))
		return nil
	}
	p.ring.Push(playable)
	p.metrics.SetQueueDepth("ring", p.ring.Len())
	return nil
}

// Run fetches and plays until running reports false or ctx is done. The ring
// and both surfaces' playables are released before it returns.
func (p *FallbackPlayer) Run(ctx context.Context, running func() bool, source SegmentSource, startMs int64) {
	fetcher := NewFetcher(source, p, p.cfg, startMs, p.clock, p.log, p.metrics)
	p.mu.Lock()
	p.fetcher = fetcher
	p.decodeCtx = context.WithoutCancel(ctx)
	p.mu.Unlock()

	var g errgroup.Group
	g.Go(func() error {
		fetcher.Run(ctx, running)
		return nil
	})
	g.Go(func() error {
		p.play(ctx, running)
		return nil
	})
	_ = g.Wait()

	if n := p.ring.Clear(); n > 0 {
		p.log.Debug("fallback ring released", slog.Int("playables", n))
	}
	p.metrics.SetQueueDepth("ring", 0)
}

// play waits for the prefill gate, then ping-pongs between the surfaces.
func (p *FallbackPlayer) play(ctx context.Context, running func() bool) {
	for p.ring.Len() < p.cfg.PrefillSegments {
		if !running() || !wait(ctx, p.clock, p.cfg.RingPollInterval, p.ring.Signal()) {
			return
		}
	}

	cur, next := p.primary, p.secondary
	curPlayable, ok := p.loadNext(ctx, running, cur)
	if !ok {
		return
	}
	defer func() { curPlayable.Release() }()

	next.SetVisible(false)
	cur.SetVisible(true)
	p.visible.Store(cur.Name())
	p.playing.Store(true)
	p.log.Info("fallback playback started",
		slog.String("slot", cur.Name()),
		slog.Int("buffered", p.ring.Len()))
	p.mu.Lock()
	onPlaying := p.onPlaying
	p.mu.Unlock()
	if onPlaying != nil {
		onPlaying()
	}

	done := cur.Play()
	for running() {
		// Load the other surface while the current one plays. An empty ring
		// stalls here until a playable arrives.
		nextPlayable, ok := p.loadNext(ctx, running, next)
		if !ok {
			return
		}

		select {
		case <-ctx.Done():
			nextPlayable.Release()
			return
		case <-done:
		}

		next.SetVisible(true)
		cur.SetVisible(false)
		curPlayable.Release()

		cur, next = next, cur
		curPlayable = nextPlayable
		p.visible.Store(cur.Name())
		p.handoffs.Add(1)
		p.log.Debug("fallback hand-off",
			slog.String("slot", cur.Name()),
			slog.Int64("timestamp_ms", curPlayable.TimestampMs()))
		done = cur.Play()
	}
}

// loadNext pops the next playable into surface, waiting while the ring is empty.
func (p *FallbackPlayer) loadNext(ctx context.Context, running func() bool, surface PlaybackSurface) (Playable, bool) {
	for running() {
		item, ok := p.ring.Pop()
		if !ok {
			if !wait(ctx, p.clock, p.cfg.RingPollInterval, p.ring.Signal()) {
				return nil, false
			}
			continue
		}
		p.metrics.SetQueueDepth("ring", p.ring.Len())

		if err := surface.Load(item); err != nil {
			item.Release()
			p.metrics.IncSegmentsDropped("surface")
			p.log.Warn("surface load failed",
				slog.String("slot", surface.Name()),
				slog.String("error", fmt.Errorf("load %d: %w", item.TimestampMs(), err).Error()))
			continue
		}
		return item, true
	}
	return nil, false
}
