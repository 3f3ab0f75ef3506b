package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"live-relay/internal/platform/metrics"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrPipelineStopped is returned by Start on a pipeline that was stopped.
	// A stopped pipeline cannot be restarted; construct a new one instead.
	ErrPipelineStopped = errors.New("pipeline stopped")

	// ErrMissingDependency is returned by Start when neither playback
	// strategy has the collaborators it needs.
	ErrMissingDependency = errors.New("missing pipeline dependency")
)

// Dependencies are the collaborators a pipeline drives.
// Capture and Sink are used by the streaming strategy; Decoder, Primary and
// Secondary by the fallback strategy.
type Dependencies struct {
	Source  SegmentSource
	Capture CaptureFacility
	Sink    StreamingBufferSink

	Decoder   Decoder
	Primary   PlaybackSurface
	Secondary PlaybackSurface

	Clock   Clock
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// OnEvent receives lifecycle and ready notifications. It must not block.
	OnEvent func(Event)
}

// Status is a point-in-time snapshot of a pipeline.
type Status struct {
	ID              string     `json:"id"`
	State           State      `json:"state"`
	Strategy        Strategy   `json:"strategy"`
	CursorMs        int64      `json:"cursor_ms"`
	LastFedMs       int64      `json:"last_fed_ms"`
	RawQueue        int        `json:"raw_queue"`
	TranscodedQueue int        `json:"transcoded_queue"`
	RingDepth       int        `json:"ring_depth"`
	VisibleSlot     string     `json:"visible_slot,omitempty"`
	Ready           bool       `json:"ready"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
}

// Pipeline owns one run of the relay: discovery, then fetch, transcode and
// feed loops (or the fallback player) linked only through its SegmentStore.
type Pipeline struct {
	id       string
	cfg      Config
	deps     Dependencies
	strategy Strategy
	depErr   error
	log      *slog.Logger
	store    *SegmentStore
	state    *stateMachine

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	started   bool
	startedAt time.Time
	fetcher   *Fetcher
	feeder    *Feeder
	player    *FallbackPlayer

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
}

// NewPipeline constructs a pipeline in the loading state.
func NewPipeline(cfg Config, deps Dependencies) *Pipeline {
	cfg = cfg.WithDefaults()
	if deps.Clock == nil {
		deps.Clock = SystemClock{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	strategy, depErr := resolveStrategy(cfg.Strategy, deps)
	p := &Pipeline{
		id:       id,
		cfg:      cfg,
		deps:     deps,
		strategy: strategy,
		depErr:   depErr,
		store:    NewSegmentStore(),
		ctx:      ctx,
		cancel:   cancel,
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
	}
	p.log = deps.Logger.With(
		slog.String("component", "pipeline"),
		slog.String("pipeline_id", id))
	p.state = newStateMachine(p.stateChanged)
	deps.Metrics.SetPipelineState(StateLoading.Value())
	return p
}

// resolveStrategy picks the fallback path when the sink cannot take
// incremental appends. A forced strategy whose collaborators are missing is
// downgraded to the other one when that one is complete.
func resolveStrategy(s Strategy, deps Dependencies) (Strategy, error) {
	if deps.Source == nil {
		return s, fmt.Errorf("%w: source", ErrMissingDependency)
	}
	streamOK := deps.Sink != nil && deps.Capture != nil
	fallbackOK := deps.Decoder != nil && deps.Primary != nil && deps.Secondary != nil

	switch s {
	case StrategyStream:
		if !streamOK && fallbackOK {
			s = StrategyFallback
		}
	case StrategyFallback:
		if !fallbackOK && streamOK {
			s = StrategyStream
		}
	default:
		incremental := true
		if c, ok := deps.Sink.(IncrementalAppendChecker); ok {
			incremental = c.SupportsIncrementalAppend()
		}
		switch {
		case streamOK && incremental:
			s = StrategyStream
		case fallbackOK:
			s = StrategyFallback
		default:
			s = StrategyStream
		}
	}

	switch {
	case s == StrategyStream && !streamOK:
		return s, fmt.Errorf("%w: stream strategy needs a sink and a capture facility", ErrMissingDependency)
	case s == StrategyFallback && !fallbackOK:
		return s, fmt.Errorf("%w: fallback strategy needs a decoder and two surfaces", ErrMissingDependency)
	}
	return s, nil
}

// ID returns the pipeline instance id.
func (p *Pipeline) ID() string { return p.id }

// State returns the current lifecycle state.
func (p *Pipeline) State() State { return p.state.Current() }

// Strategy returns the playback strategy in use.
func (p *Pipeline) Strategy() Strategy { return p.strategy }

// Ready is closed once playback is first ready.
func (p *Pipeline) Ready() <-chan struct{} { return p.ready }

// Done is closed after Stop once every loop exited and resources were released.
func (p *Pipeline) Done() <-chan struct{} { return p.done }

// Start launches discovery and, once a channel is found, the pipeline loops.
// It returns immediately. Calling Start again before Stop is a no-op.
func (p *Pipeline) Start() error {
	if p.depErr != nil {
		return p.depErr
	}
	p.mu.Lock()
	if p.state.Current() == StateStopped {
		p.mu.Unlock()
		return ErrPipelineStopped
	}
	if p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = true
	p.startedAt = p.deps.Clock.Now()
	p.mu.Unlock()

	p.deps.Metrics.IncPipelinesStarted()
	p.log.Info("pipeline starting", slog.String("strategy", string(p.strategy)))
	go p.run()
	return nil
}

// Stop moves the pipeline to stopped. Loops finish their current unit of
// work and exit; Done reports when that happened. Stop before Start and
// repeated calls are no-ops.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	started := p.started
	p.mu.Unlock()
	if !started {
		p.log.Debug("stop ignored, pipeline not started")
		return
	}

	from, ok := p.state.To(StateStopped)
	if !ok {
		return
	}
	p.cancel()
	p.log.Info("pipeline stopping", slog.String("from", string(from)))
}

// Status returns a snapshot of the pipeline.
func (p *Pipeline) Status() Status {
	p.mu.Lock()
	fetcher, feeder, player := p.fetcher, p.feeder, p.player
	startedAt := p.startedAt
	p.mu.Unlock()

	st := Status{
		ID:              p.id,
		State:           p.state.Current(),
		Strategy:        p.strategy,
		CursorMs:        -1,
		LastFedMs:       -1,
		RawQueue:        p.store.Len(LaneRaw),
		TranscodedQueue: p.store.Len(LaneTranscoded),
	}
	if !startedAt.IsZero() {
		st.StartedAt = &startedAt
	}
	select {
	case <-p.ready:
		st.Ready = true
	default:
	}
	if fetcher != nil {
		st.CursorMs = fetcher.Cursor()
	}
	if feeder != nil {
		st.LastFedMs = feeder.LastFedMs()
	}
	if player != nil {
		st.CursorMs = player.Cursor()
		st.RingDepth = player.RingLen()
		st.VisibleSlot = player.VisibleSlot()
	}
	return st
}

// running is the loop condition shared by every stage.
func (p *Pipeline) running() bool {
	return p.state.Current() == StateRunning
}

func (p *Pipeline) run() {
	defer p.release()

	lookback := time.Duration(p.cfg.LookbackSegments) * p.cfg.SegmentDuration
	if p.strategy == StrategyFallback {
		lookback = p.cfg.FallbackLookback
	}

	disc := NewDiscoverer(p.deps.Source, p.cfg.DiscoveryBackoff, lookback, p.deps.Clock, p.log)
	sp, err := disc.Discover(p.ctx)
	if err != nil {
		p.log.Info("discovery aborted", slog.String("error", err.Error()))
		return
	}
	if sel, ok := p.deps.Source.(ChannelSelector); ok {
		sel.SelectChannel(sp.Channel.Channel)
	}
	if !p.state.Transition(StateLoading, StateRunning) {
		return
	}

	var g errgroup.Group
	switch p.strategy {
	case StrategyFallback:
		p.runFallback(&g, sp)
	default:
		p.runStream(&g, sp)
	}
	_ = g.Wait()
}

func (p *Pipeline) runStream(g *errgroup.Group, sp StartPoint) {
	m := p.deps.Metrics
	fetcher := NewFetcher(p.deps.Source, p.store, p.cfg, sp.CursorMs, p.deps.Clock,
		p.log.With(slog.String("stage", "fetch")), m)
	transcoder := NewTranscoder(p.store, p.deps.Capture, p.cfg, p.deps.Clock,
		p.log.With(slog.String("stage", "transcode")), m)
	feeder := NewFeeder(p.store, p.deps.Sink, p.cfg, p.deps.Clock,
		p.log.With(slog.String("stage", "feed")), m)

	p.mu.Lock()
	p.fetcher, p.feeder = fetcher, feeder
	p.mu.Unlock()

	g.Go(func() error {
		fetcher.Run(p.ctx, p.running)
		return nil
	})
	g.Go(func() error {
		transcoder.Run(p.ctx, p.running)
		return nil
	})
	g.Go(func() error {
		// Give the transcoder a head start so playback does not begin on an
		// empty buffer.
		if !wait(p.ctx, p.deps.Clock, p.cfg.WarmupDelay, nil) || !p.running() {
			return nil
		}
		p.markReady()
		feeder.Run(p.ctx, p.running)
		return nil
	})
}

func (p *Pipeline) runFallback(g *errgroup.Group, sp StartPoint) {
	player := NewFallbackPlayer(p.cfg, p.deps.Decoder, p.deps.Primary, p.deps.Secondary,
		p.deps.Clock, p.log.With(slog.String("stage", "fallback")), p.deps.Metrics)
	player.OnPlaying(p.markReady)

	p.mu.Lock()
	p.player = player
	p.mu.Unlock()

	g.Go(func() error {
		player.Run(p.ctx, p.running, p.deps.Source, sp.CursorMs)
		return nil
	})
}

func (p *Pipeline) markReady() {
	p.readyOnce.Do(func() {
		close(p.ready)
		p.log.Info("stream started")
		p.emit(Event{Type: EventReady, State: p.state.Current()})
	})
}

// release drops queued segments and signals Done. It runs once, after every
// loop returned.
func (p *Pipeline) release() {
	n := p.store.Close()
	p.cancel()
	m := p.deps.Metrics
	m.SetQueueDepth(string(LaneRaw), 0)
	m.SetQueueDepth(string(LaneTranscoded), 0)
	p.log.Info("pipeline stopped", slog.Int("discarded_segments", n))
	close(p.done)
}

func (p *Pipeline) stateChanged(from, to State) {
	p.deps.Metrics.SetPipelineState(to.Value())
	p.log.Debug("pipeline state changed",
		slog.String("from", string(from)),
		slog.String("to", string(to)))
	p.emit(Event{Type: EventState, From: from, State: to})
}

func (p *Pipeline) emit(e Event) {
	if p.deps.OnEvent == nil {
		return
	}
	e.PipelineID = p.id
	e.At = p.deps.Clock.Now()
	p.deps.OnEvent(e)
}
