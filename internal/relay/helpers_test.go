package relay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"live-relay/internal/platform/logger"
)

var testLog = logger.Discard()

// fakeClock fires every timer immediately and records what was asked for.
type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	waits []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.waits = append(c.waits, d)
	c.now = c.now.Add(d)
	now := c.now
	c.mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

func (c *fakeClock) Waits() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.waits...)
}

func withHeader(body string) []byte {
	return append(bytes.Repeat([]byte{0xAB}, 32), body...)
}

type channelsResult struct {
	channels []ChannelInfo
	err      error
}

// fakeSource scripts ListChannels results per call (the last one repeats)
// and serves "seg-<cursor>" bodies behind a 32-byte header.
type fakeSource struct {
	mu        sync.Mutex
	lists     []channelsResult
	listCalls int

	failAttempts  map[int]bool
	shortAttempts map[int]bool
	getCalls      int
	requested     []int64
	selected      int
}

func liveSource(lastMs int64) *fakeSource {
	return &fakeSource{lists: []channelsResult{{channels: []ChannelInfo{{Channel: 1, LastTimestampMs: lastMs}}}}}
}

func (s *fakeSource) ListChannels(ctx context.Context) ([]ChannelInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.listCalls
	if i >= len(s.lists) {
		i = len(s.lists) - 1
	}
	s.listCalls++
	if i < 0 {
		return nil, nil
	}
	return s.lists[i].channels, s.lists[i].err
}

func (s *fakeSource) GetSegment(ctx context.Context, cursorMs int64) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getCalls++
	s.requested = append(s.requested, cursorMs)
	if s.failAttempts[s.getCalls] {
		return nil, errors.New("network unreachable")
	}
	if s.shortAttempts[s.getCalls] {
		return make([]byte, 32), nil
	}
	return withHeader(fmt.Sprintf("seg-%d", cursorMs)), nil
}

func (s *fakeSource) SelectChannel(channel int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = channel
}

func (s *fakeSource) Selected() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

func (s *fakeSource) ListCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listCalls
}

func (s *fakeSource) GetCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getCalls
}

func (s *fakeSource) Requested() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.requested...)
}

// fakeCapture emits "enc:" followed by the payload as two chunks.
// fail maps a timestamp to "open", "stream" or "panic".
type fakeCapture struct {
	mu        sync.Mutex
	fail      map[int64]string
	delay     time.Duration
	active    int
	maxActive int
	opened    int
	closed    int
}

func (c *fakeCapture) Capture(ctx context.Context, seg Segment) (CaptureSession, error) {
	switch c.failure(seg.TimestampMs) {
	case "open":
		return nil, errors.New("decode surface rejected payload")
	case "panic":
		panic("decode surface crashed")
	}

	c.mu.Lock()
	c.active++
	c.opened++
	if c.active > c.maxActive {
		c.maxActive = c.active
	}
	c.mu.Unlock()

	if c.delay > 0 {
		time.Sleep(c.delay)
	}

	s := &fakeSession{owner: c, chunks: make(chan []byte, 2)}
	s.chunks <- []byte("enc:")
	s.chunks <- seg.Payload
	close(s.chunks)
	if c.failure(seg.TimestampMs) == "stream" {
		s.err = errors.New("capture stopped before segment end")
	}
	return s, nil
}

func (c *fakeCapture) failure(ts int64) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fail[ts]
}

func (c *fakeCapture) stats() (maxActive, opened, closed int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxActive, c.opened, c.closed
}

type fakeSession struct {
	owner  *fakeCapture
	chunks chan []byte
	err    error
	once   sync.Once
}

func (s *fakeSession) Chunks() <-chan []byte { return s.chunks }
func (s *fakeSession) Err() error            { return s.err }
func (s *fakeSession) Close() error {
	s.once.Do(func() {
		s.owner.mu.Lock()
		s.owner.active--
		s.owner.closed++
		s.owner.mu.Unlock()
	})
	return nil
}

// recordingSink records appended buffers. block, when set, holds every
// Append until it is closed.
type recordingSink struct {
	mu          sync.Mutex
	appended    [][]byte
	calls       int
	failOn      map[int]bool
	block       chan struct{}
	closed      bool
	unsupported bool
	active      int
	maxActive   int
}

func (s *recordingSink) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

func (s *recordingSink) Updating() bool { return false }

func (s *recordingSink) SupportsIncrementalAppend() bool { return !s.unsupported }

func (s *recordingSink) Append(buf []byte) error {
	s.mu.Lock()
	s.calls++
	n := s.calls
	block := s.block
	s.active++
	if s.active > s.maxActive {
		s.maxActive = s.active
	}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.active--
		s.mu.Unlock()
	}()

	if block != nil {
		<-block
	}
	if s.failOn[n] {
		return errors.New("sink rejected buffer")
	}

	s.mu.Lock()
	s.appended = append(s.appended, buf)
	s.mu.Unlock()
	return nil
}

// MaxConcurrent is the highest number of Append calls seen in flight at once.
func (s *recordingSink) MaxConcurrent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxActive
}

func (s *recordingSink) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *recordingSink) Payloads() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.appended))
	for i, b := range s.appended {
		out[i] = string(b)
	}
	return out
}

type fakePlayable struct {
	ts       int64
	released atomic.Bool
}

func (p *fakePlayable) TimestampMs() int64      { return p.ts }
func (p *fakePlayable) Duration() time.Duration { return time.Millisecond }
func (p *fakePlayable) Release()                { p.released.Store(true) }

type fakeDecoder struct {
	mu      sync.Mutex
	fail    map[int64]bool
	decoded []*fakePlayable
}

func (d *fakeDecoder) Decode(ctx context.Context, seg Segment) (Playable, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail[seg.TimestampMs] {
		return nil, errors.New("corrupt segment")
	}
	p := &fakePlayable{ts: seg.TimestampMs}
	d.decoded = append(d.decoded, p)
	return p, nil
}

func (d *fakeDecoder) Decoded() []*fakePlayable {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*fakePlayable(nil), d.decoded...)
}

// shownLog records the order in which surfaces became visible.
type shownLog struct {
	mu    sync.Mutex
	names []string
}

func (l *shownLog) add(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.names = append(l.names, name)
}

func (l *shownLog) Names() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.names...)
}

type fakeSurface struct {
	name    string
	playFor time.Duration
	shown   *shownLog

	mu    sync.Mutex
	loads []int64
}

func (s *fakeSurface) Name() string { return s.name }

func (s *fakeSurface) Load(p Playable) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads = append(s.loads, p.TimestampMs())
	return nil
}

func (s *fakeSurface) Play() <-chan struct{} {
	done := make(chan struct{})
	if s.playFor <= 0 {
		close(done)
		return done
	}
	time.AfterFunc(s.playFor, func() { close(done) })
	return done
}

func (s *fakeSurface) SetVisible(visible bool) {
	if visible && s.shown != nil {
		s.shown.add(s.name)
	}
}

func (s *fakeSurface) Loads() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.loads...)
}

func fastConfig() Config {
	return Config{
		SegmentDuration:       time.Second,
		HeaderLength:          32,
		DiscoveryBackoff:      5 * time.Millisecond,
		LookbackSegments:      6,
		FallbackLookback:      5 * time.Second,
		FetchInterval:         2 * time.Millisecond,
		FetchRetryBackoff:     5 * time.Millisecond,
		TranscodePollInterval: 2 * time.Millisecond,
		FeedPollInterval:      2 * time.Millisecond,
		SinkPollInterval:      time.Millisecond,
		WarmupDelay:           10 * time.Millisecond,
		PrefillSegments:       4,
		RingPollInterval:      2 * time.Millisecond,
	}
}
