// Package playback holds the local playback targets fed by the relay: a
// streaming buffer served as progressive fragmented MP4, and the two
// alternating slots used by the fallback player.
package playback

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"live-relay/internal/media"
	"live-relay/internal/relay"
)

// ErrSinkClosed is returned by Append after Close.
var ErrSinkClosed = errors.New("sink closed")

const (
	defaultSubscriberBuffer = 16
	defaultWriteTimeout     = 2 * time.Second
	liveContentType         = "video/mp4"
)

// LiveBufferConfig configures a LiveBuffer.
type LiveBufferConfig struct {
	// SubscriberBuffer is the number of fragments queued per viewer.
	SubscriberBuffer int
	// WriteTimeout is how long Append waits on a saturated viewer before
	// evicting it.
	WriteTimeout time.Duration
	Logger       *slog.Logger
}

// LiveBuffer is a relay.StreamingBufferSink. The initialization section of
// the first append is kept for late joiners; every append's fragments are
// fanned out to the viewers connected to ServeHTTP.
type LiveBuffer struct {
	cfg LiveBufferConfig

	mu     sync.Mutex
	open   bool
	init   []byte
	subs   map[int]*subscriber
	nextID int

	updating atomic.Bool
	appended atomic.Int64
}

type subscriber struct {
	ch       chan []byte
	done     chan struct{}
	sentInit bool
}

var (
	_ relay.StreamingBufferSink      = (*LiveBuffer)(nil)
	_ relay.IncrementalAppendChecker = (*LiveBuffer)(nil)
)

// NewLiveBuffer returns an open buffer.
func NewLiveBuffer(cfg LiveBufferConfig) *LiveBuffer {
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = defaultSubscriberBuffer
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &LiveBuffer{cfg: cfg, open: true, subs: make(map[int]*subscriber)}
}

// IsOpen implements relay.StreamingBufferSink.
func (b *LiveBuffer) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}

// Updating implements relay.StreamingBufferSink.
func (b *LiveBuffer) Updating() bool {
	return b.updating.Load()
}

// SupportsIncrementalAppend implements relay.IncrementalAppendChecker.
func (b *LiveBuffer) SupportsIncrementalAppend() bool { return true }

// Appended returns how many appends completed.
func (b *LiveBuffer) Appended() int64 { return b.appended.Load() }

// Viewers returns the number of connected viewers.
func (b *LiveBuffer) Viewers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Init returns the stored initialization section.
func (b *LiveBuffer) Init() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.init
}

// Append implements relay.StreamingBufferSink. It returns once every viewer
// received the fragments or was evicted.
func (b *LiveBuffer) Append(buf []byte) error {
	b.updating.Store(true)
	defer b.updating.Store(false)

	init, frags, err := media.SplitInit(buf)
	if err != nil {
		return fmt.Errorf("append: %w", err)
	}

	b.mu.Lock()
	if !b.open {
		b.mu.Unlock()
		return ErrSinkClosed
	}
	if b.init == nil && len(init) > 0 {
		b.init = append([]byte(nil), init...)
	}
	type delivery struct {
		id      int
		sub     *subscriber
		payload []byte
	}
	deliveries := make([]delivery, 0, len(b.subs))
	for id, sub := range b.subs {
		payload := frags
		if !sub.sentInit && b.init != nil {
			payload = append(append([]byte(nil), b.init...), frags...)
			sub.sentInit = true
		}
		deliveries = append(deliveries, delivery{id: id, sub: sub, payload: payload})
	}
	b.mu.Unlock()

	for _, d := range deliveries {
		select {
		case d.sub.ch <- d.payload:
		case <-d.sub.done:
		case <-time.After(b.cfg.WriteTimeout):
			b.cfg.Logger.Warn("evicting saturated viewer", slog.Int("viewer", d.id))
			b.unsubscribe(d.id)
		}
	}

	b.appended.Add(1)
	return nil
}

// Reset forgets the stored initialization section so the next append starts
// a new timeline. Connected viewers receive the new section.
func (b *LiveBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.init = nil
	for _, sub := range b.subs {
		sub.sentInit = false
	}
	b.open = true
}

// Close disconnects every viewer and rejects further appends.
func (b *LiveBuffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.open = false
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.done)
	}
}

// ServeHTTP streams the live buffer as progressive fragmented MP4.
func (b *LiveBuffer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, sub, init, ok := b.subscribe()
	if !ok {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	defer b.unsubscribe(id)

	w.Header().Set("Content-Type", liveContentType)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	if init != nil {
		if _, err := w.Write(init); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-sub.done:
			return
		case frag := <-sub.ch:
			if _, err := w.Write(frag); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

func (b *LiveBuffer) subscribe() (int, *subscriber, []byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return 0, nil, nil, false
	}
	id := b.nextID
	b.nextID++
	sub := &subscriber{
		ch:       make(chan []byte, b.cfg.SubscriberBuffer),
		done:     make(chan struct{}),
		sentInit: b.init != nil,
	}
	b.subs[id] = sub
	return id, sub, b.init, true
}

func (b *LiveBuffer) unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(sub.done)
	}
}
