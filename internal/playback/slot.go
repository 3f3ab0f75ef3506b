package playback

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"live-relay/internal/relay"
)

// ErrNothingLoaded is returned when a nil playable is loaded.
var ErrNothingLoaded = errors.New("nothing to load")

// Slot names used by the fallback player.
const (
	SlotPrimary   = "primary"
	SlotSecondary = "secondary"
)

// Slot is a relay.PlaybackSurface. Playback is paced by the loaded
// playable's duration; the loaded bytes are served over HTTP so a viewer can
// show whichever slot is visible.
type Slot struct {
	name     string
	fallback time.Duration

	mu      sync.RWMutex
	current relay.Playable
	visible bool

	plays atomic.Int64
}

var _ relay.PlaybackSurface = (*Slot)(nil)

// NewSlot returns a slot. fallback paces playables that report no duration.
func NewSlot(name string, fallback time.Duration) *Slot {
	return &Slot{name: name, fallback: fallback}
}

// Name implements relay.PlaybackSurface.
func (s *Slot) Name() string { return s.name }

// Load implements relay.PlaybackSurface.
func (s *Slot) Load(p relay.Playable) error {
	if p == nil {
		return ErrNothingLoaded
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = p
	return nil
}

// Play implements relay.PlaybackSurface.
func (s *Slot) Play() <-chan struct{} {
	done := make(chan struct{})

	s.mu.RLock()
	p := s.current
	s.mu.RUnlock()
	if p == nil {
		close(done)
		return done
	}

	s.plays.Add(1)
	d := p.Duration()
	if d <= 0 {
		d = s.fallback
	}
	time.AfterFunc(d, func() { close(done) })
	return done
}

// SetVisible implements relay.PlaybackSurface.
func (s *Slot) SetVisible(visible bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visible = visible
}

// Visible reports whether the slot is the one shown.
func (s *Slot) Visible() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.visible
}

// Plays returns how many times Play started a playable.
func (s *Slot) Plays() int64 { return s.plays.Load() }

// Current returns the loaded playable, or nil.
func (s *Slot) Current() relay.Playable {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// SlotState is the JSON view of a slot.
type SlotState struct {
	Name        string `json:"name"`
	Visible     bool   `json:"visible"`
	TimestampMs int64  `json:"timestamp_ms"`
}

// State returns the JSON view of the slot.
func (s *Slot) State() SlotState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := SlotState{Name: s.name, Visible: s.visible, TimestampMs: -1}
	if s.current != nil {
		st.TimestampMs = s.current.TimestampMs()
	}
	return st
}

type byteSource interface {
	Bytes() []byte
}

// ServeHTTP writes the loaded clip. It responds 404 when nothing (or a
// released clip) is loaded.
func (s *Slot) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	p, visible := s.current, s.visible
	s.mu.RUnlock()

	src, ok := p.(byteSource)
	if p == nil || !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	data := src.Bytes()
	if len(data) == 0 {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", liveContentType)
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Slot-Visible", strconv.FormatBool(visible))
	w.Header().Set("X-Segment-Timestamp", strconv.FormatInt(p.TimestampMs(), 10))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// Slots serves the state of a set of slots and routes to them by name.
type Slots struct {
	slots []*Slot
}

// NewSlots groups slots for HTTP serving.
func NewSlots(slots ...*Slot) *Slots {
	return &Slots{slots: slots}
}

// Get returns the slot with the given name.
func (ss *Slots) Get(name string) (*Slot, bool) {
	for _, s := range ss.slots {
		if s.name == name {
			return s, true
		}
	}
	return nil, false
}

// ServeHTTP writes the JSON state of every slot.
func (ss *Slots) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	states := make([]SlotState, 0, len(ss.slots))
	for _, s := range ss.slots {
		states = append(states, s.State())
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(states)
}
