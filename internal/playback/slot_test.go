package playback

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"live-relay/internal/media"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlot_Load_nil(t *testing.T) {
	s := NewSlot(SlotPrimary, time.Second)
	assert.ErrorIs(t, s.Load(nil), ErrNothingLoaded)
}

func TestSlot_Play(t *testing.T) {
	s := NewSlot(SlotPrimary, time.Hour)

	select {
	case <-s.Play():
	default:
		t.Fatal("Play with nothing loaded must finish immediately")
	}
	assert.Zero(t, s.Plays())

	require.NoError(t, s.Load(media.NewClip(1000, []byte("clip"), 10*time.Millisecond, nil)))
	start := time.Now()
	select {
	case <-s.Play():
	case <-time.After(time.Second):
		t.Fatal("playback did not end")
	}
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
	assert.Equal(t, int64(1), s.Plays())
}

func TestSlot_Play_uses_fallback_duration(t *testing.T) {
	s := NewSlot(SlotSecondary, 5*time.Millisecond)
	require.NoError(t, s.Load(media.NewClip(1000, []byte("clip"), 0, nil)))
	select {
	case <-s.Play():
	case <-time.After(time.Second):
		t.Fatal("fallback duration not applied")
	}
}

func TestSlot_ServeHTTP(t *testing.T) {
	s := NewSlot(SlotPrimary, time.Second)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/slots/primary", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	clip := media.NewClip(7000, []byte("moof-bytes"), time.Second, nil)
	require.NoError(t, s.Load(clip))
	s.SetVisible(true)

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/slots/primary", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "moof-bytes", rec.Body.String())
	assert.Equal(t, "true", rec.Header().Get("X-Slot-Visible"))
	assert.Equal(t, "7000", rec.Header().Get("X-Segment-Timestamp"))

	clip.Release()
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/slots/primary", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSlots_ServeHTTP(t *testing.T) {
	primary := NewSlot(SlotPrimary, time.Second)
	secondary := NewSlot(SlotSecondary, time.Second)
	require.NoError(t, secondary.Load(media.NewClip(3000, []byte("x"), time.Second, nil)))
	secondary.SetVisible(true)
	slots := NewSlots(primary, secondary)

	got, ok := slots.Get(SlotSecondary)
	require.True(t, ok)
	assert.Same(t, secondary, got)
	_, ok = slots.Get("tertiary")
	assert.False(t, ok)

	rec := httptest.NewRecorder()
	slots.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/slots", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var states []SlotState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &states))
	assert.Equal(t, []SlotState{
		{Name: SlotPrimary, Visible: false, TimestampMs: -1},
		{Name: SlotSecondary, Visible: true, TimestampMs: 3000},
	}, states)
}
