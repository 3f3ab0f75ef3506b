package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"live-relay/internal/platform/metrics"

	"github.com/gorilla/websocket"
)

const (
	eventWriteTimeout = 5 * time.Second
	drainTimeout      = 5 * time.Second
)

// ErrPipelineDraining is returned by Start while the stopped pipeline is
// still releasing its sink and capture sessions.
var ErrPipelineDraining = errors.New("previous pipeline still draining")

// Factory builds a fresh pipeline for each start request.
type Factory func() *Pipeline

// Handler exposes the viewer-facing pipeline controls over HTTP.
// It owns at most one current pipeline; a stopped pipeline is replaced by a
// new one on the next start.
type Handler struct {
	factory  Factory
	hub      *Hub
	log      *slog.Logger
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
	drain    time.Duration

	// startMu serialises Start so only one replacement is built at a time.
	startMu sync.Mutex
	mu      sync.Mutex
	current *Pipeline
}

// NewHandler returns a Handler that builds pipelines with factory and streams
// hub events to websocket clients. Metrics may be nil.
func NewHandler(factory Factory, hub *Hub, log *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{
		factory: factory,
		hub:     hub,
		log:     log,
		metrics: m,
		drain:   drainTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Current returns the current pipeline, or nil.
func (h *Handler) Current() *Pipeline {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

// Start starts the current pipeline, building a new one when there is none
// or the current one was stopped. created reports whether a new pipeline
// was built. A stopped pipeline is only replaced once Done is closed, so two
// pipelines never write to the shared sink; if ctx ends first Start returns
// ErrPipelineDraining and the stopped pipeline.
func (h *Handler) Start(ctx context.Context) (p *Pipeline, created bool, err error) {
	h.startMu.Lock()
	defer h.startMu.Unlock()

	p = h.Current()
	replace := p == nil || p.State() == StateStopped
	if p != nil && replace {
		select {
		case <-p.Done():
		case <-ctx.Done():
			return p, false, fmt.Errorf("%w: pipeline %s", ErrPipelineDraining, p.ID())
		}
	}

	if replace {
		p = h.factory()
		h.mu.Lock()
		h.current = p
		h.mu.Unlock()
		created = true
		h.log.Info("pipeline created", slog.String("pipeline_id", p.ID()))
	}
	return p, created, p.Start()
}

// StartPipeline handles POST /pipeline/start.
// Responds 202 when a new pipeline was started, 200 when one is already live
// and 409 when the stopped one did not finish releasing in time.
func (h *Handler) StartPipeline(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.drain)
	defer cancel()

	p, created, err := h.Start(ctx)
	switch {
	case errors.Is(err, ErrPipelineDraining):
		h.log.Warn("start rejected, previous pipeline still draining",
			slog.String("pipeline_id", p.ID()))
		writeJSON(w, http.StatusConflict, p.Status())
		return
	case err != nil:
		h.log.Error("start pipeline failed",
			slog.String("pipeline_id", p.ID()),
			slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusAccepted
	}
	writeJSON(w, status, p.Status())
}

// StopPipeline handles POST /pipeline/stop. Stopping twice, or with no
// pipeline, is not an error.
func (h *Handler) StopPipeline(w http.ResponseWriter, r *http.Request) {
	p := h.Current()
	if p == nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	p.Stop()
	writeJSON(w, http.StatusOK, p.Status())
}

// GetStatus handles GET /pipeline.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	p := h.Current()
	if p == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, p.Status())
}

// Events handles GET /pipeline/events by upgrading to a websocket and
// streaming every hub event as JSON.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	events, cancel := h.hub.Subscribe()
	defer cancel()

	// Drain client frames so close messages are noticed.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	if p := h.Current(); p != nil {
		st := p.Status()
		snapshot := Event{Type: EventState, PipelineID: st.ID, State: st.State, At: time.Now()}
		if err := h.writeEvent(conn, snapshot); err != nil {
			return
		}
		if st.Ready {
			if err := h.writeEvent(conn, Event{Type: EventReady, PipelineID: st.ID, State: st.State, At: time.Now()}); err != nil {
				return
			}
		}
	}

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if err := h.writeEvent(conn, e); err != nil {
				h.log.Debug("event write failed", slog.String("error", err.Error()))
				return
			}
		}
	}
}

// Shutdown stops the current pipeline and waits for it to release its
// resources or for ctx to end.
func (h *Handler) Shutdown(ctx context.Context) error {
	p := h.Current()
	if p == nil {
		return nil
	}
	p.Stop()
	select {
	case <-p.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RefreshGauges updates queue depth gauges from the current pipeline.
func (h *Handler) RefreshGauges() {
	p := h.Current()
	if p == nil || h.metrics == nil {
		return
	}
	st := p.Status()
	h.metrics.SetQueueDepth(string(LaneRaw), st.RawQueue)
	h.metrics.SetQueueDepth(string(LaneTranscoded), st.TranscodedQueue)
	h.metrics.SetQueueDepth("ring", st.RingDepth)
	h.metrics.SetPipelineState(st.State.Value())
}

func (h *Handler) writeEvent(conn *websocket.Conn, e Event) error {
	if err := conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(e)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
