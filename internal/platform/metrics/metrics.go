package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the relay.
// All methods are no-ops on a nil *Metrics so components can run without it.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal prometheus.Counter
	errorsTotal   prometheus.Counter

	pipelinesStartedTotal   prometheus.Counter
	segmentsFetchedTotal    prometheus.Counter
	fetchFailuresTotal      prometheus.Counter
	segmentsTranscodedTotal prometheus.Counter
	segmentsAppendedTotal   prometheus.Counter
	segmentsDroppedTotal    *prometheus.CounterVec
	transcodeDuration       prometheus.Histogram

	queueDepth    *prometheus.GaugeVec
	pipelineState prometheus.Gauge
}

// New creates and registers Prometheus metrics for the relay.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_requests_total",
			Help: "Total number of HTTP requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
		pipelinesStartedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_pipelines_started_total",
			Help: "Total number of pipelines started",
		}),
		segmentsFetchedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_segments_fetched_total",
			Help: "Total number of raw segments fetched from the source",
		}),
		fetchFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_fetch_failures_total",
			Help: "Total number of failed segment fetches",
		}),
		segmentsTranscodedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_segments_transcoded_total",
			Help: "Total number of segments transcoded",
		}),
		segmentsAppendedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_segments_appended_total",
			Help: "Total number of segments appended to the playback sink",
		}),
		segmentsDroppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_segments_dropped_total",
			Help: "Total number of segments dropped, by stage",
		}, []string{"stage"}),
		transcodeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_transcode_duration_seconds",
			Help:    "Time spent transcoding one segment",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 0.75, 1, 1.5, 2, 5},
		}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "relay_queue_depth",
			Help: "Number of segments waiting, by queue",
		}, []string{"queue"}),
		pipelineState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_pipeline_state",
			Help: "Current pipeline state (0 loading, 1 running, 2 stopped)",
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.pipelinesStartedTotal,
		m.segmentsFetchedTotal,
		m.fetchFailuresTotal,
		m.segmentsTranscodedTotal,
		m.segmentsAppendedTotal,
		m.segmentsDroppedTotal,
		m.transcodeDuration,
		m.queueDepth,
		m.pipelineState,
	)

	return m
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	if m == nil {
		return
	}
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	if m == nil {
		return
	}
	m.errorsTotal.Inc()
}

// IncPipelinesStarted increments the started pipelines counter.
func (m *Metrics) IncPipelinesStarted() {
	if m == nil {
		return
	}
	m.pipelinesStartedTotal.Inc()
}

// IncSegmentsFetched increments the fetched segments counter.
func (m *Metrics) IncSegmentsFetched() {
	if m == nil {
		return
	}
	m.segmentsFetchedTotal.Inc()
}

// IncFetchFailures increments the failed fetches counter.
func (m *Metrics) IncFetchFailures() {
	if m == nil {
		return
	}
	m.fetchFailuresTotal.Inc()
}

// IncSegmentsTranscoded increments the transcoded segments counter.
func (m *Metrics) IncSegmentsTranscoded() {
	if m == nil {
		return
	}
	m.segmentsTranscodedTotal.Inc()
}

// IncSegmentsAppended increments the appended segments counter.
func (m *Metrics) IncSegmentsAppended() {
	if m == nil {
		return
	}
	m.segmentsAppendedTotal.Inc()
}

// IncSegmentsDropped increments the dropped segments counter for stage.
func (m *Metrics) IncSegmentsDropped(stage string) {
	if m == nil {
		return
	}
	m.segmentsDroppedTotal.WithLabelValues(stage).Inc()
}

// ObserveTranscodeDuration records how long one transcode took.
func (m *Metrics) ObserveTranscodeDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.transcodeDuration.Observe(d.Seconds())
}

// SetQueueDepth sets the depth gauge of the named queue.
func (m *Metrics) SetQueueDepth(queue string, n int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(queue).Set(float64(n))
}

// SetPipelineState sets the pipeline state gauge.
func (m *Metrics) SetPipelineState(v float64) {
	if m == nil {
		return
	}
	m.pipelineState.Set(v)
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g. queue depths).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
