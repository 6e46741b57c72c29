package metrics

import (
	"math"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dj-oyu/checklist-camera/internal/timing"
)

// Metrics holds all application metrics
type Metrics struct {
	// Pass counters
	Passes            atomic.Uint64
	CaptureFailures   atomic.Uint64
	InferenceFailures atomic.Uint64
	ChecklistHits     atomic.Uint64
	EventsPublished   atomic.Uint64
	EventsDropped     atomic.Uint64

	// Loop state (0 = idle, 1 = running)
	LoopRunning atomic.Uint64

	// Latest timing sample, stored as float64 bits
	inferenceMs atomic.Uint64
	totalMs     atomic.Uint64

	// Client tracking
	SSEClients    atomic.Int64
	WebRTCClients atomic.Int64

	// Prometheus collectors
	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.registerPrometheusMetrics()
	return m
}

func (m *Metrics) gauge(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: "checklist_camera_" + name, Help: help},
		fn,
	))
}

// registerPrometheusMetrics registers all metrics with Prometheus
func (m *Metrics) registerPrometheusMetrics() {
	// Pass metrics
	m.gauge("passes_total", "Total completed inference passes",
		func() float64 { return float64(m.Passes.Load()) })
	m.gauge("capture_failures_total", "Total passes aborted for lack of a frame",
		func() float64 { return float64(m.CaptureFailures.Load()) })
	m.gauge("inference_failures_total", "Total passes aborted by the model",
		func() float64 { return float64(m.InferenceFailures.Load()) })
	m.gauge("checklist_hits_total", "Total detections matching a checklist item",
		func() float64 { return float64(m.ChecklistHits.Load()) })

	// Event fanout
	m.gauge("events_published_total", "Total events delivered to subscribers",
		func() float64 { return float64(m.EventsPublished.Load()) })
	m.gauge("events_dropped_total", "Total events dropped for slow subscribers",
		func() float64 { return float64(m.EventsDropped.Load()) })

	m.gauge("loop_running", "Live detection running (0=idle, 1=running)",
		func() float64 { return float64(m.LoopRunning.Load()) })

	// Timing metrics
	m.gauge("inference_ms", "Latest model inference time in milliseconds", m.InferenceMs)
	m.gauge("total_ms", "Latest total pass time in milliseconds", m.TotalMs)
	m.gauge("model_fps", "Latest model FPS",
		func() float64 { return zeroNaN(m.sample().ModelFPS()) })
	m.gauge("total_fps", "Latest total FPS",
		func() float64 { return zeroNaN(m.sample().TotalFPS()) })

	// Client metrics
	m.gauge("sse_clients", "Number of connected SSE clients",
		func() float64 { return float64(m.SSEClients.Load()) })
	m.gauge("webrtc_clients", "Number of connected WebRTC data channel clients",
		func() float64 { return float64(m.WebRTCClients.Load()) })
}

// ObservePass records a completed pass
func (m *Metrics) ObservePass(s timing.Sample, hits int) {
	m.Passes.Add(1)
	m.ChecklistHits.Add(uint64(hits))
	m.inferenceMs.Store(math.Float64bits(s.InferenceMs))
	m.totalMs.Store(math.Float64bits(s.TotalMs))
}

func (m *Metrics) ObserveCaptureFailure() { m.CaptureFailures.Add(1) }

func (m *Metrics) ObserveInferenceFailure() { m.InferenceFailures.Add(1) }

// SetLoopRunning updates the loop state gauge
func (m *Metrics) SetLoopRunning(running bool) {
	if running {
		m.LoopRunning.Store(1)
	} else {
		m.LoopRunning.Store(0)
	}
}

// InferenceMs returns the latest inference time
func (m *Metrics) InferenceMs() float64 { return math.Float64frombits(m.inferenceMs.Load()) }

// TotalMs returns the latest total pass time
func (m *Metrics) TotalMs() float64 { return math.Float64frombits(m.totalMs.Load()) }

func (m *Metrics) sample() timing.Sample {
	return timing.Sample{InferenceMs: m.InferenceMs(), TotalMs: m.TotalMs()}
}

// zeroNaN reports the NaN sentinel as 0.
func zeroNaN(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer starts the metrics HTTP server
func (m *Metrics) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, mux)
}
