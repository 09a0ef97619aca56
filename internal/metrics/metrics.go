package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dj-oyu/nao-firewatch/pkg/types"
)

// Phase values exported by firewatch_loop_phase
const (
	PhaseStarting = 0
	PhaseRunning  = 1
	PhaseStopped  = 2
)

// Metrics holds all application metrics
type Metrics struct {
	// Cycle counters
	Cycles           atomic.Uint64
	FireDetections   atomic.Uint64
	AlertsSent       atomic.Uint64
	AlertsFailed     atomic.Uint64
	CaptureFallbacks atomic.Uint64
	EvidenceWritten  atomic.Uint64

	// Latest timings
	LastBlipMs atomic.Uint64
	LastHTTPMs atomic.Uint64

	// Loop state
	Phase     atomic.Uint64
	Iteration atomic.Uint64

	// Prometheus collectors
	registry      *prometheus.Registry
	blipLatency   prometheus.Histogram
	httpLatency   prometheus.Histogram
	stageFailures *prometheus.CounterVec
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.registerPrometheusMetrics()

	return m
}

// registerPrometheusMetrics registers all metrics with Prometheus
func (m *Metrics) registerPrometheusMetrics() {
	m.registry.MustRegister(collectors.NewGoCollector())
	m.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Cycle metrics
	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Name: "firewatch_cycles_total",
			Help: "Total monitoring cycles completed",
		},
		func() float64 { return float64(m.Cycles.Load()) },
	))

	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Name: "firewatch_fire_detections_total",
			Help: "Total cycles whose caption matched a fire keyword",
		},
		func() float64 { return float64(m.FireDetections.Load()) },
	))

	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Name: "firewatch_alerts_sent_total",
			Help: "Total fire alerts accepted by the telemetry endpoint",
		},
		func() float64 { return float64(m.AlertsSent.Load()) },
	))

	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Name: "firewatch_alerts_failed_total",
			Help: "Total fire alerts that could not be delivered",
		},
		func() float64 { return float64(m.AlertsFailed.Load()) },
	))

	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Name: "firewatch_capture_fallbacks_total",
			Help: "Total cycles that used the placeholder frame",
		},
		func() float64 { return float64(m.CaptureFallbacks.Load()) },
	))

	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Name: "firewatch_evidence_written_total",
			Help: "Total detection evidence files written",
		},
		func() float64 { return float64(m.EvidenceWritten.Load()) },
	))

	// Latency metrics
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "firewatch_last_blip_latency_ms",
			Help: "Caption inference time of the last cycle in milliseconds",
		},
		func() float64 { return float64(m.LastBlipMs.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "firewatch_last_http_latency_ms",
			Help: "Telemetry round trip of the last detection in milliseconds",
		},
		func() float64 { return float64(m.LastHTTPMs.Load()) },
	))

	m.blipLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "firewatch_blip_latency_seconds",
		Help:    "Caption inference time",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16, 32},
	})
	m.httpLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "firewatch_http_latency_seconds",
		Help:    "Telemetry round trip on detections",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})
	m.stageFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "firewatch_stage_failures_total",
		Help: "Recoverable failures per cycle stage",
	}, []string{"stage"})
	m.registry.MustRegister(m.blipLatency, m.httpLatency, m.stageFailures)

	// Loop state
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "firewatch_loop_phase",
			Help: "Loop phase (0=starting, 1=running, 2=stopped)",
		},
		func() float64 { return float64(m.Phase.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "firewatch_iteration",
			Help: "Number of the last started cycle",
		},
		func() float64 { return float64(m.Iteration.Load()) },
	))
}

// CycleCompleted folds one cycle outcome into the counters
func (m *Metrics) CycleCompleted(o types.Outcome, s types.LoopState) {
	m.Cycles.Add(1)
	m.Iteration.Store(uint64(s.Iteration))

	if o.CaptureFallback {
		m.CaptureFallbacks.Add(1)
	}

	m.UpdateBlipLatency(o.Record.BlipTime)

	if !o.Record.Verdict.IsFire {
		return
	}
	m.FireDetections.Add(1)
	if o.AlertSent {
		m.AlertsSent.Add(1)
		m.UpdateHTTPLatency(o.Record.HTTPLatency)
	} else {
		m.AlertsFailed.Add(1)
	}
	if o.EvidencePath != "" {
		m.EvidenceWritten.Add(1)
	}
}

// StageFailed counts a recoverable failure in the named stage
func (m *Metrics) StageFailed(stage string) {
	m.stageFailures.WithLabelValues(stage).Inc()
}

// PhaseChanged records the loop phase by name
func (m *Metrics) PhaseChanged(phase string) {
	switch phase {
	case "running":
		m.Phase.Store(PhaseRunning)
	case "stopped":
		m.Phase.Store(PhaseStopped)
	default:
		m.Phase.Store(PhaseStarting)
	}
}

// UpdateBlipLatency records a caption inference time
func (m *Metrics) UpdateBlipLatency(d time.Duration) {
	m.LastBlipMs.Store(uint64(d.Milliseconds()))
	m.blipLatency.Observe(d.Seconds())
}

// UpdateHTTPLatency records a telemetry round trip
func (m *Metrics) UpdateHTTPLatency(d time.Duration) {
	m.LastHTTPMs.Store(uint64(d.Milliseconds()))
	m.httpLatency.Observe(d.Seconds())
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
