// Package metrics exposes render and world counters in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// WorldStats is polled at scrape time.
type WorldStats struct {
	Tick         uint64
	LoadedChunks int
	QueueDepth   int
}

// Metrics is nil-safe: every method on a nil *Metrics is a no-op.
type Metrics struct {
	reg *prometheus.Registry

	frames        *prometheus.CounterVec
	sessions      *prometheus.CounterVec
	active        prometheus.Gauge
	cellsWritten  prometheus.Counter
	writeFailures prometheus.Counter
	batches       prometheus.Counter
	batchDuration prometheus.Histogram
	frameDuration prometheus.Histogram
}

func New(world func() WorldStats) *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voxelcast_frames_total",
			Help: "Frames rendered, by source kind.",
		}, []string{"kind"}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voxelcast_sessions_total",
			Help: "Sessions that reached a terminal state, by kind and state.",
		}, []string{"kind", "state"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "voxelcast_sessions_active",
			Help: "Sessions currently running.",
		}),
		cellsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voxelcast_cells_written_total",
			Help: "Cell writes accepted by the world.",
		}),
		writeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voxelcast_cell_write_failures_total",
			Help: "Cell writes rejected by the world.",
		}),
		batches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voxelcast_batches_total",
			Help: "Write batches executed on the world loop.",
		}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "voxelcast_batch_duration_seconds",
			Help:    "Time from batch submission to completion.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		frameDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "voxelcast_frame_duration_seconds",
			Help:    "Time to quantize and diff one frame.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
	}
	m.reg.MustRegister(
		m.frames, m.sessions, m.active,
		m.cellsWritten, m.writeFailures, m.batches,
		m.batchDuration, m.frameDuration,
		collectors.NewGoCollector(),
	)
	if world != nil {
		m.reg.MustRegister(
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name: "voxelcast_world_tick",
				Help: "Current world tick.",
			}, func() float64 { return float64(world().Tick) }),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name: "voxelcast_world_loaded_chunks",
				Help: "Loaded chunk count.",
			}, func() float64 { return float64(world().LoadedChunks) }),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name: "voxelcast_world_queue_depth",
				Help: "Pending world loop requests.",
			}, func() float64 { return float64(world().QueueDepth) }),
		)
	}
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func (m *Metrics) FrameRendered(kind string, took time.Duration) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(kind).Inc()
	m.frameDuration.Observe(took.Seconds())
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.active.Inc()
}

func (m *Metrics) SessionEnded(kind, state string) {
	if m == nil {
		return
	}
	m.active.Dec()
	m.sessions.WithLabelValues(kind, state).Inc()
}

// BatchApplied satisfies batch.Observer.
func (m *Metrics) BatchApplied(written, failed int, took time.Duration) {
	if m == nil {
		return
	}
	m.batches.Inc()
	m.cellsWritten.Add(float64(written))
	m.writeFailures.Add(float64(failed))
	m.batchDuration.Observe(took.Seconds())
}
