package export

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/frametimer/eventtimer"
)

// HealthConfig configures the Prometheus health metrics server.
type HealthConfig struct {
	// Addr is the listen address for the health metrics server.
	// Empty disables the server.
	Addr string `yaml:"addr"`
}

// HealthMetrics exposes Prometheus metrics for a profiling run.
type HealthMetrics struct {
	log      logrus.FieldLogger
	addr     string
	server   *http.Server
	listener net.Listener
	registry *prometheus.Registry

	// Frame lifecycle
	FramesAdvanced  prometheus.Counter
	CurrentFrame    prometheus.Gauge
	FramesOverrun   prometheus.Counter
	FrameDuration   prometheus.Histogram
	FrameSamples    prometheus.Histogram
	SamplesRecorded prometheus.Counter

	// Store capacity, by event label
	CapacityHint    *prometheus.GaugeVec
	CapacityGrowths *prometheus.CounterVec
	PeakInstances   *prometheus.GaugeVec

	// Workers
	ThreadsRegistered prometheus.Gauge

	// Sinks
	SinkExportDuration  *prometheus.HistogramVec // sink
	SinkRowsExported    *prometheus.CounterVec   // sink
	ExportErrors        *prometheus.CounterVec   // sink, error_type
	ClickHouseConnected *prometheus.GaugeVec     // sink

	running atomic.Bool
}

// NewHealthMetrics creates the metrics registry. Start serves it.
func NewHealthMetrics(
	log logrus.FieldLogger,
	cfg HealthConfig,
) *HealthMetrics {
	reg := prometheus.NewRegistry()

	h := &HealthMetrics{
		log:      log.WithField("component", "health"),
		addr:     cfg.Addr,
		registry: reg,

		FramesAdvanced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "frametimer",
			Name:      "frames_advanced_total",
			Help:      "Total frames closed by the coordinator.",
		}),
		CurrentFrame: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "frametimer",
			Name:      "current_frame",
			Help:      "Current frame index of the event store.",
		}),
		FramesOverrun: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "frametimer",
			Name:      "frames_overrun_total",
			Help:      "Frames that finished after the next frame was due.",
		}),
		FrameDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "frametimer",
			Name:      "frame_duration_seconds",
			Help:      "Wall time from frame release to the barrier.",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.0167, 0.033, 0.1}, // 100us-100ms
		}),
		FrameSamples: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "frametimer",
			Name:      "frame_samples",
			Help:      "Samples recorded per frame across all threads.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8), // 1-16384
		}),
		SamplesRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "frametimer",
			Name:      "samples_recorded_total",
			Help:      "Total samples recorded in closed frames.",
		}),
		CapacityHint: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "frametimer",
				Name:      "capacity_hint",
				Help:      "Instances reserved per cell for future frames by event.",
			},
			[]string{"event"},
		),
		CapacityGrowths: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "frametimer",
				Name:      "capacity_growths_total",
				Help:      "Times the capacity hint of an event was raised.",
			},
			[]string{"event"},
		),
		PeakInstances: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "frametimer",
				Name:      "peak_instances",
				Help:      "Largest per-thread instance count of an event in the last closed frame.",
			},
			[]string{"event"},
		),
		ThreadsRegistered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "frametimer",
			Name:      "threads_registered",
			Help:      "Worker threads registered for hardware counters.",
		}),
		SinkExportDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "frametimer",
				Name:      "sink_export_duration_seconds",
				Help:      "Time to export all samples by sink.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5}, // 1ms-5s
			},
			[]string{"sink"},
		),
		SinkRowsExported: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "frametimer",
				Name:      "sink_rows_exported_total",
				Help:      "Total sample rows exported by sink.",
			},
			[]string{"sink"},
		),
		ExportErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "frametimer",
				Name:      "export_errors_total",
				Help:      "Total export errors by sink and error type.",
			},
			[]string{"sink", "error_type"},
		),
		ClickHouseConnected: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "frametimer",
				Name:      "clickhouse_connected",
				Help:      "Whether ClickHouse connection is established (1=yes, 0=no).",
			},
			[]string{"sink"},
		),
	}

	reg.MustRegister(
		h.FramesAdvanced,
		h.CurrentFrame,
		h.FramesOverrun,
		h.FrameDuration,
		h.FrameSamples,
		h.SamplesRecorded,
		h.CapacityHint,
		h.CapacityGrowths,
		h.PeakInstances,
		h.ThreadsRegistered,
		h.SinkExportDuration,
		h.SinkRowsExported,
		h.ExportErrors,
		h.ClickHouseConnected,
	)

	return h
}

// RecordFrame updates the frame metrics from a closed frame. names maps
// event kinds to labels; kinds without a name use their index.
func (h *HealthMetrics) RecordFrame(fs eventtimer.FrameStats, names map[int]string) {
	h.FramesAdvanced.Inc()
	h.CurrentFrame.Set(float64(fs.Frame + 1))
	h.FrameSamples.Observe(float64(fs.Samples))
	h.SamplesRecorded.Add(float64(fs.Samples))

	for e, peak := range fs.Peak {
		h.PeakInstances.WithLabelValues(eventLabel(names, e)).Set(float64(peak))
	}

	for e, hint := range fs.Hints {
		h.CapacityHint.WithLabelValues(eventLabel(names, e)).Set(float64(hint))
	}

	for _, e := range fs.Grown {
		h.CapacityGrowths.WithLabelValues(eventLabel(names, e)).Inc()
	}
}

func eventLabel(names map[int]string, event int) string {
	if name, ok := names[event]; ok && name != "" {
		return name
	}

	return strconv.Itoa(event)
}

// Start begins serving the /metrics endpoint.
func (h *HealthMetrics) Start(_ context.Context) error {
	if h.addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(
		h.registry,
		promhttp.HandlerOpts{},
	))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	// pprof endpoints for profiling the profiler.
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", h.addr, err)
	}

	h.listener = ln

	h.server = &http.Server{
		Handler: mux,
	}

	h.running.Store(true)

	go func() {
		h.log.WithField("addr", ln.Addr().String()).
			Info("Health metrics server started")

		if err := h.server.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			h.log.WithError(err).
				Error("Health metrics server error")
		}

		h.running.Store(false)
	}()

	return nil
}

// Addr returns the actual listener address. Useful when started
// with ":0" to get the OS-assigned port.
func (h *HealthMetrics) Addr() string {
	if h.listener != nil {
		return h.listener.Addr().String()
	}

	return h.addr
}

// Registry returns the registry the metrics are registered with.
func (h *HealthMetrics) Registry() *prometheus.Registry {
	return h.registry
}

// Stop shuts down the health metrics server.
func (h *HealthMetrics) Stop() error {
	if h.server == nil {
		return nil
	}

	return h.server.Close()
}
