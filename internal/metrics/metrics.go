// Package metrics holds the daemon's Prometheus instruments.
package metrics

import (
	"context"
	"errors"
	log "log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "airpiece"

type Metrics struct {
	registry *prometheus.Registry

	FramesDropped      prometheus.Counter
	SequenceGaps       prometheus.Counter
	ClassifierFailures prometheus.Counter
	IdleTimeouts       prometheus.Counter
	// Utterances is labelled by result: emitted, discarded, dropped, gated.
	Utterances    *prometheus.CounterVec
	Commands      *prometheus.CounterVec
	StageErrors   *prometheus.CounterVec
	HandleSeconds prometheus.Histogram
	Listening     prometheus.Gauge
	CameraEnabled prometheus.Gauge
}

// New registers every instrument on a fresh registry, alongside the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		FramesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Audio frames evicted from the capture queue because the consumer fell behind",
		}),
		SequenceGaps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frame_sequence_gaps_total",
			Help:      "Discontinuities in frame sequence numbers seen by the consumer",
		}),
		ClassifierFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifier_failures_total",
			Help:      "Frames forced to silence after a speech detector failure",
		}),
		IdleTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "idle_timeouts_total",
			Help:      "Idle-timeout signals raised by the segmenter",
		}),
		Utterances: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_total",
			Help:      "Speech candidates by outcome",
		}, []string{"result"}),
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Dispatched actions",
		}, []string{"action", "source"}),
		StageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_errors_total",
			Help:      "Failed pipeline stages",
		}, []string{"stage"}),
		HandleSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "utterance_handle_seconds",
			Help:      "Time from a finalized utterance to the end of its reply",
			Buckets:   []float64{.25, .5, 1, 2, 4, 8, 15, 30, 60},
		}),
		Listening: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "listening",
			Help:      "1 while active, 0 while sleeping",
		}),
		CameraEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "camera_enabled",
			Help:      "1 while the camera is unmuted",
		}),
	}

	reg.MustRegister(
		m.FramesDropped,
		m.SequenceGaps,
		m.ClassifierFailures,
		m.IdleTimeouts,
		m.Utterances,
		m.Commands,
		m.StageErrors,
		m.HandleSeconds,
		m.Listening,
		m.CameraEnabled,
	)

	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info("Metrics listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// SetMode records the operating mode flags.
func (m *Metrics) SetMode(listening, cameraEnabled bool) {
	m.Listening.Set(boolGauge(listening))
	m.CameraEnabled.Set(boolGauge(cameraEnabled))
}
