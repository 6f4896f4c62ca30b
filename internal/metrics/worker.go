// Package metrics exposes Prometheus instrumentation for the ingest worker.
// A nil *WorkerMetrics is valid and records nothing.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// Upload outcomes used as the "outcome" label.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeRetry     = "retry"
	OutcomeSkipped   = "skipped"
)

type WorkerMetrics struct {
	registry *prometheus.Registry

	uploadsTotal     *prometheus.CounterVec
	uploadDuration   *prometheus.HistogramVec
	uploadsInFlight  prometheus.Gauge
	queueLag         prometheus.Histogram
	rowsTotal        *prometheus.CounterVec
	dispatchFailures prometheus.Counter
}

func NewWorkerMetrics() *WorkerMetrics {
	registry := prometheus.NewRegistry()

	uploadsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ledgerdrop",
			Subsystem: "worker",
			Name:      "uploads_total",
			Help:      "Upload job executions by outcome.",
		},
		[]string{"outcome"},
	)
	uploadDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ledgerdrop",
			Subsystem: "worker",
			Name:      "upload_duration_seconds",
			Help:      "Upload job execution time by outcome.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 900, 1800},
		},
		[]string{"outcome"},
	)
	uploadsInFlight := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ledgerdrop",
		Subsystem: "worker",
		Name:      "uploads_in_flight",
		Help:      "Upload jobs currently executing.",
	})
	queueLag := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "ledgerdrop",
		Subsystem: "worker",
		Name:      "queue_lag_seconds",
		Help:      "Delay between upload acceptance and processing start.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
	})
	rowsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ledgerdrop",
			Subsystem: "worker",
			Name:      "rows_total",
			Help:      "Rows handled by the batch processor by outcome.",
		},
		[]string{"outcome"},
	)
	dispatchFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ledgerdrop",
		Subsystem: "worker",
		Name:      "batch_dispatch_failures_total",
		Help:      "Batches whose bulk create call failed.",
	})

	registry.MustRegister(uploadsTotal, uploadDuration, uploadsInFlight, queueLag, rowsTotal, dispatchFailures)

	return &WorkerMetrics{
		registry:         registry,
		uploadsTotal:     uploadsTotal,
		uploadDuration:   uploadDuration,
		uploadsInFlight:  uploadsInFlight,
		queueLag:         queueLag,
		rowsTotal:        rowsTotal,
		dispatchFailures: dispatchFailures,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *WorkerMetrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.WithField("addr", addr).Info("metrics listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (m *WorkerMetrics) StartUpload() {
	if m == nil {
		return
	}
	m.uploadsInFlight.Inc()
}

func (m *WorkerMetrics) FinishUpload(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.uploadsInFlight.Dec()
	m.uploadsTotal.WithLabelValues(outcome).Inc()
	m.uploadDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func (m *WorkerMetrics) ObserveQueueLag(lag time.Duration) {
	if m == nil || lag < 0 {
		return
	}
	m.queueLag.Observe(lag.Seconds())
}

// BatchDone records one batch's rows.
func (m *WorkerMetrics) BatchDone(successful, failed int, dispatchErr error) {
	if m == nil {
		return
	}
	m.rowsTotal.WithLabelValues("successful").Add(float64(successful))
	m.rowsTotal.WithLabelValues("failed").Add(float64(failed))
	if dispatchErr != nil {
		m.dispatchFailures.Inc()
	}
}
