package processor

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// processorMetrics holds Prometheus metrics for event application.
type processorMetrics struct {
	eventsApplied  *prometheus.CounterVec
	duplicates     prometheus.Counter
	malformed      prometheus.Counter
	applyFailures  prometheus.Counter
	applyLatency   prometheus.Histogram
	queueDepth     prometheus.Gauge
	droppedInbound prometheus.Counter
}

// Singleton pattern for metrics (avoid double registration in tests).
var (
	procMetricsInstance *processorMetrics
	procMetricsOnce     sync.Once
	procMetricsRegistry = prometheus.DefaultRegisterer
)

func newProcessorMetrics() *processorMetrics {
	procMetricsOnce.Do(func() {
		procMetricsInstance = &processorMetrics{
			eventsApplied: promauto.With(procMetricsRegistry).NewCounterVec(prometheus.CounterOpts{
				Name: "sync_events_applied_total",
				Help: "Total number of events applied by type",
			}, []string{"event_type"}),
			duplicates: promauto.With(procMetricsRegistry).NewCounter(prometheus.CounterOpts{
				Name: "sync_events_duplicate_total",
				Help: "Total number of redelivered events skipped by the idempotency check",
			}),
			malformed: promauto.With(procMetricsRegistry).NewCounter(prometheus.CounterOpts{
				Name: "sync_events_malformed_total",
				Help: "Total number of malformed events dropped and marked processed",
			}),
			applyFailures: promauto.With(procMetricsRegistry).NewCounter(prometheus.CounterOpts{
				Name: "sync_events_apply_failures_total",
				Help: "Total number of transient apply failures left eligible for redelivery",
			}),
			applyLatency: promauto.With(procMetricsRegistry).NewHistogram(prometheus.HistogramOpts{
				Name:    "sync_event_apply_duration_seconds",
				Help:    "Time taken to apply events",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			}),
			queueDepth: promauto.With(procMetricsRegistry).NewGauge(prometheus.GaugeOpts{
				Name: "sync_dispatch_queue_depth",
				Help: "Current number of inbound events waiting for a worker",
			}),
			droppedInbound: promauto.With(procMetricsRegistry).NewCounter(prometheus.CounterOpts{
				Name: "sync_dispatch_dropped_total",
				Help: "Total number of inbound events dropped due to a full queue",
			}),
		}
	})
	return procMetricsInstance
}

// resetMetricsForTesting resets the metrics singleton for test isolation.
// This should only be called from tests.
func resetMetricsForTesting() {
	procMetricsRegistry = prometheus.NewRegistry()
	procMetricsInstance = nil
	procMetricsOnce = sync.Once{}
}
